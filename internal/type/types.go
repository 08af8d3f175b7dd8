// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_type

import (
	"context"
	"time"
)

// ============================================================================
// Observable session packets
// ============================================================================

// Packet is the marker interface for everything the session engine publishes
// to its observer: lifecycle changes, transcript lines, booking updates.
type Packet interface {
	isPacket()
}

// ConnectedPacket is published once the AI session is configured and live.
type ConnectedPacket struct {
	SessionID string
	Language  string
}

// DisconnectedPacket is published when the duplex connection goes away for
// good (after the reconnect budget, or on explicit disposal).
type DisconnectedPacket struct {
	Reason string
}

// ResponseStartedPacket marks the beginning of one AI response cycle.
type ResponseStartedPacket struct {
	ResponseID string
}

// ResponseCompletedPacket marks the end of one AI response cycle.
type ResponseCompletedPacket struct {
	ResponseID string
}

// TranscriptPacket carries one completed transcript line, already passed
// through the correction dictionaries.
type TranscriptPacket struct {
	Role string // "user" or "assistant"
	Text string
}

// SpeakingDeltaPacket reports that outbound AI audio was received; observers
// use it for talk-time accounting, the audio itself goes to the pipeline.
type SpeakingDeltaPacket struct {
	Bytes int
}

// BookingUpdatedPacket is published whenever the orchestrator mutates the
// booking record.
type BookingUpdatedPacket struct {
	Fields map[string]interface{}
}

// CallEndedPacket is published exactly once per call.
type CallEndedPacket struct {
	Reason string
}

func (ConnectedPacket) isPacket()         {}
func (DisconnectedPacket) isPacket()      {}
func (ResponseStartedPacket) isPacket()   {}
func (ResponseCompletedPacket) isPacket() {}
func (TranscriptPacket) isPacket()        {}
func (SpeakingDeltaPacket) isPacket()     {}
func (BookingUpdatedPacket) isPacket()    {}
func (CallEndedPacket) isPacket()         {}

// Observer receives session packets. Implementations must not block; the
// engine calls OnPacket from its receive loop.
type Observer interface {
	OnPacket(ctx context.Context, p Packet)
}

// ============================================================================
// Engine surfaces
// ============================================================================

// Conversation is the slice of the session engine exposed to the task
// orchestrator. Every path that asks the endpoint for a new turn goes through
// RequestResponse so the single-active-response invariant holds.
type Conversation interface {
	// SendToolResult delivers a tool output item for the given endpoint call
	// id and does NOT itself request a continuation.
	SendToolResult(callID string, payload interface{}) error

	// SendSystemMessage injects a system conversation item.
	SendSystemMessage(text string) error

	// RequestResponse is the only gated path to response creation.
	RequestResponse(delay time.Duration, waitForCurrent bool, maxWait time.Duration)

	// SetAwaitingConfirmation toggles the yes/no confirmation window, which
	// lengthens the no-reply watchdog and bypasses the inbound echo guard.
	SetAwaitingConfirmation(pending bool)

	// ArmPostBookingWatchdog starts the post-booking silence hangup poll.
	ArmPostBookingWatchdog()

	// IgnoreCallerAudio stops forwarding inbound audio for the rest of the call.
	IgnoreCallerAudio()

	// EndCall signals call termination. Idempotent.
	EndCall(reason string)

	// EmitBookingUpdated publishes a BookingUpdatedPacket to the observer.
	EmitBookingUpdated(fields map[string]interface{})

	// Language returns the detected spoken-language code for this call.
	Language() string
}

// ToolHandler consumes tool invocations decoded from the wire.
type ToolHandler interface {
	// HandleToolInvocation runs one named tool call. args is the decoded
	// arguments object; callID correlates the tool result on the wire.
	HandleToolInvocation(ctx context.Context, name, callID string, args map[string]interface{})

	// HandleAffirmative is invoked when the user utters an affirmative phrase
	// while no response is active; it recovers a confirmation that arrived
	// too late for the model to act on.
	HandleAffirmative(ctx context.Context)

	// Reset clears accumulated per-call state at session start.
	Reset()
}

// Player is the outbound-audio surface the engine clears on barge-in.
type Player interface {
	ClearPlayback()
}

// Clock abstracts time for watchdog and pacing tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ============================================================================
// External collaborators
// ============================================================================

// GeoFields is the geocoded resolution of one spoken address.
type GeoFields struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Street      string  `json:"street"`
	HouseNumber string  `json:"house_number"`
	PostalCode  string  `json:"postal_code"`
	City        string  `json:"city"`
}

// Quote is the pricing collaborator's answer for one trip.
type Quote struct {
	Fare        float64    `json:"fare"`
	Currency    string     `json:"currency"`
	ETAMinutes  int        `json:"eta_minutes"`
	Pickup      *GeoFields `json:"pickup,omitempty"`
	Destination *GeoFields `json:"destination,omitempty"`
}

// BookingDetails is the dispatch-facing projection of a booking record.
type BookingDetails struct {
	Reference      string     `json:"reference"`
	CallerName     string     `json:"caller_name"`
	CallerPhone    string     `json:"caller_phone"`
	PickupText     string     `json:"pickup_text"`
	PickupGeo      *GeoFields `json:"pickup_geo,omitempty"`
	DestinationTxt string     `json:"destination_text"`
	DestinationGeo *GeoFields `json:"destination_geo,omitempty"`
	Passengers     int        `json:"passengers"`
	PickupTime     string     `json:"pickup_time"`
	Fare           float64    `json:"fare"`
	ETAMinutes     int        `json:"eta_minutes"`
}

// Pricing resolves addresses and computes fare and ETA for a trip.
type Pricing interface {
	Quote(ctx context.Context, pickup, destination, callerID string) (*Quote, error)
}

// Dispatcher hands a confirmed booking to the fleet. Fire-and-forget.
type Dispatcher interface {
	Dispatch(ctx context.Context, details BookingDetails, callerID string) error
}

// Notifier sends the post-booking notification to the caller. Fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, callerID string) error
}
