// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_booking

import (
	"context"
	"sync"
	"time"

	internal_type "github.com/maxparsons123/happy-ride-helper-sub000/internal/type"
	"github.com/maxparsons123/happy-ride-helper-sub000/pkg/commons"
	"github.com/maxparsons123/happy-ride-helper-sub000/pkg/utils"
)

// Config carries the orchestrator tuning. Zero values select the defaults.
type Config struct {
	QuoteTimeout     time.Duration
	DispatchTimeout  time.Duration
	FallbackFare     float64
	FallbackCurrency string
	FallbackETA      int // minutes

	// ContinuationWait bounds how long a tool result waits for the model's
	// current response before its follow-up turn is deferred.
	ContinuationWait time.Duration
}

func (c *Config) applyDefaults() {
	if c.QuoteTimeout == 0 {
		c.QuoteTimeout = 6 * time.Second
	}
	if c.DispatchTimeout == 0 {
		c.DispatchTimeout = 10 * time.Second
	}
	if c.FallbackFare == 0 {
		c.FallbackFare = 15
	}
	if c.FallbackCurrency == "" {
		c.FallbackCurrency = "EUR"
	}
	if c.FallbackETA == 0 {
		c.FallbackETA = 10
	}
	if c.ContinuationWait == 0 {
		c.ContinuationWait = 3 * time.Second
	}
}

// Orchestrator executes the model's tool calls against the booking record and
// the external collaborators. One instance per session; the record resets at
// call start. Every follow-up turn goes through the engine's gated
// RequestResponse, never a raw response-creation message.
type Orchestrator struct {
	logger   commons.Logger
	conv     internal_type.Conversation
	pricing  internal_type.Pricing
	dispatch internal_type.Dispatcher
	notifier internal_type.Notifier
	clock    internal_type.Clock
	cfg      Config

	mu       sync.Mutex
	record   Record
	callerID string
}

func NewOrchestrator(logger commons.Logger, conv internal_type.Conversation, pricing internal_type.Pricing, dispatch internal_type.Dispatcher, notifier internal_type.Notifier, clock internal_type.Clock, cfg Config) *Orchestrator {
	cfg.applyDefaults()
	if clock == nil {
		clock = internal_type.SystemClock{}
	}
	return &Orchestrator{
		logger:   logger,
		conv:     conv,
		pricing:  pricing,
		dispatch: dispatch,
		notifier: notifier,
		clock:    clock,
		cfg:      cfg,
	}
}

// BindCaller attaches the caller identity for this call.
func (o *Orchestrator) BindCaller(callerID string) {
	o.mu.Lock()
	o.callerID = callerID
	o.record.CallerPhone = callerID
	o.mu.Unlock()
}

// Reset clears the accumulated booking state at session start.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	caller := o.callerID
	o.record = Record{CallerPhone: caller}
	o.mu.Unlock()
}

// Snapshot returns a copy of the current booking record.
func (o *Orchestrator) Snapshot() Record {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.record
}

// ============================================================================
// Tool dispatch
// ============================================================================

// HandleToolInvocation runs one named tool call end to end: state change,
// tool result, follow-up turn.
func (o *Orchestrator) HandleToolInvocation(ctx context.Context, name, callID string, args map[string]interface{}) {
	o.logger.Info("tool invocation", "tool", name, "call", callID)

	switch name {
	case ToolSyncBookingData:
		o.syncBookingData(callID, args)
	case ToolBookTaxi:
		switch stringArg(args, "action") {
		case actionRequestQuote:
			o.requestQuote(ctx, callID)
		case actionConfirmed:
			o.confirmBooking(ctx, callID)
		default:
			o.respondError(callID, "unknown book_taxi action, use request_quote or confirmed")
		}
	case ToolEndCall:
		o.endCall(callID, stringArg(args, "reason"))
	default:
		o.logger.Warn("unknown tool requested", "tool", name)
		o.respondError(callID, "unknown tool "+name)
	}
}

// HandleAffirmative recovers a confirmation the model never saw: the caller
// said yes after the tool window closed. It finalises the booking exactly as
// book_taxi(confirmed) would, announcing the result as a system line instead
// of a tool output.
func (o *Orchestrator) HandleAffirmative(ctx context.Context) {
	o.mu.Lock()
	awaiting := o.record.AwaitingConfirmation && !o.record.Confirmed
	o.mu.Unlock()
	if !awaiting {
		return
	}
	o.logger.Info("finalising booking from late caller confirmation")
	o.confirmBooking(ctx, "")
}

// ============================================================================
// sync_booking_data
// ============================================================================

func (o *Orchestrator) syncBookingData(callID string, args map[string]interface{}) {
	changed := map[string]interface{}{}

	o.mu.Lock()
	if v := stringArg(args, "name"); v != "" && v != o.record.CallerName {
		o.record.CallerName = v
		changed["name"] = v
	}
	if v := stringArg(args, "pickup_address"); v != "" {
		if o.record.SetPickup(v) {
			changed["pickup_address"] = v
		}
	}
	if v := stringArg(args, "destination_address"); v != "" {
		if o.record.SetDestination(v) {
			changed["destination_address"] = v
		}
	}
	if n, ok := intArg(args, "passengers"); ok && n > 0 && n != o.record.Passengers {
		o.record.Passengers = n
		changed["passengers"] = n
	}
	if v := stringArg(args, "pickup_time"); v != "" && v != o.record.PickupTime {
		o.record.PickupTime = v
		changed["pickup_time"] = v
	}
	o.mu.Unlock()

	if len(changed) > 0 {
		o.conv.EmitBookingUpdated(changed)
	}
	o.respond(callID, map[string]interface{}{"status": "updated", "fields": fieldNames(changed)})
}

// ============================================================================
// book_taxi
// ============================================================================

func (o *Orchestrator) requestQuote(ctx context.Context, callID string) {
	o.mu.Lock()
	ready := o.record.ReadyToBook()
	pickup, destination := o.record.PickupText, o.record.DestinationText
	caller := o.callerID
	o.mu.Unlock()

	if !ready {
		o.respondError(callID, "pickup and destination are both required before quoting")
		return
	}

	quoteCtx, cancel := context.WithTimeout(ctx, o.cfg.QuoteTimeout)
	defer cancel()
	quote, err := o.pricing.Quote(quoteCtx, pickup, destination, caller)
	if err != nil {
		// The caller hears a fare either way; a pricing outage must not
		// stall the conversation.
		o.logger.Warn("pricing lookup failed, using fallback fare", "error", err)
		quote = &internal_type.Quote{
			Fare:       o.cfg.FallbackFare,
			Currency:   o.cfg.FallbackCurrency,
			ETAMinutes: o.cfg.FallbackETA,
		}
	}

	o.mu.Lock()
	o.record.Fare = quote.Fare
	o.record.Currency = quote.Currency
	o.record.ETAMinutes = quote.ETAMinutes
	if quote.Pickup != nil {
		o.record.PickupGeo = quote.Pickup
	}
	if quote.Destination != nil {
		o.record.DestinationGeo = quote.Destination
	}
	o.record.AwaitingConfirmation = true
	o.mu.Unlock()

	o.conv.SetAwaitingConfirmation(true)
	o.conv.EmitBookingUpdated(map[string]interface{}{
		"fare":        quote.Fare,
		"currency":    quote.Currency,
		"eta_minutes": quote.ETAMinutes,
	})
	o.respond(callID, map[string]interface{}{
		"status":      "quoted",
		"fare":        quote.Fare,
		"currency":    quote.Currency,
		"eta_minutes": quote.ETAMinutes,
		"message":     "Tell the caller the fare and the pickup ETA, then ask them to confirm the booking.",
	})
}

func (o *Orchestrator) confirmBooking(ctx context.Context, callID string) {
	o.mu.Lock()
	if !o.record.ReadyToBook() {
		o.mu.Unlock()
		o.respondError(callID, "pickup and destination are both required before booking")
		return
	}
	if !o.record.Confirmed {
		o.record.Confirmed = true
		o.record.Reference = newReference(o.clock.Now())
	}
	o.record.AwaitingConfirmation = false
	record := o.record
	caller := o.callerID
	o.mu.Unlock()

	o.conv.SetAwaitingConfirmation(false)
	o.conv.EmitBookingUpdated(map[string]interface{}{
		"confirmed": true,
		"reference": record.Reference,
	})

	// Fleet handover and caller notification happen off the call path:
	// failures are logged, never spoken, never retried inline.
	details := record.Details()
	utils.Go(ctx, func() {
		dctx, cancel := context.WithTimeout(context.Background(), o.cfg.DispatchTimeout)
		defer cancel()
		if err := o.dispatch.Dispatch(dctx, details, caller); err != nil {
			o.logger.Error("booking dispatch failed", "reference", details.Reference, "error", err)
		}
	})
	utils.Go(ctx, func() {
		nctx, cancel := context.WithTimeout(context.Background(), o.cfg.DispatchTimeout)
		defer cancel()
		if err := o.notifier.Notify(nctx, caller); err != nil {
			o.logger.Warn("booking notification failed", "reference", details.Reference, "error", err)
		}
	})

	payload := map[string]interface{}{
		"status":    "booked",
		"reference": record.Reference,
		"message":   "Give the caller the booking reference, wish them a good trip and say goodbye.",
	}
	if callID != "" {
		o.respond(callID, payload)
	} else {
		// Synthesized confirmation turn: no tool call to answer, so the
		// outcome is injected as a system line before the follow-up turn.
		if err := o.conv.SendSystemMessage("The caller confirmed the booking. It is booked under reference " + record.Reference + ". Give them the reference and say goodbye."); err != nil {
			o.logger.Warn("failed to inject confirmation line", "error", err)
		}
		o.conv.RequestResponse(0, true, o.cfg.ContinuationWait)
	}

	o.conv.ArmPostBookingWatchdog()
}

// ============================================================================
// end_call
// ============================================================================

func (o *Orchestrator) endCall(callID, reason string) {
	if reason == "" {
		reason = "conversation complete"
	}
	o.conv.IgnoreCallerAudio()
	if err := o.conv.SendToolResult(callID, map[string]interface{}{"status": "ok"}); err != nil {
		o.logger.Warn("failed to send end_call result", "error", err)
	}
	o.conv.EndCall(reason)
}

// ============================================================================
// Helpers
// ============================================================================

// respond sends the tool result and requests the follow-up turn through the
// gated path.
func (o *Orchestrator) respond(callID string, payload map[string]interface{}) {
	if err := o.conv.SendToolResult(callID, payload); err != nil {
		o.logger.Warn("failed to send tool result", "error", err)
	}
	o.conv.RequestResponse(0, true, o.cfg.ContinuationWait)
}

// respondError returns a structured error payload; the follow-up turn is
// still requested so the model can recover conversationally.
func (o *Orchestrator) respondError(callID, message string) {
	o.respond(callID, map[string]interface{}{"status": "error", "message": message})
}

func stringArg(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func intArg(args map[string]interface{}, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

func fieldNames(changed map[string]interface{}) []string {
	names := make([]string, 0, len(changed))
	for k := range changed {
		names = append(names, k)
	}
	return names
}

var _ internal_type.ToolHandler = (*Orchestrator)(nil)
