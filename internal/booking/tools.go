// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_booking

import (
	internal_realtime "github.com/maxparsons123/happy-ride-helper-sub000/internal/realtime"
)

// Tool names as they appear in the session's tool schema and on the wire.
const (
	ToolSyncBookingData = "sync_booking_data"
	ToolBookTaxi        = "book_taxi"
	ToolEndCall         = "end_call"

	actionRequestQuote = "request_quote"
	actionConfirmed    = "confirmed"
)

// ToolSchema declares the orchestrator's tools for the session configuration.
// The model fills arguments from the conversation; nothing here is spoken.
func ToolSchema() []internal_realtime.Tool {
	return []internal_realtime.Tool{
		{
			Type:        "function",
			Name:        ToolSyncBookingData,
			Description: "Store or update booking details the caller has provided so far. Call this as soon as any detail is heard, even partially.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"name":                map[string]interface{}{"type": "string", "description": "Caller's name"},
					"pickup_address":      map[string]interface{}{"type": "string", "description": "Pickup address as spoken"},
					"destination_address": map[string]interface{}{"type": "string", "description": "Destination address as spoken"},
					"passengers":          map[string]interface{}{"type": "integer", "description": "Number of passengers"},
					"pickup_time":         map[string]interface{}{"type": "string", "description": "Requested pickup time, 'now' for immediate"},
				},
			},
		},
		{
			Type:        "function",
			Name:        ToolBookTaxi,
			Description: "Request a fare quote once pickup and destination are known (action=request_quote), or finalise the booking after the caller agreed to the quoted fare (action=confirmed).",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"action": map[string]interface{}{
						"type": "string",
						"enum": []string{actionRequestQuote, actionConfirmed},
					},
				},
				"required": []string{"action"},
			},
		},
		{
			Type:        "function",
			Name:        ToolEndCall,
			Description: "Hang up the call. Only after saying goodbye, or when the caller asked to stop.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"reason": map[string]interface{}{"type": "string"},
				},
			},
		},
	}
}
