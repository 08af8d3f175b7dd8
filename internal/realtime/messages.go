// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_realtime

// Wire vocabulary for the realtime speech endpoint: newline-free JSON objects
// with a "type" discriminator, both directions.

// Client -> endpoint message types.
const (
	msgSessionUpdate  = "session.update"
	msgAudioAppend    = "input_audio_buffer.append"
	msgAudioCommit    = "input_audio_buffer.commit"
	msgAudioClear     = "input_audio_buffer.clear"
	msgResponseCreate = "response.create"
	msgResponseCancel = "response.cancel"
	msgItemCreate     = "conversation.item.create"
)

// Endpoint -> client event types.
const (
	evSessionCreated      = "session.created"
	evSessionUpdated      = "session.updated"
	evResponseCreated     = "response.created"
	evResponseDone        = "response.done"
	evAudioDelta          = "response.audio.delta"
	evAudioDone           = "response.audio.done"
	evAudioTranscriptDone = "response.audio_transcript.done"
	evSpeechStarted       = "input_audio_buffer.speech_started"
	evSpeechStopped       = "input_audio_buffer.speech_stopped"
	evTranscriptionDone   = "conversation.item.input_audio_transcription.completed"
	evFunctionCallDone    = "response.function_call_arguments.done"
	evError               = "error"
)

// clientEvent is the outbound envelope. Only the fields relevant to the
// event's type are populated; everything else stays omitted on the wire.
type clientEvent struct {
	Type     string            `json:"type"`
	Session  *SessionConfig    `json:"session,omitempty"`
	Audio    string            `json:"audio,omitempty"` // base64 PCM16 for audio-append
	Response *responseParams   `json:"response,omitempty"`
	Item     *conversationItem `json:"item,omitempty"`
}

// SessionConfig is the session-configure payload sent once per connection
// (and again after every reconnect).
type SessionConfig struct {
	Modalities              []string             `json:"modalities,omitempty"`
	Instructions            string               `json:"instructions,omitempty"`
	Voice                   string               `json:"voice,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string               `json:"output_audio_format,omitempty"`
	InputAudioTranscription *TranscriptionConfig `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection       `json:"turn_detection,omitempty"`
	Tools                   []Tool               `json:"tools,omitempty"`
	ToolChoice              string               `json:"tool_choice,omitempty"`
	Temperature             float64              `json:"temperature,omitempty"`
}

// TranscriptionConfig selects the endpoint-side transcription model.
type TranscriptionConfig struct {
	Model string `json:"model"`
}

// TurnDetection carries the server-VAD thresholds.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

// Tool declares one callable function in the session's tool schema.
type Tool struct {
	Type        string                 `json:"type"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// responseParams carries inline spoken instructions for one response.
type responseParams struct {
	Instructions string `json:"instructions,omitempty"`
}

// conversationItem creates system/user messages and tool results.
type conversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []itemContent `json:"content,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
}

type itemContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// serverEvent is the inbound envelope. The endpoint multiplexes many event
// shapes over one stream; unknown fields are ignored, unknown types logged.
type serverEvent struct {
	Type       string          `json:"type"`
	EventID    string          `json:"event_id,omitempty"`
	ResponseID string          `json:"response_id,omitempty"`
	ItemID     string          `json:"item_id,omitempty"`
	Delta      string          `json:"delta,omitempty"`
	Transcript string          `json:"transcript,omitempty"`
	Name       string          `json:"name,omitempty"`
	CallID     string          `json:"call_id,omitempty"`
	Arguments  string          `json:"arguments,omitempty"`
	Response   *serverResponse `json:"response,omitempty"`
	Error      *serverError    `json:"error,omitempty"`
}

type serverResponse struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
}

type serverError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// responseID returns the response identifier regardless of which envelope
// field the endpoint used for this event type.
func (e *serverEvent) responseID() string {
	if e.Response != nil && e.Response.ID != "" {
		return e.Response.ID
	}
	return e.ResponseID
}
