// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	internal_locale "github.com/maxparsons123/happy-ride-helper-sub000/internal/locale"
	internal_type "github.com/maxparsons123/happy-ride-helper-sub000/internal/type"
	"github.com/maxparsons123/happy-ride-helper-sub000/pkg/commons"
	"github.com/maxparsons123/happy-ride-helper-sub000/pkg/utils"
)

// AudioSink is the outbound-audio surface the engine drives: the per-call
// audio pipeline in production, a recorder in tests.
type AudioSink interface {
	HandleAIAudio(pcm24kBytes []byte)
	FlushTail()
	ClearPlayback()
	SetConfirmationPending(pending bool)
	LastAISpeech() time.Time
}

// wire is the minimal duplex-connection surface the engine needs.
// *websocket.Conn satisfies it; tests substitute a scripted fake.
type wire interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

type dialFunc func(ctx context.Context, url string, header http.Header) (wire, error)

// Options carries the session tuning. Historical engine variants disagreed on
// several of these values; they are configuration constants now, with the
// bug-fixed behaviour as default.
type Options struct {
	APIKey             string
	URL                string // derived from Model when empty
	Model              string
	Voice              string
	Temperature        float64
	SystemPrompt       string
	TranscriptionModel string
	TurnDetection      TurnDetection
	Tools              []Tool

	ConnectTimeout    time.Duration
	ReconnectAttempts int
	ReconnectBackoff  time.Duration

	// EchoGuardGrace is the window after the last AI audio delta during
	// which a speech-started event is treated as line echo, not barge-in.
	EchoGuardGrace time.Duration

	// ClearInputOnEveryResponse restores the pre-fix behaviour of clearing
	// the input buffer on every response.created. The default clears only
	// when no user transcript is pending, which avoids clipping
	// mid-utterance audio.
	ClearInputOnEveryResponse bool

	NoReplyTimeout        time.Duration
	NoReplyConfirmTimeout time.Duration // while a yes/no confirmation is pending
	GoodbyeGrace          time.Duration
	PostBookingSilence    time.Duration

	// ResponseWaitPoll is the poll interval inside RequestResponse's bounded
	// wait for the current response.
	ResponseWaitPoll time.Duration
}

func (o *Options) applyDefaults() {
	if o.Model == "" {
		o.Model = "gpt-4o-realtime-preview"
	}
	if o.URL == "" {
		o.URL = "wss://api.openai.com/v1/realtime?model=" + o.Model
	}
	if o.Voice == "" {
		o.Voice = "alloy"
	}
	if o.Temperature == 0 {
		o.Temperature = 0.8
	}
	if o.TranscriptionModel == "" {
		o.TranscriptionModel = "whisper-1"
	}
	if o.TurnDetection.Type == "" {
		o.TurnDetection = TurnDetection{Type: "server_vad", Threshold: 0.5, PrefixPaddingMs: 300, SilenceDurationMs: 500}
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.ReconnectAttempts == 0 {
		o.ReconnectAttempts = 3
	}
	if o.ReconnectBackoff == 0 {
		o.ReconnectBackoff = 500 * time.Millisecond
	}
	if o.EchoGuardGrace == 0 {
		o.EchoGuardGrace = time.Second
	}
	if o.NoReplyTimeout == 0 {
		o.NoReplyTimeout = 9 * time.Second
	}
	if o.NoReplyConfirmTimeout == 0 {
		o.NoReplyConfirmTimeout = 15 * time.Second
	}
	if o.GoodbyeGrace == 0 {
		o.GoodbyeGrace = 4 * time.Second
	}
	if o.PostBookingSilence == 0 {
		o.PostBookingSilence = 10 * time.Second
	}
	if o.ResponseWaitPoll == 0 {
		o.ResponseWaitPoll = 50 * time.Millisecond
	}
}

// Session owns one call's duplex connection to the speech endpoint and the
// turn-taking state machine on top of it. One Session serves one call at a
// time; Dispose makes it permanently unusable.
type Session struct {
	logger   commons.Logger
	opts     Options
	locale   *internal_locale.Table
	clock    internal_type.Clock
	observer internal_type.Observer
	sink     AudioSink
	tools    internal_type.ToolHandler
	dial     dialFunc
	schedule scheduleFunc

	// Connection state. writeMu serialises wire writes; mu guards the rest.
	mu      sync.Mutex
	writeMu sync.Mutex
	conn    wire

	ctx    context.Context
	cancel context.CancelFunc

	callerID string
	language string

	// Lifecycle flags. callEnded resets per call; disposed never does.
	connected atomic.Bool
	disposed  atomic.Bool
	callEnded atomic.Bool

	ignoreAudio          atomic.Bool
	transcriptPending    atomic.Bool
	responseActive       atomic.Bool
	awaitingConfirmation atomic.Bool

	// Response cycle bookkeeping (under mu).
	activeResponseID string
	lastCompletedID  string

	// Timestamps as unix nanos for lock-free reads from watchdog pollers.
	aiFinishedNano    atomic.Int64
	speechStartedNano atomic.Int64
	speechStoppedNano atomic.Int64

	// Response-creation gating.
	responseQueued   atomic.Bool
	responseDeferred atomic.Bool
	deferredPrompt   string // under mu

	greetingPending atomic.Bool
	greetingPrompt  string // under mu

	noReply        *watchdog
	goodbye        *watchdog
	postBookingGen atomic.Uint64
}

// NewSession builds a session engine. observer may be nil; the tool handler
// is attached separately because the orchestrator needs the session first.
func NewSession(logger commons.Logger, opts Options, table *internal_locale.Table, clock internal_type.Clock, observer internal_type.Observer, sink AudioSink) *Session {
	opts.applyDefaults()
	if clock == nil {
		clock = internal_type.SystemClock{}
	}
	if table == nil {
		table = internal_locale.NewDefaultTable()
	}
	s := &Session{
		logger:   logger,
		opts:     opts,
		locale:   table,
		clock:    clock,
		observer: observer,
		sink:     sink,
		dial:     gorillaDial,
	}
	s.schedule = timerSchedule
	s.noReply = newWatchdog(s.schedule)
	s.goodbye = newWatchdog(s.schedule)
	return s
}

// SetToolHandler attaches the task orchestrator.
func (s *Session) SetToolHandler(handler internal_type.ToolHandler) {
	s.tools = handler
}

func gorillaDial(ctx context.Context, url string, header http.Header) (wire, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 30 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(10 * 1024 * 1024)
	return conn, nil
}

// ============================================================================
// Connection lifecycle
// ============================================================================

// Connect opens the duplex connection for one call, sends the session
// configuration and arms the localized greeting. The greeting itself fires
// once the endpoint acknowledges the configuration.
func (s *Session) Connect(ctx context.Context, callerID string) error {
	if s.disposed.Load() {
		return fmt.Errorf("session already disposed")
	}
	if s.connected.Load() {
		return fmt.Errorf("session already connected")
	}

	s.resetCallState()

	lang := s.locale.DetectLanguage(callerID)
	s.mu.Lock()
	s.callerID = callerID
	s.language = lang
	s.greetingPrompt = s.locale.Greeting(lang)
	s.mu.Unlock()
	s.greetingPending.Store(true)

	// The session owns its context so cleanup is not short-circuited by the
	// caller's context ending first.
	s.ctx, s.cancel = context.WithCancel(context.Background())

	dialCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()
	if err := s.openAndConfigure(dialCtx); err != nil {
		s.cancel()
		return err
	}

	if s.tools != nil {
		s.tools.Reset()
	}
	s.logger.Info("session connected", "caller", callerID, "language", lang)
	return nil
}

func (s *Session) resetCallState() {
	s.callEnded.Store(false)
	s.ignoreAudio.Store(false)
	s.transcriptPending.Store(false)
	s.responseActive.Store(false)
	s.awaitingConfirmation.Store(false)
	s.responseQueued.Store(false)
	s.responseDeferred.Store(false)
	s.aiFinishedNano.Store(0)
	s.speechStartedNano.Store(0)
	s.speechStoppedNano.Store(0)
	s.postBookingGen.Add(1)

	s.mu.Lock()
	s.activeResponseID = ""
	s.lastCompletedID = ""
	s.deferredPrompt = ""
	s.mu.Unlock()
}

// openAndConfigure dials, installs the connection, starts the receive loop
// and sends the session-configuration message. Shared by Connect and the
// reconnect path.
func (s *Session) openAndConfigure(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.opts.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, err := s.dial(ctx, s.opts.URL, header)
	if err != nil {
		return fmt.Errorf("failed to open realtime connection: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.connected.Store(true)

	utils.Go(s.ctx, func() { s.receiveLoop(conn) })

	if err := s.sendSessionConfig(); err != nil {
		return err
	}
	return nil
}

func (s *Session) sendSessionConfig() error {
	return s.send(clientEvent{
		Type: msgSessionUpdate,
		Session: &SessionConfig{
			Modalities:              []string{"audio", "text"},
			Instructions:            s.opts.SystemPrompt,
			Voice:                   s.opts.Voice,
			InputAudioFormat:        "pcm16",
			OutputAudioFormat:       "pcm16",
			InputAudioTranscription: &TranscriptionConfig{Model: s.opts.TranscriptionModel},
			TurnDetection:           &s.opts.TurnDetection,
			Tools:                   s.opts.Tools,
			ToolChoice:              "auto",
			Temperature:             s.opts.Temperature,
		},
	})
}

// Disconnect tears the connection down. Idempotent; safe from any goroutine.
func (s *Session) Disconnect() {
	if !s.connected.CompareAndSwap(true, false) {
		return
	}
	s.noReply.Disarm()
	s.goodbye.Disarm()
	s.postBookingGen.Add(1)

	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		s.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		_ = conn.Close()
	}
	s.publish(internal_type.DisconnectedPacket{Reason: "disconnect"})
	s.logger.Info("session disconnected", "caller", s.callerID)
}

// Dispose permanently retires the session object.
func (s *Session) Dispose() {
	s.disposed.Store(true)
	s.Disconnect()
}

// ============================================================================
// Caller audio
// ============================================================================

// SendCallerAudio forwards one converted caller audio block (24kHz PCM16LE)
// to the endpoint. Silently drops when not connected or while audio input is
// ignored after end_call.
func (s *Session) SendCallerAudio(pcm24kBytes []byte) error {
	if !s.connected.Load() || s.ignoreAudio.Load() || len(pcm24kBytes) == 0 {
		return nil
	}
	return s.send(clientEvent{
		Type:  msgAudioAppend,
		Audio: base64.StdEncoding.EncodeToString(pcm24kBytes),
	})
}

// ============================================================================
// Receive loop
// ============================================================================

func (s *Session) receiveLoop(conn wire) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.disposed.Load() || s.ctx.Err() != nil || !s.connected.Load() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("realtime connection closed normally")
				s.Disconnect()
				return
			}
			s.logger.Warn("realtime connection lost", "error", err)
			if !s.reconnect() {
				s.EndCall("connection lost")
				s.Disconnect()
			}
			return
		}

		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			s.logger.Warn("undecodable server event", "error", err)
			continue
		}
		s.handleServerEvent(&ev)
	}
}

// reconnect retries the connection with exponential backoff, re-sending the
// session configuration and re-arming a resume prompt on success.
func (s *Session) reconnect() bool {
	backoff := s.opts.ReconnectBackoff
	for attempt := 1; attempt <= s.opts.ReconnectAttempts; attempt++ {
		select {
		case <-s.ctx.Done():
			return false
		case <-time.After(backoff):
		}
		backoff *= 2

		dialCtx, cancel := context.WithTimeout(s.ctx, s.opts.ConnectTimeout)
		err := func() error {
			defer cancel()
			s.mu.Lock()
			s.greetingPrompt = "Briefly apologise for the interruption in the caller's language and continue the booking where you left off."
			s.mu.Unlock()
			s.greetingPending.Store(true)
			s.responseActive.Store(false)
			s.transcriptPending.Store(false)
			return s.openAndConfigure(dialCtx)
		}()
		if err == nil {
			s.logger.Info("realtime connection re-established", "attempt", attempt)
			return true
		}
		s.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
	}
	return false
}

func (s *Session) handleServerEvent(ev *serverEvent) {
	switch ev.Type {
	case evSessionCreated:
		s.publish(internal_type.ConnectedPacket{SessionID: ev.EventID, Language: s.Language()})
		s.fireGreeting()
	case evSessionUpdated:
		s.fireGreeting()
	case evSpeechStarted:
		s.onSpeechStarted()
	case evSpeechStopped:
		s.onSpeechStopped()
	case evResponseCreated:
		s.onResponseCreated(ev.responseID())
	case evResponseDone:
		s.onResponseDone(ev.responseID())
	case evAudioDelta:
		s.onAudioDelta(ev.Delta)
	case evAudioDone:
		s.sink.FlushTail()
	case evAudioTranscriptDone:
		s.onAITranscript(ev.Transcript)
	case evTranscriptionDone:
		s.onUserTranscript(ev.Transcript)
	case evFunctionCallDone:
		s.onFunctionCall(ev.Name, ev.CallID, ev.Arguments)
	case evError:
		s.onEndpointError(ev.Error)
	default:
		s.logger.Debug("unhandled server event", "type", ev.Type)
	}
}

// fireGreeting triggers the initial localized greeting exactly once per
// connection, after the endpoint acknowledged the configuration.
func (s *Session) fireGreeting() {
	if !s.greetingPending.CompareAndSwap(true, false) {
		return
	}
	s.mu.Lock()
	prompt := s.greetingPrompt
	s.mu.Unlock()
	s.requestResponse(prompt, 0, false, 0)
}

// ============================================================================
// Turn-taking state machine
// ============================================================================

func (s *Session) onSpeechStarted() {
	s.transcriptPending.Store(true)
	s.speechStartedNano.Store(s.clock.Now().UnixNano())
	s.noReply.Disarm()

	if !s.responseActive.Load() {
		return
	}
	// Real barge-in only when the speech falls outside the echo-guard grace
	// window after the AI's last audio; inside it this is our own tail
	// reflected back down the line.
	last := s.sink.LastAISpeech()
	if !last.IsZero() && s.clock.Now().Sub(last) <= s.opts.EchoGuardGrace {
		s.logger.Debug("speech inside echo-guard grace, not treating as barge-in")
		return
	}
	s.logger.Debug("barge-in: cancelling active response")
	s.sink.ClearPlayback()
	if err := s.send(clientEvent{Type: msgResponseCancel}); err != nil {
		s.logger.Warn("failed to cancel response on barge-in", "error", err)
	}
}

func (s *Session) onSpeechStopped() {
	s.speechStoppedNano.Store(s.clock.Now().UnixNano())
	if err := s.send(clientEvent{Type: msgAudioCommit}); err != nil {
		s.logger.Warn("failed to commit input audio", "error", err)
	}
}

func (s *Session) onResponseCreated(id string) {
	s.mu.Lock()
	if id != "" && (id == s.activeResponseID || id == s.lastCompletedID) {
		s.mu.Unlock()
		s.logger.Debug("duplicate response.created ignored", "response", id)
		return
	}
	s.activeResponseID = id
	s.mu.Unlock()
	s.responseActive.Store(true)
	s.publish(internal_type.ResponseStartedPacket{ResponseID: id})

	// Input buffer clear happens exactly once, here. The default clears only
	// when no transcript is pending, since clearing mid-utterance clips the
	// start of the user's words; the legacy variant clears unconditionally.
	pending := s.transcriptPending.Load()
	if s.opts.ClearInputOnEveryResponse || !pending {
		if err := s.send(clientEvent{Type: msgAudioClear}); err != nil {
			s.logger.Warn("failed to clear input audio buffer", "error", err)
		}
	}

	if pending {
		// The user's words are not known yet; answering now would talk past
		// them. Cancel and let the gated path re-request after transcription.
		s.logger.Debug("response created while transcript pending, cancelling", "response", id)
		if err := s.send(clientEvent{Type: msgResponseCancel}); err != nil {
			s.logger.Warn("failed to cancel premature response", "error", err)
		}
	}
}

func (s *Session) onResponseDone(id string) {
	s.mu.Lock()
	if id != "" && id == s.lastCompletedID {
		s.mu.Unlock()
		s.logger.Debug("duplicate response.done ignored", "response", id)
		return
	}
	if id != "" && s.activeResponseID != "" && id != s.activeResponseID {
		s.mu.Unlock()
		s.logger.Debug("stale response.done ignored", "response", id)
		return
	}
	s.lastCompletedID = id
	s.activeResponseID = ""
	s.mu.Unlock()

	s.responseActive.Store(false)
	s.aiFinishedNano.Store(s.clock.Now().UnixNano())
	s.sink.FlushTail()
	s.publish(internal_type.ResponseCompletedPacket{ResponseID: id})

	s.flushDeferredResponse()
	s.armNoReplyWatchdog()
}

func (s *Session) onAudioDelta(delta string) {
	audio, err := base64.StdEncoding.DecodeString(delta)
	if err != nil {
		s.logger.Warn("undecodable audio delta", "error", err)
		return
	}
	s.sink.HandleAIAudio(audio)
	s.publish(internal_type.SpeakingDeltaPacket{Bytes: len(audio)})
}

func (s *Session) onUserTranscript(raw string) {
	s.transcriptPending.Store(false)
	text := s.locale.CorrectTranscript(raw)
	if text == "" {
		return
	}
	s.publish(internal_type.TranscriptPacket{Role: "user", Text: text})

	// A confirmation spoken after the model's tool window closed would be
	// lost; recover it here when no response is running.
	if !s.responseActive.Load() && s.awaitingConfirmation.Load() && s.tools != nil &&
		s.locale.IsAffirmative(s.Language(), text) {
		s.logger.Info("late affirmative detected, synthesizing confirmation turn")
		handler := s.tools
		utils.Go(s.ctx, func() { handler.HandleAffirmative(s.ctx) })
		return
	}

	if !s.responseActive.Load() {
		s.flushDeferredResponse()
	}
}

func (s *Session) onAITranscript(raw string) {
	// Either side's completed transcript settles the turn. Without this a
	// lost user-transcription event would leave the pending flag set and
	// cancel every later response.
	if s.transcriptPending.CompareAndSwap(true, false) && !s.responseActive.Load() {
		s.flushDeferredResponse()
	}

	text := s.locale.CorrectTranscript(raw)
	if text == "" {
		return
	}
	s.publish(internal_type.TranscriptPacket{Role: "assistant", Text: text})

	if s.locale.ContainsClosingPhrase(s.Language(), text) && !s.callEnded.Load() {
		// The orchestrator normally ends the call right after the goodbye
		// line; this watchdog catches the case where it never does.
		s.goodbye.Arm(s.opts.GoodbyeGrace, func() {
			if !s.disposed.Load() {
				s.logger.Info("goodbye phrase spoken and call still open, forcing hangup")
				s.EndCall("goodbye")
			}
		})
	}
}

func (s *Session) onFunctionCall(name, callID, arguments string) {
	if s.tools == nil {
		s.logger.Warn("tool call received with no handler attached", "tool", name)
		return
	}
	args := map[string]interface{}{}
	if arguments != "" {
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			s.logger.Warn("undecodable tool arguments", "tool", name, "error", err)
		}
	}
	handler := s.tools
	utils.Go(s.ctx, func() { handler.HandleToolInvocation(s.ctx, name, callID, args) })
}

func (s *Session) onEndpointError(serr *serverError) {
	if serr == nil {
		return
	}
	if isSoftEndpointError(serr) {
		s.logger.Debug("endpoint soft error", "code", serr.Code, "message", serr.Message)
		return
	}
	s.logger.Error("endpoint error", "type", serr.Type, "code", serr.Code, "message", serr.Message)
}

// Soft errors are a normal consequence of aggressive commit/cancel timing
// and must not pollute operator logs.
func isSoftEndpointError(serr *serverError) bool {
	switch serr.Code {
	case "input_audio_buffer_commit_empty", "response_cancel_not_active", "item_truncate_invalid":
		return true
	}
	return false
}

// ============================================================================
// Response-creation gating
// ============================================================================

// RequestResponse is the only path that asks the endpoint to generate a
// turn. Reentrant-safe: a second call while one gating operation is in
// flight is dropped, which keeps at most one response pending.
func (s *Session) RequestResponse(delay time.Duration, waitForCurrent bool, maxWait time.Duration) {
	s.requestResponse("", delay, waitForCurrent, maxWait)
}

func (s *Session) requestResponse(prompt string, delay time.Duration, waitForCurrent bool, maxWait time.Duration) {
	if s.disposed.Load() || !s.connected.Load() {
		return
	}
	if !s.responseQueued.CompareAndSwap(false, true) {
		s.logger.Debug("response request dropped, one already queued")
		return
	}

	utils.Go(s.ctx, func() {
		defer s.responseQueued.Store(false)

		if delay > 0 {
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(delay):
			}
		}

		if waitForCurrent && s.responseActive.Load() {
			deadline := time.After(maxWait)
			tick := time.NewTicker(s.opts.ResponseWaitPoll)
			defer tick.Stop()
		wait:
			for s.responseActive.Load() {
				select {
				case <-s.ctx.Done():
					return
				case <-deadline:
					break wait
				case <-tick.C:
				}
			}
		}

		// Still busy after the bounded wait (or a transcript is in flight):
		// defer to the response.done / transcript-completed flush instead of
		// sending a request the endpoint would reject.
		if s.responseActive.Load() || s.transcriptPending.Load() {
			s.mu.Lock()
			s.deferredPrompt = prompt
			s.mu.Unlock()
			s.responseDeferred.Store(true)
			s.logger.Debug("response request deferred until current turn settles")
			return
		}

		s.sendResponseCreate(prompt)
	})
}

func (s *Session) flushDeferredResponse() {
	if !s.responseDeferred.CompareAndSwap(true, false) {
		return
	}
	s.mu.Lock()
	prompt := s.deferredPrompt
	s.deferredPrompt = ""
	s.mu.Unlock()
	s.sendResponseCreate(prompt)
}

func (s *Session) sendResponseCreate(prompt string) {
	ev := clientEvent{Type: msgResponseCreate}
	if prompt != "" {
		ev.Response = &responseParams{Instructions: prompt}
	}
	if err := s.send(ev); err != nil {
		s.logger.Warn("failed to request response", "error", err)
	}
}

// ============================================================================
// Watchdogs
// ============================================================================

func (s *Session) armNoReplyWatchdog() {
	if s.callEnded.Load() || s.disposed.Load() {
		return
	}
	timeout := s.opts.NoReplyTimeout
	if s.awaitingConfirmation.Load() {
		// Deciding on a quote deserves more thinking time than small talk.
		timeout = s.opts.NoReplyConfirmTimeout
	}
	s.noReply.Arm(timeout, func() {
		if s.callEnded.Load() || s.disposed.Load() || s.responseActive.Load() {
			return
		}
		s.logger.Debug("no reply from caller, prompting")
		s.requestResponse(s.locale.NoReplyPrompt(s.Language()), 0, true, 3*time.Second)
	})
}

// ArmPostBookingWatchdog starts the silence poll that hangs up a confirmed
// booking's call once both sides have been quiet past the threshold.
func (s *Session) ArmPostBookingWatchdog() {
	gen := s.postBookingGen.Add(1)
	utils.Go(s.ctx, func() {
		tick := time.NewTicker(time.Second)
		defer tick.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-tick.C:
			}
			if s.postBookingGen.Load() != gen || s.callEnded.Load() || s.disposed.Load() {
				return
			}
			last := s.lastActivity()
			if !last.IsZero() && s.clock.Now().Sub(last) > s.opts.PostBookingSilence {
				s.logger.Info("post-booking silence threshold reached, ending call")
				s.EndCall("post-booking silence")
				return
			}
		}
	})
}

// lastActivity is the later of the last AI speech and last user speech.
func (s *Session) lastActivity() time.Time {
	var last time.Time
	for _, nano := range []int64{s.aiFinishedNano.Load(), s.speechStartedNano.Load(), s.speechStoppedNano.Load()} {
		if nano > 0 {
			if t := time.Unix(0, nano); t.After(last) {
				last = t
			}
		}
	}
	if ai := s.sink.LastAISpeech(); ai.After(last) {
		last = ai
	}
	return last
}

// ============================================================================
// Conversation surface (driven by the task orchestrator)
// ============================================================================

// SendToolResult delivers one tool output item for the given call id.
func (s *Session) SendToolResult(callID string, payload interface{}) error {
	output, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal tool result: %w", err)
	}
	return s.send(clientEvent{
		Type: msgItemCreate,
		Item: &conversationItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: string(output),
		},
	})
}

// SendSystemMessage injects a system conversation item.
func (s *Session) SendSystemMessage(text string) error {
	return s.send(clientEvent{
		Type: msgItemCreate,
		Item: &conversationItem{
			Type:    "message",
			Role:    "system",
			Content: []itemContent{{Type: "input_text", Text: text}},
		},
	})
}

// SetAwaitingConfirmation toggles the yes/no confirmation window.
func (s *Session) SetAwaitingConfirmation(pending bool) {
	s.awaitingConfirmation.Store(pending)
	s.sink.SetConfirmationPending(pending)
}

// IgnoreCallerAudio stops forwarding inbound audio for the rest of the call.
func (s *Session) IgnoreCallerAudio() {
	s.ignoreAudio.Store(true)
}

// EndCall signals call termination exactly once per call.
func (s *Session) EndCall(reason string) {
	if !s.callEnded.CompareAndSwap(false, true) {
		return
	}
	s.noReply.Disarm()
	s.goodbye.Disarm()
	s.postBookingGen.Add(1)
	s.logger.Info("call ended", "caller", s.callerID, "reason", reason)
	s.publish(internal_type.CallEndedPacket{Reason: reason})
}

// EmitBookingUpdated publishes a booking-updated packet.
func (s *Session) EmitBookingUpdated(fields map[string]interface{}) {
	s.publish(internal_type.BookingUpdatedPacket{Fields: fields})
}

// Language returns the detected spoken-language code for this call.
func (s *Session) Language() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.language
}

// CallEnded reports whether the current call has been terminated.
func (s *Session) CallEnded() bool {
	return s.callEnded.Load()
}

// ============================================================================
// Wire helpers
// ============================================================================

func (s *Session) send(ev clientEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", ev.Type, err)
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("no active connection for %s", ev.Type)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", ev.Type, err)
	}
	return nil
}

func (s *Session) publish(p internal_type.Packet) {
	if s.observer == nil {
		return
	}
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	s.observer.OnPacket(ctx, p)
}

var _ internal_type.Conversation = (*Session)(nil)
