// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_locale "github.com/maxparsons123/happy-ride-helper-sub000/internal/locale"
	internal_type "github.com/maxparsons123/happy-ride-helper-sub000/internal/type"
	"github.com/maxparsons123/happy-ride-helper-sub000/pkg/commons"
)

// ============================================================================
// Test doubles
// ============================================================================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeWire records every outbound message and blocks reads until closed, so
// tests drive the engine by calling handleServerEvent directly.
type fakeWire struct {
	mu      sync.Mutex
	written []clientEvent
	closed  chan struct{}
	once    sync.Once
}

func newFakeWire() *fakeWire {
	return &fakeWire{closed: make(chan struct{})}
}

func (w *fakeWire) WriteMessage(_ int, data []byte) error {
	var ev clientEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	w.mu.Lock()
	w.written = append(w.written, ev)
	w.mu.Unlock()
	return nil
}

func (w *fakeWire) ReadMessage() (int, []byte, error) {
	<-w.closed
	return 0, nil, errors.New("connection closed")
}

func (w *fakeWire) Close() error {
	w.once.Do(func() { close(w.closed) })
	return nil
}

func (w *fakeWire) count(msgType string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, ev := range w.written {
		if ev.Type == msgType {
			n++
		}
	}
	return n
}

func (w *fakeWire) last(msgType string) (clientEvent, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := len(w.written) - 1; i >= 0; i-- {
		if w.written[i].Type == msgType {
			return w.written[i], true
		}
	}
	return clientEvent{}, false
}

// manualSchedule collects armed watchdog actions so tests fire them on demand.
type manualSchedule struct {
	mu    sync.Mutex
	armed []*scheduledAction
}

type scheduledAction struct {
	delay     time.Duration
	fire      func()
	cancelled bool
}

func (m *manualSchedule) schedule(d time.Duration, fire func()) func() bool {
	item := &scheduledAction{delay: d, fire: fire}
	m.mu.Lock()
	m.armed = append(m.armed, item)
	m.mu.Unlock()
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		was := item.cancelled
		item.cancelled = true
		return !was
	}
}

// fireLast triggers the most recently armed, still-live action.
func (m *manualSchedule) fireLast(t *testing.T) {
	t.Helper()
	m.mu.Lock()
	var pick *scheduledAction
	for i := len(m.armed) - 1; i >= 0; i-- {
		if !m.armed[i].cancelled {
			pick = m.armed[i]
			break
		}
	}
	m.mu.Unlock()
	require.NotNil(t, pick, "no live scheduled action to fire")
	pick.fire()
}

func (m *manualSchedule) liveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.armed {
		if !a.cancelled {
			n++
		}
	}
	return n
}

func (m *manualSchedule) lastDelay(t *testing.T) time.Duration {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.armed)
	return m.armed[len(m.armed)-1].delay
}

type sinkRecorder struct {
	mu             sync.Mutex
	audio          [][]byte
	flushes        int
	clears         int
	confirmPending bool
	lastAI         time.Time
}

func (s *sinkRecorder) HandleAIAudio(b []byte) {
	s.mu.Lock()
	s.audio = append(s.audio, b)
	s.mu.Unlock()
}

func (s *sinkRecorder) FlushTail() {
	s.mu.Lock()
	s.flushes++
	s.mu.Unlock()
}

func (s *sinkRecorder) ClearPlayback() {
	s.mu.Lock()
	s.clears++
	s.mu.Unlock()
}

func (s *sinkRecorder) SetConfirmationPending(p bool) {
	s.mu.Lock()
	s.confirmPending = p
	s.mu.Unlock()
}

func (s *sinkRecorder) LastAISpeech() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAI
}

func (s *sinkRecorder) setLastAI(t time.Time) {
	s.mu.Lock()
	s.lastAI = t
	s.mu.Unlock()
}

func (s *sinkRecorder) clearCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clears
}

type packetRecorder struct {
	mu      sync.Mutex
	packets []internal_type.Packet
}

func (r *packetRecorder) OnPacket(_ context.Context, p internal_type.Packet) {
	r.mu.Lock()
	r.packets = append(r.packets, p)
	r.mu.Unlock()
}

func (r *packetRecorder) count(match func(internal_type.Packet) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.packets {
		if match(p) {
			n++
		}
	}
	return n
}

type toolRecorder struct {
	mu          sync.Mutex
	invocations []toolInvocation
	affirmed    int
	resets      int
}

type toolInvocation struct {
	name   string
	callID string
	args   map[string]interface{}
}

func (r *toolRecorder) HandleToolInvocation(_ context.Context, name, callID string, args map[string]interface{}) {
	r.mu.Lock()
	r.invocations = append(r.invocations, toolInvocation{name: name, callID: callID, args: args})
	r.mu.Unlock()
}

func (r *toolRecorder) HandleAffirmative(_ context.Context) {
	r.mu.Lock()
	r.affirmed++
	r.mu.Unlock()
}

func (r *toolRecorder) Reset() {
	r.mu.Lock()
	r.resets++
	r.mu.Unlock()
}

func (r *toolRecorder) affirmedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.affirmed
}

// ============================================================================
// Harness
// ============================================================================

type harness struct {
	session  *Session
	wire     *fakeWire
	clock    *fakeClock
	schedule *manualSchedule
	sink     *sinkRecorder
	observer *packetRecorder
	tools    *toolRecorder
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		wire:     newFakeWire(),
		clock:    newFakeClock(),
		schedule: &manualSchedule{},
		sink:     &sinkRecorder{},
		observer: &packetRecorder{},
		tools:    &toolRecorder{},
	}

	opts := Options{APIKey: "test-key", ResponseWaitPoll: 2 * time.Millisecond}
	if mutate != nil {
		mutate(&opts)
	}
	h.session = NewSession(commons.NewNopLogger(), opts, internal_locale.NewDefaultTable(), h.clock, h.observer, h.sink)
	h.session.schedule = h.schedule.schedule
	h.session.noReply = newWatchdog(h.schedule.schedule)
	h.session.goodbye = newWatchdog(h.schedule.schedule)
	h.session.dial = func(context.Context, string, http.Header) (wire, error) {
		return h.wire, nil
	}
	h.session.SetToolHandler(h.tools)

	require.NoError(t, h.session.Connect(context.Background(), "+31612345678"))
	t.Cleanup(h.session.Disconnect)
	return h
}

func (h *harness) event(ev serverEvent) {
	h.session.handleServerEvent(&ev)
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

// ============================================================================
// Connection and greeting
// ============================================================================

func TestConnect_SendsConfigurationAndLocalizedGreeting(t *testing.T) {
	h := newHarness(t, nil)

	require.Equal(t, 1, h.wire.count(msgSessionUpdate))
	cfg, _ := h.wire.last(msgSessionUpdate)
	require.NotNil(t, cfg.Session)
	assert.Equal(t, "pcm16", cfg.Session.InputAudioFormat)
	assert.NotNil(t, cfg.Session.TurnDetection)

	// Dutch caller prefix must select the Dutch greeting.
	assert.Equal(t, "nl", h.session.Language())
	assert.Equal(t, 1, h.tools.resets)

	h.event(serverEvent{Type: evSessionCreated})
	eventually(t, func() bool { return h.wire.count(msgResponseCreate) == 1 }, "greeting response not requested")
	created, _ := h.wire.last(msgResponseCreate)
	require.NotNil(t, created.Response)
	assert.Equal(t, internal_locale.NewDefaultTable().Greeting("nl"), created.Response.Instructions)

	// A second acknowledgement must not re-greet.
	h.event(serverEvent{Type: evSessionUpdated})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, h.wire.count(msgResponseCreate))
}

func TestConnect_RejectsReuseAfterDispose(t *testing.T) {
	h := newHarness(t, nil)
	h.session.Dispose()
	err := h.session.Connect(context.Background(), "+31612345678")
	require.Error(t, err)
}

// ============================================================================
// Response lifecycle
// ============================================================================

func TestResponseLifecycle_DuplicateEventsAreIdempotent(t *testing.T) {
	h := newHarness(t, nil)

	h.event(serverEvent{Type: evResponseCreated, Response: &serverResponse{ID: "r1"}})
	h.event(serverEvent{Type: evResponseCreated, Response: &serverResponse{ID: "r1"}})
	started := func(p internal_type.Packet) bool {
		_, ok := p.(internal_type.ResponseStartedPacket)
		return ok
	}
	assert.Equal(t, 1, h.observer.count(started), "duplicate response.created must be ignored")
	assert.True(t, h.session.responseActive.Load())

	h.event(serverEvent{Type: evResponseDone, Response: &serverResponse{ID: "r1"}})
	h.event(serverEvent{Type: evResponseDone, Response: &serverResponse{ID: "r1"}})
	completed := func(p internal_type.Packet) bool {
		_, ok := p.(internal_type.ResponseCompletedPacket)
		return ok
	}
	assert.Equal(t, 1, h.observer.count(completed), "duplicate response.done must be ignored")
	assert.False(t, h.session.responseActive.Load())
}

func TestResponseDone_StaleIDIgnored(t *testing.T) {
	h := newHarness(t, nil)

	h.event(serverEvent{Type: evResponseCreated, Response: &serverResponse{ID: "r2"}})
	h.event(serverEvent{Type: evResponseDone, Response: &serverResponse{ID: "r1"}})
	assert.True(t, h.session.responseActive.Load(), "done for a different response must not close the active one")

	h.event(serverEvent{Type: evResponseDone, Response: &serverResponse{ID: "r2"}})
	assert.False(t, h.session.responseActive.Load())
}

func TestResponseLifecycle_RandomizedReplaySingleActiveResponse(t *testing.T) {
	h := newHarness(t, nil)
	rng := rand.New(rand.NewSource(1729))

	started := func(p internal_type.Packet) bool {
		_, ok := p.(internal_type.ResponseStartedPacket)
		return ok
	}
	completed := func(p internal_type.Packet) bool {
		_, ok := p.(internal_type.ResponseCompletedPacket)
		return ok
	}

	// Replay a long random interleaving of the endpoint's event stream,
	// with duplicated and stale response IDs mixed in, and check the
	// lifecycle invariants after every event.
	var finished []string
	live := ""
	next := 0
	for i := 0; i < 500; i++ {
		switch rng.Intn(6) {
		case 0: // a fresh response begins
			if live == "" {
				next++
				live = fmt.Sprintf("resp-%d", next)
				h.event(serverEvent{Type: evResponseCreated, Response: &serverResponse{ID: live}})
			}
		case 1: // the live response completes
			if live != "" {
				h.event(serverEvent{Type: evResponseDone, Response: &serverResponse{ID: live}})
				finished = append(finished, live)
				live = ""
			}
		case 2: // created replayed for the live or most recently finished response
			if live != "" {
				h.event(serverEvent{Type: evResponseCreated, Response: &serverResponse{ID: live}})
			} else if len(finished) > 0 {
				h.event(serverEvent{Type: evResponseCreated, Response: &serverResponse{ID: finished[len(finished)-1]}})
			}
		case 3: // done replayed for the most recently finished response
			if len(finished) > 0 {
				h.event(serverEvent{Type: evResponseDone, Response: &serverResponse{ID: finished[len(finished)-1]}})
			}
		case 4: // a long-delayed done arrives while a newer response runs
			if live != "" && len(finished) > 0 {
				h.event(serverEvent{Type: evResponseDone, Response: &serverResponse{ID: finished[rng.Intn(len(finished))]}})
			}
		case 5: // caller turn noise between responses
			h.event(serverEvent{Type: evSpeechStarted})
			h.event(serverEvent{Type: evSpeechStopped})
			h.event(serverEvent{Type: evTranscriptionDone, Transcript: "to the station"})
		}

		diff := h.observer.count(started) - h.observer.count(completed)
		require.GreaterOrEqual(t, diff, 0, "completion without a start after event %d", i)
		require.LessOrEqual(t, diff, 1, "more than one active response after event %d", i)
		require.Equal(t, diff == 1, h.session.responseActive.Load(), "active flag out of sync after event %d", i)
	}

	// Every response completed exactly once, replays notwithstanding.
	for _, id := range finished {
		id := id
		once := func(p internal_type.Packet) bool {
			cp, ok := p.(internal_type.ResponseCompletedPacket)
			return ok && cp.ResponseID == id
		}
		assert.Equal(t, 1, h.observer.count(once), "response %s completed more than once", id)
	}
}

func TestResponseCreated_ClearsInputOnlyWithoutPendingTranscript(t *testing.T) {
	h := newHarness(t, nil)

	// No transcript pending: the input buffer is cleared once.
	h.event(serverEvent{Type: evResponseCreated, Response: &serverResponse{ID: "r1"}})
	assert.Equal(t, 1, h.wire.count(msgAudioClear))
	h.event(serverEvent{Type: evResponseDone, Response: &serverResponse{ID: "r1"}})

	// Transcript pending: the response is cancelled and the buffer untouched.
	h.event(serverEvent{Type: evSpeechStarted})
	h.event(serverEvent{Type: evResponseCreated, Response: &serverResponse{ID: "r2"}})
	assert.Equal(t, 1, h.wire.count(msgAudioClear), "buffer must not be cleared mid-utterance")
	assert.Equal(t, 1, h.wire.count(msgResponseCancel))
}

func TestResponseCreated_LegacyVariantClearsDespitePendingTranscript(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.ClearInputOnEveryResponse = true })

	h.event(serverEvent{Type: evSpeechStarted})
	h.event(serverEvent{Type: evResponseCreated, Response: &serverResponse{ID: "r1"}})

	// The legacy variant clears on every response.created; the premature
	// response is still cancelled.
	assert.Equal(t, 1, h.wire.count(msgAudioClear))
	assert.Equal(t, 1, h.wire.count(msgResponseCancel))
}

// ============================================================================
// Speech events
// ============================================================================

func TestSpeechStopped_CommitsInputBuffer(t *testing.T) {
	h := newHarness(t, nil)
	h.event(serverEvent{Type: evSpeechStopped})
	assert.Equal(t, 1, h.wire.count(msgAudioCommit))
}

func TestSpeechStarted_BargeInCancelsAndClearsPlayback(t *testing.T) {
	h := newHarness(t, nil)
	h.event(serverEvent{Type: evResponseCreated, Response: &serverResponse{ID: "r1"}})

	// AI audio last heard well outside the echo-guard grace.
	h.sink.setLastAI(h.clock.Now().Add(-3 * time.Second))
	h.event(serverEvent{Type: evSpeechStarted})

	assert.Equal(t, 1, h.sink.clearCount())
	assert.Equal(t, 1, h.wire.count(msgResponseCancel))
}

func TestSpeechStarted_InsideEchoGraceIsNotBargeIn(t *testing.T) {
	h := newHarness(t, nil)
	h.event(serverEvent{Type: evResponseCreated, Response: &serverResponse{ID: "r1"}})

	h.sink.setLastAI(h.clock.Now().Add(-100 * time.Millisecond))
	h.event(serverEvent{Type: evSpeechStarted})

	assert.Zero(t, h.sink.clearCount(), "echo must not clear playback")
	assert.Zero(t, h.wire.count(msgResponseCancel))
}

// ============================================================================
// Response-creation gating
// ============================================================================

func TestRequestResponse_DefersUntilCurrentResponseDone(t *testing.T) {
	h := newHarness(t, nil)
	h.event(serverEvent{Type: evResponseCreated, Response: &serverResponse{ID: "r1"}})

	h.session.RequestResponse(0, true, 20*time.Millisecond)
	eventually(t, func() bool { return h.session.responseDeferred.Load() }, "request should defer while r1 is active")
	assert.Zero(t, h.wire.count(msgResponseCreate))

	h.event(serverEvent{Type: evResponseDone, Response: &serverResponse{ID: "r1"}})
	eventually(t, func() bool { return h.wire.count(msgResponseCreate) == 1 }, "deferred request not flushed on response.done")
}

func TestRequestResponse_SecondConcurrentRequestDropped(t *testing.T) {
	h := newHarness(t, nil)

	h.session.RequestResponse(30*time.Millisecond, false, 0)
	h.session.RequestResponse(30*time.Millisecond, false, 0)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, h.wire.count(msgResponseCreate), "only one gated request may survive")
}

func TestUserTranscript_FlushesDeferredRequest(t *testing.T) {
	h := newHarness(t, nil)

	h.session.mu.Lock()
	h.session.deferredPrompt = ""
	h.session.mu.Unlock()
	h.session.responseDeferred.Store(true)

	h.event(serverEvent{Type: evTranscriptionDone, Transcript: "the station please"})
	assert.Equal(t, 1, h.wire.count(msgResponseCreate))
}

// ============================================================================
// Transcripts
// ============================================================================

func TestUserTranscript_CorrectedAndPublished(t *testing.T) {
	h := newHarness(t, nil)
	h.event(serverEvent{Type: evSpeechStarted})
	require.True(t, h.session.transcriptPending.Load())

	h.event(serverEvent{Type: evTranscriptionDone, Transcript: "pick me up at David Road"})
	assert.False(t, h.session.transcriptPending.Load())

	userLine := func(p internal_type.Packet) bool {
		tp, ok := p.(internal_type.TranscriptPacket)
		return ok && tp.Role == "user" && tp.Text == "pick me up at davis road"
	}
	assert.Equal(t, 1, h.observer.count(userLine))
}

func TestLateAffirmative_SynthesizesConfirmationTurn(t *testing.T) {
	h := newHarness(t, nil)
	h.session.SetAwaitingConfirmation(true)

	h.event(serverEvent{Type: evTranscriptionDone, Transcript: "Yup."})
	eventually(t, func() bool { return h.tools.affirmedCount() == 1 }, "late yes must reach the tool handler")
}

func TestLateAffirmative_IgnoredWhileResponseActive(t *testing.T) {
	h := newHarness(t, nil)
	h.session.SetAwaitingConfirmation(true)
	h.event(serverEvent{Type: evResponseCreated, Response: &serverResponse{ID: "r1"}})

	h.event(serverEvent{Type: evTranscriptionDone, Transcript: "yes"})
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, h.tools.affirmedCount(), "the model is already acting on this turn")
}

func TestAITranscript_SettlesPendingTranscript(t *testing.T) {
	h := newHarness(t, nil)

	// The user-transcription event got lost; the AI transcript completing
	// must still release the gate, or every later response gets cancelled.
	h.event(serverEvent{Type: evSpeechStarted})
	require.True(t, h.session.transcriptPending.Load())

	h.event(serverEvent{Type: evAudioTranscriptDone, Transcript: "Where should the taxi pick you up?"})
	assert.False(t, h.session.transcriptPending.Load())

	h.event(serverEvent{Type: evResponseCreated, Response: &serverResponse{ID: "r1"}})
	assert.Zero(t, h.wire.count(msgResponseCancel), "settled turn must not cancel the next response")
	assert.Equal(t, 1, h.wire.count(msgAudioClear))
}

func TestAITranscript_FlushesDeferredRequestWhenIdle(t *testing.T) {
	h := newHarness(t, nil)

	h.event(serverEvent{Type: evSpeechStarted})
	h.session.responseDeferred.Store(true)

	h.event(serverEvent{Type: evAudioTranscriptDone, Transcript: "One moment."})
	assert.Equal(t, 1, h.wire.count(msgResponseCreate))
}

func TestAITranscript_GoodbyeArmsForcedHangup(t *testing.T) {
	h := newHarness(t, nil)

	h.event(serverEvent{Type: evAudioTranscriptDone, Transcript: "Your taxi is on its way. Goodbye!"})
	require.GreaterOrEqual(t, h.schedule.liveCount(), 1)
	assert.Equal(t, h.session.opts.GoodbyeGrace, h.schedule.lastDelay(t))

	h.schedule.fireLast(t)
	assert.True(t, h.session.CallEnded())
	ended := func(p internal_type.Packet) bool {
		ep, ok := p.(internal_type.CallEndedPacket)
		return ok && ep.Reason == "goodbye"
	}
	assert.Equal(t, 1, h.observer.count(ended))
}

// ============================================================================
// Watchdogs
// ============================================================================

func TestNoReplyWatchdog_PromptsAfterSilence(t *testing.T) {
	h := newHarness(t, nil)

	h.event(serverEvent{Type: evResponseCreated, Response: &serverResponse{ID: "r1"}})
	h.event(serverEvent{Type: evResponseDone, Response: &serverResponse{ID: "r1"}})
	assert.Equal(t, h.session.opts.NoReplyTimeout, h.schedule.lastDelay(t))

	h.schedule.fireLast(t)
	eventually(t, func() bool { return h.wire.count(msgResponseCreate) == 1 }, "silence must trigger a reprompt")
	created, _ := h.wire.last(msgResponseCreate)
	require.NotNil(t, created.Response)
	assert.Equal(t, internal_locale.NewDefaultTable().NoReplyPrompt("nl"), created.Response.Instructions)
}

func TestNoReplyWatchdog_LongerWhileConfirmationPending(t *testing.T) {
	h := newHarness(t, nil)
	h.session.SetAwaitingConfirmation(true)

	h.event(serverEvent{Type: evResponseCreated, Response: &serverResponse{ID: "r1"}})
	h.event(serverEvent{Type: evResponseDone, Response: &serverResponse{ID: "r1"}})
	assert.Equal(t, h.session.opts.NoReplyConfirmTimeout, h.schedule.lastDelay(t))
}

func TestNoReplyWatchdog_DisarmedBySpeech(t *testing.T) {
	h := newHarness(t, nil)

	h.event(serverEvent{Type: evResponseCreated, Response: &serverResponse{ID: "r1"}})
	h.event(serverEvent{Type: evResponseDone, Response: &serverResponse{ID: "r1"}})
	require.Equal(t, 1, h.schedule.liveCount())

	h.event(serverEvent{Type: evSpeechStarted})
	assert.Zero(t, h.schedule.liveCount(), "caller speech must disarm the no-reply watchdog")
}

func TestPostBookingWatchdog_EndsCallAfterSilence(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.PostBookingSilence = 50 * time.Millisecond })

	h.sink.setLastAI(h.clock.Now())
	h.session.ArmPostBookingWatchdog()
	h.clock.Advance(time.Minute)

	eventually2 := func() bool { return h.session.CallEnded() }
	require.Eventually(t, eventually2, 3*time.Second, 50*time.Millisecond, "silent booked call must be hung up")
}

// ============================================================================
// Tool plumbing
// ============================================================================

func TestFunctionCall_DecodedAndDispatched(t *testing.T) {
	h := newHarness(t, nil)

	h.event(serverEvent{
		Type:      evFunctionCallDone,
		Name:      "sync_booking_data",
		CallID:    "call-7",
		Arguments: `{"name":"Anna","passengers":2}`,
	})

	eventually(t, func() bool {
		h.tools.mu.Lock()
		defer h.tools.mu.Unlock()
		return len(h.tools.invocations) == 1
	}, "tool call not dispatched")

	h.tools.mu.Lock()
	inv := h.tools.invocations[0]
	h.tools.mu.Unlock()
	assert.Equal(t, "sync_booking_data", inv.name)
	assert.Equal(t, "call-7", inv.callID)
	assert.Equal(t, "Anna", inv.args["name"])
	assert.Equal(t, float64(2), inv.args["passengers"])
}

func TestSendToolResult_WireShape(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.session.SendToolResult("call-9", map[string]string{"status": "updated"}))
	item, ok := h.wire.last(msgItemCreate)
	require.True(t, ok)
	require.NotNil(t, item.Item)
	assert.Equal(t, "function_call_output", item.Item.Type)
	assert.Equal(t, "call-9", item.Item.CallID)
	assert.JSONEq(t, `{"status":"updated"}`, item.Item.Output)
}

func TestSendSystemMessage_WireShape(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.session.SendSystemMessage("The caller confirmed the booking."))
	item, ok := h.wire.last(msgItemCreate)
	require.True(t, ok)
	require.NotNil(t, item.Item)
	assert.Equal(t, "message", item.Item.Type)
	assert.Equal(t, "system", item.Item.Role)
	require.Len(t, item.Item.Content, 1)
	assert.Equal(t, "The caller confirmed the booking.", item.Item.Content[0].Text)
}

// ============================================================================
// Audio plumbing and call teardown
// ============================================================================

func TestAudioDelta_DecodedIntoSink(t *testing.T) {
	h := newHarness(t, nil)

	h.event(serverEvent{Type: evAudioDelta, Delta: "AAABAAIA"}) // 3 little-endian samples
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	require.Len(t, h.sink.audio, 1)
	assert.Equal(t, []byte{0, 0, 1, 0, 2, 0}, h.sink.audio[0])
}

func TestSendCallerAudio_DroppedAfterIgnore(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.session.SendCallerAudio([]byte{1, 2, 3, 4}))
	assert.Equal(t, 1, h.wire.count(msgAudioAppend))

	h.session.IgnoreCallerAudio()
	require.NoError(t, h.session.SendCallerAudio([]byte{1, 2, 3, 4}))
	assert.Equal(t, 1, h.wire.count(msgAudioAppend), "audio after ignore must be dropped silently")
}

func TestEndCall_IdempotentSingleSignal(t *testing.T) {
	h := newHarness(t, nil)

	h.session.EndCall("booking complete")
	h.session.EndCall("goodbye")

	ended := func(p internal_type.Packet) bool {
		_, ok := p.(internal_type.CallEndedPacket)
		return ok
	}
	assert.Equal(t, 1, h.observer.count(ended))
	assert.True(t, h.session.CallEnded())
}

func TestSetAwaitingConfirmation_ForwardedToSink(t *testing.T) {
	h := newHarness(t, nil)

	h.session.SetAwaitingConfirmation(true)
	h.sink.mu.Lock()
	pending := h.sink.confirmPending
	h.sink.mu.Unlock()
	assert.True(t, pending)
}

// ============================================================================
// Reconnect
// ============================================================================

func TestReconnect_ReconfiguresAndResumes(t *testing.T) {
	wires := []*fakeWire{newFakeWire(), newFakeWire()}
	var dials int
	var mu sync.Mutex

	h := &harness{
		clock:    newFakeClock(),
		schedule: &manualSchedule{},
		sink:     &sinkRecorder{},
		observer: &packetRecorder{},
		tools:    &toolRecorder{},
	}
	opts := Options{APIKey: "test-key", ReconnectBackoff: 5 * time.Millisecond, ReconnectAttempts: 2}
	h.session = NewSession(commons.NewNopLogger(), opts, internal_locale.NewDefaultTable(), h.clock, h.observer, h.sink)
	h.session.dial = func(context.Context, string, http.Header) (wire, error) {
		mu.Lock()
		defer mu.Unlock()
		if dials >= len(wires) {
			return nil, fmt.Errorf("no more wires")
		}
		w := wires[dials]
		dials++
		return w, nil
	}
	require.NoError(t, h.session.Connect(context.Background(), "+31612345678"))
	t.Cleanup(h.session.Disconnect)

	require.Equal(t, 1, wires[0].count(msgSessionUpdate))

	// Abnormal wire loss: the engine must redial and reconfigure.
	wires[0].Close()
	eventually(t, func() bool { return wires[1].count(msgSessionUpdate) == 1 }, "session not reconfigured after reconnect")

	// The resume prompt fires once the new connection is acknowledged.
	h.session.handleServerEvent(&serverEvent{Type: evSessionUpdated})
	eventually(t, func() bool { return wires[1].count(msgResponseCreate) == 1 }, "resume prompt not requested")
	assert.False(t, h.session.CallEnded())
}

func TestReconnect_ExhaustedEndsCall(t *testing.T) {
	first := newFakeWire()
	var dials int
	var mu sync.Mutex

	observer := &packetRecorder{}
	s := NewSession(commons.NewNopLogger(), Options{
		APIKey:           "test-key",
		ReconnectBackoff: 2 * time.Millisecond,
	}, internal_locale.NewDefaultTable(), newFakeClock(), observer, &sinkRecorder{})
	s.dial = func(context.Context, string, http.Header) (wire, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if dials == 1 {
			return first, nil
		}
		return nil, errors.New("endpoint unreachable")
	}
	require.NoError(t, s.Connect(context.Background(), "+31612345678"))
	t.Cleanup(s.Disconnect)

	first.Close()
	require.Eventually(t, s.CallEnded, 3*time.Second, 10*time.Millisecond, "exhausted reconnects must end the call")
}
