// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	internal_codec "github.com/maxparsons123/happy-ride-helper-sub000/internal/audio/codec"
	internal_type "github.com/maxparsons123/happy-ride-helper-sub000/internal/type"
	"github.com/maxparsons123/happy-ride-helper-sub000/pkg/commons"
)

// Config carries the per-call audio tuning. Zero values select the defaults.
type Config struct {
	InputCodec    string // telephony codec on the wire: mulaw or alaw
	OutputCodec   string // mulaw, alaw or opus
	DecimatorTaps int
	PreEmphasis   float64 // 0 disables
	InputGain     float64 // <=0 or 1.0 disables
	EchoGuard     time.Duration
	QueueDepth    int // outbound frames; bounds playout latency
}

const (
	DefaultEchoGuard  = 320 * time.Millisecond
	DefaultQueueDepth = 150 // 3s of 20ms frames

	frameInterval = internal_codec.FrameDuration * time.Millisecond
)

// Pipeline is the stateful per-call audio object sitting between the
// telephony adapter and the session engine. The inbound path converts
// telephony frames to endpoint PCM; the outbound path converts AI PCM deltas
// to paced telephony frames.
//
//	caller frame -> Ingest -> 24kHz PCM16LE   (engine wraps in audio-append)
//	AI delta     -> HandleAIAudio -> queue -> Playout/Drain -> caller frame
type Pipeline struct {
	logger commons.Logger
	cfg    Config
	clock  internal_type.Clock

	decimator *internal_codec.Decimator
	emphasis  *internal_codec.Emphasis
	opusEnc   *internal_codec.OpusEncoder

	queue *FrameQueue

	// Outbound accumulation: encoded G.711 tail shorter than one frame, or
	// 48kHz samples pending a full Opus frame.
	outMu     sync.Mutex
	g711Tail  []byte
	pcm48Tail []int16

	opusSilence []byte

	// Shared with the engine's receive loop.
	lastAISpeechNano    atomic.Int64
	confirmationPending atomic.Bool
}

// NewPipeline creates a per-call pipeline. Returns an error only when the
// Opus encoder cannot be constructed.
func NewPipeline(logger commons.Logger, clock internal_type.Clock, cfg Config) (*Pipeline, error) {
	if cfg.InputCodec == "" {
		cfg.InputCodec = internal_codec.CodecMuLaw
	}
	if cfg.OutputCodec == "" {
		cfg.OutputCodec = cfg.InputCodec
	}
	if cfg.DecimatorTaps == 0 {
		cfg.DecimatorTaps = internal_codec.DefaultDecimatorTaps
	}
	if cfg.EchoGuard == 0 {
		cfg.EchoGuard = DefaultEchoGuard
	}
	if cfg.QueueDepth == 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	if clock == nil {
		clock = internal_type.SystemClock{}
	}

	p := &Pipeline{
		logger:    logger,
		cfg:       cfg,
		clock:     clock,
		decimator: internal_codec.NewDecimator(cfg.DecimatorTaps),
		emphasis:  internal_codec.NewEmphasis(cfg.PreEmphasis),
		queue:     NewFrameQueue(cfg.QueueDepth),
	}

	if cfg.OutputCodec == internal_codec.CodecOpus {
		enc, err := internal_codec.NewOpusEncoder()
		if err != nil {
			return nil, fmt.Errorf("pipeline opus setup: %w", err)
		}
		p.opusEnc = enc
		silence, err := enc.EncodeFrame(make([]int16, internal_codec.OpusFrameSamples))
		if err != nil {
			return nil, fmt.Errorf("pipeline opus silence frame: %w", err)
		}
		p.opusSilence = silence
	}

	return p, nil
}

// ============================================================================
// Inbound path (caller -> AI)
// ============================================================================

// Ingest converts one telephony frame to 24kHz PCM16LE bytes for the
// endpoint's audio-append message. Returns false when the frame was consumed
// by the echo guard: frames arriving within the guard window after the AI
// finished speaking are the line echo of the bot's own tail, and forwarding
// them re-triggers turn detection. The guard is bypassed while a yes/no
// confirmation is pending so a fast "yes" is never swallowed.
func (p *Pipeline) Ingest(telephonyFrame []byte) ([]byte, bool) {
	if len(telephonyFrame) == 0 {
		return nil, false
	}

	if !p.confirmationPending.Load() {
		last := p.lastAISpeechNano.Load()
		if last > 0 && p.clock.Now().Sub(time.Unix(0, last)) < p.cfg.EchoGuard {
			return nil, false
		}
	}

	var pcm8 []int16
	if p.cfg.InputCodec == internal_codec.CodecALaw {
		pcm8 = internal_codec.DecodeALaw(telephonyFrame)
	} else {
		pcm8 = internal_codec.DecodeMuLaw(telephonyFrame)
	}

	pcm24 := internal_codec.Upsample8to24(pcm8)
	pcm24 = p.emphasis.Process(pcm24)
	pcm24 = internal_codec.ApplyGain(pcm24, p.cfg.InputGain)

	return internal_codec.PCMToBytes(pcm24), true
}

// NoteAISpeech records that outbound AI audio was just received; it anchors
// the echo-guard window.
func (p *Pipeline) NoteAISpeech() {
	p.lastAISpeechNano.Store(p.clock.Now().UnixNano())
}

// LastAISpeech returns when AI audio was last received (zero if never).
func (p *Pipeline) LastAISpeech() time.Time {
	n := p.lastAISpeechNano.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// SetConfirmationPending toggles the echo-guard bypass during the yes/no
// confirmation window.
func (p *Pipeline) SetConfirmationPending(pending bool) {
	p.confirmationPending.Store(pending)
}

// ============================================================================
// Outbound path (AI -> caller)
// ============================================================================

// HandleAIAudio ingests one decoded 24kHz PCM16LE audio delta, converts it to
// the negotiated telephony codec and enqueues complete 20ms frames. A tail
// shorter than one frame is held until the next delta or FlushTail.
func (p *Pipeline) HandleAIAudio(pcm24kBytes []byte) {
	p.NoteAISpeech()

	pcm8 := p.decimator.Process(internal_codec.BytesToPCM(pcm24kBytes))
	if len(pcm8) == 0 {
		return
	}

	p.outMu.Lock()
	defer p.outMu.Unlock()

	if p.opusEnc != nil {
		p.pcm48Tail = append(p.pcm48Tail, internal_codec.Upsample8to48(pcm8)...)
		for len(p.pcm48Tail) >= internal_codec.OpusFrameSamples {
			frame, err := p.opusEnc.EncodeFrame(p.pcm48Tail[:internal_codec.OpusFrameSamples])
			p.pcm48Tail = p.pcm48Tail[internal_codec.OpusFrameSamples:]
			if err != nil {
				p.logger.Warn("dropping undecodable opus frame", "error", err)
				continue
			}
			p.enqueue(frame)
		}
		return
	}

	var encoded []byte
	if p.cfg.OutputCodec == internal_codec.CodecALaw {
		encoded = internal_codec.EncodeALaw(pcm8)
	} else {
		encoded = internal_codec.EncodeMuLaw(pcm8)
	}

	p.g711Tail = append(p.g711Tail, encoded...)
	for len(p.g711Tail) >= internal_codec.TelephonyFrame {
		frame := make([]byte, internal_codec.TelephonyFrame)
		copy(frame, p.g711Tail[:internal_codec.TelephonyFrame])
		p.g711Tail = p.g711Tail[internal_codec.TelephonyFrame:]
		p.enqueue(frame)
	}
}

// FlushTail pads and enqueues any buffered partial frame. Called when a
// response's audio stream ends so the last few milliseconds are not held
// back waiting for the next delta.
func (p *Pipeline) FlushTail() {
	p.outMu.Lock()
	defer p.outMu.Unlock()

	if p.opusEnc != nil {
		if len(p.pcm48Tail) == 0 {
			return
		}
		frame, err := p.opusEnc.EncodeFrame(p.pcm48Tail)
		p.pcm48Tail = p.pcm48Tail[:0]
		if err == nil {
			p.enqueue(frame)
		}
		return
	}

	if len(p.g711Tail) == 0 {
		return
	}
	silence := internal_codec.SilenceByte(p.cfg.OutputCodec)
	p.enqueue(internal_codec.PadFrame(p.g711Tail, internal_codec.TelephonyFrame, silence))
	p.g711Tail = p.g711Tail[:0]
}

// Drain returns the next outbound telephony frame, pull-based so the
// telephony side paces itself. Returns false when no audio is queued.
func (p *Pipeline) Drain() ([]byte, bool) {
	return p.queue.Pop()
}

// ClearPlayback discards all pending outbound audio at once (barge-in). The
// decimator history is reset too so the stale response's tail cannot bleed
// into the next one.
func (p *Pipeline) ClearPlayback() {
	p.outMu.Lock()
	p.g711Tail = p.g711Tail[:0]
	p.pcm48Tail = p.pcm48Tail[:0]
	p.outMu.Unlock()

	dropped := p.queue.Clear()
	p.decimator.Reset()
	if dropped > 0 {
		p.logger.Debug("cleared playback queue", "frames", dropped)
	}
}

// QueueDepth returns the current outbound backlog in frames.
func (p *Pipeline) QueueDepth() int {
	return p.queue.Len()
}

func (p *Pipeline) enqueue(frame []byte) {
	if !p.queue.Push(frame) {
		p.logger.Debug("playout queue overflow, oldest frame dropped")
	}
}

// SilenceFrame returns one 20ms frame of codec silence.
func (p *Pipeline) SilenceFrame() []byte {
	if p.opusEnc != nil {
		return p.opusSilence
	}
	silence := internal_codec.SilenceByte(p.cfg.OutputCodec)
	frame := make([]byte, internal_codec.TelephonyFrame)
	for i := range frame {
		frame[i] = silence
	}
	return frame
}

// ============================================================================
// Real-time playout
// ============================================================================

// Playout runs the real-time pacing loop until ctx is cancelled or ship
// fails. Every 20ms tick it ships one queued frame, or a silence frame when
// the queue is empty; it never blocks on anything but the schedule itself.
// When the loop falls more than one frame behind (scheduler stall, GC pause),
// the deadline is reset to now instead of fast-forwarding a burst of frames:
// drift correction, not data loss.
func (p *Pipeline) Playout(ctx context.Context, ship func([]byte) error) error {
	timer := time.NewTimer(frameInterval)
	defer timer.Stop()

	next := time.Now().Add(frameInterval)
	for {
		wait := time.Until(next)
		if wait > 0 {
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		} else {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		frame, ok := p.Drain()
		if !ok {
			frame = p.SilenceFrame()
		}
		if err := ship(frame); err != nil {
			return fmt.Errorf("playout ship failed: %w", err)
		}

		next = next.Add(frameInterval)
		if behind := time.Since(next); behind > frameInterval {
			next = time.Now()
		}
	}
}
