// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_channel

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	internal_audio "github.com/maxparsons123/happy-ride-helper-sub000/internal/audio"
	internal_type "github.com/maxparsons123/happy-ride-helper-sub000/internal/type"
	"github.com/maxparsons123/happy-ride-helper-sub000/pkg/commons"
)

// Media stream wire shape: JSON envelopes with an "event" discriminator and
// base64 telephony payloads, the common denominator of websocket media
// gateways. SIP/RTP termination happens upstream of this adapter.
type mediaEnvelope struct {
	Event string        `json:"event"`
	Start *startPayload `json:"start,omitempty"`
	Media *mediaPayload `json:"media,omitempty"`
}

type startPayload struct {
	CallID string `json:"call_id,omitempty"`
	From   string `json:"from"`
	Codec  string `json:"codec,omitempty"`
}

type mediaPayload struct {
	Payload string `json:"payload"` // base64 telephony frame
}

const (
	eventStart = "start"
	eventMedia = "media"
	eventStop  = "stop"
)

// CallSession is the engine surface the adapter drives, one per media stream.
type CallSession interface {
	Connect(ctx context.Context, callerID string) error
	SendCallerAudio(pcm []byte) error
	Disconnect()
	CallEnded() bool
}

// Factory builds the per-call session bound to the given pipeline and
// observer. The adapter owns neither; it only wires the media stream to them.
type Factory func(pipeline *internal_audio.Pipeline, observer internal_type.Observer) (CallSession, error)

// Config tunes the adapter.
type Config struct {
	Audio internal_audio.Config

	// Linger bounds how long outbound audio keeps draining after the call
	// ended, so the goodbye line is not clipped by the hangup.
	Linger time.Duration
}

// Adapter terminates telephony media websockets and bridges each one to an
// AI session: inbound frames through the pipeline into the session, outbound
// frames from the pipeline's playout loop back onto the socket.
type Adapter struct {
	logger   commons.Logger
	cfg      Config
	factory  Factory
	observer internal_type.Observer // optional downstream packet consumer
	upgrader websocket.Upgrader
}

func NewAdapter(logger commons.Logger, cfg Config, factory Factory, observer internal_type.Observer) *Adapter {
	if cfg.Linger == 0 {
		cfg.Linger = 3 * time.Second
	}
	return &Adapter{
		logger:   logger,
		cfg:      cfg,
		factory:  factory,
		observer: observer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// HandleMedia is the gin handler for the media-stream endpoint.
func (a *Adapter) HandleMedia(c *gin.Context) {
	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		a.logger.Warn("media upgrade failed", "error", err)
		return
	}
	a.serve(c.Request.Context(), conn)
}

// callWatcher taps the packet stream for the call-ended signal and forwards
// everything to the downstream observer.
type callWatcher struct {
	next  internal_type.Observer
	once  sync.Once
	ended chan struct{}
}

func newCallWatcher(next internal_type.Observer) *callWatcher {
	return &callWatcher{next: next, ended: make(chan struct{})}
}

func (w *callWatcher) OnPacket(ctx context.Context, p internal_type.Packet) {
	if _, ok := p.(internal_type.CallEndedPacket); ok {
		w.once.Do(func() { close(w.ended) })
	}
	if w.next != nil {
		w.next.OnPacket(ctx, p)
	}
}

func (a *Adapter) serve(parent context.Context, conn *websocket.Conn) {
	defer conn.Close()

	start, err := a.awaitStart(conn)
	if err != nil {
		a.logger.Warn("media stream rejected", "error", err)
		return
	}
	callID := start.CallID
	if callID == "" {
		callID = uuid.NewString()
	}

	audioCfg := a.cfg.Audio
	if start.Codec != "" {
		audioCfg.InputCodec = start.Codec
		audioCfg.OutputCodec = start.Codec
	}
	pipeline, err := internal_audio.NewPipeline(a.logger, nil, audioCfg)
	if err != nil {
		a.logger.Error("pipeline setup failed", "call", callID, "error", err)
		return
	}

	watcher := newCallWatcher(a.observer)
	session, err := a.factory(pipeline, watcher)
	if err != nil {
		a.logger.Error("session setup failed", "call", callID, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	if err := session.Connect(ctx, start.From); err != nil {
		a.logger.Error("session connect failed", "call", callID, "error", err)
		return
	}
	defer session.Disconnect()
	a.logger.Info("call bridged", "call", callID, "caller", start.From)

	var writeMu sync.Mutex
	ship := func(frame []byte) error {
		env := mediaEnvelope{Event: eventMedia, Media: &mediaPayload{
			Payload: base64.StdEncoding.EncodeToString(frame),
		}}
		data, err := json.Marshal(env)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// A blocked websocket read only returns once the socket closes.
		<-gctx.Done()
		_ = conn.Close()
		return gctx.Err()
	})
	g.Go(func() error { return a.readLoop(gctx, conn, pipeline, session) })
	g.Go(func() error { return pipeline.Playout(gctx, ship) })
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return gctx.Err()
		case <-watcher.ended:
			a.drainTail(pipeline)
			cancel()
			return context.Canceled
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		a.logger.Debug("media stream closed", "call", callID, "error", err)
	}
	a.logger.Info("call released", "call", callID)
}

// awaitStart reads envelopes until the start event arrives.
func (a *Adapter) awaitStart(conn *websocket.Conn) (*startPayload, error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("stream closed before start: %w", err)
		}
		var env mediaEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("undecodable media envelope: %w", err)
		}
		switch env.Event {
		case eventStart:
			if env.Start == nil || env.Start.From == "" {
				return nil, fmt.Errorf("start event without caller identity")
			}
			return env.Start, nil
		default:
			// Media before start is meaningless without codec negotiation.
			a.logger.Debug("envelope before start ignored", "event", env.Event)
		}
	}
}

func (a *Adapter) readLoop(ctx context.Context, conn *websocket.Conn, pipeline *internal_audio.Pipeline, session CallSession) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || ctx.Err() != nil {
				return context.Canceled
			}
			return fmt.Errorf("media read failed: %w", err)
		}

		var env mediaEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			a.logger.Debug("undecodable media envelope dropped", "error", err)
			continue
		}

		switch env.Event {
		case eventMedia:
			if env.Media == nil {
				continue
			}
			frame, err := base64.StdEncoding.DecodeString(env.Media.Payload)
			if err != nil {
				a.logger.Debug("undecodable media payload dropped", "error", err)
				continue
			}
			pcm, ok := pipeline.Ingest(frame)
			if !ok {
				continue
			}
			if err := session.SendCallerAudio(pcm); err != nil {
				a.logger.Warn("failed to forward caller audio", "error", err)
			}
		case eventStop:
			a.logger.Info("caller hung up")
			return context.Canceled
		default:
			a.logger.Debug("unhandled media event", "event", env.Event)
		}
	}
}

// drainTail lets queued goodbye audio play out, bounded by the linger budget.
func (a *Adapter) drainTail(pipeline *internal_audio.Pipeline) {
	pipeline.FlushTail()
	deadline := time.Now().Add(a.cfg.Linger)
	for time.Now().Before(deadline) {
		if pipeline.QueueDepth() == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}
