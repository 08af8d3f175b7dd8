// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/maxparsons123/happy-ride-helper-sub000/config"
	internal_audio "github.com/maxparsons123/happy-ride-helper-sub000/internal/audio"
	internal_booking "github.com/maxparsons123/happy-ride-helper-sub000/internal/booking"
	internal_channel "github.com/maxparsons123/happy-ride-helper-sub000/internal/channel"
	internal_collaborator "github.com/maxparsons123/happy-ride-helper-sub000/internal/collaborator"
	internal_locale "github.com/maxparsons123/happy-ride-helper-sub000/internal/locale"
	internal_realtime "github.com/maxparsons123/happy-ride-helper-sub000/internal/realtime"
	internal_type "github.com/maxparsons123/happy-ride-helper-sub000/internal/type"
	"github.com/maxparsons123/happy-ride-helper-sub000/pkg/commons"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	loggerOpts := []commons.LoggerOption{commons.WithLevel(cfg.Log.Level)}
	if cfg.Log.File != "" {
		loggerOpts = append(loggerOpts, commons.WithRotatingFile(cfg.Log.File, cfg.Log.MaxSizeMB))
	}
	logger, err := commons.NewApplicationLogger(loggerOpts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(logger, cfg); err != nil {
		logger.Error("bridge exited", "error", err)
		os.Exit(1)
	}
}

func run(logger commons.Logger, cfg *config.Config) error {
	pricing := internal_collaborator.NewPricingClient(logger, internal_collaborator.Config{
		BaseURL: cfg.Collaborators.Pricing.BaseURL,
		APIKey:  cfg.Collaborators.Pricing.APIKey,
		Timeout: cfg.Collaborators.Pricing.Timeout,
	})
	dispatch := internal_collaborator.NewDispatchClient(logger, internal_collaborator.Config{
		BaseURL: cfg.Collaborators.Dispatch.BaseURL,
		APIKey:  cfg.Collaborators.Dispatch.APIKey,
		Timeout: cfg.Collaborators.Dispatch.Timeout,
	})
	notify := internal_collaborator.NewNotifyClient(logger, internal_collaborator.Config{
		BaseURL: cfg.Collaborators.Notify.BaseURL,
		APIKey:  cfg.Collaborators.Notify.APIKey,
		Timeout: cfg.Collaborators.Notify.Timeout,
	})

	table := internal_locale.NewDefaultTable()

	sessionOpts := internal_realtime.Options{
		APIKey:             cfg.Realtime.APIKey,
		URL:                cfg.Realtime.URL,
		Model:              cfg.Realtime.Model,
		Voice:              cfg.Realtime.Voice,
		Temperature:        cfg.Realtime.Temperature,
		SystemPrompt:       cfg.Realtime.SystemPrompt,
		TranscriptionModel: cfg.Realtime.TranscriptionModel,
		TurnDetection: internal_realtime.TurnDetection{
			Type:              "server_vad",
			Threshold:         cfg.Realtime.VADThreshold,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 500,
		},
		Tools:                     internal_booking.ToolSchema(),
		ConnectTimeout:            cfg.Realtime.ConnectTimeout,
		ReconnectAttempts:         cfg.Realtime.ReconnectAttempts,
		ReconnectBackoff:          cfg.Realtime.ReconnectBackoff,
		EchoGuardGrace:            cfg.Realtime.EchoGuardGrace,
		ClearInputOnEveryResponse: cfg.Realtime.ClearInputOnEveryResponse,
		NoReplyTimeout:            cfg.Realtime.NoReplyTimeout,
		NoReplyConfirmTimeout:     cfg.Realtime.NoReplyConfirmTimeout,
		GoodbyeGrace:              cfg.Realtime.GoodbyeGrace,
		PostBookingSilence:        cfg.Realtime.PostBookingSilence,
	}
	bookingCfg := internal_booking.Config{
		QuoteTimeout:     cfg.Booking.QuoteTimeout,
		DispatchTimeout:  cfg.Booking.DispatchTimeout,
		FallbackFare:     cfg.Booking.FallbackFare,
		FallbackCurrency: cfg.Booking.FallbackCurrency,
		FallbackETA:      cfg.Booking.FallbackETA,
	}

	factory := func(pipeline *internal_audio.Pipeline, observer internal_type.Observer) (internal_channel.CallSession, error) {
		session := internal_realtime.NewSession(logger, sessionOpts, table, nil, observer, pipeline)
		orchestrator := internal_booking.NewOrchestrator(logger, session, pricing, dispatch, notify, nil, bookingCfg)
		session.SetToolHandler(orchestrator)
		return &bridgedCall{Session: session, orchestrator: orchestrator}, nil
	}

	adapter := internal_channel.NewAdapter(logger, internal_channel.Config{
		Audio: internal_audio.Config{
			InputCodec:    cfg.Audio.InputCodec,
			OutputCodec:   cfg.Audio.OutputCodec,
			DecimatorTaps: cfg.Audio.DecimatorTaps,
			PreEmphasis:   cfg.Audio.PreEmphasis,
			InputGain:     cfg.Audio.InputGain,
			EchoGuard:     cfg.Audio.EchoGuard,
			QueueDepth:    cfg.Audio.QueueDepth,
		},
		Linger: cfg.Audio.Linger,
	}, factory, &packetLogger{logger: logger})

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/v1/media", adapter.HandleMedia)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("bridge listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// bridgedCall binds the caller identity to the orchestrator before the
// session dials out.
type bridgedCall struct {
	*internal_realtime.Session
	orchestrator *internal_booking.Orchestrator
}

func (b *bridgedCall) Connect(ctx context.Context, callerID string) error {
	b.orchestrator.BindCaller(callerID)
	return b.Session.Connect(ctx, callerID)
}

// packetLogger is the default observer: call progress in the process log.
type packetLogger struct {
	logger commons.Logger
}

func (p *packetLogger) OnPacket(_ context.Context, packet internal_type.Packet) {
	switch pk := packet.(type) {
	case internal_type.ConnectedPacket:
		p.logger.Info("ai session live", "language", pk.Language)
	case internal_type.DisconnectedPacket:
		p.logger.Info("ai session gone", "reason", pk.Reason)
	case internal_type.TranscriptPacket:
		p.logger.Info("transcript", "role", pk.Role, "text", pk.Text)
	case internal_type.BookingUpdatedPacket:
		p.logger.Info("booking updated", "fields", pk.Fields)
	case internal_type.CallEndedPacket:
		p.logger.Info("call ended", "reason", pk.Reason)
	}
}
