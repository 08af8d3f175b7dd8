// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the full process configuration. Every behavioural tunable that
// historical builds hard-coded (echo guard, watchdog delays, buffer-clear
// policy) is a named key here with the fixed behaviour as default.
type Config struct {
	Server        Server        `mapstructure:"server"`
	Log           Log           `mapstructure:"log"`
	Realtime      Realtime      `mapstructure:"realtime"`
	Audio         Audio         `mapstructure:"audio"`
	Booking       Booking       `mapstructure:"booking"`
	Collaborators Collaborators `mapstructure:"collaborators"`
}

type Server struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port" validate:"required,min=1,max=65535"`
}

type Log struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	File       string `mapstructure:"file"` // empty logs to stdout only
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

type Realtime struct {
	APIKey             string        `mapstructure:"api_key" validate:"required"`
	URL                string        `mapstructure:"url"`
	Model              string        `mapstructure:"model"`
	Voice              string        `mapstructure:"voice"`
	Temperature        float64       `mapstructure:"temperature" validate:"gte=0,lte=2"`
	SystemPrompt       string        `mapstructure:"system_prompt"`
	TranscriptionModel string        `mapstructure:"transcription_model"`
	VADThreshold       float64       `mapstructure:"vad_threshold"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
	ReconnectAttempts  int           `mapstructure:"reconnect_attempts"`
	ReconnectBackoff   time.Duration `mapstructure:"reconnect_backoff"`

	EchoGuardGrace            time.Duration `mapstructure:"echo_guard_grace"`
	ClearInputOnEveryResponse bool          `mapstructure:"clear_input_on_every_response"`
	NoReplyTimeout            time.Duration `mapstructure:"no_reply_timeout"`
	NoReplyConfirmTimeout     time.Duration `mapstructure:"no_reply_confirm_timeout"`
	GoodbyeGrace              time.Duration `mapstructure:"goodbye_grace"`
	PostBookingSilence        time.Duration `mapstructure:"post_booking_silence"`
}

type Audio struct {
	InputCodec    string        `mapstructure:"input_codec" validate:"oneof=mulaw alaw"`
	OutputCodec   string        `mapstructure:"output_codec" validate:"oneof=mulaw alaw opus"`
	DecimatorTaps int           `mapstructure:"decimator_taps" validate:"min=0,max=21"`
	PreEmphasis   float64       `mapstructure:"pre_emphasis" validate:"gte=0,lt=1"`
	InputGain     float64       `mapstructure:"input_gain"`
	EchoGuard     time.Duration `mapstructure:"echo_guard"`
	QueueDepth    int           `mapstructure:"queue_depth" validate:"min=0"`
	Linger        time.Duration `mapstructure:"linger"`
}

type Booking struct {
	QuoteTimeout     time.Duration `mapstructure:"quote_timeout"`
	DispatchTimeout  time.Duration `mapstructure:"dispatch_timeout"`
	FallbackFare     float64       `mapstructure:"fallback_fare" validate:"gt=0"`
	FallbackCurrency string        `mapstructure:"fallback_currency"`
	FallbackETA      int           `mapstructure:"fallback_eta_minutes"`
}

type Endpoint struct {
	BaseURL string        `mapstructure:"base_url" validate:"required,url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type Collaborators struct {
	Pricing  Endpoint `mapstructure:"pricing"`
	Dispatch Endpoint `mapstructure:"dispatch"`
	Notify   Endpoint `mapstructure:"notify"`
}

// Load reads the configuration file (optional) and the BRIDGE_* environment,
// applies defaults and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)

	v.SetDefault("realtime.api_key", "")
	v.SetDefault("realtime.url", "")
	v.SetDefault("realtime.model", "gpt-4o-realtime-preview")
	v.SetDefault("realtime.voice", "alloy")
	v.SetDefault("realtime.temperature", 0.8)
	v.SetDefault("realtime.system_prompt", defaultSystemPrompt)
	v.SetDefault("realtime.transcription_model", "whisper-1")
	v.SetDefault("realtime.vad_threshold", 0.5)
	v.SetDefault("realtime.connect_timeout", 10*time.Second)
	v.SetDefault("realtime.reconnect_attempts", 3)
	v.SetDefault("realtime.reconnect_backoff", 500*time.Millisecond)
	v.SetDefault("realtime.echo_guard_grace", time.Second)
	v.SetDefault("realtime.clear_input_on_every_response", false)
	v.SetDefault("realtime.no_reply_timeout", 9*time.Second)
	v.SetDefault("realtime.no_reply_confirm_timeout", 15*time.Second)
	v.SetDefault("realtime.goodbye_grace", 4*time.Second)
	v.SetDefault("realtime.post_booking_silence", 10*time.Second)

	v.SetDefault("audio.input_codec", "mulaw")
	v.SetDefault("audio.output_codec", "mulaw")
	v.SetDefault("audio.decimator_taps", 15)
	v.SetDefault("audio.pre_emphasis", 0.90)
	v.SetDefault("audio.input_gain", 1.6)
	v.SetDefault("audio.echo_guard", 320*time.Millisecond)
	v.SetDefault("audio.queue_depth", 150)
	v.SetDefault("audio.linger", 3*time.Second)

	v.SetDefault("booking.quote_timeout", 6*time.Second)
	v.SetDefault("booking.dispatch_timeout", 10*time.Second)
	v.SetDefault("booking.fallback_fare", 15.0)
	v.SetDefault("booking.fallback_currency", "EUR")
	v.SetDefault("booking.fallback_eta_minutes", 10)

	v.SetDefault("collaborators.pricing.base_url", "http://localhost:9101")
	v.SetDefault("collaborators.pricing.timeout", 6*time.Second)
	v.SetDefault("collaborators.dispatch.base_url", "http://localhost:9102")
	v.SetDefault("collaborators.dispatch.timeout", 10*time.Second)
	v.SetDefault("collaborators.notify.base_url", "http://localhost:9103")
	v.SetDefault("collaborators.notify.timeout", 10*time.Second)
}

const defaultSystemPrompt = `You are a friendly taxi booking assistant on a phone line. ` +
	`Speak naturally and briefly; the caller hears you, they do not read you. ` +
	`Collect the caller's name, pickup address, destination and passenger count. ` +
	`Store every detail with sync_booking_data the moment you hear it. ` +
	`When pickup and destination are known, request a quote with book_taxi and read the fare and pickup time back to the caller. ` +
	`Only after the caller clearly agrees, finalise with book_taxi action confirmed, give them the booking reference and say goodbye. ` +
	`After saying goodbye, end the call with end_call. ` +
	`Always answer in the language the caller speaks.`
