// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_collaborator

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	internal_type "github.com/maxparsons123/happy-ride-helper-sub000/internal/type"
	"github.com/maxparsons123/happy-ride-helper-sub000/pkg/commons"
)

// Config describes one collaborator endpoint.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

func newClient(cfg Config) *resty.Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		c.SetAuthToken(cfg.APIKey)
	}
	return c
}

// ============================================================================
// Pricing
// ============================================================================

// PricingClient resolves spoken addresses and computes fare and ETA.
type PricingClient struct {
	logger commons.Logger
	client *resty.Client
}

func NewPricingClient(logger commons.Logger, cfg Config) *PricingClient {
	return &PricingClient{logger: logger, client: newClient(cfg)}
}

type quoteRequest struct {
	Pickup      string `json:"pickup"`
	Destination string `json:"destination"`
	CallerID    string `json:"caller_id"`
}

// Quote asks the pricing collaborator for a trip quote. The caller owns the
// timeout through ctx.
func (p *PricingClient) Quote(ctx context.Context, pickup, destination, callerID string) (*internal_type.Quote, error) {
	start := time.Now()
	var quote internal_type.Quote
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(quoteRequest{Pickup: pickup, Destination: destination, CallerID: callerID}).
		SetResult(&quote).
		Post("/v1/quotes")
	if err != nil {
		return nil, fmt.Errorf("pricing request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("pricing returned %s: %s", resp.Status(), resp.String())
	}
	p.logger.Benchmark("pricing.quote", time.Since(start))
	return &quote, nil
}

// ============================================================================
// Dispatch
// ============================================================================

// DispatchClient hands a confirmed booking to the fleet system.
type DispatchClient struct {
	logger commons.Logger
	client *resty.Client
}

func NewDispatchClient(logger commons.Logger, cfg Config) *DispatchClient {
	return &DispatchClient{logger: logger, client: newClient(cfg)}
}

type dispatchRequest struct {
	internal_type.BookingDetails
	CallerID string `json:"caller_id"`
}

func (d *DispatchClient) Dispatch(ctx context.Context, details internal_type.BookingDetails, callerID string) error {
	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(dispatchRequest{BookingDetails: details, CallerID: callerID}).
		Post("/v1/bookings")
	if err != nil {
		return fmt.Errorf("dispatch request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("dispatch returned %s: %s", resp.Status(), resp.String())
	}
	d.logger.Info("booking dispatched", "reference", details.Reference)
	return nil
}

// ============================================================================
// Notification
// ============================================================================

// NotifyClient sends the post-booking confirmation message to the caller.
type NotifyClient struct {
	logger commons.Logger
	client *resty.Client
}

func NewNotifyClient(logger commons.Logger, cfg Config) *NotifyClient {
	return &NotifyClient{logger: logger, client: newClient(cfg)}
}

type notifyRequest struct {
	CallerID string `json:"caller_id"`
}

func (n *NotifyClient) Notify(ctx context.Context, callerID string) error {
	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(notifyRequest{CallerID: callerID}).
		Post("/v1/notifications")
	if err != nil {
		return fmt.Errorf("notification request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("notification returned %s: %s", resp.Status(), resp.String())
	}
	return nil
}

var (
	_ internal_type.Pricing    = (*PricingClient)(nil)
	_ internal_type.Dispatcher = (*DispatchClient)(nil)
	_ internal_type.Notifier   = (*NotifyClient)(nil)
)
