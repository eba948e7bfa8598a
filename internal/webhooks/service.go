/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package webhooks pushes slot activity to endpoints registered by stream
// owners.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/slotmarket/internal/events"
	"github.com/friendsincode/slotmarket/internal/models"
	"github.com/friendsincode/slotmarket/internal/telemetry"
)

// Delivered lists the event types forwarded to webhooks.
var Delivered = []events.EventType{
	events.EventSlotCreated,
	events.EventBidPlaced,
	events.EventAuctionFinalized,
	events.EventInstructionsSet,
	events.EventControllerChanged,
}

var (
	ErrNotFound     = errors.New("webhook not found")
	ErrInvalidURL   = errors.New("webhook url must be absolute http or https")
	ErrUnknownEvent = errors.New("unknown event type")
)

// Payload is the body POSTed to webhook endpoints.
type Payload struct {
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Owner     string         `json:"owner"`
	Data      events.Payload `json:"data"`
}

// Service handles webhook registration and delivery.
type Service struct {
	db     *gorm.DB
	bus    events.Broker
	logger zerolog.Logger
	client *http.Client
}

// NewService creates a new webhook service.
func NewService(db *gorm.DB, bus events.Broker, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "webhooks").Logger(),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Register stores a new target for owner. events is a comma-separated list of
// event types; empty subscribes to every delivered type.
func (s *Service) Register(ctx context.Context, owner, rawURL, eventList string) (*models.WebhookTarget, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, ErrInvalidURL
	}
	normalized, err := normalizeEvents(eventList)
	if err != nil {
		return nil, err
	}

	target := models.NewWebhookTarget(owner, rawURL, normalized)
	if err := s.db.WithContext(ctx).Create(target).Error; err != nil {
		return nil, fmt.Errorf("create webhook: %w", err)
	}
	return target, nil
}

// List returns owner's targets, newest first.
func (s *Service) List(ctx context.Context, owner string) ([]models.WebhookTarget, error) {
	var targets []models.WebhookTarget
	err := s.db.WithContext(ctx).
		Where("owner = ?", owner).
		Order("created_at DESC").
		Find(&targets).Error
	return targets, err
}

// Delete removes one of owner's targets.
func (s *Service) Delete(ctx context.Context, owner, id string) error {
	res := s.db.WithContext(ctx).Where("id = ? AND owner = ?", id, owner).Delete(&models.WebhookTarget{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func normalizeEvents(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	var out []string
	for _, e := range strings.Split(raw, ",") {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !isDelivered(events.EventType(e)) {
			return "", fmt.Errorf("%w: %s", ErrUnknownEvent, e)
		}
		out = append(out, e)
	}
	return strings.Join(out, ","), nil
}

func isDelivered(t events.EventType) bool {
	for _, d := range Delivered {
		if d == t {
			return true
		}
	}
	return false
}

type busEvent struct {
	eventType events.EventType
	payload   events.Payload
}

// Start subscribes to slot events and delivers them until ctx ends.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info().Msg("webhook service starting")

	type sub struct {
		eventType events.EventType
		ch        events.Subscriber
	}
	subs := make([]sub, 0, len(Delivered))
	for _, t := range Delivered {
		subs = append(subs, sub{t, s.bus.Subscribe(t)})
	}
	defer func() {
		for _, sb := range subs {
			s.bus.Unsubscribe(sb.eventType, sb.ch)
		}
	}()

	merged := make(chan busEvent)
	for _, sb := range subs {
		go func(sb sub) {
			for p := range sb.ch {
				select {
				case merged <- busEvent{sb.eventType, p}:
				case <-ctx.Done():
					return
				}
			}
		}(sb)
	}

	s.logger.Info().Msg("webhook service started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("webhook service stopping")
			return
		case ev := <-merged:
			s.handleEvent(ctx, ev.eventType, ev.payload)
		}
	}
}

func (s *Service) handleEvent(ctx context.Context, eventType events.EventType, payload events.Payload) {
	if payload.Remote() {
		return
	}
	owner, ok := payload["owner"].(string)
	if !ok || owner == "" {
		return
	}
	s.fireWebhooks(ctx, owner, eventType, payload)
}

// fireWebhooks sends the event to every matching active target of owner.
func (s *Service) fireWebhooks(ctx context.Context, owner string, eventType events.EventType, data events.Payload) {
	var targets []models.WebhookTarget
	if err := s.db.WithContext(ctx).Where("owner = ? AND active = ?", owner, true).Find(&targets).Error; err != nil {
		s.logger.Error().Err(err).Str("owner", owner).Msg("failed to fetch webhooks")
		return
	}

	body, err := json.Marshal(Payload{
		Event:     string(eventType),
		Timestamp: time.Now().UTC(),
		Owner:     owner,
		Data:      data,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("event", string(eventType)).Msg("failed to marshal webhook payload")
		return
	}

	for _, target := range targets {
		if !handlesEvent(target, eventType) {
			continue
		}
		go s.send(ctx, target, string(eventType), body)
	}
}

func handlesEvent(target models.WebhookTarget, eventType events.EventType) bool {
	if target.Events == "" {
		return true
	}
	for _, e := range strings.Split(target.Events, ",") {
		if strings.TrimSpace(e) == string(eventType) {
			return true
		}
	}
	return false
}

func (s *Service) send(ctx context.Context, target models.WebhookTarget, eventType string, body []byte) {
	start := time.Now()
	status, err := s.post(ctx, target, eventType, body)
	s.logDelivery(target, eventType, status, err, time.Since(start))

	switch {
	case err != nil:
		telemetry.WebhookDeliveriesTotal.WithLabelValues(eventType, "error").Inc()
		s.logger.Error().Err(err).Str("webhook", target.ID).Str("url", target.URL).Msg("webhook delivery failed")
	case status >= 200 && status < 300:
		telemetry.WebhookDeliveriesTotal.WithLabelValues(eventType, "ok").Inc()
		s.logger.Debug().Str("webhook", target.ID).Str("event", eventType).Int("status", status).Msg("webhook delivered")
	default:
		telemetry.WebhookDeliveriesTotal.WithLabelValues(eventType, "rejected").Inc()
		s.logger.Warn().Str("webhook", target.ID).Str("event", eventType).Int("status", status).Msg("webhook returned error status")
	}
}

func (s *Service) post(ctx context.Context, target models.WebhookTarget, eventType string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "SlotMarket-Webhook/1.0")
	req.Header.Set("X-SlotMarket-Event", eventType)
	req.Header.Set("X-SlotMarket-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))
	if target.Secret != "" {
		req.Header.Set("X-SlotMarket-Signature", Sign(body, target.Secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// Sign returns the HMAC-SHA256 signature header value for body.
func Sign(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

func (s *Service) logDelivery(target models.WebhookTarget, eventType string, status int, deliveryErr error, took time.Duration) {
	entry := &models.WebhookLog{
		ID:         uuid.NewString(),
		TargetID:   target.ID,
		Event:      eventType,
		StatusCode: status,
		Duration:   int(took.Milliseconds()),
	}
	if deliveryErr != nil {
		entry.Error = deliveryErr.Error()
	}
	if err := s.db.Create(entry).Error; err != nil {
		s.logger.Error().Err(err).Msg("failed to log webhook delivery")
	}
}
