package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/GiorgiUbiria/secure_banking/internal/logger"
	"github.com/GiorgiUbiria/secure_banking/internal/models"
	"github.com/GiorgiUbiria/secure_banking/internal/store"
	backoffv4 "github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

type DispatcherConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	BaseDelay   time.Duration
}

func (c *DispatcherConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 10 * time.Second
	}
}

// Dispatcher drains the mirror outbox. Failed deliveries are retried with
// exponential backoff until MaxAttempts, then parked as FAILED.
type Dispatcher struct {
	store  store.Store
	mirror Mirror
	cfg    DispatcherConfig
	now    func() time.Time
}

func NewDispatcher(s store.Store, m Mirror, cfg DispatcherConfig) *Dispatcher {
	cfg.applyDefaults()
	return &Dispatcher{store: s, mirror: m, cfg: cfg, now: time.Now}
}

// Run dispatches on every tick until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	logger.Log.Info("mirror dispatcher started", zap.Duration("interval", d.cfg.Interval))
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			logger.Log.Error("mirror dispatch failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			logger.Log.Info("mirror dispatcher stopped")
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce ships one batch of due events and returns how many were delivered.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	now := d.now()
	events, err := d.store.ListDueMirrorEvents(ctx, now, d.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list mirror events: %w", err)
	}

	sent := 0
	for _, e := range events {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if d.deliver(ctx, e, now) {
			sent++
		}
	}
	return sent, nil
}

func (d *Dispatcher) deliver(ctx context.Context, e models.MirrorEvent, now time.Time) bool {
	var rec Record
	if err := json.Unmarshal(e.Payload, &rec); err != nil {
		logger.Log.Error("mirror event payload is corrupt", zap.Uint("event_id", e.ID), zap.Error(err))
		d.markFailed(ctx, e, err, now, true)
		return false
	}

	if err := d.mirror.Record(ctx, rec); err != nil {
		terminal := e.Attempts+1 >= d.cfg.MaxAttempts
		logger.Log.Warn("mirror delivery failed",
			zap.Uint("event_id", e.ID),
			zap.Int("attempts", e.Attempts+1),
			zap.Bool("terminal", terminal),
			zap.Error(err))
		d.markFailed(ctx, e, err, now, terminal)
		return false
	}

	if err := d.store.MarkMirrorEventSent(ctx, e.ID); err != nil {
		// The record is in the mirror; a redelivery is deduplicated by event id.
		logger.Log.Error("failed to mark mirror event sent", zap.Uint("event_id", e.ID), zap.Error(err))
		return false
	}
	return true
}

func (d *Dispatcher) markFailed(ctx context.Context, e models.MirrorEvent, cause error, now time.Time, terminal bool) {
	next := now.Add(backoff(d.cfg.BaseDelay, e.Attempts))
	if err := d.store.MarkMirrorEventFailed(ctx, e.ID, truncate(cause.Error(), 500), next, terminal); err != nil {
		logger.Log.Error("failed to record mirror failure", zap.Uint("event_id", e.ID), zap.Error(err))
	}
}

// backoff returns base * 2^attempt, capped at one hour.
func backoff(base time.Duration, attempt int) time.Duration {
	b := backoffv4.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = time.Hour
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := 0; i < attempt && delay < b.MaxInterval; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
