package security

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Fabian0270/library-system/internal/util"
	"github.com/Fabian0270/library-system/pkg/domain"
	"github.com/Fabian0270/library-system/pkg/storage"
	"github.com/Fabian0270/library-system/pkg/store"
)

// ErrExportDisabled is returned by Export when no object store is configured.
var ErrExportDisabled = errors.New("audit export is not configured")

const exportLinkTTL = 15 * time.Minute

// AuditConfig wires an AuditTrail. Store is required.
type AuditConfig struct {
	Store   store.AuditStore
	Alerter *AuditAlerter
	Objects storage.ObjectStore
	Now     func() time.Time
}

// AuditTrail is the append-only log of security and lending events.
type AuditTrail struct {
	store   store.AuditStore
	alerter *AuditAlerter
	objects storage.ObjectStore
	now     func() time.Time
}

// ExportResult describes an uploaded audit export.
type ExportResult struct {
	Key    string `json:"key"`
	URL    string `json:"url"`
	Events int    `json:"events"`
}

// NewAuditTrail builds an AuditTrail.
func NewAuditTrail(cfg AuditConfig) (*AuditTrail, error) {
	if cfg.Store == nil {
		return nil, errors.New("audit store required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &AuditTrail{
		store:   cfg.Store,
		alerter: cfg.Alerter,
		objects: cfg.Objects,
		now:     cfg.Now,
	}, nil
}

// Record appends one event.
func (a *AuditTrail) Record(ctx context.Context, event domain.SecurityEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = a.now().UTC()
	}
	if err := a.store.AppendEvents(ctx, event); err != nil {
		return fmt.Errorf("record %s: %w", event.Type, err)
	}
	a.Observe(ctx, event)
	return nil
}

// Observe feeds already persisted events to the burst alerter.
func (a *AuditTrail) Observe(ctx context.Context, events ...domain.SecurityEvent) {
	if a.alerter == nil {
		return
	}
	logger := util.LoggerFromContext(ctx)
	for _, event := range events {
		result, err := a.alerter.Observe(ctx, event)
		if err != nil {
			logger.Warn("security alert evaluation failed", "event", event.Type, "err", err)
			continue
		}
		if result.Triggered {
			logger.Warn("security_alert",
				"event", event.Type,
				"principal", event.Principal,
				"ip", event.IPAddress,
				"count", result.Count,
				"threshold", result.Threshold,
				"window", result.Window.String(),
			)
		}
	}
}

// CountFailures counts events of eventType for principal at or after since.
func (a *AuditTrail) CountFailures(ctx context.Context, principal string, eventType domain.SecurityEventType, since time.Time) (int, error) {
	n, err := a.store.CountEvents(ctx, principal, eventType, since)
	if err != nil {
		return 0, fmt.Errorf("count failures: %w", err)
	}
	return n, nil
}

// LastSuccessfulLogin returns the time of the principal's latest successful login.
func (a *AuditTrail) LastSuccessfulLogin(ctx context.Context, principal string) (time.Time, bool, error) {
	event, ok, err := a.store.LastEvent(ctx, principal, domain.EventLoginSuccess)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last successful login: %w", err)
	}
	if !ok {
		return time.Time{}, false, nil
	}
	return event.Timestamp, true, nil
}

// List returns events in non-decreasing timestamp order.
func (a *AuditTrail) List(ctx context.Context, filter store.EventFilter) ([]domain.SecurityEvent, error) {
	events, err := a.store.ListEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return events, nil
}

// ExportEnabled reports whether Export has somewhere to write.
func (a *AuditTrail) ExportEnabled() bool {
	return a.objects != nil
}

// Export writes events since the given time as JSON lines to object storage
// and returns a short-lived download link.
func (a *AuditTrail) Export(ctx context.Context, since time.Time) (ExportResult, error) {
	if a.objects == nil {
		return ExportResult{}, ErrExportDisabled
	}
	events, err := a.List(ctx, store.EventFilter{Since: since})
	if err != nil {
		return ExportResult{}, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, event := range events {
		if err := enc.Encode(event); err != nil {
			return ExportResult{}, fmt.Errorf("encode audit event: %w", err)
		}
	}
	key := fmt.Sprintf("audit/%s-%s.jsonl", a.now().UTC().Format("20060102T150405Z"), util.NewID())
	if err := a.objects.Put(ctx, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), "application/x-ndjson"); err != nil {
		return ExportResult{}, fmt.Errorf("upload audit export: %w", err)
	}
	url, err := a.objects.PresignGet(ctx, key, exportLinkTTL)
	if err != nil {
		return ExportResult{}, fmt.Errorf("sign audit export: %w", err)
	}
	return ExportResult{Key: key, URL: url, Events: len(events)}, nil
}
