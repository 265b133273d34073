package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nidhogg/lexicore/internal/bus"
	"github.com/nidhogg/lexicore/internal/catalog"
	"github.com/nidhogg/lexicore/internal/sediment"
	"go.uber.org/zap"
)

const (
	queueSize      = 64
	historyDefault = 50
)

// Announcer turns moderation and discovery events into announcements.
// Delivery happens on the Run goroutine so bus publishers never wait on a
// chat platform.
type Announcer struct {
	gateway *Gateway
	catalog catalog.Catalog // optional, for lemma lookup
	queue   chan *Announcement

	mu      sync.RWMutex
	history []*Announcement
	maxHist int

	logger *zap.Logger
}

// NewAnnouncer creates an announcer backed by gw. cat may be nil.
func NewAnnouncer(gw *Gateway, cat catalog.Catalog, logger *zap.Logger) *Announcer {
	return &Announcer{
		gateway: gw,
		catalog: cat,
		queue:   make(chan *Announcement, queueSize),
		maxHist: historyDefault,
		logger:  logger,
	}
}

// Attach subscribes to ERROR_REPORTED and FIRST_DISCOVERER_SET.
func (a *Announcer) Attach(b *bus.MessageBus) []bus.Unsubscribe {
	return []bus.Unsubscribe{
		b.Subscribe(bus.ErrorReported, a.onReport),
		b.Subscribe(bus.FirstDiscovererSet, a.onDiscovery),
	}
}

// Run delivers queued announcements until ctx is done.
func (a *Announcer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ann := <-a.queue:
			if err := a.gateway.Broadcast(ctx, ann); err != nil {
				a.logger.Warn("announcement not delivered everywhere",
					zap.String("kind", string(ann.Kind)), zap.Error(err))
			}
			a.record(ann)
		}
	}
}

// History returns up to limit of the most recent announcements, oldest first.
func (a *Announcer) History(limit int) []*Announcement {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if limit <= 0 || limit > len(a.history) {
		limit = len(a.history)
	}
	out := make([]*Announcement, limit)
	copy(out, a.history[len(a.history)-limit:])
	return out
}

func (a *Announcer) record(ann *Announcement) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, ann)
	if len(a.history) > a.maxHist {
		a.history = a.history[len(a.history)-a.maxHist:]
	}
}

func (a *Announcer) enqueue(ann *Announcement) {
	select {
	case a.queue <- ann:
	default:
		a.logger.Warn("announcement queue full, dropping",
			zap.String("kind", string(ann.Kind)),
			zap.String("target", ann.TargetID))
	}
}

func (a *Announcer) onReport(ctx context.Context, msg *bus.Message) error {
	r, ok := msg.Payload.(*sediment.ErrorReport)
	if !ok {
		return fmt.Errorf("unexpected report payload %T", msg.Payload)
	}
	content := fmt.Sprintf("%s reported %s as %s.", r.UserID, a.describe(ctx, r.TargetID), r.Category)
	if r.Description != "" {
		content += "\n> " + r.Description
	}
	a.enqueue(&Announcement{
		Kind:     KindModeration,
		Title:    "Error report",
		Content:  content,
		TargetID: r.TargetID,
		At:       at(r.CreatedAt),
	})
	return nil
}

func (a *Announcer) onDiscovery(ctx context.Context, msg *bus.Message) error {
	d, ok := msg.Payload.(*sediment.Discovery)
	if !ok {
		return fmt.Errorf("unexpected discovery payload %T", msg.Payload)
	}
	a.enqueue(&Announcement{
		Kind:     KindDiscovery,
		Title:    "First discovery",
		Content:  fmt.Sprintf("%s was the first to discover %s.", d.UserID, a.describe(ctx, d.TargetID)),
		TargetID: d.TargetID,
		At:       at(d.At),
	})
	return nil
}

// describe renders a target for humans, using the catalog lemma when known.
func (a *Announcer) describe(ctx context.Context, targetID string) string {
	if a.catalog != nil {
		if s, err := a.catalog.Get(ctx, targetID); err == nil && s.Lemma != "" {
			return fmt.Sprintf("%q (%s)", s.Lemma, targetID)
		}
	}
	return targetID
}

func at(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
