// Package coordinator constructs the engine components once, wires their bus
// subscriptions and bridges state changes to storage.
package coordinator

import (
	"context"
	"fmt"

	"github.com/nidhogg/lexicore/internal/bus"
	"github.com/nidhogg/lexicore/internal/catalog"
	"github.com/nidhogg/lexicore/internal/review"
	"github.com/nidhogg/lexicore/internal/sediment"
	"github.com/nidhogg/lexicore/internal/store"
	"github.com/nidhogg/lexicore/internal/synthesis"
	"go.uber.org/zap"
)

// Persister is the storage boundary. *store.Store implements it.
type Persister interface {
	Load(ctx context.Context) (*store.Snapshot, error)
	Save(ctx context.Context, snap *store.Snapshot) error
}

// Options configures New. Catalog is required; Synthesizer and Persister are
// optional.
type Options struct {
	LogSize     int
	Review      review.Config
	Catalog     catalog.Catalog
	Synthesizer synthesis.Synthesizer
	Persister   Persister
}

// Coordinator holds the single instance of every engine component.
type Coordinator struct {
	Bus       *bus.MessageBus
	Catalog   catalog.Catalog
	Cache     *synthesis.Cache
	Resolver  *synthesis.Resolver
	Scorer    *sediment.Scorer
	Scheduler *review.Scheduler

	persist Persister
	unsubs  []bus.Unsubscribe
	logger  *zap.Logger
}

// New builds the components and attaches their subscriptions.
func New(opts Options, logger *zap.Logger) (*Coordinator, error) {
	if opts.Catalog == nil {
		return nil, fmt.Errorf("create coordinator: catalog is required")
	}

	b := bus.New(opts.LogSize, logger.Named("bus"))
	cache := synthesis.NewCache()
	c := &Coordinator{
		Bus:       b,
		Catalog:   opts.Catalog,
		Cache:     cache,
		Resolver:  synthesis.NewResolver(cache, opts.Synthesizer, b, logger.Named("synthesis")),
		Scorer:    sediment.NewScorer(b, logger.Named("sediment")),
		Scheduler: review.NewScheduler(opts.Review, opts.Catalog, b, logger.Named("review")),
		persist:   opts.Persister,
		logger:    logger,
	}

	c.unsubs = append(c.unsubs,
		c.Scorer.Attach(b),
		c.Scheduler.Attach(b),
	)
	if c.persist != nil {
		c.unsubs = append(c.unsubs, attachPersistence(b, c.persist, logger.Named("persist"))...)
	}
	return c, nil
}

// Restore loads the persisted snapshot into the components. It is a no-op
// without a Persister.
func (c *Coordinator) Restore(ctx context.Context) error {
	if c.persist == nil {
		return nil
	}
	snap, err := c.persist.Load(ctx)
	if err != nil {
		return fmt.Errorf("restore state: %w", err)
	}
	c.Scheduler.Restore(snap.Mastery)
	c.Scorer.Restore(snap.MetaData, snap.Votes)
	c.Scorer.RestoreReports(snap.Reports)
	c.Cache.Restore(snap.Cache)

	c.logger.Info("engine state restored",
		zap.Int("version", snap.Version),
		zap.Int("mastery", len(snap.Mastery)),
		zap.Int("meta_data", len(snap.MetaData)),
		zap.Int("cache", len(snap.Cache)))
	return nil
}

// Close detaches every subscription New registered.
func (c *Coordinator) Close() {
	for _, u := range c.unsubs {
		u()
	}
	c.unsubs = nil
}
