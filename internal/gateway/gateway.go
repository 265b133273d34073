package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Gateway fans announcements out to the registered adapters.
type Gateway struct {
	adapters map[string]Adapter
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewGateway creates an empty gateway.
func NewGateway(logger *zap.Logger) *Gateway {
	return &Gateway{
		adapters: make(map[string]Adapter),
		logger:   logger,
	}
}

// Register adds an adapter, replacing any for the same platform.
func (g *Gateway) Register(a Adapter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.adapters[a.Platform()] = a
	g.logger.Info("registered gateway adapter", zap.String("platform", a.Platform()))
}

// ConnectAll connects every adapter. An adapter that fails to connect is
// dropped so announcements keep flowing to the rest.
func (g *Gateway) ConnectAll(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var failed []string
	for platform, a := range g.adapters {
		if err := a.Connect(ctx); err != nil {
			g.logger.Error("adapter connect failed",
				zap.String("platform", platform), zap.Error(err))
			delete(g.adapters, platform)
			failed = append(failed, platform)
			continue
		}
		g.logger.Info("adapter connected", zap.String("platform", platform))
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		return fmt.Errorf("connect adapters: %v failed", failed)
	}
	return nil
}

// Broadcast delivers a to every adapter, or to a.Platforms when set.
func (g *Gateway) Broadcast(ctx context.Context, a *Announcement) error {
	g.mu.RLock()
	targets := make(map[string]Adapter, len(g.adapters))
	if len(a.Platforms) == 0 {
		for p, ad := range g.adapters {
			targets[p] = ad
		}
	} else {
		for _, p := range a.Platforms {
			if ad, ok := g.adapters[p]; ok {
				targets[p] = ad
			}
		}
	}
	g.mu.RUnlock()

	var errs int
	for platform, ad := range targets {
		if err := ad.Announce(ctx, a); err != nil {
			g.logger.Error("announcement failed",
				zap.String("platform", platform), zap.Error(err))
			errs++
		}
	}
	if errs > 0 {
		return fmt.Errorf("announce failed on %d platform(s)", errs)
	}
	return nil
}

// Close shuts down all adapters.
func (g *Gateway) Close() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for platform, a := range g.adapters {
		if err := a.Close(); err != nil {
			g.logger.Error("adapter close failed",
				zap.String("platform", platform), zap.Error(err))
		}
	}
	return nil
}

// Adapters returns the registered platform names, sorted.
func (g *Gateway) Adapters() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.adapters))
	for p := range g.adapters {
		names = append(names, p)
	}
	sort.Strings(names)
	return names
}
