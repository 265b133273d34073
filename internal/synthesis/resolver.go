package synthesis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nidhogg/lexicore/internal/bus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const source = "synthesis"

// synthTimeout bounds one shared Synthesizer call. The call is detached from
// the caller that started it because other callers may be waiting on it.
const synthTimeout = 2 * time.Minute

var (
	// ErrNoSynthesizer is returned on a cache miss when no Synthesizer is configured.
	ErrNoSynthesizer = errors.New("no synthesizer configured")

	// ErrEmptyInput is returned when Resolve is called without input ids.
	ErrEmptyInput = errors.New("synthesis requires at least one input id")
)

// Synthesizer performs the expensive computation for an input set. The result
// must be serializable; its shape is opaque to the cache.
type Synthesizer interface {
	Synthesize(ctx context.Context, inputIDs []string) (json.RawMessage, error)
}

// Request is the payload of SYNTHESIS_REQUESTED.
type Request struct {
	Key      string   `json:"key"`
	InputIDs []string `json:"input_ids"`
}

// Resolver consults the cache before asking the Synthesizer for a result.
type Resolver struct {
	cache  *Cache
	synth  Synthesizer
	bus    *bus.MessageBus
	flight singleflight.Group
	logger *zap.Logger
}

// NewResolver creates a resolver. synth may be nil, in which case only
// cached results can be served.
func NewResolver(cache *Cache, synth Synthesizer, b *bus.MessageBus, logger *zap.Logger) *Resolver {
	return &Resolver{cache: cache, synth: synth, bus: b, logger: logger}
}

// Cache returns the underlying cache.
func (r *Resolver) Cache() *Cache { return r.cache }

// Resolve returns the synthesis for inputIDs and whether it came from the
// cache. A hit never reaches the Synthesizer. Concurrent misses for the same
// input set share one Synthesizer call.
func (r *Resolver) Resolve(ctx context.Context, inputIDs []string) (*CachedSynthesis, bool, error) {
	ids := Normalize(inputIDs)
	if len(ids) == 0 {
		return nil, false, ErrEmptyInput
	}

	if e, ok := r.cache.Lookup(ids); ok {
		r.bus.Send(ctx, bus.SynthesisCacheHit, e, source)
		return e, true, nil
	}
	if r.synth == nil {
		return nil, false, ErrNoSynthesizer
	}

	key := Key(ids)
	v, err, _ := r.flight.Do(key, func() (interface{}, error) {
		r.bus.Send(ctx, bus.SynthesisRequested, &Request{Key: key, InputIDs: ids}, source)

		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), synthTimeout)
		defer cancel()
		result, err := r.synth.Synthesize(sctx, ids)
		if err != nil {
			metricSynthesisFailures.Inc()
			return nil, fmt.Errorf("synthesize %s: %w", key, err)
		}
		e := r.cache.Store(ids, result)
		r.logger.Info("synthesis stored",
			zap.String("key", key),
			zap.Int("inputs", len(ids)))
		r.bus.Send(ctx, bus.SynthesisCompleted, e, source)
		return e, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*CachedSynthesis).clone(), false, nil
}
