package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/lexicore/internal/bus"
	"github.com/nidhogg/lexicore/internal/review"
	"github.com/nidhogg/lexicore/internal/sediment"
	"github.com/nidhogg/lexicore/internal/store"
	"github.com/nidhogg/lexicore/internal/synthesis"
	"go.uber.org/zap"
)

// saveTimeout bounds a single save. Saves outlive the request that caused
// them.
const saveTimeout = 10 * time.Second

// attachPersistence saves the partial state carried by each state-changing
// event. Save failures surface as handler faults and are logged by the bus.
func attachPersistence(b *bus.MessageBus, p Persister, logger *zap.Logger) []bus.Unsubscribe {
	save := func(ctx context.Context, msg *bus.Message) error {
		snap, err := snapshotFor(msg)
		if err != nil {
			return err
		}
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
		defer cancel()
		if err := p.Save(saveCtx, snap); err != nil {
			return fmt.Errorf("persist %s: %w", msg.Type, err)
		}
		logger.Debug("state persisted", zap.String("type", string(msg.Type)), zap.String("id", msg.ID))
		return nil
	}

	types := []bus.EventType{
		bus.MasteryUpdated,
		bus.MetaDataUpdated,
		bus.ErrorReported,
		bus.SynthesisCompleted,
		bus.SynthesisCacheHit,
	}
	unsubs := make([]bus.Unsubscribe, len(types))
	for i, t := range types {
		unsubs[i] = b.Subscribe(t, save)
	}
	return unsubs
}

// snapshotFor converts an event payload into the partial snapshot to save.
func snapshotFor(msg *bus.Message) (*store.Snapshot, error) {
	snap := &store.Snapshot{Version: store.SchemaVersion}
	switch p := msg.Payload.(type) {
	case *review.MasteryChange:
		snap.Mastery = []*review.MasteryRecord{p.Record}
	case *sediment.MetaDataChange:
		snap.MetaData = []*sediment.MetaData{p.MetaData}
		if p.Vote != nil {
			snap.Votes = []*sediment.Vote{p.Vote}
		}
	case *sediment.ErrorReport:
		snap.Reports = []*sediment.ErrorReport{p}
	case *synthesis.CachedSynthesis:
		snap.Cache = []*synthesis.CachedSynthesis{p}
	default:
		return nil, fmt.Errorf("persist %s: unexpected payload %T", msg.Type, msg.Payload)
	}
	return snap, nil
}
