package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nidhogg/lexicore/internal/bus"
	"github.com/nidhogg/lexicore/internal/catalog"
	"github.com/nidhogg/lexicore/internal/review"
	"github.com/nidhogg/lexicore/internal/sediment"
	"github.com/nidhogg/lexicore/internal/store"
	"github.com/nidhogg/lexicore/internal/synthesis"
	"go.uber.org/zap"
)

type fakePersister struct {
	mu      sync.Mutex
	saved   []*store.Snapshot
	loaded  *store.Snapshot
	saveErr error
}

func (f *fakePersister) Load(context.Context) (*store.Snapshot, error) {
	if f.loaded == nil {
		return &store.Snapshot{}, nil
	}
	return f.loaded, nil
}

func (f *fakePersister) Save(_ context.Context, snap *store.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, snap)
	return nil
}

func (f *fakePersister) merged() *store.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &store.Snapshot{}
	for _, s := range f.saved {
		out.Mastery = append(out.Mastery, s.Mastery...)
		out.MetaData = append(out.MetaData, s.MetaData...)
		out.Votes = append(out.Votes, s.Votes...)
		out.Reports = append(out.Reports, s.Reports...)
		out.Cache = append(out.Cache, s.Cache...)
	}
	return out
}

type echoSynth struct{ calls int }

func (e *echoSynth) Synthesize(_ context.Context, ids []string) (json.RawMessage, error) {
	e.calls++
	return json.Marshal(map[string]any{"inputs": ids})
}

func testCatalog() catalog.Catalog {
	return catalog.NewMemoryCatalog(
		&catalog.Sense{ID: "run-1", Lemma: "run", Gloss: "move fast on foot", Level: catalog.A1},
		&catalog.Sense{ID: "walk-1", Lemma: "walk", Gloss: "move at a regular pace", Level: catalog.A1},
		&catalog.Sense{ID: "eat-1", Lemma: "eat", Gloss: "take in food", Level: catalog.A1},
	)
}

func newTestCoordinator(t *testing.T, p Persister, synth synthesis.Synthesizer) *Coordinator {
	t.Helper()
	c, err := New(Options{
		Review:      review.Config{Seed: 1},
		Catalog:     testCatalog(),
		Synthesizer: synth,
		Persister:   p,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestNewRequiresCatalog(t *testing.T) {
	if _, err := New(Options{}, zap.NewNop()); err == nil {
		t.Error("expected error without catalog")
	}
}

func TestReviewFlowPersistsMastery(t *testing.T) {
	p := &fakePersister{}
	c := newTestCoordinator(t, p, nil)
	ctx := context.Background()

	sess, err := c.Scheduler.CreateSession(ctx, "l1", []string{"run-1"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	for _, g := range sess.Games {
		c.Bus.Send(ctx, bus.AnswerSubmitted, review.Answer{
			SessionID: sess.ID, GameID: g.ID, Answer: g.Answer, Elapsed: time.Second,
		}, "test")
	}
	if _, err := c.Scheduler.CompleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}

	got := p.merged()
	if len(got.Mastery) != 1 {
		t.Fatalf("persisted %d mastery records, want 1", len(got.Mastery))
	}
	m := got.Mastery[0]
	if m.LearnerID != "l1" || m.SenseID != "run-1" || m.CorrectCount != len(sess.Games) {
		t.Errorf("persisted record = %+v", m)
	}
}

func TestFeedbackAndReportsPersist(t *testing.T) {
	p := &fakePersister{}
	c := newTestCoordinator(t, p, nil)
	ctx := context.Background()

	c.Bus.Send(ctx, bus.FeedbackSubmitted, sediment.Feedback{UserID: "u1", TargetID: "run-1", Type: sediment.Upvote}, "test")
	c.Bus.Send(ctx, bus.FeedbackSubmitted, sediment.Feedback{UserID: "u1", TargetID: "run-1", Type: sediment.Upvote}, "test")
	if _, err := c.Scorer.SubmitReport(ctx, "u2", "run-1", sediment.ReportIncorrect, "bad"); err != nil {
		t.Fatalf("SubmitReport: %v", err)
	}

	got := p.merged()
	if len(got.Votes) != 1 || got.Votes[0].UserID != "u1" {
		t.Errorf("votes = %+v", got.Votes)
	}
	if len(got.Reports) != 1 || got.Reports[0].Description != "bad" {
		t.Errorf("reports = %+v", got.Reports)
	}
	last := got.MetaData[len(got.MetaData)-1]
	if last.Upvotes != 1 || last.Reports != 1 {
		t.Errorf("latest meta = %+v", last)
	}
}

func TestSynthesisPersistsMissAndHit(t *testing.T) {
	p := &fakePersister{}
	synth := &echoSynth{}
	c := newTestCoordinator(t, p, synth)
	ctx := context.Background()

	if _, hit, err := c.Resolver.Resolve(ctx, []string{"walk-1", "run-1"}); err != nil || hit {
		t.Fatalf("first Resolve: hit=%v err=%v", hit, err)
	}
	e, hit, err := c.Resolver.Resolve(ctx, []string{"run-1", "walk-1"})
	if err != nil || !hit {
		t.Fatalf("second Resolve: hit=%v err=%v", hit, err)
	}
	if synth.calls != 1 {
		t.Errorf("synthesizer called %d times", synth.calls)
	}

	got := p.merged()
	if len(got.Cache) != 2 {
		t.Fatalf("persisted %d cache entries, want 2", len(got.Cache))
	}
	if got.Cache[1].UsageCount != 1 || got.Cache[1].Key != e.Key {
		t.Errorf("hit entry = %+v", got.Cache[1])
	}
}

func TestPersistFailureDoesNotBreakCallers(t *testing.T) {
	p := &fakePersister{saveErr: errors.New("db down")}
	c := newTestCoordinator(t, p, nil)
	ctx := context.Background()

	m, err := c.Scorer.SubmitFeedback(ctx, sediment.Feedback{UserID: "u1", TargetID: "run-1", Type: sediment.Downvote})
	if err != nil {
		t.Fatalf("SubmitFeedback: %v", err)
	}
	if m.Downvotes != 1 {
		t.Errorf("meta = %+v", m)
	}
}

func TestRestore(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	p := &fakePersister{loaded: &store.Snapshot{
		Version: 1,
		Mastery: []*review.MasteryRecord{{LearnerID: "l1", SenseID: "run-1", Level: 40, NextReview: now.Add(time.Hour)}},
		MetaData: []*sediment.MetaData{{TargetID: "run-1", Upvotes: 10}},
		Votes:    []*sediment.Vote{{UserID: "u1", TargetID: "run-1", Type: sediment.Upvote}},
		Reports:  []*sediment.ErrorReport{{ID: "r1", UserID: "u3", TargetID: "run-1"}},
		Cache: []*synthesis.CachedSynthesis{{
			InputIDs: []string{"walk-1", "run-1"}, Result: json.RawMessage(`{}`),
		}},
	}}
	c := newTestCoordinator(t, p, nil)
	ctx := context.Background()
	if err := c.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if m, ok := c.Scheduler.Mastery("l1", "run-1"); !ok || m.Level != 40 {
		t.Errorf("mastery = %+v", m)
	}
	// One saved vote and one saved report outweigh the stale aggregate.
	if m, ok := c.Scorer.GetMetaData("run-1"); !ok || m.Upvotes != 1 || m.Reports != 1 ||
		m.Stability != sediment.Stability(1, 0, 1) {
		t.Errorf("meta = %+v", m)
	}
	if _, err := c.Scorer.SubmitFeedback(ctx, sediment.Feedback{UserID: "u1", TargetID: "run-1", Type: sediment.Upvote}); !errors.Is(err, sediment.ErrDuplicateVote) {
		t.Errorf("restored vote not enforced: %v", err)
	}
	if len(c.Scorer.Reports("run-1")) != 1 {
		t.Error("reports not restored")
	}
	if _, hit, err := c.Resolver.Resolve(ctx, []string{"run-1", "walk-1"}); err != nil || !hit {
		t.Errorf("restored cache miss: hit=%v err=%v", hit, err)
	}
}

// lastWritePersister keeps only the most recently saved aggregate per target,
// the way an unguarded upsert would, plus every vote.
type lastWritePersister struct {
	mu    sync.Mutex
	meta  map[string]*sediment.MetaData
	votes []*sediment.Vote
}

func (l *lastWritePersister) Load(context.Context) (*store.Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	snap := &store.Snapshot{Votes: l.votes}
	for _, m := range l.meta {
		snap.MetaData = append(snap.MetaData, m)
	}
	return snap, nil
}

func (l *lastWritePersister) Save(ctx context.Context, snap *store.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.meta == nil {
		l.meta = make(map[string]*sediment.MetaData)
	}
	for _, m := range snap.MetaData {
		l.meta[m.TargetID] = m
	}
	l.votes = append(l.votes, snap.Votes...)
	return nil
}

func TestConcurrentVotesSurviveRestart(t *testing.T) {
	p := &lastWritePersister{}
	c := newTestCoordinator(t, p, nil)
	ctx := context.Background()

	const voters = 64
	var wg sync.WaitGroup
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fb := sediment.Feedback{UserID: fmt.Sprintf("u%d", i), TargetID: "run-1", Type: sediment.Upvote}
			if _, err := c.Scorer.SubmitFeedback(ctx, fb); err != nil {
				t.Errorf("vote %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if m, _ := c.Scorer.GetMetaData("run-1"); m.Upvotes != voters || m.Revision != voters {
		t.Fatalf("in memory: %+v", m)
	}

	restarted := newTestCoordinator(t, p, nil)
	if err := restarted.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	m, ok := restarted.Scorer.GetMetaData("run-1")
	if !ok || m.Upvotes != voters {
		t.Fatalf("restored = %+v", m)
	}
	if m.Stability != sediment.Stability(voters, 0, 0) {
		t.Errorf("restored stability = %v", m.Stability)
	}
}

func TestSaveOutlivesCancelledRequest(t *testing.T) {
	p := &lastWritePersister{}
	c := newTestCoordinator(t, p, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Scorer.SubmitFeedback(ctx, sediment.Feedback{UserID: "u1", TargetID: "run-1", Type: sediment.Upvote}); err != nil {
		t.Fatalf("SubmitFeedback: %v", err)
	}
	snap, _ := p.Load(context.Background())
	if len(snap.MetaData) != 1 || len(snap.Votes) != 1 {
		t.Errorf("saved %d meta, %d votes after cancelled request", len(snap.MetaData), len(snap.Votes))
	}
}

func TestRestoreWithoutPersister(t *testing.T) {
	c := newTestCoordinator(t, nil, nil)
	if err := c.Restore(context.Background()); err != nil {
		t.Errorf("Restore = %v", err)
	}
	if n := c.Bus.Subscribers(bus.MasteryUpdated); n != 0 {
		t.Errorf("got %d persistence subscribers without persister", n)
	}
}

func TestCloseDetachesSubscriptions(t *testing.T) {
	c := newTestCoordinator(t, &fakePersister{}, nil)
	if c.Bus.Subscribers(bus.FeedbackSubmitted) != 1 || c.Bus.Subscribers(bus.MasteryUpdated) != 1 {
		t.Fatal("subscriptions missing after New")
	}
	c.Close()
	for _, typ := range []bus.EventType{bus.FeedbackSubmitted, bus.AnswerSubmitted, bus.MasteryUpdated, bus.SynthesisCacheHit} {
		if n := c.Bus.Subscribers(typ); n != 0 {
			t.Errorf("%s still has %d subscribers", typ, n)
		}
	}
}

func TestSnapshotForUnknownPayload(t *testing.T) {
	if _, err := snapshotFor(&bus.Message{Type: bus.MasteryUpdated, Payload: "x"}); err == nil {
		t.Error("expected error for unknown payload")
	}
}
