// Package review schedules spaced-repetition sessions, grades mini-games and
// maintains per-learner mastery.
package review

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/lexicore/internal/bus"
	"github.com/nidhogg/lexicore/internal/catalog"
	"go.uber.org/zap"
)

const (
	source = "review"

	newSensePriority = 1000
	overduePriority  = 100
)

// Config tunes session construction. Zero values select defaults.
type Config struct {
	GamesPerSense int
	TimeLimits    map[GameType]time.Duration
	Seed          int64
}

// Scheduler owns review sessions and mastery records.
type Scheduler struct {
	cfg     Config
	catalog catalog.Catalog
	bus     *bus.MessageBus

	sessMu   sync.RWMutex
	sessions map[string]*ReviewSession

	mastMu  sync.RWMutex
	mastery map[string]map[string]*MasteryRecord // learnerID -> senseID -> record

	rngMu sync.Mutex
	rng   *rand.Rand

	now    func() time.Time
	logger *zap.Logger
}

// NewScheduler creates a scheduler reading Sense content from cat and
// announcing progress on b.
func NewScheduler(cfg Config, cat catalog.Catalog, b *bus.MessageBus, logger *zap.Logger) *Scheduler {
	if cfg.GamesPerSense <= 0 {
		cfg.GamesPerSense = 2
	}
	limits := make(map[GameType]time.Duration, len(DefaultTimeLimits))
	for t, d := range DefaultTimeLimits {
		limits[t] = d
	}
	for t, d := range cfg.TimeLimits {
		if d > 0 {
			limits[t] = d
		}
	}
	cfg.TimeLimits = limits
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Scheduler{
		cfg:      cfg,
		catalog:  cat,
		bus:      b,
		sessions: make(map[string]*ReviewSession),
		mastery:  make(map[string]map[string]*MasteryRecord),
		rng:      rand.New(rand.NewSource(seed)),
		now:      time.Now,
		logger:   logger,
	}
}

// Attach subscribes the scheduler to ANSWER_SUBMITTED.
func (s *Scheduler) Attach(b *bus.MessageBus) bus.Unsubscribe {
	return b.Subscribe(bus.AnswerSubmitted, s.onAnswer)
}

func (s *Scheduler) onAnswer(ctx context.Context, msg *bus.Message) error {
	var a *Answer
	switch p := msg.Payload.(type) {
	case Answer:
		a = &p
	case *Answer:
		a = p
	default:
		return fmt.Errorf("unexpected answer payload %T", msg.Payload)
	}
	g, err := s.SubmitAnswer(ctx, a.SessionID, a.GameID, a.Answer, a.Elapsed)
	a.handled, a.game, a.err = true, g, err
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrGameNotFound),
		errors.Is(err, ErrGameAnswered), errors.Is(err, ErrSessionCompleted):
		s.logger.Warn("answer ignored",
			zap.String("session", a.SessionID),
			zap.String("game", a.GameID),
			zap.Error(err))
		return nil
	}
	return err
}

// SelectDue picks up to count senses for learner. Never-reviewed senses come
// first, then overdue ones ordered by how many days late they are. Senses not
// yet due are skipped.
func (s *Scheduler) SelectDue(learnerID string, senseIDs []string, count int) []string {
	if count <= 0 {
		return nil
	}
	now := s.now()

	type candidate struct {
		id       string
		priority float64
	}
	var due []candidate
	seen := make(map[string]bool, len(senseIDs))

	s.mastMu.RLock()
	records := s.mastery[learnerID]
	for _, id := range senseIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		rec, ok := records[id]
		switch {
		case !ok:
			due = append(due, candidate{id, newSensePriority})
		case !rec.NextReview.After(now):
			days := now.Sub(rec.NextReview).Hours() / 24
			due = append(due, candidate{id, overduePriority + days})
		}
	}
	s.mastMu.RUnlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].priority > due[j].priority })
	if len(due) > count {
		due = due[:count]
	}
	out := make([]string, len(due))
	for i, c := range due {
		out[i] = c.id
	}
	return out
}

// CreateSession builds a session with GamesPerSense mini-games per sense.
// Formats follow the learner's current mastery of each sense.
func (s *Scheduler) CreateSession(ctx context.Context, learnerID string, senseIDs []string) (*ReviewSession, error) {
	ids := dedupe(senseIDs)
	if len(ids) == 0 {
		return nil, ErrEmptySession
	}

	targets := make([]*catalog.Sense, len(ids))
	for i, id := range ids {
		sense, err := s.catalog.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load sense %s: %w", id, err)
		}
		targets[i] = sense
	}
	all, err := s.catalog.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list senses: %w", err)
	}

	sess := &ReviewSession{
		ID:        uuid.New().String(),
		LearnerID: learnerID,
		SenseIDs:  ids,
		StartedAt: s.now(),
	}

	s.rngMu.Lock()
	for _, target := range targets {
		pool := make([]*catalog.Sense, 0, len(all))
		for _, c := range all {
			if c.ID != target.ID {
				pool = append(pool, c)
			}
		}
		level := 0
		if rec, ok := s.Mastery(learnerID, target.ID); ok {
			level = rec.Level
		}
		for _, t := range pickGameTypes(s.rng, level, s.cfg.GamesPerSense) {
			q, answer := buildQuestion(s.rng, t, target, pool)
			sess.Games = append(sess.Games, &MiniGame{
				ID:        uuid.New().String(),
				Type:      t,
				SenseID:   target.ID,
				Question:  q,
				Answer:    answer,
				TimeLimit: s.cfg.TimeLimits[t],
			})
		}
	}
	s.rng.Shuffle(len(sess.Games), func(i, j int) {
		sess.Games[i], sess.Games[j] = sess.Games[j], sess.Games[i]
	})
	s.rngMu.Unlock()
	sess.MaxScore = 100 * len(sess.Games)

	s.sessMu.Lock()
	s.sessions[sess.ID] = sess
	out := sess.clone()
	s.sessMu.Unlock()

	s.logger.Info("review session created",
		zap.String("session", sess.ID),
		zap.String("learner", learnerID),
		zap.Int("senses", len(ids)),
		zap.Int("games", len(sess.Games)))
	s.bus.Send(ctx, bus.ReviewSessionStarted, out.redacted(), source)
	return out, nil
}

// SubmitAnswer grades one mini-game. Each game accepts exactly one answer.
func (s *Scheduler) SubmitAnswer(ctx context.Context, sessionID, gameID, answer string, elapsed time.Duration) (*MiniGame, error) {
	s.sessMu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.sessMu.Unlock()
		return nil, ErrSessionNotFound
	}
	if sess.CompletedAt != nil {
		s.sessMu.Unlock()
		return nil, ErrSessionCompleted
	}
	g := sess.game(gameID)
	if g == nil {
		s.sessMu.Unlock()
		return nil, ErrGameNotFound
	}
	if g.Answered() {
		s.sessMu.Unlock()
		return nil, ErrGameAnswered
	}

	elapsed = max(elapsed, 0)
	g.PlayerAnswer = &answer
	g.Elapsed = elapsed
	g.Correct = matches(answer, g.Answer)
	g.Score = Score(g.Correct, elapsed, g.TimeLimit)
	sess.TotalScore += g.Score
	out := g.clone()
	learnerID := sess.LearnerID
	s.sessMu.Unlock()

	metricAnswers.WithLabelValues(string(out.Type), strconv.FormatBool(out.Correct)).Inc()
	s.bus.Send(ctx, bus.MiniGameCompleted, &GameResult{
		SessionID: sessionID,
		LearnerID: learnerID,
		Game:      out.clone(),
	}, source)
	return out, nil
}

// CompleteSession closes a session and folds its results into mastery.
// Completing an already completed session returns it unchanged.
// Unanswered games count as incorrect at the full time limit.
func (s *Scheduler) CompleteSession(ctx context.Context, sessionID string) (*ReviewSession, error) {
	s.sessMu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.sessMu.Unlock()
		return nil, ErrSessionNotFound
	}
	if sess.CompletedAt != nil {
		out := sess.clone()
		s.sessMu.Unlock()
		return out, nil
	}
	now := s.now()
	sess.CompletedAt = &now
	out := sess.clone()
	s.sessMu.Unlock()

	changes := s.applyResults(out, now)
	for _, c := range changes {
		s.bus.Send(ctx, bus.MasteryUpdated, c, source)
	}

	metricSessions.Inc()
	s.logger.Info("review session completed",
		zap.String("session", out.ID),
		zap.String("learner", out.LearnerID),
		zap.Int("score", out.TotalScore),
		zap.Int("max_score", out.MaxScore))
	s.bus.Send(ctx, bus.ReviewSessionCompleted, out.clone(), source)
	return out, nil
}

// applyResults updates the mastery record of every sense in sess.
func (s *Scheduler) applyResults(sess *ReviewSession, now time.Time) []*MasteryChange {
	type tally struct {
		games, correct int
		elapsed        time.Duration
	}
	tallies := make(map[string]*tally, len(sess.SenseIDs))
	for _, g := range sess.Games {
		t, ok := tallies[g.SenseID]
		if !ok {
			t = &tally{}
			tallies[g.SenseID] = t
		}
		t.games++
		if g.Answered() {
			t.elapsed += g.Elapsed
			if g.Correct {
				t.correct++
			}
		} else {
			t.elapsed += g.TimeLimit
		}
	}

	s.mastMu.Lock()
	defer s.mastMu.Unlock()

	records, ok := s.mastery[sess.LearnerID]
	if !ok {
		records = make(map[string]*MasteryRecord)
		s.mastery[sess.LearnerID] = records
	}

	changes := make([]*MasteryChange, 0, len(sess.SenseIDs))
	for _, id := range sess.SenseIDs {
		t := tallies[id]
		if t == nil || t.games == 0 {
			continue
		}
		rec, ok := records[id]
		if !ok {
			rec = &MasteryRecord{LearnerID: sess.LearnerID, SenseID: id}
			records[id] = rec
		}
		prev := rec.Level

		total := time.Duration(rec.ReviewCount)*rec.AvgResponseTime + t.elapsed
		rec.ReviewCount += t.games
		rec.CorrectCount += t.correct
		rec.AvgResponseTime = total / time.Duration(rec.ReviewCount)

		target := rec.CorrectCount * 100 / rec.ReviewCount
		rec.Level = smoothLevel(rec.Level, target)
		rec.LastReviewed = now
		rec.NextReview = now.Add(NextInterval(rec.ReviewCount, rec.Level))

		cp := *rec
		changes = append(changes, &MasteryChange{SessionID: sess.ID, PreviousLevel: prev, Record: &cp})
	}
	return changes
}

// Mastery returns a copy of learner's record for sense.
func (s *Scheduler) Mastery(learnerID, senseID string) (*MasteryRecord, bool) {
	s.mastMu.RLock()
	defer s.mastMu.RUnlock()
	rec, ok := s.mastery[learnerID][senseID]
	if !ok {
		return nil, false
	}
	cp := *rec
	return &cp, true
}

// MasteryFor returns copies of all of learner's records, ordered by sense id.
func (s *Scheduler) MasteryFor(learnerID string) []*MasteryRecord {
	s.mastMu.RLock()
	out := make([]*MasteryRecord, 0, len(s.mastery[learnerID]))
	for _, rec := range s.mastery[learnerID] {
		cp := *rec
		out = append(out, &cp)
	}
	s.mastMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SenseID < out[j].SenseID })
	return out
}

// Session returns a copy of a session.
func (s *Scheduler) Session(id string) (*ReviewSession, bool) {
	s.sessMu.RLock()
	defer s.sessMu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return sess.clone(), true
}

// Restore loads persisted mastery records, replacing any in memory.
func (s *Scheduler) Restore(records []*MasteryRecord) {
	s.mastMu.Lock()
	defer s.mastMu.Unlock()
	for _, r := range records {
		m, ok := s.mastery[r.LearnerID]
		if !ok {
			m = make(map[string]*MasteryRecord)
			s.mastery[r.LearnerID] = m
		}
		cp := *r
		cp.Level = clampLevel(cp.Level)
		m[r.SenseID] = &cp
	}
	s.logger.Info("mastery restored", zap.Int("records", len(records)))
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
