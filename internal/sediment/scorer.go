// Package sediment turns community upvotes, downvotes and reports into a
// bounded stability score per Sense or Construction.
package sediment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/lexicore/internal/bus"
	"go.uber.org/zap"
)

const source = "sediment"

// Scorer owns the feedback aggregates and enforces one vote per user and target.
type Scorer struct {
	mu      sync.RWMutex
	meta    map[string]*MetaData
	voted   map[string]map[string]struct{} // userID -> targetIDs
	reports map[string][]*ErrorReport      // targetID -> reports
	bus     *bus.MessageBus
	now     func() time.Time
	logger  *zap.Logger
}

// NewScorer creates a scorer that announces changes on b.
func NewScorer(b *bus.MessageBus, logger *zap.Logger) *Scorer {
	return &Scorer{
		meta:    make(map[string]*MetaData),
		voted:   make(map[string]map[string]struct{}),
		reports: make(map[string][]*ErrorReport),
		bus:     b,
		now:     time.Now,
		logger:  logger,
	}
}

// Attach subscribes the scorer to FEEDBACK_SUBMITTED.
func (s *Scorer) Attach(b *bus.MessageBus) bus.Unsubscribe {
	return b.Subscribe(bus.FeedbackSubmitted, s.onFeedback)
}

func (s *Scorer) onFeedback(ctx context.Context, msg *bus.Message) error {
	var fb *Feedback
	switch p := msg.Payload.(type) {
	case Feedback:
		fb = &p
	case *Feedback:
		fb = p
	default:
		return fmt.Errorf("unexpected feedback payload %T", msg.Payload)
	}
	m, err := s.SubmitFeedback(ctx, *fb)
	fb.handled, fb.meta, fb.err = true, m, err
	if errors.Is(err, ErrDuplicateVote) || errors.Is(err, ErrInvalidVote) {
		return nil
	}
	return err
}

// entry returns the aggregate for target, creating it. Caller holds s.mu.
func (s *Scorer) entry(targetID string, kind TargetKind) *MetaData {
	m, ok := s.meta[targetID]
	if !ok {
		if kind == "" {
			kind = KindSense
		}
		m = &MetaData{TargetID: targetID, Kind: kind, Stability: neutralStability}
		s.meta[targetID] = m
	}
	return m
}

// SubmitFeedback records a vote. A second vote by the same user on the same
// target returns ErrDuplicateVote and changes nothing.
func (s *Scorer) SubmitFeedback(ctx context.Context, fb Feedback) (*MetaData, error) {
	fb.UserID = strings.TrimSpace(fb.UserID)
	fb.TargetID = strings.TrimSpace(fb.TargetID)
	if fb.UserID == "" || fb.TargetID == "" || (fb.Type != Upvote && fb.Type != Downvote) {
		return nil, ErrInvalidVote
	}

	s.mu.Lock()
	targets, ok := s.voted[fb.UserID]
	if !ok {
		targets = make(map[string]struct{})
		s.voted[fb.UserID] = targets
	}
	if _, dup := targets[fb.TargetID]; dup {
		s.mu.Unlock()
		metricVotes.WithLabelValues("rejected").Inc()
		s.logger.Debug("duplicate vote rejected",
			zap.String("user", fb.UserID),
			zap.String("target", fb.TargetID))
		s.bus.Send(ctx, bus.FeedbackRejected, &Rejection{Feedback: fb, Reason: ErrDuplicateVote.Error()}, source)
		return nil, ErrDuplicateVote
	}
	targets[fb.TargetID] = struct{}{}

	now := s.now()
	m := s.entry(fb.TargetID, fb.Kind)
	if fb.Type == Upvote {
		m.Upvotes++
	} else {
		m.Downvotes++
	}
	m.Stability = Stability(m.Upvotes, m.Downvotes, m.Reports)
	m.UpdatedAt = now
	m.Revision++
	out := m.clone()
	s.mu.Unlock()

	metricVotes.WithLabelValues("accepted").Inc()
	vote := &Vote{UserID: fb.UserID, TargetID: fb.TargetID, Type: fb.Type, CastAt: now}
	s.bus.Send(ctx, bus.MetaDataUpdated, &MetaDataChange{MetaData: out.clone(), Cause: CauseVote, Vote: vote}, source)
	return out, nil
}

// SubmitReport files an error report, lowers the target's stability and
// announces both.
func (s *Scorer) SubmitReport(ctx context.Context, userID, targetID string, category ReportCategory, description string) (*ErrorReport, error) {
	userID = strings.TrimSpace(userID)
	targetID = strings.TrimSpace(targetID)
	if userID == "" || targetID == "" {
		return nil, ErrInvalidReport
	}
	switch category {
	case ReportIncorrect, ReportOffensive, ReportDuplicate, ReportOther:
	default:
		category = ReportOther
	}

	now := s.now()
	report := &ErrorReport{
		ID:          uuid.New().String(),
		UserID:      userID,
		TargetID:    targetID,
		Category:    category,
		Description: description,
		CreatedAt:   now,
	}

	s.mu.Lock()
	m := s.entry(targetID, "")
	m.Reports++
	m.Stability = Stability(m.Upvotes, m.Downvotes, m.Reports)
	m.UpdatedAt = now
	m.Revision++
	s.reports[targetID] = append(s.reports[targetID], report)
	out := m.clone()
	s.mu.Unlock()

	s.logger.Info("error reported",
		zap.String("target", targetID),
		zap.String("category", string(category)),
		zap.Int("reports", out.Reports))
	cp := *report
	s.bus.Send(ctx, bus.ErrorReported, &cp, source)
	s.bus.Send(ctx, bus.MetaDataUpdated, &MetaDataChange{MetaData: out, Cause: CauseReport}, source)
	return report, nil
}

// ClaimDiscovery records userID as the first discoverer of target. It returns
// true only for the call that actually set it; later claims are ignored.
func (s *Scorer) ClaimDiscovery(ctx context.Context, targetID string, kind TargetKind, userID string) (*MetaData, bool) {
	s.mu.Lock()
	m := s.entry(targetID, kind)
	if m.FirstDiscoverer != "" || userID == "" {
		out := m.clone()
		s.mu.Unlock()
		return out, false
	}
	now := s.now()
	m.FirstDiscoverer = userID
	m.DiscoveredAt = &now
	m.UpdatedAt = now
	m.Revision++
	out := m.clone()
	s.mu.Unlock()

	s.bus.Send(ctx, bus.FirstDiscovererSet, &Discovery{TargetID: targetID, Kind: out.Kind, UserID: userID, At: now}, source)
	s.bus.Send(ctx, bus.MetaDataUpdated, &MetaDataChange{MetaData: out.clone(), Cause: CauseDiscovery}, source)
	return out, true
}

// RecordUsage increments the usage counter of target.
func (s *Scorer) RecordUsage(ctx context.Context, targetID string, kind TargetKind) *MetaData {
	s.mu.Lock()
	m := s.entry(targetID, kind)
	m.UsageCount++
	m.UpdatedAt = s.now()
	m.Revision++
	out := m.clone()
	s.mu.Unlock()

	s.bus.Send(ctx, bus.MetaDataUpdated, &MetaDataChange{MetaData: out.clone(), Cause: CauseUsage}, source)
	return out
}

// GetMetaData returns a copy of the aggregate for target.
func (s *Scorer) GetMetaData(targetID string) (*MetaData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.meta[targetID]
	if !ok {
		return nil, false
	}
	return m.clone(), true
}

// HasVoted reports whether userID has voted on targetID.
func (s *Scorer) HasVoted(userID, targetID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.voted[userID][targetID]
	return ok
}

// Reports returns the error reports filed against target, oldest first.
func (s *Scorer) Reports(targetID string) []*ErrorReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ErrorReport, len(s.reports[targetID]))
	for i, r := range s.reports[targetID] {
		cp := *r
		out[i] = &cp
	}
	return out
}

// Restore loads persisted aggregates and votes. The votes are authoritative:
// vote counts of every voted target are recounted from them, and stability is
// recomputed.
func (s *Scorer) Restore(meta []*MetaData, votes []*Vote) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range meta {
		cp := m.clone()
		if cp.Kind == "" {
			cp.Kind = KindSense
		}
		s.meta[cp.TargetID] = cp
	}

	type tally struct{ up, down int }
	counts := make(map[string]*tally)
	for _, v := range votes {
		targets, ok := s.voted[v.UserID]
		if !ok {
			targets = make(map[string]struct{})
			s.voted[v.UserID] = targets
		}
		if _, dup := targets[v.TargetID]; dup {
			continue
		}
		targets[v.TargetID] = struct{}{}

		c, ok := counts[v.TargetID]
		if !ok {
			c = &tally{}
			counts[v.TargetID] = c
		}
		if v.Type == Downvote {
			c.down++
		} else {
			c.up++
		}
	}
	for id, c := range counts {
		m := s.entry(id, "")
		m.Upvotes, m.Downvotes = c.up, c.down
	}
	for _, m := range s.meta {
		m.Stability = Stability(m.Upvotes, m.Downvotes, m.Reports)
	}
	s.logger.Info("sedimentation state restored",
		zap.Int("targets", len(meta)),
		zap.Int("votes", len(votes)))
}

// RestoreReports loads persisted error reports. The report count of every
// known aggregate with reports is recounted from them.
func (s *Scorer) RestoreReports(reports []*ErrorReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	touched := make(map[string]bool)
	for _, r := range reports {
		cp := *r
		s.reports[r.TargetID] = append(s.reports[r.TargetID], &cp)
		touched[r.TargetID] = true
	}
	for id := range touched {
		if m, ok := s.meta[id]; ok {
			m.Reports = len(s.reports[id])
			m.Stability = Stability(m.Upvotes, m.Downvotes, m.Reports)
		}
	}
}
