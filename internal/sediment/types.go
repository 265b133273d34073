package sediment

import (
	"errors"
	"time"
)

// TargetKind is what community feedback is about.
type TargetKind string

const (
	KindSense        TargetKind = "sense"
	KindConstruction TargetKind = "construction"
)

// VoteType is a single community judgement.
type VoteType string

const (
	Upvote   VoteType = "UPVOTE"
	Downvote VoteType = "DOWNVOTE"
)

// ReportCategory classifies an error report.
type ReportCategory string

const (
	ReportIncorrect ReportCategory = "incorrect"
	ReportOffensive ReportCategory = "offensive"
	ReportDuplicate ReportCategory = "duplicate"
	ReportOther     ReportCategory = "other"
)

var (
	// ErrDuplicateVote is returned when a user votes twice on the same target.
	ErrDuplicateVote = errors.New("user already voted on target")

	// ErrInvalidVote is returned for an unknown vote type or missing ids.
	ErrInvalidVote = errors.New("invalid vote")

	// ErrInvalidReport is returned for a report without user or target.
	ErrInvalidReport = errors.New("invalid report")
)

// MetaData aggregates community feedback for one target.
type MetaData struct {
	TargetID        string     `json:"target_id"`
	Kind            TargetKind `json:"kind"`
	Upvotes         int        `json:"upvotes"`
	Downvotes       int        `json:"downvotes"`
	Reports         int        `json:"reports"`
	Stability       float64    `json:"stability"`
	FirstDiscoverer string     `json:"first_discoverer,omitempty"`
	DiscoveredAt    *time.Time `json:"discovered_at,omitempty"`
	UsageCount      int        `json:"usage_count"`
	UpdatedAt       time.Time  `json:"updated_at"`
	// Revision increases with every change; storage keeps the highest.
	Revision int64 `json:"revision"`
}

func (m *MetaData) clone() *MetaData {
	cp := *m
	if m.DiscoveredAt != nil {
		t := *m.DiscoveredAt
		cp.DiscoveredAt = &t
	}
	return &cp
}

// Feedback is a vote request and the payload of FEEDBACK_SUBMITTED. When
// published as a pointer, the scorer records the outcome on it.
type Feedback struct {
	UserID   string     `json:"user_id"`
	TargetID string     `json:"target_id"`
	Kind     TargetKind `json:"kind,omitempty"`
	Type     VoteType   `json:"type"`

	handled bool
	meta    *MetaData
	err     error
}

// Result returns the updated aggregate. handled is false when no scorer
// consumed the feedback.
func (f *Feedback) Result() (meta *MetaData, handled bool, err error) {
	return f.meta, f.handled, f.err
}

// Vote is an accepted vote. Votes are kept so the one-vote rule survives a
// restart.
type Vote struct {
	UserID   string    `json:"user_id"`
	TargetID string    `json:"target_id"`
	Type     VoteType  `json:"type"`
	CastAt   time.Time `json:"cast_at"`
}

// ErrorReport is a user's complaint about a target; the payload of ERROR_REPORTED.
type ErrorReport struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	TargetID    string         `json:"target_id"`
	Category    ReportCategory `json:"category"`
	Description string         `json:"description"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ChangeCause says why a MetaData changed.
type ChangeCause string

const (
	CauseVote      ChangeCause = "vote"
	CauseReport    ChangeCause = "report"
	CauseDiscovery ChangeCause = "discovery"
	CauseUsage     ChangeCause = "usage"
)

// MetaDataChange is the payload of META_DATA_UPDATED.
type MetaDataChange struct {
	MetaData *MetaData   `json:"meta_data"`
	Cause    ChangeCause `json:"cause"`
	Vote     *Vote       `json:"vote,omitempty"`
}

// Rejection is the payload of FEEDBACK_REJECTED.
type Rejection struct {
	Feedback Feedback `json:"feedback"`
	Reason   string   `json:"reason"`
}

// Discovery is the payload of FIRST_DISCOVERER_SET.
type Discovery struct {
	TargetID string     `json:"target_id"`
	Kind     TargetKind `json:"kind"`
	UserID   string     `json:"user_id"`
	At       time.Time  `json:"at"`
}
