package review

import (
	"errors"
	"time"
)

// GameType is the format of a mini-game.
type GameType string

const (
	GameSemanticMatch    GameType = "semantic_match"
	GameContextSelect    GameType = "context_select"
	GameReverseSynthesis GameType = "reverse_synthesis"
	GameAnalogy          GameType = "analogy"
)

// AllGameTypes is the full set of mini-game formats.
var AllGameTypes = []GameType{GameSemanticMatch, GameContextSelect, GameReverseSynthesis, GameAnalogy}

var (
	ErrSessionNotFound  = errors.New("review session not found")
	ErrGameNotFound     = errors.New("mini-game not found")
	ErrGameAnswered     = errors.New("mini-game already answered")
	ErrSessionCompleted = errors.New("review session already completed")
	ErrEmptySession     = errors.New("review session needs at least one sense")
)

// MasteryRecord is a learner's standing on one Sense.
type MasteryRecord struct {
	LearnerID       string        `json:"learner_id"`
	SenseID         string        `json:"sense_id"`
	Level           int           `json:"level"`
	LastReviewed    time.Time     `json:"last_reviewed"`
	NextReview      time.Time     `json:"next_review"`
	ReviewCount     int           `json:"review_count"`
	CorrectCount    int           `json:"correct_count"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// Question is the prompt shown to the player. Options is empty for
// free-recall formats.
type Question struct {
	Prompt  string   `json:"prompt"`
	Options []string `json:"options,omitempty"`
}

// MiniGame is one quiz unit inside a session.
type MiniGame struct {
	ID           string        `json:"id"`
	Type         GameType      `json:"type"`
	SenseID      string        `json:"sense_id"`
	Question     Question      `json:"question"`
	Answer       string        `json:"answer"`
	PlayerAnswer *string       `json:"player_answer,omitempty"`
	TimeLimit    time.Duration `json:"time_limit"`
	Elapsed      time.Duration `json:"elapsed"`
	Correct      bool          `json:"correct"`
	Score        int           `json:"score"`
}

// Answered reports whether the player has submitted an answer.
func (g *MiniGame) Answered() bool { return g.PlayerAnswer != nil }

func (g *MiniGame) clone() *MiniGame {
	cp := *g
	cp.Question.Options = append([]string(nil), g.Question.Options...)
	if g.PlayerAnswer != nil {
		a := *g.PlayerAnswer
		cp.PlayerAnswer = &a
	}
	return &cp
}

// SessionStatus is derived from a session's timestamps and answers.
type SessionStatus string

const (
	StatusAvailable  SessionStatus = "available"
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
)

// ReviewSession is one review pass over a batch of senses.
type ReviewSession struct {
	ID          string      `json:"id"`
	LearnerID   string      `json:"learner_id"`
	SenseIDs    []string    `json:"sense_ids"`
	Games       []*MiniGame `json:"games"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	TotalScore  int         `json:"total_score"`
	MaxScore    int         `json:"max_score"`
}

// Status derives the lifecycle state.
func (s *ReviewSession) Status() SessionStatus {
	if s.CompletedAt != nil {
		return StatusCompleted
	}
	for _, g := range s.Games {
		if g.Answered() {
			return StatusInProgress
		}
	}
	return StatusAvailable
}

func (s *ReviewSession) game(id string) *MiniGame {
	for _, g := range s.Games {
		if g.ID == id {
			return g
		}
	}
	return nil
}

func (s *ReviewSession) clone() *ReviewSession {
	cp := *s
	cp.SenseIDs = append([]string(nil), s.SenseIDs...)
	cp.Games = make([]*MiniGame, len(s.Games))
	for i, g := range s.Games {
		cp.Games[i] = g.clone()
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// redacted copies the session with the expected answer of every unanswered
// game blanked.
func (s *ReviewSession) redacted() *ReviewSession {
	cp := s.clone()
	for _, g := range cp.Games {
		if !g.Answered() {
			g.Answer = ""
		}
	}
	return cp
}

// Answer is the payload of ANSWER_SUBMITTED. When published as a pointer,
// the scheduler records the outcome on it for the publisher to read back.
type Answer struct {
	SessionID string        `json:"session_id"`
	GameID    string        `json:"game_id"`
	Answer    string        `json:"answer"`
	Elapsed   time.Duration `json:"elapsed"`

	handled bool
	game    *MiniGame
	err     error
}

// Result returns the graded game. handled is false when no scheduler
// consumed the answer.
func (a *Answer) Result() (game *MiniGame, handled bool, err error) {
	return a.game, a.handled, a.err
}

// GameResult is the payload of MINI_GAME_COMPLETED.
type GameResult struct {
	SessionID string    `json:"session_id"`
	LearnerID string    `json:"learner_id"`
	Game      *MiniGame `json:"game"`
}

// MasteryChange is the payload of MASTERY_UPDATED.
type MasteryChange struct {
	SessionID     string         `json:"session_id"`
	PreviousLevel int            `json:"previous_level"`
	Record        *MasteryRecord `json:"record"`
}
