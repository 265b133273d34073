package api

import "github.com/nidhogg/lexicore/internal/review"

// gameView hides the expected answer until the game has been answered.
type gameView struct {
	*review.MiniGame
	Answer string `json:"answer,omitempty"`
}

type sessionView struct {
	*review.ReviewSession
	Status review.SessionStatus `json:"status"`
	Games  []gameView           `json:"games"`
}

func newSessionView(s *review.ReviewSession) *sessionView {
	v := &sessionView{
		ReviewSession: s,
		Status:        s.Status(),
		Games:         make([]gameView, len(s.Games)),
	}
	for i, g := range s.Games {
		v.Games[i] = gameView{MiniGame: g}
		if g.Answered() || s.CompletedAt != nil {
			v.Games[i].Answer = g.Answer
		}
	}
	return v
}
