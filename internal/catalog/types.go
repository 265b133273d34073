// Package catalog is the read-only boundary to the Sense catalog. The core
// only references Sense identifiers; content lives here.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// CEFR is an ordinal difficulty tier, A1 (easiest) through C2.
type CEFR int

const (
	A1 CEFR = iota + 1
	A2
	B1
	B2
	C1
	C2
)

var cefrNames = [...]string{"", "A1", "A2", "B1", "B2", "C1", "C2"}

func (c CEFR) String() string {
	if c < A1 || c > C2 {
		return "unknown"
	}
	return cefrNames[c]
}

// ParseCEFR parses "A1".."C2" case-insensitively.
func ParseCEFR(s string) (CEFR, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i := A1; i <= C2; i++ {
		if cefrNames[i] == s {
			return i, nil
		}
	}
	return 0, fmt.Errorf("invalid cefr level %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (c CEFR) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *CEFR) UnmarshalText(b []byte) error {
	v, err := ParseCEFR(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Sense is an atomic unit of meaning.
type Sense struct {
	ID      string   `json:"id"`
	Lemma   string   `json:"lemma"`
	Gloss   string   `json:"gloss"`
	Example string   `json:"example,omitempty"`
	Level   CEFR     `json:"level"`
	Tags    []string `json:"tags,omitempty"`
}

// ErrSenseNotFound is returned when a Sense id is not in the catalog.
var ErrSenseNotFound = errors.New("sense not found")

// Catalog provides Sense content.
type Catalog interface {
	Get(ctx context.Context, id string) (*Sense, error)
	List(ctx context.Context) ([]*Sense, error)
}

// IDs returns the identifiers of every Sense in c, optionally limited to
// the given level (0 means any level).
func IDs(ctx context.Context, c Catalog, level CEFR) ([]string, error) {
	senses, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(senses))
	for _, s := range senses {
		if level != 0 && s.Level != level {
			continue
		}
		ids = append(ids, s.ID)
	}
	return ids, nil
}
