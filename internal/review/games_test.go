package review

import (
	"math/rand"
	"slices"
	"strings"
	"testing"

	"github.com/nidhogg/lexicore/internal/catalog"
)

func TestTierForLevel(t *testing.T) {
	tests := []struct {
		level int
		want  []GameType
	}{
		{0, []GameType{GameSemanticMatch, GameContextSelect}},
		{29, []GameType{GameSemanticMatch, GameContextSelect}},
		{30, AllGameTypes},
		{70, AllGameTypes},
		{71, []GameType{GameReverseSynthesis, GameAnalogy}},
		{100, []GameType{GameReverseSynthesis, GameAnalogy}},
	}
	for _, tt := range tests {
		if got := tierFor(tt.level); !slices.Equal(got, tt.want) {
			t.Errorf("tierFor(%d) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestPickGameTypesStaysInTier(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		for _, g := range pickGameTypes(rng, 10, 3) {
			if g != GameSemanticMatch && g != GameContextSelect {
				t.Fatalf("novice got %q", g)
			}
		}
		for _, g := range pickGameTypes(rng, 90, 2) {
			if g != GameReverseSynthesis && g != GameAnalogy {
				t.Fatalf("expert got %q", g)
			}
		}
	}
	if got := pickGameTypes(rng, 10, 2); got[0] == got[1] {
		t.Errorf("two games from a two-format tier repeated %q", got[0])
	}
	// The shared AllGameTypes slice must not be shuffled in place.
	pickGameTypes(rng, 50, 4)
	if !slices.Equal(AllGameTypes, []GameType{GameSemanticMatch, GameContextSelect, GameReverseSynthesis, GameAnalogy}) {
		t.Errorf("AllGameTypes mutated: %v", AllGameTypes)
	}
}

var (
	senseRun   = &catalog.Sense{ID: "run-1", Lemma: "run", Gloss: "move fast on foot", Example: "I run every morning.", Level: catalog.A1, Tags: []string{"motion"}}
	senseWalk  = &catalog.Sense{ID: "walk-1", Lemma: "walk", Gloss: "move at a regular pace", Level: catalog.A1, Tags: []string{"motion"}}
	senseEat   = &catalog.Sense{ID: "eat-1", Lemma: "eat", Gloss: "take in food", Example: "We eat at noon.", Level: catalog.A1, Tags: []string{"food"}}
	senseSwim  = &catalog.Sense{ID: "swim-1", Lemma: "swim", Gloss: "move through water", Level: catalog.A2, Tags: []string{"motion", "water"}}
	senseThink = &catalog.Sense{ID: "think-1", Lemma: "think", Gloss: "use the mind", Level: catalog.B1}
)

func TestBuildQuestionSemanticMatch(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pool := []*catalog.Sense{senseWalk, senseEat, senseSwim, senseThink}
	q, answer := buildQuestion(rng, GameSemanticMatch, senseRun, pool)
	if answer != "run" {
		t.Errorf("answer = %q", answer)
	}
	if !strings.Contains(q.Prompt, senseRun.Gloss) {
		t.Errorf("prompt %q does not show the gloss", q.Prompt)
	}
	if len(q.Options) != maxOptions || !slices.Contains(q.Options, "run") {
		t.Errorf("options = %v", q.Options)
	}
	if !slices.Contains(q.Options, "walk") || !slices.Contains(q.Options, "eat") {
		t.Errorf("options %v skipped same-level distractors", q.Options)
	}
}

func TestBuildQuestionContextSelect(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	q, answer := buildQuestion(rng, GameContextSelect, senseRun, []*catalog.Sense{senseEat})
	if answer != "run" {
		t.Errorf("answer = %q", answer)
	}
	if q.Prompt != "I ____ every morning." {
		t.Errorf("prompt = %q", q.Prompt)
	}
	if len(q.Options) != 2 {
		t.Errorf("options = %v", q.Options)
	}

	q, _ = buildQuestion(rng, GameContextSelect, senseWalk, nil)
	if !strings.Contains(q.Prompt, senseWalk.Gloss) {
		t.Errorf("fallback prompt = %q", q.Prompt)
	}
}

func TestBuildQuestionRecallFormats(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	q, answer := buildQuestion(rng, GameReverseSynthesis, senseSwim, nil)
	if answer != "swim" || len(q.Options) != 0 {
		t.Errorf("reverse synthesis: %+v answer %q", q, answer)
	}

	q, answer = buildQuestion(rng, GameAnalogy, senseSwim, []*catalog.Sense{senseEat, senseRun})
	if answer != "swim" || len(q.Options) != 0 {
		t.Errorf("analogy: %+v answer %q", q, answer)
	}
	if !strings.HasPrefix(q.Prompt, "run :") {
		t.Errorf("analogy prompt %q should pair with the tag-sharing sense", q.Prompt)
	}
	if strings.Contains(q.Prompt, "swim") {
		t.Errorf("analogy prompt %q leaks the answer", q.Prompt)
	}
}

func TestClozeExample(t *testing.T) {
	s := &catalog.Sense{Lemma: "set", Example: "Set the table, then reset the clock."}
	if got := clozeExample(s); got != "____ the table, then reset the clock." {
		t.Errorf("clozeExample = %q", got)
	}
	if got := clozeExample(&catalog.Sense{Lemma: "go", Example: "We went home."}); got != "" {
		t.Errorf("clozeExample without lemma = %q", got)
	}
}

func TestClozeExampleUnicodeWords(t *testing.T) {
	tests := []struct {
		lemma, example, want string
	}{
		{"café", "Meet me at the café.", "Meet me at the ____."},
		{"CAFÉ", "Un café, deux cafés.", "Un ____, deux cafés."},
		{"über", "Es geht über alles.", "Es geht ____ alles."},
		{"naïve", "A naïveté that was naïve.", "A naïveté that was ____."},
		{"run", "Rerun it, then run.", "Rerun it, then ____."},
		{"café", "cafés only", ""},
	}
	for _, tt := range tests {
		got := clozeExample(&catalog.Sense{Lemma: tt.lemma, Example: tt.example})
		if got != tt.want {
			t.Errorf("clozeExample(%q, %q) = %q, want %q", tt.lemma, tt.example, got, tt.want)
		}
	}
}

func TestMatches(t *testing.T) {
	if !matches("  Run ", "run") {
		t.Error("expected case and space insensitive match")
	}
	if matches("runs", "run") {
		t.Error("unexpected match")
	}
}
