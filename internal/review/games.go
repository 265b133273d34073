package review

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
	"unicode"

	"github.com/nidhogg/lexicore/internal/catalog"
)

const (
	noviceCeiling = 30
	expertFloor   = 70
	maxOptions    = 4
	blank         = "____"
)

// DefaultTimeLimits are per-format answer windows.
var DefaultTimeLimits = map[GameType]time.Duration{
	GameSemanticMatch:    15 * time.Second,
	GameContextSelect:    20 * time.Second,
	GameReverseSynthesis: 30 * time.Second,
	GameAnalogy:          30 * time.Second,
}

// tierFor returns the formats suited to a mastery level. Novices get
// recognition formats, experts get recall formats, everyone else gets the
// full set.
func tierFor(level int) []GameType {
	switch {
	case level < noviceCeiling:
		return []GameType{GameSemanticMatch, GameContextSelect}
	case level > expertFloor:
		return []GameType{GameReverseSynthesis, GameAnalogy}
	default:
		return append([]GameType(nil), AllGameTypes...)
	}
}

// pickGameTypes draws n formats from the tier for level. The tier is shuffled
// and cycled when n exceeds its size.
func pickGameTypes(rng *rand.Rand, level, n int) []GameType {
	tier := tierFor(level)
	rng.Shuffle(len(tier), func(i, j int) { tier[i], tier[j] = tier[j], tier[i] })
	out := make([]GameType, n)
	for i := range out {
		out[i] = tier[i%len(tier)]
	}
	return out
}

// buildQuestion renders the prompt and expected answer for one game.
// pool holds the candidate distractor senses, target excluded.
func buildQuestion(rng *rand.Rand, t GameType, target *catalog.Sense, pool []*catalog.Sense) (Question, string) {
	switch t {
	case GameContextSelect:
		prompt := clozeExample(target)
		if prompt == "" {
			prompt = fmt.Sprintf("Which word fits: %s", target.Gloss)
		}
		return Question{Prompt: prompt, Options: lemmaOptions(rng, target, pool)}, target.Lemma
	case GameReverseSynthesis:
		return Question{Prompt: fmt.Sprintf("Type the word that means: %s", target.Gloss)}, target.Lemma
	case GameAnalogy:
		if len(pool) == 0 {
			return Question{Prompt: fmt.Sprintf("%s : %q", blank, target.Gloss)}, target.Lemma
		}
		pair := related(rng, target, pool)
		return Question{
			Prompt: fmt.Sprintf("%s : %q :: %s : %q", pair.Lemma, pair.Gloss, blank, target.Gloss),
		}, target.Lemma
	default:
		return Question{
			Prompt:  fmt.Sprintf("Which word means: %s", target.Gloss),
			Options: lemmaOptions(rng, target, pool),
		}, target.Lemma
	}
}

// clozeExample blanks out every whole-word, case-insensitive occurrence of
// the lemma in the example sentence. It returns "" when the sentence does not
// contain the lemma.
func clozeExample(s *catalog.Sense) string {
	if s.Example == "" || s.Lemma == "" {
		return ""
	}
	ex := []rune(s.Example)
	n := len([]rune(s.Lemma))

	var b strings.Builder
	found := false
	for i := 0; i < len(ex); {
		end := i + n
		if end <= len(ex) &&
			(i == 0 || !isWordRune(ex[i-1])) &&
			(end == len(ex) || !isWordRune(ex[end])) &&
			strings.EqualFold(string(ex[i:end]), s.Lemma) {
			b.WriteString(blank)
			found = true
			i = end
			continue
		}
		b.WriteRune(ex[i])
		i++
	}
	if !found {
		return ""
	}
	return b.String()
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}

// lemmaOptions returns the target lemma plus up to three distractor lemmas,
// shuffled. Same-level distractors are preferred.
func lemmaOptions(rng *rand.Rand, target *catalog.Sense, pool []*catalog.Sense) []string {
	seen := map[string]bool{strings.ToLower(target.Lemma): true}
	opts := []string{target.Lemma}

	var same, other []*catalog.Sense
	for _, s := range pool {
		if s.Level == target.Level {
			same = append(same, s)
		} else {
			other = append(other, s)
		}
	}
	rng.Shuffle(len(same), func(i, j int) { same[i], same[j] = same[j], same[i] })
	rng.Shuffle(len(other), func(i, j int) { other[i], other[j] = other[j], other[i] })

	for _, s := range append(same, other...) {
		if len(opts) == maxOptions {
			break
		}
		key := strings.ToLower(s.Lemma)
		if s.Lemma == "" || seen[key] {
			continue
		}
		seen[key] = true
		opts = append(opts, s.Lemma)
	}
	rng.Shuffle(len(opts), func(i, j int) { opts[i], opts[j] = opts[j], opts[i] })
	return opts
}

// related picks the pool sense sharing the most tags with target, breaking
// ties randomly.
func related(rng *rand.Rand, target *catalog.Sense, pool []*catalog.Sense) *catalog.Sense {
	tags := make(map[string]bool, len(target.Tags))
	for _, t := range target.Tags {
		tags[t] = true
	}
	var best []*catalog.Sense
	bestScore := -1
	for _, s := range pool {
		score := 0
		for _, t := range s.Tags {
			if tags[t] {
				score++
			}
		}
		switch {
		case score > bestScore:
			best, bestScore = []*catalog.Sense{s}, score
		case score == bestScore:
			best = append(best, s)
		}
	}
	return best[rng.Intn(len(best))]
}

// matches compares answers ignoring case and surrounding whitespace.
func matches(given, expected string) bool {
	return strings.EqualFold(strings.TrimSpace(given), strings.TrimSpace(expected))
}
