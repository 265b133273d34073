package synthesis

import (
	"encoding/json"
	"testing"
	"time"
)

func permutations(ids []string) [][]string {
	if len(ids) <= 1 {
		return [][]string{append([]string(nil), ids...)}
	}
	var out [][]string
	for i := range ids {
		rest := make([]string, 0, len(ids)-1)
		rest = append(rest, ids[:i]...)
		rest = append(rest, ids[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]string{ids[i]}, p...))
		}
	}
	return out
}

func TestKeyCommutative(t *testing.T) {
	ids := []string{"sun", "flower", "field", "gold"}
	want := Key(ids)
	for _, p := range permutations(ids) {
		if got := Key(p); got != want {
			t.Fatalf("Key(%v) = %s, want %s", p, got, want)
		}
	}
	if Key([]string{"a", "b"}) == Key([]string{"a", "c"}) {
		t.Error("different sets share a key")
	}
	if Key([]string{"a", "a", "b"}) != Key([]string{"b", "a"}) {
		t.Error("duplicate ids changed the key")
	}
}

func TestNormalizeDoesNotMutate(t *testing.T) {
	in := []string{"c", "a", "c", "b"}
	got := Normalize(in)
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("Normalize = %v", got)
	}
	if in[0] != "c" {
		t.Errorf("input mutated: %v", in)
	}
}

func TestLookupAnyPermutation(t *testing.T) {
	c := NewCache()
	ids := []string{"x", "y", "z"}
	stored := c.Store([]string{"z", "x", "y"}, json.RawMessage(`{"v":1}`))

	for _, p := range permutations(ids) {
		e, ok := c.Lookup(p)
		if !ok {
			t.Fatalf("Lookup(%v) missed", p)
		}
		if e.Key != stored.Key || string(e.Result) != `{"v":1}` {
			t.Errorf("Lookup(%v) returned %+v", p, e)
		}
	}
}

func TestLookupMutatesUsage(t *testing.T) {
	c := NewCache()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return t0 }
	c.Store([]string{"a", "b"}, json.RawMessage(`1`))

	c.now = func() time.Time { return t0.Add(time.Hour) }
	c.Lookup([]string{"b", "a"})
	e, _ := c.Lookup([]string{"a", "b"})

	if e.UsageCount != 2 {
		t.Errorf("got usage %d, want 2", e.UsageCount)
	}
	if !e.LastUsedAt.Equal(t0.Add(time.Hour)) {
		t.Errorf("got last used %v", e.LastUsedAt)
	}
	if !e.CreatedAt.Equal(t0) {
		t.Errorf("created at changed to %v", e.CreatedAt)
	}
}

func TestLookupMiss(t *testing.T) {
	c := NewCache()
	if _, ok := c.Lookup([]string{"nothing"}); ok {
		t.Fatal("expected miss")
	}
}

func TestStoreOverwrites(t *testing.T) {
	c := NewCache()
	c.Store([]string{"a", "b"}, json.RawMessage(`"first"`))
	c.Lookup([]string{"a", "b"})
	c.Store([]string{"b", "a"}, json.RawMessage(`"second"`))

	e, ok := c.Lookup([]string{"a", "b"})
	if !ok {
		t.Fatal("expected hit")
	}
	if string(e.Result) != `"second"` {
		t.Errorf("got %s, want last write", e.Result)
	}
	if c.Stats().Count != 1 {
		t.Errorf("got %d entries, want 1", c.Stats().Count)
	}
}

func TestReturnedEntriesAreCopies(t *testing.T) {
	c := NewCache()
	e := c.Store([]string{"a"}, json.RawMessage(`1`))
	e.UsageCount = 99
	e.InputIDs[0] = "tampered"

	got, _ := c.Lookup([]string{"a"})
	if got.UsageCount != 1 || got.InputIDs[0] != "a" {
		t.Errorf("cache state leaked: %+v", got)
	}
}

func TestStats(t *testing.T) {
	c := NewCache()
	if st := c.Stats(); st.Count != 0 || st.MostUsed != nil {
		t.Fatalf("empty stats = %+v", st)
	}

	c.Store([]string{"a"}, json.RawMessage(`1`))
	c.Store([]string{"b"}, json.RawMessage(`2`))
	c.Lookup([]string{"b"})
	c.Lookup([]string{"b"})
	c.Lookup([]string{"a"})

	st := c.Stats()
	if st.Count != 2 {
		t.Errorf("got count %d, want 2", st.Count)
	}
	if st.MostUsed == nil || st.MostUsed.InputIDs[0] != "b" || st.MostUsed.UsageCount != 2 {
		t.Errorf("got most used %+v", st.MostUsed)
	}
}

func TestRestoreAndClear(t *testing.T) {
	c := NewCache()
	t0 := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	c.Restore([]*CachedSynthesis{
		{Key: "stale", InputIDs: []string{"q", "p"}, Result: json.RawMessage(`3`), UsageCount: 7, CreatedAt: t0},
	})

	e, ok := c.Lookup([]string{"p", "q"})
	if !ok {
		t.Fatal("restored entry not found by its input set")
	}
	if e.Key != Key([]string{"p", "q"}) || e.UsageCount != 8 {
		t.Errorf("got %+v", e)
	}
	if len(c.Entries()) != 1 {
		t.Errorf("got %d entries", len(c.Entries()))
	}

	c.Clear()
	if _, ok := c.Lookup([]string{"p", "q"}); ok {
		t.Error("entry survived Clear")
	}
}
