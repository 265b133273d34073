package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
)

// MemoryCatalog is a Catalog held in process memory.
type MemoryCatalog struct {
	mu     sync.RWMutex
	senses map[string]*Sense
}

// NewMemoryCatalog creates a catalog seeded with senses.
func NewMemoryCatalog(senses ...*Sense) *MemoryCatalog {
	c := &MemoryCatalog{senses: make(map[string]*Sense, len(senses))}
	for _, s := range senses {
		c.Put(s)
	}
	return c
}

// LoadFile reads a JSON array of senses into a new MemoryCatalog.
func LoadFile(path string) (*MemoryCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	var senses []*Sense
	if err := json.Unmarshal(data, &senses); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return NewMemoryCatalog(senses...), nil
}

// Put inserts or replaces a sense.
func (c *MemoryCatalog) Put(s *Sense) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *s
	cp.Tags = append([]string(nil), s.Tags...)
	c.senses[s.ID] = &cp
}

func (c *MemoryCatalog) Get(_ context.Context, id string) (*Sense, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.senses[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, ErrSenseNotFound)
	}
	cp := *s
	return &cp, nil
}

// List returns all senses ordered by id.
func (c *MemoryCatalog) List(_ context.Context) ([]*Sense, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Sense, 0, len(c.senses))
	for _, s := range c.senses {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
