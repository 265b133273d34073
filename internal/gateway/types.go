// Package gateway posts community announcements to chat platforms.
package gateway

import (
	"context"
	"time"
)

// Adapter delivers announcements to one platform.
type Adapter interface {
	Platform() string
	Connect(ctx context.Context) error
	Announce(ctx context.Context, a *Announcement) error
	Close() error
}

// Kind categorizes announcements.
type Kind string

const (
	KindModeration Kind = "moderation"
	KindDiscovery  Kind = "discovery"
)

// Announcement is a platform-neutral message.
type Announcement struct {
	Kind      Kind      `json:"kind"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	TargetID  string    `json:"target_id,omitempty"`
	At        time.Time `json:"at"`
	Platforms []string  `json:"platforms,omitempty"`
}

// Status describes an adapter's connection.
type Status struct {
	Platform    string     `json:"platform"`
	Connected   bool       `json:"connected"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Details     string     `json:"details,omitempty"`
}
