package models

import (
	"errors"
	"time"
)

// ErrSessionNotFound is returned when a session id has no stored state.
var ErrSessionNotFound = errors.New("session not found")

// ErrNoItemAvailable is returned when every candidate was seen or excluded.
var ErrNoItemAvailable = errors.New("no item available")

// ErrKeyNotFound is returned by key-value backends for a missing key.
var ErrKeyNotFound = errors.New("key not found")

// DefaultInfoBandFraction is the tolerance band used when no top-k is configured.
const DefaultInfoBandFraction = 0.05

// DefaultTopic labels items that carry no topic.
const DefaultTopic = "General"

// Item is an assessable question with its 3PL parameters.
type Item struct {
	ID    ItemID  `json:"question_id"`
	A     float64 `json:"a"`
	B     float64 `json:"b"`
	C     float64 `json:"c"`
	Topic string  `json:"topic,omitempty"`
}

// TopicOrDefault returns the item's topic, falling back to DefaultTopic.
func (i Item) TopicOrDefault() string {
	if i.Topic == "" {
		return DefaultTopic
	}
	return i.Topic
}

// SelectionPolicy controls how the next item is picked.
type SelectionPolicy struct {
	PreferBalanced   bool    `json:"prefer_balanced"`
	Deterministic    bool    `json:"deterministic"`
	MaxPerTopic      *int    `json:"max_per_topic"`
	TopKRandom       *int    `json:"top_k_random"`
	InfoBandFraction float64 `json:"info_band_fraction"`
}

// Normalize fills the band fraction when it was left unset.
func (p SelectionPolicy) Normalize() SelectionPolicy {
	if p.InfoBandFraction <= 0 {
		p.InfoBandFraction = DefaultInfoBandFraction
	}
	return p
}

// PolicySource tags where a resolved policy came from.
type PolicySource string

const (
	PolicySourceRuntime     PolicySource = "runtime"
	PolicySourceDistributed PolicySource = "distributed"
	PolicySourceDefault     PolicySource = "default"
)

// PolicyBinding associates a policy with the namespace it was resolved from.
type PolicyBinding struct {
	Policy      SelectionPolicy `json:"policy"`
	Namespace   string          `json:"namespace"`
	Source      PolicySource    `json:"source"`
	LastUpdated *time.Time      `json:"last_updated,omitempty"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
}

// IntPtr is a small helper for optional policy fields.
func IntPtr(v int) *int { return &v }

// Completion is the persisted outcome of a finished exam session.
type Completion struct {
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	ExamID      string    `json:"exam_id"`
	Theta       float64   `json:"theta"`
	SE          float64   `json:"se"`
	ScaledScore float64   `json:"scaled_score"`
	Answered    int       `json:"answered_count"`
	CompletedAt time.Time `json:"completed_at"`
}
