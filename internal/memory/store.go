// Package memory keeps the per-conversation memory snapshots and decides when
// a new one is due.
package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/comigor/phonechat-go/internal/kv"
	"github.com/comigor/phonechat-go/internal/logger"
)

const (
	MinInterval         = 1
	MaxInterval         = 20
	DefaultInterval     = 3
	DefaultMaxSnapshots = 20
	MaxSummaryRunes     = 400

	// SettingsKey holds the global auto-summary settings.
	SettingsKey = "settings:auto_summary"
)

func SnapshotsKey(conversationID string) string { return "conv:" + conversationID + ":snapshots" }

// Settings is the global auto-summary configuration.
type Settings struct {
	Enabled  bool `json:"enabled"`
	Interval int  `json:"interval"`
}

// Normalize clamps Interval into [MinInterval, MaxInterval].
func (s Settings) Normalize() Settings {
	s.Interval = min(max(s.Interval, MinInterval), MaxInterval)
	return s
}

// Snapshot is one compressed stretch of dialogue.
type Snapshot struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title"`
	SummaryText    string `json:"summary_text"`
	CreatedAt      int64  `json:"created_at"`
	Turn           int    `json:"turn"`
}

// Store persists snapshots and settings. Like the message log it swallows
// write failures and keeps serving from memory.
type Store struct {
	kv           kv.Store
	defaults     Settings
	maxSnapshots int

	mu        sync.Mutex
	settings    *Settings
	snapshots   map[string][]Snapshot
	generations map[string]uint64 // bumped by Clear
}

// NewStore builds a store. defaults seed the settings until they are changed;
// maxSnapshots <= 0 means DefaultMaxSnapshots.
func NewStore(store kv.Store, defaults Settings, maxSnapshots int) *Store {
	if maxSnapshots <= 0 {
		maxSnapshots = DefaultMaxSnapshots
	}
	return &Store{
		kv:           store,
		defaults:     defaults.Normalize(),
		maxSnapshots: maxSnapshots,
		snapshots:    make(map[string][]Snapshot),
		generations:  make(map[string]uint64),
	}
}

func (s *Store) put(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		logger.L.Error("memory encode failed", "key", key, "error", err)
		return
	}
	if err := s.kv.Put(ctx, key, raw); err != nil {
		logger.L.Error("memory write failed; keeping in-memory copy", "key", key, "error", err)
	}
}

// Settings returns the current auto-summary settings.
func (s *Store) Settings(ctx context.Context) Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		st := s.defaults
		if raw, ok, err := s.kv.Get(ctx, SettingsKey); err != nil {
			logger.L.Warn("memory settings load failed; using defaults", "error", err)
		} else if ok {
			if err := json.Unmarshal(raw, &st); err != nil {
				logger.L.Warn("memory settings decode failed; using defaults", "error", err)
				st = s.defaults
			}
		}
		st = st.Normalize()
		s.settings = &st
	}
	return *s.settings
}

// SetSettings stores new settings, clamping the interval, and returns what
// was stored.
func (s *Store) SetSettings(ctx context.Context, st Settings) Settings {
	st = st.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = &st
	s.put(ctx, SettingsKey, st)
	return st
}

func (s *Store) load(ctx context.Context, conversationID string) []Snapshot {
	if list, ok := s.snapshots[conversationID]; ok {
		return list
	}
	var list []Snapshot
	if raw, ok, err := s.kv.Get(ctx, SnapshotsKey(conversationID)); err != nil {
		logger.L.Warn("memory snapshots load failed", "conversation", conversationID, "error", err)
	} else if ok {
		if err := json.Unmarshal(raw, &list); err != nil {
			logger.L.Warn("memory snapshots decode failed", "conversation", conversationID, "error", err)
			list = nil
		}
	}
	s.snapshots[conversationID] = list
	return list
}

// List returns the conversation's snapshots, oldest first.
func (s *Store) List(ctx context.Context, conversationID string) []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Snapshot(nil), s.load(ctx, conversationID)...)
}

// Recent returns up to n of the newest snapshots, oldest first.
func (s *Store) Recent(ctx context.Context, conversationID string, n int) []Snapshot {
	list := s.List(ctx, conversationID)
	if n >= 0 && len(list) > n {
		list = list[len(list)-n:]
	}
	return list
}

// Generation identifies the conversation's life since its last Clear.
func (s *Store) Generation(conversationID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[conversationID]
}

// Add appends snap, evicting the oldest entries beyond the cap.
func (s *Store) Add(ctx context.Context, snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLocked(ctx, snap)
}

// AddIfCurrent appends snap only when the conversation has not been cleared
// since generation was read. It reports whether snap was stored.
func (s *Store) AddIfCurrent(ctx context.Context, snap Snapshot, generation uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generations[snap.ConversationID] != generation {
		return false
	}
	s.addLocked(ctx, snap)
	return true
}

func (s *Store) addLocked(ctx context.Context, snap Snapshot) {
	list := append(s.load(ctx, snap.ConversationID), snap)
	if over := len(list) - s.maxSnapshots; over > 0 {
		list = append([]Snapshot(nil), list[over:]...)
	}
	s.snapshots[snap.ConversationID] = list
	s.put(ctx, SnapshotsKey(snap.ConversationID), list)
}

// Clear drops every snapshot of the conversation.
func (s *Store) Clear(ctx context.Context, conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[conversationID] = nil
	s.generations[conversationID]++
	if err := s.kv.Delete(ctx, SnapshotsKey(conversationID)); err != nil {
		logger.L.Error("memory snapshots delete failed", "conversation", conversationID, "error", err)
	}
}
