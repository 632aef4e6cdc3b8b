package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// EventTurnCompleted marks one finished exchange of the legacy single-turn
// pipeline; realtime relays never append it.
const EventTurnCompleted = "turn_completed"

// Event is one journal line: what happened and when.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Meta is the per-session sidecar summary, overwritten in place on every append.
type Meta struct {
	SessionID string    `json:"sessionId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Turns     int       `json:"turns"`
	Errors    int       `json:"errors"`
}

// Store keeps an append-only event log plus a metadata summary per session
// under a base directory. With saving disabled every operation short-circuits
// into a no-op.
type Store struct {
	dir     string
	enabled bool
	mu      sync.Mutex
}

// NewStore creates a journal store rooted at dir.
func NewStore(dir string, enabled bool) *Store {
	return &Store{dir: dir, enabled: enabled}
}

// Enabled reports whether events are being persisted.
func (s *Store) Enabled() bool {
	return s.enabled
}

// Append writes one event line and refreshes the sidecar meta. Failures are
// the caller's to log; they must never abort a live relay.
func (s *Store) Append(sessionID, eventType string, payload map[string]any) error {
	if !s.enabled {
		return nil
	}
	if !validSessionID(sessionID) {
		return fmt.Errorf("invalid session id %q", sessionID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}

	now := time.Now().UTC()
	line, err := json.Marshal(Event{Timestamp: now, Type: eventType, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	file, err := os.OpenFile(s.eventsPath(sessionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		file.Close()
		return fmt.Errorf("append event: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close journal: %w", err)
	}

	if err := s.updateMeta(sessionID, eventType, now); err != nil {
		return fmt.Errorf("update meta: %w", err)
	}
	return nil
}

func (s *Store) updateMeta(sessionID, eventType string, now time.Time) error {
	meta := Meta{SessionID: sessionID, CreatedAt: now}
	if data, err := os.ReadFile(s.metaPath(sessionID)); err == nil {
		var existing Meta
		if err := json.Unmarshal(data, &existing); err == nil {
			meta = existing
		}
	}

	meta.UpdatedAt = now
	if eventType == EventTurnCompleted {
		meta.Turns++
	}
	if strings.Contains(eventType, "error") {
		meta.Errors++
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(s.metaPath(sessionID), data, 0o644)
}

// ListSessions enumerates sidecar meta files, newest updatedAt first.
// Unreadable or unparsable entries are skipped.
func (s *Store) ListSessions() ([]Meta, error) {
	if !s.enabled {
		return []Meta{}, nil
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Meta{}, nil
		}
		return nil, fmt.Errorf("read journal dir: %w", err)
	}

	metas := make([]Meta, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".meta.json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			log.Printf("[journal] skipping unreadable meta %s: %v", entry.Name(), err)
			continue
		}
		var meta Meta
		if err := json.Unmarshal(data, &meta); err != nil {
			log.Printf("[journal] skipping malformed meta %s: %v", entry.Name(), err)
			continue
		}
		metas = append(metas, meta)
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas, nil
}

// Events streams the session log, skipping blank and malformed lines.
// A missing file yields an empty slice.
func (s *Store) Events(sessionID string) ([]Event, error) {
	if !s.enabled || !validSessionID(sessionID) {
		return []Event{}, nil
	}

	file, err := os.Open(s.eventsPath(sessionID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Event{}, nil
		}
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	events := []Event{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var event Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("scan journal: %w", err)
	}
	return events, nil
}

func (s *Store) eventsPath(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".jsonl")
}

func (s *Store) metaPath(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".meta.json")
}

// validSessionID rejects ids that could escape the base directory.
func validSessionID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && id != "." && id != ".."
}
