package draft

import (
	"fmt"
	"sync"
	"time"
)

// maxRejections bounds the per-store rejection log.
const maxRejections = 200

// Store manages one draft per session. Merges are atomic per call:
// either every coercible non-null field lands, or (on input that
// yields nothing) the draft is untouched. Different sessions may be
// merged concurrently; a single session is single-writer per turn by
// the agent loop's scheduling.
type Store struct {
	mu         sync.RWMutex
	drafts     map[string]*Draft
	rejections []Rejection
}

// NewStore creates an empty draft store.
func NewStore() *Store {
	return &Store{
		drafts: make(map[string]*Draft),
	}
}

// Get returns a copy of the session's draft, or nil if none exists.
func (s *Store) Get(sessionID string) *Draft {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.drafts[sessionID]
	if !ok {
		return nil
	}
	return d.copy()
}

// Merge applies fields to the session's draft, creating it if absent.
// Per-field semantics: a non-null, coercible value overwrites the
// previous value; null/empty/unknown fields are silently dropped and
// recorded as rejections. Returns a copy of the merged draft.
//
// The merge is atomic: the stored map is only replaced once the full
// candidate has been built, so a caller retrying after an error never
// observes a half-applied draft.
func (s *Store) Merge(sessionID string, fields map[string]any) (*Draft, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	d, ok := s.drafts[sessionID]
	if !ok {
		d = &Draft{
			SessionID: sessionID,
			Fields:    make(map[string]any),
			CreatedAt: now,
		}
	}

	// Build the candidate off to the side.
	merged := d.copy()
	applied := 0
	for name, raw := range fields {
		v, ok := coerce(name, raw)
		if !ok {
			s.recordRejection(sessionID, name, raw, now)
			continue
		}
		merged.Fields[name] = v
		applied++
	}

	if applied > 0 || !ok {
		merged.UpdatedAt = now
		s.drafts[sessionID] = merged
	}

	return merged.copy(), nil
}

// Clear removes the session's draft. Used when the session is archived
// or the draft is finalized. Clearing an absent draft is a no-op.
func (s *Store) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, sessionID)
}

// Count returns the number of live drafts.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.drafts)
}

// recordRejection appends to the bounded rejection log. Caller holds s.mu.
func (s *Store) recordRejection(sessionID, field string, value any, at time.Time) {
	s.rejections = append(s.rejections, Rejection{
		SessionID: sessionID,
		Field:     field,
		Value:     fmt.Sprintf("%v", value),
		Reason:    rejectionReason(field),
		At:        at,
	})
	if len(s.rejections) > maxRejections {
		s.rejections = s.rejections[len(s.rejections)-maxRejections:]
	}
}

// Rejections returns a copy of the recent rejection log, newest last.
func (s *Store) Rejections() []Rejection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Rejection, len(s.rejections))
	copy(out, s.rejections)
	return out
}
