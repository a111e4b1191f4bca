package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rafaeljc/giftrules/internal/ruleengine"
)

// Session hash fields. They are part of the storage contract and must stay stable.
const (
	FieldAvailableGifts = "available_gifts"
	FieldRulesRevision  = "rules_rev"
	FieldCartFP         = "cart_fp"
	FieldUsageRevision  = "usage_rev"
	FieldValidUntil     = "valid_until"
)

// SessionEntry is the cached evaluation result of one shopper session.
type SessionEntry struct {
	Eligibility     ruleengine.Eligibility
	RulesRevision   int64
	UsageRevision   int64
	CartFingerprint string
	// ValidUntil is the next rule date boundary after evaluation. Zero means none.
	ValidUntil time.Time
}

// Expired reports whether a rule date window opened or closed since evaluation.
func (e *SessionEntry) Expired(now time.Time) bool {
	return !e.ValidUntil.IsZero() && !now.Before(e.ValidUntil)
}

// SessionStore keeps the last eligibility of every session in a Redis hash
// ("<prefix>:session:<id>"). The TTL only bounds storage: freshness is decided
// by the caller from the revisions, the fingerprint and ValidUntil.
type SessionStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewSessionStore creates a session store. ttl is refreshed on every save.
func NewSessionStore(client redis.Cmdable, prefix string, ttl time.Duration) *SessionStore {
	if client == nil {
		panic("cache: redis client cannot be nil")
	}
	return &SessionStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *SessionStore) key(sessionID string) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, sessionID)
}

// Load returns the cached entry. The boolean is false when the session has none.
// A malformed entry is reported as an error so the caller can re-evaluate and overwrite it.
func (s *SessionStore) Load(ctx context.Context, sessionID string) (*SessionEntry, bool, error) {
	fields, err := s.client.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to load session %q: %w", sessionID, err)
	}

	raw, ok := fields[FieldAvailableGifts]
	if !ok {
		return nil, false, nil
	}

	entry := &SessionEntry{CartFingerprint: fields[FieldCartFP]}

	if err := json.Unmarshal([]byte(raw), &entry.Eligibility); err != nil {
		return nil, false, fmt.Errorf("corrupted eligibility in session %q: %w", sessionID, err)
	}
	if entry.Eligibility == nil {
		entry.Eligibility = ruleengine.Eligibility{}
	}

	if entry.RulesRevision, err = parseIntField(fields, FieldRulesRevision); err != nil {
		return nil, false, fmt.Errorf("corrupted rules revision in session %q: %w", sessionID, err)
	}
	if entry.UsageRevision, err = parseIntField(fields, FieldUsageRevision); err != nil {
		return nil, false, fmt.Errorf("corrupted usage revision in session %q: %w", sessionID, err)
	}
	validUntil, err := parseIntField(fields, FieldValidUntil)
	if err != nil {
		return nil, false, fmt.Errorf("corrupted validity in session %q: %w", sessionID, err)
	}
	if validUntil > 0 {
		entry.ValidUntil = time.Unix(0, validUntil).UTC()
	}

	return entry, true, nil
}

// Save writes every field and refreshes the TTL in a single transaction.
func (s *SessionStore) Save(ctx context.Context, sessionID string, entry SessionEntry) error {
	eligibility := entry.Eligibility
	if eligibility == nil {
		eligibility = ruleengine.Eligibility{}
	}

	payload, err := json.Marshal(eligibility)
	if err != nil {
		return fmt.Errorf("failed to encode eligibility: %w", err)
	}

	var validUntil int64
	if !entry.ValidUntil.IsZero() {
		validUntil = entry.ValidUntil.UnixNano()
	}

	key := s.key(sessionID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			FieldAvailableGifts, payload,
			FieldRulesRevision, entry.RulesRevision,
			FieldUsageRevision, entry.UsageRevision,
			FieldCartFP, entry.CartFingerprint,
			FieldValidUntil, validUntil,
		)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save session %q: %w", sessionID, err)
	}
	return nil
}

// Clear removes the cached eligibility of the session.
func (s *SessionStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to clear session %q: %w", sessionID, err)
	}
	return nil
}

// parseIntField reads an optional integer hash field. Missing fields read as 0.
func parseIntField(fields map[string]string, name string) (int64, error) {
	raw := fields[name]
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
