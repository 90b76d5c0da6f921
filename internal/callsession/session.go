// Package callsession persists the per-call state shared by the webhook
// chain: the ranked candidate list, the resolved flag and assorted history
// facts. Every operation goes straight to Redis; dial attempts are spaced
// tens of seconds apart and may be served by different process instances,
// so nothing is cached in memory.
package callsession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrNotFound = errors.New("callsession: session not found")
)

// Well-known history fields, mirrored in the analytics exports.
const (
	FieldCallStart       = "call_start_time"
	FieldCallEnd         = "call_end_time"
	FieldHelpersContacted = "n_helpers_contacted"
	FieldMatchFound      = "match_found"
)

const (
	keyPrefix = "call:"

	fieldCreatedAt  = "created_at"
	fieldCandidates = "candidates"
	fieldResolved   = "resolved"

	// Sessions outlive the longest plausible dial chain by a wide margin
	// and are then garbage collected.
	sessionTTL = 24 * time.Hour
)

// resolveScript flips resolved 0→1 exactly once.
// Returns 1 if this caller won the transition, 0 if the session was
// already resolved, -1 if no session exists.
var resolveScript = redis.NewScript(`
-- KEYS[1] = session key
-- ARGV[1] = resolved_at timestamp
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HSETNX', KEYS[1], 'resolved', '1') == 1 then
  redis.call('HSET', KEYS[1], 'resolved_at', ARGV[1])
  return 1
end
return 0
`)

// Sessions is the Redis-backed call-session store.
type Sessions struct {
	rdb *redis.Client
	now func() time.Time
}

func New(rdb *redis.Client) *Sessions {
	return &Sessions{rdb: rdb, now: time.Now}
}

func key(callID string) string { return keyPrefix + callID }

// Create initializes a session for a provider call id. Calling it again
// for the same id is a no-op; an existing session is never reset.
func (s *Sessions) Create(ctx context.Context, callID string) error {
	if callID == "" {
		return fmt.Errorf("callsession: call id is required")
	}
	k := key(callID)
	created, err := s.rdb.HSetNX(ctx, k, fieldCreatedAt, s.now().UTC().Format(time.RFC3339)).Result()
	if err != nil {
		return err
	}
	if created {
		_ = s.rdb.Expire(ctx, k, sessionTTL).Err()
	}
	return nil
}

// SetCandidates stores the ranked helper list exactly once. A second write
// for the same call id is ignored: the list is immutable after ranking.
func (s *Sessions) SetCandidates(ctx context.Context, callID string, candidates []string) error {
	raw, err := json.Marshal(candidates)
	if err != nil {
		return err
	}
	return s.rdb.HSetNX(ctx, key(callID), fieldCandidates, raw).Err()
}

// Candidates returns the ranked helper list written at postcode time.
func (s *Sessions) Candidates(ctx context.Context, callID string) ([]string, error) {
	raw, err := s.rdb.HGet(ctx, key(callID), fieldCandidates).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("callsession: corrupt candidate list for %s: %w", callID, err)
	}
	return out, nil
}

// TryResolve attempts the single false→true transition of the resolved
// flag. Exactly one caller per call id ever gets won=true; that caller is
// the only one allowed to commit a pairing.
func (s *Sessions) TryResolve(ctx context.Context, callID string) (bool, error) {
	res, err := resolveScript.Run(ctx, s.rdb, []string{key(callID)}, s.now().UTC().Format(time.RFC3339)).Int()
	if err != nil {
		return false, err
	}
	switch res {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, ErrNotFound
	}
}

// MarkResolved terminates the session without caring who wins the
// transition (cancellation and exhaustion paths).
func (s *Sessions) MarkResolved(ctx context.Context, callID string) error {
	_, err := s.TryResolve(ctx, callID)
	if errors.Is(err, ErrNotFound) {
		// A hangup can arrive for a call that never got a session.
		return nil
	}
	return err
}

// IsResolved reports whether the session reached a terminal state.
// A missing session counts as resolved: no dial step may act on it.
func (s *Sessions) IsResolved(ctx context.Context, callID string) (bool, error) {
	v, err := s.rdb.HGet(ctx, key(callID), fieldResolved).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			exists, eerr := s.rdb.Exists(ctx, key(callID)).Result()
			if eerr != nil {
				return false, eerr
			}
			return exists == 0, nil
		}
		return false, err
	}
	return v == "1", nil
}

// SetField records a history fact (analytics, match flags) on the session.
func (s *Sessions) SetField(ctx context.Context, callID, field, value string) error {
	return s.rdb.HSet(ctx, key(callID), field, value).Err()
}

// Field reads a history fact; empty string when unset.
func (s *Sessions) Field(ctx context.Context, callID, field string) (string, error) {
	v, err := s.rdb.HGet(ctx, key(callID), field).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	return v, nil
}
