// Package cache provides the read-through response cache used by the
// planner, intent parser, and explanation engine. Entries are JSON blobs
// keyed by a prefix plus a hash of the request parameters.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"time"
)

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache miss")

// TTLs per response family. Chosen so volatile answers age out quickly
// while stable knowledge sticks around.
const (
	TTLIntent      = 2 * time.Hour
	TTLPolicy      = 24 * time.Hour
	TTLTrip        = 30 * time.Minute
	TTLDealSearch  = 10 * time.Minute
	TTLExplanation = 1 * time.Hour
)

// Cache stores serialized responses with a per-entry TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Key builds a deterministic cache key from a prefix and the request
// parts. Parts are normalized (lower-cased, sorted) so equivalent requests
// share an entry regardless of argument order.
func Key(prefix string, parts ...string) string {
	normalized := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			normalized = append(normalized, p)
		}
	}
	sort.Strings(normalized)
	sum := sha256.Sum256([]byte(strings.Join(normalized, "|")))
	return prefix + ":" + hex.EncodeToString(sum[:16])
}
