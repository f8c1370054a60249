package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/Entitled/internal/pkg/subscription"
)

// DefaultLedgerRetention is how long processed event ids are remembered.
const DefaultLedgerRetention = 90 * 24 * time.Hour

// LedgerEntry records one processed provider event.
type LedgerEntry struct {
	Provider  subscription.Provider  `json:"provider"`
	EventID   string                 `json:"event_id"`
	EventType subscription.EventType `json:"event_type"`
	Outcome   Outcome                `json:"outcome"`
	UserID    uint                   `json:"user_id"`
	AppliedAt time.Time              `json:"applied_at"`
}

// Ledger is the idempotency store keyed by (provider, event id).
type Ledger interface {
	// Contains reports whether the event was already processed.
	Contains(ctx context.Context, provider subscription.Provider, eventID string) (bool, error)
	// Append records an entry. Appending an existing key is a no-op.
	Append(ctx context.Context, entry LedgerEntry) error
	// Prune removes up to limit entries applied before cutoff and returns them.
	Prune(ctx context.Context, cutoff time.Time, limit int) ([]LedgerEntry, error)
}

// ArchivesPruned reports whether Prune on l hands removed entries back for archiving.
// Ledgers that let their storage expire entries report false.
func ArchivesPruned(l Ledger) bool {
	e, ok := l.(interface{ ExpiresEntries() bool })
	return !ok || !e.ExpiresEntries()
}

type ledgerKey struct {
	provider subscription.Provider
	eventID  string
}

// MemoryLedger keeps entries in process memory.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[ledgerKey]LedgerEntry
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[ledgerKey]LedgerEntry)}
}

func (l *MemoryLedger) Contains(ctx context.Context, provider subscription.Provider, eventID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[ledgerKey{provider, eventID}]
	return ok, nil
}

func (l *MemoryLedger) Append(ctx context.Context, entry LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := ledgerKey{entry.Provider, entry.EventID}
	if _, ok := l.entries[key]; !ok {
		l.entries[key] = entry
	}
	return nil
}

func (l *MemoryLedger) Prune(ctx context.Context, cutoff time.Time, limit int) ([]LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var pruned []LedgerEntry
	for _, e := range l.entries {
		if e.AppliedAt.Before(cutoff) {
			pruned = append(pruned, e)
		}
	}
	sort.Slice(pruned, func(i, j int) bool { return pruned[i].AppliedAt.Before(pruned[j].AppliedAt) })
	if limit > 0 && len(pruned) > limit {
		pruned = pruned[:limit]
	}
	for _, e := range pruned {
		delete(l.entries, ledgerKey{e.Provider, e.EventID})
	}
	return pruned, nil
}

// Len returns the number of entries.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// RedisLedger stores entries as keys with a TTL equal to the retention, so Redis expires
// them and Prune has nothing to do.
type RedisLedger struct {
	client    *redis.Client
	retention time.Duration
	prefix    string
}

func NewRedisLedger(client *redis.Client, retention time.Duration) *RedisLedger {
	if retention <= 0 {
		retention = DefaultLedgerRetention
	}
	return &RedisLedger{client: client, retention: retention, prefix: "billing:ledger"}
}

func (l *RedisLedger) key(provider subscription.Provider, eventID string) string {
	return fmt.Sprintf("%s:%s:%s", l.prefix, provider, eventID)
}

func (l *RedisLedger) Contains(ctx context.Context, provider subscription.Provider, eventID string) (bool, error) {
	n, err := l.client.Exists(ctx, l.key(provider, eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (l *RedisLedger) Append(ctx context.Context, entry LedgerEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return l.client.SetNX(ctx, l.key(entry.Provider, entry.EventID), data, l.retention).Err()
}

// ExpiresEntries is always true: entries vanish through their TTL.
func (l *RedisLedger) ExpiresEntries() bool { return true }

func (l *RedisLedger) Prune(ctx context.Context, cutoff time.Time, limit int) ([]LedgerEntry, error) {
	return nil, nil
}
