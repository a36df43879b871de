package pipeline

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"feedforge/pkg/logger"
	"feedforge/pkg/store"
)

const (
	lockKey      = "lock:process"
	lockOwnerKey = "lock:owner"
	heartbeatKey = "lock:heartbeat"

	maxAcquireAttempts = 4
)

// heartbeat is the best-effort liveness record written next to the lock.
// It outlives a flaky lock entry and lets checkers tell "probably still
// running" from "dead".
type heartbeat struct {
	Timestamp time.Time `json:"ts"`
	Owner     string    `json:"owner"`
	Context   string    `json:"ctx,omitempty"`
}

// LockManager implements the cross-request process lock: a single KV
// value "<unix-nano>_<rand>_<owner-id>" with a TTL, owner verification
// on every mutation and stale reclamation. It is the only true mutual
// exclusion primitive in the pipeline.
type LockManager struct {
	kv           store.KV
	ttl          time.Duration
	staleAfter   time.Duration
	heartbeatTTL time.Duration

	nowFn   func() time.Time
	sleepFn func(time.Duration)
}

// NewLockManager builds a lock manager. The heartbeat TTL is pinned to
// twice the refresh interval so a single missed refresh never reads as
// death.
func NewLockManager(kv store.KV, ttl, staleAfter, refreshEvery time.Duration) *LockManager {
	return &LockManager{
		kv:           kv,
		ttl:          ttl,
		staleAfter:   staleAfter,
		heartbeatTTL: 2 * refreshEvery,
		nowFn:        time.Now,
		sleepFn:      time.Sleep,
	}
}

func (m *LockManager) lockValue(owner string) string {
	return fmt.Sprintf("%d_%s_%s", m.nowFn().UnixNano(), uuid.NewString()[:8], owner)
}

// parseLock splits a lock value into its stamp and owner id. Malformed
// values read as infinitely old so they are always reclaimable.
func parseLock(v string) (time.Time, string) {
	parts := strings.SplitN(v, "_", 3)
	if len(parts) != 3 {
		return time.Time{}, ""
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, parts[2]
	}
	return time.Unix(0, nanos), parts[2]
}

// Acquire takes the process lock for a new run and returns the fresh
// owner id. Writes are verified by re-read to catch lost races; a bounded
// number of randomized retries smooths over overlapping cron fires.
func (m *LockManager) Acquire() (string, error) {
	for attempt := 0; attempt < maxAcquireAttempts; attempt++ {
		if cur, err := m.kv.Get(lockKey); err == nil {
			stamp, holder := parseLock(cur)
			if m.nowFn().Sub(stamp) < m.staleAfter {
				metricLockContention.Inc()
				m.backoff()
				continue
			}
			logger.Warn("lock_stale_reclaimed", "holder", holder, "age", m.nowFn().Sub(stamp).String())
			_ = m.kv.Delete(lockKey)
		}

		owner := uuid.NewString()
		val := m.lockValue(owner)
		if err := m.kv.SetTTL(lockKey, []byte(val), m.ttl); err != nil {
			return "", fmt.Errorf("write lock: %w", err)
		}
		check, err := m.kv.Get(lockKey)
		if err != nil || check != val {
			// lost the race to a concurrent writer
			metricLockContention.Inc()
			m.backoff()
			continue
		}
		if err := m.kv.Set(lockOwnerKey, []byte(owner)); err != nil {
			return "", fmt.Errorf("record lock owner: %w", err)
		}
		m.writeHeartbeat(owner, "acquire")
		return owner, nil
	}
	return "", ErrLockUnavailable
}

func (m *LockManager) backoff() {
	m.sleepFn(time.Duration(50+rand.Intn(150)) * time.Millisecond)
}

// Held reports whether a live, non-stale lock exists. Stale locks are
// cleared as a side effect.
func (m *LockManager) Held() bool {
	cur, err := m.kv.Get(lockKey)
	if err != nil {
		return false
	}
	stamp, _ := parseLock(cur)
	if m.nowFn().Sub(stamp) >= m.staleAfter {
		_ = m.kv.Delete(lockKey)
		return false
	}
	return true
}

// IsRunning reports whether someone other than caller effectively holds
// the lock. When the lock entry is missing a fresh heartbeat still
// counts: KV stores that drop entries under pressure must not trigger a
// duplicate run.
func (m *LockManager) IsRunning(caller string) bool {
	if cur, err := m.kv.Get(lockKey); err == nil {
		stamp, holder := parseLock(cur)
		if holder == caller {
			return false
		}
		if m.nowFn().Sub(stamp) >= m.staleAfter {
			_ = m.kv.Delete(lockKey)
			return false
		}
		return true
	}
	hb, ok := m.readHeartbeat()
	return ok && hb.Owner != caller
}

// HeartbeatFresh reports whether a live heartbeat exists.
func (m *LockManager) HeartbeatFresh() bool {
	_, ok := m.readHeartbeat()
	return ok
}

// KeepAlive re-stamps the heartbeat without holding the lock. A
// suspended run uses it so checkers keep seeing the run as alive while
// the continuation request is in flight.
func (m *LockManager) KeepAlive(owner string) {
	m.writeHeartbeat(owner, "suspend")
}

// ClearHeartbeat drops the liveness record. Only callers with
// independent evidence the run is dead (stalled output file, elapsed
// grace period) may use it.
func (m *LockManager) ClearHeartbeat() {
	_ = m.kv.Delete(heartbeatKey)
}

// Refresh re-stamps the lock and extends its TTL. Only the owner may
// refresh; a missing lock means it was reclaimed and the run must abort.
func (m *LockManager) Refresh(owner string) error {
	cur, err := m.kv.Get(lockKey)
	if err != nil {
		return ErrLockLost
	}
	if _, holder := parseLock(cur); holder != owner {
		return ErrNotOwner
	}
	if err := m.kv.SetTTL(lockKey, []byte(m.lockValue(owner)), m.ttl); err != nil {
		return fmt.Errorf("refresh lock: %w", err)
	}
	m.writeHeartbeat(owner, "refresh")
	return nil
}

// Release drops the lock. Calls from non-owners are warned and ignored;
// another slice may have legitimately reclaimed and finished already.
func (m *LockManager) Release(owner string) error {
	if rec, err := m.kv.Get(lockOwnerKey); err == nil {
		if rec != owner {
			logger.Warn("lock_release_not_owner", "caller", owner, "owner", rec)
			return nil
		}
	} else {
		// owner record already gone: fall back to the owner id embedded
		// in the lock value. A stale duplicate release must not delete a
		// lock a concurrent acquire wrote moments ago.
		cur, lockErr := m.kv.Get(lockKey)
		if lockErr != nil {
			return nil
		}
		if _, holder := parseLock(cur); holder != owner {
			logger.Warn("lock_release_not_owner", "caller", owner, "owner", holder)
			return nil
		}
	}
	if err := m.kv.Delete(lockKey); err != nil {
		return fmt.Errorf("delete lock: %w", err)
	}
	_ = m.kv.Delete(lockOwnerKey)
	if hb, ok := m.readHeartbeat(); ok && hb.Owner == owner {
		_ = m.kv.Delete(heartbeatKey)
	}
	return nil
}

func (m *LockManager) writeHeartbeat(owner, ctx string) {
	data, err := json.Marshal(heartbeat{Timestamp: m.nowFn(), Owner: owner, Context: ctx})
	if err != nil {
		return
	}
	if err := m.kv.SetTTL(heartbeatKey, data, m.heartbeatTTL); err != nil {
		logger.Debug("heartbeat_write_failed", "error", err)
	}
}

func (m *LockManager) readHeartbeat() (heartbeat, bool) {
	data, err := m.kv.Get(heartbeatKey)
	if err != nil {
		return heartbeat{}, false
	}
	var hb heartbeat
	if err := json.Unmarshal([]byte(data), &hb); err != nil {
		return heartbeat{}, false
	}
	return hb, true
}
