package lock

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/rahvis/VideoForge/internal/model"
	"github.com/rahvis/VideoForge/internal/store"

	"github.com/google/uuid"
)

// Key is the single lock gating the orchestrator. One deployment, one
// pipeline, one key.
const Key = "video-processing"

// Manager wraps the store's lock row with an owner identity and a
// default lease. Acquire never blocks; callers refuse work on false.
type Manager struct {
	store   *store.Store
	owner   string
	timeout time.Duration
	log     *slog.Logger
}

func NewManager(st *store.Store, timeout time.Duration, logger *slog.Logger) *Manager {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "videoforge"
	}
	return &Manager{
		store:   st,
		owner:   fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
		timeout: timeout,
		log:     logger,
	}
}

func (m *Manager) Owner() string {
	return m.owner
}

func (m *Manager) Acquire(meta model.LockMetadata) (bool, error) {
	ok, err := m.store.AcquireLock(Key, m.owner, meta, m.timeout)
	if err != nil {
		return false, fmt.Errorf("acquire processing lock: %w", err)
	}
	if ok {
		m.log.Info("lock_acquired", "owner", m.owner, "video_id", meta.VideoID, "ttl", m.timeout)
	}
	return ok, nil
}

func (m *Manager) Release() {
	released, err := m.store.ReleaseLock(Key)
	if err != nil {
		m.log.Error("lock_release_failed", "owner", m.owner, "error", err)
		return
	}
	if released {
		m.log.Info("lock_released", "owner", m.owner)
	}
}

// Extend renews the lease from now. Used as a heartbeat after each
// segment so a long run never outlives its lock.
func (m *Manager) Extend() {
	ok, err := m.store.ExtendLock(Key, m.owner, m.timeout)
	if err != nil {
		m.log.Error("lock_extend_failed", "owner", m.owner, "error", err)
		return
	}
	if !ok {
		m.log.Warn("lock_extend_lost", "owner", m.owner)
	}
}

// Held reports whether any live holder has the lock, expiring lazily.
func (m *Manager) Held() (bool, model.ProcessingLock, error) {
	lock, err := m.store.GetLock(Key)
	if err != nil {
		return false, model.ProcessingLock{}, err
	}
	return lock.IsLocked, lock, nil
}

// StartSweeper clears expired lock rows on a fixed cadence until stop
// is closed.
func (m *Manager) StartSweeper(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				n, err := m.store.SweepLocks()
				if err != nil {
					m.log.Error("lock_sweep_failed", "error", err)
					continue
				}
				if n > 0 {
					m.log.Info("lock_sweep", "expired", n)
				}
			}
		}
	}()
}
