package collab

import (
	"time"

	"go.uber.org/zap"

	"github.com/orchestrahq/orchestra/event"
	"github.com/orchestrahq/orchestra/types"
)

// AcquireLock claims an advisory lock on a resource path. Expired locks are
// reclaimed lazily here regardless of the reaper. Write and exclusive locks
// occupy the single slot in SharedContext.Locks and block each other; read
// locks are shared, never block and are never blocked, and are tracked per
// participant so they release and expire like any other lock.
func (m *Manager) AcquireLock(sessionID, participantID, resource string, lockType types.LockType) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return types.NewErrorf(types.ErrValidationFailed, "session %q not found", sessionID)
	}

	now := time.Now()
	lock := &types.Lock{
		HolderID:   participantID,
		Resource:   resource,
		Type:       lockType,
		AcquiredAt: now,
		ExpiresAt:  now.Add(m.cfg.LockTTL),
	}

	if lockType == types.LockRead {
		holders := s.readers[resource]
		if holders == nil {
			holders = make(map[string]*types.Lock)
			s.readers[resource] = holders
		}
		holders[participantID] = lock
		m.mu.Unlock()
		m.publish(event.NewLockEvent(event.LockAcquired, sessionID, resource, participantID, lockType))
		return nil
	}

	existing := s.record.SharedContext.Locks[resource]
	if existing != nil && existing.Expired(now) {
		delete(s.record.SharedContext.Locks, resource)
		existing = nil
	}
	if existing != nil && existing.HolderID != participantID {
		holder := existing.HolderID
		held := existing.Type
		m.mu.Unlock()
		return types.NewErrorf(types.ErrLockHeld,
			"resource %q is %s-locked by participant %q", resource, held, holder)
	}

	s.record.SharedContext.Locks[resource] = lock
	m.mu.Unlock()

	m.publish(event.NewLockEvent(event.LockAcquired, sessionID, resource, participantID, lockType))
	return nil
}

// ReleaseLock drops a lock; only the holder may release it. Releasing a
// resource the participant holds no lock on is a no-op.
func (m *Manager) ReleaseLock(sessionID, participantID, resource string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return types.NewErrorf(types.ErrValidationFailed, "session %q not found", sessionID)
	}

	if holders := s.readers[resource]; holders != nil {
		if _, held := holders[participantID]; held {
			delete(holders, participantID)
			if len(holders) == 0 {
				delete(s.readers, resource)
			}
			m.mu.Unlock()
			m.publish(event.NewLockEvent(event.LockReleased, sessionID, resource, participantID, types.LockRead))
			return nil
		}
	}

	lock := s.record.SharedContext.Locks[resource]
	if lock == nil {
		m.mu.Unlock()
		return nil
	}
	if lock.HolderID != participantID {
		holder := lock.HolderID
		m.mu.Unlock()
		return types.NewErrorf(types.ErrLockHeld,
			"resource %q lock belongs to participant %q", resource, holder)
	}
	delete(s.record.SharedContext.Locks, resource)
	lockType := lock.Type
	m.mu.Unlock()

	m.publish(event.NewLockEvent(event.LockReleased, sessionID, resource, participantID, lockType))
	return nil
}

// reapLoop periodically sweeps expired locks so a vanished holder cannot
// leave a resource permanently stuck.
func (m *Manager) reapLoop() {
	defer m.wg.Done()
	interval := m.cfg.LockTTL
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.reapExpiredLocks()
		}
	}
}

func (m *Manager) reapExpiredLocks() {
	type reaped struct {
		sessionID string
		resource  string
		holderID  string
		lockType  types.LockType
	}
	var out []reaped

	now := time.Now()
	m.mu.Lock()
	for id, s := range m.sessions {
		for resource, lock := range s.record.SharedContext.Locks {
			if lock.Expired(now) {
				delete(s.record.SharedContext.Locks, resource)
				out = append(out, reaped{sessionID: id, resource: resource, holderID: lock.HolderID, lockType: lock.Type})
			}
		}
		for resource, holders := range s.readers {
			for holderID, lock := range holders {
				if lock.Expired(now) {
					delete(holders, holderID)
					out = append(out, reaped{sessionID: id, resource: resource, holderID: holderID, lockType: types.LockRead})
				}
			}
			if len(holders) == 0 {
				delete(s.readers, resource)
			}
		}
	}
	m.mu.Unlock()

	for _, r := range out {
		m.logger.Debug("expired lock reaped",
			zap.String("session_id", r.sessionID),
			zap.String("resource", r.resource),
			zap.String("holder", r.holderID),
		)
		m.publish(event.NewLockEvent(event.LockReleased, r.sessionID, r.resource, r.holderID, r.lockType))
	}
}
