package collab

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orchestrahq/orchestra/event"
	"github.com/orchestrahq/orchestra/types"
)

// SubmitEdit appends an edit to the session's buffer. The buffer drains
// through a debounce window; the resolved batch is applied atomically and
// the version counter incremented once per batch.
func (m *Manager) SubmitEdit(sessionID string, edit types.Edit) error {
	if edit.ID == "" {
		edit.ID = uuid.New().String()
	}
	if edit.Timestamp.IsZero() {
		edit.Timestamp = time.Now()
	}

	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return types.NewErrorf(types.ErrValidationFailed, "session %q not found", sessionID)
	}
	s.pending = append(s.pending, edit)
	if s.timer == nil {
		s.timer = time.AfterFunc(m.cfg.DebounceWindow, func() {
			m.Flush(sessionID)
		})
	}
	m.mu.Unlock()
	return nil
}

// Flush drains the pending buffer immediately: conflict resolution runs over
// the whole batch, the result is applied to the shared data in one step, and
// an updates broadcast is emitted. Safe to call when the buffer is empty.
func (m *Manager) Flush(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	batch := s.pending
	s.pending = nil
	if len(batch) == 0 {
		m.mu.Unlock()
		return
	}

	resolved := m.resolver.Resolve(batch)
	for _, e := range resolved {
		applyEdit(s.record.SharedContext.Data, e)
	}
	s.record.SharedContext.Version++
	s.record.SharedContext.LastUpdated = time.Now()
	version := s.record.SharedContext.Version
	m.mu.Unlock()

	m.logger.Debug("edit batch applied",
		zap.String("session_id", sessionID),
		zap.String("strategy", m.resolver.Name()),
		zap.Int("edits", len(resolved)),
		zap.Int64("version", version),
	)
	m.publish(event.NewBroadcastEvent(sessionID, version, resolved))
}
