// Package collab implements multi-participant editing sessions over a shared
// workflow document: join/leave lifecycle, cursor broadcast, advisory
// resource locks with expiry, and debounced conflict-resolved edit batches.
package collab

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orchestrahq/orchestra/config"
	"github.com/orchestrahq/orchestra/event"
	"github.com/orchestrahq/orchestra/types"
)

// session wraps the shared record with the edit buffer and debounce state.
// Owned by the manager's mutex.
type session struct {
	record  *types.CollaborationSession
	pending []types.Edit
	timer   *time.Timer

	// readers tracks shared read locks per resource and participant. The
	// single slot in SharedContext.Locks holds only write and exclusive
	// locks; reads are compatible with everything and live here.
	readers map[string]map[string]*types.Lock
}

// Manager owns all collaboration sessions. Shared state is only mutated
// through its methods; callers receive snapshots, never live references.
type Manager struct {
	cfg      config.CollabConfig
	resolver Resolver
	bus      event.Bus
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewManager creates a manager and starts the expired-lock reaper.
func NewManager(cfg config.CollabConfig, bus event.Bus, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:      cfg,
		resolver: NewResolver(cfg.Strategy),
		bus:      bus,
		logger:   logger.With(zap.String("component", "collab_manager")),
		sessions: make(map[string]*session),
		done:     make(chan struct{}),
	}
	m.wg.Add(1)
	go m.reapLoop()
	return m
}

// CreateSession opens a session on a workflow document. The creator becomes
// the owner with full permissions.
func (m *Manager) CreateSession(workflowID, participantID, participantName string) (string, error) {
	now := time.Now()
	record := &types.CollaborationSession{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		Status:     types.SessionActive,
		Participants: []*types.Participant{{
			ID:       participantID,
			Name:     participantName,
			Role:     types.RoleOwner,
			JoinedAt: now,
			LastSeen: now,
			Active:   true,
		}},
		SharedContext: &types.SharedContext{
			Data:        make(map[string]any),
			Locks:       make(map[string]*types.Lock),
			Version:     0,
			LastUpdated: now,
		},
		CreatedAt: now,
	}

	m.mu.Lock()
	m.sessions[record.ID] = &session{record: record, readers: make(map[string]map[string]*types.Lock)}
	m.mu.Unlock()

	m.logger.Info("session created",
		zap.String("session_id", record.ID),
		zap.String("workflow_id", workflowID),
		zap.String("owner", participantID),
	)
	m.publish(event.NewSessionEvent(event.SessionCreated, record.ID, workflowID, types.SessionActive))
	m.publish(event.NewParticipantEvent(event.ParticipantJoined, record.ID, participantID, types.RoleOwner))
	return record.ID, nil
}

// Join adds a participant as a contributor. Re-joining reactivates an
// existing participant; a paused session resumes.
func (m *Manager) Join(sessionID, participantID, participantName string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return types.NewErrorf(types.ErrValidationFailed, "session %q not found", sessionID)
	}

	now := time.Now()
	for _, p := range s.record.Participants {
		if p.ID == participantID {
			p.Active = true
			p.LastSeen = now
			s.record.Status = types.SessionActive
			m.mu.Unlock()
			m.publish(event.NewParticipantEvent(event.ParticipantJoined, sessionID, participantID, p.Role))
			return nil
		}
	}

	active := 0
	for _, p := range s.record.Participants {
		if p.Active {
			active++
		}
	}
	if active >= m.cfg.MaxParticipants {
		m.mu.Unlock()
		return types.NewErrorf(types.ErrSessionFull,
			"session %q already has %d active participants", sessionID, active)
	}

	s.record.Participants = append(s.record.Participants, &types.Participant{
		ID:       participantID,
		Name:     participantName,
		Role:     types.RoleContributor,
		JoinedAt: now,
		LastSeen: now,
		Active:   true,
	})
	s.record.Status = types.SessionActive
	m.mu.Unlock()

	m.publish(event.NewParticipantEvent(event.ParticipantJoined, sessionID, participantID, types.RoleContributor))
	return nil
}

// Leave deactivates a participant, releases their locks, and clears their
// cursor and selection. The session auto-pauses when nobody active remains.
func (m *Manager) Leave(sessionID, participantID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return types.NewErrorf(types.ErrValidationFailed, "session %q not found", sessionID)
	}

	var released []string
	for resource, lock := range s.record.SharedContext.Locks {
		if lock.HolderID == participantID {
			delete(s.record.SharedContext.Locks, resource)
			released = append(released, resource)
		}
	}
	for resource, holders := range s.readers {
		if _, ok := holders[participantID]; ok {
			delete(holders, participantID)
			if len(holders) == 0 {
				delete(s.readers, resource)
			}
			released = append(released, resource)
		}
	}

	active := 0
	for _, p := range s.record.Participants {
		if p.ID == participantID {
			p.Active = false
			p.Cursor = nil
			p.Selection = nil
			p.LastSeen = time.Now()
		}
		if p.Active {
			active++
		}
	}

	paused := false
	if active == 0 && s.record.Status == types.SessionActive {
		s.record.Status = types.SessionPaused
		paused = true
	}
	workflowID := s.record.WorkflowID
	m.mu.Unlock()

	for _, resource := range released {
		m.publish(event.NewLockEvent(event.LockReleased, sessionID, resource, participantID, ""))
	}
	m.publish(event.NewParticipantEvent(event.ParticipantLeft, sessionID, participantID, ""))
	if paused {
		m.logger.Info("session paused, no active participants", zap.String("session_id", sessionID))
		m.publish(event.NewSessionEvent(event.SessionPaused, sessionID, workflowID, types.SessionPaused))
	}
	return nil
}

// UpdateCursor records a participant's cursor and selection for broadcast.
func (m *Manager) UpdateCursor(sessionID, participantID string, cursor *types.CursorPosition, selection *types.SelectionRange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return types.NewErrorf(types.ErrValidationFailed, "session %q not found", sessionID)
	}
	for _, p := range s.record.Participants {
		if p.ID == participantID {
			p.Cursor = cursor
			p.Selection = selection
			p.LastSeen = time.Now()
			return nil
		}
	}
	return types.NewErrorf(types.ErrValidationFailed, "participant %q not in session", participantID)
}

// Session returns a deep-enough snapshot of a session for read access.
func (m *Manager) Session(sessionID string) (*types.CollaborationSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return snapshotSession(s.record), true
}

func snapshotSession(r *types.CollaborationSession) *types.CollaborationSession {
	out := &types.CollaborationSession{
		ID:         r.ID,
		WorkflowID: r.WorkflowID,
		Status:     r.Status,
		CreatedAt:  r.CreatedAt,
		SharedContext: &types.SharedContext{
			Data:        make(map[string]any, len(r.SharedContext.Data)),
			Locks:       make(map[string]*types.Lock, len(r.SharedContext.Locks)),
			Version:     r.SharedContext.Version,
			LastUpdated: r.SharedContext.LastUpdated,
		},
	}
	for k, v := range r.SharedContext.Data {
		out.SharedContext.Data[k] = v
	}
	for k, v := range r.SharedContext.Locks {
		lock := *v
		out.SharedContext.Locks[k] = &lock
	}
	for _, p := range r.Participants {
		participant := *p
		out.Participants = append(out.Participants, &participant)
	}
	return out
}

func (m *Manager) publish(ev event.Event) {
	if m.bus != nil {
		m.bus.Publish(ev)
	}
}

// Shutdown stops the reaper and all pending debounce timers.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() {
		close(m.done)
	})
	m.wg.Wait()

	m.mu.Lock()
	for _, s := range m.sessions {
		if s.timer != nil {
			s.timer.Stop()
		}
		s.record.Status = types.SessionClosed
	}
	m.mu.Unlock()
}
