package types

import "time"

// ParticipantRole defines what a session participant may do.
type ParticipantRole string

const (
	// RoleOwner is granted to the participant that created the session.
	RoleOwner ParticipantRole = "owner"
	// RoleContributor is granted to participants that join an existing session.
	RoleContributor ParticipantRole = "contributor"
)

// CursorPosition is a participant's cursor within the shared document.
type CursorPosition struct {
	Path   string `json:"path"`
	Offset int    `json:"offset"`
}

// SelectionRange is a participant's current selection.
type SelectionRange struct {
	Path  string `json:"path"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Participant is one member of a collaboration session.
type Participant struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Role      ParticipantRole `json:"role"`
	JoinedAt  time.Time       `json:"joined_at"`
	LastSeen  time.Time       `json:"last_seen"`
	Active    bool            `json:"active"`
	Cursor    *CursorPosition `json:"cursor,omitempty"`
	Selection *SelectionRange `json:"selection,omitempty"`
}

// LockType defines lock compatibility semantics.
type LockType string

const (
	// LockRead is shared: any number of read locks may coexist.
	LockRead LockType = "read"
	// LockWrite blocks other write and exclusive locks on the same resource.
	LockWrite LockType = "write"
	// LockExclusive blocks every other lock on the same resource.
	LockExclusive LockType = "exclusive"
)

// Lock is an advisory, time-bounded claim on a resource path.
type Lock struct {
	HolderID   string    `json:"holder_id"`
	Resource   string    `json:"resource"`
	Type       LockType  `json:"type"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the lock has passed its expiry.
func (l *Lock) Expired(now time.Time) bool {
	return !l.ExpiresAt.IsZero() && now.After(l.ExpiresAt)
}

// EditKind is the kind of a path-addressed document operation.
type EditKind string

const (
	EditInsert  EditKind = "insert"
	EditDelete  EditKind = "delete"
	EditReplace EditKind = "replace"
	EditMove    EditKind = "move"
)

// Edit is one path-addressed change to the shared document. Index is used
// for array paths; TargetPath only for move operations.
type Edit struct {
	ID            string    `json:"id"`
	ParticipantID string    `json:"participant_id"`
	Kind          EditKind  `json:"kind"`
	Path          string    `json:"path"`
	Index         int       `json:"index,omitempty"`
	TargetPath    string    `json:"target_path,omitempty"`
	Value         any       `json:"value,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// SharedContext is the mutable shared state of a collaboration session.
type SharedContext struct {
	Data        map[string]any   `json:"data"`
	Locks       map[string]*Lock `json:"locks"`
	Version     int64            `json:"version"`
	LastUpdated time.Time        `json:"last_updated"`
}

// SessionStatus is the lifecycle state of a collaboration session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionPaused SessionStatus = "paused"
	SessionClosed SessionStatus = "closed"
)

// CollaborationSession groups participants editing one workflow document.
type CollaborationSession struct {
	ID            string         `json:"id"`
	WorkflowID    string         `json:"workflow_id"`
	Status        SessionStatus  `json:"status"`
	Participants  []*Participant `json:"participants"`
	SharedContext *SharedContext `json:"shared_context"`
	CreatedAt     time.Time      `json:"created_at"`
}
