package collab

import (
	"sort"

	"github.com/orchestrahq/orchestra/types"
)

// Resolver orders a batch of concurrent edits so that applying them in the
// returned order yields a deterministic merged document.
type Resolver interface {
	Name() string
	Resolve(edits []types.Edit) []types.Edit
}

// NewResolver returns the resolver for a configured strategy name. Unknown
// names fall back to last-write-wins.
func NewResolver(strategy string) Resolver {
	switch strategy {
	case "operational-transform":
		return &OperationalTransform{}
	case "crdt":
		return &CRDT{}
	default:
		return &LastWriteWins{}
	}
}

// LastWriteWins orders edits by timestamp so the latest write to any path is
// applied last and wins.
type LastWriteWins struct{}

// Name implements Resolver.
func (*LastWriteWins) Name() string { return "last-write-wins" }

// Resolve implements Resolver.
func (*LastWriteWins) Resolve(edits []types.Edit) []types.Edit {
	out := append([]types.Edit{}, edits...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// OperationalTransform orders edits by timestamp and transforms each one
// against every earlier edit in the batch. Index-based operations on the
// same array path are shifted past prior inserts and deletes; scalar paths
// degrade to last-write-wins ordering, which is exact for whole-value
// replacement.
type OperationalTransform struct{}

// Name implements Resolver.
func (*OperationalTransform) Name() string { return "operational-transform" }

// Resolve implements Resolver.
func (*OperationalTransform) Resolve(edits []types.Edit) []types.Edit {
	out := (&LastWriteWins{}).Resolve(edits)
	for i := 1; i < len(out); i++ {
		for j := 0; j < i; j++ {
			out[i] = transform(out[i], out[j])
		}
	}
	return out
}

// transform adjusts the index of an edit for the effect of an earlier edit
// on the same array path.
func transform(e, earlier types.Edit) types.Edit {
	if e.Path != earlier.Path {
		return e
	}
	switch earlier.Kind {
	case types.EditInsert:
		if earlier.Index <= e.Index {
			e.Index++
		}
	case types.EditDelete:
		if earlier.Index < e.Index {
			e.Index--
		}
	}
	return e
}

// CRDT resolves conflicts with a deterministic total order: timestamp first,
// participant ID as the tiebreaker. Every replica that applies the same
// batch converges to the same document.
type CRDT struct{}

// Name implements Resolver.
func (*CRDT) Name() string { return "crdt" }

// Resolve implements Resolver.
func (*CRDT) Resolve(edits []types.Edit) []types.Edit {
	out := append([]types.Edit{}, edits...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		if out[i].ParticipantID != out[j].ParticipantID {
			return out[i].ParticipantID < out[j].ParticipantID
		}
		return out[i].ID < out[j].ID
	})
	return out
}
