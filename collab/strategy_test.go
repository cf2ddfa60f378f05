package collab

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchestrahq/orchestra/types"
)

func editAt(participant, path string, kind types.EditKind, value any, offset time.Duration) types.Edit {
	return types.Edit{
		ID:            fmt.Sprintf("%s-%s-%d", participant, path, offset),
		ParticipantID: participant,
		Kind:          kind,
		Path:          path,
		Value:         value,
		Timestamp:     time.Unix(0, 0).Add(offset),
	}
}

func TestNewResolverFallback(t *testing.T) {
	assert.Equal(t, "last-write-wins", NewResolver("").Name())
	assert.Equal(t, "last-write-wins", NewResolver("bogus").Name())
	assert.Equal(t, "operational-transform", NewResolver("operational-transform").Name())
	assert.Equal(t, "crdt", NewResolver("crdt").Name())
}

func TestLastWriteWins(t *testing.T) {
	// Submitted out of order; the later timestamp must win.
	batch := []types.Edit{
		editAt("bob", "title", types.EditReplace, "second", 2*time.Millisecond),
		editAt("alice", "title", types.EditReplace, "first", time.Millisecond),
	}

	data := map[string]any{}
	for _, e := range (&LastWriteWins{}).Resolve(batch) {
		applyEdit(data, e)
	}
	assert.Equal(t, "second", data["title"])
}

func TestOperationalTransformShiftsIndexes(t *testing.T) {
	// Both participants edit the same array concurrently against the same
	// base ["a", "b"]. Alice inserts "x" at the head; Bob deletes "b",
	// which sat at index 1 when he issued the edit.
	batch := []types.Edit{
		{ID: "e2", ParticipantID: "bob", Kind: types.EditDelete, Path: "items", Index: 1, Timestamp: time.Unix(0, 2)},
		{ID: "e1", ParticipantID: "alice", Kind: types.EditInsert, Path: "items", Index: 0, Value: "x", Timestamp: time.Unix(0, 1)},
	}

	data := map[string]any{"items": []any{"a", "b"}}
	for _, e := range (&OperationalTransform{}).Resolve(batch) {
		applyEdit(data, e)
	}
	assert.Equal(t, []any{"x", "a"}, data["items"], "delete must target b after the shift")
}

func TestOperationalTransformDifferentPathsUntouched(t *testing.T) {
	batch := []types.Edit{
		{ID: "e1", ParticipantID: "alice", Kind: types.EditInsert, Path: "left", Index: 0, Value: "l", Timestamp: time.Unix(0, 1)},
		{ID: "e2", ParticipantID: "bob", Kind: types.EditInsert, Path: "right", Index: 0, Value: "r", Timestamp: time.Unix(0, 2)},
	}

	out := (&OperationalTransform{}).Resolve(batch)
	require.Len(t, out, 2)
	assert.Equal(t, 0, out[0].Index)
	assert.Equal(t, 0, out[1].Index)
}

func TestCRDTOrderIndependence(t *testing.T) {
	edits := []types.Edit{
		editAt("carol", "k", types.EditReplace, 3, time.Millisecond),
		editAt("alice", "k", types.EditReplace, 1, time.Millisecond),
		editAt("bob", "k", types.EditReplace, 2, 2*time.Millisecond),
	}

	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 100
	properties := gopter.NewProperties(params)

	resolver := &CRDT{}
	canonical := resolver.Resolve(edits)

	properties.Property("every permutation resolves to the same order",
		prop.ForAll(func(i, j int) bool {
			shuffled := append([]types.Edit{}, edits...)
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
			got := resolver.Resolve(shuffled)
			for k := range canonical {
				if got[k].ID != canonical[k].ID {
					return false
				}
			}
			return true
		}, gen.IntRange(0, 2), gen.IntRange(0, 2)))

	properties.TestingRun(t)
}

func TestApplyEditKinds(t *testing.T) {
	data := map[string]any{}

	applyEdit(data, types.Edit{Kind: types.EditReplace, Path: "meta.owner", Value: "alice"})
	applyEdit(data, types.Edit{Kind: types.EditInsert, Path: "tags", Index: 0, Value: "urgent"})
	applyEdit(data, types.Edit{Kind: types.EditInsert, Path: "tags", Index: 99, Value: "review"})
	applyEdit(data, types.Edit{Kind: types.EditMove, Path: "meta.owner", TargetPath: "meta.assignee"})
	applyEdit(data, types.Edit{Kind: types.EditDelete, Path: "tags", Index: 0})

	meta, ok := data["meta"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "alice", meta["assignee"])
	assert.NotContains(t, meta, "owner")
	assert.Equal(t, []any{"review"}, data["tags"])
}
