package collab

import (
	"strings"

	"github.com/orchestrahq/orchestra/types"
)

// applyEdit mutates the shared document in place. Paths are dot-separated;
// the Index field addresses positions inside array values. Unknown
// intermediate segments are created as nested maps.
func applyEdit(data map[string]any, e types.Edit) {
	switch e.Kind {
	case types.EditInsert:
		insertAt(data, e.Path, e.Index, e.Value)
	case types.EditReplace:
		setPath(data, e.Path, e.Value)
	case types.EditDelete:
		deleteAt(data, e.Path, e.Index)
	case types.EditMove:
		if v, ok := getPath(data, e.Path); ok {
			deleteAt(data, e.Path, -1)
			setPath(data, e.TargetPath, v)
		}
	}
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// parent walks to the map holding the final path segment, creating
// intermediate maps as needed.
func parent(data map[string]any, segs []string) (map[string]any, string, bool) {
	if len(segs) == 0 {
		return nil, "", false
	}
	current := data
	for _, seg := range segs[:len(segs)-1] {
		next, ok := current[seg]
		if !ok {
			created := make(map[string]any)
			current[seg] = created
			current = created
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return nil, "", false
		}
		current = m
	}
	return current, segs[len(segs)-1], true
}

func getPath(data map[string]any, path string) (any, bool) {
	m, key, ok := parent(data, splitPath(path))
	if !ok {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

func setPath(data map[string]any, path string, value any) {
	if m, key, ok := parent(data, splitPath(path)); ok {
		m[key] = value
	}
}

// insertAt inserts into an array value at index, clamping out-of-range
// positions. A non-array target degrades to a plain set.
func insertAt(data map[string]any, path string, index int, value any) {
	m, key, ok := parent(data, splitPath(path))
	if !ok {
		return
	}
	arr, isArr := m[key].([]any)
	if !isArr {
		if _, exists := m[key]; !exists {
			m[key] = []any{value}
			return
		}
		m[key] = value
		return
	}
	if index < 0 {
		index = 0
	}
	if index > len(arr) {
		index = len(arr)
	}
	arr = append(arr, nil)
	copy(arr[index+1:], arr[index:])
	arr[index] = value
	m[key] = arr
}

// deleteAt removes an array element at index, or the whole key when index
// is negative or the value is not an array.
func deleteAt(data map[string]any, path string, index int) {
	m, key, ok := parent(data, splitPath(path))
	if !ok {
		return
	}
	if arr, isArr := m[key].([]any); isArr && index >= 0 {
		if index >= len(arr) {
			return
		}
		m[key] = append(arr[:index], arr[index+1:]...)
		return
	}
	delete(m, key)
}
