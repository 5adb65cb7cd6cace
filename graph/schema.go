package graph

import (
	"fmt"
	"maps"
	"reflect"
)

// Reducer merges a new value into the current value held for a state key.
// Reducers are assumed pure: they must not retain or mutate either argument.
type Reducer func(current, update any) (any, error)

// SchemaEntry describes one state key: its zero value and, optionally, the
// reducer used to fold updates into it. A key with no reducer uses
// last-write-wins semantics.
type SchemaEntry struct {
	Key     string
	Default any
	Reducer Reducer
}

// Schema is an ordered sequence of key declarations. Order matters only in
// that a later entry for the same key overwrites an earlier one, including
// its reducer (or the absence of one).
type Schema []SchemaEntry

// Parse preserves schema order and returns the initial state together with
// the reducer table the engine folds updates through.
func (s Schema) Parse() (initial map[string]any, reducers map[string]Reducer) {
	initial = make(map[string]any, len(s))
	reducers = make(map[string]Reducer, len(s))
	for _, entry := range s {
		initial[entry.Key] = entry.Default
		if entry.Reducer != nil {
			reducers[entry.Key] = entry.Reducer
		} else {
			delete(reducers, entry.Key)
		}
	}
	return initial, reducers
}

// ApplyUpdate folds update into current under reducers, returning a new map.
// current is never mutated. update is a map, so its keys are visited in
// Go's unspecified map order; each key appears once and is merged
// independently, so the visiting order does not affect the result.
func ApplyUpdate(current, update map[string]any, reducers map[string]Reducer) (map[string]any, error) {
	out := make(map[string]any, len(current)+len(update))
	maps.Copy(out, current)

	for k, v := range update {
		if reducer, ok := reducers[k]; ok {
			merged, err := reducer(out[k], v)
			if err != nil {
				return nil, fmt.Errorf("reducer for key %q: %w", k, err)
			}
			out[k] = merged
			continue
		}
		out[k] = v
	}
	return out, nil
}

// remainingStepsKey is the only managed key the engine recognizes.
const remainingStepsKey = "remaining_steps"

// injectManaged sets remaining_steps on a copy of state for the duration of
// one super-step's node execution.
func injectManaged(state map[string]any, step, limit int) map[string]any {
	out := make(map[string]any, len(state)+1)
	maps.Copy(out, state)
	out[remainingStepsKey] = limit - step
	return out
}

// stripManaged removes remaining_steps before the state is persisted or
// observed by a caller.
func stripManaged(state map[string]any) map[string]any {
	if _, ok := state[remainingStepsKey]; !ok {
		return state
	}
	out := make(map[string]any, len(state))
	maps.Copy(out, state)
	delete(out, remainingStepsKey)
	return out
}

// OverwriteReducer always takes the new value. It is the reducer an author
// registers to make last-write-wins explicit on a key that otherwise
// defaults to it anyway.
func OverwriteReducer(_, update any) (any, error) {
	return update, nil
}

// AppendReducer concatenates slice-shaped updates onto the current slice.
// A scalar update is appended as a single element. Mismatched element types
// fall back to a []any so no data is dropped.
func AppendReducer(current, update any) (any, error) {
	if update == nil {
		return current, nil
	}

	curVal := reflect.ValueOf(current)
	updVal := reflect.ValueOf(update)

	if !curVal.IsValid() {
		if updVal.Kind() == reflect.Slice {
			return update, nil
		}
		return []any{update}, nil
	}

	if curVal.Kind() != reflect.Slice {
		return nil, fmt.Errorf("append reducer: current value is %T, not a slice", current)
	}

	if updVal.Kind() == reflect.Slice {
		if curVal.Type().Elem() == updVal.Type().Elem() {
			return reflect.AppendSlice(curVal, updVal).Interface(), nil
		}
		out := make([]any, 0, curVal.Len()+updVal.Len())
		for i := 0; i < curVal.Len(); i++ {
			out = append(out, curVal.Index(i).Interface())
		}
		for i := 0; i < updVal.Len(); i++ {
			out = append(out, updVal.Index(i).Interface())
		}
		return out, nil
	}

	if curVal.Type().Elem() == updVal.Type() {
		return reflect.Append(curVal, updVal).Interface(), nil
	}
	out := make([]any, 0, curVal.Len()+1)
	for i := 0; i < curVal.Len(); i++ {
		out = append(out, curVal.Index(i).Interface())
	}
	return append(out, update), nil
}
