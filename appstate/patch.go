package appstate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Patch is a partial state update keyed by the JSON field names of State.
// Nested objects merge recursively; any other value replaces the target;
// a nil value removes the key, resetting it to its zero value.
type Patch map[string]any

type tree = map[string]any

func toTree(s State) (tree, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var t tree
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, err
	}
	return t, nil
}

func fromTree(t tree) (State, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return State{}, err
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	var s State
	if err := dec.Decode(&s); err != nil {
		return State{}, err
	}
	return s, nil
}

// normalize turns p into plain JSON values so nested Patch, struct and
// typed-map values merge like objects.
func (p Patch) normalize() (tree, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode patch: %w", err)
	}
	var t tree
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, fmt.Errorf("decode patch: %w", err)
	}
	return t, nil
}

// apply merges p into s and returns the resulting state.
func (p Patch) apply(s State) (State, error) {
	if len(p) == 0 {
		return s.Clone(), nil
	}
	patch, err := p.normalize()
	if err != nil {
		return State{}, err
	}
	base, err := toTree(s)
	if err != nil {
		return State{}, err
	}
	merge(base, patch)
	next, err := fromTree(base)
	if err != nil {
		return State{}, fmt.Errorf("patch does not fit the state: %w", err)
	}
	return next, nil
}

func merge(dst, src tree) {
	for k, v := range src {
		if v == nil {
			delete(dst, k)
			continue
		}
		sub, isObj := v.(map[string]any)
		cur, curObj := dst[k].(map[string]any)
		if isObj && curObj {
			merge(cur, sub)
			continue
		}
		dst[k] = v
	}
}

// combine folds later into earlier with the same rules merge uses, so a
// batch of patches behaves like applying them in order.
func combine(earlier, later tree) tree {
	if earlier == nil {
		earlier = tree{}
	}
	for k, v := range later {
		sub, isObj := v.(map[string]any)
		cur, curObj := earlier[k].(map[string]any)
		if isObj && curObj {
			earlier[k] = combine(cur, sub)
			continue
		}
		earlier[k] = v
	}
	return earlier
}

// lookup returns the value at a dotted path.
func lookup(t tree, path string) (any, bool) {
	if path == "" {
		return t, true
	}
	var cur any = t
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
