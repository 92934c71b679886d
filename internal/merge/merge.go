// Package merge reconciles a local and a remote copy of trip data.
//
// The policy is heuristic and last-writer-wins: sequences are unioned by
// deep equality, objects are merged with remote fields winning, and scalars
// (or anything that fails to parse) take the remote value. There is no
// clock comparison, so concurrent scalar edits silently resolve to remote.
package merge

import (
	"encoding/json"
	"fmt"
	"strings"

	"tripsync/internal/domain"
	"tripsync/internal/wire"
)

// ReservedKeys are per-user identity markers that only the remote owner sets.
// They are always taken from remote and never merged field by field.
var ReservedKeys = []string{"userA", "userB"}

func isReserved(key string) bool {
	for _, k := range ReservedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Snapshot merges two flat key/value snapshots whose values are JSON text,
// applying the policy per top-level key. An empty local snapshot adopts
// remote wholesale.
func Snapshot(local, remote map[string]string) map[string]string {
	out := make(map[string]string, len(local)+len(remote))
	if SnapshotEmpty(local) {
		for k, v := range remote {
			out[k] = v
		}
		return out
	}

	for k, v := range local {
		out[k] = v
	}
	for k, rv := range remote {
		lv, ok := local[k]
		if !ok {
			out[k] = rv
			continue
		}
		out[k] = mergeText(lv, rv)
	}
	return out
}

// SnapshotEmpty reports whether a snapshot carries no meaningful data.
func SnapshotEmpty(s map[string]string) bool {
	for _, v := range s {
		switch strings.TrimSpace(v) {
		case "", "null", "[]", "{}", `""`:
			continue
		}
		return false
	}
	return true
}

func mergeText(local, remote string) string {
	var lv, rv any
	if json.Unmarshal([]byte(local), &lv) != nil || json.Unmarshal([]byte(remote), &rv) != nil {
		return remote
	}

	var merged any
	switch l := lv.(type) {
	case []any:
		r, ok := rv.([]any)
		if !ok {
			return remote
		}
		merged = Union(l, r)
	case map[string]any:
		r, ok := rv.(map[string]any)
		if !ok {
			return remote
		}
		merged = shallow(l, r)
	default:
		return remote
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return remote
	}
	return string(data)
}

func shallow(local, remote map[string]any) map[string]any {
	out := make(map[string]any, len(local)+len(remote))
	for k, v := range local {
		out[k] = v
	}
	for k, v := range remote {
		out[k] = v
	}
	return out
}

// Union keeps every local element in order and appends each remote element
// whose serialized form is not already present in the result.
func Union(local, remote []any) []any {
	out := make([]any, 0, len(local)+len(remote))
	seen := make(map[string]bool, len(local)+len(remote))
	for _, v := range local {
		out = append(out, v)
		seen[fingerprint(v)] = true
	}
	for _, v := range remote {
		fp := fingerprint(v)
		if seen[fp] {
			continue
		}
		seen[fp] = true
		out = append(out, v)
	}
	return out
}

// fingerprint is a canonical serialization; encoding/json sorts map keys.
func fingerprint(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(data)
}

// Value applies the policy recursively, one sub-path at a time. Objects
// recurse key by key, reserved keys excepted.
func Value(local, remote any) any {
	if remote == nil {
		return local
	}
	if local == nil {
		return remote
	}

	switch l := local.(type) {
	case []any:
		if r, ok := remote.([]any); ok {
			return Union(l, r)
		}
	case map[string]any:
		if r, ok := remote.(map[string]any); ok {
			out := make(map[string]any, len(l)+len(r))
			for k, v := range l {
				out[k] = v
			}
			for k, rv := range r {
				lv, ok := l[k]
				if !ok || isReserved(k) {
					out[k] = rv
					continue
				}
				out[k] = Value(lv, rv)
			}
			return out
		}
	}
	return remote
}

// Documents merges a remote trip document into the local one. A local
// document without days is treated as empty and remote is adopted as is.
func Documents(local, remote *domain.TripDocument) (*domain.TripDocument, error) {
	if remote == nil {
		return local.Clone(), nil
	}
	if local == nil || len(local.Days) == 0 {
		return remote.Clone(), nil
	}

	lv, err := generic(local)
	if err != nil {
		return nil, err
	}
	rv, err := generic(remote)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(Value(lv, rv))
	if err != nil {
		return nil, fmt.Errorf("encode merged document: %w", err)
	}
	merged, err := wire.FromWire(data)
	if err != nil {
		return nil, err
	}
	// Items added on both sides can share an order.
	for _, day := range merged.Days {
		day.Resequence()
	}
	return merged, nil
}

func generic(doc *domain.TripDocument) (any, error) {
	data, err := wire.ToWire(doc)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
