package storage

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Persistent engines serialize documents as JSON. Plain JSON has no shape for
// instants, byte strings, or identifiers, so those are wrapped in single-key
// tag objects on the way out and unwrapped on the way back:
//
//	{"$time":  "2024-06-01T08:00:00.123456789Z"}
//	{"$bytes": "3q2+7w=="}
//	{"$uuid":  "9f1c3a64-..."}
//
// Stored field names and user map keys can never start with "$" (the schema
// layer rejects them), so tags cannot collide with data.
const (
	tagTime  = "$time"
	tagBytes = "$bytes"
	tagUUID  = "$uuid"
)

// MarshalDocument renders a document as tagged JSON.
func MarshalDocument(doc Document) ([]byte, error) {
	tagged, err := tagValue(doc)
	if err != nil {
		return nil, err
	}
	return json.Marshal(tagged)
}

// UnmarshalDocument parses tagged JSON back into a document. Integral numbers
// come back as int64, fractional ones as float64; typed fields regain their
// exact representation when the schema layer coerces them on decode.
func UnmarshalDocument(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadValue, err)
	}
	v, err := untagValue(raw)
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

// EncodeKey renders an engine key as its canonical string: the tagged JSON of
// the value. Engines that address documents by string or byte keys (bolt
// buckets, redis hash fields, sql key columns) share it, so one key value
// always maps to one stored key and never collides with a key of another
// type ("42" and 42 encode differently).
func EncodeKey(v any) (string, error) {
	tagged, err := tagValue(v)
	if err != nil {
		return "", fmt.Errorf("encode key: %w", err)
	}
	data, err := json.Marshal(tagged)
	if err != nil {
		return "", fmt.Errorf("encode key: %w", err)
	}
	return string(data), nil
}

func tagValue(v any) (any, error) {
	switch t := v.(type) {
	case nil, string, bool, int64, float64:
		return t, nil
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case float32:
		return float64(t), nil
	case time.Time:
		return map[string]any{tagTime: t.UTC().Format(time.RFC3339Nano)}, nil
	case []byte:
		return map[string]any{tagBytes: base64.StdEncoding.EncodeToString(t)}, nil
	case uuid.UUID:
		return map[string]any{tagUUID: t.String()}, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			tagged, err := tagValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = tagged
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			tagged, err := tagValue(item)
			if err != nil {
				return nil, err
			}
			out[k] = tagged
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: cannot marshal %T", ErrBadValue, v)
	}
}

func untagValue(v any) (any, error) {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: number %q", ErrBadValue, t.String())
		}
		return f, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			un, err := untagValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = un
		}
		return out, nil
	case map[string]any:
		if tagged, ok, err := untagScalar(t); ok || err != nil {
			return tagged, err
		}
		out := make(map[string]any, len(t))
		for k, item := range t {
			un, err := untagValue(item)
			if err != nil {
				return nil, err
			}
			out[k] = un
		}
		return out, nil
	default:
		return v, nil
	}
}

// untagScalar recognizes the single-key tag objects and restores their typed
// values. Maps that are not exactly one tag key pass through as data.
func untagScalar(m map[string]any) (any, bool, error) {
	if len(m) != 1 {
		return nil, false, nil
	}
	for key, raw := range m {
		s, isString := raw.(string)
		switch key {
		case tagTime:
			if !isString {
				return nil, true, fmt.Errorf("%w: %s holds %T", ErrBadValue, tagTime, raw)
			}
			ts, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return nil, true, fmt.Errorf("%w: %s %q", ErrBadValue, tagTime, s)
			}
			return ts.UTC(), true, nil
		case tagBytes:
			if !isString {
				return nil, true, fmt.Errorf("%w: %s holds %T", ErrBadValue, tagBytes, raw)
			}
			b, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return nil, true, fmt.Errorf("%w: %s %q", ErrBadValue, tagBytes, s)
			}
			return b, true, nil
		case tagUUID:
			if !isString {
				return nil, true, fmt.Errorf("%w: %s holds %T", ErrBadValue, tagUUID, raw)
			}
			id, err := uuid.Parse(s)
			if err != nil {
				return nil, true, fmt.Errorf("%w: %s %q", ErrBadValue, tagUUID, s)
			}
			return id, true, nil
		}
	}
	return nil, false, nil
}

// CopyDocument returns a deep copy of doc: nested maps, lists, and byte
// strings are duplicated so engines can hand documents out without aliasing
// their stored state.
func CopyDocument(doc Document) Document {
	if doc == nil {
		return nil
	}
	return copyValue(doc).(map[string]any)
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = copyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	case []byte:
		out := make([]byte, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}
