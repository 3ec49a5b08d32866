// Package payload turns typed domain events into wire payloads: the flat
// JSON document sent to webhooks, the Slack message and the CIA XML
// message. Nothing from the host model leaks past this package.
package payload

import (
	"encoding/json"

	"reviewhooks/internal/event"
)

// Payload is the JSON-safe mapping sent to webhook targets.
type Payload map[string]any

// Build maps ev to its payload. Missing optional data is omitted and never
// causes an error.
func Build(ev event.Event) Payload {
	p := Payload{}

	switch e := ev.(type) {
	case event.ReviewRequestPublished:
		p["review_request_id"] = e.ReviewRequest.ID
		p["new"] = e.Change == nil
		p["fields_changed"] = fieldsChanged(e.Change)
	case event.ReviewRequestClosed:
		p["review_request_id"] = e.ReviewRequest.ID
		p["type"] = string(e.CloseType)
	case event.ReviewRequestReopened:
		p["review_request_id"] = e.ReviewRequest.ID
	case event.ReviewPublished:
		p["review_request_id"] = e.ReviewRequest.ID
		p["review_id"] = e.ReviewID
		p["ship_it"] = e.ShipIt
		p["open_issues"] = e.OpenIssues
	case event.ReplyPublished:
		p["review_request_id"] = e.ReviewRequest.ID
		p["review_id"] = e.ReviewID
	case event.Custom:
		for k, v := range e.Fields {
			if safe, ok := jsonSafe(v); ok {
				p[k] = safe
			}
		}
	}

	if u := ev.User(); u != nil && u.Username != "" {
		p["user"] = u.Username
	}
	return p
}

func fieldsChanged(cd *event.ChangeDescription) map[string]any {
	out := map[string]any{}
	if cd == nil {
		return out
	}
	for name, fc := range cd.FieldsChanged {
		added, okA := jsonSafe(orEmpty(fc.Added))
		removed, okR := jsonSafe(orEmpty(fc.Removed))
		if !okA || !okR {
			continue
		}
		out[name] = map[string]any{
			"added":   added,
			"removed": removed,
		}
	}
	return out
}

func orEmpty(v []any) []any {
	if v == nil {
		return []any{}
	}
	return v
}

// jsonSafe returns v as plain JSON values. Anything that does not survive
// a JSON round trip is rejected.
func jsonSafe(v any) (any, bool) {
	switch t := v.(type) {
	case nil, bool, string, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		return t, true
	case []any:
		out := make([]any, 0, len(t))
		for _, item := range t {
			safe, ok := jsonSafe(item)
			if !ok {
				return nil, false
			}
			out = append(out, safe)
		}
		return out, true
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			safe, ok := jsonSafe(item)
			if !ok {
				return nil, false
			}
			out[k] = safe
		}
		return out, true
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false
	}
	return out, true
}
