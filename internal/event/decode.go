package event

import (
	"encoding/json"
	"errors"
	"fmt"

	"reviewhooks/internal/hooks"
)

var (
	ErrUnknownHook = errors.New("event: unknown hook id")
	ErrBadEvent    = errors.New("event: malformed event")
)

// Decode turns the JSON document sent by the host adapter into the typed
// event for id. Hooks that are registered in v but have no built-in
// variant decode into Custom.
func Decode(v *hooks.Vocabulary, id hooks.HookID, data []byte) (Event, error) {
	if !v.Known(id) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHook, id)
	}

	var (
		ev  Event
		err error
	)
	switch id {
	case hooks.ReviewRequestPublished:
		ev, err = decodeInto[ReviewRequestPublished](data)
	case hooks.ReviewRequestClosed:
		var e ReviewRequestClosed
		e, err = decodeInto[ReviewRequestClosed](data)
		if err == nil && e.CloseType != CloseSubmitted && e.CloseType != CloseDiscarded {
			err = fmt.Errorf("%w: unknown close type %q", ErrBadEvent, e.CloseType)
		}
		ev = e
	case hooks.ReviewRequestReopened:
		ev, err = decodeInto[ReviewRequestReopened](data)
	case hooks.ReviewPublished:
		ev, err = decodeInto[ReviewPublished](data)
	case hooks.ReplyPublished:
		ev, err = decodeInto[ReplyPublished](data)
	default:
		var e Custom
		e, err = decodeInto[Custom](data)
		e.Hook = id
		ev = e
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeInto[T any](data []byte) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrBadEvent, err)
	}
	return v, nil
}
