package payload_test

import (
	"encoding/json"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reviewhooks/internal/event"
	"reviewhooks/internal/model"
	"reviewhooks/internal/payload"
)

func TestBuild_PublishedUpdateWithoutChanges(t *testing.T) {
	ev := event.ReviewRequestPublished{
		ReviewRequest: event.ReviewRequest{ID: 12},
		Change:        &event.ChangeDescription{},
	}

	p := payload.Build(ev)

	assert.Equal(t, payload.Payload{
		"review_request_id": 12,
		"new":               false,
		"fields_changed":    map[string]any{},
	}, p)

	body, err := payload.EncodeJSON(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"review_request_id": 12, "new": false, "fields_changed": {}}`, string(body.Data))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body.Data, &decoded))
	again, err := json.Marshal(decoded)
	require.NoError(t, err)
	assert.JSONEq(t, string(body.Data), string(again))
}

func TestBuild_PublishedNewWithActor(t *testing.T) {
	ev := event.ReviewRequestPublished{
		Actor:         &event.User{Username: "alice"},
		ReviewRequest: event.ReviewRequest{ID: 3},
	}

	p := payload.Build(ev)

	assert.Equal(t, true, p["new"])
	assert.Equal(t, "alice", p["user"])
	assert.Equal(t, map[string]any{}, p["fields_changed"])
}

func TestBuild_FieldsChanged(t *testing.T) {
	ev := event.ReviewRequestPublished{
		ReviewRequest: event.ReviewRequest{ID: 5},
		Change: &event.ChangeDescription{FieldsChanged: map[string]event.FieldChange{
			"target_people": {Added: []any{"bob"}},
			"broken":        {Added: []any{make(chan int)}},
		}},
	}

	p := payload.Build(ev)

	changed := p["fields_changed"].(map[string]any)
	assert.Equal(t, map[string]any{"added": []any{"bob"}, "removed": []any{}}, changed["target_people"])
	assert.NotContains(t, changed, "broken")

	_, err := payload.EncodeJSON(p)
	assert.NoError(t, err)
}

func TestBuild_ClosedOmitsMissingActor(t *testing.T) {
	p := payload.Build(event.ReviewRequestClosed{
		ReviewRequest: event.ReviewRequest{ID: 42},
		CloseType:     event.CloseDiscarded,
	})

	assert.Equal(t, payload.Payload{"review_request_id": 42, "type": "discarded"}, p)
}

func TestBuild_ReviewAndReply(t *testing.T) {
	review := payload.Build(event.ReviewPublished{
		Actor:         &event.User{Username: "carol"},
		ReviewRequest: event.ReviewRequest{ID: 9},
		ReviewID:      100,
		ShipIt:        true,
		OpenIssues:    2,
	})
	assert.Equal(t, payload.Payload{
		"review_request_id": 9,
		"review_id":         100,
		"ship_it":           true,
		"open_issues":       2,
		"user":              "carol",
	}, review)

	reply := payload.Build(event.ReplyPublished{ReviewRequest: event.ReviewRequest{ID: 9}, ReviewID: 101})
	assert.Equal(t, payload.Payload{"review_request_id": 9, "review_id": 101}, reply)

	reopened := payload.Build(event.ReviewRequestReopened{ReviewRequest: event.ReviewRequest{ID: 9}})
	assert.Equal(t, payload.Payload{"review_request_id": 9}, reopened)
}

func TestBuild_CustomDropsUnsafeFields(t *testing.T) {
	p := payload.Build(event.Custom{
		Hook:   "diff_uploaded",
		Fields: map[string]any{"revision": 2, "fn": func() {}},
	})

	assert.Equal(t, payload.Payload{"revision": 2}, p)
}

func TestEncodeForm_WrapsJSON(t *testing.T) {
	body, err := payload.EncodeForm(payload.Payload{"review_request_id": 1})
	require.NoError(t, err)
	assert.Equal(t, payload.ContentTypeForm, body.ContentType)

	values, err := url.ParseQuery(string(body.Data))
	require.NoError(t, err)
	assert.JSONEq(t, `{"review_request_id": 1}`, values.Get("payload"))
}

func TestRender_ByKind(t *testing.T) {
	ev := event.ReviewRequestReopened{ReviewRequest: event.ReviewRequest{ID: 4, Summary: "Add tests"}}
	p := payload.Build(ev)
	r := payload.Renderer{CIA: payload.CIAOptions{Project: "rb"}}

	webhook, err := r.Render(ev, p, model.KindWebhook, model.FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, payload.ContentTypeJSON, webhook.ContentType)

	form, err := r.Render(ev, p, model.KindWebhook, model.FormatForm)
	require.NoError(t, err)
	assert.Equal(t, payload.ContentTypeForm, form.ContentType)

	slackBody, err := r.Render(ev, p, model.KindSlack, "")
	require.NoError(t, err)
	assert.Contains(t, string(slackBody.Data), "Review Request Reopened")

	xmlBody, err := r.Render(ev, p, model.KindXMLRPC, "")
	require.NoError(t, err)
	assert.Equal(t, payload.ContentTypeXML, xmlBody.ContentType)

	_, err = r.Render(ev, p, "pager", "")
	assert.Error(t, err)
}
