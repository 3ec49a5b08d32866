package payload

import (
	"encoding/json"
	"fmt"
	"net/url"

	"reviewhooks/internal/event"
	"reviewhooks/internal/model"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeForm = "application/x-www-form-urlencoded"
	ContentTypeXML  = "text/xml"
)

// Body is a rendered, immutable request body.
type Body struct {
	Data        []byte
	ContentType string
}

// EncodeJSON encodes p as a JSON document.
func EncodeJSON(p Payload) (Body, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return Body{}, fmt.Errorf("encoding payload: %w", err)
	}
	return Body{Data: data, ContentType: ContentTypeJSON}, nil
}

// EncodeForm encodes p as JSON wrapped in a form-encoded "payload" field,
// the legacy wire format of the web hooks extension.
func EncodeForm(p Payload) (Body, error) {
	doc, err := EncodeJSON(p)
	if err != nil {
		return Body{}, err
	}
	form := url.Values{"payload": {string(doc.Data)}}
	return Body{Data: []byte(form.Encode()), ContentType: ContentTypeForm}, nil
}

// Renderer renders the body for each target kind.
type Renderer struct {
	Slack SlackOptions
	CIA   CIAOptions
}

// Render produces the body a target of the given kind and format expects.
// p must be Build(ev).
func (r Renderer) Render(ev event.Event, p Payload, kind model.TargetKind, format model.BodyFormat) (Body, error) {
	switch kind {
	case model.KindWebhook, "":
		if format == model.FormatForm {
			return EncodeForm(p)
		}
		return EncodeJSON(p)
	case model.KindSlack:
		msg := SlackMessage(ev, r.Slack)
		data, err := json.Marshal(msg)
		if err != nil {
			return Body{}, fmt.Errorf("encoding slack message: %w", err)
		}
		return Body{Data: data, ContentType: ContentTypeJSON}, nil
	case model.KindXMLRPC:
		data, err := CIAMessage(ev, r.CIA)
		if err != nil {
			return Body{}, err
		}
		return Body{Data: data, ContentType: ContentTypeXML}, nil
	default:
		return Body{}, fmt.Errorf("unsupported target kind %q", kind)
	}
}
