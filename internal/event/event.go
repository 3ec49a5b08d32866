// Package event defines the typed domain events the host review
// application hands to the dispatcher, one variant per hook id.
package event

import (
	"reviewhooks/internal/hooks"
)

// Event is a domain event fired by the host application.
type Event interface {
	HookID() hooks.HookID
	// User returns the acting user, or nil when the action was anonymous
	// or the host did not supply one.
	User() *User
}

// User is the identity of an actor or submitter.
type User struct {
	Username string `json:"username"`
	FullName string `json:"full_name,omitempty"`
}

// DisplayName prefers the full name over the username.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}

// ReviewRequest is the subset of a review request the payloads need.
type ReviewRequest struct {
	ID        int    `json:"id"`
	Summary   string `json:"summary,omitempty"`
	URL       string `json:"url,omitempty"`
	Submitter *User  `json:"submitter,omitempty"`
}

// FieldChange lists the values added to and removed from one field.
type FieldChange struct {
	Added   []any `json:"added"`
	Removed []any `json:"removed"`
}

// ChangeDescription describes an update to an existing review request.
type ChangeDescription struct {
	FieldsChanged map[string]FieldChange `json:"fields_changed"`
}

// CloseType is how a review request was closed.
type CloseType string

const (
	CloseSubmitted CloseType = "submitted"
	CloseDiscarded CloseType = "discarded"
)

// ReviewRequestPublished fires when a review request is published. Change
// is nil for a brand new review request.
type ReviewRequestPublished struct {
	Actor         *User              `json:"actor,omitempty"`
	ReviewRequest ReviewRequest      `json:"review_request"`
	Change        *ChangeDescription `json:"change,omitempty"`
}

func (ReviewRequestPublished) HookID() hooks.HookID { return hooks.ReviewRequestPublished }
func (e ReviewRequestPublished) User() *User { return e.Actor }

// ReviewRequestClosed fires when a review request is submitted or discarded.
type ReviewRequestClosed struct {
	Actor         *User         `json:"actor,omitempty"`
	ReviewRequest ReviewRequest `json:"review_request"`
	CloseType     CloseType     `json:"close_type"`
}

func (ReviewRequestClosed) HookID() hooks.HookID { return hooks.ReviewRequestClosed }
func (e ReviewRequestClosed) User() *User { return e.Actor }

// ReviewRequestReopened fires when a closed review request is reopened.
type ReviewRequestReopened struct {
	Actor         *User         `json:"actor,omitempty"`
	ReviewRequest ReviewRequest `json:"review_request"`
}

func (ReviewRequestReopened) HookID() hooks.HookID { return hooks.ReviewRequestReopened }
func (e ReviewRequestReopened) User() *User { return e.Actor }

// ReviewPublished fires when a review is published.
type ReviewPublished struct {
	Actor         *User         `json:"actor,omitempty"`
	ReviewRequest ReviewRequest `json:"review_request"`
	ReviewID      int           `json:"review_id"`
	ShipIt        bool          `json:"ship_it"`
	OpenIssues    int           `json:"open_issues"`
	BodyTop       string        `json:"body_top,omitempty"`
}

func (ReviewPublished) HookID() hooks.HookID { return hooks.ReviewPublished }
func (e ReviewPublished) User() *User { return e.Actor }

// ReplyPublished fires when a reply to a review is published.
type ReplyPublished struct {
	Actor         *User         `json:"actor,omitempty"`
	ReviewRequest ReviewRequest `json:"review_request"`
	ReviewID      int           `json:"review_id"`
}

func (ReplyPublished) HookID() hooks.HookID { return hooks.ReplyPublished }
func (e ReplyPublished) User() *User { return e.Actor }

// Custom carries an event for a hook registered at runtime, outside the
// built-in set. Fields must hold JSON-compatible values.
type Custom struct {
	Hook   hooks.HookID   `json:"-"`
	Actor  *User          `json:"actor,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

func (e Custom) HookID() hooks.HookID { return e.Hook }
func (e Custom) User() *User { return e.Actor }
