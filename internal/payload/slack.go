package payload

import (
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"reviewhooks/internal/event"
)

// Slack message defaults.
const (
	DefaultSlackUsername = "Review Board"
	DefaultSlackIconURL  = "http://images.reviewboard.org/rbslack/logo.png"
	DefaultSlackColor    = "#efcc96"
)

// SlackOptions customise messages posted to Slack incoming webhooks.
type SlackOptions struct {
	Username string
	IconURL  string
	// Channel overrides the channel configured on the incoming webhook.
	Channel string
	Color   string
	// SiteURL is the root of the review site, used to link user pages.
	SiteURL string
}

func (o SlackOptions) withDefaults() SlackOptions {
	if o.Username == "" {
		o.Username = DefaultSlackUsername
	}
	if o.IconURL == "" {
		o.IconURL = DefaultSlackIconURL
	}
	if o.Color == "" {
		o.Color = DefaultSlackColor
	}
	return o
}

// SlackMessage builds the incoming-webhook message for ev.
func SlackMessage(ev event.Event, opts SlackOptions) *slack.WebhookMessage {
	opts = opts.withDefaults()

	title, text, fields := slackContent(ev, opts)

	return &slack.WebhookMessage{
		Username: opts.Username,
		IconURL:  opts.IconURL,
		Channel:  opts.Channel,
		Attachments: []slack.Attachment{{
			Color:    opts.Color,
			Fallback: text,
			Title:    title,
			Fields:   fields,
		}},
	}
}

func slackContent(ev event.Event, opts SlackOptions) (string, string, []slack.AttachmentField) {
	switch e := ev.(type) {
	case event.ReviewRequestPublished:
		return reviewRequestFields("Review Request Published", e.ReviewRequest, e.Actor, opts)
	case event.ReviewRequestClosed:
		closedAs := "Submitted"
		if e.CloseType == event.CloseDiscarded {
			closedAs = "Discarded"
		}
		_, _, fields := reviewRequestFields("Review Request Closed", e.ReviewRequest, actorOrSubmitter(e.Actor, e.ReviewRequest), opts)
		fields = append(fields, slack.AttachmentField{Title: "Closed As", Value: closedAs, Short: true})
		text := fmt.Sprintf("Review Request %s: %s", closedAs, reviewRequestLink(e.ReviewRequest))
		return "Review Request Closed", text, fields
	case event.ReviewRequestReopened:
		return reviewRequestFields("Review Request Reopened", e.ReviewRequest, actorOrSubmitter(e.Actor, e.ReviewRequest), opts)
	case event.ReviewPublished:
		title, text, fields := reviewRequestFields("Review Published", e.ReviewRequest, e.Actor, opts)
		extraField, extraText := shipItSummary(e.ShipIt, e.OpenIssues)
		if extraField != nil {
			fields = append(fields, *extraField)
		}
		return title, text + extraText, fields
	case event.ReplyPublished:
		return reviewRequestFields("Reply Published", e.ReviewRequest, e.Actor, opts)
	default:
		title := humanize(string(ev.HookID()))
		var fields []slack.AttachmentField
		if u := ev.User(); u != nil {
			fields = append(fields, slack.AttachmentField{Title: "By", Value: userLink(u, opts), Short: true})
		}
		return title, title, fields
	}
}

func reviewRequestFields(title string, rr event.ReviewRequest, by *event.User, opts SlackOptions) (string, string, []slack.AttachmentField) {
	link := reviewRequestLink(rr)
	fields := []slack.AttachmentField{{Title: title, Value: link, Short: false}}
	if by != nil {
		fields = append(fields, slack.AttachmentField{Title: "By", Value: userLink(by, opts), Short: true})
	}
	return title, fmt.Sprintf("%s: %s", title, link), fields
}

// shipItSummary mirrors the review badge shown on the site: ship it, fix it
// then ship it, or a count of open issues.
func shipItSummary(shipIt bool, openIssues int) (*slack.AttachmentField, string) {
	issueText := "1 issue"
	if openIssues != 1 {
		issueText = fmt.Sprintf("%d issues", openIssues)
	}

	switch {
	case shipIt && openIssues > 0:
		return &slack.AttachmentField{Title: "Fix it, then Ship it!", Value: ":warning: " + issueText, Short: true},
			" (Fix it, then Ship it!)"
	case shipIt:
		return &slack.AttachmentField{Title: "Ship it!", Value: ":white_check_mark:", Short: true},
			" (Ship it!)"
	case openIssues > 0:
		return &slack.AttachmentField{Title: "Open Issues", Value: ":warning: " + issueText, Short: true},
			" (" + issueText + ")"
	}
	return nil, ""
}

func actorOrSubmitter(actor *event.User, rr event.ReviewRequest) *event.User {
	if actor != nil {
		return actor
	}
	return rr.Submitter
}

func reviewRequestLink(rr event.ReviewRequest) string {
	text := rr.Summary
	if text == "" {
		text = fmt.Sprintf("Review Request #%d", rr.ID)
	}
	return slackLink(rr.URL, text)
}

func userLink(u *event.User, opts SlackOptions) string {
	if opts.SiteURL == "" {
		return slackEscape(u.DisplayName())
	}
	return slackLink(strings.TrimRight(opts.SiteURL, "/")+"/users/"+u.Username+"/", u.DisplayName())
}

// slackLink formats a link in Slack's <url|text> syntax.
func slackLink(url, text string) string {
	if url == "" {
		return slackEscape(text)
	}
	return "<" + url + "|" + slackEscape(text) + ">"
}

// slackEscape replaces the three entities Slack requires escaped.
func slackEscape(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}

func humanize(id string) string {
	words := strings.Split(id, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
