package payload

import (
	"encoding/xml"
	"fmt"
	"strconv"

	"reviewhooks/internal/event"
)

// CIA generator identity.
const (
	CIAGeneratorName    = "Review Board CIA Notifier"
	CIAGeneratorVersion = "0.1"
	DefaultCIAModule    = "reviews"
)

// CIAOptions name the project and module reported to the CIA hub.
type CIAOptions struct {
	Project string
	Module  string
}

type ciaMessage struct {
	XMLName   xml.Name     `xml:"message"`
	Generator ciaGenerator `xml:"generator"`
	Source    ciaSource    `xml:"source"`
	Commit    ciaCommit    `xml:"body>commit"`
}

type ciaGenerator struct {
	Name    string `xml:"name"`
	Version string `xml:"version"`
}

type ciaSource struct {
	Project string `xml:"project"`
	Module  string `xml:"module"`
}

type ciaCommit struct {
	Revision string `xml:"revision"`
	Author   string `xml:"author"`
	Log      string `xml:"log"`
	URL      string `xml:"url,omitempty"`
}

// CIAMessage renders the XML <message> document delivered to a CIA hub.
// The review request id stands in for the commit revision.
func CIAMessage(ev event.Event, opts CIAOptions) ([]byte, error) {
	if opts.Module == "" {
		opts.Module = DefaultCIAModule
	}

	rr, author, log := ciaCommitInfo(ev)

	msg := ciaMessage{
		Generator: ciaGenerator{Name: CIAGeneratorName, Version: CIAGeneratorVersion},
		Source:    ciaSource{Project: opts.Project, Module: opts.Module},
		Commit: ciaCommit{
			Revision: strconv.Itoa(rr.ID),
			Author:   author.Username,
			Log:      log,
			URL:      rr.URL,
		},
	}

	data, err := xml.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding cia message: %w", err)
	}
	return data, nil
}

func ciaCommitInfo(ev event.Event) (event.ReviewRequest, *event.User, string) {
	var (
		rr  event.ReviewRequest
		log string
	)
	switch e := ev.(type) {
	case event.ReviewRequestPublished:
		rr, log = e.ReviewRequest, e.ReviewRequest.Summary
		return rr, orEmptyUser(rr.Submitter), log
	case event.ReviewPublished:
		rr, log = e.ReviewRequest, e.BodyTop
	case event.ReviewRequestClosed:
		rr, log = e.ReviewRequest, fmt.Sprintf("Review request %s: %s", e.CloseType, e.ReviewRequest.Summary)
	case event.ReviewRequestReopened:
		rr, log = e.ReviewRequest, "Review request reopened: "+e.ReviewRequest.Summary
	case event.ReplyPublished:
		rr, log = e.ReviewRequest, "Reply published: "+e.ReviewRequest.Summary
	default:
		log = string(ev.HookID())
	}

	author := ev.User()
	if author == nil {
		author = rr.Submitter
	}
	return rr, orEmptyUser(author), log
}

func orEmptyUser(u *event.User) *event.User {
	if u == nil {
		return &event.User{}
	}
	return u
}
