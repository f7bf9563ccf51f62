package notify

import (
	"context"
	"errors"
)

// Field is a labelled value shown in a message.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Message is a rendered notification, independent of the transport.
type Message struct {
	Title       string
	Description string
	Fields      []Field
	Lines       []string
	Mentions    []string
	Color       int
	Footer      string
}

// Target is either a shared channel or a single user (direct message).
type Target struct {
	ChannelID string
	UserID    string
}

func (t Target) IsDirect() bool { return t.UserID != "" }

func (t Target) String() string {
	if t.IsDirect() {
		return "user:" + t.UserID
	}
	return "channel:" + t.ChannelID
}

// Sender delivers a rendered message. Failures are reported, never retried.
type Sender interface {
	Send(ctx context.Context, target Target, msg Message) error
}

// Audience is where a cohort's broadcasts go and whom they mention.
type Audience struct {
	ChannelID string
	Mentions  []string
}

// ErrNoChannel is returned when neither the cohort nor the default has a channel.
var ErrNoChannel = errors.New("no channel configured for cohort")

// Routing resolves a cohort to its audience, falling back to the default channel.
type Routing struct {
	DefaultChannel string
	Cohorts        map[string]Audience
}

func (r Routing) Audience(cohort string) Audience {
	a := r.Cohorts[cohort]
	if a.ChannelID == "" {
		a.ChannelID = r.DefaultChannel
	}
	return a
}

func (r Routing) broadcastTarget(cohort string) (Target, Audience, error) {
	a := r.Audience(cohort)
	if a.ChannelID == "" {
		return Target{}, a, ErrNoChannel
	}
	return Target{ChannelID: a.ChannelID}, a, nil
}
