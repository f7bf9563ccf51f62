package discord

import (
	"context"
	"errors"
	"strings"
	"time"

	"coursebot/internal/cohort"
	"coursebot/internal/engine"
	appLog "coursebot/internal/log"
	"coursebot/internal/model"
	"coursebot/internal/notify"
)

const (
	replyNoCohort    = "I could not find your cohort. Ask a moderator for your group role."
	replyNoNext      = "No upcoming class found."
	replyNothing     = "Nothing scheduled for that day. 🎉"
	replyDigestSent  = "Sent you the schedule in a direct message. 📬"
	replyBadDate     = "Unrecognized date. Use YYYY-MM-DD or DD/MM."
	replyUnavailable = "Something went wrong, try again later."
)

// Engine is the part of the engine the command surface uses.
type Engine interface {
	NextEvent(cohort string) (model.Event, bool, error)
	Upcoming(cohort string, d time.Duration) ([]model.Event, error)
	OnDemandDigest(ctx context.Context, cohort, userID string, override *time.Time) (bool, error)
	Now() time.Time
	Location() *time.Location
}

var _ Engine = (*engine.Engine)(nil)

// Request is a text command as received from a member.
type Request struct {
	UserID  string
	Roles   []string
	Content string
}

// Reply is the answer to a command: a plain text or a rendered message.
type Reply struct {
	Text    string
	Message *notify.Message
}

// Commands parses text commands and answers them from the engine.
type Commands struct {
	Engine   Engine
	Resolver *cohort.Resolver
	Prefix   string
}

// Handle answers a request. ok is false when the content is not a command.
func (c *Commands) Handle(ctx context.Context, req Request) (Reply, bool) {
	prefix := c.Prefix
	if prefix == "" {
		prefix = "!"
	}
	content := strings.TrimSpace(req.Content)
	if !strings.HasPrefix(content, prefix) {
		return Reply{}, false
	}
	fields := strings.Fields(strings.ToLower(strings.TrimPrefix(content, prefix)))
	if len(fields) == 0 {
		return Reply{}, false
	}
	name, args := fields[0], fields[1:]

	switch name {
	case "next", "prochain_cours":
		return c.withCohort(req, func(co string) Reply { return c.next(co) }), true
	case "tomorrow", "demain":
		return c.withCohort(req, func(co string) Reply { return c.tomorrow(ctx, co, req.UserID, args) }), true
	case "week", "semaine":
		return c.withCohort(req, func(co string) Reply { return c.week(co) }), true
	case "help":
		return Reply{Text: c.help(prefix)}, true
	default:
		return Reply{}, false
	}
}

func (c *Commands) withCohort(req Request, fn func(cohort string) Reply) Reply {
	co, ok := c.Resolver.Resolve(req.Roles)
	if !ok {
		appLog.Debug("command from member without cohort", "user", req.UserID)
		return Reply{Text: replyNoCohort}
	}
	return fn(co)
}

func (c *Commands) next(co string) Reply {
	ev, ok, err := c.Engine.NextEvent(co)
	if err != nil {
		return c.failure(co, err)
	}
	if !ok {
		return Reply{Text: replyNoNext}
	}
	msg := notify.NextMessage(ev)
	return Reply{Message: &msg}
}

func (c *Commands) tomorrow(ctx context.Context, co, userID string, args []string) Reply {
	var override *time.Time
	if len(args) > 0 {
		d, err := parseDate(args[0], c.Engine.Now(), c.Engine.Location())
		if err != nil {
			return Reply{Text: replyBadDate}
		}
		// The digest covers the day after the override.
		d = d.AddDate(0, 0, -1)
		override = &d
	}

	sent, err := c.Engine.OnDemandDigest(ctx, co, userID, override)
	if err != nil {
		return c.failure(co, err)
	}
	if !sent {
		return Reply{Text: replyNothing}
	}
	return Reply{Text: replyDigestSent}
}

func (c *Commands) week(co string) Reply {
	const span = 7 * 24 * time.Hour
	events, err := c.Engine.Upcoming(co, span)
	if err != nil {
		return c.failure(co, err)
	}
	if len(events) == 0 {
		return Reply{Text: "No classes in the next 7 days."}
	}
	msg := notify.WeekMessage(c.Engine.Now().Add(span), events)
	return Reply{Message: &msg}
}

func (c *Commands) failure(co string, err error) Reply {
	if errors.Is(err, engine.ErrNoCohort) {
		return Reply{Text: replyNoCohort}
	}
	appLog.Error("command failed", err, "cohort", co)
	return Reply{Text: replyUnavailable}
}

func (c *Commands) help(prefix string) string {
	return strings.Join([]string{
		prefix + "next: your next class",
		prefix + "tomorrow [YYYY-MM-DD]: the schedule of tomorrow (or of the given day) by DM",
		prefix + "week: your classes of the next 7 days",
	}, "\n")
}

// parseDate accepts YYYY-MM-DD or DD/MM (current year) in loc.
func parseDate(arg string, now time.Time, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02", arg, loc); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("02/01", arg, loc)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(now.In(loc).Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc), nil
}
