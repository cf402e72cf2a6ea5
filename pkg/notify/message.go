package notify

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"mercator-hq/packlimit/pkg/limits/ratelimit"
)

// Message is a rendered event ready for delivery.
type Message struct {
	Event ratelimit.Event

	// User is the username of the caller, or its key when unknown.
	User string

	// Text is the human-readable notification.
	Text string
}

// Subject returns the e-mail style subject line.
func (m Message) Subject() string {
	return "[packlimit] " + m.Text
}

var (
	warnTemplate = template.Must(template.New("warn").Parse(
		"User {{.User}} reached the warning limit of {{.WarnLimit}} {{.LimitType}} per {{.Window}} minutes."))

	blockedTemplate = template.Must(template.New("blocked").Parse(
		"User {{.User}} was blocked due to exceeding the limit of {{.MaxPermits}} {{.LimitType}} per {{.Window}} minutes. " +
			"{{.Remaining}} remaining to permits replenishing."))
)

type templateData struct {
	User       string
	WarnLimit  int
	MaxPermits int
	LimitType  string
	Window     int
	Remaining  string
}

// Render builds the message for e. user is the display name of the caller.
func Render(e ratelimit.Event, user string) (Message, error) {
	if user == "" {
		user = e.Key
	}
	data := templateData{
		User:       user,
		WarnLimit:  e.WarnLimit,
		MaxPermits: e.MaxPermits,
		LimitType:  e.LimitType,
		Window:     e.WindowMinutes,
		Remaining:  FormatRemaining(e.Remaining),
	}

	var t *template.Template
	switch e.Kind {
	case ratelimit.EventWarn:
		t = warnTemplate
	case ratelimit.EventBlocked:
		t = blockedTemplate
	default:
		return Message{}, fmt.Errorf("notify: unknown event kind %q", e.Kind)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("notify: render %s: %w", e.Kind, err)
	}
	return Message{Event: e, User: user, Text: buf.String()}, nil
}

// FormatRemaining renders d as "mm min ss sec". Hours wrap, as on a clock.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)
	return fmt.Sprintf("%02d min %02d sec", (secs/60)%60, secs%60)
}
