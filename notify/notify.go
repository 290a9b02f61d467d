package notify

import (
	"context"
	"log/slog"
	"strings"
)

// Message is one outbound note to the person who queued a task.
type Message struct {
	Recipient string
	ThreadTS  string
	Text      string
}

type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// Func adapts a plain function to Notifier.
type Func func(ctx context.Context, msg Message) error

func (f Func) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// LogNotifier writes notifications to the log. It is the default when no
// chat front-end is attached.
type LogNotifier struct {
	Log *slog.Logger
}

func (n LogNotifier) Send(_ context.Context, msg Message) error {
	log := n.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("notify_send", "recipient", msg.Recipient, "thread_ts", msg.ThreadTS, "text", msg.Text)
	return nil
}

// Redacting scrubs secrets from outgoing text before handing it on.
type Redacting struct {
	Next     Notifier
	Redactor *Redactor
	Log      *slog.Logger
}

func (r Redacting) Send(ctx context.Context, msg Message) error {
	if r.Next == nil {
		return nil
	}
	if out, changed := r.Redactor.RedactString(msg.Text); changed {
		msg.Text = out
		if r.Log != nil {
			r.Log.Debug("notify_redacted", "recipient", msg.Recipient)
		}
	}
	return r.Next.Send(ctx, msg)
}

// ShouldNotify reports whether a task has someone to tell.
func ShouldNotify(recipient string) bool {
	return strings.TrimSpace(recipient) != ""
}
