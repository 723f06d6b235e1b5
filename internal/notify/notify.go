// Package notify renders user-facing notifications and hands them to a
// delivery Transport.
//
// Each notification is a plain data payload (UnreadMessage,
// ServiceCancellation, ...). A single Dispatcher resolves the payload's Kind to
// a subject line and an HTML body template, so adding a notification means
// adding a payload type and a template entry, nothing else.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"html/template"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Kind selects the template used for a notification.
type Kind string

const (
	KindContactConfirmation Kind = "contact_confirmation"
	KindPasswordRecovery    Kind = "password_recovery"
	KindSignupConfirmation  Kind = "signup_confirmation"
	KindUnreadMessage       Kind = "unread_message"
	KindServiceCancellation Kind = "service_cancellation"
)

// ErrNoRecipient is returned when a notification has no destination address.
var ErrNoRecipient = errors.New("notify: recipient address is empty")

// Notification is implemented by every payload the Dispatcher can render.
type Notification interface {
	Kind() Kind
}

// ContactConfirmation asks a user to confirm a newly added contact channel.
type ContactConfirmation struct {
	Name string
	Link string
}

// PasswordRecovery carries a password reset link.
type PasswordRecovery struct {
	Name string
	Link string
}

// SignupConfirmation asks a new user to verify their account.
type SignupConfirmation struct {
	Name string
	Link string
}

// UnreadMessage tells RecipientName that SenderName wrote Count messages in
// the conversation about ServiceTitle that are still unread.
type UnreadMessage struct {
	RecipientName  string
	SenderName     string
	ServiceTitle   string
	ConversationID uint
	Count          int
	Excerpts       []string
}

// ServiceCancellation tells a provider that a requested service they made an
// offer on was cancelled by its owner.
type ServiceCancellation struct {
	RecipientName string
	RequesterName string
	ServiceTitle  string
}

func (ContactConfirmation) Kind() Kind { return KindContactConfirmation }
func (PasswordRecovery) Kind() Kind    { return KindPasswordRecovery }
func (SignupConfirmation) Kind() Kind  { return KindSignupConfirmation }
func (UnreadMessage) Kind() Kind       { return KindUnreadMessage }
func (ServiceCancellation) Kind() Kind { return KindServiceCancellation }

// Transport delivers a rendered notification.
type Transport interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// Rendered is the output of Dispatcher.Render.
type Rendered struct {
	Subject string
	Body    string
}

type entry struct {
	subject *template.Template
	body    *template.Template
}

// Dispatcher renders notifications and sends them through a Transport.
// It is safe for concurrent use once constructed.
type Dispatcher struct {
	transport Transport
	entries   map[Kind]entry
	caser     cases.Caser
}

// NewDispatcher parses the built-in templates. It panics only if a built-in
// template is malformed, which is a programming error.
func NewDispatcher(t Transport, lang language.Tag) *Dispatcher {
	d := &Dispatcher{
		transport: t,
		entries:   make(map[Kind]entry, len(catalog)),
		caser:     cases.Title(lang),
	}
	funcs := template.FuncMap{"title": d.title}
	for kind, src := range catalog {
		d.entries[kind] = entry{
			subject: template.Must(template.New(string(kind) + "_subject").Funcs(funcs).Parse(src.subject)),
			body:    template.Must(template.New(string(kind)).Funcs(funcs).Parse(layoutHead + src.body + layoutFoot)),
		}
	}
	return d
}

// Render produces the subject and HTML body for n.
func (d *Dispatcher) Render(n Notification) (Rendered, error) {
	if n == nil {
		return Rendered{}, errors.New("notify: nil notification")
	}
	e, ok := d.entries[n.Kind()]
	if !ok {
		return Rendered{}, fmt.Errorf("notify: no template for %q", n.Kind())
	}
	var subj, body bytes.Buffer
	if err := e.subject.Execute(&subj, n); err != nil {
		return Rendered{}, fmt.Errorf("notify: render subject: %w", err)
	}
	if err := e.body.Execute(&body, n); err != nil {
		return Rendered{}, fmt.Errorf("notify: render body: %w", err)
	}
	// Subjects are header values; html/template escaping would leak entities.
	return Rendered{Subject: html.UnescapeString(subj.String()), Body: body.String()}, nil
}

// Notify renders n and sends it to the address to. Errors are returned to the
// caller, which decides whether to retry.
func (d *Dispatcher) Notify(ctx context.Context, to string, n Notification) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return ErrNoRecipient
	}
	r, err := d.Render(n)
	if err != nil {
		return err
	}
	if d.transport == nil {
		return errors.New("notify: no transport configured")
	}
	if err := d.transport.Send(ctx, to, r.Subject, r.Body); err != nil {
		log.Ctx(ctx).Debug().Err(err).Str("kind", string(n.Kind())).Msg("notification send failed")
		return err
	}
	return nil
}

// title capitalizes each word of a display name.
func (d *Dispatcher) title(s string) string {
	return d.caser.String(strings.TrimSpace(s))
}
