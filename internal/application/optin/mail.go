package optin

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/go-doubleoptin/internal/domain"
	"github.com/go-doubleoptin/internal/events"
	"github.com/go-doubleoptin/internal/infrastructure/mail"
)

// ErrMailCancelled is returned by Deliver when a listener cancelled the mail.
var ErrMailCancelled = errors.New("mail cancelled by listener")

// System placeholders available in every mail template.
const (
	PlaceholderOptInLink   = "[doubleoptinlink]"
	PlaceholderOptOutLink  = "[doubleoptoutlink]"
	PlaceholderFormURL     = "[doubleoptin_form_url]"
	PlaceholderFormSubject = "[doubleoptin_form_subject]"
	PlaceholderFormDate    = "[doubleoptin_form_date]"
	PlaceholderFormTime    = "[doubleoptin_form_time]"
	PlaceholderFormEmail   = "[doubleoptin_form_email]"
)

// ConfirmationLink is the URL the recipient visits to confirm.
func (e *Engine) ConfirmationLink(o *domain.OptIn) string {
	return withQuery(e.baseURL+"/v1/optin", "optin", o.Hash)
}

// OptOutLink is the URL that withdraws consent.
func (e *Engine) OptOutLink(o *domain.OptIn) string {
	return withQuery(e.baseURL+"/v1/optout", "optout", o.Hash)
}

func withQuery(base, key, value string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base + "?" + key + "=" + url.QueryEscape(value)
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

// ReplacePlaceholders substitutes system, mapped and field placeholders in
// text. Field values are HTML escaped. Replacement is a single pass, so values
// containing placeholder syntax are left alone.
func (e *Engine) ReplacePlaceholders(text string, o *domain.OptIn, fd *domain.FormData, p domain.FormParameter) string {
	if text == "" {
		return ""
	}
	loc := e.settings.Location()
	created := o.CreateTime
	if created.IsZero() {
		created = e.now()
	}
	subject := firstNonEmpty(p.Notification.Subject, p.Title, fd.MetaString(domain.MetaTitle))

	pairs := []string{
		PlaceholderOptInLink, e.ConfirmationLink(o),
		PlaceholderOptOutLink, e.OptOutLink(o),
		PlaceholderFormURL, html.EscapeString(fd.MetaString(domain.MetaURL)),
		PlaceholderFormSubject, html.EscapeString(e.replaceFields(subject, fd)),
		PlaceholderFormDate, created.In(loc).Format(e.settings.DateFormat),
		PlaceholderFormTime, created.In(loc).Format(e.settings.TimeFormat),
		PlaceholderFormEmail, html.EscapeString(o.Email),
	}
	for std, field := range e.settings.PlaceholderMapping {
		pairs = append(pairs, "["+std+"]", html.EscapeString(fd.FieldString(field)))
	}
	for _, name := range fd.SortedFieldNames() {
		pairs = append(pairs, "["+name+"]", html.EscapeString(fd.FieldString(name)))
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

func (e *Engine) replaceFields(text string, fd *domain.FormData) string {
	if !strings.Contains(text, "[") {
		return text
	}
	pairs := make([]string, 0, 2*len(fd.SortedFieldNames()))
	for _, name := range fd.SortedFieldNames() {
		pairs = append(pairs, "["+name+"]", fd.FieldString(name))
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// ComposeOptInMail renders the confirmation request for a record.
func (e *Engine) ComposeOptInMail(o *domain.OptIn, fd *domain.FormData, p domain.FormParameter) *mail.Message {
	return e.compose(o, fd, p, p.Subject, p.Body)
}

func (e *Engine) compose(o *domain.OptIn, fd *domain.FormData, p domain.FormParameter, subject, body string) *mail.Message {
	subj := html.UnescapeString(e.ReplacePlaceholders(subject, o, fd, p))
	rendered := e.ReplacePlaceholders(body, o, fd, p)
	wrapped, err := e.layouts.Wrap(p.Template, rendered, map[string]any{
		"subject":     subj,
		"optin_link":  e.ConfirmationLink(o),
		"optout_link": e.OptOutLink(o),
		"form_title":  p.Title,
	})
	if err != nil {
		e.log.Warn("render mail layout", "template", p.Template, "form_id", p.FormID, "err", err)
	}
	return &mail.Message{
		From:     p.SenderEmail,
		FromName: p.SenderName,
		To:       o.Email,
		Subject:  subj,
		HTML:     wrapped,
	}
}

// SendOptInMail composes and delivers the opt-in mail and keeps the rendered
// body on the record. Adapters call it from their own SendOptInMail.
func (e *Engine) SendOptInMail(ctx context.Context, o *domain.OptIn, fd *domain.FormData, p domain.FormParameter) error {
	msg := e.ComposeOptInMail(o, fd, p)
	o.MailOptIn = msg.HTML
	return e.Deliver(ctx, events.MailOptIn, o.Hash, msg)
}

// Deliver is the shared outbound path: MailPreparing listeners may rewrite
// or cancel the message before the transport sees it.
func (e *Engine) Deliver(ctx context.Context, kind, hash string, msg *mail.Message) error {
	headers := make(map[string]string, len(msg.Headers))
	for k, v := range msg.Headers {
		headers[k] = v
	}
	prep := &events.MailPreparing{Kind: kind, To: msg.To, Subject: msg.Subject, Body: msg.HTML, Headers: headers}
	e.events.Dispatch(ctx, prep)
	if prep.IsCancelled() {
		return ErrMailCancelled
	}
	msg.To, msg.Subject, msg.HTML, msg.Headers = prep.To, prep.Subject, prep.Body, prep.Headers
	if strings.TrimSpace(msg.To) == "" {
		return fmt.Errorf("%s mail has no recipient: %w", kind, domain.ErrBadRequest)
	}
	if err := e.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("send %s mail: %w", kind, err)
	}
	e.events.Dispatch(ctx, &events.MailSent{Kind: kind, To: msg.To, Subject: msg.Subject, Hash: hash})
	return nil
}

// ReplayNotification sends the form's withheld notification, rebuilt from the
// stored submission, with the stored uploads attached. Uploads are removed
// once the mail went out.
func (e *Engine) ReplayNotification(ctx context.Context, o *domain.OptIn, p domain.FormParameter) error {
	if strings.TrimSpace(p.Notification.To) == "" {
		return nil
	}
	fd, err := SubmissionOf(o)
	if err != nil {
		return err
	}
	msg, err := e.notification(o, fd, p)
	if err != nil {
		return err
	}
	msg.Attachments, err = e.loadAttachments(ctx, o.Files)
	if err != nil {
		return err
	}
	if err := e.Deliver(ctx, events.MailNotification, o.Hash, msg); err != nil {
		return err
	}
	if len(o.Files) > 0 {
		e.RemoveFiles(ctx, o.Files)
		o.Files = nil
		if err := e.repo.Save(ctx, o); err != nil {
			e.log.Warn("clear replayed files", "id", o.ID, "err", err)
		}
	}
	return nil
}

// Forward delivers the notification of a submission that does not go through
// double opt-in. Uploads are attached from their temporary paths, which are
// removed afterwards.
func (e *Engine) Forward(ctx context.Context, a Adapter, fd *domain.FormData, p domain.FormParameter) error {
	defer DiscardUploads(fd)
	if strings.TrimSpace(p.Notification.To) == "" {
		return nil
	}
	o := &domain.OptIn{
		FormID:     fd.FormID(),
		FormType:   a.Identifier(),
		Email:      a.ResolveRecipient(fd, p),
		CreateTime: e.now().UTC(),
	}
	msg, err := e.notification(o, fd, p)
	if err != nil {
		return err
	}
	msg.Attachments, err = readTemp(fd)
	if err != nil {
		return err
	}
	return e.Deliver(ctx, events.MailNotification, "", msg)
}

func (e *Engine) notification(o *domain.OptIn, fd *domain.FormData, p domain.FormParameter) (*mail.Message, error) {
	n := p.Notification
	to := e.resolveAddress(n.To, fd)
	if to == "" {
		return nil, fmt.Errorf("notification recipient %q resolved empty: %w", n.To, domain.ErrBadRequest)
	}
	body := e.ReplacePlaceholders(n.Body, o, fd, p)
	if body == "" {
		body = e.fieldTable(fd)
	}
	return &mail.Message{
		From:     firstNonEmpty(n.From, p.SenderEmail),
		FromName: p.SenderName,
		To:       to,
		ReplyTo:  e.resolveAddress(n.ReplyTo, fd),
		Subject:  html.UnescapeString(e.ReplacePlaceholders(firstNonEmpty(n.Subject, p.Title, "Form submission"), o, fd, p)),
		HTML:     body,
	}, nil
}

// resolveAddress accepts a literal address or a [field] reference.
func (e *Engine) resolveAddress(ref string, fd *domain.FormData) string {
	ref = strings.TrimSpace(ref)
	if len(ref) > 2 && strings.HasPrefix(ref, "[") && strings.HasSuffix(ref, "]") {
		return strings.TrimSpace(fd.FieldString(ref[1 : len(ref)-1]))
	}
	return ref
}

func (e *Engine) fieldTable(fd *domain.FormData) string {
	var b strings.Builder
	b.WriteString("<table>")
	for _, name := range fd.SortedFieldNames() {
		fmt.Fprintf(&b, "<tr><th>%s</th><td>%s</td></tr>", html.EscapeString(name), html.EscapeString(fd.FieldString(name)))
	}
	b.WriteString("</table>")
	return b.String()
}

// ResolveRecipient is the shared recipient lookup: the address already set on
// the submission, then the configured [field] reference or literal address.
func ResolveRecipient(fd *domain.FormData, p domain.FormParameter) string {
	if email := strings.TrimSpace(fd.RecipientEmail()); email != "" {
		return email
	}
	if field, ok := p.RecipientField(); ok {
		return strings.TrimSpace(fd.FieldString(field))
	}
	return strings.TrimSpace(p.Recipient)
}
