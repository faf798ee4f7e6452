package mail

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/resendlabs/resend-go"
)

// ResendSender delivers through the Resend HTTP API. Attachments are not
// forwarded; their names are listed at the end of the body instead.
type ResendSender struct {
	from string
	send func(*resend.SendEmailRequest) error
}

func NewResendSender(apiKey, from string) *ResendSender {
	client := resend.NewClient(apiKey)
	return &ResendSender{
		from: from,
		send: func(req *resend.SendEmailRequest) error {
			_, err := client.Emails.Send(req)
			return err
		},
	}
}

func (s *ResendSender) Send(_ context.Context, msg *Message) error {
	prepared := prepare(msg, s.from)
	body := prepared.HTML
	if len(prepared.Attachments) > 0 {
		names := make([]string, 0, len(prepared.Attachments))
		for _, a := range prepared.Attachments {
			names = append(names, html.EscapeString(a.Filename))
		}
		slog.Warn("resend transport drops attachments", "count", len(names))
		body += "<p>Attachments: " + strings.Join(names, ", ") + "</p>"
	}
	err := s.send(&resend.SendEmailRequest{
		From:    prepared.FromHeader(),
		To:      []string{prepared.To},
		Subject: prepared.Subject,
		Html:    body,
	})
	if err != nil {
		return fmt.Errorf("resend send: %w", err)
	}
	return nil
}
