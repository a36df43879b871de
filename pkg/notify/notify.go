// Package notify delivers failure notifications for unattended runs.
// Delivery is best effort and never affects run outcome.
package notify

import (
	"fmt"
	"net/smtp"
	"strings"

	"feedforge/pkg/logger"
)

// Notifier sends one message to whoever watches the pipeline.
type Notifier interface {
	Send(subject, body string) error
}

// SMTP delivers over a plain SMTP relay.
type SMTP struct {
	Addr string
	From string
	To   []string
}

// NewSMTP builds an SMTP notifier; to is a comma-separated address list.
func NewSMTP(addr, from, to string) *SMTP {
	var rcpt []string
	for _, a := range strings.Split(to, ",") {
		if a = strings.TrimSpace(a); a != "" {
			rcpt = append(rcpt, a)
		}
	}
	return &SMTP{Addr: addr, From: from, To: rcpt}
}

func (s *SMTP) Send(subject, body string) error {
	if s.Addr == "" || len(s.To) == 0 {
		return fmt.Errorf("smtp notifier not configured")
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		s.From, strings.Join(s.To, ", "), subject, body)
	if err := smtp.SendMail(s.Addr, nil, s.From, s.To, []byte(msg)); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// LogOnly writes notifications to the service log. Used when no SMTP
// relay is configured.
type LogOnly struct{}

func (LogOnly) Send(subject, body string) error {
	logger.Warn("notification", "subject", subject, "body", body)
	return nil
}
