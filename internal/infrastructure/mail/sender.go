// Package mail delivers one-time codes over email through an SMTP relay.
package mail

import (
	"context"
	"fmt"

	"github.com/otp-gateway/internal/config"
	"github.com/otp-gateway/internal/domain"
	"gopkg.in/gomail.v2"
)

type Sender struct {
	dialer *gomail.Dialer
	from   string
}

func NewSender(cfg *config.Config) *Sender {
	dialer := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
	return &Sender{dialer: dialer, from: cfg.SMTPFrom}
}

// Send mails the code to the destination address. The context is accepted
// for interface symmetry; gomail's dial-and-send is synchronous and bounded
// by the SMTP server's own timeouts.
func (s *Sender) Send(_ context.Context, destination, code string, purpose domain.Purpose) domain.DeliveryOutcome {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", destination)
	m.SetHeader("Subject", fmt.Sprintf("%s code", domain.PurposeLabel(purpose)))

	body := fmt.Sprintf(`
		<h3>%s</h3>
		<p>Your one-time code is: <strong>%s</strong></p>
		<p>The code expires shortly. If you did not request it, you can ignore this email.</p>
	`, domain.PurposeLabel(purpose), code)
	m.SetBody("text/html", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return domain.DeliveryOutcome{Err: fmt.Errorf("send email: %w", err)}
	}
	return domain.DeliveryOutcome{Success: true}
}
