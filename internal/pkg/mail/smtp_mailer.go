package mail

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuelReschke/ReflectCoach/internal/pkg/config"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/logging"
)

// ErrPermanent marks failures that will not succeed on retry, such as a
// rejected recipient address.
var ErrPermanent = errors.New("mail: permanent delivery failure")

// Sender delivers one rendered message.
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// IsPermanent reports whether err should stop further attempts for a recipient.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer sends emails via SMTP
type SMTPMailer struct {
	addr    string
	auth    smtp.Auth
	sender  string
	timeout time.Duration
	send    sendFunc
	log     zerolog.Logger
}

// NewSMTPMailer builds a mailer from the SMTP settings. A zero timeout
// disables the per-send deadline.
func NewSMTPMailer(cfg config.SMTPConfig, timeout time.Duration) *SMTPMailer {
	sender := cfg.Sender
	logger := logging.Component("mail")
	if sender == "" {
		sender = "no-reply@localhost"
		logger.Warn().Str("sender", sender).Msg("SMTP_SENDER not set, using default sender")
	}

	var auth smtp.Auth
	if cfg.Username != "" && cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	return &SMTPMailer{
		addr:    fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		auth:    auth,
		sender:  sender,
		timeout: timeout,
		send:    smtp.SendMail,
		log:     logger,
	}
}

// Send delivers a HTML message. net/smtp has no context support, so the
// call runs in its own goroutine and a deadline only abandons the wait.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	to = strings.TrimSpace(to)
	if to == "" || strings.ContainsAny(to, "\r\n") {
		return fmt.Errorf("%w: invalid recipient %q", ErrPermanent, to)
	}
	if strings.ContainsAny(subject, "\r\n") {
		return fmt.Errorf("%w: subject contains line breaks", ErrPermanent)
	}

	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", m.sender, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			htmlBody,
	)

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- m.send(m.addr, m.auth, m.sender, []string{to}, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			err = classify(err)
			m.log.Warn().Err(err).Str("to", to).Msg("SMTP send error")
			return err
		}
		m.log.Debug().Str("to", to).Str("addr", m.addr).Msg("Email sent")
		return nil
	case <-ctx.Done():
		m.log.Warn().Err(ctx.Err()).Str("to", to).Msg("SMTP send timed out")
		return fmt.Errorf("smtp send: %w", ctx.Err())
	}
}

// classify maps replies that reject the recipient itself (550, 551, 553 or a
// 5.1.x enhanced status) to ErrPermanent. Other failures, including
// authentication and policy 5xx replies, are transient.
func classify(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && recipientRejected(tpErr) {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	return fmt.Errorf("smtp send: %w", err)
}

func recipientRejected(e *textproto.Error) bool {
	switch e.Code {
	case 550, 551, 553:
		return true
	}
	return e.Code >= 500 && e.Code < 600 && strings.HasPrefix(strings.TrimSpace(e.Msg), "5.1.")
}
