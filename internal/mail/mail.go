// mail: отправка писем пользователям (сброс пароля, подтверждение e-mail).
package mail

//go:generate mockgen -source=mail.go -destination=../../mocks/mail.go -package=mocks

import (
	"context"
	"crypto/tls"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/pribylovaa/go-auth-service/internal/config"
	"github.com/pribylovaa/go-auth-service/internal/pkg/log"
	"github.com/pribylovaa/go-auth-service/internal/pkg/redact"
)

// Message: письмо с HTML- и текстовой версией.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Sender доставляет письма.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

const defaultSMTPTimeout = 10 * time.Second

// SMTPSender отправляет письма через SMTP. Письмо собирает gomail,
// доставка идёт по соединению с дедлайном на весь диалог: gomail.Dialer
// ограничивает только установку TCP-соединения.
type SMTPSender struct {
	host    string
	addr    string
	ssl     bool
	auth    smtp.Auth
	from    string
	timeout time.Duration
}

// NewSMTPSender создаёт SMTP-отправителя. Порт 465: TLS сразу, иначе STARTTLS, если сервер его предлагает.
func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	s := &SMTPSender{
		host:    cfg.Host,
		addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		ssl:     cfg.Port == 465,
		from:    cfg.From,
		timeout: cfg.Timeout,
	}
	if s.timeout <= 0 {
		s.timeout = defaultSMTPTimeout
	}
	if cfg.User != "" {
		s.auth = smtp.PlainAuth("", cfg.User, cfg.Password, cfg.Host)
	}

	return s
}

// Send отправляет письмо. Дедлайн соединения: минимум из timeout и дедлайна ctx;
// отмена ctx закрывает соединение, так что после возврата Send диалог не продолжается.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	const op = "mail.SMTPSender.Send"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Text)
	m.AddAlternative("text/html", msg.HTML)

	if err := s.deliver(ctx, m); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", op, ctxErr)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *SMTPSender) deliver(ctx context.Context, m *gomail.Message) error {
	deadline := time.Now().Add(s.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	d := net.Dialer{Deadline: deadline}
	raw, err := d.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return err
	}
	if err := raw.SetDeadline(deadline); err != nil {
		_ = raw.Close()
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = raw.Close() })
	defer stop()

	conn := raw
	if s.ssl {
		conn = tls.Client(raw, &tls.Config{ServerName: s.host})
	}

	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer c.Close()

	if !s.ssl {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
				return err
			}
		}
	}
	if s.auth != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(s.auth); err != nil {
				return err
			}
		}
	}

	send := gomail.SendFunc(func(from string, to []string, msg io.WriterTo) error {
		if err := c.Mail(from); err != nil {
			return err
		}
		for _, rcpt := range to {
			if err := c.Rcpt(rcpt); err != nil {
				return err
			}
		}
		w, err := c.Data()
		if err != nil {
			return err
		}
		if _, err := msg.WriteTo(w); err != nil {
			_ = w.Close()
			return err
		}
		return w.Close()
	})

	if err := gomail.Send(send, m); err != nil {
		return err
	}

	return c.Quit()
}

// LogSender ничего не отправляет, а только пишет в лог факт отправки.
// Используется локально, когда SMTP не настроен. Тело письма не логируется:
// в нём одноразовый токен.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, msg Message) error {
	log.From(ctx).Info("mail_send_skipped",
		slog.String("to", redact.Email(msg.To)),
		slog.String("subject", msg.Subject),
	)

	return nil
}

// New выбирает реализацию по конфигурации: пустой Host: LogSender.
func New(cfg config.SMTPConfig) Sender {
	if cfg.Host == "" {
		return LogSender{}
	}

	return NewSMTPSender(cfg)
}

// PasswordResetMessage собирает письмо со ссылкой на сброс пароля.
func PasswordResetMessage(to, name, link string) Message {
	n := html.EscapeString(name)
	l := html.EscapeString(link)

	return Message{
		To:      to,
		Subject: "Reset your password",
		HTML: fmt.Sprintf(`<h2>Password reset</h2>
<p>Hello %s,</p>
<p>We received a request to reset the password for your account.</p>
<p><a href="%s">Reset password</a></p>
<p>This link expires in 1 hour. If you did not request a reset, you can ignore this email.</p>`, n, l),
		Text: fmt.Sprintf("Hello %s,\n\nWe received a request to reset the password for your account.\n"+
			"Open this link to choose a new password:\n%s\n\n"+
			"This link expires in 1 hour. If you did not request a reset, you can ignore this email.\n", name, link),
	}
}

// VerificationMessage собирает письмо со ссылкой на подтверждение e-mail.
func VerificationMessage(to, name, link string) Message {
	n := html.EscapeString(name)
	l := html.EscapeString(link)

	return Message{
		To:      to,
		Subject: "Verify your email address",
		HTML: fmt.Sprintf(`<h2>Confirm your email</h2>
<p>Hello %s,</p>
<p>Please confirm your email address to finish setting up your account.</p>
<p><a href="%s">Verify email</a></p>
<p>This link expires in 24 hours.</p>`, n, l),
		Text: fmt.Sprintf("Hello %s,\n\nPlease confirm your email address to finish setting up your account:\n%s\n\n"+
			"This link expires in 24 hours.\n", name, link),
	}
}
