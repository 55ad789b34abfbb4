package mail

import (
	"context"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"outreach/internal/channel"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer sends through a submission server with PLAIN auth (STARTTLS is
// negotiated by net/smtp when offered).
type SMTPMailer struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	now  func() time.Time
}

func NewSMTP(cfg SMTPConfig) (*SMTPMailer, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp host is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("smtp from address is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail, now: time.Now}, nil
}

func (m *SMTPMailer) SendMail(ctx context.Context, mail channel.Mail) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", channel.Unavailable(err)
	}
	raw, err := Build(m.cfg.From, mail, m.now())
	if err != nil {
		return "", err
	}
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	if err := m.send(addr, auth, m.cfg.From, mail.To, raw); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) {
			return "", channel.Unavailable(err)
		}
		return "", err
	}
	// SMTP gives no provider id; use a local one for the message log.
	return uuid.NewString(), nil
}
