package channel

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	logx "outreach/pkg/logx"
)

// Mail is one outgoing email.
type Mail struct {
	To         []string
	Subject    string
	HTML       string
	Attachment *Attachment
}

// Mailer transmits emails and returns the provider message id.
type Mailer interface {
	SendMail(ctx context.Context, m Mail) (string, error)
}

// EmailSender delivers one email per recipient, filling placeholders from
// the recipient first.
type EmailSender struct {
	mailer Mailer
	msgLog MessageLog
	log    logx.Logger
	now    func() time.Time
}

func NewEmailSender(mailer Mailer, msgLog MessageLog, log logx.Logger) *EmailSender {
	return &EmailSender{mailer: mailer, msgLog: msgLog, log: log, now: time.Now}
}

func (s *EmailSender) Channel() Channel { return Email }

func (s *EmailSender) Send(ctx context.Context, d Delivery) (Outcome, error) {
	if s.mailer == nil {
		return Outcome{}, Unavailable(errors.New("mailer is not configured"))
	}
	to := strings.TrimSpace(d.Recipient.Address)
	if !IsEmail(to) {
		return Failed(errors.Newf("invalid email address %q", d.Recipient.Address)), nil
	}

	m := Mail{
		To:      []string{to},
		Subject: Render(d.Content.Subject, d.Recipient),
		HTML:    Render(d.Content.Text, d.Recipient),
	}
	if att := d.Content.AttachmentFor(d.Recipient); att != nil {
		cp := *att
		if cp.FileName == "" {
			cp.FileName = AttachmentName(d.Content.Subject, cp.MIMEType, s.now())
		}
		m.Attachment = &cp
	}

	id, err := s.mailer.SendMail(ctx, m)
	if err != nil {
		if IsUnavailable(err) {
			return Outcome{}, err
		}
		s.log.Debug("email send failed", logx.String("job", d.JobID), logx.String("to", to), logx.Err(err))
		return Failed(err), nil
	}

	record(ctx, s.msgLog, s.log, LogEntry{
		JobID: d.JobID, Channel: Email, Recipient: to, ProviderID: id, Kind: d.Content.KindFor(d.Recipient), At: s.now(),
	})
	return Succeeded(id), nil
}
