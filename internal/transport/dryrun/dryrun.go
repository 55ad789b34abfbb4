// Package dryrun provides transports that log instead of sending.
package dryrun

import (
	"context"
	"strconv"
	"sync/atomic"

	"outreach/internal/channel"
	logx "outreach/pkg/logx"
)

type ChatSession struct {
	log logx.Logger
	seq atomic.Uint64
}

func NewChatSession(log logx.Logger) *ChatSession { return &ChatSession{log: log} }

func (s *ChatSession) Ready() bool { return true }

func (s *ChatSession) SendChat(_ context.Context, msg channel.ChatMessage) (string, error) {
	id := "dryrun-chat-" + strconv.FormatUint(s.seq.Add(1), 10)
	s.log.Info("dry-run chat send",
		logx.String("to", msg.To), logx.String("kind", string(msg.Kind)), logx.String("id", id))
	return id, nil
}

type Mailer struct {
	log logx.Logger
	seq atomic.Uint64
}

func NewMailer(log logx.Logger) *Mailer { return &Mailer{log: log} }

func (m *Mailer) SendMail(_ context.Context, mail channel.Mail) (string, error) {
	id := "dryrun-mail-" + strconv.FormatUint(m.seq.Add(1), 10)
	m.log.Info("dry-run email send",
		logx.Any("to", mail.To), logx.String("subject", mail.Subject),
		logx.Bool("attachment", mail.Attachment != nil), logx.String("id", id))
	return id, nil
}
