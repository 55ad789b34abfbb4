package channel

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	logx "outreach/pkg/logx"
)

// ChatMessage is what a chat session transmits.
type ChatMessage struct {
	To         string
	Kind       Kind
	Text       string
	Caption    string
	Attachment *Attachment
}

// ChatSession is the single shared outbound chat connection.
type ChatSession interface {
	// Ready reports whether the session is connected.
	Ready() bool
	// SendChat transmits one message and returns the provider message id.
	SendChat(ctx context.Context, msg ChatMessage) (string, error)
}

// ChatSender delivers chat messages over a ChatSession.
type ChatSender struct {
	session ChatSession
	msgLog  MessageLog
	log     logx.Logger
	now     func() time.Time
}

func NewChatSender(session ChatSession, msgLog MessageLog, log logx.Logger) *ChatSender {
	return &ChatSender{session: session, msgLog: msgLog, log: log, now: time.Now}
}

func (s *ChatSender) Channel() Channel { return Chat }

func (s *ChatSender) Send(ctx context.Context, d Delivery) (Outcome, error) {
	if s.session == nil || !s.session.Ready() {
		return Outcome{}, Unavailable(errors.New("chat session is not connected"))
	}

	to := NormalizePhone(d.Recipient.Address)
	if to == "" {
		return Failed(errors.Newf("invalid chat address %q", d.Recipient.Address)), nil
	}

	msg := ChatMessage{To: to, Kind: d.Content.KindFor(d.Recipient), Text: d.Content.Text}
	if att := d.Content.AttachmentFor(d.Recipient); att != nil {
		msg.Attachment = att
		msg.Caption = d.Content.Caption
		if msg.Caption == "" {
			msg.Caption = d.Content.Text
		}
	}

	id, err := s.session.SendChat(ctx, msg)
	if err != nil {
		if IsUnavailable(err) {
			return Outcome{}, err
		}
		s.log.Debug("chat send failed", logx.String("job", d.JobID), logx.String("to", to), logx.Err(err))
		return Failed(err), nil
	}

	record(ctx, s.msgLog, s.log, LogEntry{
		JobID: d.JobID, Channel: Chat, Recipient: to, ProviderID: id, Kind: msg.Kind, At: s.now(),
	})
	return Succeeded(id), nil
}

// record appends to the message log. A failure is logged and otherwise ignored.
func record(ctx context.Context, ml MessageLog, log logx.Logger, e LogEntry) {
	if ml == nil {
		return
	}
	if err := ml.AppendMessageLog(ctx, e); err != nil {
		log.Warn("message log append failed",
			logx.String("job", e.JobID), logx.String("channel", string(e.Channel)), logx.Err(err))
	}
}
