// Package telegram provides the chat transport: one shared bot session used
// by every chat send of the process.
package telegram

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	tele "gopkg.in/telebot.v4"

	"outreach/internal/channel"
	logx "outreach/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	SendTimeout time.Duration
	// URL overrides the Bot API endpoint (tests, local bot API servers).
	URL string
}

// Session wraps a telebot.Bot. It is created disconnected; Connect
// validates the token against the Bot API and marks the session ready.
type Session struct {
	cfg Config
	log logx.Logger

	mu  sync.RWMutex
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Session, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Session{cfg: cfg, log: log}, nil
}

// Connect creates the bot (getMe) once. It is safe to call repeatedly.
func (s *Session) Connect(ctx context.Context) error {
	if s.Ready() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := tele.NewBot(tele.Settings{
		URL:    s.cfg.URL,
		Token:  s.cfg.Token,
		Poller: &tele.LongPoller{Timeout: s.cfg.PollTimeout},
		Client: &http.Client{Timeout: s.cfg.SendTimeout},
	})
	if err != nil {
		return channel.Unavailable(errors.Wrap(err, "telegram connect"))
	}

	s.mu.Lock()
	s.bot = b
	s.mu.Unlock()
	s.log.Info("telegram session ready", logx.String("bot", b.Me.Username))
	return nil
}

func (s *Session) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bot != nil
}

// Close drops the bot; further sends report the transport as unavailable.
func (s *Session) Close() {
	s.mu.Lock()
	s.bot = nil
	s.mu.Unlock()
}

func (s *Session) SendChat(ctx context.Context, msg channel.ChatMessage) (string, error) {
	s.mu.RLock()
	b := s.bot
	s.mu.RUnlock()
	if b == nil {
		return "", channel.Unavailable(errors.New("telegram session is not connected"))
	}
	if err := ctx.Err(); err != nil {
		return "", channel.Unavailable(err)
	}

	chatID, err := strconv.ParseInt(msg.To, 10, 64)
	if err != nil {
		return "", errors.Wrapf(err, "invalid chat id %q", msg.To)
	}

	what, err := sendable(msg)
	if err != nil {
		return "", err
	}
	sent, err := b.Send(&tele.Chat{ID: chatID}, what, &tele.SendOptions{})
	if err != nil {
		return "", classify(err)
	}
	return strconv.Itoa(sent.ID), nil
}

func sendable(msg channel.ChatMessage) (any, error) {
	att := msg.Attachment
	if att == nil || msg.Kind == channel.Text {
		if strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("empty chat message")
		}
		return msg.Text, nil
	}
	file := tele.FromReader(bytes.NewReader(att.Data))
	switch msg.Kind {
	case channel.Image:
		return &tele.Photo{File: file, Caption: msg.Caption}, nil
	case channel.Video:
		return &tele.Video{File: file, Caption: msg.Caption, FileName: att.FileName, MIME: att.MIMEType}, nil
	case channel.Audio:
		return &tele.Audio{File: file, Caption: msg.Caption, FileName: att.FileName, MIME: att.MIMEType}, nil
	default:
		name := att.FileName
		if name == "" {
			name = "document" + channel.Extension(att.MIMEType)
		}
		return &tele.Document{File: file, Caption: msg.Caption, FileName: name, MIME: att.MIMEType}, nil
	}
}

// classify marks connection-level failures as transport unavailable; every
// other Bot API error is a per-recipient failure.
func classify(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, tele.ErrUnauthorized):
		return channel.Unavailable(err)
	case errors.As(err, &netErr):
		return channel.Unavailable(err)
	default:
		return err
	}
}
