// Package channel defines the per-channel sender capability and the content
// model shared by submission, dispatch and the transports.
package channel

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

type Channel string

const (
	Chat  Channel = "chat"
	Email Channel = "email"
)

func (c Channel) Valid() bool { return c == Chat || c == Email }

// ErrTransportUnavailable marks connection-level failures. A sender returns
// it instead of an Outcome; the dispatcher aborts the whole job on it.
var ErrTransportUnavailable = errors.New("transport unavailable")

// Unavailable marks err as a transport-unavailable failure.
func Unavailable(err error) error {
	if err == nil {
		err = ErrTransportUnavailable
	}
	return errors.Mark(err, ErrTransportUnavailable)
}

func IsUnavailable(err error) bool { return errors.Is(err, ErrTransportUnavailable) }

// Recipient is one addressee of a job.
type Recipient struct {
	Address string            `json:"address"`
	Name    string            `json:"name,omitempty"`
	Data    map[string]string `json:"data,omitempty"`

	// Attachment, when set, replaces the job attachment for this recipient
	// (pre-rendered posters).
	Attachment *Attachment `json:"attachment,omitempty"`
}

// Attachment is a classified binary payload.
type Attachment struct {
	Data     []byte `json:"data"`
	FileName string `json:"fileName,omitempty"`
	MIMEType string `json:"mimeType,omitempty"`
	Kind     Kind   `json:"kind"`
}

// Content is the message shared by every recipient of a job.
type Content struct {
	// Text is the chat message, or the HTML body of an email.
	Text       string      `json:"text,omitempty"`
	Subject    string      `json:"subject,omitempty"`
	Caption    string      `json:"caption,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// Kind of the content as delivered to r.
func (c Content) KindFor(r Recipient) Kind {
	if a := c.AttachmentFor(r); a != nil {
		return a.Kind
	}
	return Text
}

func (c Content) AttachmentFor(r Recipient) *Attachment {
	if r.Attachment != nil {
		return r.Attachment
	}
	return c.Attachment
}

// Delivery is a single send: one recipient of one job.
type Delivery struct {
	JobID     string
	Index     int
	Recipient Recipient
	Content   Content
}

// Outcome is the per-recipient result. Ordinary delivery failures are
// reported here with Success=false, never as an error.
type Outcome struct {
	Success    bool
	Error      string
	ProviderID string
}

func Succeeded(providerID string) Outcome { return Outcome{Success: true, ProviderID: providerID} }

func Failed(err error) Outcome {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Outcome{Error: msg}
}

// Sender sends one message to one recipient.
type Sender interface {
	Channel() Channel
	Send(ctx context.Context, d Delivery) (Outcome, error)
}

// MessageLog receives a record of every successful send.
type MessageLog interface {
	AppendMessageLog(ctx context.Context, e LogEntry) error
}

type LogEntry struct {
	JobID      string
	Channel    Channel
	Recipient  string
	ProviderID string
	Kind       Kind
	At         time.Time
}
