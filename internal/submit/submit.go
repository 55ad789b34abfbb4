// Package submit is the entry point for callers: it validates a request,
// classifies its content, turns it into one or more queue jobs and answers
// status queries.
package submit

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"

	"outreach/internal/channel"
	"outreach/internal/dispatch"
	"outreach/internal/status"
	logx "outreach/pkg/logx"
)

// Both fans a request out to a chat job and an email job.
const Both = "both"

// MaxAttachmentBytes is the default attachment size limit.
const MaxAttachmentBytes = 25 << 20

// ErrValidation marks requests rejected before anything is enqueued.
var ErrValidation = errors.New("invalid request")

func invalid(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrValidation)
}

// Request is a bulk send as submitted by a caller.
type Request struct {
	Channel    string           `json:"channel"`
	Recipients []RecipientInput `json:"recipients"`

	// Text is the chat message or the email HTML body.
	Text    string `json:"text,omitempty"`
	Subject string `json:"subject,omitempty"`
	// Attachment is a binary payload shared by every recipient.
	Attachment []byte  `json:"attachment,omitempty"`
	Options    Options `json:"options,omitempty"`
}

type RecipientInput struct {
	Address string            `json:"address"`
	Name    string            `json:"name,omitempty"`
	Data    map[string]string `json:"data,omitempty"`
	// Attachment overrides the shared attachment for this recipient.
	Attachment []byte `json:"attachment,omitempty"`
}

type Options struct {
	Caption  string `json:"caption,omitempty"`
	FileName string `json:"fileName,omitempty"`
	MIMEType string `json:"mimeType,omitempty"`
}

// Receipt is returned synchronously. JobID is the first job; Jobs lists
// every job the request produced.
type Receipt struct {
	JobID   string   `json:"jobId"`
	Jobs    []JobRef `json:"jobs"`
	Dropped int      `json:"dropped,omitempty"`
}

type JobRef struct {
	JobID      string `json:"jobId"`
	Channel    string `json:"channel"`
	Recipients int    `json:"recipients"`
}

// Enqueuer accepts jobs for asynchronous delivery.
type Enqueuer interface {
	Enqueue(ctx context.Context, j dispatch.Job) (string, error)
}

// StatusReader reads job status records.
type StatusReader interface {
	Get(ctx context.Context, jobID string) (status.JobStatus, error)
}

type Service struct {
	queue         Enqueuer
	statuses      StatusReader
	maxAttachment int
	log           logx.Logger
}

type Option func(*Service)

func WithLogger(l logx.Logger) Option { return func(s *Service) { s.log = l } }

// WithMaxAttachment sets the attachment size limit in bytes.
func WithMaxAttachment(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttachment = n
		}
	}
}

func New(q Enqueuer, statuses StatusReader, opts ...Option) *Service {
	s := &Service{queue: q, statuses: statuses, maxAttachment: MaxAttachmentBytes, log: logx.Nop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Submit validates r and enqueues its jobs. Delivery happens asynchronously;
// the caller polls Status with the returned ids.
func (s *Service) Submit(ctx context.Context, r Request) (Receipt, error) {
	jobs, dropped, err := s.build(r)
	if err != nil {
		return Receipt{}, err
	}

	rc := Receipt{Dropped: dropped}
	for _, j := range jobs {
		id, err := s.queue.Enqueue(ctx, j)
		if err != nil {
			if len(rc.Jobs) > 0 {
				// Earlier legs are already queued; report them with the error.
				return rc, errors.Wrapf(err, "enqueue %s leg", j.Channel)
			}
			return Receipt{}, errors.Wrapf(err, "enqueue %s job", j.Channel)
		}
		if rc.JobID == "" {
			rc.JobID = id
		}
		rc.Jobs = append(rc.Jobs, JobRef{JobID: id, Channel: string(j.Channel), Recipients: len(j.Recipients)})
	}
	s.log.Info("request accepted", logx.String("job", rc.JobID), logx.String("channel", r.Channel),
		logx.Int("jobs", len(rc.Jobs)), logx.Int("recipients", len(r.Recipients)), logx.Int("dropped", dropped))
	return rc, nil
}

// Status returns the status record of a job, or status.ErrNotFound once
// it is unknown or expired.
func (s *Service) Status(ctx context.Context, jobID string) (status.JobStatus, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return status.JobStatus{}, invalid("job id is required")
	}
	return s.statuses.Get(ctx, jobID)
}

// build validates r and returns the jobs it expands to, plus the number of
// recipients a fan-out could not route.
func (s *Service) build(r Request) ([]dispatch.Job, int, error) {
	mode := strings.ToLower(strings.TrimSpace(r.Channel))
	if mode != Both && !channel.Channel(mode).Valid() {
		return nil, 0, invalid("unknown channel %q", r.Channel)
	}
	if len(r.Recipients) == 0 {
		return nil, 0, invalid("recipients must not be empty")
	}

	content := channel.Content{Text: r.Text, Subject: r.Subject, Caption: r.Options.Caption}
	if len(r.Attachment) > 0 {
		att, err := s.attachment(r.Attachment, r.Options)
		if err != nil {
			return nil, 0, err
		}
		content.Attachment = att
	}

	recipients := make([]channel.Recipient, 0, len(r.Recipients))
	for i, in := range r.Recipients {
		addr := strings.TrimSpace(in.Address)
		if addr == "" {
			return nil, 0, invalid("recipient %d: address is required", i)
		}
		rc := channel.Recipient{Address: addr, Name: strings.TrimSpace(in.Name), Data: in.Data}
		if len(in.Attachment) > 0 {
			att, err := s.attachment(in.Attachment, Options{FileName: r.Options.FileName})
			if err != nil {
				return nil, 0, errors.Wrapf(err, "recipient %d", i)
			}
			rc.Attachment = att
		}
		if content.Attachment == nil && rc.Attachment == nil && strings.TrimSpace(content.Text) == "" {
			return nil, 0, invalid("recipient %d: payload is missing", i)
		}
		recipients = append(recipients, rc)
	}

	if mode != Both {
		return []dispatch.Job{{Channel: channel.Channel(mode), Recipients: recipients, Content: content}}, 0, nil
	}

	var chat, email []channel.Recipient
	dropped := 0
	for _, rc := range recipients {
		switch {
		case channel.IsEmail(rc.Address):
			email = append(email, rc)
		case channel.IsPhone(rc.Address):
			chat = append(chat, rc)
		default:
			dropped++
		}
	}
	var jobs []dispatch.Job
	if len(chat) > 0 {
		jobs = append(jobs, dispatch.Job{Channel: channel.Chat, Recipients: chat, Content: content})
	}
	if len(email) > 0 {
		jobs = append(jobs, dispatch.Job{Channel: channel.Email, Recipients: email, Content: content})
	}
	if len(jobs) == 0 {
		return nil, dropped, invalid("no recipient has a phone number or email address")
	}
	return jobs, dropped, nil
}

func (s *Service) attachment(data []byte, o Options) (*channel.Attachment, error) {
	if len(data) > s.maxAttachment {
		return nil, invalid("attachment is %d bytes, limit is %d", len(data), s.maxAttachment)
	}
	kind, mime := channel.Classify(data, o.MIMEType)
	return &channel.Attachment{Data: data, FileName: strings.TrimSpace(o.FileName), MIMEType: mime, Kind: kind}, nil
}
