package submit

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"

	"outreach/internal/channel"
	"outreach/internal/dispatch"
	"outreach/internal/pkg/clock"
	"outreach/internal/status"
	"outreach/internal/storage"
)

type fakeQueue struct {
	jobs   []dispatch.Job
	failOn channel.Channel
}

func (q *fakeQueue) Enqueue(_ context.Context, j dispatch.Job) (string, error) {
	if j.Channel == q.failOn {
		return "", errors.New("queue full")
	}
	q.jobs = append(q.jobs, j)
	return fmt.Sprintf("job-%d", len(q.jobs)), nil
}

var png = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func TestSubmitRejectsInvalidRequests(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		req  Request
	}{
		{"unknown channel", Request{Channel: "fax", Recipients: []RecipientInput{{Address: "1"}}, Text: "hi"}},
		{"no recipients", Request{Channel: "chat", Text: "hi"}},
		{"blank address", Request{Channel: "chat", Recipients: []RecipientInput{{Address: "  "}}, Text: "hi"}},
		{"missing payload", Request{Channel: "email", Recipients: []RecipientInput{{Address: "a@b.co"}}}},
		{"oversized attachment", Request{Channel: "chat", Recipients: []RecipientInput{{Address: "1"}}, Attachment: make([]byte, 11)}},
		{"nothing routable", Request{Channel: "both", Recipients: []RecipientInput{{Address: "nobody"}}, Text: "hi"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := &fakeQueue{}
			s := New(q, nil, WithMaxAttachment(10))
			_, err := s.Submit(context.Background(), tc.req)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("err=%v want ErrValidation", err)
			}
			if len(q.jobs) != 0 {
				t.Fatalf("enqueued %d jobs on invalid request", len(q.jobs))
			}
		})
	}
}

func TestSubmitSingleChannel(t *testing.T) {
	q := &fakeQueue{}
	s := New(q, nil)
	rc, err := s.Submit(context.Background(), Request{
		Channel:    "chat",
		Recipients: []RecipientInput{{Address: "+62 812-0000", Name: " Ana "}, {Address: "628111"}},
		Text:       "hello",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	want := Receipt{JobID: "job-1", Jobs: []JobRef{{JobID: "job-1", Channel: "chat", Recipients: 2}}}
	if diff := cmp.Diff(want, rc); diff != "" {
		t.Fatalf("receipt mismatch (-want +got):\n%s", diff)
	}
	j := q.jobs[0]
	if j.Recipients[0].Name != "Ana" || j.Content.Text != "hello" || j.Content.Attachment != nil {
		t.Fatalf("job=%+v", j)
	}
}

func TestSubmitClassifiesAttachments(t *testing.T) {
	q := &fakeQueue{}
	s := New(q, nil)
	_, err := s.Submit(context.Background(), Request{
		Channel:    "email",
		Recipients: []RecipientInput{{Address: "a@b.co"}, {Address: "c@d.co", Attachment: []byte("%PDF-1.4\n")}},
		Subject:    "Offer",
		Attachment: png,
		Options:    Options{FileName: "poster.png"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	j := q.jobs[0]
	if a := j.Content.Attachment; a == nil || a.Kind != channel.Image || a.MIMEType != "image/png" || a.FileName != "poster.png" {
		t.Fatalf("shared attachment=%+v", j.Content.Attachment)
	}
	if got := j.Content.KindFor(j.Recipients[1]); got != channel.Document {
		t.Fatalf("per-recipient kind=%s want document", got)
	}
	if got := j.Content.KindFor(j.Recipients[0]); got != channel.Image {
		t.Fatalf("shared kind=%s want image", got)
	}
}

func TestSubmitDeclaredMIMEWins(t *testing.T) {
	q := &fakeQueue{}
	s := New(q, nil)
	_, err := s.Submit(context.Background(), Request{
		Channel:    "chat",
		Recipients: []RecipientInput{{Address: "1"}},
		Attachment: []byte("not really audio"),
		Options:    Options{MIMEType: "audio/mpeg"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if k := q.jobs[0].Content.Attachment.Kind; k != channel.Audio {
		t.Fatalf("kind=%s want audio", k)
	}
}

func TestSubmitBothSplitsIntoIndependentJobs(t *testing.T) {
	q := &fakeQueue{}
	s := New(q, nil)
	rc, err := s.Submit(context.Background(), Request{
		Channel: "both",
		Recipients: []RecipientInput{
			{Address: "a@b.co"}, {Address: "+1 555 0100"}, {Address: "???"}, {Address: "c@d.co"},
		},
		Text: "hi",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	want := Receipt{
		JobID: "job-1",
		Jobs: []JobRef{
			{JobID: "job-1", Channel: "chat", Recipients: 1},
			{JobID: "job-2", Channel: "email", Recipients: 2},
		},
		Dropped: 1,
	}
	if diff := cmp.Diff(want, rc); diff != "" {
		t.Fatalf("receipt mismatch (-want +got):\n%s", diff)
	}
	if got := q.jobs[1].Recipients[1].Address; got != "c@d.co" {
		t.Fatalf("email order not kept: %s", got)
	}
}

func TestSubmitBothReportsQueuedLegOnError(t *testing.T) {
	q := &fakeQueue{failOn: channel.Email}
	s := New(q, nil)
	rc, err := s.Submit(context.Background(), Request{
		Channel:    "both",
		Recipients: []RecipientInput{{Address: "a@b.co"}, {Address: "555"}},
		Text:       "hi",
	})
	if err == nil || !strings.Contains(err.Error(), "email") {
		t.Fatalf("err=%v", err)
	}
	if rc.JobID != "job-1" || len(rc.Jobs) != 1 {
		t.Fatalf("receipt=%+v", rc)
	}
}

func TestStatusQuery(t *testing.T) {
	clk := clock.NewMock(time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC))
	st := storage.NewMemory(clk)
	statuses := status.NewManager(st, status.WithClock(clk))
	s := New(&fakeQueue{}, statuses)
	ctx := context.Background()

	if _, err := statuses.Create(ctx, "j1", "chat", 3); err != nil {
		t.Fatal(err)
	}
	got, err := s.Status(ctx, "j1")
	if err != nil || got.Total != 3 || got.Status != status.Pending {
		t.Fatalf("status=%+v err=%v", got, err)
	}

	clk.Add(24*time.Hour + time.Minute)
	if _, err := s.Status(ctx, "j1"); !errors.Is(err, status.ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
	if _, err := s.Status(ctx, " "); !errors.Is(err, ErrValidation) {
		t.Fatalf("err=%v want ErrValidation", err)
	}
}
