package channel

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"outreach/internal/pkg/clock"
	"outreach/internal/storage"
	logx "outreach/pkg/logx"
)

type fakeSession struct {
	ready bool
	err   error
	sent  []ChatMessage
}

func (f *fakeSession) Ready() bool { return f.ready }

func (f *fakeSession) SendChat(_ context.Context, m ChatMessage) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, m)
	return "msg-1", nil
}

type fakeMailer struct {
	sent []Mail
	err  error
}

func (f *fakeMailer) SendMail(_ context.Context, m Mail) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, m)
	return "ses-1", nil
}

type brokenLog struct{}

func (brokenLog) AppendMessageLog(context.Context, LogEntry) error { return errors.New("disk full") }

func TestClassify(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	pdf := []byte("%PDF-1.4\n%...")
	cases := []struct {
		name     string
		data     []byte
		declared string
		want     Kind
	}{
		{"png sniffed", png, "", Image},
		{"pdf sniffed", pdf, "", Document},
		{"declared video", []byte("x"), "video/mp4", Video},
		{"declared audio with params", nil, "audio/ogg; codecs=opus", Audio},
		{"empty falls back", nil, "", Document},
		{"garbage falls back", []byte{0x00, 0x01, 0x02}, "", Document},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got, _ := Classify(tc.data, tc.declared); got != tc.want {
				t.Fatalf("Classify = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"+62 812-3456-789": "628123456789",
		"(021) 555 0101":   "0215550101",
		"-100123456":       "-100123456",
		"abc":              "",
		"-":                "",
	}
	for in, want := range cases {
		if got := NormalizePhone(in); got != want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAttachmentName(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	cases := []struct {
		subject, mime, want string
	}{
		{"Q3 Price List!", "application/pdf", "Q3_Price_List.pdf"},
		{"  ", "image/png", "attachment_1700000000000.png"},
		{"report.pdf", "application/pdf", "report.pdf"},
	}
	for _, tc := range cases {
		if got := AttachmentName(tc.subject, tc.mime, now); got != tc.want {
			t.Errorf("AttachmentName(%q) = %q, want %q", tc.subject, got, tc.want)
		}
	}
}

func TestRender(t *testing.T) {
	r := Recipient{Name: "Ana", Data: map[string]string{"company": "Acme"}}
	got := Render("Hello {{ name }} from {{company}}, {{ unknown }}", r)
	want := "Hello Ana from Acme, {{ unknown }}"
	if got != want {
		t.Fatalf("Render = %q, want %q", got, want)
	}
}

func TestChatSenderUnavailable(t *testing.T) {
	s := NewChatSender(&fakeSession{ready: false}, nil, logx.Nop())
	_, err := s.Send(context.Background(), Delivery{Recipient: Recipient{Address: "123"}})
	if !IsUnavailable(err) {
		t.Fatalf("err = %v, want transport unavailable", err)
	}
}

func TestChatSenderReportsDeliveryFailureAsOutcome(t *testing.T) {
	s := NewChatSender(&fakeSession{ready: true, err: errors.New("chat not found")}, nil, logx.Nop())
	out, err := s.Send(context.Background(), Delivery{Recipient: Recipient{Address: "123"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Success || !strings.Contains(out.Error, "chat not found") {
		t.Fatalf("outcome = %+v", out)
	}

	out, err = s.Send(context.Background(), Delivery{Recipient: Recipient{Address: "no digits"}})
	if err != nil || out.Success {
		t.Fatalf("invalid address: out=%+v err=%v", out, err)
	}
}

func TestChatSenderLogFailureDoesNotMaskSuccess(t *testing.T) {
	sess := &fakeSession{ready: true}
	s := NewChatSender(sess, brokenLog{}, logx.Nop())
	att := &Attachment{Data: []byte("img"), Kind: Image}
	out, err := s.Send(context.Background(), Delivery{
		JobID:     "j",
		Recipient: Recipient{Address: "+1 555"},
		Content:   Content{Text: "hi", Attachment: att},
	})
	if err != nil || !out.Success || out.ProviderID != "msg-1" {
		t.Fatalf("out=%+v err=%v", out, err)
	}
	if got := sess.sent[0]; got.To != "1555" || got.Kind != Image || got.Caption != "hi" {
		t.Fatalf("sent = %+v", got)
	}
}

func TestEmailSenderRendersAndLogs(t *testing.T) {
	st := storage.NewMemory(clock.NewMock(time.Unix(0, 0)))
	m := &fakeMailer{}
	s := NewEmailSender(m, StoreLog(st), logx.Nop())

	poster := &Attachment{Data: []byte("p"), MIMEType: "image/png", Kind: Image}
	out, err := s.Send(context.Background(), Delivery{
		JobID:     "j9",
		Recipient: Recipient{Address: "ana@example.com", Name: "Ana", Attachment: poster},
		Content:   Content{Subject: "Hi {{ name }}", Text: "<p>Dear {{ name }}</p>"},
	})
	if err != nil || !out.Success {
		t.Fatalf("out=%+v err=%v", out, err)
	}
	got := m.sent[0]
	if got.Subject != "Hi Ana" || got.HTML != "<p>Dear Ana</p>" {
		t.Fatalf("mail = %+v", got)
	}
	if got.Attachment == nil || got.Attachment.FileName != "Hi_name.png" {
		t.Fatalf("attachment = %+v", got.Attachment)
	}
	if poster.FileName != "" {
		t.Fatal("shared attachment was mutated")
	}

	logs := st.Messages()
	if len(logs) != 1 || logs[0].JobID != "j9" || logs[0].Kind != "image" {
		t.Fatalf("message log = %+v", logs)
	}
}

func TestEmailSenderInvalidAddress(t *testing.T) {
	s := NewEmailSender(&fakeMailer{}, nil, logx.Nop())
	out, err := s.Send(context.Background(), Delivery{Recipient: Recipient{Address: "not-an-email"}})
	if err != nil || out.Success {
		t.Fatalf("out=%+v err=%v", out, err)
	}
}
