// Package mail builds MIME messages and sends them through SES or SMTP.
package mail

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"outreach/internal/channel"
)

// Build renders m as an RFC 5322 message with an HTML body and an optional
// base64 attachment.
func Build(from string, m channel.Mail, now time.Time) ([]byte, error) {
	if len(m.To) == 0 {
		return nil, errors.New("mail has no recipients")
	}
	var buf bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&buf, "%s: %s\r\n", k, v) }

	header("From", from)
	header("To", strings.Join(m.To, ", "))
	header("Subject", mime.QEncoding.Encode("utf-8", m.Subject))
	header("Date", now.Format(time.RFC1123Z))
	header("MIME-Version", "1.0")

	if m.Attachment == nil {
		header("Content-Type", `text/html; charset="utf-8"`)
		header("Content-Transfer-Encoding", "base64")
		buf.WriteString("\r\n")
		writeBase64(&buf, []byte(m.HTML))
		return buf.Bytes(), nil
	}

	mw := multipart.NewWriter(&buf)
	header("Content-Type", "multipart/mixed; boundary="+mw.Boundary())
	buf.WriteString("\r\n")

	body, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {`text/html; charset="utf-8"`},
		"Content-Transfer-Encoding": {"base64"},
	})
	if err != nil {
		return nil, errors.Wrap(err, "create body part")
	}
	writeBase64(body, []byte(m.HTML))

	att := m.Attachment
	ctype := att.MIMEType
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {ctype},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": att.FileName})},
	})
	if err != nil {
		return nil, errors.Wrap(err, "create attachment part")
	}
	writeBase64(part, att.Data)

	if err := mw.Close(); err != nil {
		return nil, errors.Wrap(err, "close multipart")
	}
	return buf.Bytes(), nil
}

// writeBase64 writes data base64-encoded in 76 column lines.
func writeBase64(w io.Writer, data []byte) {
	enc := base64.StdEncoding.EncodeToString(data)
	for len(enc) > 76 {
		_, _ = w.Write([]byte(enc[:76] + "\r\n"))
		enc = enc[76:]
	}
	_, _ = w.Write([]byte(enc + "\r\n"))
}
