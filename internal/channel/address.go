package channel

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"
)

// NormalizePhone strips everything but digits. A leading '-' survives so
// negative group chat ids keep working.
func NormalizePhone(addr string) string {
	addr = strings.TrimSpace(addr)
	var b strings.Builder
	b.Grow(len(addr))
	for i, r := range addr {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' && i == 0:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "-" {
		return ""
	}
	return out
}

// IsPhone reports whether addr carries at least one digit and no '@'.
func IsPhone(addr string) bool {
	return !strings.Contains(addr, "@") && strings.TrimLeft(NormalizePhone(addr), "-") != ""
}

// IsEmail reports whether addr parses as a bare RFC 5322 address.
func IsEmail(addr string) bool {
	a, err := mail.ParseAddress(strings.TrimSpace(addr))
	return err == nil && a.Name == "" && strings.Contains(a.Address, "@")
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9\-_ .]`)

// AttachmentName derives a file name from the email subject and the MIME
// type. An empty subject yields attachment_<unix millis>.
func AttachmentName(subject, mime string, now time.Time) string {
	base := unsafeFileChars.ReplaceAllString(strings.TrimSpace(subject), "")
	base = strings.Join(strings.Fields(base), "_")
	if base == "" {
		base = fmt.Sprintf("attachment_%d", now.UnixMilli())
	}
	ext := Extension(mime)
	if strings.HasSuffix(strings.ToLower(base), strings.ToLower(ext)) {
		return base
	}
	return base + ext
}

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Render fills {{ key }} placeholders from the recipient. "name" maps to
// Recipient.Name, everything else to Recipient.Data. Unknown keys are kept.
func Render(tmpl string, r Recipient) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := placeholder.FindStringSubmatch(m)[1]
		if key == "name" && r.Name != "" {
			return r.Name
		}
		if v, ok := r.Data[key]; ok {
			return v
		}
		return m
	})
}
