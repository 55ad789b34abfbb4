package channel

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Kind is the delivery form of a payload.
type Kind string

const (
	Text     Kind = "text"
	Image    Kind = "image"
	Video    Kind = "video"
	Audio    Kind = "audio"
	Document Kind = "document"
)

// Classify sniffs data (or trusts declared when set) and returns its kind
// together with the resolved MIME type. Anything unrecognized is a Document.
func Classify(data []byte, declared string) (Kind, string) {
	mime := strings.TrimSpace(declared)
	if mime == "" {
		if len(data) == 0 {
			return Document, "application/octet-stream"
		}
		mime = mimetype.Detect(data).String()
	}
	return kindOf(mime), mime
}

func kindOf(mime string) Kind {
	base, _, _ := strings.Cut(strings.ToLower(mime), ";")
	switch {
	case strings.HasPrefix(base, "image/"):
		return Image
	case strings.HasPrefix(base, "video/"):
		return Video
	case strings.HasPrefix(base, "audio/"):
		return Audio
	default:
		return Document
	}
}

// Extension returns the file extension (with dot) for mime, or ".bin".
func Extension(mime string) string {
	if mt := mimetype.Lookup(strings.TrimSpace(mime)); mt != nil && mt.Extension() != "" {
		return mt.Extension()
	}
	return ".bin"
}
