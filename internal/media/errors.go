package media

import (
	"errors"
	"strings"
	"unicode"
)

var (
	ErrCaptureUnavailable = errors.New("capture unavailable")
	ErrEmptyBuffer        = errors.New("no frames captured")
	ErrEncodeUnsupported  = errors.New("native encoder unsupported")
	ErrEncodeTooSmall     = errors.New("encoded artifact below size threshold")
	ErrEncodeNoData       = errors.New("encoder produced no data")
	ErrTimeout            = errors.New("encode timed out")
	ErrEncodeFailed       = errors.New("all encode strategies failed")

	ErrAlreadyRecording = errors.New("recording already in progress")
	ErrNotRecording     = errors.New("no recording in progress")
	ErrBusy             = errors.New("session is encoding")
	ErrInvalidOptions   = errors.New("invalid recording options")
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrEmptyBuffer, "EmptyBuffer"},
	{ErrEncodeFailed, "EncodeFailed"},
	{ErrCaptureUnavailable, "CaptureUnavailable"},
	{ErrEncodeUnsupported, "EncodeUnsupported"},
	{ErrEncodeTooSmall, "EncodeTooSmall"},
	{ErrEncodeNoData, "EncodeNoData"},
	{ErrTimeout, "Timeout"},
	{ErrAlreadyRecording, "AlreadyRecording"},
	{ErrNotRecording, "NotRecording"},
	{ErrBusy, "Busy"},
	{ErrInvalidOptions, "InvalidOptions"},
}

// KindOf maps an error to the name of its kind, or "" when it is not one of ours.
// ErrEncodeFailed wins over the strategy errors it wraps.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return ""
}

// CleanFileName sanitizes a subject for use in artifact names.
// Allows: letters, numbers, spaces, hyphens, underscores
func CleanFileName(name string) string {
	var result strings.Builder
	for _, r := range name {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_') {
			result.WriteRune(r)
		}
	}
	cleaned := strings.ReplaceAll(strings.TrimSpace(result.String()), " ", "_")
	if cleaned == "" {
		return "recording"
	}
	return cleaned
}
