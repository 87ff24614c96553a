// Package validation enforces the payload limits of the chat and
// conversation endpoints.
package validation

import (
	"unicode/utf8"

	"github.com/tjfontaine/socratic-gateway/internal/domain"
)

// Limits.
const (
	MaxBodySize        = 5 << 20
	MaxMessages        = 100
	MaxTextLength      = 10000
	MaxFilesPerMessage = 4
	MaxFileDataSize    = 5 << 20
)

// Violation is a client-safe validation failure. Its text is returned to
// the caller verbatim.
type Violation string

func (v Violation) Error() string { return string(v) }

// Violations.
const (
	ErrBodyTooLarge     Violation = domain.MsgBodyTooLarge
	ErrInvalidJSON      Violation = domain.MsgInvalidJSON
	ErrMessagesRequired Violation = domain.MsgMessagesRequired
	ErrTooManyMessages  Violation = "Too many messages (max 100)"
	ErrTextTooLong      Violation = "Text too long (max 10000 chars)"
	ErrFileType         Violation = "File type not allowed"
	ErrFileTooLarge     Violation = "File data too large"
	ErrTooManyFiles     Violation = "Too many files per message (max 4)"
)

var allowedImageTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/gif":  {},
	"image/webp": {},
}

// AllowedMediaType reports whether a file part of this type is accepted.
func AllowedMediaType(mediaType string) bool {
	_, ok := allowedImageTypes[mediaType]
	return ok
}

// CheckContentLength rejects a declared body size over the cap. A negative
// length means the size is unknown and is left to the body reader.
func CheckContentLength(n int64) error {
	if n > MaxBodySize {
		return ErrBodyTooLarge
	}
	return nil
}

// ValidateMessages checks the message count, then each message's parts in
// order, stopping at the first violation.
func ValidateMessages(messages []domain.Message) error {
	if len(messages) > MaxMessages {
		return ErrTooManyMessages
	}
	for _, m := range messages {
		if err := ValidateParts(m.Parts); err != nil {
			return err
		}
	}
	return nil
}

// ValidateParts checks the parts of a single message. Part kinds other than
// text and file are ignored.
func ValidateParts(parts []domain.Part) error {
	files := 0
	for _, p := range parts {
		switch p.Kind {
		case domain.PartText:
			if utf8.RuneCountInString(p.Text.Text) > MaxTextLength {
				return ErrTextTooLong
			}
		case domain.PartFile:
			files++
			if !AllowedMediaType(p.File.MediaType) {
				return ErrFileType
			}
			if len(p.File.InlinePayload()) > MaxFileDataSize {
				return ErrFileTooLarge
			}
		case domain.PartToolInvocation, domain.PartUnknown:
		}
	}
	if files > MaxFilesPerMessage {
		return ErrTooManyFiles
	}
	return nil
}
