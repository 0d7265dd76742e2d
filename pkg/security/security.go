package security

import (
	"errors"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jdziat/logqueue/pkg/core"
)

// Security limits and configuration
const (
	// MaxUploadSize is the largest accepted log file in bytes (256MB)
	MaxUploadSize = 256 << 20

	// MaxFilenameLength is the maximum length for an uploaded file name
	MaxFilenameLength = 255

	// MaxAttempts is the hard limit for job execution attempts
	MaxAttempts = 100

	// MaxConcurrency is the hard limit for worker concurrency
	MaxConcurrency = 1000

	// MaxErrorMessageLength is the maximum length for stored error messages
	MaxErrorMessageLength = 4096

	// MaxQueueNameLength is the maximum length for queue names and key prefixes
	MaxQueueNameLength = 255
)

// ErrInvalidQueueName is returned for queue names unusable as key components.
var ErrInvalidQueueName = errors.New("logqueue: invalid queue name")

// validQueueName matches alphanumeric, hyphens, underscores, and dots
var validQueueName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\.]*$`)

// ValidateQueueName validates a queue name or key prefix
func ValidateQueueName(name string) error {
	if name == "" || len(name) > MaxQueueNameLength {
		return ErrInvalidQueueName
	}
	if !validQueueName.MatchString(name) {
		return ErrInvalidQueueName
	}
	return nil
}

// SanitizeFilename reduces an uploaded file name to a safe single path element.
func SanitizeFilename(name string) (string, error) {
	// Browsers on Windows may send the full client path.
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if r < 32 || r == 127 || r == '/' {
			continue
		}
		b.WriteRune(r)
	}
	name = b.String()

	if name == "" || name == "." || name == ".." {
		return "", core.ErrInvalidFilename
	}
	if utf8.RuneCountInString(name) > MaxFilenameLength {
		runes := []rune(name)
		name = string(runes[len(runes)-MaxFilenameLength:])
	}
	return name, nil
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// ClampAttempts ensures an attempt count is within [1, MaxAttempts]
func ClampAttempts(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxAttempts {
		return MaxAttempts
	}
	return n
}

// ClampConcurrency ensures concurrency is within limits
func ClampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}
