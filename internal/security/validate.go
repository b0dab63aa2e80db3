// Package security holds input validation, sanitising, and the login
// rate limiter.
package security

import (
	"bytes"
	"html"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gosimple/slug"

	"github.com/markdave123-py/sopassistant/internal/common"
)

const (
	MinPasswordLength = 12
	MaxQueryLength    = 1000
	maxFilenameBytes  = 255
	passwordSpecials  = `!@#$%^&*(),.?":{}|<>`
)

var (
	usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	emailRe    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

	reservedUsernames = map[string]bool{"admin": true, "root": true, "system": true, "null": true, "undefined": true}
	commonPasswords   = []string{"password123", "admin123", "password123!", "welcome123!"}

	dangerousExts = []string{".exe.", ".bat.", ".cmd.", ".com.", ".scr.", ".vbs.", ".js."}

	injectionRe = regexp.MustCompile(`(?i)(\$where|[{}]|function\s*\(|<script|javascript:|\beval\b|\bexec\b)`)
)

// AllowedUploadExts are the extensions accepted by the upload endpoint.
var AllowedUploadExts = map[string]bool{".pdf": true, ".docx": true, ".doc": true, ".csv": true, ".md": true, ".txt": true}

// ValidatePassword enforces the password policy.
func ValidatePassword(pw string) error {
	if utf8.RuneCountInString(pw) < MinPasswordLength {
		return common.Invalid("password", "must be at least 12 characters long")
	}
	var upper, lower, digit, special bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
		if strings.ContainsRune(passwordSpecials, r) {
			special = true
		}
	}
	switch {
	case !upper:
		return common.Invalid("password", "must contain an uppercase letter")
	case !lower:
		return common.Invalid("password", "must contain a lowercase letter")
	case !digit:
		return common.Invalid("password", "must contain a number")
	case !special:
		return common.Invalid("password", "must contain a special character")
	}
	for _, c := range commonPasswords {
		if strings.EqualFold(pw, c) {
			return common.Invalid("password", "is too common")
		}
	}
	return nil
}

// ValidateUsername allows 3-20 letters, digits, '_' and '-', minus a few
// reserved names.
func ValidateUsername(name string) error {
	if len(name) < 3 || len(name) > 20 {
		return common.Invalid("username", "must be 3-20 characters")
	}
	if !usernameRe.MatchString(name) {
		return common.Invalid("username", "may only contain letters, numbers, '_' and '-'")
	}
	if reservedUsernames[strings.ToLower(name)] {
		return common.Invalid("username", "is reserved")
	}
	return nil
}

func ValidateEmail(email string) error {
	if !emailRe.MatchString(email) {
		return common.Invalid("email", "invalid email address")
	}
	return nil
}

// SanitizeInput drops control characters other than newline and tab,
// truncates to max runes, and escapes HTML.
func SanitizeInput(s string, max int) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	if max > 0 && utf8.RuneCountInString(s) > max {
		s = string([]rune(s)[:max])
	}
	return html.EscapeString(strings.TrimSpace(s))
}

// SanitizeFilename reduces name to a safe base name with a slugged stem.
func SanitizeFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	ext := strings.ToLower(filepath.Ext(base))
	stem := slug.Make(strings.TrimSuffix(base, filepath.Ext(base)))
	if stem == "" {
		stem = "file"
	}
	if len(stem)+len(ext) > maxFilenameBytes {
		stem = stem[:maxFilenameBytes-len(ext)]
	}
	return stem + ext
}

// ValidateUpload checks size, extension, double extensions, and the magic
// bytes of PDF and DOCX files.
func ValidateUpload(name string, size, maxSize int64, head []byte) error {
	if size <= 0 {
		return common.Invalid("file", "file is empty")
	}
	if maxSize > 0 && size > maxSize {
		return common.ErrFileTooLarge
	}
	lower := strings.ToLower(name)
	ext := filepath.Ext(lower)
	if !AllowedUploadExts[ext] {
		return common.ErrUnsupportedFile
	}
	for _, d := range dangerousExts {
		if strings.Contains(lower, d) {
			return common.Invalid("file", "suspicious file name")
		}
	}
	switch ext {
	case ".pdf":
		if !bytes.HasPrefix(head, []byte("%PDF")) {
			return common.Invalid("file", "not a valid PDF")
		}
	case ".docx":
		if !bytes.HasPrefix(head, []byte("PK")) {
			return common.Invalid("file", "not a valid DOCX")
		}
	}
	return nil
}

// ValidateQuery bounds the question length and rejects injection-looking
// input.
func ValidateQuery(q string) error {
	q = strings.TrimSpace(q)
	if q == "" {
		return common.Invalid("question", "question is empty")
	}
	if utf8.RuneCountInString(q) > MaxQueryLength {
		return common.Invalid("question", "question is too long (max 1000 characters)")
	}
	if injectionRe.MatchString(q) {
		return common.Invalid("question", "question contains disallowed content")
	}
	return nil
}
