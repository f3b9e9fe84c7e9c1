// Package validation checks uploaded content before anything else touches
// it: filename safety, size bounds, declared MIME type against the actual
// byte signature, and embedded-script markers. Pure computation over the
// provided buffer; nothing here has side effects.
package validation

import (
	"bytes"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/secfiles/filevault/internal/common"
)

// Limits bound what the validator accepts. Zero values are replaced with
// defaults by NewValidator.
type Limits struct {
	// MaxSize is the upload ceiling in bytes.
	MaxSize int64
	// MinSize rejects implausibly small probe "files".
	MinSize int64
	// MaxNameLen bounds the sanitized filename length.
	MaxNameLen int
}

const (
	DefaultMaxSize    = 100 << 20 // 100 MiB
	DefaultMinSize    = 16
	DefaultMaxNameLen = 200
)

// Result is the outcome of a successful validation. Warnings are non-fatal
// findings surfaced to the caller; they do not block ingest.
type Result struct {
	SanitizedName string
	Warnings      []string
}

// signature is a magic-number prefix expected at a given offset.
type signature struct {
	offset int
	prefix []byte
}

// allowedTypes maps each accepted MIME type to its byte signatures. A type
// with no signatures (plain text, json) is accepted on content-free
// grounds; any other declared type whose signature does not match is a hard
// failure, not a warning.
var allowedTypes = map[string][]signature{
	"image/png":  {{0, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}}},
	"image/jpeg": {{0, []byte{0xFF, 0xD8, 0xFF}}},
	"image/gif":  {{0, []byte("GIF87a")}, {0, []byte("GIF89a")}},
	"application/pdf": {
		{0, []byte("%PDF-")},
	},
	// zip container covers the OOXML office formats below as well
	"application/zip": {{0, []byte{0x50, 0x4B, 0x03, 0x04}}},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {
		{0, []byte{0x50, 0x4B, 0x03, 0x04}},
	},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": {
		{0, []byte{0x50, 0x4B, 0x03, 0x04}},
	},
	"text/plain":       nil,
	"application/json": nil,
}

type Validator struct {
	limits Limits
}

func NewValidator(limits Limits) *Validator {
	if limits.MaxSize <= 0 {
		limits.MaxSize = DefaultMaxSize
	}
	if limits.MinSize <= 0 {
		limits.MinSize = DefaultMinSize
	}
	if limits.MaxNameLen <= 0 {
		limits.MaxNameLen = DefaultMaxNameLen
	}
	return &Validator{limits: limits}
}

// Validate checks the declared name, size and type against the actual
// bytes. All failures wrap common.ErrorValidation and are
// caller-correctable; they are never retried.
func (v *Validator) Validate(data []byte, declaredType, declaredName string, declaredSize int64) (*Result, error) {
	name, err := v.sanitizeName(declaredName)
	if err != nil {
		return nil, err
	}

	if declaredSize <= 0 {
		return nil, fmt.Errorf("%w: non-positive size %d", common.ErrorValidation, declaredSize)
	}
	if declaredSize > v.limits.MaxSize {
		return nil, fmt.Errorf("%w: size %d exceeds limit %d", common.ErrorValidation, declaredSize, v.limits.MaxSize)
	}
	if declaredSize < v.limits.MinSize {
		return nil, fmt.Errorf("%w: size %d below minimum %d", common.ErrorValidation, declaredSize, v.limits.MinSize)
	}
	if int64(len(data)) != declaredSize {
		return nil, fmt.Errorf("%w: declared size %d does not match content length %d",
			common.ErrorValidation, declaredSize, len(data))
	}

	sigs, ok := allowedTypes[declaredType]
	if !ok {
		return nil, fmt.Errorf("%w: content type %q not allowed", common.ErrorValidation, declaredType)
	}
	if len(sigs) > 0 && !matchesAny(data, sigs) {
		return nil, fmt.Errorf("%w: content signature does not match declared type %q",
			common.ErrorValidation, declaredType)
	}

	return &Result{
		SanitizedName: name,
		Warnings:      scanMarkers(data, declaredType),
	}, nil
}

func (v *Validator) sanitizeName(declaredName string) (string, error) {
	name := strings.TrimSpace(declaredName)
	// strip any client-supplied directory part before the safety checks
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("%w: empty filename", common.ErrorValidation)
	}
	// the bound is characters, not bytes
	if utf8.RuneCountInString(name) > v.limits.MaxNameLen {
		return "", fmt.Errorf("%w: filename exceeds %d characters", common.ErrorValidation, v.limits.MaxNameLen)
	}
	if strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: filename contains path traversal", common.ErrorValidation)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7F {
			return "", fmt.Errorf("%w: filename contains control characters", common.ErrorValidation)
		}
	}
	return name, nil
}

func matchesAny(data []byte, sigs []signature) bool {
	for _, s := range sigs {
		end := s.offset + len(s.prefix)
		if len(data) >= end && bytes.Equal(data[s.offset:end], s.prefix) {
			return true
		}
	}
	return false
}

// scanMarkers looks for embedded macro/script markers. Findings are
// warnings only: surfaced to the caller, recorded in the upload audit
// detail, but never a reason to reject the upload.
func scanMarkers(data []byte, declaredType string) []string {
	var warnings []string
	switch declaredType {
	case "application/pdf":
		if bytes.Contains(data, []byte("/JavaScript")) {
			warnings = append(warnings, "pdf contains embedded JavaScript")
		}
		if bytes.Contains(data, []byte("/OpenAction")) {
			warnings = append(warnings, "pdf contains OpenAction trigger")
		}
	case "application/zip",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		if bytes.Contains(data, []byte("vbaProject.bin")) {
			warnings = append(warnings, "document contains VBA macro project")
		}
	case "text/plain", "application/json":
		if bytes.Contains(bytes.ToLower(data), []byte("<script")) {
			warnings = append(warnings, "text content contains script tag")
		}
	}
	return warnings
}
