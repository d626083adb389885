package validation

import (
	"strings"

	apperrors "go-analysis-console/internal/errors"

	"github.com/gabriel-vasile/mimetype"
)

const imageTypePrefix = "image/"

// ValidateImageType accepts a file only when its declared content type
// starts with image/. The bytes are never looked at here.
func ValidateImageType(declared string) error {
	ct := strings.ToLower(strings.TrimSpace(declared))
	if !strings.HasPrefix(ct, imageTypePrefix) {
		return apperrors.NewValidationError("Please upload image files only", nil).
			WithDetails("declared content type: " + declared)
	}
	return nil
}

// SniffContentType guesses a content type from the leading bytes. It is
// used by sources that carry no reliable declared type of their own.
func SniffContentType(data []byte) string {
	mtype := mimetype.Detect(data)
	ct := mtype.String()
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}

// DeclaredOrSniffed keeps a meaningful declared type and falls back to
// sniffing for empty or generic binary types.
func DeclaredOrSniffed(declared string, data []byte) string {
	ct := strings.TrimSpace(declared)
	if ct == "" || strings.EqualFold(ct, "application/octet-stream") {
		return SniffContentType(data)
	}
	return ct
}
