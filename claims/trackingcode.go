package claims

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/lexdesk/claims_backend/models"
)

const trackingCodeBytes = 3

// NewTrackingCode returns 3 random bytes as 6 upper-case hex characters.
func NewTrackingCode() (string, error) {
	b := make([]byte, trackingCodeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}

// NormalizeTrackingCode trims and upper-cases user input.
func NormalizeTrackingCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// StorageName is {nationalId}-{role}-{captureMillis}{ext}. The extension comes
// from the original filename, or from the content type when the name has none.
func StorageName(nationalID string, role models.FileRole, captureMillis int64, filename, contentType string) string {
	return fmt.Sprintf("%s-%s-%d%s", nationalID, role, captureMillis, fileExtension(filename, contentType))
}

func fileExtension(filename, contentType string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if ext != "" && len(ext) <= 8 && !strings.ContainsAny(ext, `/\ `) {
		return ext
	}
	return allowedContentTypes[normalizeContentType(contentType)]
}
