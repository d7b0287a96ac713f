package gateway

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/goliatone/go-offline-sync/internal/apperr"
	"github.com/goliatone/go-offline-sync/remote"
)

// MaxUploadBytes is the default upload ceiling, 5 MiB.
const MaxUploadBytes int64 = 5 * 1024 * 1024

// UploadPolicy is checked locally before any upload leaves the process.
type UploadPolicy struct {
	MaxBytes   int64
	Types      []string
	Extensions []string
}

// DefaultUploadPolicy accepts JPEG, PNG, GIF and WebP images up to 5 MiB.
func DefaultUploadPolicy() UploadPolicy {
	return UploadPolicy{
		MaxBytes:   MaxUploadBytes,
		Types:      []string{"image/jpeg", "image/png", "image/gif", "image/webp"},
		Extensions: []string{"jpg", "jpeg", "png", "gif", "webp"},
	}
}

// Check validates f against the policy. All checks run in a fixed order
// (size, declared type, extension, sniffed content) and the first violation
// is returned.
func (p UploadPolicy) Check(f remote.File) error {
	size := f.Size()
	if err := validation.Validate(size, validation.Max(p.MaxBytes)); err != nil {
		return apperr.Validation(apperr.CodeUploadTooLarge,
			fmt.Sprintf("file size of %d bytes exceeds maximum allowed size of %d bytes", size, p.MaxBytes),
			map[string]any{"size": size, "max": p.MaxBytes},
		)
	}

	declared := strings.ToLower(strings.TrimSpace(f.ContentType))
	if i := strings.IndexByte(declared, ';'); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	if err := validation.Validate(declared, validation.In(anySlice(p.Types)...)); err != nil {
		return apperr.Validation(apperr.CodeUploadType,
			fmt.Sprintf("file type %q is not allowed", declared),
			map[string]any{"type": declared, "allowed": p.Types},
		)
	}

	ext := f.Extension()
	if err := validation.Validate(ext, validation.Required, validation.In(anySlice(p.Extensions)...)); err != nil {
		return apperr.Validation(apperr.CodeUploadExtension,
			fmt.Sprintf("file extension %q is not allowed", ext),
			map[string]any{"extension": ext, "allowed": p.Extensions},
		)
	}

	detected := mimetype.Detect(f.Content)
	if !sniffed(detected, p.Types) {
		return apperr.Validation(apperr.CodeUploadType,
			fmt.Sprintf("file content %q is not allowed", detected.String()),
			map[string]any{"detected": detected.String(), "allowed": p.Types},
		)
	}
	return nil
}

func sniffed(m *mimetype.MIME, allowed []string) bool {
	for _, t := range allowed {
		if m.Is(t) {
			return true
		}
	}
	return false
}

func anySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
