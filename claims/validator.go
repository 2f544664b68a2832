package claims

import (
	"fmt"
	"io"
	"reflect"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
)

const MaxFileSizeBytes int64 = 5 * 1024 * 1024

var allowedContentTypes = map[string]string{
	"application/pdf": ".pdf",
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
}

// FileHeader is what the client declared about a file.
type FileHeader struct {
	Filename    string
	ContentType string
	Size        int64
}

// ValidateFile applies the type and size policy to the declared metadata.
func ValidateFile(h FileHeader) error {
	ct := normalizeContentType(h.ContentType)
	if _, ok := allowedContentTypes[ct]; !ok {
		return fmt.Errorf("%w: %q is not one of pdf, jpeg, png", ErrInvalidFileType, h.ContentType)
	}
	if h.Size > MaxFileSizeBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, h.Size, MaxFileSizeBytes)
	}
	return nil
}

// FileValidator runs ValidateFile and, when SniffContent is set, checks the
// leading bytes against the declared type.
type FileValidator struct {
	SniffContent bool
}

func (v FileValidator) Validate(f *File) error {
	if err := ValidateFile(f.Header()); err != nil {
		return err
	}
	if !v.SniffContent {
		return nil
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Filename, err)
	}
	defer rc.Close()

	detected, err := mimetype.DetectReader(io.LimitReader(rc, 3072))
	if err != nil {
		return fmt.Errorf("%w: unreadable content", ErrInvalidFileType)
	}
	if !detected.Is(normalizeContentType(f.ContentType)) {
		return fmt.Errorf("%w: declared %q but content is %q", ErrInvalidFileType, f.ContentType, detected.String())
	}
	return nil
}

func normalizeContentType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct == "image/jpg" || ct == "image/pjpeg" {
		return "image/jpeg"
	}
	return ct
}

// Letters (accented included) and spaces.
var personNamePattern = regexp.MustCompile(`^[\p{L} ]+$`)

func newFieldValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("personname", func(fl validator.FieldLevel) bool {
		return personNamePattern.MatchString(fl.Field().String())
	})
	return v
}

var fieldMessages = map[string]string{
	"required":   "is required",
	"min":        "is too short",
	"max":        "is too long",
	"email":      "must be a valid email",
	"number":     "must contain digits only",
	"personname": "must contain letters and spaces only",
}

func validateFields(v *validator.Validate, s *Submission) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return &ValidationError{Fields: map[string]string{"submission": err.Error()}}
	}
	out := &ValidationError{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		msg, ok := fieldMessages[fe.Tag()]
		if !ok {
			msg = "failed " + fe.Tag()
		}
		if fe.Field() == "nationalId" && (fe.Tag() == "min" || fe.Tag() == "max") {
			msg = "must have 7 or 8 digits"
		}
		if _, seen := out.Fields[fe.Field()]; !seen {
			out.Fields[fe.Field()] = msg
		}
	}
	return out
}
