package notify

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"

	"github.com/toastd/toastd/internal/toast"
)

// Request is a parsed POST /notify body.
type Request struct {
	Title           string       `validate:"notblank"`
	Message         string       `validate:"notblank"`
	Image           *Image       `validate:"omitempty"`
	Attachments     []Attachment `validate:"dive"`
	CallbackCommand string
}

// Image is an uploaded picture. ContentType is what the client declared;
// it may be empty, in which case only the sniffed type counts.
type Image struct {
	Data        []byte `validate:"required"`
	ContentType string
	// Placement is "banner" or "logo". Empty means banner.
	Placement string `validate:"omitempty,oneof=banner logo"`
	Name      string
}

type Attachment struct {
	Name string `validate:"required"`
	Data []byte
}

var imageTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
}

// v is shared by every request. Custom tags are registered in init, before
// the first Validate call.
var v = validator.New()

func init() {
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
}

// Validate checks the request shape and sniffs the image bytes. The
// returned error is always a KindValidation *Error.
func (r *Request) Validate() error {
	if err := v.Struct(r); err != nil {
		ve, ok := err.(validator.ValidationErrors)
		if !ok {
			return newError(KindValidation, err)
		}
		var msgs []string
		for _, fe := range ve {
			msgs = append(msgs, fmt.Sprintf("field '%s' failed '%s'", fieldName(fe.Namespace()), fe.Tag()))
		}
		return newError(KindValidation, fmt.Errorf("%s", strings.Join(msgs, "; ")))
	}
	if r.Image != nil {
		if _, err := r.Image.mediaType(); err != nil {
			return newError(KindValidation, err)
		}
	}
	return nil
}

// fieldName turns "Request.Image.Placement" into "image.placement".
func fieldName(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	return strings.ToLower(ns)
}

// mediaType returns the sniffed media type. A declared type must agree with
// the bytes.
func (img *Image) mediaType() (string, error) {
	detected := mimetype.Detect(img.Data)
	for t := range imageTypes {
		if !detected.Is(t) {
			continue
		}
		declared := strings.TrimSpace(strings.ToLower(img.ContentType))
		if i := strings.IndexByte(declared, ';'); i >= 0 {
			declared = strings.TrimSpace(declared[:i])
		}
		if declared == "image/jpg" {
			declared = "image/jpeg"
		}
		if declared != "" && declared != "application/octet-stream" && declared != t {
			return "", fmt.Errorf("%w: declared %s, content is %s", ErrUnsupportedImage, declared, t)
		}
		return t, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedImage, detected.String())
}

func (img *Image) placement() toast.Placement {
	if img.Placement == string(toast.PlacementLogo) {
		return toast.PlacementLogo
	}
	return toast.PlacementBanner
}

// stagedName keeps the uploaded extension when it matches the content,
// otherwise uses the canonical one for the sniffed type.
func (img *Image) stagedName(mediaType string) string {
	ext := imageTypes[mediaType]
	name := img.Name
	if name == "" {
		return "image" + ext
	}
	if hasImageExt(name, mediaType) {
		return name
	}
	return name + ext
}

func hasImageExt(name, mediaType string) bool {
	lower := strings.ToLower(name)
	switch mediaType {
	case "image/jpeg":
		return strings.HasSuffix(lower, ".jpg") || strings.HasSuffix(lower, ".jpeg")
	default:
		return strings.HasSuffix(lower, imageTypes[mediaType])
	}
}
