package predictclient

import (
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/example/health-screen/internal/prediction"
)

// Validate runs the pre-flight checks on img and returns its media type.
func Validate(img *prediction.Image) (string, error) {
	if img == nil || len(img.Data) == 0 {
		return "", ErrNoFileSelected
	}
	mediaType := MediaType(img)
	if !strings.HasPrefix(mediaType, "image/") {
		return "", ErrInvalidFileType
	}
	if img.Size() > prediction.MaxImageSize {
		return "", ErrFileTooLarge
	}
	return mediaType, nil
}

// MediaType trusts the declared content type and sniffs the bytes only when
// nothing useful was declared.
func MediaType(img *prediction.Image) string {
	if declared := parseMediaType(img.ContentType); declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return parseMediaType(mimetype.Detect(img.Data).String())
}

func parseMediaType(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(value)
	if err != nil {
		return ""
	}
	return mt
}
