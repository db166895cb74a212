// Package prediction holds the screening domain shared by the upload client,
// the form session and the HTTP surface.
package prediction

import (
	"context"
	"fmt"
	"strings"
)

// MaxImageSize is the largest image accepted before upload (10 MiB).
const MaxImageSize = 10 * 1024 * 1024

// Category is the body part the backend should classify.
type Category string

const (
	CategoryTongue Category = "tongue"
	CategoryNail   Category = "nail"
	CategoryAnkle  Category = "ankle"
	CategoryFoot   Category = "foot"
)

// DefaultCategory is used when the caller did not pick one.
const DefaultCategory = CategoryTongue

// Categories lists every accepted category in display order.
func Categories() []Category {
	return []Category{CategoryTongue, CategoryNail, CategoryAnkle, CategoryFoot}
}

// Valid reports whether c is one of the enumerated categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryTongue, CategoryNail, CategoryAnkle, CategoryFoot:
		return true
	}
	return false
}

// ParseCategory maps user input onto a Category. Empty input yields DefaultCategory.
func ParseCategory(s string) (Category, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultCategory, nil
	}
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// Image is a file picked by the user.
type Image struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Size returns the payload length in bytes.
func (img *Image) Size() int64 {
	if img == nil {
		return 0
	}
	return int64(len(img.Data))
}

// Result is the backend's answer after confidence normalization.
// Confidence is 0 when the backend omitted it.
type Result struct {
	Condition   string  `json:"condition"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation,omitempty"`
}

// ConfidencePercent renders the confidence as a whole percentage.
func (r *Result) ConfidencePercent() int {
	if r == nil {
		return 0
	}
	return int(r.Confidence*100 + 0.5)
}

// Predictor submits one image for classification.
type Predictor interface {
	Submit(ctx context.Context, img *Image, category Category) (*Result, error)
}
