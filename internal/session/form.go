// Package session tracks the upload form of one user: the selected image
// and category, and the idle/submitting/succeeded lifecycle around a
// prediction.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/example/health-screen/internal/prediction"
	"github.com/example/health-screen/internal/predictclient"
)

// ErrSubmissionInFlight is returned while a previous submission is outstanding.
var ErrSubmissionInFlight = errors.New("a submission is already in progress")

// State is the observable phase of a form.
type State int

const (
	StateIdle State = iota
	StateSubmitting
	StateSucceeded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitting:
		return "submitting"
	case StateSucceeded:
		return "succeeded"
	}
	return "unknown"
}

// Snapshot is a point-in-time copy of a form.
type Snapshot struct {
	State     State
	Category  prediction.Category
	HasImage  bool
	Result    *prediction.Result
	LastError error
}

// Form holds one user's selection. A failed submission returns the form to
// idle and keeps the error in LastError; a successful one parks it in
// StateSucceeded until Reset.
type Form struct {
	predictor prediction.Predictor

	mu       sync.Mutex
	state    State
	category prediction.Category
	image    *prediction.Image
	result   *prediction.Result
	lastErr  error
}

// NewForm returns an idle form with the default category selected.
func NewForm(predictor prediction.Predictor) *Form {
	return &Form{predictor: predictor, category: prediction.DefaultCategory}
}

// SetCategory changes the selected category.
func (f *Form) SetCategory(c prediction.Category) error {
	if c == "" {
		c = prediction.DefaultCategory
	}
	if !c.Valid() {
		return predictclient.ErrInvalidCategory
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateSubmitting {
		return ErrSubmissionInFlight
	}
	f.category = c
	return nil
}

// SelectImage validates img and makes it the current selection. A rejected
// image leaves the previous selection in place.
func (f *Form) SelectImage(img *prediction.Image) error {
	_, err := predictclient.Validate(img)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateSubmitting {
		return ErrSubmissionInFlight
	}
	if err != nil {
		f.lastErr = err
		return err
	}
	f.image = img
	f.lastErr = nil
	return nil
}

// ClearImage drops the current selection.
func (f *Form) ClearImage() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateSubmitting {
		return
	}
	f.image = nil
	f.lastErr = nil
}

// Submit sends the selected image. Only one submission runs at a time.
func (f *Form) Submit(ctx context.Context) (*prediction.Result, error) {
	f.mu.Lock()
	if f.state == StateSubmitting {
		f.mu.Unlock()
		return nil, ErrSubmissionInFlight
	}
	if f.image == nil {
		f.lastErr = predictclient.ErrNoFileSelected
		f.mu.Unlock()
		return nil, predictclient.ErrNoFileSelected
	}
	img, category := f.begin()
	f.mu.Unlock()

	return f.finish(f.predictor.Submit(ctx, img, category))
}

// SubmitImage selects category and img and submits them in one step, so a
// concurrent caller cannot swap the selection between the two.
func (f *Form) SubmitImage(ctx context.Context, category prediction.Category, img *prediction.Image) (*prediction.Result, error) {
	if category == "" {
		category = prediction.DefaultCategory
	}
	_, err := predictclient.Validate(img)
	if err == nil && !category.Valid() {
		err = predictclient.ErrInvalidCategory
	}

	f.mu.Lock()
	if f.state == StateSubmitting {
		f.mu.Unlock()
		return nil, ErrSubmissionInFlight
	}
	if err != nil {
		f.lastErr = err
		f.mu.Unlock()
		return nil, err
	}
	f.category = category
	f.image = img
	img, category = f.begin()
	f.mu.Unlock()

	return f.finish(f.predictor.Submit(ctx, img, category))
}

// begin must be called with f.mu held.
func (f *Form) begin() (*prediction.Image, prediction.Category) {
	f.state = StateSubmitting
	f.result = nil
	f.lastErr = nil
	return f.image, f.category
}

func (f *Form) finish(result *prediction.Result, err error) (*prediction.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.state = StateIdle
		f.lastErr = err
		return nil, err
	}
	f.state = StateSucceeded
	f.result = result
	return result, nil
}

// Reset leaves the result view: the result and image are discarded and the
// form returns to idle. The category is kept.
func (f *Form) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateSubmitting {
		return ErrSubmissionInFlight
	}
	f.state = StateIdle
	f.image = nil
	f.result = nil
	f.lastErr = nil
	return nil
}

// InFlight reports whether a submission is outstanding.
func (f *Form) InFlight() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == StateSubmitting
}

// Snapshot copies the observable state.
func (f *Form) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Snapshot{
		State:     f.state,
		Category:  f.category,
		HasImage:  f.image != nil,
		Result:    f.result,
		LastError: f.lastErr,
	}
}
