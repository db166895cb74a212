package predictclient

import "fmt"

// ValidationError rejects a submission before it reaches the network.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Pre-flight rejections. Compare with errors.Is.
var (
	ErrNoFileSelected  = &ValidationError{Reason: "no file selected"}
	ErrInvalidFileType = &ValidationError{Reason: "invalid file type"}
	ErrFileTooLarge    = &ValidationError{Reason: "file too large"}
	ErrInvalidCategory = &ValidationError{Reason: "invalid category"}
)

// ConnectionError means the backend could not be reached at all.
type ConnectionError struct {
	BaseURL string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cannot connect to the server: make sure the prediction backend is running at %s", e.BaseURL)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ServerError means the backend answered with a non-2xx status.
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server returned %d", e.StatusCode)
}
