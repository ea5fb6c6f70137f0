package pipeline

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrUnknownCategory     = errors.New("unknown category")
	ErrUnknownSource       = errors.New("unknown source")
	ErrUnsupportedCategory = errors.New("category not supported by source")
	ErrDuplicate           = errors.New("duplicate content")
)

// NetworkError reports a transport failure such as a refused connection or
// DNS failure.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error fetching %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// TimeoutError reports a request that exceeded its deadline.
type TimeoutError struct {
	URL string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout fetching %s: %v", e.URL, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// HTTPError reports a response with a non-2xx status.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d fetching %s", e.StatusCode, e.URL)
}

// BodyTooLargeError reports a response body that exceeded the fetch limit.
type BodyTooLargeError struct {
	URL   string
	Limit int
}

func (e *BodyTooLargeError) Error() string {
	return fmt.Sprintf("body of %s exceeds %d bytes", e.URL, e.Limit)
}

// Filesystem operations reported by FilesystemError.
const (
	OpRead   = "read"
	OpWrite  = "write"
	OpMkdir  = "mkdir"
	OpRename = "rename"
	OpDelete = "delete"
)

// FilesystemError reports a failed local file operation.
type FilesystemError struct {
	Path string
	Op   string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("filesystem %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// ParseError reports unusable HTML, JSON or manifest content.
type ParseError struct {
	Source  string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	msg := e.Message
	if e.Source != "" {
		msg = e.Source + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("parse error: %s: %v", msg, e.Err)
	}
	return "parse error: " + msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// ImageError reports a failure to decode, resize or encode an image.
type ImageError struct {
	Message string
	Err     error
}

func (e *ImageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("image error: %s: %v", e.Message, e.Err)
	}
	return "image error: " + e.Message
}

func (e *ImageError) Unwrap() error { return e.Err }

// UploadError reports a file that could not be stored remotely.
type UploadError struct {
	Key      string
	Attempts int
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s failed after %d attempt(s): %v", e.Key, e.Attempts, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Kind returns a short label for the error's category, used in log fields
// and metric labels.
func Kind(err error) string {
	var (
		netErr    *NetworkError
		timeout   *TimeoutError
		httpErr   *HTTPError
		tooLarge  *BodyTooLargeError
		fsErr     *FilesystemError
		parseErr  *ParseError
		imageErr  *ImageError
		uploadErr *UploadError
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &netErr):
		return "network"
	case errors.As(err, &httpErr):
		return "http"
	case errors.As(err, &tooLarge):
		return "too_large"
	case errors.As(err, &fsErr):
		return "filesystem"
	case errors.As(err, &parseErr):
		return "parse"
	case errors.As(err, &imageErr):
		return "image"
	case errors.As(err, &uploadErr):
		return "upload"
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	default:
		return "unknown"
	}
}
