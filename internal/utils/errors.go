package utils

import "errors"

var (
	ErrIO                = errors.New("io error")
	ErrHTTP              = errors.New("http request error")
	ErrInvalidURL        = errors.New("invalid url")
	ErrContentLength     = errors.New("unable to determine content length")
	ErrRangeNotSupported = errors.New("range requests are not supported")
	ErrTaskAlreadyExists = errors.New("task already exists")
	ErrTaskNotFound      = errors.New("task not found")
	ErrLock              = errors.New("shared state corrupted")
	ErrWrite             = errors.New("file write error")
	ErrOther             = errors.New("download error")
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrIO, "io"},
	{ErrHTTP, "http"},
	{ErrInvalidURL, "invalid_url"},
	{ErrContentLength, "content_length"},
	{ErrRangeNotSupported, "range_not_supported"},
	{ErrTaskAlreadyExists, "task_already_exists"},
	{ErrTaskNotFound, "task_not_found"},
	{ErrLock, "lock"},
	{ErrWrite, "write"},
	{ErrOther, "other"},
}

// ErrorKind names the taxonomy entry err belongs to, "other" when it matches none.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "other"
}
