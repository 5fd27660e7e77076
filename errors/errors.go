package errors

import (
	"errors"
	"fmt"
)

// Category classifies error types for targeted handling and monitoring.
type Category string

const (
	CategoryShape       Category = "shape"
	CategoryUnsupported Category = "unsupported"
	CategoryEndOfStream Category = "end_of_stream"
	CategorySource      Category = "source"
	CategoryMalformed   Category = "malformed"
	CategoryMemory      Category = "memory"
	CategoryEngine      Category = "engine"
	CategoryInput       Category = "input"
	CategoryConfig      Category = "config"
	CategoryStorage     Category = "storage"
)

// DecodeError is the structured error type used throughout the module.
type DecodeError struct {
	Category Category
	Op       string // operation name
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Category, e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// New creates a DecodeError.
func New(category Category, op string, err error) *DecodeError {
	return &DecodeError{Category: category, Op: op, Err: err}
}

// Wrap wraps an existing error with context.
func Wrap(category Category, op string, err error) error {
	if err == nil {
		return nil
	}
	return New(category, op, err)
}

// Fault builds a DecodeError whose chain matches both sentinel and cause.
func Fault(category Category, op string, sentinel, cause error) *DecodeError {
	switch {
	case cause == nil:
		return New(category, op, sentinel)
	case errors.Is(cause, sentinel):
		return New(category, op, cause)
	}
	return New(category, op, fmt.Errorf("%w: %w", sentinel, cause))
}

// IsCategory reports whether err belongs to the given category.
func IsCategory(err error, cat Category) bool {
	return CategoryOf(err) == cat
}

// CategoryOf returns the category of the outermost DecodeError in err's chain,
// or "" when there is none.
func CategoryOf(err error) Category {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Category
	}
	return ""
}

// Sentinel errors for common failure modes.
var (
	ErrInvalidShape      = errors.New("invalid raster shape")
	ErrUnsupportedFormat = errors.New("unsupported pixel format")
	ErrUnexpectedEOS     = errors.New("unexpected end of stream")
	ErrSourceFault       = errors.New("byte source fault")
	ErrMalformedStream   = errors.New("malformed stream")
	ErrOutOfMemory       = errors.New("out of memory")
	ErrImageTooLarge     = errors.New("image exceeds allocation limit")
	ErrEngineInit        = errors.New("decoder engine initialisation failed")
	ErrEmptyInput        = errors.New("empty input")
	ErrUnknownFormat     = errors.New("unknown image format")
	ErrNotFound          = errors.New("object not found")
)
