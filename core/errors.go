package core

import "fmt"

// ErrorKind tags a failure recorded by the catalog for display.
type ErrorKind string

const (
	LoadFailure   ErrorKind = "load"
	SaveFailure   ErrorKind = "save"
	DeleteFailure ErrorKind = "delete"
	ClearFailure  ErrorKind = "clear"
	DecodeFailure ErrorKind = "decode"
)

// Message is the user-facing text for the kind.
func (k ErrorKind) Message() string {
	switch k {
	case LoadFailure:
		return "Failed to load drawings"
	case SaveFailure:
		return "Failed to save drawing"
	case DeleteFailure:
		return "Failed to delete drawing"
	case ClearFailure:
		return "Failed to clear drawings"
	case DecodeFailure:
		return "Failed to decode image"
	}
	return "Unknown error"
}

// CatalogError is a failure tagged with the operation kind that produced it.
type CatalogError struct {
	Kind ErrorKind
	Err  error
}

func (e *CatalogError) Error() string {
	if e.Err == nil {
		return e.Kind.Message()
	}
	return fmt.Sprintf("%s: %v", e.Kind.Message(), e.Err)
}

func (e *CatalogError) Unwrap() error {
	return e.Err
}
