package moonphase

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	ErrorKindNetwork     ErrorKind = "network"
	ErrorKindUpstream    ErrorKind = "upstream"
	ErrorKindInvalidData ErrorKind = "invalid_data"
)

// ProviderError describes a failed illumination lookup
type ProviderError struct {
	Kind       ErrorKind
	Provider   string
	Timestamp  int64
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}

	base := fmt.Sprintf("provider %s error", e.Kind)
	if e.Provider != "" {
		base = fmt.Sprintf("%s from %s", base, e.Provider)
	}
	if e.Timestamp != 0 {
		base = fmt.Sprintf("%s at %d", base, e.Timestamp)
	}
	if e.StatusCode > 0 {
		base = fmt.Sprintf("%s (status %d)", base, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", base, e.Err)
	}
	return base
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsKind reports whether err carries a ProviderError of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Kind == kind
	}
	return false
}
