package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSignature is returned when a webhook signature or token does not verify.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrUnmappedProduct is wrapped by MappingError when no tier is configured for a product.
	ErrUnmappedProduct = errors.New("product is not mapped to a tier")
)

// ValidationError reports a malformed or incomplete webhook payload.
type ValidationError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s webhook invalid: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s webhook invalid: %s", e.Provider, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// MappingError reports a product or price reference that resolves to no tier.
type MappingError struct {
	Provider string
	Refs     []string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("%s: %v for provider %s", ErrUnmappedProduct, e.Refs, e.Provider)
}

func (e *MappingError) Unwrap() error { return ErrUnmappedProduct }

// TransientError means the event could not be committed now and the provider should retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient webhook failure: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsClientError reports whether err should be answered with a 4xx so the provider stops retrying.
func IsClientError(err error) bool {
	var ve *ValidationError
	var me *MappingError
	return errors.As(err, &ve) || errors.As(err, &me) || errors.Is(err, ErrInvalidSignature)
}

// IsTransient reports whether err is worth a provider retry.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
