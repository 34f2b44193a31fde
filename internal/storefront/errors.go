package storefront

import (
	"github.com/go-faster/errors"
)

// Failure kinds. Use errors.Is against a *Failure to select one.
var (
	ErrNetworkFailure = errors.New("network failure")
	ErrCacheMiss      = errors.New("cache miss")
	ErrParseFailure   = errors.New("parse failure")
)

const (
	msgFetchFailed  = "Failed to fetch products"
	msgNoCachedData = "No cached data available"
	msgUnknown      = "An unknown error occurred"
)

// Failure is a resolution error. Its Error text is what presentation shows.
type Failure struct {
	Kind    error
	Message string
	Cause   error
}

func (f *Failure) Error() string {
	if f.Message != "" {
		return f.Message
	}
	if f.Cause != nil && f.Cause.Error() != "" {
		return f.Cause.Error()
	}
	return msgUnknown
}

func (f *Failure) Unwrap() error { return f.Cause }

func (f *Failure) Is(target error) bool { return target == f.Kind }

func networkFailure(msg string, cause error) *Failure {
	return &Failure{Kind: ErrNetworkFailure, Message: msg, Cause: cause}
}

func parseFailure(cause error) *Failure {
	return &Failure{Kind: ErrParseFailure, Cause: cause}
}

func cacheMiss() *Failure {
	return &Failure{Kind: ErrCacheMiss, Message: msgNoCachedData}
}

// errorMessage maps any error to the text stored in State.Error.
func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Error()
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return msgUnknown
}
