package intent

import (
	"errors"
	"fmt"

	"github.com/trackbot/backend/internal/llm"
)

type ErrorKind string

const (
	KindInvalidCredentials ErrorKind = "invalid_credentials"
	KindBusy               ErrorKind = "busy"
	KindUnavailable        ErrorKind = "unavailable"
	KindParse              ErrorKind = "parse"
	KindOther              ErrorKind = "other"
)

// ClassifierError is returned by Resolve when the classifier stage fails.
// Reply gives the text to send back to the user.
type ClassifierError struct {
	Kind ErrorKind
	Err  error
}

func (e *ClassifierError) Error() string {
	return fmt.Sprintf("classifier %s: %v", e.Kind, e.Err)
}

func (e *ClassifierError) Unwrap() error {
	return e.Err
}

func (e *ClassifierError) Reply() string {
	switch e.Kind {
	case KindInvalidCredentials:
		return "I can't reach the language service because its credentials were rejected. Please ask an administrator to check the API key."
	case KindBusy:
		return "The language service is busy right now. Please try again in a few seconds."
	case KindUnavailable:
		return "The language service is temporarily unavailable. Please try again later."
	case KindParse:
		return "Sorry, I didn't quite understand that. Could you rephrase it, for example \"list open defects for crm-project\"?"
	default:
		return "Something went wrong while processing your message. Please try again."
	}
}

func classifierError(err error) *ClassifierError {
	kind := KindOther
	switch {
	case errors.Is(err, llm.ErrInvalidCredentials):
		kind = KindInvalidCredentials
	case errors.Is(err, llm.ErrRateLimited):
		kind = KindBusy
	case errors.Is(err, llm.ErrUnavailable):
		kind = KindUnavailable
	}
	return &ClassifierError{Kind: kind, Err: err}
}
