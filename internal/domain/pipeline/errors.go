package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingCredential is returned when no API key is configured.
	ErrMissingCredential = errors.New("generative api credential not configured")
	// ErrNetwork marks transport failures (DNS, timeout, reset).
	ErrNetwork = errors.New("generative api unreachable")
	// ErrUpstream marks non-2xx replies and exhausted retries.
	ErrUpstream = errors.New("generative api returned an error")
	// ErrParse marks replies that did not contain the expected JSON.
	ErrParse = errors.New("generative api reply is not valid json")
)

// Stage names the pipeline step that failed.
type Stage string

const (
	StageValidate  Stage = "validate"
	StageModel     Stage = "model"
	StageNormalize Stage = "normalize"
)

// StageError preserves failure provenance across the pipeline.
type StageError struct {
	Stage      Stage
	Retries    int
	HTTPStatus int
	Excerpt    string
	Err        error
}

func (e *StageError) Error() string {
	msg := fmt.Sprintf("%s stage failed", e.Stage)
	if e.HTTPStatus > 0 {
		msg += fmt.Sprintf(" (status %d, retries %d)", e.HTTPStatus, e.Retries)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// RateLimited reports whether the upstream gave up with 429.
func (e *StageError) RateLimited() bool {
	return e != nil && e.HTTPStatus == 429
}

const excerptLimit = 2000

// Excerpt bounds raw model text for debugging output.
func Excerpt(raw string) string {
	r := []rune(raw)
	if len(r) <= excerptLimit {
		return raw
	}
	return string(r[:excerptLimit])
}
