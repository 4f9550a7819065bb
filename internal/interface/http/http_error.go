package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yanqian/ecoloop/internal/domain/pipeline"
	apperrors "github.com/yanqian/ecoloop/pkg/errors"
)

// HTTPError captures the metadata required to serialize an error response consistently.
type HTTPError struct {
	Status  int
	Code    string
	Message string
	// Raw is a bounded excerpt of the model reply, set for upstream and
	// parse failures.
	Raw string
	Err error
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// NewHTTPError is a helper to build an HTTPError instance.
func NewHTTPError(status int, code, message string, err error) *HTTPError {
	return &HTTPError{Status: status, Code: code, Message: message, Err: err}
}

var codeStatus = map[string]int{
	apperrors.CodeInvalidInput:       http.StatusBadRequest,
	apperrors.CodePayloadTooLarge:    http.StatusRequestEntityTooLarge,
	apperrors.CodeModelUnavailable:   http.StatusServiceUnavailable,
	apperrors.CodeUpstream:           http.StatusBadGateway,
	apperrors.CodeParse:              http.StatusBadGateway,
	apperrors.CodeConflict:           http.StatusConflict,
	apperrors.CodeInvalidCredentials: http.StatusUnauthorized,
	apperrors.CodeNotFound:           http.StatusNotFound,
}

// fromDomainError maps a service error onto its HTTP representation.
func fromDomainError(err error) *HTTPError {
	code := apperrors.CodeOf(err)
	status, ok := codeStatus[code]
	if !ok {
		status = http.StatusInternalServerError
		if code == "" {
			code = apperrors.CodeInternal
		}
	}
	httpErr := NewHTTPError(status, code, apperrors.MessageOf(err), err)
	if status == http.StatusBadGateway {
		var stageErr *pipeline.StageError
		if errors.As(err, &stageErr) {
			httpErr.Raw = stageErr.Excerpt
		}
	}
	return httpErr
}

func asHTTPError(err error) *HTTPError {
	if err == nil {
		return nil
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}
	return &HTTPError{
		Status:  http.StatusInternalServerError,
		Code:    apperrors.CodeInternal,
		Message: "something went wrong",
		Err:     err,
	}
}

func abortWithError(c *gin.Context, err *HTTPError) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}
