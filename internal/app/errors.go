package app

import (
	"fmt"
	"net/http"
)

// DomainError is a validation or lookup failure surfaced to the API caller
// with a specific reason. Replication failures never become DomainErrors;
// they are downgraded to sync warnings at the sync boundary.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// validationError rejects malformed or incomplete client input.
func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

// unprocessableError rejects well-formed input the domain does not allow,
// under a caller-chosen code.
func unprocessableError(code, message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, code, message, nil)
}

// notFoundError reports a missing resource under a resource-specific code.
func notFoundError(code, message string) *DomainError {
	return domainError(http.StatusNotFound, code, message, nil)
}

// conflictError reports a request that collides with current state.
func conflictError(code, message string) *DomainError {
	return domainError(http.StatusConflict, code, message, nil)
}
