package app

import "fmt"

// DomainError is an error the HTTP layer maps directly onto a response:
// Status and Code go on the wire, Details optionally carries structured
// context (validation specifics, for example). Errors that are not
// DomainErrors surface as a generic 500 via mapError.
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
