package app

import (
	"fmt"
	"net/http"
)

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

func badRequest(message string) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, nil)
}

func forbidden(message string) *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", message, nil)
}

var (
	errNotAuthenticated = domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Not authenticated", nil)
	errSuperAdminOnly   = forbidden("Super admin access required")
	errNoOrgAccess      = forbidden("No access to this organization")
	errOrgAdminOnly     = forbidden("Organization admin access required")
	errAdminOnly        = forbidden("Forbidden")

	errMicrosoftUnavailable = domainError(http.StatusServiceUnavailable, "MICROSOFT_UNAVAILABLE", "Microsoft sign-in is not configured", nil)
	errVaultUnavailable     = domainError(http.StatusServiceUnavailable, "VAULT_UNAVAILABLE", "Password vault is not configured", nil)
)
