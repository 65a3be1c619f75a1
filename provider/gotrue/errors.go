package gotrue

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-portal-auth"
)

// APIError captures a GoTrue error response.
type APIError struct {
	Operation   string
	Status      int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e == nil {
		return "gotrue error"
	}
	if e.Description != "" {
		return fmt.Sprintf("gotrue %s failed: %s", e.Operation, e.Description)
	}
	if e.Code != "" {
		return fmt.Sprintf("gotrue %s failed: %s", e.Operation, e.Code)
	}
	return fmt.Sprintf("gotrue %s failed with status %d", e.Operation, e.Status)
}

func (e *APIError) Metadata() map[string]any {
	meta := map[string]any{
		"provider":  "gotrue",
		"operation": e.Operation,
		"status":    e.Status,
	}
	if e.Code != "" {
		meta["code"] = e.Code
	}
	if e.Description != "" {
		meta["description"] = e.Description
	}
	return meta
}

// both the legacy OAuth style payload and the newer error_code payload
type errorResponse struct {
	Error     string `json:"error"`
	ErrorDesc string `json:"error_description"`
	ErrorCode string `json:"error_code"`
	Msg       string `json:"msg"`
	Message   string `json:"message"`
}

func parseError(operation string, status int, body []byte) *APIError {
	apiErr := &APIError{Operation: operation, Status: status}

	var payload errorResponse
	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.Code = firstNonEmpty(payload.ErrorCode, payload.Error)
		apiErr.Description = firstNonEmpty(payload.ErrorDesc, payload.Msg, payload.Message)
	}

	if apiErr.Code == "" && apiErr.Description == "" {
		apiErr.Description = strings.TrimSpace(string(body))
	}

	return apiErr
}

// translate maps well known GoTrue failures onto the auth sentinels, the
// rest are wrapped with their response details.
func translate(apiErr *APIError) error {
	description := strings.ToLower(apiErr.Description)

	switch {
	case apiErr.Status == http.StatusTooManyRequests || apiErr.Code == "over_request_rate_limit":
		return auth.ErrTooManyLoginAttempts
	case apiErr.Code == "email_not_confirmed" || strings.Contains(description, "email not confirmed"):
		return auth.ErrConfirmationPending
	case apiErr.Code == "user_already_exists" || apiErr.Code == "email_exists" ||
		strings.Contains(description, "already registered"):
		return auth.ErrIdentityExists
	case apiErr.Code == "invalid_grant" || apiErr.Code == "invalid_credentials":
		return auth.ErrInvalidCredentials
	}

	category := goerrors.CategoryOperation
	switch {
	case apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden:
		category = goerrors.CategoryAuth
	case apiErr.Status == http.StatusUnprocessableEntity:
		category = goerrors.CategoryValidation
	case apiErr.Status >= 400 && apiErr.Status < 500:
		category = goerrors.CategoryBadInput
	}

	return goerrors.Wrap(apiErr, category, apiErr.Error()).
		WithTextCode(auth.TextCodeProviderFailure).
		WithMetadata(apiErr.Metadata())
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
