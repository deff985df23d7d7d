package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nordpm/dashboard-api/internal/domain"
	"github.com/nordpm/dashboard-api/internal/service"
)

func decodeAPIError(t *testing.T, rec *httptest.ResponseRecorder) domain.APIError {
	t.Helper()
	var body domain.APIError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestRespondServiceErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"not found", service.ErrNotFound, http.StatusNotFound, domain.ErrorTypeNotFound},
		{"wrapped not found", fmt.Errorf("%w: session abc", service.ErrNotFound), http.StatusNotFound, domain.ErrorTypeNotFound},
		{"expired session", service.ErrSessionExpired, http.StatusGone, domain.ErrorTypeNotFound},
		{"save in flight", service.ErrSaveInFlight, http.StatusConflict, domain.ErrorTypeConflict},
		{"nothing to save", service.ErrNothingToSave, http.StatusBadRequest, domain.ErrorTypeBadRequest},
		{"over budget", service.ErrOverBudget, http.StatusUnprocessableEntity, domain.ErrorTypeValidation},
		{"evidence required", service.ErrEvidenceRequired, http.StatusConflict, domain.ErrorTypeConflict},
		{"invalid transition", service.ErrInvalidTransition, http.StatusConflict, domain.ErrorTypeConflict},
		{"upstream failure", service.ErrUpstream, http.StatusBadGateway, domain.ErrorTypeUpstream},
		{"unknown error", errors.New("boom"), http.StatusInternalServerError, domain.ErrorTypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			respondServiceError(rec, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decodeAPIError(t, rec)
			assert.Equal(t, tt.wantType, body.Type)
			assert.Equal(t, tt.wantStatus, body.Status)
		})
	}
}

func TestRespondServiceErrorPassesThroughAPIError(t *testing.T) {
	rec := httptest.NewRecorder()
	respondServiceError(rec, &domain.APIError{
		Type:   domain.ErrorTypeValidation,
		Title:  "Validation Error",
		Status: http.StatusBadRequest,
		Detail: "Invoice submission failed validation",
		Errors: map[string]string{"amount": "Invoice amount is required"},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeAPIError(t, rec)
	assert.Equal(t, domain.ErrorTypeValidation, body.Type)
	assert.Equal(t, "Invoice amount is required", body.Errors["amount"])
}
