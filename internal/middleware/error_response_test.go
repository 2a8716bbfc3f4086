package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/guymaich-jpg/factory-control-sub000/internal/model"
)

func TestWriteErrorResponse_WritesUnifiedFormat(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorResponse(w, http.StatusBadRequest, model.NewWeakPasswordError())

	resp := w.Result()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body.Code != model.ErrCodeWeakPassword {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeWeakPassword)
	}
	if body.Category != "validation" || body.Message == "" || body.Action == "" {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestWriteErrorResponse_DifferentStatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		apiErr     *model.APIError
		category   string
	}{
		{"Unauthorized", http.StatusUnauthorized, model.NewUnauthorizedError(), "auth"},
		{"Forbidden", http.StatusForbidden, model.NewOwnerProtectedError("delete"), "account"},
		{"NotFound", http.StatusNotFound, model.NewInventoryNotFoundError(), "inventory"},
		{"Conflict", http.StatusConflict, model.NewInvitationConflictError("a@example.com"), "invitation"},
		{"Internal", http.StatusInternalServerError, model.NewInternalError(), "system"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			WriteErrorResponse(w, tt.statusCode, tt.apiErr)

			resp := w.Result()
			if resp.StatusCode != tt.statusCode {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.statusCode)
			}

			var body ErrorResponseBody
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if body.Code != tt.apiErr.Code {
				t.Errorf("code = %q, want %q", body.Code, tt.apiErr.Code)
			}
			if body.Category != tt.category {
				t.Errorf("category = %q, want %q", body.Category, tt.category)
			}
		})
	}
}

func TestInternalServerError_ReturnsSystemError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteInternalServerError(w)

	resp := w.Result()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeInternal {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInternal)
	}
	if body.Action == "" {
		t.Error("action should not be empty")
	}
}

// TestErrorResponseBody_OptionalFields は理由・段階・再試行可否が設定時のみ出力されることを検証する。
func TestErrorResponseBody_OptionalFields(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("name"))

	var raw map[string]any
	if err := json.NewDecoder(w.Result().Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	for _, field := range []string{"code", "message", "category", "action"} {
		if _, ok := raw[field]; !ok {
			t.Errorf("missing required field: %s", field)
		}
	}
	for _, field := range []string{"reason", "stage", "retryable"} {
		if _, ok := raw[field]; ok {
			t.Errorf("field %s must be omitted when empty", field)
		}
	}

	w = httptest.NewRecorder()
	WriteErrorResponse(w, http.StatusBadGateway, &model.APIError{
		Code:      model.ErrCodeProvisioningFailed,
		Category:  "account",
		Stage:     string(model.StageSetRole),
		Retryable: true,
	})
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Stage != "set_role" || !body.Retryable {
		t.Errorf("unexpected body: %+v", body)
	}

	w = httptest.NewRecorder()
	WriteErrorResponse(w, http.StatusGone, model.NewInvitationExpiredError())
	body = ErrorResponseBody{}
	if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Reason != string(model.ReasonExpired) {
		t.Errorf("reason = %q, want %q", body.Reason, model.ReasonExpired)
	}
}
