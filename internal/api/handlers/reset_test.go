package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sitekeeper/sitekeeper/internal/api/dto"
	"github.com/sitekeeper/sitekeeper/internal/domain/account"
	"github.com/sitekeeper/sitekeeper/internal/domain/resettoken"
	"github.com/sitekeeper/sitekeeper/internal/pkg/logger"
	"github.com/sitekeeper/sitekeeper/internal/pkg/ratelimit"
	"github.com/sitekeeper/sitekeeper/internal/pkg/validator"
	"github.com/sitekeeper/sitekeeper/internal/services"
	"github.com/sitekeeper/sitekeeper/internal/testutil"
)

func newResetHandler() (*testutil.MockTokenRepository, *ResetHandler) {
	tokens := testutil.NewMockTokenRepository()
	accounts := testutil.NewMockAccountRepository()
	accounts.Accounts["acct_1"] = &account.Account{ID: "acct_1", Email: "owner@example.com"}
	log := logger.New(logger.Config{Level: "error", Format: "json"})
	service := services.NewResetService(
		tokens,
		accounts,
		services.NewInMemoryCredentials(),
		&services.InMemoryEmail{},
		ratelimit.NewWindow(5, time.Hour),
		"http://localhost:5173/reset-password",
		log,
	)
	return tokens, NewResetHandler(service, log, validator.New())
}

func seedResetToken(tokens *testutil.MockTokenRepository) string {
	raw := strings.Repeat("ab", 32)
	tokens.Tokens[raw] = &resettoken.Token{
		Token:       raw,
		SecondaryID: "tok-secondary-1",
		Email:       "owner@example.com",
		AccountID:   "acct_1",
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(resettoken.TTL),
	}
	return raw
}

func TestResetHandler_Request_UniformResponse(t *testing.T) {
	_, handler := newResetHandler()

	// Known and unknown emails must be indistinguishable from the outside.
	for _, email := range []string{"owner@example.com", "stranger@example.com"} {
		body, _ := json.Marshal(dto.RequestResetRequest{Email: email})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/request-reset", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()

		handler.Request(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("status for %s = %d, want %d", email, rr.Code, http.StatusOK)
		}
		if !strings.Contains(rr.Body.String(), "If that email exists") {
			t.Errorf("unexpected body for %s: %s", email, rr.Body.String())
		}
	}
}

func TestResetHandler_Request_InvalidEmail(t *testing.T) {
	_, handler := newResetHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/request-reset",
		bytes.NewBufferString(`{"email":"not-an-email"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	handler.Request(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestResetHandler_Validate(t *testing.T) {
	tokens, handler := newResetHandler()
	raw := seedResetToken(tokens)

	tests := []struct {
		name      string
		token     string
		wantValid bool
	}{
		{
			name:      "issued token",
			token:     raw,
			wantValid: true,
		},
		{
			name:      "unknown token",
			token:     strings.Repeat("cd", 32),
			wantValid: false,
		},
		{
			name:      "malformed token",
			token:     "zz",
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/reset?token="+tt.token, nil)
			rr := httptest.NewRecorder()

			handler.Validate(rr, req)

			// The read-only check always answers 200; validity lives in the
			// body.
			if rr.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
			}
			var resp dto.ValidateResetResponse
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Valid != tt.wantValid {
				t.Errorf("valid = %v, want %v", resp.Valid, tt.wantValid)
			}
			if tt.wantValid && resp.Email != "owner@example.com" {
				t.Errorf("email = %q, want owner@example.com", resp.Email)
			}
		})
	}
}

func TestResetHandler_Consume(t *testing.T) {
	tokens, handler := newResetHandler()
	raw := seedResetToken(tokens)

	body, _ := json.Marshal(dto.ConsumeResetRequest{Token: raw, Password: "correct horse battery"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/reset", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	handler.Consume(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	if !tokens.Tokens[raw].Used {
		t.Error("token should be marked used after consumption")
	}
}

func TestResetHandler_Consume_ShortPassword(t *testing.T) {
	tokens, handler := newResetHandler()
	raw := seedResetToken(tokens)

	body, _ := json.Marshal(dto.ConsumeResetRequest{Token: raw, Password: "short"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/reset", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	handler.Consume(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if tokens.Tokens[raw].Used {
		t.Error("token must stay unused when the password is rejected")
	}
}

func TestResetHandler_Consume_Replay(t *testing.T) {
	tokens, handler := newResetHandler()
	raw := seedResetToken(tokens)

	consume := func() *httptest.ResponseRecorder {
		body, _ := json.Marshal(dto.ConsumeResetRequest{Token: raw, Password: "correct horse battery"})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/reset", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		handler.Consume(rr, req)
		return rr
	}

	if rr := consume(); rr.Code != http.StatusOK {
		t.Fatalf("first consumption: status = %d, want %d", rr.Code, http.StatusOK)
	}
	if rr := consume(); rr.Code != http.StatusBadRequest {
		t.Errorf("replay: status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}
