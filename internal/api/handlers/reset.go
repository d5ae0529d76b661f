package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/sitekeeper/sitekeeper/internal/api/dto"
	"github.com/sitekeeper/sitekeeper/internal/pkg/errors"
	"github.com/sitekeeper/sitekeeper/internal/pkg/logger"
	"github.com/sitekeeper/sitekeeper/internal/pkg/utils"
	"github.com/sitekeeper/sitekeeper/internal/pkg/validator"
	"github.com/sitekeeper/sitekeeper/internal/services"
)

// ResetHandler handles the password reset token flow
type ResetHandler struct {
	resets    *services.ResetService
	logger    *logger.Logger
	validator *validator.Validator
}

// NewResetHandler creates a new reset handler
func NewResetHandler(resets *services.ResetService, log *logger.Logger, val *validator.Validator) *ResetHandler {
	return &ResetHandler{
		resets:    resets,
		logger:    log,
		validator: val,
	}
}

// Request issues a reset token. The response is identical whether or not the
// email exists or the requester is rate limited.
func (h *ResetHandler) Request(w http.ResponseWriter, r *http.Request) {
	var req dto.RequestResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, errors.BadRequest("Invalid request body"))
		return
	}
	if validationErrs := h.validator.Validate(req); len(validationErrs) > 0 {
		utils.WriteError(w, errors.ValidationError("Validation failed", validationErrs))
		return
	}

	if err := h.resets.Request(r.Context(), req.Email); err != nil {
		// Internal failures surface generically; the uniform success shape
		// is reserved for the enumeration-sensitive outcomes.
		utils.WriteAppError(w, err)
		return
	}

	utils.WriteSuccessWithMessage(w, http.StatusOK, "If that email exists, a reset link has been sent.", nil)
}

// Validate is the read-only token check used to pre-fill the reset form
func (h *ResetHandler) Validate(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")

	email, err := h.resets.Validate(r.Context(), token)
	if err != nil {
		utils.WriteJSON(w, http.StatusOK, dto.ValidateResetResponse{
			Valid: false,
			Error: "Invalid or expired reset token",
		})
		return
	}

	utils.WriteJSON(w, http.StatusOK, dto.ValidateResetResponse{
		Valid: true,
		Email: email,
	})
}

// Consume applies the new password
func (h *ResetHandler) Consume(w http.ResponseWriter, r *http.Request) {
	var req dto.ConsumeResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, errors.BadRequest("Invalid request body"))
		return
	}
	if validationErrs := h.validator.Validate(req); len(validationErrs) > 0 {
		utils.WriteError(w, errors.ValidationError("Validation failed", validationErrs))
		return
	}

	if err := h.resets.Consume(r.Context(), req.Token, req.Password); err != nil {
		utils.WriteAppError(w, err)
		return
	}

	utils.WriteSuccessWithMessage(w, http.StatusOK, "Password updated.", nil)
}
