package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/sitekeeper/sitekeeper/internal/api/dto"
	"github.com/sitekeeper/sitekeeper/internal/api/middleware"
	"github.com/sitekeeper/sitekeeper/internal/config"
	"github.com/sitekeeper/sitekeeper/internal/pkg/errors"
	"github.com/sitekeeper/sitekeeper/internal/pkg/logger"
	"github.com/sitekeeper/sitekeeper/internal/pkg/utils"
	"github.com/sitekeeper/sitekeeper/internal/pkg/validator"
	"github.com/sitekeeper/sitekeeper/internal/services"
)

// BillingHandler handles billing and subscription API endpoints
type BillingHandler struct {
	subscriptions *services.SubscriptionService
	config        *config.Config
	logger        *logger.Logger
	validator     *validator.Validator
}

// NewBillingHandler creates a new billing handler
func NewBillingHandler(
	subscriptions *services.SubscriptionService,
	cfg *config.Config,
	log *logger.Logger,
	val *validator.Validator,
) *BillingHandler {
	return &BillingHandler{
		subscriptions: subscriptions,
		config:        cfg,
		logger:        log,
		validator:     val,
	}
}

// CreateCheckoutSession handles the public checkout page flow
func (h *BillingHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req dto.CheckoutSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, errors.BadRequest("Invalid request body"))
		return
	}
	if validationErrs := h.validator.Validate(req); len(validationErrs) > 0 {
		utils.WriteError(w, errors.ValidationError("Validation failed", validationErrs))
		return
	}

	successURL := h.config.Server.FrontendURL + "/checkout/success"
	cancelURL := h.config.Server.FrontendURL + "/pricing"

	sess, err := h.subscriptions.CreateCheckoutSession(r.Context(), req.Tier, req.BillingCycle, req.CouponCode, successURL, cancelURL)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}

	utils.WriteSuccess(w, http.StatusOK, map[string]string{
		"sessionId": sess.ID,
		"url":       sess.URL,
	})
}

// CreateSubscription creates a subscription directly for the authenticated
// account
func (h *BillingHandler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.GetAccountID(r)
	if !ok {
		utils.WriteError(w, errors.Unauthorized("Missing authentication token"))
		return
	}

	var req dto.CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, errors.BadRequest("Invalid request body"))
		return
	}
	if validationErrs := h.validator.Validate(req); len(validationErrs) > 0 {
		utils.WriteError(w, errors.ValidationError("Validation failed", validationErrs))
		return
	}

	result, err := h.subscriptions.Checkout(r.Context(), services.CheckoutInput{
		AccountID:       accountID,
		Email:           req.Email,
		Tier:            req.Tier,
		BillingCycle:    req.BillingCycle,
		CouponCode:      req.CouponCode,
		PaymentMethodID: req.PaymentMethodID,
	})
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}

	utils.WriteSuccess(w, http.StatusCreated, result)
}

// Upgrade moves the subscription to a strictly higher tier
func (h *BillingHandler) Upgrade(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.GetAccountID(r)
	if !ok {
		utils.WriteError(w, errors.Unauthorized("Missing authentication token"))
		return
	}

	var req dto.UpgradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, errors.BadRequest("Invalid request body"))
		return
	}
	if validationErrs := h.validator.Validate(req); len(validationErrs) > 0 {
		utils.WriteError(w, errors.ValidationError("Validation failed", validationErrs))
		return
	}

	result, err := h.subscriptions.Upgrade(r.Context(), accountID, req.NewTier)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}

	utils.WriteSuccess(w, http.StatusOK, result)
}

// Downgrade moves the subscription to another tier
func (h *BillingHandler) Downgrade(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.GetAccountID(r)
	if !ok {
		utils.WriteError(w, errors.Unauthorized("Missing authentication token"))
		return
	}

	var req dto.DowngradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, errors.BadRequest("Invalid request body"))
		return
	}
	if validationErrs := h.validator.Validate(req); len(validationErrs) > 0 {
		utils.WriteError(w, errors.ValidationError("Validation failed", validationErrs))
		return
	}

	result, err := h.subscriptions.Downgrade(r.Context(), accountID, req.NewTier)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}

	utils.WriteSuccess(w, http.StatusOK, result)
}

// Cancel soft-cancels the subscription
func (h *BillingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.GetAccountID(r)
	if !ok {
		utils.WriteError(w, errors.Unauthorized("Missing authentication token"))
		return
	}

	var req dto.CancelRequest
	if r.Body != nil {
		// Reason is optional; an empty body is fine.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	result, err := h.subscriptions.Cancel(r.Context(), accountID, req.Reason)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}

	utils.WriteSuccess(w, http.StatusOK, result)
}

// Reactivate restores service on the requested tier
func (h *BillingHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.GetAccountID(r)
	if !ok {
		utils.WriteError(w, errors.Unauthorized("Missing authentication token"))
		return
	}

	var req dto.ReactivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, errors.BadRequest("Invalid request body"))
		return
	}
	if validationErrs := h.validator.Validate(req); len(validationErrs) > 0 {
		utils.WriteError(w, errors.ValidationError("Validation failed", validationErrs))
		return
	}

	result, err := h.subscriptions.Reactivate(r.Context(), accountID, req.NewTier)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}

	utils.WriteSuccess(w, http.StatusOK, result)
}

// SwitchSafetyNet moves the subscription onto the reduced plan
func (h *BillingHandler) SwitchSafetyNet(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.GetAccountID(r)
	if !ok {
		utils.WriteError(w, errors.Unauthorized("Missing authentication token"))
		return
	}

	var req dto.SwitchSafetyNetRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	result, err := h.subscriptions.SwitchSafetyNet(r.Context(), accountID, req.CurrentSubscriptionID)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}

	utils.WriteSuccess(w, http.StatusOK, result)
}

// ValidateCoupon checks a coupon code. An unknown code is a normal outcome
// and returns valid:false with 200.
func (h *BillingHandler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req dto.ValidateCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, errors.BadRequest("Invalid request body"))
		return
	}
	if validationErrs := h.validator.Validate(req); len(validationErrs) > 0 {
		utils.WriteError(w, errors.ValidationError("Validation failed", validationErrs))
		return
	}

	result, err := h.subscriptions.ValidateCoupon(r.Context(), req.CouponCode)
	if err != nil {
		h.logger.WithError(err).Warn("coupon validation failed upstream")
		utils.WriteAppError(w, err)
		return
	}

	utils.WriteSuccess(w, http.StatusOK, result)
}

// AttachPaymentMethod attaches a card to the authenticated account
func (h *BillingHandler) AttachPaymentMethod(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.GetAccountID(r)
	if !ok {
		utils.WriteError(w, errors.Unauthorized("Missing authentication token"))
		return
	}

	var req dto.AttachPaymentMethodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, errors.BadRequest("Invalid request body"))
		return
	}
	if validationErrs := h.validator.Validate(req); len(validationErrs) > 0 {
		utils.WriteError(w, errors.ValidationError("Validation failed", validationErrs))
		return
	}

	pm, err := h.subscriptions.AttachPaymentMethod(r.Context(), accountID, req.PaymentMethodID)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}

	utils.WriteSuccess(w, http.StatusOK, pm)
}
