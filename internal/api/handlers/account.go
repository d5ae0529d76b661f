package handlers

import (
	"net/http"

	"github.com/sitekeeper/sitekeeper/internal/api/middleware"
	"github.com/sitekeeper/sitekeeper/internal/domain/account"
	"github.com/sitekeeper/sitekeeper/internal/pkg/errors"
	"github.com/sitekeeper/sitekeeper/internal/pkg/logger"
	"github.com/sitekeeper/sitekeeper/internal/pkg/utils"
)

// AccountHandler handles account record requests
type AccountHandler struct {
	accounts account.Repository
	logger   *logger.Logger
}

// NewAccountHandler creates a new account handler
func NewAccountHandler(accounts account.Repository, log *logger.Logger) *AccountHandler {
	return &AccountHandler{
		accounts: accounts,
		logger:   log,
	}
}

// Me returns the authenticated account with its subscription and payment
// method summary
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.GetAccountID(r)
	if !ok {
		utils.WriteError(w, errors.Unauthorized("Missing authentication token"))
		return
	}

	acct, err := h.accounts.GetByID(r.Context(), accountID)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}

	utils.WriteSuccess(w, http.StatusOK, acct)
}
