package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/GiorgiUbiria/secure_banking/internal/httputil"
	"github.com/GiorgiUbiria/secure_banking/internal/models"
	"github.com/shopspring/decimal"
)

type OpenAccountRequest struct {
	Type           string          `json:"type"`
	InitialDeposit decimal.Decimal `json:"initial_deposit"`
}

type TransferRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Direction string          `json:"direction"`
}

type ChangeTypeRequest struct {
	Type string `json:"type"`
}

func (h *Handler) GetAccountsHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	accounts, err := h.Ledger.Accounts(r.Context(), user.ID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if accounts == nil {
		accounts = []models.Account{}
	}
	httputil.WriteJSON(w, http.StatusOK, accounts)
}

func (h *Handler) OpenAccountHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req OpenAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	accountType, err := models.ParseAccountType(req.Type)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	acc, err := h.Ledger.OpenAccount(r.Context(), user, accountType, req.InitialDeposit)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, acc)
}

// TransferHandler applies a self-transfer. A transfer held for approval is
// answered with 202 Accepted.
func (h *Handler) TransferHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	accountID, err := idParam(r, "id")
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	dir, err := models.ParseDirection(req.Direction)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := h.Ledger.SelfTransfer(r.Context(), user, accountID, req.Amount, dir)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	code := http.StatusCreated
	if t.Status == models.TransactionHeld {
		code = http.StatusAccepted
	}
	httputil.WriteJSON(w, code, t)
}

// accountFor returns the account when user owns it or is an employee.
func (h *Handler) accountFor(w http.ResponseWriter, r *http.Request, user *models.User) (*models.Account, bool) {
	accountID, err := idParam(r, "id")
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	acc, err := h.Ledger.Account(r.Context(), accountID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return nil, false
	}
	if acc.UserID != user.ID && !user.Role.IsEmployee() {
		httputil.WriteError(w, http.StatusForbidden, "account is not owned by user")
		return nil, false
	}
	return acc, true
}

func (h *Handler) TransactionsHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	acc, ok := h.accountFor(w, r, user)
	if !ok {
		return
	}

	txs, err := h.Store.FindTransactionsByAccount(r.Context(), acc.ID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	httputil.WriteJSON(w, http.StatusOK, txs)
}

// HistoryHandler serves the mirrored history of an account. The mirror may
// lag behind the ledger.
func (h *Handler) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	acc, ok := h.accountFor(w, r, user)
	if !ok {
		return
	}

	history, err := h.Mirror.History(r.Context(), acc.ID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(history))
}

func (h *Handler) CloseAccountHandler(w http.ResponseWriter, r *http.Request) {
	accountID, err := idParam(r, "id")
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	acc, err := h.Ledger.CloseAccount(r.Context(), accountID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acc)
}

func (h *Handler) ChangeAccountTypeHandler(w http.ResponseWriter, r *http.Request) {
	accountID, err := idParam(r, "id")
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req ChangeTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	accountType, err := models.ParseAccountType(req.Type)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	acc, err := h.Ledger.ChangeAccountType(r.Context(), accountID, accountType)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acc)
}
