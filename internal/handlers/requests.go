package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/GiorgiUbiria/secure_banking/internal/httputil"
	"github.com/GiorgiUbiria/secure_banking/internal/logger"
	"github.com/GiorgiUbiria/secure_banking/internal/models"
	"github.com/GiorgiUbiria/secure_banking/internal/store"
	"github.com/GiorgiUbiria/secure_banking/internal/workflow"
	"go.uber.org/zap"
)

type SubmitRequest struct {
	Type    string                `json:"type"`
	Payload models.RequestPayload `json:"payload"`
}

type SetRoleRequest struct {
	Role string `json:"role"`
}

func (h *Handler) SubmitRequestHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	t, err := models.ParseRequestType(req.Type)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.Workflow.Submit(r.Context(), user, t, req.Payload)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) MyRequestsHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	reqs, err := h.Workflow.ListByRequester(r.Context(), user.ID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	writeRequests(w, reqs)
}

func (h *Handler) PendingRequestsHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	reqs, err := h.Workflow.ListPendingFor(r.Context(), user.Role)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	writeRequests(w, reqs)
}

func writeRequests(w http.ResponseWriter, reqs []models.Request) {
	if reqs == nil {
		reqs = []models.Request{}
	}
	httputil.WriteJSON(w, http.StatusOK, reqs)
}

func (h *Handler) ApproveHandler(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, workflow.Approve)
}

func (h *Handler) DeclineHandler(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, workflow.Decline)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request, decision workflow.Decision) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	requestID, err := idParam(r, "id")
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	resolved, err := h.Workflow.Resolve(r.Context(), requestID, user, decision)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resolved)
}

// SetRoleHandler is the direct admin role change that bypasses the
// approval workflow.
func (h *Handler) SetRoleHandler(w http.ResponseWriter, r *http.Request) {
	admin, ok := currentUser(w, r)
	if !ok {
		return
	}
	userID, err := idParam(r, "id")
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req SetRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	role, err := models.ParseRole(req.Role)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.Store.SetRole(r.Context(), userID, role); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "user not found")
			return
		}
		httputil.WriteDomainError(w, err)
		return
	}
	logger.Log.Info("role set by admin",
		zap.Uint("admin_id", admin.ID),
		zap.Uint("user_id", userID),
		zap.String("role", string(role)))

	user, err := h.Store.FindUser(r.Context(), userID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}

// DeactivateUserHandler soft-deletes a user. Admins deactivate employees,
// tier2 employees deactivate customers.
func (h *Handler) DeactivateUserHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(w, r)
	if !ok {
		return
	}
	userID, err := idParam(r, "id")
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.Ledger.DeactivateUser(r.Context(), actor, userID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}
