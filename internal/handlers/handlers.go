package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/GiorgiUbiria/secure_banking/configs"
	"github.com/GiorgiUbiria/secure_banking/internal/httputil"
	"github.com/GiorgiUbiria/secure_banking/internal/ledger"
	"github.com/GiorgiUbiria/secure_banking/internal/logger"
	"github.com/GiorgiUbiria/secure_banking/internal/middleware"
	"github.com/GiorgiUbiria/secure_banking/internal/mirror"
	"github.com/GiorgiUbiria/secure_banking/internal/models"
	"github.com/GiorgiUbiria/secure_banking/internal/store"
	"github.com/GiorgiUbiria/secure_banking/internal/workflow"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type Handler struct {
	Store    store.Store
	Ledger   *ledger.Ledger
	Workflow *workflow.Engine
	Mirror   mirror.Mirror
}

type LoginRequest struct {
	UserName string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

func (h *Handler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.UserName == "" || req.Password == "" {
		httputil.WriteError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := h.Store.FindUserByUserName(r.Context(), req.UserName)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.Log.Error("failed to look up user", zap.Error(err))
		}
		httputil.WriteError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}
	if !user.Active {
		httputil.WriteError(w, http.StatusForbidden, "user is not active")
		return
	}

	signed, err := IssueToken(user.ID)
	if err != nil {
		logger.Log.Error("failed to sign jwt", zap.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create token")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, LoginResponse{Token: signed})
}

// IssueToken signs an HS256 token for userID with the configured secret.
func IssueToken(userID uint) (string, error) {
	ttl := configs.AppConfig.JWT.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"exp": now.Add(ttl).Unix(),
		"iat": now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(configs.AppConfig.JWT.SECRET))
}

func (h *Handler) MeHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.CurrentUser(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}

func idParam(r *http.Request, name string) (uint, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid " + name)
	}
	return uint(id), nil
}

func currentUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	user, ok := middleware.CurrentUser(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
	}
	return user, ok
}
