package routes

import (
	"net/http"

	"github.com/GiorgiUbiria/secure_banking/internal/handlers"
	appmw "github.com/GiorgiUbiria/secure_banking/internal/middleware"
	"github.com/GiorgiUbiria/secure_banking/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
)

func NewRoutes(h *handlers.Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Works Fine!"))
	})

	r.Post("/auth/login", h.LoginHandler)

	r.Group(func(r chi.Router) {
		r.Use(appmw.Authenticated, appmw.LoadUser(h.Store))

		r.Get("/auth/me", h.MeHandler)

		r.Get("/accounts", h.GetAccountsHandler)
		r.Post("/accounts", h.OpenAccountHandler)
		r.Post("/accounts/{id}/transfer", h.TransferHandler)
		r.Get("/accounts/{id}/transactions", h.TransactionsHandler)
		r.Get("/accounts/{id}/history", h.HistoryHandler)

		r.Post("/requests", h.SubmitRequestHandler)
		r.Get("/requests/mine", h.MyRequestsHandler)

		r.With(appmw.RequireRole(models.RoleTier2, models.RoleAdmin)).Group(func(r chi.Router) {
			r.Get("/requests/pending", h.PendingRequestsHandler)
			r.Post("/requests/{id}/approve", h.ApproveHandler)
			r.Post("/requests/{id}/decline", h.DeclineHandler)
			r.Post("/users/{id}/deactivate", h.DeactivateUserHandler)
		})

		r.With(appmw.RequireRole(models.RoleAdmin)).Route("/admin", func(r chi.Router) {
			r.Delete("/accounts/{id}", h.CloseAccountHandler)
			r.Patch("/accounts/{id}", h.ChangeAccountTypeHandler)
			r.Put("/users/{id}/role", h.SetRoleHandler)
		})
	})

	r.Get("/swagger/*", httpSwagger.WrapHandler)

	return r
}
