package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/clickerbot-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса кликер-бота.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/ping", h.Ping)

	r.Route("/api", func(r chi.Router) {
		r.Use(h.sigMiddleware.Middleware)

		r.Post("/updates", h.Update)
		r.Post("/payments/settle", h.SettlePayment)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
