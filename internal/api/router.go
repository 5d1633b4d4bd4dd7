package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Alexbaranow/arkana-women-bot/pkg/logger"
)

// RouterConfig bundles what the router needs beyond the handler itself.
type RouterConfig struct {
	Dev         bool
	RateLimiter *RateLimiter
}

// NewRouter builds the API routing with the middleware chain
// CORS -> recover -> rate limit applied to every endpoint.
func NewRouter(h *Handler, cfg RouterConfig, log *logger.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(corsMiddleware)
	r.Use(recoverMiddleware(log, cfg.Dev))
	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Middleware())
	}

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/free-question", h.FreeQuestion)
		r.Post("/calculate-ascendant", h.CalculateAscendant)
		r.Post("/calculate-natal-chart", h.CalculateNatalChart)
		r.Post("/request-stars-invoice", h.RequestStarsInvoice)
		r.Post("/create-external-order", h.CreateExternalOrder)
		r.Post("/my-orders", h.MyOrders)
		r.Post("/delete-order", h.DeleteOrder)
		r.Post("/card-of-the-day", h.CardOfTheDay)
		r.Post("/card-of-the-day/get", h.GetCardOfTheDay)
		r.Post("/card-of-the-day/clear", h.ClearCardOfTheDay)
	})

	return r
}
