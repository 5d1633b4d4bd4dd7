// Package products holds the paid product catalog. It must stay in sync
// with the mini-app front-end: one source of truth for id, price_rub and
// delivery_eta.
package products

import (
	"math"

	"github.com/Alexbaranow/arkana-women-bot/internal/models"
)

// RubToStarsRate converts RUB prices to Telegram Stars.
const RubToStarsRate = 2.3

var catalog = []models.Product{
	{
		ID:          "card-3days",
		Title:       "Карта дня на 3 дня",
		PriceRub:    99,
		DeliveryETA: "расклад приходит ежедневно в выбранное время на 3 дня",
	},
	{
		ID:          "three-cards",
		Title:       "Три карты",
		PriceRub:    290,
		DeliveryETA: "через 2 часа",
	},
	{
		ID:          "heart-present",
		Title:       "Сердце в настоящем",
		PriceRub:    690,
		DeliveryETA: "через 2 часа",
	},
	{
		ID:          "golden-flow",
		Title:       "Золотой поток",
		PriceRub:    690,
		DeliveryETA: "через 2 часа",
	},
	{
		ID:          "body-energy",
		Title:       "Энергия тела",
		PriceRub:    690,
		DeliveryETA: "через 2 часа",
	},
	{
		ID:          "fate-matrix",
		Title:       "Матрица судьбы",
		PriceRub:    290,
		DeliveryETA: "сразу после оплаты",
	},
	{
		ID:          "natal-chart",
		Title:       "Натальная карта",
		PriceRub:    790,
		DeliveryETA: "в течение 24 часов",
	},
}

// Get returns the product with the given id, or nil if the catalog does not
// contain it.
func Get(id string) *models.Product {
	for i := range catalog {
		if catalog[i].ID == id {
			return &catalog[i]
		}
	}
	return nil
}

// All returns the full catalog.
func All() []models.Product {
	out := make([]models.Product, len(catalog))
	copy(out, catalog)
	return out
}

// RubToStars converts a RUB price to a Stars amount, rounded up with a
// minimum of 1 star. Non-positive prices convert to 0.
func RubToStars(rub int) int {
	if rub <= 0 {
		return 0
	}
	stars := int(math.Ceil(float64(rub) / RubToStarsRate))
	if stars < 1 {
		stars = 1
	}
	return stars
}
