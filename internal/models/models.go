package models

import (
	"time"
)

// Order lifecycle. Status only moves forward: pending -> paid -> delivered,
// or pending -> cancelled.
const (
	OrderStatusPending   = "pending"
	OrderStatusPaid      = "paid"
	OrderStatusCancelled = "cancelled"
	OrderStatusDelivered = "delivered"
)

// Payment methods accepted by the mini-app.
const (
	PaymentMethodStars    = "stars"
	PaymentMethodExternal = "external"
)

type User struct {
	TelegramID         int64      `json:"telegram_id"`
	Username           string     `json:"username"`
	FirstName          string     `json:"first_name"`
	LastName           string     `json:"last_name"`
	DisplayName        string     `json:"display_name"`
	BirthDate          string     `json:"birth_date"`
	LastFreeQuestionAt *time.Time `json:"last_free_question_at"`
	CreatedAt          time.Time  `json:"created_at"`
}

type Order struct {
	ID                      int64      `json:"id"`
	UserID                  int64      `json:"user_id"`
	ProductID               string     `json:"product_id"`
	ProductTitle            string     `json:"product_title"`
	PriceRub                int        `json:"price_rub"`
	PriceStars              int        `json:"price_stars"`
	PaymentMethod           string     `json:"payment_method"`
	Status                  string     `json:"status"`
	TelegramPaymentChargeID string     `json:"telegram_payment_charge_id"`
	CreatedAt               time.Time  `json:"created_at"`
	PaidAt                  *time.Time `json:"paid_at"`
	ResultText              string     `json:"result_text"`
}

// CardOfTheDay is one generated card per user per Moscow calendar day.
type CardOfTheDay struct {
	UserID    int64     `json:"user_id"`
	DateKey   string    `json:"date_key"`
	Text      string    `json:"text"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

type Product struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	PriceRub    int    `json:"price_rub"`
	DeliveryETA string `json:"delivery_eta"`
}

// Ascendant is the structured result of the ascendant calculation.
type Ascendant struct {
	Sign        string `json:"sign"`
	Description string `json:"description"`
}
