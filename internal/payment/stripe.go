package payment

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	stripe "github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/checkout/session"
	"github.com/stripe/stripe-go/v72/webhook"

	"github.com/Alexbaranow/arkana-women-bot/internal/models"
	"github.com/Alexbaranow/arkana-women-bot/internal/store"
	"github.com/Alexbaranow/arkana-women-bot/pkg/logger"
)

// Config carries the Stripe keys and the redirect targets for checkout.
type Config struct {
	SecretKey  string
	WebhookKey string
	SuccessURL string
	CancelURL  string
}

// StripeClient creates hosted checkout sessions for orders paid outside
// Telegram and verifies the completion webhook.
type StripeClient struct {
	secretKey     string
	webhookSecret string
	successURL    string
	cancelURL     string
}

func NewStripeClient(cfg Config) *StripeClient {
	stripe.Key = cfg.SecretKey

	return &StripeClient{
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookKey,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
	}
}

// CheckoutURL creates a one-off checkout session priced from the order.
// The order ID travels in ClientReferenceID so the webhook can find it.
func (s *StripeClient) CheckoutURL(_ context.Context, order *models.Order) (string, error) {
	if stripe.Key != s.secretKey {
		stripe.Key = s.secretKey
	}

	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{
			"card",
		}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(string(stripe.CurrencyRUB)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(order.ProductTitle),
					},
					UnitAmount: stripe.Int64(int64(order.PriceRub) * 100),
				},
				Quantity: stripe.Int64(1),
			},
		},
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(s.successURL),
		CancelURL:         stripe.String(s.cancelURL),
		ClientReferenceID: stripe.String(strconv.FormatInt(order.ID, 10)),
	}

	sess, err := session.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	return sess.URL, nil
}

func (s *StripeClient) verifyWebhookSignature(payload []byte, sig string) (stripe.Event, error) {
	if s.webhookSecret == "" {
		return stripe.Event{}, fmt.Errorf("webhook secret is not configured")
	}
	return webhook.ConstructEvent(payload, sig, s.webhookSecret)
}

// PaidNotifier is told about orders confirmed by the webhook.
type PaidNotifier interface {
	NotifyOrderPaid(ctx context.Context, order *models.Order, deliveryETA string)
}

// WebhookHandler turns checkout.session.completed events into paid orders.
func (s *StripeClient) WebhookHandler(orders store.Orders, notifier PaidNotifier, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(io.LimitReader(r.Body, 65536))
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}

		event, err := s.verifyWebhookSignature(payload, r.Header.Get("Stripe-Signature"))
		if err != nil {
			log.Error("Stripe webhook signature verification failed", "error", err)
			http.Error(w, "invalid signature", http.StatusBadRequest)
			return
		}

		if event.Type != "checkout.session.completed" {
			w.WriteHeader(http.StatusOK)
			return
		}

		ref, _ := event.Data.Object["client_reference_id"].(string)
		orderID, err := strconv.ParseInt(ref, 10, 64)
		if err != nil {
			log.Error("Stripe webhook without usable client_reference_id", "ref", ref)
			w.WriteHeader(http.StatusOK)
			return
		}

		ctx := r.Context()
		if err := orders.MarkPaid(ctx, orderID, ""); err != nil {
			log.Error("Failed to mark order paid from webhook", "order_id", orderID, "error", err)
			http.Error(w, "order update failed", http.StatusInternalServerError)
			return
		}

		if notifier != nil {
			if order, err := orders.Get(ctx, orderID); err == nil {
				notifier.NotifyOrderPaid(ctx, order, "")
			}
		}

		log.Info("Order paid via external checkout", "order_id", orderID)
		w.WriteHeader(http.StatusOK)
	}
}
