package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Alexbaranow/arkana-women-bot/internal/api"
	"github.com/Alexbaranow/arkana-women-bot/internal/models"
	"github.com/Alexbaranow/arkana-women-bot/internal/store"
	"github.com/Alexbaranow/arkana-women-bot/pkg/logger"
)

// Onboarding / chat-flow steps kept per chat session.
const (
	StepNone         = ""
	StepAskName      = "ask_name"
	StepAskBirthDate = "ask_birth_date"
	StepFreeQuestion = "free_question_waiting"
)

type session struct {
	Step string
}

type Bot struct {
	bot       *tgbotapi.BotAPI
	store     store.Store
	gen       api.Generator
	logger    *logger.Logger
	webAppURL string
	adminID   int64

	sessions     map[int64]*session
	sessionMutex sync.RWMutex
}

func NewBot(token string, st store.Store, gen api.Generator, webAppURL string, adminID int64, logger *logger.Logger) (*Bot, error) {
	botAPI, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	logger.Info("Authorized on Telegram", "username", botAPI.Self.UserName)

	return &Bot{
		bot:       botAPI,
		store:     st,
		gen:       gen,
		logger:    logger,
		webAppURL: webAppURL,
		adminID:   adminID,
		sessions:  make(map[int64]*session),
	}, nil
}

// Start removes any webhook and begins long polling.
func (b *Bot) Start(ctx context.Context) error {
	_, err := b.bot.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: true})
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.bot.GetUpdatesChan(updateConfig)

	b.logger.Info("Started receiving Telegram updates")
	go b.handleUpdates(ctx, updates)
	return nil
}

func (b *Bot) handleUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for update := range updates {
		go func(update tgbotapi.Update) {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("Recovered from panic while processing update", "error", r)
				}
			}()

			if from := updateSender(update); from != nil {
				// Register the user on every contact; name fields refresh.
				_, err := b.store.Users.Create(ctx, from.ID, from.UserName, from.FirstName, from.LastName)
				if err != nil {
					b.logger.Error("Failed to upsert user", "user_id", from.ID, "error", err)
				}
			}

			switch {
			case update.PreCheckoutQuery != nil:
				b.handlePreCheckout(ctx, update.PreCheckoutQuery)
			case update.Message != nil && update.Message.SuccessfulPayment != nil:
				b.handleSuccessfulPayment(ctx, update.Message)
			case update.Message != nil && update.Message.IsCommand():
				b.handleCommand(ctx, update.Message)
			case update.Message != nil:
				b.handleMessage(ctx, update.Message)
			case update.CallbackQuery != nil:
				b.handleCallbackQuery(ctx, update.CallbackQuery)
			}
		}(update)
	}
}

func updateSender(update tgbotapi.Update) *tgbotapi.User {
	switch {
	case update.Message != nil:
		return update.Message.From
	case update.CallbackQuery != nil:
		return update.CallbackQuery.From
	case update.PreCheckoutQuery != nil:
		return update.PreCheckoutQuery.From
	}
	return nil
}

// Stop shuts down polling and waits briefly for in-flight handlers.
func (b *Bot) Stop(ctx context.Context) error {
	b.bot.StopReceivingUpdates()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(500 * time.Millisecond):
		return nil
	}
}

// SendStarsInvoice delivers a Telegram Stars invoice for the order to the
// user's chat. Implements the API's InvoiceSender.
func (b *Bot) SendStarsInvoice(_ context.Context, userID int64, product models.Product, orderID int64, priceStars int) error {
	invoice := tgbotapi.InvoiceConfig{
		BaseChat:      tgbotapi.BaseChat{ChatID: userID},
		Title:         product.Title,
		Description:   fmt.Sprintf("%s · Результат %s", product.Title, product.DeliveryETA),
		Payload:       fmt.Sprintf("order_%d", orderID),
		ProviderToken: "", // Stars invoices carry no provider token
		Currency:      "XTR",
		Prices: []tgbotapi.LabeledPrice{
			{Label: product.Title, Amount: priceStars},
		},
	}
	if _, err := b.bot.Request(invoice); err != nil {
		return fmt.Errorf("failed to send invoice: %w", err)
	}
	return nil
}

// NotifyOrderPaid tells the owner their order went through. Used by the
// Stars payment flow and the external payment webhook.
func (b *Bot) NotifyOrderPaid(ctx context.Context, order *models.Order, deliveryETA string) {
	if deliveryETA == "" {
		deliveryETA = "в ближайшее время"
	}
	text := fmt.Sprintf(
		"✅ Заказ №%d оплачен.\n\n📦 %s\n\nРезультат придёт в этот чат %s. Следи за сообщениями — мы отправим тебе расклад или отчёт сюда.\n\nЕсли что-то не так — напиши /support или нажми кнопку поддержки в меню.",
		order.ID, order.ProductTitle, deliveryETA,
	)
	b.send(tgbotapi.NewMessage(order.UserID, text))
}

func (b *Bot) session(userID int64) *session {
	b.sessionMutex.RLock()
	s, ok := b.sessions[userID]
	b.sessionMutex.RUnlock()
	if ok {
		return s
	}

	b.sessionMutex.Lock()
	defer b.sessionMutex.Unlock()
	if s, ok = b.sessions[userID]; ok {
		return s
	}
	s = &session{}
	b.sessions[userID] = s
	return s
}

func (b *Bot) send(msg tgbotapi.Chattable) {
	if _, err := b.bot.Send(msg); err != nil {
		b.logger.Error("Failed to send message", "error", err)
	}
}
