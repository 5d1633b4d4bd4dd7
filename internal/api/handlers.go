package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/Alexbaranow/arkana-women-bot/internal/ai"
	"github.com/Alexbaranow/arkana-women-bot/internal/initdata"
	"github.com/Alexbaranow/arkana-women-bot/internal/models"
	"github.com/Alexbaranow/arkana-women-bot/internal/products"
	"github.com/Alexbaranow/arkana-women-bot/internal/store"
	"github.com/Alexbaranow/arkana-women-bot/pkg/logger"
)

// Generator is the content-generation surface the handlers depend on.
type Generator interface {
	Answer(ctx context.Context, question string) (string, error)
	Ascendant(ctx context.Context, dateOfBirth, placeOfBirth, timeOfBirth string) (*models.Ascendant, error)
	NatalChart(ctx context.Context, dateOfBirth, placeOfBirth, timeOfBirth string) (string, error)
	CardOfTheDay(ctx context.Context, params ai.CardParams) (string, error)
}

// InvoiceSender delivers a Telegram Stars invoice to the user's chat. Nil
// when the API runs without an attached bot.
type InvoiceSender interface {
	SendStarsInvoice(ctx context.Context, userID int64, product models.Product, orderID int64, priceStars int) error
}

// PaymentLinker produces an external checkout URL for an order. Optional.
type PaymentLinker interface {
	CheckoutURL(ctx context.Context, order *models.Order) (string, error)
}

// PaymentConfig carries the manual-transfer requisites and the static
// external payment page.
type PaymentConfig struct {
	CardDescription string
	SBPPhone        string
	ExternalURL     string
}

type Handler struct {
	policy   initdata.AuthPolicy
	store    store.Store
	gen      Generator
	invoices InvoiceSender
	linker   PaymentLinker
	payments PaymentConfig
	dev      bool
	logger   *logger.Logger
}

func NewHandler(
	policy initdata.AuthPolicy,
	st store.Store,
	gen Generator,
	invoices InvoiceSender,
	linker PaymentLinker,
	payments PaymentConfig,
	dev bool,
	log *logger.Logger,
) *Handler {
	return &Handler{
		policy:   policy,
		store:    st,
		gen:      gen,
		invoices: invoices,
		linker:   linker,
		payments: payments,
		dev:      dev,
		logger:   log,
	}
}

// resolveUser maps auth failures onto the response and returns (0, false)
// when the request is already answered.
func (h *Handler) resolveUser(w http.ResponseWriter, initData string) (int64, bool) {
	userID, err := h.policy.ResolveUserID(initData)
	if err == nil {
		return userID, true
	}
	switch {
	case errors.Is(err, initdata.ErrMissingInitData):
		writeError(w, http.StatusBadRequest, "Нужны initData")
	case errors.Is(err, initdata.ErrNotConfigured):
		h.logger.Error("BOT_TOKEN is not configured")
		writeError(w, http.StatusInternalServerError, "Сервер не настроен")
	case errors.Is(err, initdata.ErrNoUser):
		writeError(w, http.StatusUnauthorized, "Пользователь не найден в initData")
	default:
		h.logger.Warn("InitData validation failed", "error", err)
		writeError(w, http.StatusUnauthorized, "Неверные данные приложения")
	}
	return 0, false
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<10)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Некорректный JSON в запросе")
		return false
	}
	return true
}

// sendAIError maps generation failures onto the response taxonomy:
// provider 429s get their own message, everything else is a 500.
func (h *Handler) sendAIError(w http.ResponseWriter, err error, defaultMessage string) {
	if errors.Is(err, ai.ErrRateLimited) {
		writeError(w, http.StatusTooManyRequests, rateLimitMessage)
		return
	}
	h.logger.Error("AI error", "error", err)
	message := defaultMessage
	if err != nil && err.Error() != "" {
		message = err.Error()
	}
	writeInternalError(w, message, err, h.dev)
}

// === Free question ===

type freeQuestionRequest struct {
	InitData string  `json:"initData"`
	Question *string `json:"question"`
}

func (h *Handler) FreeQuestion(w http.ResponseWriter, r *http.Request) {
	var req freeQuestionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Question == nil {
		writeError(w, http.StatusBadRequest, "Нужны initData и question")
		return
	}

	userID, ok := h.resolveUser(w, req.InitData)
	if !ok {
		return
	}

	text := strings.TrimSpace(*req.Question)
	if utf8.RuneCountInString(text) < 5 {
		writeError(w, http.StatusBadRequest, "Опиши вопрос чуть подробнее")
		return
	}

	available, err := h.store.Users.HasFreeQuestion(r.Context(), userID)
	if err != nil {
		writeInternalError(w, "Внутренняя ошибка сервера", err, h.dev)
		return
	}
	if !available {
		writeError(w, http.StatusForbidden, "Бесплатный вопрос уже использован. Следующий через 3 дня.")
		return
	}

	answer, err := h.gen.Answer(r.Context(), text)
	if err != nil {
		h.sendAIError(w, err, "Не удалось получить ответ. Попробуй позже или короче вопрос.")
		return
	}
	if err := h.store.Users.UseFreeQuestion(r.Context(), userID); err != nil {
		h.logger.Error("Failed to consume free question", "user_id", userID, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

// === Ascendant / natal chart ===

type natalRequest struct {
	InitData     string `json:"initData"`
	DateOfBirth  string `json:"dateOfBirth"`
	PlaceOfBirth string `json:"placeOfBirth"`
	TimeOfBirth  string `json:"timeOfBirth"`
}

// validateNatalRequest enforces the natal input shape. The identity check
// is skipped entirely under the permissive dev policy.
func (h *Handler) validateNatalRequest(w http.ResponseWriter, r *http.Request) *natalRequest {
	var req natalRequest
	if !decodeBody(w, r, &req) {
		return nil
	}
	if strings.TrimSpace(req.DateOfBirth) == "" || strings.TrimSpace(req.PlaceOfBirth) == "" {
		writeError(w, http.StatusBadRequest, "Нужны dateOfBirth и placeOfBirth")
		return nil
	}
	if !h.policy.SkipNatalAuth() {
		if err := initdata.Validate(req.InitData, botTokenOf(h.policy)); err != nil {
			if errors.Is(err, initdata.ErrMissingInitData) || errors.Is(err, initdata.ErrNotConfigured) {
				writeError(w, http.StatusUnauthorized, "Нужны initData (открыть из Telegram) и BOT_TOKEN")
				return nil
			}
			h.logger.Warn("Natal initData validation failed", "error", err)
			writeError(w, http.StatusUnauthorized, "Неверные данные приложения")
			return nil
		}
	}
	req.DateOfBirth = strings.TrimSpace(req.DateOfBirth)
	req.PlaceOfBirth = strings.TrimSpace(req.PlaceOfBirth)
	req.TimeOfBirth = strings.TrimSpace(req.TimeOfBirth)
	return &req
}

func botTokenOf(policy initdata.AuthPolicy) string {
	switch p := policy.(type) {
	case initdata.StrictPolicy:
		return p.BotToken
	case initdata.PermissivePolicy:
		return p.BotToken
	}
	return ""
}

func (h *Handler) CalculateAscendant(w http.ResponseWriter, r *http.Request) {
	req := h.validateNatalRequest(w, r)
	if req == nil {
		return
	}
	ascendant, err := h.gen.Ascendant(r.Context(), req.DateOfBirth, req.PlaceOfBirth, req.TimeOfBirth)
	if err != nil {
		h.sendAIError(w, err, "Не удалось рассчитать асцендент.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "ascendant": ascendant})
}

func (h *Handler) CalculateNatalChart(w http.ResponseWriter, r *http.Request) {
	req := h.validateNatalRequest(w, r)
	if req == nil {
		return
	}
	natalChart, err := h.gen.NatalChart(r.Context(), req.DateOfBirth, req.PlaceOfBirth, req.TimeOfBirth)
	if err != nil {
		h.sendAIError(w, err, "Не удалось рассчитать натальную карту.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "natalChart": natalChart})
}

// === Payments ===

type orderRequest struct {
	InitData  string `json:"initData"`
	ProductID string `json:"productId"`
}

func (h *Handler) RequestStarsInvoice(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	userID, ok := h.resolveUser(w, req.InitData)
	if !ok {
		return
	}

	product := products.Get(req.ProductID)
	if product == nil {
		writeError(w, http.StatusBadRequest, "Неизвестный продукт")
		return
	}

	priceStars := products.RubToStars(product.PriceRub)
	order, err := h.store.Orders.Create(r.Context(), userID, product.ID,
		models.PaymentMethodStars, product.Title, product.PriceRub, priceStars)
	if err != nil {
		writeInternalError(w, "Внутренняя ошибка сервера", err, h.dev)
		return
	}

	if h.invoices == nil {
		writeError(w, http.StatusServiceUnavailable,
			"Оплата Stars недоступна: API запущен без бота.")
		return
	}

	if err := h.invoices.SendStarsInvoice(r.Context(), userID, *product, order.ID, priceStars); err != nil {
		h.logger.Error("sendInvoice error", "order_id", order.ID, "error", err)
		writeInternalError(w, "Не удалось отправить счёт. Попробуй позже или оплати картой.", err, h.dev)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"orderId": order.ID,
		"message": "В чат с ботом отправлен счёт. Перейди в диалог с ботом и нажми «Оплатить».",
	})
}

func (h *Handler) CreateExternalOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	userID, ok := h.resolveUser(w, req.InitData)
	if !ok {
		return
	}

	product := products.Get(req.ProductID)
	if product == nil {
		writeError(w, http.StatusBadRequest, "Неизвестный продукт")
		return
	}

	priceStars := products.RubToStars(product.PriceRub)
	order, err := h.store.Orders.Create(r.Context(), userID, product.ID,
		models.PaymentMethodExternal, product.Title, product.PriceRub, priceStars)
	if err != nil {
		writeInternalError(w, "Внутренняя ошибка сервера", err, h.dev)
		return
	}

	card := strings.TrimSpace(h.payments.CardDescription)
	sbpPhone := strings.TrimSpace(h.payments.SBPPhone)

	// Transfer to a card / SBP: hand out the requisites, no intermediaries.
	if card != "" || sbpPhone != "" {
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":           true,
			"orderId":      order.ID,
			"amount":       product.PriceRub,
			"productTitle": product.Title,
			"paymentType":  "transfer",
			"card":         nullable(card),
			"sbpPhone":     nullable(sbpPhone),
			"message":      "Переведи указанную сумму на карту или по СБП. В комментарии укажи номер заказа. После оплаты напиши в чат боту.",
		})
		return
	}

	paymentURL := h.externalPaymentURL(r.Context(), order)
	if paymentURL != "" {
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":           true,
			"orderId":      order.ID,
			"paymentUrl":   paymentURL,
			"amount":       product.PriceRub,
			"productTitle": product.Title,
			"paymentType":  "link",
			"message":      "После оплаты по ссылке результат придёт в этот чат. Сохрани номер заказа.",
		})
		return
	}

	writeError(w, http.StatusServiceUnavailable,
		"Оплата картой/СБП не настроена. Добавьте в .env на сервере PAYMENT_CARD_DESCRIPTION (номер карты) и/или PAYMENT_SBP_PHONE (номер для СБП).")
}

// externalPaymentURL prefers a per-order checkout session when a payment
// provider is wired in, falling back to the static external page.
func (h *Handler) externalPaymentURL(ctx context.Context, order *models.Order) string {
	if h.linker != nil {
		url, err := h.linker.CheckoutURL(ctx, order)
		if err != nil {
			h.logger.Error("Failed to create checkout session", "order_id", order.ID, "error", err)
		} else if url != "" {
			return url
		}
	}
	if external := strings.TrimSpace(h.payments.ExternalURL); external != "" {
		sep := "?"
		if strings.Contains(external, "?") {
			sep = "&"
		}
		return fmt.Sprintf("%s%sorder_id=%d", external, sep, order.ID)
	}
	return ""
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// === Orders ===

type myOrdersRequest struct {
	InitData string `json:"initData"`
}

type orderView struct {
	ID            int64   `json:"id"`
	ProductID     string  `json:"product_id"`
	ProductTitle  string  `json:"product_title"`
	PriceRub      int     `json:"price_rub"`
	PaymentMethod string  `json:"payment_method"`
	Status        string  `json:"status"`
	CreatedAt     string  `json:"created_at"`
	PaidAt        *string `json:"paid_at"`
	ResultText    *string `json:"result_text"`
}

func (h *Handler) MyOrders(w http.ResponseWriter, r *http.Request) {
	var req myOrdersRequest
	if !decodeBody(w, r, &req) {
		return
	}
	userID, ok := h.resolveUser(w, req.InitData)
	if !ok {
		return
	}

	orders, err := h.store.Orders.ListByUser(r.Context(), userID)
	if err != nil {
		writeInternalError(w, "Внутренняя ошибка сервера", err, h.dev)
		return
	}

	views := make([]orderView, 0, len(orders))
	for _, o := range orders {
		view := orderView{
			ID:            o.ID,
			ProductID:     o.ProductID,
			ProductTitle:  o.ProductTitle,
			PriceRub:      o.PriceRub,
			PaymentMethod: o.PaymentMethod,
			Status:        o.Status,
			CreatedAt:     o.CreatedAt.Format(timeLayout),
		}
		if o.PaidAt != nil {
			paidAt := o.PaidAt.Format(timeLayout)
			view.PaidAt = &paidAt
		}
		if o.ResultText != "" {
			result := o.ResultText
			view.ResultText = &result
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "orders": views})
}

type deleteOrderRequest struct {
	InitData string           `json:"initData"`
	OrderID  *json.RawMessage `json:"orderId"`
}

func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	var req deleteOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	userID, ok := h.resolveUser(w, req.InitData)
	if !ok {
		return
	}

	orderID, ok := parseOrderID(req.OrderID)
	if !ok {
		writeError(w, http.StatusBadRequest, "Нужен orderId")
		return
	}

	if err := h.store.Orders.Delete(r.Context(), orderID, userID); err != nil {
		writeError(w, http.StatusNotFound, "Заказ не найден или уже удалён")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// parseOrderID accepts the id as either a JSON number or a numeric string,
// matching the loose coercion the front-end relies on.
func parseOrderID(raw *json.RawMessage) (int64, bool) {
	if raw == nil {
		return 0, false
	}
	var asNumber int64
	if err := json.Unmarshal(*raw, &asNumber); err == nil {
		return asNumber, true
	}
	var asString string
	if err := json.Unmarshal(*raw, &asString); err == nil {
		if id, err := strconv.ParseInt(strings.TrimSpace(asString), 10, 64); err == nil {
			return id, true
		}
	}
	return 0, false
}

// === Card of the day ===

type cardRequest struct {
	InitData      string            `json:"initData"`
	Ascendant     *models.Ascendant `json:"ascendant"`
	NatalChart    string            `json:"natalChart"`
	UserName      string            `json:"userName"`
	TarotCardName string            `json:"tarotCardName"`
}

func (h *Handler) CardOfTheDay(w http.ResponseWriter, r *http.Request) {
	var req cardRequest
	if !decodeBody(w, r, &req) {
		return
	}
	userID, ok := h.resolveUser(w, req.InitData)
	if !ok {
		return
	}

	hasAscendant := req.Ascendant != nil && (req.Ascendant.Sign != "" || req.Ascendant.Description != "")
	hasNatal := strings.TrimSpace(req.NatalChart) != ""
	if !hasAscendant && !hasNatal {
		writeErrorCode(w, http.StatusBadRequest,
			"Для более точной карты дня сначала рассчитай асцендент и натальную карту в личном кабинете (раздел «Асцендент и натальная карта»).",
			"NEED_NATAL")
		return
	}

	params := ai.CardParams{
		UserName:      strings.TrimSpace(req.UserName),
		NatalChart:    strings.TrimSpace(req.NatalChart),
		TarotCardName: strings.TrimSpace(req.TarotCardName),
	}
	if hasAscendant {
		params.Ascendant = req.Ascendant
	}

	text, err := h.gen.CardOfTheDay(r.Context(), params)
	if err != nil {
		h.sendAIError(w, err, "Не удалось сгенерировать карту дня. Попробуй позже.")
		return
	}

	entry, err := h.store.Cards.Save(r.Context(), userID, text)
	if err != nil {
		writeInternalError(w, "Не удалось сгенерировать карту дня. Попробуй позже.", err, h.dev)
		return
	}
	if err := h.store.Cards.SweepExpired(r.Context()); err != nil {
		h.logger.Warn("Card sweep failed", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"text":      entry.Text,
		"expiresAt": entry.ExpiresAt.Format(timeLayout),
		"dateKey":   entry.DateKey,
	})
}

func (h *Handler) GetCardOfTheDay(w http.ResponseWriter, r *http.Request) {
	var req myOrdersRequest
	if !decodeBody(w, r, &req) {
		return
	}
	userID, ok := h.resolveUser(w, req.InitData)
	if !ok {
		return
	}

	if err := h.store.Cards.SweepExpired(r.Context()); err != nil {
		h.logger.Warn("Card sweep failed", "error", err)
	}

	entry, err := h.store.Cards.Get(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "card": nil})
		return
	}
	if err != nil {
		writeInternalError(w, "Не удалось загрузить карту дня. Попробуй позже.", err, h.dev)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"card": map[string]any{
			"text":      entry.Text,
			"expiresAt": entry.ExpiresAt.Format(timeLayout),
			"dateKey":   entry.DateKey,
		},
	})
}

func (h *Handler) ClearCardOfTheDay(w http.ResponseWriter, r *http.Request) {
	var req myOrdersRequest
	if !decodeBody(w, r, &req) {
		return
	}
	userID, ok := h.resolveUser(w, req.InitData)
	if !ok {
		return
	}
	if err := h.store.Cards.Delete(r.Context(), userID); err != nil && !errors.Is(err, store.ErrNotFound) {
		writeInternalError(w, "Внутренняя ошибка сервера", err, h.dev)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// === Health ===

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	stars := "0"
	if h.invoices != nil {
		stars = "1"
	}
	w.Header().Set("X-Stars-Available", stars)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"
