package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Alexbaranow/arkana-women-bot/internal/ai"
	"github.com/Alexbaranow/arkana-women-bot/internal/initdata"
	"github.com/Alexbaranow/arkana-women-bot/internal/models"
	"github.com/Alexbaranow/arkana-women-bot/internal/store"
	"github.com/Alexbaranow/arkana-women-bot/internal/store/memory"
	"github.com/Alexbaranow/arkana-women-bot/pkg/logger"
)

const testUserID int64 = 7

type fakeGen struct {
	answer    string
	answerErr error
	card      string
	cardErr   error
}

func (f *fakeGen) Answer(context.Context, string) (string, error) {
	return f.answer, f.answerErr
}

func (f *fakeGen) Ascendant(context.Context, string, string, string) (*models.Ascendant, error) {
	return &models.Ascendant{Sign: "Лев", Description: "описание"}, nil
}

func (f *fakeGen) NatalChart(context.Context, string, string, string) (string, error) {
	return "натальная карта", nil
}

func (f *fakeGen) CardOfTheDay(context.Context, ai.CardParams) (string, error) {
	return f.card, f.cardErr
}

type fakeInvoices struct {
	sent []int64
	err  error
}

func (f *fakeInvoices) SendStarsInvoice(_ context.Context, _ int64, _ models.Product, orderID int64, _ int) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, orderID)
	return nil
}

func nopLogger() *logger.Logger {
	return &logger.Logger{SugaredLogger: zap.NewNop().Sugar()}
}

type fixture struct {
	handler *Handler
	store   store.Store
	gen     *fakeGen
	inv     *fakeInvoices
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New().Store()
	gen := &fakeGen{answer: "ответ карт", card: "карта дня"}
	inv := &fakeInvoices{}

	h := NewHandler(
		initdata.PermissivePolicy{FallbackID: testUserID},
		st, gen, inv, nil,
		PaymentConfig{},
		false,
		nopLogger(),
	)
	return &fixture{handler: h, store: st, gen: gen, inv: inv}
}

func postJSON(t *testing.T, fn http.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	fn(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestFreeQuestionValidation(t *testing.T) {
	f := newFixture(t)

	rec := postJSON(t, f.handler.FreeQuestion, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Нужны initData и question", decodeResponse(t, rec)["error"])

	rec = postJSON(t, f.handler.FreeQuestion, map[string]any{"question": "эй?"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Опиши вопрос чуть подробнее", decodeResponse(t, rec)["error"])
}

func TestFreeQuestionConsumesEntitlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.Users.Create(ctx, testUserID, "u", "Анна", "")
	require.NoError(t, err)

	body := map[string]any{"question": "что меня ждёт в любви?"}

	rec := postJSON(t, f.handler.FreeQuestion, body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ответ карт", decodeResponse(t, rec)["answer"])

	rec = postJSON(t, f.handler.FreeQuestion, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Бесплатный вопрос уже использован. Следующий через 3 дня.", decodeResponse(t, rec)["error"])
}

func TestFreeQuestionNotConsumedOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.Users.Create(ctx, testUserID, "u", "Анна", "")
	require.NoError(t, err)

	f.gen.answerErr = ai.ErrRateLimited
	rec := postJSON(t, f.handler.FreeQuestion, map[string]any{"question": "что меня ждёт в любви?"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// The failed attempt did not burn the entitlement.
	ok, err := f.store.Users.HasFreeQuestion(ctx, testUserID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCalculateAscendant(t *testing.T) {
	f := newFixture(t)

	rec := postJSON(t, f.handler.CalculateAscendant, map[string]any{"dateOfBirth": "23.07.1995"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Нужны dateOfBirth и placeOfBirth", decodeResponse(t, rec)["error"])

	rec = postJSON(t, f.handler.CalculateAscendant, map[string]any{
		"dateOfBirth":  "23.07.1995",
		"placeOfBirth": "Москва",
		"timeOfBirth":  "14:30",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, true, resp["ok"])
	ascendant := resp["ascendant"].(map[string]any)
	assert.Equal(t, "Лев", ascendant["sign"])
}

func TestRequestStarsInvoice(t *testing.T) {
	f := newFixture(t)

	rec := postJSON(t, f.handler.RequestStarsInvoice, map[string]any{"productId": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Неизвестный продукт", decodeResponse(t, rec)["error"])

	rec = postJSON(t, f.handler.RequestStarsInvoice, map[string]any{"productId": "three-cards"})
	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, true, resp["ok"])
	require.Len(t, f.inv.sent, 1)

	order, err := f.store.Orders.Get(context.Background(), f.inv.sent[0])
	require.NoError(t, err)
	assert.Equal(t, testUserID, order.UserID)
	assert.Equal(t, models.PaymentMethodStars, order.PaymentMethod)
	assert.Equal(t, 290, order.PriceRub)
	assert.Equal(t, 127, order.PriceStars)
}

func TestRequestStarsInvoiceWithoutBot(t *testing.T) {
	f := newFixture(t)
	f.handler.invoices = nil

	rec := postJSON(t, f.handler.RequestStarsInvoice, map[string]any{"productId": "three-cards"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCreateExternalOrderTransfer(t *testing.T) {
	f := newFixture(t)
	f.handler.payments = PaymentConfig{CardDescription: "2200 1234 5678 9012", SBPPhone: "+79990001122"}

	rec := postJSON(t, f.handler.CreateExternalOrder, map[string]any{"productId": "natal-chart"})
	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, "transfer", resp["paymentType"])
	assert.Equal(t, "2200 1234 5678 9012", resp["card"])
	assert.Equal(t, float64(790), resp["amount"])
}

func TestCreateExternalOrderLink(t *testing.T) {
	f := newFixture(t)
	f.handler.payments = PaymentConfig{ExternalURL: "https://pay.example.com/checkout"}

	rec := postJSON(t, f.handler.CreateExternalOrder, map[string]any{"productId": "three-cards"})
	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, "link", resp["paymentType"])
	assert.Equal(t, "https://pay.example.com/checkout?order_id=1", resp["paymentUrl"])
}

func TestCreateExternalOrderUnconfigured(t *testing.T) {
	f := newFixture(t)

	rec := postJSON(t, f.handler.CreateExternalOrder, map[string]any{"productId": "three-cards"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMyOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, err := f.store.Orders.Create(ctx, testUserID, "three-cards", models.PaymentMethodStars, "Три карты", 290, 127)
	require.NoError(t, err)
	require.NoError(t, f.store.Orders.MarkPaid(ctx, order.ID, "charge-1"))
	// Someone else's order must not leak in.
	_, err = f.store.Orders.Create(ctx, testUserID+1, "natal-chart", models.PaymentMethodStars, "Натальная карта", 790, 344)
	require.NoError(t, err)

	rec := postJSON(t, f.handler.MyOrders, map[string]any{})
	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	orders := resp["orders"].([]any)
	require.Len(t, orders, 1)
	first := orders[0].(map[string]any)
	assert.Equal(t, "Три карты", first["product_title"])
	assert.Equal(t, models.OrderStatusPaid, first["status"])
	assert.NotNil(t, first["paid_at"])
	assert.Nil(t, first["result_text"])
}

func TestDeleteOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mine, err := f.store.Orders.Create(ctx, testUserID, "a", models.PaymentMethodStars, "Мой", 100, 44)
	require.NoError(t, err)
	other, err := f.store.Orders.Create(ctx, testUserID+1, "b", models.PaymentMethodStars, "Чужой", 100, 44)
	require.NoError(t, err)

	rec := postJSON(t, f.handler.DeleteOrder, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Нужен orderId", decodeResponse(t, rec)["error"])

	rec = postJSON(t, f.handler.DeleteOrder, map[string]any{"orderId": other.ID})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Numeric strings are accepted.
	rec = postJSON(t, f.handler.DeleteOrder, map[string]any{"orderId": "1"})
	assert.Equal(t, http.StatusOK, rec.Code)
	_, err = f.store.Orders.Get(ctx, mine.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCardOfTheDayNeedsNatal(t *testing.T) {
	f := newFixture(t)

	rec := postJSON(t, f.handler.CardOfTheDay, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "NEED_NATAL", decodeResponse(t, rec)["code"])
}

func TestCardOfTheDayRoundTrip(t *testing.T) {
	f := newFixture(t)

	rec := postJSON(t, f.handler.GetCardOfTheDay, map[string]any{})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decodeResponse(t, rec)["card"])

	rec = postJSON(t, f.handler.CardOfTheDay, map[string]any{
		"ascendant": map[string]string{"sign": "Лев", "description": "описание"},
		"userName":  "Анна",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, "карта дня", resp["text"])
	assert.NotEmpty(t, resp["dateKey"])

	rec = postJSON(t, f.handler.GetCardOfTheDay, map[string]any{})
	card := decodeResponse(t, rec)["card"].(map[string]any)
	assert.Equal(t, "карта дня", card["text"])

	rec = postJSON(t, f.handler.ClearCardOfTheDay, map[string]any{})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(t, f.handler.GetCardOfTheDay, map[string]any{})
	assert.Nil(t, decodeResponse(t, rec)["card"])
}

func TestHealthReportsStarsAvailability(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.handler.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-Stars-Available"))

	f.handler.invoices = nil
	rec = httptest.NewRecorder()
	f.handler.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, "0", rec.Header().Get("X-Stars-Available"))
}
