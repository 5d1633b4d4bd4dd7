package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alexbaranow/arkana-women-bot/internal/models"
	"github.com/Alexbaranow/arkana-women-bot/internal/store"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestUsersCreateUpsertsNames(t *testing.T) {
	ctx := context.Background()
	st := New().Store()

	first, err := st.Users.Create(ctx, 42, "olduser", "Анна", "")
	require.NoError(t, err)
	assert.Equal(t, "Анна", first.FirstName)

	second, err := st.Users.Create(ctx, 42, "newuser", "Аня", "П.")
	require.NoError(t, err)
	assert.Equal(t, "newuser", second.Username)
	assert.Equal(t, "Аня", second.FirstName)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)

	count, err := st.Users.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNeedsOnboarding(t *testing.T) {
	ctx := context.Background()
	st := New().Store()

	needs, err := st.Users.NeedsOnboarding(ctx, 99)
	require.NoError(t, err)
	assert.True(t, needs, "unknown user needs onboarding")

	_, err = st.Users.Create(ctx, 99, "u", "Ж", "")
	require.NoError(t, err)

	needs, _ = st.Users.NeedsOnboarding(ctx, 99)
	assert.True(t, needs, "no display name yet")

	require.NoError(t, st.Users.SetDisplayName(ctx, 99, "Мария"))
	needs, _ = st.Users.NeedsOnboarding(ctx, 99)
	assert.True(t, needs, "birth date still missing")

	require.NoError(t, st.Users.SetBirthDate(ctx, 99, "05.11.1998"))
	needs, _ = st.Users.NeedsOnboarding(ctx, 99)
	assert.False(t, needs)
}

func TestFreeQuestionWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mem := New().WithClock(fixedClock(now))
	st := mem.Store()

	_, err := st.Users.Create(ctx, 7, "", "Анна", "")
	require.NoError(t, err)

	ok, err := st.Users.HasFreeQuestion(ctx, 7)
	require.NoError(t, err)
	assert.True(t, ok, "never asked")

	require.NoError(t, st.Users.UseFreeQuestion(ctx, 7))
	ok, _ = st.Users.HasFreeQuestion(ctx, 7)
	assert.False(t, ok, "just consumed")

	mem.WithClock(fixedClock(now.Add(store.FreeQuestionWindow - time.Minute)))
	ok, _ = st.Users.HasFreeQuestion(ctx, 7)
	assert.False(t, ok, "one minute short of the window")

	mem.WithClock(fixedClock(now.Add(store.FreeQuestionWindow)))
	ok, _ = st.Users.HasFreeQuestion(ctx, 7)
	assert.True(t, ok, "window elapsed")
}

func TestFreeQuestionUnknownUser(t *testing.T) {
	ctx := context.Background()
	st := New().Store()

	ok, err := st.Users.HasFreeQuestion(ctx, 12345)
	require.NoError(t, err)
	assert.True(t, ok)

	// Consuming for an unregistered user is a silent no-op.
	require.NoError(t, st.Users.UseFreeQuestion(ctx, 12345))
	ok, _ = st.Users.HasFreeQuestion(ctx, 12345)
	assert.True(t, ok)
}

func TestOrdersLifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	mem := New().WithClock(fixedClock(now))
	st := mem.Store()

	order, err := st.Orders.Create(ctx, 7, "three-cards", models.PaymentMethodStars, "Расклад на 3 карты", 290, 127)
	require.NoError(t, err)
	assert.Equal(t, int64(1), order.ID)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Nil(t, order.PaidAt)

	byPayload, err := st.Orders.GetByPayload(ctx, "order_1")
	require.NoError(t, err)
	assert.Equal(t, order.ID, byPayload.ID)

	_, err = st.Orders.GetByPayload(ctx, "order_nope")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, st.Orders.MarkPaid(ctx, order.ID, "charge-abc"))
	paid, err := st.Orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, paid.Status)
	assert.Equal(t, "charge-abc", paid.TelegramPaymentChargeID)
	require.NotNil(t, paid.PaidAt)
	assert.Equal(t, now, *paid.PaidAt)

	// Re-marking keeps the charge id when the new one is empty.
	mem.WithClock(fixedClock(now.Add(time.Hour)))
	require.NoError(t, st.Orders.MarkPaid(ctx, order.ID, ""))
	paid, _ = st.Orders.Get(ctx, order.ID)
	assert.Equal(t, "charge-abc", paid.TelegramPaymentChargeID)
	assert.Equal(t, now.Add(time.Hour), *paid.PaidAt)

	require.NoError(t, st.Orders.SetResult(ctx, order.ID, "текст расклада"))
	require.NoError(t, st.Orders.SetStatus(ctx, order.ID, models.OrderStatusDelivered))
	done, _ := st.Orders.Get(ctx, order.ID)
	assert.Equal(t, "текст расклада", done.ResultText)
	assert.Equal(t, models.OrderStatusDelivered, done.Status)
}

func TestOrdersListNewestFirst(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	mem := New().WithClock(fixedClock(now))
	st := mem.Store()

	_, err := st.Orders.Create(ctx, 7, "a", models.PaymentMethodStars, "Первый", 100, 44)
	require.NoError(t, err)
	mem.WithClock(fixedClock(now.Add(time.Minute)))
	_, err = st.Orders.Create(ctx, 7, "b", models.PaymentMethodStars, "Второй", 200, 87)
	require.NoError(t, err)
	_, err = st.Orders.Create(ctx, 8, "c", models.PaymentMethodStars, "Чужой", 300, 131)
	require.NoError(t, err)

	list, err := st.Orders.ListByUser(ctx, 7)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Второй", list[0].ProductTitle)
	assert.Equal(t, "Первый", list[1].ProductTitle)
}

func TestOrdersDeleteChecksOwnership(t *testing.T) {
	ctx := context.Background()
	st := New().Store()

	order, err := st.Orders.Create(ctx, 7, "a", models.PaymentMethodStars, "Мой", 100, 44)
	require.NoError(t, err)

	err = st.Orders.Delete(ctx, order.ID, 8)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, st.Orders.Delete(ctx, order.ID, 7))
	_, err = st.Orders.Get(ctx, order.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCardOfTheDayExpiry(t *testing.T) {
	ctx := context.Background()
	// 10:00 UTC is 13:00 in Moscow.
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	mem := New().WithClock(fixedClock(now))
	st := mem.Store()

	card, err := st.Cards.Save(ctx, 7, "Карта: Солнце")
	require.NoError(t, err)
	assert.Equal(t, "2025-06-01", card.DateKey)

	got, err := st.Cards.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "Карта: Солнце", got.Text)

	// Same Moscow day: overwrite, not a second row.
	updated, err := st.Cards.Save(ctx, 7, "Карта: Луна")
	require.NoError(t, err)
	assert.Equal(t, card.DateKey, updated.DateKey)
	count, _ := st.Cards.Count(ctx)
	assert.Equal(t, 1, count)

	// Past Moscow midnight the old card is gone.
	mem.WithClock(fixedClock(time.Date(2025, 6, 1, 21, 30, 0, 0, time.UTC))) // 00:30 MSK June 2
	_, err = st.Cards.Get(ctx, 7)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, st.Cards.SweepExpired(ctx))
	count, _ = st.Cards.Count(ctx)
	assert.Equal(t, 0, count)
}

func TestCardDeleteOnlyToday(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	mem := New().WithClock(fixedClock(now))
	st := mem.Store()

	_, err := st.Cards.Save(ctx, 7, "текст")
	require.NoError(t, err)

	// Next day the old entry is not deletable by key.
	mem.WithClock(fixedClock(now.Add(24 * time.Hour)))
	err = st.Cards.Delete(ctx, 7)
	assert.ErrorIs(t, err, store.ErrNotFound)

	mem.WithClock(fixedClock(now))
	require.NoError(t, st.Cards.Delete(ctx, 7))
	count, _ := st.Cards.Count(ctx)
	assert.Equal(t, 0, count)
}
