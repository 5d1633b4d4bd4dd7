// Package memory is the in-process store backend. State lives in plain
// maps and slices guarded by one mutex and is lost on restart.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Alexbaranow/arkana-women-bot/internal/models"
	"github.com/Alexbaranow/arkana-women-bot/internal/store"
)

type Memory struct {
	mu     sync.Mutex
	now    func() time.Time
	users  map[int64]*models.User
	orders []*models.Order
	cards  []*models.CardOfTheDay
	nextID int64
}

// New returns an empty store. The clock is time.Now; tests override it
// with WithClock.
func New() *Memory {
	return &Memory{
		now:    time.Now,
		users:  make(map[int64]*models.User),
		nextID: 1,
	}
}

// WithClock replaces the store's clock.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

// Store returns the repository bundle backed by this instance.
func (m *Memory) Store() store.Store {
	return store.Store{
		Users:  usersRepo{m},
		Orders: ordersRepo{m},
		Cards:  cardsRepo{m},
	}
}

// === Users ===

type usersRepo struct{ m *Memory }

func (r usersRepo) Create(_ context.Context, telegramID int64, username, firstName, lastName string) (*models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	user, ok := r.m.users[telegramID]
	if !ok {
		user = &models.User{
			TelegramID: telegramID,
			Username:   username,
			FirstName:  firstName,
			LastName:   lastName,
			CreatedAt:  r.m.now(),
		}
		r.m.users[telegramID] = user
	} else {
		user.Username = username
		user.FirstName = firstName
		user.LastName = lastName
	}
	cp := *user
	return &cp, nil
}

func (r usersRepo) Get(_ context.Context, telegramID int64) (*models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	user, ok := r.m.users[telegramID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *user
	return &cp, nil
}

func (r usersRepo) SetDisplayName(_ context.Context, telegramID int64, name string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	if user, ok := r.m.users[telegramID]; ok {
		user.DisplayName = strings.TrimSpace(name)
	}
	return nil
}

func (r usersRepo) SetBirthDate(_ context.Context, telegramID int64, birthDate string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	if user, ok := r.m.users[telegramID]; ok {
		user.BirthDate = birthDate
	}
	return nil
}

func (r usersRepo) NeedsOnboarding(_ context.Context, telegramID int64) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	user, ok := r.m.users[telegramID]
	if !ok {
		return true, nil
	}
	hasName := len(strings.TrimSpace(user.DisplayName)) >= 2
	hasDate := strings.TrimSpace(user.BirthDate) != ""
	return !hasName || !hasDate, nil
}

func (r usersRepo) HasFreeQuestion(_ context.Context, telegramID int64) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	user, ok := r.m.users[telegramID]
	if !ok || user.LastFreeQuestionAt == nil {
		return true, nil
	}
	return r.m.now().Sub(*user.LastFreeQuestionAt) >= store.FreeQuestionWindow, nil
}

func (r usersRepo) UseFreeQuestion(_ context.Context, telegramID int64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	if user, ok := r.m.users[telegramID]; ok {
		now := r.m.now()
		user.LastFreeQuestionAt = &now
	}
	return nil
}

func (r usersRepo) Count(_ context.Context) (int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return len(r.m.users), nil
}

// === Orders ===

type ordersRepo struct{ m *Memory }

func (r ordersRepo) Create(_ context.Context, userID int64, productID, paymentMethod, title string, priceRub, priceStars int) (*models.Order, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	order := &models.Order{
		ID:            r.m.nextID,
		UserID:        userID,
		ProductID:     productID,
		ProductTitle:  title,
		PriceRub:      priceRub,
		PriceStars:    priceStars,
		PaymentMethod: paymentMethod,
		Status:        models.OrderStatusPending,
		CreatedAt:     r.m.now(),
	}
	r.m.nextID++
	r.m.orders = append(r.m.orders, order)
	cp := *order
	return &cp, nil
}

func (r ordersRepo) Get(_ context.Context, id int64) (*models.Order, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	order := r.m.findOrder(id)
	if order == nil {
		return nil, store.ErrNotFound
	}
	cp := *order
	return &cp, nil
}

func (r ordersRepo) GetByPayload(ctx context.Context, payload string) (*models.Order, error) {
	id, ok := store.ParseOrderPayload(payload)
	if !ok {
		return nil, store.ErrNotFound
	}
	return r.Get(ctx, id)
}

func (r ordersRepo) ListByUser(_ context.Context, userID int64) ([]models.Order, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	var out []models.Order
	for _, order := range r.m.orders {
		if order.UserID == userID {
			out = append(out, *order)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r ordersRepo) MarkPaid(_ context.Context, id int64, telegramChargeID string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	order := r.m.findOrder(id)
	if order == nil {
		return store.ErrNotFound
	}
	order.Status = models.OrderStatusPaid
	now := r.m.now()
	order.PaidAt = &now
	if telegramChargeID != "" {
		order.TelegramPaymentChargeID = telegramChargeID
	}
	return nil
}

func (r ordersRepo) SetStatus(_ context.Context, id int64, status string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	order := r.m.findOrder(id)
	if order == nil {
		return store.ErrNotFound
	}
	order.Status = status
	return nil
}

func (r ordersRepo) SetResult(_ context.Context, id int64, resultText string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	order := r.m.findOrder(id)
	if order == nil {
		return store.ErrNotFound
	}
	order.ResultText = resultText
	return nil
}

func (r ordersRepo) Delete(_ context.Context, id int64, userID int64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	for i, order := range r.m.orders {
		if order.ID == id && order.UserID == userID {
			r.m.orders = append(r.m.orders[:i], r.m.orders[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (r ordersRepo) Count(_ context.Context) (int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return len(r.m.orders), nil
}

func (m *Memory) findOrder(id int64) *models.Order {
	for _, order := range m.orders {
		if order.ID == id {
			return order
		}
	}
	return nil
}

// === Cards of the day ===

type cardsRepo struct{ m *Memory }

func (r cardsRepo) Save(_ context.Context, userID int64, text string) (*models.CardOfTheDay, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	now := r.m.now()
	dateKey := store.DateKey(now)
	expiresAt := store.EndOfDay(now)

	for _, card := range r.m.cards {
		if card.UserID == userID && card.DateKey == dateKey {
			card.Text = text
			card.ExpiresAt = expiresAt
			cp := *card
			return &cp, nil
		}
	}

	card := &models.CardOfTheDay{
		UserID:    userID,
		DateKey:   dateKey,
		Text:      text,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}
	r.m.cards = append(r.m.cards, card)
	cp := *card
	return &cp, nil
}

func (r cardsRepo) Get(_ context.Context, userID int64) (*models.CardOfTheDay, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	now := r.m.now()
	dateKey := store.DateKey(now)
	for _, card := range r.m.cards {
		if card.UserID == userID && card.DateKey == dateKey {
			if now.After(card.ExpiresAt) {
				return nil, store.ErrNotFound
			}
			cp := *card
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r cardsRepo) Delete(_ context.Context, userID int64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	dateKey := store.DateKey(r.m.now())
	for i, card := range r.m.cards {
		if card.UserID == userID && card.DateKey == dateKey {
			r.m.cards = append(r.m.cards[:i], r.m.cards[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (r cardsRepo) SweepExpired(_ context.Context) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	now := r.m.now()
	kept := r.m.cards[:0]
	for _, card := range r.m.cards {
		if card.ExpiresAt.After(now) {
			kept = append(kept, card)
		}
	}
	r.m.cards = kept
	return nil
}

func (r cardsRepo) Count(_ context.Context) (int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return len(r.m.cards), nil
}
