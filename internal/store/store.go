// Package store defines the repository contracts for users, orders and
// cards of the day. The default backend is in-memory (package memory);
// package postgres implements the same contracts on a pgx pool.
package store

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/Alexbaranow/arkana-women-bot/internal/models"
)

// ErrNotFound is returned when the requested record does not exist or is
// not visible to the caller.
var ErrNotFound = errors.New("record not found")

// FreeQuestionWindow is the cooldown between free questions.
const FreeQuestionWindow = 3 * 24 * time.Hour

// Moscow is the fixed zone that defines the card-of-the-day calendar
// boundary, regardless of server or client timezone.
var Moscow = time.FixedZone("MSK", 3*60*60)

type Users interface {
	// Create registers the user on first contact, or refreshes the name
	// fields on every subsequent one.
	Create(ctx context.Context, telegramID int64, username, firstName, lastName string) (*models.User, error)
	Get(ctx context.Context, telegramID int64) (*models.User, error)
	SetDisplayName(ctx context.Context, telegramID int64, name string) error
	SetBirthDate(ctx context.Context, telegramID int64, birthDate string) error
	// NeedsOnboarding reports whether the user still has to provide a
	// display name (>=2 chars) and a birth date.
	NeedsOnboarding(ctx context.Context, telegramID int64) (bool, error)
	// HasFreeQuestion reports whether the cooldown window has elapsed since
	// the last consumption (or the user never consumed it).
	HasFreeQuestion(ctx context.Context, telegramID int64) (bool, error)
	// UseFreeQuestion stamps now as the last consumption. Silently ignores
	// unknown users.
	UseFreeQuestion(ctx context.Context, telegramID int64) error
	Count(ctx context.Context) (int, error)
}

type Orders interface {
	// Create allocates the next sequential id and stores a pending order.
	Create(ctx context.Context, userID int64, productID, paymentMethod, title string, priceRub, priceStars int) (*models.Order, error)
	Get(ctx context.Context, id int64) (*models.Order, error)
	// GetByPayload resolves an invoice payload of the form "order_<id>".
	GetByPayload(ctx context.Context, payload string) (*models.Order, error)
	// ListByUser returns the user's orders, newest first.
	ListByUser(ctx context.Context, userID int64) ([]models.Order, error)
	// MarkPaid moves the order to paid and stamps paid_at. Calling it on an
	// already paid order re-stamps the time.
	MarkPaid(ctx context.Context, id int64, telegramChargeID string) error
	SetStatus(ctx context.Context, id int64, status string) error
	SetResult(ctx context.Context, id int64, resultText string) error
	// Delete removes the order only when it exists and belongs to userID.
	Delete(ctx context.Context, id int64, userID int64) error
	Count(ctx context.Context) (int, error)
}

type Cards interface {
	// Save stores today's card for the user, overwriting the text and
	// resetting the expiry if one already exists for today.
	Save(ctx context.Context, userID int64, text string) (*models.CardOfTheDay, error)
	// Get returns today's card, or ErrNotFound if absent or expired.
	Get(ctx context.Context, userID int64) (*models.CardOfTheDay, error)
	// Delete removes today's entry for the user; other days stay untouched.
	Delete(ctx context.Context, userID int64) error
	// SweepExpired removes every entry whose expiry has passed.
	SweepExpired(ctx context.Context) error
	Count(ctx context.Context) (int, error)
}

// Store bundles the repositories a deployment provides.
type Store struct {
	Users  Users
	Orders Orders
	Cards  Cards
}

// ParseOrderPayload extracts the order id from an invoice payload of the
// fixed shape "order_<id>".
func ParseOrderPayload(payload string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimPrefix(payload, "order_"), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// DateKey returns the Moscow calendar date (YYYY-MM-DD) for t.
func DateKey(t time.Time) string {
	return t.In(Moscow).Format("2006-01-02")
}

// EndOfDay returns the Moscow end-of-day instant for t's date; a card of
// the day expires at that boundary.
func EndOfDay(t time.Time) time.Time {
	m := t.In(Moscow)
	return time.Date(m.Year(), m.Month(), m.Day(), 23, 59, 59, 999_000_000, Moscow)
}
