// Package postgres implements the store contracts on a pgx pool, for
// single-instance deployments that want state to survive restarts.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/Alexbaranow/arkana-women-bot/internal/models"
	"github.com/Alexbaranow/arkana-women-bot/internal/store"
)

type Config struct {
	Host         string
	Port         string
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
	ConnLifetime time.Duration
}

type Postgres struct {
	pool *pgxpool.Pool
}

func New(cfg Config) (*Postgres, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode, cfg.MaxOpenConns,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DB connection string: %w", err)
	}
	poolConfig.MaxConnLifetime = cfg.ConnLifetime
	poolConfig.MaxConnIdleTime = 15 * time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pg := &Postgres{pool: pool}
	if err := pg.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pg, nil
}

func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// Store returns the repository bundle backed by this pool.
func (p *Postgres) Store() store.Store {
	return store.Store{
		Users:  usersRepo{p.pool},
		Orders: ordersRepo{p.pool},
		Cards:  cardsRepo{p.pool},
	}
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
    telegram_id           BIGINT PRIMARY KEY,
    username              TEXT NOT NULL DEFAULT '',
    first_name            TEXT NOT NULL DEFAULT '',
    last_name             TEXT NOT NULL DEFAULT '',
    display_name          TEXT NOT NULL DEFAULT '',
    birth_date            TEXT NOT NULL DEFAULT '',
    last_free_question_at TIMESTAMPTZ,
    created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS orders (
    id                         BIGSERIAL PRIMARY KEY,
    user_id                    BIGINT NOT NULL,
    product_id                 TEXT NOT NULL,
    product_title              TEXT NOT NULL,
    price_rub                  INT NOT NULL,
    price_stars                INT NOT NULL,
    payment_method             TEXT NOT NULL,
    status                     TEXT NOT NULL DEFAULT 'pending',
    telegram_payment_charge_id TEXT NOT NULL DEFAULT '',
    created_at                 TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    paid_at                    TIMESTAMPTZ,
    result_text                TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS cards_of_the_day (
    user_id    BIGINT NOT NULL,
    date_key   TEXT NOT NULL,
    text       TEXT NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (user_id, date_key)
);
`

// === Users ===

type usersRepo struct{ pool *pgxpool.Pool }

func (r usersRepo) Create(ctx context.Context, telegramID int64, username, firstName, lastName string) (*models.User, error) {
	query := `
        INSERT INTO users (telegram_id, username, first_name, last_name)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (telegram_id) DO UPDATE
        SET username = $2, first_name = $3, last_name = $4
        RETURNING telegram_id, username, first_name, last_name,
                  display_name, birth_date, last_free_question_at, created_at
    `
	var user models.User
	err := r.pool.QueryRow(ctx, query, telegramID, username, firstName, lastName).Scan(
		&user.TelegramID, &user.Username, &user.FirstName, &user.LastName,
		&user.DisplayName, &user.BirthDate, &user.LastFreeQuestionAt, &user.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	return &user, nil
}

func (r usersRepo) Get(ctx context.Context, telegramID int64) (*models.User, error) {
	query := `
        SELECT telegram_id, username, first_name, last_name,
               display_name, birth_date, last_free_question_at, created_at
        FROM users
        WHERE telegram_id = $1
    `
	var user models.User
	err := r.pool.QueryRow(ctx, query, telegramID).Scan(
		&user.TelegramID, &user.Username, &user.FirstName, &user.LastName,
		&user.DisplayName, &user.BirthDate, &user.LastFreeQuestionAt, &user.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r usersRepo) SetDisplayName(ctx context.Context, telegramID int64, name string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET display_name = $2 WHERE telegram_id = $1`, telegramID, name)
	return err
}

func (r usersRepo) SetBirthDate(ctx context.Context, telegramID int64, birthDate string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET birth_date = $2 WHERE telegram_id = $1`, telegramID, birthDate)
	return err
}

func (r usersRepo) NeedsOnboarding(ctx context.Context, telegramID int64) (bool, error) {
	user, err := r.Get(ctx, telegramID)
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return len(user.DisplayName) < 2 || user.BirthDate == "", nil
}

func (r usersRepo) HasFreeQuestion(ctx context.Context, telegramID int64) (bool, error) {
	user, err := r.Get(ctx, telegramID)
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if user.LastFreeQuestionAt == nil {
		return true, nil
	}
	return time.Since(*user.LastFreeQuestionAt) >= store.FreeQuestionWindow, nil
}

func (r usersRepo) UseFreeQuestion(ctx context.Context, telegramID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET last_free_question_at = NOW() WHERE telegram_id = $1`, telegramID)
	return err
}

func (r usersRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

// === Orders ===

type ordersRepo struct{ pool *pgxpool.Pool }

const orderColumns = `id, user_id, product_id, product_title, price_rub, price_stars,
       payment_method, status, telegram_payment_charge_id, created_at, paid_at, result_text`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var order models.Order
	err := row.Scan(
		&order.ID, &order.UserID, &order.ProductID, &order.ProductTitle,
		&order.PriceRub, &order.PriceStars, &order.PaymentMethod, &order.Status,
		&order.TelegramPaymentChargeID, &order.CreatedAt, &order.PaidAt, &order.ResultText,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r ordersRepo) Create(ctx context.Context, userID int64, productID, paymentMethod, title string, priceRub, priceStars int) (*models.Order, error) {
	query := `
        INSERT INTO orders (user_id, product_id, product_title, price_rub, price_stars, payment_method)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING ` + orderColumns
	return scanOrder(r.pool.QueryRow(ctx, query, userID, productID, title, priceRub, priceStars, paymentMethod))
}

func (r ordersRepo) Get(ctx context.Context, id int64) (*models.Order, error) {
	return scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

func (r ordersRepo) GetByPayload(ctx context.Context, payload string) (*models.Order, error) {
	id, ok := store.ParseOrderPayload(payload)
	if !ok {
		return nil, store.ErrNotFound
	}
	return r.Get(ctx, id)
}

func (r ordersRepo) ListByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *order)
	}
	return out, rows.Err()
}

func (r ordersRepo) MarkPaid(ctx context.Context, id int64, telegramChargeID string) error {
	tag, err := r.pool.Exec(ctx, `
        UPDATE orders
        SET status = 'paid',
            paid_at = NOW(),
            telegram_payment_charge_id = CASE WHEN $2 <> '' THEN $2 ELSE telegram_payment_charge_id END
        WHERE id = $1
    `, id, telegramChargeID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r ordersRepo) SetStatus(ctx context.Context, id int64, status string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE orders SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r ordersRepo) SetResult(ctx context.Context, id int64, resultText string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE orders SET result_text = $2 WHERE id = $1`, id, resultText)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r ordersRepo) Delete(ctx context.Context, id int64, userID int64) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM orders WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r ordersRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders`).Scan(&n)
	return n, err
}

// === Cards of the day ===

type cardsRepo struct{ pool *pgxpool.Pool }

func (r cardsRepo) Save(ctx context.Context, userID int64, text string) (*models.CardOfTheDay, error) {
	now := time.Now()
	query := `
        INSERT INTO cards_of_the_day (user_id, date_key, text, expires_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (user_id, date_key) DO UPDATE
        SET text = $3, expires_at = $4
        RETURNING user_id, date_key, text, expires_at, created_at
    `
	var card models.CardOfTheDay
	err := r.pool.QueryRow(ctx, query, userID, store.DateKey(now), text, store.EndOfDay(now)).Scan(
		&card.UserID, &card.DateKey, &card.Text, &card.ExpiresAt, &card.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to save card of the day: %w", err)
	}
	return &card, nil
}

func (r cardsRepo) Get(ctx context.Context, userID int64) (*models.CardOfTheDay, error) {
	query := `
        SELECT user_id, date_key, text, expires_at, created_at
        FROM cards_of_the_day
        WHERE user_id = $1 AND date_key = $2 AND expires_at > NOW()
    `
	var card models.CardOfTheDay
	err := r.pool.QueryRow(ctx, query, userID, store.DateKey(time.Now())).Scan(
		&card.UserID, &card.DateKey, &card.Text, &card.ExpiresAt, &card.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &card, nil
}

func (r cardsRepo) Delete(ctx context.Context, userID int64) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM cards_of_the_day WHERE user_id = $1 AND date_key = $2`,
		userID, store.DateKey(time.Now()))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r cardsRepo) SweepExpired(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM cards_of_the_day WHERE expires_at <= NOW()`)
	return err
}

func (r cardsRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM cards_of_the_day`).Scan(&n)
	return n, err
}
