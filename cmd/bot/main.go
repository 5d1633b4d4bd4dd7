package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Alexbaranow/arkana-women-bot/config"
	"github.com/Alexbaranow/arkana-women-bot/internal/ai"
	"github.com/Alexbaranow/arkana-women-bot/internal/api"
	"github.com/Alexbaranow/arkana-women-bot/internal/bot"
	"github.com/Alexbaranow/arkana-women-bot/internal/initdata"
	"github.com/Alexbaranow/arkana-women-bot/internal/payment"
	"github.com/Alexbaranow/arkana-women-bot/internal/store"
	"github.com/Alexbaranow/arkana-women-bot/internal/store/memory"
	"github.com/Alexbaranow/arkana-women-bot/internal/store/postgres"
	"github.com/Alexbaranow/arkana-women-bot/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New().Fatal("Failed to load config", "error", err)
	}

	l := logger.For(cfg.Dev.Enabled)
	l.Info("Starting Arkana bot...", "dev", cfg.Dev.Enabled)

	if cfg.Telegram.Token == "" && !cfg.Dev.Enabled {
		l.Fatal("Telegram token is not configured")
	}
	if cfg.OpenAI.APIKey == "" {
		l.Fatal("OpenAI API key is not configured")
	}

	st, cleanup := openStore(cfg, l)
	defer cleanup()

	aiClient := ai.NewClientWithBaseURL(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL).WithModel(cfg.OpenAI.Model)

	var tgBot *bot.Bot
	var invoices api.InvoiceSender
	if cfg.Telegram.Token != "" {
		tgBot, err = bot.NewBot(cfg.Telegram.Token, st, aiClient, cfg.Telegram.WebAppURL, cfg.Telegram.AdminID, l.Named("bot"))
		if err != nil {
			l.Fatal("Failed to create Telegram bot", "error", err)
		}
		invoices = tgBot
	} else {
		l.Warn("No Telegram token; running API only")
	}

	var policy initdata.AuthPolicy
	if cfg.Dev.Enabled {
		policy = initdata.PermissivePolicy{BotToken: cfg.Telegram.Token, FallbackID: cfg.Dev.UserID}
	} else {
		policy = initdata.StrictPolicy{BotToken: cfg.Telegram.Token}
	}

	var linker api.PaymentLinker
	var stripeClient *payment.StripeClient
	if cfg.Stripe.SecretKey != "" {
		stripeClient = payment.NewStripeClient(payment.Config{
			SecretKey:  cfg.Stripe.SecretKey,
			WebhookKey: cfg.Stripe.WebhookKey,
			SuccessURL: cfg.Telegram.WebAppURL,
			CancelURL:  cfg.Telegram.WebAppURL,
		})
		linker = stripeClient
	}

	handler := api.NewHandler(
		policy,
		st,
		aiClient,
		invoices,
		linker,
		api.PaymentConfig{
			CardDescription: cfg.Payment.CardDescription,
			SBPPhone:        cfg.Payment.SBPPhone,
			ExternalURL:     cfg.Payment.ExternalURL,
		},
		cfg.Dev.Enabled,
		l.Named("api"),
	)

	rl := api.NewRateLimiter(30)
	defer rl.Stop()

	router := api.NewRouter(handler, api.RouterConfig{Dev: cfg.Dev.Enabled, RateLimiter: rl}, l.Named("api"))
	if stripeClient != nil && cfg.Stripe.WebhookKey != "" && tgBot != nil {
		mux := chi.NewRouter()
		mux.Post("/webhook/stripe", stripeClient.WebhookHandler(st.Orders, tgBot, l.Named("stripe")))
		mux.Mount("/", router)
		router = mux
	}

	ctx := context.Background()
	if tgBot != nil {
		if err := tgBot.Start(ctx); err != nil {
			l.Fatal("Failed to start Telegram bot", "error", err)
		}
		l.Info("Telegram bot started")
	}

	httpServer := api.NewServer(cfg.Server.Port, router, l.Named("http"))
	go func() {
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal("Failed to start HTTP server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	l.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		l.Error("Error during HTTP server shutdown", "error", err)
	}
	if tgBot != nil {
		if err := tgBot.Stop(shutdownCtx); err != nil {
			l.Error("Error during bot shutdown", "error", err)
		}
	}

	l.Info("Stopped")
}

// openStore connects the configured backend; postgres gets a few retries
// to cover container startup races.
func openStore(cfg *config.Config, l *logger.Logger) (store.Store, func()) {
	if cfg.DB.Driver != "postgres" {
		l.Info("Using in-memory store")
		return memory.New().Store(), func() {}
	}

	var pg *postgres.Postgres
	var err error
	for i := 0; i < 5; i++ {
		pg, err = postgres.New(postgres.Config{
			Host:         cfg.DB.Host,
			Port:         cfg.DB.Port,
			User:         cfg.DB.User,
			Password:     cfg.DB.Password,
			DBName:       cfg.DB.DBName,
			SSLMode:      cfg.DB.SSLMode,
			MaxOpenConns: cfg.DB.MaxOpenConns,
			ConnLifetime: cfg.DB.ConnLifetime,
		})
		if err == nil {
			break
		}
		l.Error("Failed to connect to database, retrying...", "attempt", i+1, "error", err)
		time.Sleep(time.Duration(i+1) * time.Second)
	}
	if pg == nil {
		l.Fatal("Failed to connect to database after multiple attempts", "error", err)
	}

	l.Info("Connected to Postgres", "host", cfg.DB.Host, "db", cfg.DB.DBName)
	return pg.Store(), pg.Close
}
