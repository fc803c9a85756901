package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/regiobank/bankd/internal/platform/auth"
	"github.com/regiobank/bankd/internal/platform/bank"
	"github.com/regiobank/bankd/internal/platform/clock"
	"github.com/regiobank/bankd/internal/platform/config"
	"github.com/regiobank/bankd/internal/platform/logging"
	"github.com/regiobank/bankd/internal/platform/money"
	"github.com/regiobank/bankd/internal/platform/random"
	"github.com/regiobank/bankd/internal/platform/server"
)

const version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	clk := clock.RealClock{}
	rnd := random.CryptoSource{}

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("open database")
		}
		if err := db.PingContext(ctx); err != nil {
			log.Fatal().Err(err).Msg("ping database")
		}
		defer db.Close()
	}

	ledgerCfg, err := buildLedgerConfig(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("ledger configuration")
	}
	cashoutCfg, err := buildCashoutConfig(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("cashout configuration")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := bank.NewMetrics(registry)

	ledger := bank.NewLedgerService(clk, log, ledgerCfg, db)
	ledger.SetMetrics(metrics)
	tan := bank.NewTanService(clk, rnd, bank.LogDeliverySink{Log: log}, log, bank.TanPolicy{
		CodeDigits: cfg.TanCodeLen,
		Retries:    cfg.TanRetries,
		Validity:   cfg.TanValidity,
	}, db)
	tan.SetMetrics(metrics)
	tan.StartCleanupWorker(ctx, time.Hour, 500)
	withdrawals := bank.NewWithdrawalService(clk, ledger, log, db)
	withdrawals.SetMetrics(metrics)
	cashouts := bank.NewCashoutService(clk, ledger, tan, log, cashoutCfg, db)
	cashouts.SetMetrics(metrics)
	tokens := auth.NewTokenService(clk, rnd, log, auth.TokenPolicy{
		DefaultDuration: cfg.TokenDefaultDuration,
		MaxDuration:     cfg.TokenMaxDuration,
	}, db)
	passwords := auth.BcryptPasswords{}

	if err := seedAdmin(ctx, ledger, passwords); err != nil {
		log.Fatal().Err(err).Msg("seed admin account")
	}

	srv := &server.Server{
		Log:                  log,
		Ledger:               ledger,
		Withdrawals:          withdrawals,
		Cashouts:             cashouts,
		Tan:                  tan,
		Tokens:               tokens,
		Passwords:            passwords,
		Metrics:              metrics,
		AllowRegistration:    cfg.AllowRegistration,
		AllowAccountDeletion: cfg.AllowAccountDeletion,
		LongPollMax:          cfg.LongPollMax,
		PromRegistry:         registry,
		Version:              version,
	}

	httpServer := &http.Server{Addr: cfg.Addr, Handler: srv.Router()}
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("currency", cfg.Currency).Msg("bankd listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server stopped")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
}

func buildLedgerConfig(cfg *config.Config) (bank.LedgerConfig, error) {
	out := bank.LedgerConfig{
		Currency:  cfg.Currency,
		PaytoHost: "localhost",
	}
	var err error
	if cfg.DefaultDebtLimit != "" {
		if out.DefaultDebtLimit, err = money.Parse(cfg.DefaultDebtLimit, money.MaxFracDigits); err != nil {
			return out, err
		}
	}
	if cfg.AdminDebtLimit != "" {
		if out.AdminDebtLimit, err = money.Parse(cfg.AdminDebtLimit, money.MaxFracDigits); err != nil {
			return out, err
		}
	}
	return out, nil
}

func buildCashoutConfig(cfg *config.Config) (bank.CashoutConfig, error) {
	out := bank.CashoutConfig{
		Enabled:   cfg.AllowConversion,
		SinkPayto: cfg.CashoutPayto,
	}
	if !out.Enabled {
		return out, nil
	}
	var err error
	if out.Sell.Ratio, err = money.ParseRatio(cfg.ConversionRatioSell); err != nil {
		return out, err
	}
	if out.Sell.Mode, err = money.ParseRoundingMode(cfg.ConversionRounding); err != nil {
		return out, err
	}
	out.Sell.Fee = money.Zero(cfg.FiatCurrency)
	if cfg.ConversionFeeSell != "" {
		if out.Sell.Fee, err = money.Parse(cfg.ConversionFeeSell, money.FiatFracDigits); err != nil {
			return out, err
		}
	}
	out.Sell.Tiny, err = money.New(cfg.FiatCurrency, 0, money.FracBase/100)
	if err != nil {
		return out, err
	}
	if cfg.ConversionTinyAmount != "" {
		if out.Sell.Tiny, err = money.Parse(cfg.ConversionTinyAmount, money.FiatFracDigits); err != nil {
			return out, err
		}
	}
	if cfg.ConversionMinAmount != "" {
		if out.Sell.Min, err = money.Parse(cfg.ConversionMinAmount, money.FiatFracDigits); err != nil {
			return out, err
		}
	}
	// The regional side rounds at its own smallest step.
	out.RegionalTiny, err = money.New(cfg.Currency, 0, 1)
	return out, err
}

// seedAdmin registers the operator account on first start. The password
// comes from the environment; without one, a fresh random password is
// generated and printed once.
func seedAdmin(ctx context.Context, ledger *bank.LedgerService, passwords auth.PasswordService) error {
	password := os.Getenv("BANK_ADMIN_PASSWORD")
	generated := false
	if password == "" {
		digits, err := (random.CryptoSource{}).Digits(16)
		if err != nil {
			return err
		}
		password = digits
		generated = true
	}
	hash, err := passwords.Hash(password)
	if err != nil {
		return err
	}
	_, created, err := ledger.RegisterAccount(ctx, bank.AccountSpec{
		Username:     bank.AdminUsername,
		PasswordHash: hash,
		Name:         "Bank administrator",
	})
	if err != nil {
		return err
	}
	if created && generated {
		os.Stdout.WriteString("generated admin password: " + password + "\n")
	}
	return nil
}
