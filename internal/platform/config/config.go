package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is loaded once in main and passed down as an immutable value.
type Config struct {
	Addr        string `env:"BANK_ADDR" env-default:"localhost:8080"`
	DatabaseURL string `env:"BANK_DATABASE_URL"`
	LogLevel    string `env:"BANK_LOG_LEVEL" env-default:"info"`
	LogPretty   bool   `env:"BANK_LOG_PRETTY" env-default:"false"`

	// Currency is the single regional currency every ledger account is
	// denominated in. FiatCurrency is the cashout target.
	Currency     string `env:"BANK_CURRENCY" env-default:"KUDOS"`
	FiatCurrency string `env:"BANK_FIAT_CURRENCY" env-default:"EUR"`

	// DefaultDebtLimit applies to customer accounts at registration;
	// the admin account gets AdminDebtLimit (it funds withdrawals).
	DefaultDebtLimit string `env:"BANK_DEFAULT_DEBT_LIMIT" env-default:""`
	AdminDebtLimit   string `env:"BANK_ADMIN_DEBT_LIMIT" env-default:""`

	AllowRegistration     bool   `env:"BANK_ALLOW_REGISTRATION" env-default:"true"`
	AllowAccountDeletion  bool   `env:"BANK_ALLOW_ACCOUNT_DELETION" env-default:"true"`
	AllowConversion       bool   `env:"BANK_ALLOW_CONVERSION" env-default:"false"`
	CashoutPayto          string `env:"BANK_CASHOUT_PAYTO" env-default:"payto://iban/CASHOUT"`
	ConversionRatioBuy    string `env:"BANK_CONVERSION_RATIO_BUY" env-default:"1"`
	ConversionRatioSell   string `env:"BANK_CONVERSION_RATIO_SELL" env-default:"1"`
	ConversionFeeBuy      string `env:"BANK_CONVERSION_FEE_BUY" env-default:""`
	ConversionFeeSell     string `env:"BANK_CONVERSION_FEE_SELL" env-default:""`
	ConversionTinyAmount  string `env:"BANK_CONVERSION_TINY_AMOUNT" env-default:""`
	ConversionMinAmount   string `env:"BANK_CONVERSION_MIN_AMOUNT" env-default:""`
	ConversionRounding    string `env:"BANK_CONVERSION_ROUNDING" env-default:"zero"`

	TanRetries  int           `env:"BANK_TAN_RETRIES" env-default:"3"`
	TanValidity time.Duration `env:"BANK_TAN_VALIDITY" env-default:"1h"`
	TanCodeLen  int           `env:"BANK_TAN_CODE_LEN" env-default:"8"`

	TokenDefaultDuration time.Duration `env:"BANK_TOKEN_DEFAULT_DURATION" env-default:"24h"`
	TokenMaxDuration     time.Duration `env:"BANK_TOKEN_MAX_DURATION" env-default:"720h"`

	LongPollMax time.Duration `env:"BANK_LONG_POLL_MAX" env-default:"30s"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	flag.StringVar(&cfg.Addr, "a", "localhost:8080", "HTTP listen address")
	flag.StringVar(&cfg.DatabaseURL, "d", "", "postgres database URL")
	flag.Parse()

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("couldn't read environment variables: %w", err)
	}

	return cfg, nil
}
