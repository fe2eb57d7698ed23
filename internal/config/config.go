/**
 * @description
 * This package handles the configuration management for the service. It uses
 * the Viper library to read configuration from environment variables,
 * providing a centralized and straightforward way to manage application
 * settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the ledger-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string  `mapstructure:"SERVER_PORT"`
	DatabaseURL          string  `mapstructure:"DATABASE_URL"`
	RedisURL             string  `mapstructure:"REDIS_URL"`
	RedisIdempotencyPref string  `mapstructure:"REDIS_IDEMPOTENCY_PREFIX"`
	RabbitMQURL          string  `mapstructure:"RABBITMQ_URL"`
	LedgerEventsExchange string  `mapstructure:"LEDGER_EVENTS_EXCHANGE"`
	GatewayQueue         string  `mapstructure:"GATEWAY_CONFIRMATION_QUEUE"`
	GatewayExchange      string  `mapstructure:"GATEWAY_EXCHANGE"`
	DefaultCurrency      string  `mapstructure:"DEFAULT_CURRENCY"`
	ProcessingFeePercent float64 `mapstructure:"LOAN_PROCESSING_FEE_PERCENT"`
	LateFeePercent       float64 `mapstructure:"LOAN_LATE_FEE_PERCENT"`
	MinLoanTermMonths    int     `mapstructure:"LOAN_MIN_TERM_MONTHS"`
	MaxLoanTermMonths    int     `mapstructure:"LOAN_MAX_TERM_MONTHS"`

	// Per-archetype policy overrides. Zero values leave defaults in place.
	ChamaMaxLoanMultiplier        float64 `mapstructure:"CHAMA_MAX_LOAN_MULTIPLIER"`
	ChamaGuarantorsRequired       int     `mapstructure:"CHAMA_GUARANTORS_REQUIRED"`
	ChamaAnnualInterestRate       float64 `mapstructure:"CHAMA_ANNUAL_INTEREST_RATE"`
	SaccoMaxLoanMultiplier        float64 `mapstructure:"SACCO_MAX_LOAN_MULTIPLIER"`
	SaccoGuarantorsRequired       int     `mapstructure:"SACCO_GUARANTORS_REQUIRED"`
	SaccoAnnualInterestRate       float64 `mapstructure:"SACCO_ANNUAL_INTEREST_RATE"`
	TableBankingAnnualRate        float64 `mapstructure:"TABLE_BANKING_ANNUAL_INTEREST_RATE"`
	InvestmentClubAnnualRate      float64 `mapstructure:"INVESTMENT_CLUB_ANNUAL_INTEREST_RATE"`
	InvestmentClubMaxLoanMultiple float64 `mapstructure:"INVESTMENT_CLUB_MAX_LOAN_MULTIPLIER"`
}

// LoadConfig reads configuration from environment variables from the given
// path. It uses Viper to automatically bind environment variables to the
// Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("LEDGER_EVENTS_EXCHANGE", "ledger.events")
	viper.SetDefault("GATEWAY_CONFIRMATION_QUEUE", "ledger_service.gateway_confirmations")
	viper.SetDefault("GATEWAY_EXCHANGE", "gateway.events")
	viper.SetDefault("DEFAULT_CURRENCY", "KES")
	viper.SetDefault("REDIS_IDEMPOTENCY_PREFIX", "ledger:gateway_ref")
	viper.SetDefault("LOAN_PROCESSING_FEE_PERCENT", 1.0)
	viper.SetDefault("LOAN_LATE_FEE_PERCENT", 5.0)
	viper.SetDefault("LOAN_MIN_TERM_MONTHS", 1)
	viper.SetDefault("LOAN_MAX_TERM_MONTHS", 36)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "LEDGER_REDIS_URL")
	_ = viper.BindEnv("REDIS_IDEMPOTENCY_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("LEDGER_EVENTS_EXCHANGE")
	_ = viper.BindEnv("GATEWAY_CONFIRMATION_QUEUE")
	_ = viper.BindEnv("GATEWAY_EXCHANGE")
	_ = viper.BindEnv("DEFAULT_CURRENCY")
	_ = viper.BindEnv("LOAN_PROCESSING_FEE_PERCENT")
	_ = viper.BindEnv("LOAN_LATE_FEE_PERCENT")
	_ = viper.BindEnv("LOAN_MIN_TERM_MONTHS")
	_ = viper.BindEnv("LOAN_MAX_TERM_MONTHS")
	_ = viper.BindEnv("CHAMA_MAX_LOAN_MULTIPLIER")
	_ = viper.BindEnv("CHAMA_GUARANTORS_REQUIRED")
	_ = viper.BindEnv("CHAMA_ANNUAL_INTEREST_RATE")
	_ = viper.BindEnv("SACCO_MAX_LOAN_MULTIPLIER")
	_ = viper.BindEnv("SACCO_GUARANTORS_REQUIRED")
	_ = viper.BindEnv("SACCO_ANNUAL_INTEREST_RATE")
	_ = viper.BindEnv("TABLE_BANKING_ANNUAL_INTEREST_RATE")
	_ = viper.BindEnv("INVESTMENT_CLUB_ANNUAL_INTEREST_RATE")
	_ = viper.BindEnv("INVESTMENT_CLUB_MAX_LOAN_MULTIPLIER")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisIdempotencyPref = strings.TrimSpace(config.RedisIdempotencyPref)
	if config.RedisIdempotencyPref == "" {
		config.RedisIdempotencyPref = "ledger:gateway_ref"
	}
	config.DefaultCurrency = strings.ToUpper(strings.TrimSpace(config.DefaultCurrency))
	if config.DefaultCurrency == "" {
		config.DefaultCurrency = "KES"
	}

	if config.ProcessingFeePercent < 0 {
		log.Printf("level=warn component=config msg=\"negative processing fee configured; coercing to zero\" fee_percent=%f", config.ProcessingFeePercent)
		config.ProcessingFeePercent = 0
	}
	if config.LateFeePercent < 0 {
		log.Printf("level=warn component=config msg=\"negative late fee configured; coercing to zero\" fee_percent=%f", config.LateFeePercent)
		config.LateFeePercent = 0
	}
	if config.LateFeePercent > 100 {
		log.Printf("level=warn component=config msg=\"late fee percent too high; capping at 100\" fee_percent=%f", config.LateFeePercent)
		config.LateFeePercent = 100
	}
	if config.MinLoanTermMonths <= 0 {
		config.MinLoanTermMonths = 1
	}
	if config.MaxLoanTermMonths < config.MinLoanTermMonths {
		log.Printf("level=warn component=config msg=\"max loan term below min; using min\" min=%d max=%d",
			config.MinLoanTermMonths, config.MaxLoanTermMonths)
		config.MaxLoanTermMonths = config.MinLoanTermMonths
	}

	return
}
