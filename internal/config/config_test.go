package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "SERVER_PORT")
	unsetEnvWithCleanup(t, "PORT")
	unsetEnvWithCleanup(t, "LOAN_PROCESSING_FEE_PERCENT")
	unsetEnvWithCleanup(t, "LOAN_LATE_FEE_PERCENT")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default ServerPort 8080, got %q", cfg.ServerPort)
	}
	if cfg.LedgerEventsExchange != "ledger.events" {
		t.Fatalf("expected default events exchange, got %q", cfg.LedgerEventsExchange)
	}
	if cfg.ProcessingFeePercent != 1.0 {
		t.Fatalf("expected default processing fee 1.0, got %f", cfg.ProcessingFeePercent)
	}
	if cfg.LateFeePercent != 5.0 {
		t.Fatalf("expected default late fee 5.0, got %f", cfg.LateFeePercent)
	}
	if cfg.MinLoanTermMonths != 1 || cfg.MaxLoanTermMonths != 36 {
		t.Fatalf("expected default term bounds 1..36, got %d..%d", cfg.MinLoanTermMonths, cfg.MaxLoanTermMonths)
	}
}

func TestLoadConfig_PortEnvOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "8080")
	setEnvWithCleanup(t, "PORT", "9999")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9999" {
		t.Fatalf("expected PORT to take precedence, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_CoercesInvalidFees(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "LOAN_PROCESSING_FEE_PERCENT", "-3")
	setEnvWithCleanup(t, "LOAN_LATE_FEE_PERCENT", "250")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ProcessingFeePercent != 0 {
		t.Fatalf("expected negative processing fee coerced to 0, got %f", cfg.ProcessingFeePercent)
	}
	if cfg.LateFeePercent != 100 {
		t.Fatalf("expected late fee capped at 100, got %f", cfg.LateFeePercent)
	}
}

func TestLoadConfig_InvertedTermBoundsUseMin(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "LOAN_MIN_TERM_MONTHS", "12")
	setEnvWithCleanup(t, "LOAN_MAX_TERM_MONTHS", "6")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.MaxLoanTermMonths != 12 {
		t.Fatalf("expected max term raised to min 12, got %d", cfg.MaxLoanTermMonths)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
