package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestValidateAccumulatesErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "turbo"
	cfg.Paths.MinLength = 1
	cfg.Paths.StartAssets = nil
	cfg.RiskModel.MinLegFillRatio = "1.5"
	cfg.Execution.InputNotional = "-10"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{
		"unknown mode",
		"min_length must be >= 2",
		"start_assets must not be empty",
		"min_leg_fill_ratio must be in (0, 1]",
		"input_notional must be > 0",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "serve"

[paths]
max_length = 4

[risk_model]
staleness_bound = "750ms"

[execution]
tick_interval = "250ms"

[[markets]]
exchange = "binance"
symbol = "BTC/USDC"
base = "BTC"
quote = "USDC"
taker_fee = "0.001"
min_notional = "5"
price_tick = "0.01"
qty_tick = "0.00001"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("ARBSCAN_MODE", "full")
	t.Setenv("ARBSCAN_EXECUTION_INPUT_NOTIONAL", "2500")
	t.Setenv("ARBSCAN_BINANCE_API_KEY", "env-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Mode != "full" {
		t.Errorf("mode = %q, want env override full", cfg.Mode)
	}
	if cfg.Paths.MaxLength != 4 {
		t.Errorf("max_length = %d, want 4 from file", cfg.Paths.MaxLength)
	}
	if cfg.Paths.MinLength != 2 {
		t.Errorf("min_length = %d, want default 2", cfg.Paths.MinLength)
	}
	if cfg.RiskModel.StalenessBound.Duration != 750*time.Millisecond {
		t.Errorf("staleness_bound = %v, want 750ms", cfg.RiskModel.StalenessBound.Duration)
	}
	if cfg.Execution.TickInterval.Duration != 250*time.Millisecond {
		t.Errorf("tick_interval = %v, want 250ms", cfg.Execution.TickInterval.Duration)
	}
	if cfg.Execution.InputNotional != "2500" {
		t.Errorf("input_notional = %q, want env override 2500", cfg.Execution.InputNotional)
	}
	if got := cfg.Exchanges["binance"].ApiKey; got != "env-key" {
		t.Errorf("binance api_key = %q, want env-key", got)
	}
	if len(cfg.Markets) != 1 || cfg.Markets[0].Symbol != "BTC/USDC" {
		t.Errorf("markets = %+v, want the one static descriptor", cfg.Markets)
	}
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := Defaults()
	ex := cfg.Exchanges["binance"]
	ex.ApiKey = "key"
	ex.ApiSecret = "secret"
	cfg.Exchanges["binance"] = ex
	cfg.Redis.Password = "hunter2"
	cfg.Postgres.Password = "hunter2"
	cfg.Server.ApiKey = "ops-key"
	cfg.Notify.TelegramToken = "123:abc"

	red := RedactedConfig(&cfg)

	if red.Exchanges["binance"].ApiSecret != "***" || red.Exchanges["binance"].ApiKey != "***" {
		t.Error("exchange credentials not redacted")
	}
	if red.Redis.Password != "***" || red.Postgres.Password != "***" {
		t.Error("datastore passwords not redacted")
	}
	if red.Server.ApiKey != "***" || red.Notify.TelegramToken != "***" {
		t.Error("server/notify secrets not redacted")
	}
	if cfg.Redis.Password != "hunter2" {
		t.Error("redaction mutated the original config")
	}

	red.Paths.StartAssets[0] = "XXX"
	if cfg.Paths.StartAssets[0] == "XXX" {
		t.Error("redacted copy shares start_assets slice with the original")
	}
}
