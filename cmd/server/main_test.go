package main

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoadConfig_InvalidBackendIsLogged(t *testing.T) {
	t.Setenv("LEDGER_BACKEND", "bogus")

	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core, zap.WithFatalHook(zapcore.WriteThenPanic))

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Fatal("expected loadConfig to stop on an invalid backend")
			}
		}()
		loadConfig(logger)
	}()

	entries := logs.FilterMessage("Failed to load configuration").All()
	if len(entries) != 1 {
		t.Fatalf("expected one fatal entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.FatalLevel {
		t.Errorf("expected fatal level, got %s", entries[0].Level)
	}
	errMsg, _ := entries[0].ContextMap()["error"].(string)
	if !strings.Contains(errMsg, `invalid LEDGER_BACKEND "bogus"`) {
		t.Errorf("expected the config error in the log, got %q", errMsg)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	for _, key := range []string{"LEDGER_BACKEND", "REFRESH_POLICY_FILE", "REFRESH_PRO_AMOUNT", "REFRESH_FREE_AMOUNT"} {
		t.Setenv(key, "")
	}

	core, logs := observer.New(zap.InfoLevel)
	cfg := loadConfig(zap.New(core))

	if cfg.Backend != "sqlite" {
		t.Errorf("expected sqlite backend by default, got %q", cfg.Backend)
	}
	if logs.Len() != 0 {
		t.Errorf("expected no log entries, got %d", logs.Len())
	}
}
