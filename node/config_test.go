package node

import "testing"

func TestValidateConfigOK(t *testing.T) {
	cfg := DefaultConfig()
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateConfigRejectsBadLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "verbose"
	if err := ValidateConfig(cfg); err == nil {
		t.Fatalf("expected error for invalid log level")
	}
}

func TestValidateConfigRejectsZeroWorkers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TxPoolWorkers = 0
	if err := ValidateConfig(cfg); err == nil {
		t.Fatalf("expected error for zero pool workers")
	}
}

func TestValidateConfigRejectsZeroReplayWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReplayWindow = 0
	if err := ValidateConfig(cfg); err == nil {
		t.Fatalf("expected error for zero replay window")
	}
}

func TestValidateConfigRejectsEmptyDataDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = ""
	if err := ValidateConfig(cfg); err == nil {
		t.Fatalf("expected error for empty data dir")
	}
}
