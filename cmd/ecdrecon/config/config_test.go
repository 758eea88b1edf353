package config

import (
	"testing"

	"ecd-reconciliation-service/pkg/logger"
)

func TestCreateLoggerConfig(t *testing.T) {
	config := CreateLoggerConfig("warn", "json", false)

	if config.Level != logger.WarnLevel {
		t.Errorf("expected level warn, got %s", config.Level)
	}
	if config.Format != logger.JSONFormat {
		t.Errorf("expected json format, got %s", config.Format)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("logger config should be valid: %v", err)
	}
}

func TestCreateLoggerConfig_VerboseForcesDebug(t *testing.T) {
	config := CreateLoggerConfig("error", "text", true)

	if config.Level != logger.DebugLevel {
		t.Errorf("expected verbose to force debug level, got %s", config.Level)
	}
}

func TestCreateLoggerConfig_Defaults(t *testing.T) {
	config := CreateLoggerConfig("", "", false)

	defaults := logger.DefaultConfig()
	if config.Level != defaults.Level || config.Format != defaults.Format {
		t.Errorf("empty flags should keep defaults, got %+v", config)
	}
}

func TestCreatePipelineConfig(t *testing.T) {
	config := CreatePipelineConfig("layouts/", "ref/index.json", []string{"REF"}, true, 8)

	if config.LayoutDir != "layouts/" {
		t.Errorf("expected LayoutDir 'layouts/', got '%s'", config.LayoutDir)
	}
	if config.CatalogPath != "ref/index.json" {
		t.Errorf("expected CatalogPath 'ref/index.json', got '%s'", config.CatalogPath)
	}
	if !config.MappingMandatory {
		t.Error("expected MappingMandatory to be true")
	}
	if len(config.AliasPriority) != 1 || config.AliasPriority[0] != "REF" {
		t.Errorf("expected alias priority [REF], got %v", config.AliasPriority)
	}
	if config.Workers != 8 {
		t.Errorf("expected 8 workers, got %d", config.Workers)
	}
}

func TestCreatePipelineConfig_KeepsDefaults(t *testing.T) {
	config := CreatePipelineConfig("layouts/", "", nil, false, 0)

	if config.Workers <= 0 {
		t.Errorf("expected default worker count, got %d", config.Workers)
	}
	if config.AliasPriority != nil {
		t.Errorf("expected nil alias priority (catalog default), got %v", config.AliasPriority)
	}
}
