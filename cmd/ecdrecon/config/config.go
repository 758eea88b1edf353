// Package config assembles component configurations from CLI flag values.
package config

import (
	"ecd-reconciliation-service/internal/pipeline"
	"ecd-reconciliation-service/pkg/logger"
)

// CreateLoggerConfig builds the logger configuration from CLI flags. Verbose
// forces debug level regardless of the configured one.
func CreateLoggerConfig(level, format string, verbose bool) *logger.Config {
	config := logger.DefaultConfig()

	if level != "" {
		config.Level = logger.Level(level)
	}
	if verbose {
		config.Level = logger.DebugLevel
	}
	if format != "" {
		config.Format = logger.Format(format)
	}

	return config
}

// CreatePipelineConfig builds the orchestrator configuration from CLI flags.
func CreatePipelineConfig(layoutDir, catalogPath string, aliasPriority []string, mappingMandatory bool, workers int) *pipeline.Config {
	config := pipeline.DefaultConfig()

	config.LayoutDir = layoutDir
	config.CatalogPath = catalogPath
	config.MappingMandatory = mappingMandatory
	if len(aliasPriority) > 0 {
		config.AliasPriority = aliasPriority
	}
	if workers > 0 {
		config.Workers = workers
	}

	return config
}
