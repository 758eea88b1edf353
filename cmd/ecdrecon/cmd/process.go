package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"ecd-reconciliation-service/cmd/ecdrecon/config"
	"ecd-reconciliation-service/internal/pipeline"
	"ecd-reconciliation-service/internal/reporter"
	"ecd-reconciliation-service/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the process command
var (
	layoutDir        string
	catalogPath      string
	aliasPriority    []string
	mappingMandatory bool
	workers          int
	outputFormat     string
	outputFile       string
	logLevel         string
	logFormat        string
)

// processCmd represents the process command
var processCmd = &cobra.Command{
	Use:   "process [files...]",
	Short: "Reconcile a batch of bookkeeping submission files",
	Long: `Process parses each submission file, learns declared reference mappings
across the whole batch, then reconciles every filing against the frozen
consensus. Passing the full multi-year history of a taxpayer in one batch
lets undeclared accounts borrow mappings from neighboring years.

Examples:
  # One filing, company view only
  ecdrecon process --layouts layouts/ file2023.txt

  # Multi-year history with reference projection
  ecdrecon process --layouts layouts/ --catalog ref/index.json \
    file2021.txt file2022.txt file2023.txt

  # Divergences as CSV for triage
  ecdrecon process --layouts layouts/ --output-format csv --output-file div.csv *.txt`,

	Args:    cobra.MinimumNArgs(1),
	PreRunE: validateProcessFlags,
	RunE:    runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)

	// Required flags
	processCmd.Flags().StringVarP(&layoutDir, "layouts", "l", "", "directory holding layout_<version>.json documents (required)")

	// Reference catalog flags
	processCmd.Flags().StringVarP(&catalogPath, "catalog", "c", "", "reference catalog index file (optional)")
	processCmd.Flags().StringSliceVar(&aliasPriority, "alias-priority", nil, "comma-separated reference chart alias funnel override")
	processCmd.Flags().BoolVar(&mappingMandatory, "mapping-mandatory", false, "fail the run when the reference catalog or chart is unreadable")

	// Execution flags
	processCmd.Flags().IntVarP(&workers, "workers", "w", 4, "parallel workers for the learn phase")

	// Output flags
	processCmd.Flags().StringVarP(&outputFormat, "output-format", "f", "console", "output format: console, json, csv")
	processCmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "output file path (default: stdout)")

	// Logging flags
	processCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	processCmd.Flags().StringVar(&logFormat, "log-format", "text", "log format: text, json")

	processCmd.MarkFlagRequired("layouts")

	viper.BindPFlag("layouts", processCmd.Flags().Lookup("layouts"))
	viper.BindPFlag("catalog", processCmd.Flags().Lookup("catalog"))
	viper.BindPFlag("alias-priority", processCmd.Flags().Lookup("alias-priority"))
	viper.BindPFlag("mapping-mandatory", processCmd.Flags().Lookup("mapping-mandatory"))
	viper.BindPFlag("workers", processCmd.Flags().Lookup("workers"))
	viper.BindPFlag("output-format", processCmd.Flags().Lookup("output-format"))
	viper.BindPFlag("output-file", processCmd.Flags().Lookup("output-file"))
	viper.BindPFlag("log-level", processCmd.Flags().Lookup("log-level"))
	viper.BindPFlag("log-format", processCmd.Flags().Lookup("log-format"))
}

func validateProcessFlags(cmd *cobra.Command, args []string) error {
	// Get values from viper (allows override from config file)
	layoutDir = viper.GetString("layouts")
	catalogPath = viper.GetString("catalog")
	aliasPriority = viper.GetStringSlice("alias-priority")
	mappingMandatory = viper.GetBool("mapping-mandatory")
	workers = viper.GetInt("workers")
	outputFormat = viper.GetString("output-format")
	outputFile = viper.GetString("output-file")
	logLevel = viper.GetString("log-level")
	logFormat = viper.GetString("log-format")

	if layoutDir == "" {
		return fmt.Errorf("layouts directory is required")
	}
	info, err := os.Stat(layoutDir)
	if err != nil {
		return fmt.Errorf("layouts directory is not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("layouts path is not a directory: %s", layoutDir)
	}

	if catalogPath != "" {
		if err := validateFileExists(catalogPath, "reference catalog index"); err != nil {
			return err
		}
	}

	for _, path := range args {
		if err := validateFileExists(path, "submission file"); err != nil {
			return err
		}
	}

	if !reporter.OutputFormat(outputFormat).IsValid() {
		return fmt.Errorf("invalid output format '%s'. Valid formats: console, json, csv", outputFormat)
	}

	if workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}

	if outputFile != "" {
		dir := filepath.Dir(outputFile)
		if dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return fmt.Errorf("output directory does not exist: %s", dir)
			}
		}
	}

	return nil
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return fmt.Errorf("%s path cannot be empty", description)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("%s does not exist: %s", description, filePath)
	}
	if err != nil {
		return fmt.Errorf("error accessing %s: %w", description, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%s is a directory, expected a file: %s", description, filePath)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("%s is not readable: %w", description, err)
	}
	file.Close()

	return nil
}

func runProcess(cmd *cobra.Command, args []string) error {
	logConfig := config.CreateLoggerConfig(logLevel, logFormat, viper.GetBool("verbose"))
	log, err := logger.NewLogger(logConfig)
	if err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}
	logger.SetGlobalLogger(log)

	pipelineConfig := config.CreatePipelineConfig(layoutDir, catalogPath, aliasPriority, mappingMandatory, workers)

	orchestrator, err := pipeline.New(pipelineConfig)
	if err != nil {
		return err
	}

	batch := orchestrator.ProcessBatch(args)

	var output *os.File
	if outputFile != "" {
		output, err = os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer output.Close()
	} else {
		output = os.Stdout
	}

	if err := reporter.WriteReport(output, batch, reporter.OutputFormat(outputFormat)); err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}

	if batch.Errors.Total > 0 {
		return batch.Errors
	}
	return nil
}
