package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/phandanh111/ocr-cccd-card/internal/config"
	"github.com/phandanh111/ocr-cccd-card/internal/models"
	"github.com/phandanh111/ocr-cccd-card/internal/version"
	"github.com/spf13/cobra"
)

var (
	// Global configuration loader.
	configLoader *config.Loader
	// Global configuration.
	globalConfig *config.Config
	// Configuration file path.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "cardocr",
	Short: "Vietnamese ID card OCR pipeline",
	Long: `Reads Vietnamese citizen identity cards (CCCD) from photos.

The pipeline locates the card corners, rectifies the card to a flat crop,
detects the printed fields, and recognizes each field's text with ONNX
Runtime models.

Examples:
  cardocr process photo.jpg
  cardocr process photo.jpg --crop-conf 0.6 --ocr-conf 0.5
  cardocr serve --port 8080`,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, _ := cmd.PersistentFlags().GetBool("version")
		if v {
			ver, commit, date := version.Info()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "cardocr version %s (commit: %s, built: %s)\n",
				ver, commit, date)
			return nil
		}
		return cmd.Help()
	},
}

// Execute runs the root command. Called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetRootCommand returns the root command for testing purposes.
func GetRootCommand() *cobra.Command {
	return rootCmd
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is search in ., $HOME, $HOME/.config/cardocr, /etc/cardocr)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	defaultModelsDir := ""
	if envDir := os.Getenv(models.EnvModelsDir); envDir != "" {
		defaultModelsDir = envDir
	}
	rootCmd.PersistentFlags().String("models-dir", defaultModelsDir,
		"directory containing ONNX models (can also be set via "+models.EnvModelsDir+")")

	rootCmd.PersistentFlags().Bool("version", false, "print version information and exit")

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if globalConfig == nil {
			initConfig()
		}
		applyFlagOverrides(cmd)
		setupLogging()
	}
}

// applyFlagOverrides copies changed persistent flags over the loaded config.
func applyFlagOverrides(cmd *cobra.Command) {
	flags := cmd.Root().PersistentFlags()
	if flags.Changed("log-level") {
		globalConfig.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		globalConfig.LogFormat, _ = flags.GetString("log-format")
	}
	if flags.Changed("models-dir") {
		globalConfig.ModelsDir, _ = flags.GetString("models-dir")
	}
	if v, _ := flags.GetBool("verbose"); v {
		globalConfig.LogLevel = "debug"
	}
}

// setupLogging installs the default slog logger per the config.
func setupLogging() {
	var level slog.Level
	switch globalConfig.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if globalConfig.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// initConfig reads in the config file and environment variables.
func initConfig() {
	configLoader = config.NewLoader()

	var err error
	globalConfig, err = configLoader.LoadWithFile(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
}

// GetConfig returns the global configuration.
func GetConfig() *config.Config {
	if globalConfig == nil {
		initConfig()
	}
	return globalConfig
}
