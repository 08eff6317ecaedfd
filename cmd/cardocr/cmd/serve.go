package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phandanh111/ocr-cccd-card/internal/pipeline"
	"github.com/phandanh111/ocr-cccd-card/internal/server"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server for the card OCR API",
	Long: `Start an HTTP server exposing the card-reading pipeline.

Endpoints:
  POST   /api/ocr           - Process an uploaded card photo
  GET    /api/health        - Health check
  GET    /api/history       - List processed records (paginated)
  GET    /api/history/{id}  - Fetch one record
  DELETE /api/history/{id}  - Delete one record
  GET    /api/export/{fmt}  - Export history as csv or json
  GET    /api/ocr/ws        - WebSocket card OCR
  GET    /metrics           - Prometheus metrics

Examples:
  cardocr serve
  cardocr serve --port 8080
  cardocr serve --host 0.0.0.0 --port 3000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		host := cfg.Server.Host
		if cmd.Flags().Changed("host") {
			host, _ = cmd.Flags().GetString("host")
		}
		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}
		corsOrigin := cfg.Server.CORSOrigin
		if cmd.Flags().Changed("cors-origin") {
			corsOrigin, _ = cmd.Flags().GetString("cors-origin")
		}
		maxUploadMB := cfg.Server.MaxUploadMB
		if cmd.Flags().Changed("max-upload-size") {
			maxUploadMB, _ = cmd.Flags().GetInt("max-upload-size")
		}
		timeout := cfg.Server.TimeoutSeconds
		if cmd.Flags().Changed("timeout") {
			timeout, _ = cmd.Flags().GetInt("timeout")
		}
		ratePerMinute := cfg.Server.RatePerMinute
		if cmd.Flags().Changed("requests-per-minute") {
			ratePerMinute, _ = cmd.Flags().GetInt("requests-per-minute")
		}
		dailyDataMB := cfg.Server.DailyDataMB
		if cmd.Flags().Changed("daily-data-mb") {
			dailyDataMB, _ = cmd.Flags().GetInt("daily-data-mb")
		}
		shutdownTimeout, _ := cmd.Flags().GetInt("shutdown-timeout")
		useGPU := cfg.GPU.Enabled
		if cmd.Flags().Changed("gpu") {
			useGPU, _ = cmd.Flags().GetBool("gpu")
		}

		if port < 1 || port > 65535 {
			return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", port)
		}

		if cfg.OutputDir != "" {
			if err := os.MkdirAll(cfg.OutputDir, 0o750); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}
		}

		pCfg := pipeline.NewBuilder().
			WithModelsDir(cfg.ModelsDir).
			WithOutputDir(cfg.OutputDir).
			WithCropConfidence(cfg.Pipeline.CropConfidence).
			WithRecognitionConfidence(cfg.Pipeline.RecognitionConfidence).
			WithExpandRatio(cfg.Pipeline.ExpandRatio).
			WithTargetAspect(cfg.Pipeline.TargetAspect).
			WithDeskew(cfg.Pipeline.Deskew).
			WithWorkers(cfg.Pipeline.Workers).
			WithThreads(cfg.Pipeline.NumThreads).
			WithGPU(useGPU).
			Config()

		serverConfig := server.Config{
			Host:            host,
			Port:            port,
			CORSOrigin:      corsOrigin,
			MaxUploadMB:     int64(maxUploadMB),
			TimeoutSec:      timeout,
			RatePerMinute:   ratePerMinute,
			DailyDataMB:     int64(dailyDataMB),
			EnableWebSocket: cfg.Server.EnableWebSocket,
			PipelineConfig:  pCfg,
		}

		ocrServer, err := server.NewServer(serverConfig)
		if err != nil {
			return fmt.Errorf("failed to initialize server: %w", err)
		}
		defer func() { _ = ocrServer.Close() }()

		httpServer := ocrServer.HTTPServer(host, port)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go func() {
			slog.Info("starting card OCR server", "host", host, "port", port)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("server error", "error", err)
				cancel()
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

		select {
		case sig := <-sigChan:
			slog.Info("received shutdown signal", "signal", sig.String())
		case <-ctx.Done():
			slog.Info("context cancelled, initiating shutdown")
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
			time.Duration(shutdownTimeout)*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
		if err := ocrServer.Close(); err != nil {
			slog.Error("server cleanup error", "error", err)
		}

		slog.Info("graceful shutdown completed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "0.0.0.0", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("max-upload-size", 16, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 120, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	serveCmd.Flags().Int("requests-per-minute", 60, "maximum requests per minute per client (0 disables)")
	serveCmd.Flags().Int("daily-data-mb", 512, "maximum uploaded data per day per client in MB (0 disables)")
	serveCmd.Flags().Bool("gpu", false, "run inference on CUDA")
}
