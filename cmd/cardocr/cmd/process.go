package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/phandanh111/ocr-cccd-card/internal/pipeline"
	"github.com/spf13/cobra"
)

// processCmd represents the process command.
var processCmd = &cobra.Command{
	Use:   "process [image]",
	Short: "Read one ID card photo and print the extracted fields",
	Long: `Process a single card photo through the full pipeline and print the
resulting record as JSON.

Supported formats: JPEG, PNG, BMP

Examples:
  cardocr process photo.jpg
  cardocr process photo.jpg --crop-conf 0.6 --ocr-conf 0.5
  cardocr process photo.jpg --output record.json`,
	Args:         cobra.ArbitraryArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return errors.New("no input file provided")
		}
		if len(args) > 1 {
			return fmt.Errorf("expected one input file, got %d", len(args))
		}

		cfg := GetConfig()

		cropConf := cfg.Pipeline.CropConfidence
		if cmd.Flags().Changed("crop-conf") {
			cropConf, _ = cmd.Flags().GetFloat64("crop-conf")
		}
		ocrConf := cfg.Pipeline.RecognitionConfidence
		if cmd.Flags().Changed("ocr-conf") {
			ocrConf, _ = cmd.Flags().GetFloat64("ocr-conf")
		}
		outputDir := cfg.OutputDir
		if cmd.Flags().Changed("output-dir") {
			outputDir, _ = cmd.Flags().GetString("output-dir")
		}
		useGPU := cfg.GPU.Enabled
		if cmd.Flags().Changed("gpu") {
			useGPU, _ = cmd.Flags().GetBool("gpu")
		}
		deskew := cfg.Pipeline.Deskew
		if cmd.Flags().Changed("no-deskew") {
			noDeskew, _ := cmd.Flags().GetBool("no-deskew")
			deskew = !noDeskew
		}

		if cropConf < 0 || cropConf > 1 {
			return fmt.Errorf("invalid crop confidence: %.2f (must be between 0.0 and 1.0)", cropConf)
		}
		if ocrConf < 0 || ocrConf > 1 {
			return fmt.Errorf("invalid ocr confidence: %.2f (must be between 0.0 and 1.0)", ocrConf)
		}

		if outputDir != "" {
			if err := os.MkdirAll(outputDir, 0o750); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}
		}

		pl, err := pipeline.NewBuilder().
			WithModelsDir(cfg.ModelsDir).
			WithOutputDir(outputDir).
			WithCropConfidence(cropConf).
			WithRecognitionConfidence(ocrConf).
			WithExpandRatio(cfg.Pipeline.ExpandRatio).
			WithTargetAspect(cfg.Pipeline.TargetAspect).
			WithDeskew(deskew).
			WithWorkers(cfg.Pipeline.Workers).
			WithThreads(cfg.Pipeline.NumThreads).
			WithGPU(useGPU).
			Build()
		if err != nil {
			return fmt.Errorf("failed to initialize pipeline: %w", err)
		}
		defer func() { _ = pl.Close() }()

		rec, err := pl.RunFile(context.Background(), args[0], pipeline.Options{})
		if err != nil {
			return fmt.Errorf("processing failed: %w", err)
		}

		data, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return fmt.Errorf("encode record: %w", err)
		}

		outputFile, _ := cmd.Flags().GetString("output")
		if outputFile != "" {
			if err := os.WriteFile(outputFile, append(data, '\n'), 0o600); err != nil {
				return fmt.Errorf("write output file: %w", err)
			}
			return nil
		}

		_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(processCmd)
	processCmd.Flags().Float64("crop-conf", 0.5, "corner detection confidence threshold (0..1)")
	processCmd.Flags().Float64("ocr-conf", 0.4, "text recognition confidence threshold (0..1)")
	processCmd.Flags().StringP("output", "o", "", "write the record JSON to a file instead of stdout")
	processCmd.Flags().String("output-dir", "output", "directory for cropped card images")
	processCmd.Flags().Bool("no-deskew", false, "disable fine top-edge deskew before warping")
	processCmd.Flags().Bool("gpu", false, "run inference on CUDA")
}
