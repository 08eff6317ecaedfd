// Package config loads application settings from files, environment
// variables, and defaults.
package config

import (
	"fmt"
)

// Config is the complete application configuration.
type Config struct {
	ModelsDir string `mapstructure:"models_dir" yaml:"models_dir" json:"models_dir"`
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir" json:"output_dir"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format" json:"log_format"`

	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server" json:"server"`
	GPU      GPUConfig      `mapstructure:"gpu" yaml:"gpu" json:"gpu"`
}

// PipelineConfig contains card-processing settings.
type PipelineConfig struct {
	CropConfidence        float64 `mapstructure:"crop_confidence" yaml:"crop_confidence" json:"crop_confidence"`
	RecognitionConfidence float64 `mapstructure:"recognition_confidence" yaml:"recognition_confidence" json:"recognition_confidence"`
	ExpandRatio           float64 `mapstructure:"expand_ratio" yaml:"expand_ratio" json:"expand_ratio"`
	TargetAspect          float64 `mapstructure:"target_aspect" yaml:"target_aspect" json:"target_aspect"`
	Deskew                bool    `mapstructure:"deskew" yaml:"deskew" json:"deskew"`
	Workers               int     `mapstructure:"workers" yaml:"workers" json:"workers"`
	NumThreads            int     `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds" json:"timeout_seconds"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	RatePerMinute   int    `mapstructure:"rate_per_minute" yaml:"rate_per_minute" json:"rate_per_minute"`
	DailyDataMB     int    `mapstructure:"daily_data_mb" yaml:"daily_data_mb" json:"daily_data_mb"`
	EnableWebSocket bool   `mapstructure:"enable_websocket" yaml:"enable_websocket" json:"enable_websocket"`
}

// GPUConfig contains CUDA settings.
type GPUConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	DeviceID    int    `mapstructure:"device_id" yaml:"device_id" json:"device_id"`
	MemoryLimit uint64 `mapstructure:"memory_limit" yaml:"memory_limit" json:"memory_limit"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		ModelsDir: "",
		OutputDir: "output",
		LogLevel:  "info",
		LogFormat: "text",
		Pipeline: PipelineConfig{
			CropConfidence:        0.5,
			RecognitionConfidence: 0.4,
			ExpandRatio:           0.06,
			TargetAspect:          1.585,
			Deskew:                true,
			Workers:               4,
			NumThreads:            0,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			MaxUploadMB:     16,
			TimeoutSeconds:  120,
			CORSOrigin:      "*",
			RatePerMinute:   60,
			DailyDataMB:     512,
			EnableWebSocket: true,
		},
		GPU: GPUConfig{},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s", c.LogFormat)
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if c.GPU.Enabled && c.GPU.DeviceID < 0 {
		return fmt.Errorf("gpu: device ID must be non-negative, got %d", c.GPU.DeviceID)
	}
	return nil
}

// Validate checks pipeline settings.
func (c *PipelineConfig) Validate() error {
	if c.CropConfidence < 0 || c.CropConfidence > 1 {
		return fmt.Errorf("crop confidence must be in [0,1], got %f", c.CropConfidence)
	}
	if c.RecognitionConfidence < 0 || c.RecognitionConfidence > 1 {
		return fmt.Errorf("recognition confidence must be in [0,1], got %f", c.RecognitionConfidence)
	}
	if c.ExpandRatio < 0 || c.ExpandRatio > 0.5 {
		return fmt.Errorf("expand ratio must be in [0, 0.5], got %f", c.ExpandRatio)
	}
	if c.TargetAspect <= 0 {
		return fmt.Errorf("target aspect must be positive, got %f", c.TargetAspect)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.NumThreads < 0 {
		return fmt.Errorf("num threads must be non-negative, got %d", c.NumThreads)
	}
	return nil
}

// Validate checks server settings.
func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be in [1,65535], got %d", c.Port)
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("max upload size must be positive, got %d", c.MaxUploadMB)
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout must be positive, got %d", c.TimeoutSeconds)
	}
	if c.RatePerMinute < 0 {
		return fmt.Errorf("rate limit must be non-negative, got %d", c.RatePerMinute)
	}
	return nil
}
