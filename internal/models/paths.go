package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Model filenames shipped in the models directory.
const (
	CornerDetection = "corner_det.onnx"
	FieldDetection  = "field_det.onnx"
	TextRecognition = "text_rec.onnx"

	// Character set for the recognizer decoder.
	CharsetVN = "charset_vn.txt"
)

// DefaultModelsDir is the models directory relative to the project root.
const DefaultModelsDir = "models"

// EnvModelsDir overrides the models directory when set.
const EnvModelsDir = "CARDOCR_MODELS_DIR"

// findProjectRoot walks up from the working directory looking for go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", errors.New("project root not found (no go.mod)")
}

// GetModelsDir resolves the models directory.
// Priority: explicit argument, environment variable, project root default.
func GetModelsDir(modelsDir string) string {
	if modelsDir != "" {
		return modelsDir
	}
	if envDir := os.Getenv(EnvModelsDir); envDir != "" {
		return envDir
	}
	if root, err := findProjectRoot(); err == nil {
		return filepath.Join(root, DefaultModelsDir)
	}
	return DefaultModelsDir
}

// ResolvePath joins filename onto the resolved models directory. The path is
// returned whether or not the file exists; callers decide how to handle a
// missing model.
func ResolvePath(modelsDir, filename string) string {
	return filepath.Join(GetModelsDir(modelsDir), filename)
}

// Verify checks that the named model files exist under modelsDir.
func Verify(modelsDir string, filenames ...string) error {
	for _, name := range filenames {
		path := ResolvePath(modelsDir, name)
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("model %s not found at %s: %w", name, path, err)
		}
		if info.IsDir() {
			return fmt.Errorf("model path %s is a directory", path)
		}
	}
	return nil
}
