package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Model file names.
const (
	NERLexicon = "lexicon.yaml"
	NERONNX    = "ner.onnx"
	NERVocab   = "vocab.txt"
	NERLabels  = "labels.txt"

	TaxonomyCategories = "categories.yaml"
)

// Model type directories.
const (
	TypeNER      = "ner"
	TypeTaxonomy = "taxonomy"
	TypeTessdata = "tessdata"
)

// Default models directory.
const DefaultModelsDir = "models"

// EnvModelsDir overrides the models directory.
const EnvModelsDir = "MEDINVOICE_MODELS_DIR"

// findProjectRoot finds the project root by looking for go.mod.
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
	return "", errors.New("could not find project root (go.mod not found)")
}

// ModelInfo contains metadata about a model file.
type ModelInfo struct {
	Name        string
	Type        string
	Description string
	Filename    string
	Required    bool
}

// GetModelsDir returns the models directory.
// Priority: 1. explicit modelsDir, 2. environment variable, 3. project root + default.
func GetModelsDir(modelsDir string) string {
	if modelsDir != "" {
		return modelsDir
	}
	if envDir := os.Getenv(EnvModelsDir); envDir != "" {
		return envDir
	}
	if projectRoot, err := findProjectRoot(); err == nil {
		return filepath.Join(projectRoot, DefaultModelsDir)
	}
	return DefaultModelsDir
}

// ResolveModelPath resolves a filename under its type directory, falling back
// to a flat layout when the organized path does not exist.
func ResolveModelPath(modelsDir, modelType, filename string) string {
	baseDir := GetModelsDir(modelsDir)
	if modelType != "" {
		organized := filepath.Join(baseDir, modelType, filename)
		if _, err := os.Stat(organized); err == nil {
			return organized
		}
	}
	flat := filepath.Join(baseDir, filename)
	if _, err := os.Stat(flat); err == nil {
		return flat
	}
	if modelType != "" {
		return filepath.Join(baseDir, modelType, filename)
	}
	return flat
}

// GetNERModelPath returns the model path for a NER backend ("lexicon" or "onnx").
func GetNERModelPath(modelsDir, backend string) string {
	if backend == "onnx" {
		return ResolveModelPath(modelsDir, TypeNER, NERONNX)
	}
	return ResolveModelPath(modelsDir, TypeNER, NERLexicon)
}

// SidecarPath returns a file that lives beside modelPath.
func SidecarPath(modelPath, filename string) string {
	return filepath.Join(filepath.Dir(modelPath), filename)
}

// GetTaxonomyPath returns the category taxonomy override path.
func GetTaxonomyPath(modelsDir string) string {
	return ResolveModelPath(modelsDir, TypeTaxonomy, TaxonomyCategories)
}

// GetTessdataDir returns the directory for tesseract language data.
func GetTessdataDir(modelsDir string) string {
	return filepath.Join(GetModelsDir(modelsDir), TypeTessdata)
}

// ValidateModelExists checks if a model file exists at the given path.
func ValidateModelExists(modelPath string) error {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", modelPath)
	}
	return nil
}

// ListAvailableModels returns the model files the pipeline knows about.
func ListAvailableModels() []ModelInfo {
	return []ModelInfo{
		{Name: "ner-lexicon", Type: TypeNER, Description: "Cue word and gazetteer NER model", Filename: NERLexicon},
		{Name: "ner-onnx", Type: TypeNER, Description: "Token classification NER model", Filename: NERONNX},
		{Name: "ner-vocab", Type: TypeNER, Description: "Word vocabulary for the ONNX NER model", Filename: NERVocab},
		{Name: "ner-labels", Type: TypeNER, Description: "BIO label list for the ONNX NER model", Filename: NERLabels},
		{Name: "taxonomy", Type: TypeTaxonomy, Description: "Category keyword taxonomy override", Filename: TaxonomyCategories},
	}
}

// Missing returns the listed models of the given type absent from modelsDir.
func Missing(modelsDir, modelType string) []ModelInfo {
	var out []ModelInfo
	for _, m := range ListAvailableModels() {
		if !strings.EqualFold(m.Type, modelType) {
			continue
		}
		if ValidateModelExists(ResolveModelPath(modelsDir, m.Type, m.Filename)) != nil {
			out = append(out, m)
		}
	}
	return out
}
