package ai

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Template file names each pipeline stage renders.
const (
	TemplateReceiptParse      = "receipt_parse.txt"
	TemplateProductExtraction = "product_extraction.txt"
	TemplateClassification    = "classification.txt"
	TemplateLabels            = "labels.txt"
)

// Templates loads stage prompts from external text files and substitutes
// {placeholder} tokens. The set is immutable after construction, so
// concurrent runs never share mutable prompt state.
type Templates struct {
	promptsDir string
}

func NewTemplates(promptsDir string) *Templates {
	if promptsDir == "" {
		promptsDir = "prompts" // Default directory
	}
	return &Templates{
		promptsDir: promptsDir,
	}
}

// Render loads a template file and replaces every {name} placeholder with
// its value from vars.
func (t *Templates) Render(filename string, vars map[string]string) (string, error) {
	content, err := t.loadPromptFile(filename)
	if err != nil {
		return "", err
	}

	for name, value := range vars {
		content = strings.Replace(content, "{"+name+"}", value, -1)
	}

	return content, nil
}

func (t *Templates) loadPromptFile(filename string) (string, error) {
	path := filepath.Join(t.promptsDir, filename)
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt file %s: %w", filename, err)
	}
	return strings.TrimSpace(string(content)), nil
}

// Validate checks that all required prompt files exist.
func (t *Templates) Validate() error {
	requiredFiles := []string{
		TemplateReceiptParse,
		TemplateProductExtraction,
		TemplateClassification,
		TemplateLabels,
	}

	for _, file := range requiredFiles {
		path := filepath.Join(t.promptsDir, file)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return fmt.Errorf("required prompt file missing: %s", file)
		}
	}

	return nil
}
