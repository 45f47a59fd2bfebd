package importer

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/example/tradeprep/pkg/models"
)

// document accepts both the native item list and the question generator's output
type document struct {
	Items     []models.Item       `yaml:"items"`
	Questions []generatedQuestion `yaml:"questions"`
}

type generatedQuestion struct {
	QuestionText  string          `yaml:"question_text"`
	TradeCategory string          `yaml:"trade_category"`
	Explanation   string          `yaml:"explanation"`
	Options       []models.Option `yaml:"options"`
}

// readStructured parses YAML, or JSON as its subset
func readStructured(cfg ImportConfig) ([]record, error) {
	data, err := os.ReadFile(cfg.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		// a bare list of items
		var items []models.Item
		if listErr := yaml.Unmarshal(data, &items); listErr != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", cfg.FilePath, err)
		}
		doc.Items = items
	}

	records := make([]record, 0, len(doc.Items)+len(doc.Questions))
	for i, item := range doc.Items {
		if item.Category == "" {
			item.Category = cfg.DefaultCategory
		}
		records = append(records, record{source: fmt.Sprintf("items[%d]", i), item: item})
	}
	for i, q := range doc.Questions {
		item := models.Item{
			Category:    q.TradeCategory,
			Prompt:      q.QuestionText,
			Explanation: q.Explanation,
			Options:     q.Options,
		}
		if item.Category == "" {
			item.Category = cfg.DefaultCategory
		}
		records = append(records, record{source: fmt.Sprintf("questions[%d]", i), item: item})
	}
	return records, nil
}
