package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/example/tradeprep/internal/logger"
	"github.com/example/tradeprep/pkg/models"
)

// ItemStore persists imported items
type ItemStore interface {
	Save(ctx context.Context, item *models.Item) error
}

// ImportConfig defines the import configuration for tabular files
type ImportConfig struct {
	FilePath          string // Path to the .xlsx, .csv, .yaml, .yml or .json file
	SheetName         string // Sheet to import; empty means the first sheet
	StartRow          int    // The row to start importing from (1-based index)
	IDColumn          string // Column with an optional stable item id
	CategoryColumn    string // Column with the category
	PromptColumn      string // Column with the question
	ExplanationColumn string // Column with the explanation
	CorrectColumn     string // Column naming the correct options, e.g. "B" or "A,C" or "2"
	FirstOptionColumn string // First option column; options continue to the end of the row
	DefaultCategory   string // Used when a row has no category
}

// DefaultImportConfig returns the default import configuration
func DefaultImportConfig() ImportConfig {
	return ImportConfig{
		StartRow:          2, // skip header
		IDColumn:          "A",
		CategoryColumn:    "B",
		PromptColumn:      "C",
		ExplanationColumn: "D",
		CorrectColumn:     "E",
		FirstOptionColumn: "F",
	}
}

// ImportResult holds the result of an import operation
type ImportResult struct {
	TotalProcessed int      `json:"total_processed"`
	Saved          int      `json:"saved"`
	Skipped        int      `json:"skipped"`
	Errors         []string `json:"errors"`
}

// record is one candidate item and where it came from. err is set when the
// source row itself was unusable.
type record struct {
	source string
	item   models.Item
	err    error
}

// Importer reads question files and stores the valid items
type Importer struct {
	store ItemStore
	log   *logger.Logger
}

// New creates an importer that saves into store
func New(store ItemStore, log *logger.Logger) *Importer {
	if log == nil {
		log = logger.NewNop()
	}
	return &Importer{store: store, log: log.With("component", "importer")}
}

// Import reads the file named in cfg and saves every valid item. Malformed entries are
// reported in ImportResult.Errors and do not stop the import.
func (im *Importer) Import(ctx context.Context, cfg ImportConfig) (*ImportResult, error) {
	records, result, err := parse(cfg)
	if err != nil {
		return nil, err
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		item := rec.item
		if err := im.store.Save(ctx, &item); err != nil {
			if errors.Is(err, models.ErrMalformedItem) {
				result.Skipped++
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", rec.source, err))
				continue
			}
			return result, fmt.Errorf("failed to save %s: %w", rec.source, err)
		}
		result.Saved++
	}

	im.log.Info("import finished",
		"file", cfg.FilePath,
		"processed", result.TotalProcessed,
		"saved", result.Saved,
		"skipped", result.Skipped,
	)
	return result, nil
}

// ParseFile reads and validates the file named in cfg without saving anything
func ParseFile(cfg ImportConfig) ([]models.Item, *ImportResult, error) {
	records, result, err := parse(cfg)
	if err != nil {
		return nil, nil, err
	}
	items := make([]models.Item, len(records))
	for i, rec := range records {
		items[i] = rec.item
	}
	return items, result, nil
}

func parse(cfg ImportConfig) ([]record, *ImportResult, error) {
	var (
		records []record
		err     error
	)

	switch ext := strings.ToLower(filepath.Ext(cfg.FilePath)); ext {
	case ".xlsx", ".xlsm":
		records, err = readExcel(cfg)
	case ".csv":
		records, err = readCSV(cfg)
	case ".yaml", ".yml", ".json":
		records, err = readStructured(cfg)
	default:
		return nil, nil, fmt.Errorf("unsupported file type %q", ext)
	}
	if err != nil {
		return nil, nil, err
	}

	result := &ImportResult{Errors: make([]string, 0)}
	valid := make([]record, 0, len(records))
	for _, rec := range records {
		result.TotalProcessed++
		if rec.item.ID == "" {
			rec.item.ID = stableID(rec.item.Category, rec.item.Prompt)
		}
		err := rec.err
		if err == nil {
			err = rec.item.Validate()
		}
		if err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", rec.source, err))
			continue
		}
		valid = append(valid, rec)
	}
	return valid, result, nil
}

// stableID derives an id from the category and prompt so re-importing a file updates
// existing items instead of duplicating them
func stableID(category, prompt string) string {
	key := strings.ToLower(strings.TrimSpace(category)) + "\x00" + strings.TrimSpace(prompt)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

func readExcel(cfg ImportConfig) ([]record, error) {
	f, err := excelize.OpenFile(cfg.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheet := cfg.SheetName
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to get rows: %w", err)
	}

	var records []record
	for i, row := range rows {
		if i < cfg.StartRow-1 || blank(row) {
			continue
		}
		records = append(records, rowRecord(row, cfg, fmt.Sprintf("row %d", i+1)))
	}
	return records, nil
}

func readCSV(cfg ImportConfig) ([]record, error) {
	file, err := os.Open(cfg.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1 // options vary per row
	reader.TrimLeadingSpace = true

	var records []record
	rowNum := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading CSV: %w", err)
		}
		rowNum++
		if rowNum < cfg.StartRow || blank(row) {
			continue
		}
		records = append(records, rowRecord(row, cfg, fmt.Sprintf("row %d", rowNum)))
	}
	return records, nil
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func rowRecord(row []string, cfg ImportConfig, source string) record {
	cell := func(column string) string {
		if column == "" {
			return ""
		}
		if idx := columnToIndex(column); idx >= 0 && idx < len(row) {
			return strings.TrimSpace(row[idx])
		}
		return ""
	}

	item := models.Item{
		ID:          cell(cfg.IDColumn),
		Category:    cell(cfg.CategoryColumn),
		Prompt:      cell(cfg.PromptColumn),
		Explanation: cell(cfg.ExplanationColumn),
	}
	if item.Category == "" {
		item.Category = cfg.DefaultCategory
	}

	// answer letters name option columns, so they are applied before blank cells are dropped
	first := columnToIndex(cfg.FirstOptionColumn)
	var cells []string
	if first >= 0 && first < len(row) {
		cells = row[first:]
	}
	correct := make(map[int]bool)
	for _, idx := range parseCorrect(cell(cfg.CorrectColumn)) {
		if idx >= len(cells) || strings.TrimSpace(cells[idx]) == "" {
			err := fmt.Errorf("%w: correct answer %s is an empty option", models.ErrMalformedItem, optionLetter(idx))
			return record{source: source, item: item, err: err}
		}
		correct[idx] = true
	}

	for i, c := range cells {
		text := strings.TrimSpace(c)
		if text == "" {
			continue
		}
		item.Options = append(item.Options, models.Option{Text: text, IsCorrect: correct[i]})
	}
	return record{source: source, item: item}
}

func optionLetter(idx int) string {
	if idx < 26 {
		return string(rune('A' + idx))
	}
	return strconv.Itoa(idx + 1)
}

// parseCorrect reads "B", "a, c" or "1;3" into 0-based option positions
func parseCorrect(s string) []int {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '|'
	})

	var out []int
	for _, f := range fields {
		if n, err := strconv.Atoi(f); err == nil {
			if n >= 1 {
				out = append(out, n-1)
			}
			continue
		}
		if len(f) == 1 {
			c := strings.ToUpper(f)[0]
			if c >= 'A' && c <= 'Z' {
				out = append(out, int(c-'A'))
			}
		}
	}
	return out
}

// Helper function to convert Excel column letter to index
func columnToIndex(column string) int {
	column = strings.ToUpper(strings.TrimSpace(column))
	if column == "" {
		return -1
	}
	index := 0
	for i := 0; i < len(column); i++ {
		if column[i] < 'A' || column[i] > 'Z' {
			return -1
		}
		index = index*26 + int(column[i]-'A'+1)
	}
	return index - 1
}
