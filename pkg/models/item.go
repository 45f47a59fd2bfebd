package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedItem is returned for items the scheduler must never present.
var ErrMalformedItem = errors.New("malformed item")

// Option is one answer choice of an item
type Option struct {
	Text      string `json:"text" yaml:"text" db:"text"`
	IsCorrect bool   `json:"is_correct" yaml:"is_correct" db:"is_correct"`
}

// Item represents a practice question belonging to exactly one category
type Item struct {
	ID          string    `json:"id" yaml:"id" db:"id"`
	Category    string    `json:"category" yaml:"category" db:"category"`
	Prompt      string    `json:"prompt" yaml:"prompt" db:"prompt"`
	Options     []Option  `json:"options" yaml:"options" db:"-"`
	Explanation string    `json:"explanation" yaml:"explanation" db:"explanation"`
	CreatedAt   time.Time `json:"created_at" yaml:"-" db:"created_at"`
}

// Validate reports whether the item can be presented and graded
func (i Item) Validate() error {
	switch {
	case strings.TrimSpace(i.ID) == "":
		return fmt.Errorf("%w: missing id", ErrMalformedItem)
	case strings.TrimSpace(i.Category) == "":
		return fmt.Errorf("%w: item %s has no category", ErrMalformedItem, i.ID)
	case strings.TrimSpace(i.Prompt) == "":
		return fmt.Errorf("%w: item %s has no prompt", ErrMalformedItem, i.ID)
	case len(i.Options) == 0:
		return fmt.Errorf("%w: item %s has no options", ErrMalformedItem, i.ID)
	case len(i.CorrectIndexes()) == 0:
		return fmt.Errorf("%w: item %s has no correct option", ErrMalformedItem, i.ID)
	}
	return nil
}

// CorrectIndexes returns the positions of all correct options
func (i Item) CorrectIndexes() []int {
	var idx []int
	for n, o := range i.Options {
		if o.IsCorrect {
			idx = append(idx, n)
		}
	}
	return idx
}
