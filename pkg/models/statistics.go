package models

// CategoryStats summarizes a user's progress within one category
type CategoryStats struct {
	Category   string `json:"category" db:"category"`
	TotalItems int    `json:"total_items" db:"total_items"`
	Seen       int    `json:"seen" db:"seen"`
	Due        int    `json:"due" db:"due"`
	New        int    `json:"new" db:"new"`
	Mastered   int    `json:"mastered" db:"mastered"`
}
