package models

import "time"

// QuizQuestion is a multiple choice question. Answer is the index into Options.
type QuizQuestion struct {
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
	Answer  int      `json:"-"`
}

// EducationModule is a lesson with a quiz and the badge it awards.
type EducationModule struct {
	ID        int64          `json:"id"`
	Slug      string         `json:"slug"`
	Title     string         `json:"title"`
	Content   string         `json:"content"`
	BadgeName string         `json:"badge_name"`
	Questions []QuizQuestion `json:"questions"`
	Enabled   bool           `json:"enabled"`
	Completed bool           `json:"completed"`
}

type Badge struct {
	ModuleID  int64     `json:"module_id"`
	Name      string    `json:"name"`
	Source    string    `json:"source"`
	AwardedBy *int64    `json:"awarded_by,omitempty"`
	AwardedAt time.Time `json:"awarded_at"`
}

type QuizResult struct {
	ModuleID int64 `json:"module_id"`
	Score    int   `json:"score"`
	Total    int   `json:"total"`
	Passed   bool  `json:"passed"`
	Awarded  bool  `json:"badge_awarded"`
}
