package model

import "time"

// swagger:model Exam
type Exam struct {
	BaseModel
	UserID        string    `gorm:"size:36;index;not null" json:"userId"`
	Title         string    `gorm:"size:100" json:"title"`
	Score         float64   `json:"score"`
	TotalExamTime float64   `json:"totalExamTime"`
	Date          time.Time `json:"date"`
}

func (Exam) TableName() string {
	return "exams"
}
