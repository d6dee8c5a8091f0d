package model

import "time"

// Answer 训练模式下的作答记录，写入后不可修改
// swagger:model Answer
type Answer struct {
	BaseModel
	UserID            string    `gorm:"size:36;index;not null" json:"userId"`
	PhotoName         string    `gorm:"size:255;index;not null" json:"photoName"`
	Date              time.Time `json:"date"`
	ClassificationSrc string    `gorm:"size:100" json:"classificationSrc"` // 用户提交的分类
	ClassificationDes string    `gorm:"size:100" json:"classificationDes"`
	AnswerSubmitTime  *float64  `json:"answerSubmitTime"` // 秒
	AnswerChange      string    `gorm:"size:255" json:"answerChange"`
	AlertActivated    int       `gorm:"default:0" json:"alertActivated"`
	BinaryQuestion    bool      `gorm:"default:false" json:"binaryQuestion"`
	HelpActivated     bool      `gorm:"default:false" json:"helpActivated"`
	HelpTimeActivated int       `gorm:"default:0" json:"helpTimeActivated"`
}

func (Answer) TableName() string {
	return "answers"
}

// ExamAnswer 考试模式下的作答记录
// swagger:model ExamAnswer
type ExamAnswer struct {
	BaseModel
	ExamID                  uint      `gorm:"index" json:"examId"`
	UserID                  string    `gorm:"size:36;index;not null" json:"userId"`
	PhotoName               string    `gorm:"size:255;index;not null" json:"photoName"`
	Date                    time.Time `json:"date"`
	ClassificationSetSrc    string    `gorm:"size:100" json:"classificationSetSrc"`
	ClassificationSubSetSrc string    `gorm:"size:100" json:"classificationSubSetSrc"`
	AnswerSubmitTime        *float64  `json:"answerSubmitTime"`
	HelpActivated           bool      `gorm:"default:false" json:"helpActivated"`
}

func (ExamAnswer) TableName() string {
	return "exam_answers"
}
