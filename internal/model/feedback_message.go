package model

// FeedbackMessage 站内信渠道的反馈内容
// swagger:model FeedbackMessage
type FeedbackMessage struct {
	BaseModel
	UserID  string `gorm:"size:36;index;not null" json:"userId"`
	RunID   string `gorm:"size:36;index" json:"runId"`
	Subject string `gorm:"size:255" json:"subject"`
	Body    string `gorm:"type:text" json:"body"`
}

func (FeedbackMessage) TableName() string {
	return "feedback_messages"
}
