package model

// FeatureRow 作答 + 用户 + 图像连接后的一行特征，指针字段为空表示连接缺失
type FeatureRow struct {
	Source               string   `json:"source"` // answer | exam
	AnswerID             uint     `json:"answerId"`
	ImageID              uint     `json:"imageId"`
	PhotoName            string   `json:"photoName"`
	UserID               string   `json:"userId"`
	ClassificationSet    *string  `json:"classificationSet"`
	ClassificationSubSet *string  `json:"classificationSubSet"`
	AnswerSubmitTime     *float64 `json:"answerSubmitTime"`
	HelpActivated        *bool    `json:"helpActivated"`
	TotalTrainTime       *float64 `json:"totalTrainTime"`
	TotalAnswers         *float64 `json:"totalAnswers"`
	AcademicInstitution  *string  `json:"academicInstitution"`
	Rate                 *float64 `json:"rate"`
}

// AnsweredImage 用户作答过的图像及其评分，用于生成反馈
type AnsweredImage struct {
	ImageID           uint     `json:"imageId"`
	PhotoName         string   `json:"photoName"`
	ClassificationSet string   `json:"classificationSet"`
	Rate              *float64 `json:"rate"`
}
