package model

// 真实分类
const (
	ClassificationLowRisk  = "LOW RISK"
	ClassificationHighRisk = "HIGH RISK"
	ClassificationSTEMI    = "STEMI"
)

// ImageClassification Rate 为空表示尚未评分；只有评分更新服务可以写入
// swagger:model ImageClassification
type ImageClassification struct {
	BaseModel
	PhotoName            string   `gorm:"size:255;uniqueIndex;not null" json:"photoName"`
	ClassificationSet    string   `gorm:"size:100;not null" json:"classificationSet"`
	ClassificationSubSet string   `gorm:"size:100" json:"classificationSubSet"`
	Rate                 *float64 `gorm:"index" json:"rate"`
}

func (ImageClassification) TableName() string {
	return "image_classifications"
}
