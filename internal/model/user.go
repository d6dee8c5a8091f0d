package model

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

// User 行为计数只累加，不删除
// swagger:model User
type User struct {
	UUIDBase
	Email               string   `gorm:"size:100;uniqueIndex" json:"email"`
	Role                UserRole `gorm:"size:20;default:'user'" json:"role"`
	Age                 int      `json:"age"`
	Gender              string   `gorm:"size:20" json:"gender"`
	AvgDegree           float64  `json:"avgDegree"`
	AcademicInstitution string   `gorm:"size:200" json:"academicInstitution"`
	TotalEntries        int      `gorm:"default:0" json:"totalEntries"`
	TotalAnswers        int      `gorm:"default:0" json:"totalAnswers"`
	TotalExams          int      `gorm:"default:0" json:"totalExams"`
	AvgExamTime         float64  `gorm:"default:0" json:"avgExamTime"`
	TotalTrainTime      float64  `gorm:"default:0" json:"totalTrainTime"` // 秒
	AvgAnswers          float64  `gorm:"default:0" json:"avgAnswers"`
	AvgScore            float64  `gorm:"default:0" json:"avgScore"`
	Notification        bool     `gorm:"default:false;index" json:"notification"` // 是否接收反馈
}

func (User) TableName() string {
	return "users"
}
