package model

import "time"

type RunTrigger string

const (
	TriggerSchedule RunTrigger = "schedule"
	TriggerManual   RunTrigger = "manual"
	TriggerCLI      RunTrigger = "cli"
)

// PipelineRun 每次流水线执行的审计记录，Stages 为各阶段结果的 JSON
// swagger:model PipelineRun
type PipelineRun struct {
	UUIDBase
	Trigger      RunTrigger `gorm:"size:20" json:"trigger"`
	State        string     `gorm:"size:20;index" json:"state"`
	StartedAt    time.Time  `gorm:"index" json:"startedAt"`
	FinishedAt   *time.Time `json:"finishedAt"`
	ModelVersion int        `json:"modelVersion"`
	Stages       string     `gorm:"type:text" json:"stages"`
}

func (PipelineRun) TableName() string {
	return "pipeline_runs"
}
