package controller

import (
	"ecg_rating_backend/internal/model"
	"ecg_rating_backend/internal/service"
	"ecg_rating_backend/internal/util"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type PipelineController struct {
	Pipeline *service.PipelineService
	Model    *service.RatingModelService
}

func NewPipelineController(pipeline *service.PipelineService, m *service.RatingModelService) *PipelineController {
	return &PipelineController{Pipeline: pipeline, Model: m}
}

// PipelineRunResponse 运行记录，stages 已解析
// swagger:model PipelineRunResponse
type PipelineRunResponse struct {
	model.PipelineRun
	Stages []service.StageResult `json:"stages"`
}

// ModelInfoResponse 当前评分模型概况
// swagger:model ModelInfoResponse
type ModelInfoResponse struct {
	Trained      bool               `json:"trained"`
	Version      int                `json:"version"`
	TrainedAt    *time.Time         `json:"trainedAt"`
	TrainingRows int                `json:"trainingRows"`
	Features     []string           `json:"features"`
	Importances  map[string]float64 `json:"importances"`
	Depth        int                `json:"depth"`
	Leaves       int                `json:"leaves"`
	Store        string             `json:"store"`
}

// TriggerRun godoc
// @Summary 手动触发流水线
// @Description 在后台执行 TRAIN -> RATE -> FEEDBACK，已有运行时返回 409
// @Tags 流水线
// @Produce json
// @Security ApiKeyAuth
// @Success 202 {object} util.Response
// @Failure 409 {object} util.Response
// @Router /api/admin/pipeline/run [post]
func (c *PipelineController) TriggerRun(ctx *gin.Context) {
	runID, err := c.Pipeline.Start(ctx.Request.Context(), model.TriggerManual)
	if errors.Is(err, util.ErrRunInProgress) {
		util.Error(ctx, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Accepted(ctx, gin.H{"runId": runID})
}

// ListRuns godoc
// @Summary 最近的流水线运行记录
// @Tags 流水线
// @Produce json
// @Security ApiKeyAuth
// @Param limit query int false "条数" default(20)
// @Success 200 {object} util.Response{data=[]PipelineRunResponse}
// @Router /api/admin/pipeline/runs [get]
func (c *PipelineController) ListRuns(ctx *gin.Context) {
	limit := util.ParseIntDefault(ctx.Query("limit"), 20, 1, 100)
	runs, err := c.Pipeline.RecentRuns(ctx.Request.Context(), limit)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	resp := make([]PipelineRunResponse, 0, len(runs))
	for _, r := range runs {
		stages, err := service.DecodeStages(r.Stages)
		if err != nil {
			stages = nil
		}
		resp = append(resp, PipelineRunResponse{PipelineRun: r, Stages: stages})
	}
	util.Success(ctx, resp)
}

// GetModel godoc
// @Summary 当前评分模型
// @Tags 流水线
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=ModelInfoResponse}
// @Router /api/admin/pipeline/model [get]
func (c *PipelineController) GetModel(ctx *gin.Context) {
	a, err := c.Model.Load(ctx.Request.Context())
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	info := ModelInfoResponse{
		Trained:      a.Trained(),
		Version:      a.Version,
		TrainedAt:    a.TrainedAt,
		TrainingRows: a.TrainingRows,
		Features:     a.FeatureNames,
		Importances:  a.ImportanceMap(),
		Store:        c.Model.Store.Describe(),
	}
	if a.Trained() {
		info.Depth = a.Tree.Depth()
		info.Leaves = a.Tree.Leaves()
	}
	util.Success(ctx, info)
}
