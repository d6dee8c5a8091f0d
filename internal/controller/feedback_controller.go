package controller

import (
	"ecg_rating_backend/internal/service"
	"ecg_rating_backend/internal/util"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

type FeedbackController struct {
	Feedback *service.FeedbackService
}

func NewFeedbackController(feedback *service.FeedbackService) *FeedbackController {
	return &FeedbackController{Feedback: feedback}
}

// PreviewFeedback godoc
// @Summary 预览用户反馈
// @Description 生成但不投递
// @Tags 反馈
// @Produce json
// @Security ApiKeyAuth
// @Param userId path string true "用户ID"
// @Success 200 {object} util.Response{data=service.FeedbackReport}
// @Failure 404 {object} util.Response
// @Router /api/admin/feedback/{userId}/preview [get]
func (c *FeedbackController) PreviewFeedback(ctx *gin.Context) {
	report, err := c.Feedback.GenerateUserFeedback(ctx.Request.Context(), ctx.Param("userId"))
	if errors.Is(err, util.ErrUserNotFound) {
		util.Error(ctx, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, report)
}

// GetLatest godoc
// @Summary 我的最新反馈
// @Tags 反馈
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=model.FeedbackMessage}
// @Failure 404 {object} util.Response
// @Router /api/feedback/latest [get]
func (c *FeedbackController) GetLatest(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}
	msg, err := c.Feedback.LatestMessage(ctx.Request.Context(), claims.UserID)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	if msg == nil {
		util.NotFound(ctx)
		return
	}
	util.Success(ctx, msg)
}
