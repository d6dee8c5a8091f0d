package service

import (
	"context"
	"ecg_rating_backend/internal/model"
	"ecg_rating_backend/internal/repository"
	"ecg_rating_backend/internal/util"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// FeedbackItem 报告中的一行：图像及其难度评分
type FeedbackItem struct {
	PhotoName string   `json:"photoName"`
	Rate      *float64 `json:"rate"`
}

type FeedbackReport struct {
	UserID     string         `json:"userId"`
	Strengths  []FeedbackItem `json:"strengths"`
	Weaknesses []FeedbackItem `json:"weaknesses"`
	Subject    string         `json:"subject"`
	Body       string         `json:"body"`
}

type FeedbackResult struct {
	Recipients int `json:"recipients"`
	Delivered  int `json:"delivered"`
	Failed     int `json:"failed"`
}

var feedbackTemplate = template.Must(template.New("feedback").Funcs(template.FuncMap{
	"rating": formatRating,
}).Parse(`Dear User,

Here is your performance feedback:
{{if .Strengths}}
Strengths:
{{range .Strengths}}- {{.PhotoName}} with a rating of {{rating .Rate}}
{{end}}{{end}}{{if .Weaknesses}}
Areas for Improvement:
{{range .Weaknesses}}- {{.PhotoName}} with a rating of {{rating .Rate}}
{{end}}{{end}}
Keep up the good work and continue to improve!

Best regards,
ECG Analysis Team
`))

func formatRating(r *float64) string {
	if r == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", *r)
}

// PartitionFeedback 真实分类为 LOW RISK 的归入 strengths，其余全部归入 weaknesses
func PartitionFeedback(images []model.AnsweredImage) (strengths, weaknesses []FeedbackItem) {
	strengths = []FeedbackItem{}
	weaknesses = []FeedbackItem{}
	for _, img := range images {
		item := FeedbackItem{PhotoName: img.PhotoName, Rate: img.Rate}
		if img.ClassificationSet == model.ClassificationLowRisk {
			strengths = append(strengths, item)
		} else {
			weaknesses = append(weaknesses, item)
		}
	}
	return strengths, weaknesses
}

func RenderFeedback(report *FeedbackReport) (string, error) {
	var b strings.Builder
	if err := feedbackTemplate.Execute(&b, report); err != nil {
		return "", err
	}
	return b.String(), nil
}

type FeedbackService struct {
	UserRepo   *repository.UserRepository
	RatingRepo *repository.RatingRepository
	Messages   *repository.FeedbackMessageRepository
	Deliverer  Deliverer
	Subject    string
	Logger     *zap.Logger
}

func NewFeedbackService(userRepo *repository.UserRepository, ratingRepo *repository.RatingRepository, messages *repository.FeedbackMessageRepository, deliverer Deliverer, subject string, log *zap.Logger) *FeedbackService {
	if log == nil {
		log = zap.NewNop()
	}
	if subject == "" {
		subject = "Your Performance Feedback"
	}
	return &FeedbackService{
		UserRepo:   userRepo,
		RatingRepo: ratingRepo,
		Messages:   messages,
		Deliverer:  deliverer,
		Subject:    subject,
		Logger:     log,
	}
}

func (s *FeedbackService) GenerateUserFeedback(ctx context.Context, userID string) (*FeedbackReport, error) {
	if _, err := s.UserRepo.FindByID(ctx, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrUserNotFound
		}
		return nil, err
	}
	return s.buildReport(ctx, userID)
}

// LatestMessage 站内信渠道最新一条反馈
func (s *FeedbackService) LatestMessage(ctx context.Context, userID string) (*model.FeedbackMessage, error) {
	msg, err := s.Messages.FindLatestByUser(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return msg, err
}

func (s *FeedbackService) buildReport(ctx context.Context, userID string) (*FeedbackReport, error) {
	images, err := s.RatingRepo.FindAnsweredImages(ctx, userID)
	if err != nil {
		return nil, err
	}
	report := &FeedbackReport{UserID: userID, Subject: s.Subject}
	report.Strengths, report.Weaknesses = PartitionFeedback(images)
	report.Body, err = RenderFeedback(report)
	if err != nil {
		return nil, err
	}
	return report, nil
}

// DeliverAll 向所有开启通知的用户投递反馈。单个用户失败只记录错误，不影响其他用户。
func (s *FeedbackService) DeliverAll(ctx context.Context, runID string) (*FeedbackResult, error) {
	users, err := s.UserRepo.FindFeedbackRecipients(ctx)
	if err != nil {
		s.Logger.Error("failed to list feedback recipients", zap.String("stage", string(StageFeedback)), zap.Error(err))
		return nil, fmt.Errorf("feedback: %w", err)
	}

	result := &FeedbackResult{Recipients: len(users)}
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("feedback: %w", err)
		}
		if err := s.deliverOne(ctx, &u, runID); err != nil {
			result.Failed++
			s.Logger.Error("failed to deliver feedback",
				zap.String("stage", string(StageFeedback)),
				zap.String("user_id", u.ID),
				zap.String("channel", s.Deliverer.Channel()),
				zap.Error(err))
			continue
		}
		result.Delivered++
	}

	s.Logger.Info("feedback delivered",
		zap.String("run_id", runID),
		zap.Int("recipients", result.Recipients),
		zap.Int("delivered", result.Delivered),
		zap.Int("failed", result.Failed))
	return result, nil
}

func (s *FeedbackService) deliverOne(ctx context.Context, u *model.User, runID string) error {
	report, err := s.buildReport(ctx, u.ID)
	if err != nil {
		return err
	}
	to := Recipient{UserID: u.ID, Email: u.Email, RunID: runID}
	if err := s.Deliverer.Deliver(ctx, to, report.Subject, report.Body); err != nil {
		return fmt.Errorf("%w: %v", util.ErrDeliveryFailed, err)
	}
	return nil
}
