package service

import (
	"context"
	"ecg_rating_backend/internal/util"
	"ecg_rating_backend/pkg/dtree"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// importanceTolerance 特征重要性变化小于该值视为未变化
const importanceTolerance = 1e-9

// Artifact 持久化的评分模型：编码映射 + 回归树。Version 为 0 表示冷启动（未训练）。
type Artifact struct {
	Version      int             `json:"version"`
	TrainedAt    *time.Time      `json:"trained_at,omitempty"`
	TrainingRows int             `json:"training_rows"`
	Encoder      *FeatureEncoder `json:"encoder"`
	Tree         *dtree.Tree     `json:"tree,omitempty"`
	FeatureNames []string        `json:"feature_names"`
	Importances  []float64       `json:"importances,omitempty"`
}

func NewColdStartArtifact() *Artifact {
	enc := NewFeatureEncoder()
	return &Artifact{
		Encoder:      enc,
		FeatureNames: enc.FeatureNames(),
	}
}

func (a *Artifact) Trained() bool {
	return a != nil && a.Tree != nil && a.Tree.Root != nil
}

// ImportanceMap 特征名 -> 重要性
func (a *Artifact) ImportanceMap() map[string]float64 {
	out := make(map[string]float64, len(a.FeatureNames))
	for i, name := range a.FeatureNames {
		if i < len(a.Importances) {
			out[name] = a.Importances[i]
		}
	}
	return out
}

func MarshalArtifact(a *Artifact) ([]byte, error) {
	return json.Marshal(a)
}

func UnmarshalArtifact(data []byte) (*Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrArtifactCorrupt, err)
	}
	if a.Encoder == nil || !a.Encoder.Compatible() {
		return nil, fmt.Errorf("%w: feature columns do not match", util.ErrArtifactCorrupt)
	}
	if a.Tree != nil && a.Tree.NumFeatures != a.Encoder.Width() {
		return nil, fmt.Errorf("%w: tree expects %d features, encoder has %d",
			util.ErrArtifactCorrupt, a.Tree.NumFeatures, a.Encoder.Width())
	}
	if len(a.FeatureNames) == 0 {
		a.FeatureNames = a.Encoder.FeatureNames()
	}
	return &a, nil
}

type RatingModelService struct {
	Store  ArtifactStore
	Logger *zap.Logger
}

func NewRatingModelService(store ArtifactStore, log *zap.Logger) *RatingModelService {
	if log == nil {
		log = zap.NewNop()
	}
	return &RatingModelService{Store: store, Logger: log}
}

// Load 没有模型文件时返回冷启动模型，其余存储错误原样返回
func (s *RatingModelService) Load(ctx context.Context) (*Artifact, error) {
	data, err := s.Store.Load(ctx)
	if errors.Is(err, util.ErrArtifactNotFound) {
		s.Logger.Info("no rating model artifact found, starting cold", zap.String("store", s.Store.Describe()))
		return NewColdStartArtifact(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load rating model: %w", err)
	}
	a, err := UnmarshalArtifact(data)
	if err != nil {
		// 损坏或列不兼容的模型不会自动覆盖，需人工移走后重新冷启动训练
		s.Logger.Error("rating model artifact is unusable, remove or rename it to retrain from cold start",
			zap.String("store", s.Store.Describe()),
			zap.Error(err))
		return nil, err
	}
	return a, nil
}

// Save 版本号在 prev 基础上加一，原子写入后记录特征重要性及其变化
func (s *RatingModelService) Save(ctx context.Context, prev, next *Artifact) error {
	prevVersion := 0
	if prev != nil {
		prevVersion = prev.Version
	}
	next.Version = prevVersion + 1
	if next.Encoder != nil {
		next.FeatureNames = next.Encoder.FeatureNames()
	}

	data, err := MarshalArtifact(next)
	if err != nil {
		return fmt.Errorf("encode rating model: %w", err)
	}
	if err := s.Store.Save(ctx, data); err != nil {
		next.Version = prevVersion
		return fmt.Errorf("save rating model: %w", err)
	}

	for i, name := range next.FeatureNames {
		var imp float64
		if i < len(next.Importances) {
			imp = next.Importances[i]
		}
		s.Logger.Info("feature importance",
			zap.Int("version", next.Version),
			zap.String("feature", name),
			zap.Float64("importance", imp))
	}

	if prev.Trained() {
		delta := maxImportanceDelta(prev, next)
		s.Logger.Info("feature importances compared with previous model",
			zap.Int("previous_version", prev.Version),
			zap.Int("version", next.Version),
			zap.Bool("changed", delta > importanceTolerance),
			zap.Float64("max_delta", delta))
	}
	return nil
}

func maxImportanceDelta(prev, next *Artifact) float64 {
	before, after := prev.ImportanceMap(), next.ImportanceMap()
	var delta float64
	for name, v := range after {
		if d := math.Abs(v - before[name]); d > delta {
			delta = d
		}
	}
	for name, v := range before {
		if _, ok := after[name]; !ok && math.Abs(v) > delta {
			delta = math.Abs(v)
		}
	}
	return delta
}

// Predict 纯函数，不修改 artifact，结果不小于 0
func (s *RatingModelService) Predict(a *Artifact, features []float64) (float64, error) {
	return Predict(a, features)
}

func Predict(a *Artifact, features []float64) (float64, error) {
	if !a.Trained() {
		return 0, util.ErrModelNotTrained
	}
	if len(features) != a.Tree.NumFeatures {
		return 0, fmt.Errorf("%w: got %d, want %d", util.ErrFeatureWidth, len(features), a.Tree.NumFeatures)
	}
	v, err := a.Tree.Predict(features)
	if err != nil {
		return 0, err
	}
	if v < 0 || math.IsNaN(v) {
		return 0, nil
	}
	return v, nil
}
