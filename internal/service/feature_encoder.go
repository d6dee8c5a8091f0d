package service

import (
	"ecg_rating_backend/internal/model"
	"ecg_rating_backend/internal/util"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

type ColumnKind string

const (
	Categorical ColumnKind = "categorical"
	Numeric     ColumnKind = "numeric"
)

// UnknownCategoryID 推理时遇到训练中未出现过的类别统一编码为 0
const UnknownCategoryID = 0

// 子分类为空（例如 LOW RISK 没有子目录）时使用的类别值
const emptySubSet = "-"

type FeatureColumn struct {
	Name     string     `json:"name"`
	Kind     ColumnKind `json:"kind"`
	Required bool       `json:"required"`
}

// RatingFeatureColumns 特征顺序固定，训练和推理必须一致
var RatingFeatureColumns = []FeatureColumn{
	{Name: "classification_set", Kind: Categorical, Required: true},
	{Name: "classification_subset", Kind: Categorical, Required: false},
	{Name: "answer_submit_time", Kind: Numeric, Required: true},
	{Name: "help_activated", Kind: Numeric, Required: true},
	{Name: "total_train_time", Kind: Numeric, Required: true},
	{Name: "total_answers", Kind: Numeric, Required: true},
	{Name: "academic_institution", Kind: Categorical, Required: true},
}

// FeatureEncoder 类别 -> id 的映射随模型文件一起保存。
// 已分配的 id 永不改变，新类别只会追加。
type FeatureEncoder struct {
	Columns    []FeatureColumn           `json:"columns"`
	Categories map[string]map[string]int `json:"categories"`
}

func NewFeatureEncoder() *FeatureEncoder {
	cols := make([]FeatureColumn, len(RatingFeatureColumns))
	copy(cols, RatingFeatureColumns)
	e := &FeatureEncoder{
		Columns:    cols,
		Categories: make(map[string]map[string]int),
	}
	for _, c := range cols {
		if c.Kind == Categorical {
			e.Categories[c.Name] = make(map[string]int)
		}
	}
	return e
}

// Compatible 列定义与当前代码一致时才能复用旧映射
func (e *FeatureEncoder) Compatible() bool {
	if e == nil || len(e.Columns) != len(RatingFeatureColumns) {
		return false
	}
	for i, c := range e.Columns {
		if c != RatingFeatureColumns[i] {
			return false
		}
	}
	return true
}

func (e *FeatureEncoder) Clone() *FeatureEncoder {
	cols := make([]FeatureColumn, len(e.Columns))
	copy(cols, e.Columns)
	cats := make(map[string]map[string]int, len(e.Categories))
	for col, m := range e.Categories {
		cp := make(map[string]int, len(m))
		for k, v := range m {
			cp[k] = v
		}
		cats[col] = cp
	}
	return &FeatureEncoder{Columns: cols, Categories: cats}
}

func (e *FeatureEncoder) FeatureNames() []string {
	names := make([]string, len(e.Columns))
	for i, c := range e.Columns {
		names[i] = c.Name
	}
	return names
}

func (e *FeatureEncoder) Width() int {
	return len(e.Columns)
}

// Extend 把 rows 中新出现的类别按字典序追加到映射末尾
func (e *FeatureEncoder) Extend(rows []model.FeatureRow) {
	for _, col := range e.Columns {
		if col.Kind != Categorical {
			continue
		}
		mapping, ok := e.Categories[col.Name]
		if !ok {
			mapping = make(map[string]int)
			e.Categories[col.Name] = mapping
		}

		maxID := UnknownCategoryID
		for _, id := range mapping {
			if id > maxID {
				maxID = id
			}
		}

		seen := make(map[string]bool)
		var fresh []string
		for i := range rows {
			v, present := categoricalValue(&rows[i], col.Name)
			if !present {
				continue
			}
			if _, known := mapping[v]; known || seen[v] {
				continue
			}
			seen[v] = true
			fresh = append(fresh, v)
		}
		sort.Strings(fresh)
		for _, v := range fresh {
			maxID++
			mapping[v] = maxID
		}
	}
}

// Encode 缺少必填字段时返回 ErrMissingFeature
func (e *FeatureEncoder) Encode(row *model.FeatureRow) ([]float64, error) {
	vec := make([]float64, len(e.Columns))
	for i, col := range e.Columns {
		switch col.Kind {
		case Categorical:
			v, present := categoricalValue(row, col.Name)
			if !present {
				if col.Required {
					return nil, fmt.Errorf("%w: %s", util.ErrMissingFeature, col.Name)
				}
				vec[i] = UnknownCategoryID
				continue
			}
			id, known := e.Categories[col.Name][v]
			if !known {
				id = UnknownCategoryID
			}
			vec[i] = float64(id)
		case Numeric:
			v, present := numericValue(row, col.Name)
			if !present {
				if col.Required {
					return nil, fmt.Errorf("%w: %s", util.ErrMissingFeature, col.Name)
				}
				continue
			}
			vec[i] = v
		default:
			return nil, fmt.Errorf("unknown column kind %q for %s", col.Kind, col.Name)
		}
	}
	return vec, nil
}

// Complete 过滤缺少必填字段的行，跳过的行记录 warn 日志。
// 类别是否已知不影响结果。
func (e *FeatureEncoder) Complete(rows []model.FeatureRow, log *zap.Logger) []model.FeatureRow {
	_, kept := e.EncodeBatch(rows, log)
	return kept
}

// EncodeBatch 逐行编码，无法编码的行记录 warn 日志后跳过
func (e *FeatureEncoder) EncodeBatch(rows []model.FeatureRow, log *zap.Logger) ([][]float64, []model.FeatureRow) {
	X := make([][]float64, 0, len(rows))
	kept := make([]model.FeatureRow, 0, len(rows))
	for i := range rows {
		vec, err := e.Encode(&rows[i])
		if err != nil {
			log.Warn("skipping feature row",
				zap.String("source", rows[i].Source),
				zap.Uint("answer_id", rows[i].AnswerID),
				zap.String("photo_name", rows[i].PhotoName),
				zap.String("user_id", rows[i].UserID),
				zap.Error(err))
			continue
		}
		X = append(X, vec)
		kept = append(kept, rows[i])
	}
	return X, kept
}

func categoricalValue(row *model.FeatureRow, column string) (string, bool) {
	var p *string
	switch column {
	case "classification_set":
		p = row.ClassificationSet
	case "classification_subset":
		if row.ClassificationSubSet != nil && *row.ClassificationSubSet == "" {
			return emptySubSet, true
		}
		p = row.ClassificationSubSet
	case "academic_institution":
		p = row.AcademicInstitution
	}
	if p == nil || *p == "" {
		return "", false
	}
	return *p, true
}

func numericValue(row *model.FeatureRow, column string) (float64, bool) {
	switch column {
	case "answer_submit_time":
		return deref(row.AnswerSubmitTime)
	case "help_activated":
		if row.HelpActivated == nil {
			return 0, false
		}
		if *row.HelpActivated {
			return 1, true
		}
		return 0, true
	case "total_train_time":
		return deref(row.TotalTrainTime)
	case "total_answers":
		return deref(row.TotalAnswers)
	}
	return 0, false
}

func deref(p *float64) (float64, bool) {
	if p == nil {
		return 0, false
	}
	return *p, true
}
