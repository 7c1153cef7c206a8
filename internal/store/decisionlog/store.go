// Package decisionlog 以追加方式持久化决策与结算反馈。
package decisionlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"tradeloop/internal/policy"
)

// DecisionModel 一行一条决策，Payload 保留完整决策 JSON。
type DecisionModel struct {
	ID              string `gorm:"primaryKey;size:40"`
	Symbol          string `gorm:"index;size:32"`
	Action          string `gorm:"size:8;index"`
	Method          string `gorm:"size:16"`
	Confidence      float64
	PredictedChange float64
	RiskTolerance   float64
	Payload         datatypes.JSON
	CreatedAt       time.Time `gorm:"index"`
}

func (DecisionModel) TableName() string { return "decisions" }

// FeedbackModel 一行一条结算反馈。
type FeedbackModel struct {
	ID              uint   `gorm:"primaryKey"`
	DecisionID      string `gorm:"index;size:40"`
	Symbol          string `gorm:"index;size:32"`
	Action          string `gorm:"size:8"`
	PredictedChange float64
	ActualChange    float64
	PredictionError float64
	IsAccurate      bool
	WasCorrect      bool
	Confidence      float64
	ProfitLoss      float64
	Payload         datatypes.JSON
	CreatedAt       time.Time `gorm:"index"`
}

func (FeedbackModel) TableName() string { return "feedback" }

// FeedbackEntry 是对外的反馈视图。
type FeedbackEntry struct {
	DecisionID      string    `json:"decision_id"`
	Symbol          string    `json:"symbol"`
	Action          string    `json:"action"`
	PredictedChange float64   `json:"predicted_change"`
	ActualChange    float64   `json:"actual_change"`
	PredictionError float64   `json:"prediction_error"`
	IsAccurate      bool      `json:"is_accurate"`
	WasCorrect      bool      `json:"was_correct"`
	Confidence      float64   `json:"confidence"`
	ProfitLoss      float64   `json:"profit_loss"`
	Timestamp       time.Time `json:"timestamp"`
}

// Store 是决策日志库。
type Store struct {
	db *gorm.DB
}

func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("decision log path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&DecisionModel{}, &FeedbackModel{}); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// LogDecision 落一条决策。
func (s *Store) LogDecision(d policy.Decision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return s.db.Create(&DecisionModel{
		ID:              d.ID,
		Symbol:          d.Symbol,
		Action:          string(d.Action),
		Method:          string(d.Method),
		Confidence:      d.Confidence,
		PredictedChange: d.PredictedChange,
		RiskTolerance:   d.RiskTolerance,
		Payload:         datatypes.JSON(payload),
		CreatedAt:       d.Timestamp,
	}).Error
}

// Decisions 按时间倒序返回决策。
func (s *Store) Decisions(limit int) ([]policy.Decision, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []DecisionModel
	if err := s.db.Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]policy.Decision, 0, len(models))
	for _, m := range models {
		var d policy.Decision
		if err := json.Unmarshal(m.Payload, &d); err != nil {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// LogFeedback 落一条结算反馈。
func (s *Store) LogFeedback(e FeedbackEntry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.db.Create(&FeedbackModel{
		DecisionID:      e.DecisionID,
		Symbol:          e.Symbol,
		Action:          e.Action,
		PredictedChange: e.PredictedChange,
		ActualChange:    e.ActualChange,
		PredictionError: e.PredictionError,
		IsAccurate:      e.IsAccurate,
		WasCorrect:      e.WasCorrect,
		Confidence:      e.Confidence,
		ProfitLoss:      e.ProfitLoss,
		Payload:         datatypes.JSON(payload),
		CreatedAt:       e.Timestamp,
	}).Error
}

// Feedback 按时间倒序返回反馈。
func (s *Store) Feedback(limit int) ([]FeedbackEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []FeedbackModel
	if err := s.db.Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]FeedbackEntry, 0, len(models))
	for _, m := range models {
		out = append(out, feedbackView(m))
	}
	return out, nil
}

// FeedbackCount 返回反馈总数。
func (s *Store) FeedbackCount() (int64, error) {
	var count int64
	err := s.db.Model(&FeedbackModel{}).Count(&count).Error
	return count, err
}

// TrainingSamples 取最近 limit 条反馈转成训练样本。
func (s *Store) TrainingSamples(limit int) ([]policy.FeedbackSample, error) {
	if limit <= 0 {
		limit = 4096
	}
	var models []FeedbackModel
	if err := s.db.Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]policy.FeedbackSample, 0, len(models))
	for _, m := range models {
		out = append(out, policy.FeedbackSample{
			PredictedChange: m.PredictedChange,
			Confidence:      m.Confidence,
			ActualChange:    m.ActualChange,
		})
	}
	return out, nil
}

// AccuracyStats 返回 (总数, 命中数)。
func (s *Store) AccuracyStats() (int64, int64, error) {
	var total, accurate int64
	if err := s.db.Model(&FeedbackModel{}).Count(&total).Error; err != nil {
		return 0, 0, err
	}
	if err := s.db.Model(&FeedbackModel{}).Where("is_accurate = ?", true).Count(&accurate).Error; err != nil {
		return 0, 0, err
	}
	return total, accurate, nil
}

func feedbackView(m FeedbackModel) FeedbackEntry {
	return FeedbackEntry{
		DecisionID:      m.DecisionID,
		Symbol:          m.Symbol,
		Action:          m.Action,
		PredictedChange: m.PredictedChange,
		ActualChange:    m.ActualChange,
		PredictionError: m.PredictionError,
		IsAccurate:      m.IsAccurate,
		WasCorrect:      m.WasCorrect,
		Confidence:      m.Confidence,
		ProfitLoss:      m.ProfitLoss,
		Timestamp:       m.CreatedAt,
	}
}
