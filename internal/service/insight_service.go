package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/carelog/internal/db"
	"gorm.io/gorm"
)

// ErrInsightInvalid 在洞察记录入参不合法时返回
var ErrInsightInvalid = errors.New("invalid insight record")

// InsightService 只负责洞察记录的存取：
// 记录由外部分析流程产出，本核心原样保存并供 UI 只读消费。
type InsightService struct {
	db *gorm.DB
}

// InsightInput 定义上报洞察记录的字段
type InsightInput struct {
	UserID   uint
	Category string
	Title    string
	Content  string
	Period   string
}

// NewInsightService 构造 InsightService
func NewInsightService(gdb *gorm.DB) *InsightService {
	return &InsightService{db: gdb}
}

// Create 保存一条洞察记录
func (s *InsightService) Create(input InsightInput) (*db.Insight, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInsightInvalid)
	}

	insight := db.Insight{
		UserID:   input.UserID,
		Category: strings.TrimSpace(input.Category),
		Title:    strings.TrimSpace(input.Title),
		Content:  input.Content,
		Period:   strings.TrimSpace(input.Period),
	}
	if err := s.db.Create(&insight).Error; err != nil {
		return nil, fmt.Errorf("create insight: %w", err)
	}
	return &insight, nil
}

// List 返回用户的洞察记录，支持按类别过滤
func (s *InsightService) List(userID uint, category string) ([]db.Insight, error) {
	query := s.db.Where("user_id = ?", userID)
	if category != "" {
		query = query.Where("category = ?", category)
	}

	var insights []db.Insight
	if err := query.Order("created_at DESC").Find(&insights).Error; err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	return insights, nil
}
