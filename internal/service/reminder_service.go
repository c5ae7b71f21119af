package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/carelog/internal/db"
	"gorm.io/gorm"
)

// ErrReminderInvalid 在提醒定义不合法时返回
var ErrReminderInvalid = errors.New("invalid reminder definition")

// ReminderService 负责 Reminder 定义的增删改查。
// 调度参数归它持有；触发器映射由 SchedulerService 派生维护。
type ReminderService struct {
	db        *gorm.DB
	scheduler *SchedulerService
}

// ReminderFilter 描述列表过滤条件
type ReminderFilter struct {
	UserID  uint
	Kind    string
	Enabled *bool
	Search  string
}

// ReminderInput 定义创建/更新提醒时可配置字段
type ReminderInput struct {
	UserID          uint
	Kind            string
	Title           string
	Note            string
	ScheduledAt     *time.Time
	IntervalMinutes *uint
	Metadata        string
}

// NewReminderService 构造 ReminderService
func NewReminderService(gdb *gorm.DB, scheduler *SchedulerService) *ReminderService {
	return &ReminderService{db: gdb, scheduler: scheduler}
}

// List 返回提醒集合，支持基本筛选
func (s *ReminderService) List(filter ReminderFilter) ([]db.Reminder, error) {
	var reminders []db.Reminder

	query := s.db.Model(&db.Reminder{})

	if filter.UserID != 0 {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}
	if filter.Enabled != nil {
		query = query.Where("enabled = ?", *filter.Enabled)
	}
	if filter.Search != "" {
		like := fmt.Sprintf("%%%s%%", strings.TrimSpace(filter.Search))
		query = query.Where("title LIKE ? OR note LIKE ?", like, like)
	}

	if err := query.Order("created_at DESC").Find(&reminders).Error; err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}

	return reminders, nil
}

// Get 根据 ID 获取提醒
func (s *ReminderService) Get(id uint) (*db.Reminder, error) {
	var reminder db.Reminder
	if err := s.db.First(&reminder, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReminderNotFound
		}
		return nil, fmt.Errorf("get reminder: %w", err)
	}
	return &reminder, nil
}

// GetOwned 获取提醒并校验归属用户
func (s *ReminderService) GetOwned(id, userID uint) (*db.Reminder, error) {
	reminder, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if reminder.UserID != userID {
		return nil, ErrReminderNotFound
	}
	return reminder, nil
}

// Create 新建提醒并安装首个触发器
func (s *ReminderService) Create(ctx context.Context, input ReminderInput) (*db.Reminder, error) {
	if err := validateReminderInput(input); err != nil {
		return nil, err
	}

	reminder := db.Reminder{
		UserID:          input.UserID,
		Kind:            strings.TrimSpace(strings.ToLower(input.Kind)),
		Title:           strings.TrimSpace(input.Title),
		Note:            strings.TrimSpace(input.Note),
		ScheduledAt:     input.ScheduledAt,
		IntervalMinutes: input.IntervalMinutes,
		Enabled:         true,
		Metadata:        strings.TrimSpace(input.Metadata),
	}

	if err := s.db.Create(&reminder).Error; err != nil {
		return nil, fmt.Errorf("create reminder: %w", err)
	}

	if _, err := s.scheduler.Reschedule(ctx, reminder.ID); err != nil {
		return nil, err
	}

	return &reminder, nil
}

// Update 更新提醒定义并重排触发器
func (s *ReminderService) Update(ctx context.Context, id uint, input ReminderInput) (*db.Reminder, error) {
	if err := validateReminderInput(input); err != nil {
		return nil, err
	}

	var existing db.Reminder
	if err := s.db.First(&existing, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReminderNotFound
		}
		return nil, fmt.Errorf("find reminder: %w", err)
	}

	existing.Kind = strings.TrimSpace(strings.ToLower(input.Kind))
	existing.Title = strings.TrimSpace(input.Title)
	existing.Note = strings.TrimSpace(input.Note)
	existing.ScheduledAt = input.ScheduledAt
	existing.IntervalMinutes = input.IntervalMinutes
	existing.Metadata = strings.TrimSpace(input.Metadata)

	if err := s.db.Save(&existing).Error; err != nil {
		return nil, fmt.Errorf("update reminder: %w", err)
	}

	if existing.Enabled {
		if _, err := s.scheduler.Reschedule(ctx, existing.ID); err != nil {
			return nil, err
		}
	}

	return &existing, nil
}

// Disable 停用提醒并清理待触发条目。
// 存在触发历史的提醒不做物理删除，停用即对外不可见。
func (s *ReminderService) Disable(ctx context.Context, id uint) (*db.Reminder, error) {
	var reminder db.Reminder
	if err := s.db.First(&reminder, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReminderNotFound
		}
		return nil, fmt.Errorf("find reminder: %w", err)
	}

	if err := s.db.Model(&reminder).Update("enabled", false).Error; err != nil {
		return nil, fmt.Errorf("disable reminder: %w", err)
	}

	if err := s.scheduler.Cancel(ctx, reminder.ID); err != nil {
		return nil, err
	}

	reminder.Enabled = false
	return &reminder, nil
}

// Enable 重新启用提醒并安装触发器
func (s *ReminderService) Enable(ctx context.Context, id uint) (*db.Reminder, error) {
	var reminder db.Reminder
	if err := s.db.First(&reminder, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReminderNotFound
		}
		return nil, fmt.Errorf("find reminder: %w", err)
	}

	if err := s.db.Model(&reminder).Update("enabled", true).Error; err != nil {
		return nil, fmt.Errorf("enable reminder: %w", err)
	}

	reminder.Enabled = true
	if _, err := s.scheduler.Reschedule(ctx, reminder.ID); err != nil {
		return nil, err
	}
	return &reminder, nil
}

func validateReminderInput(input ReminderInput) error {
	kind := strings.TrimSpace(strings.ToLower(input.Kind))
	if kind != db.ReminderKindWater && kind != db.ReminderKindMedication {
		return fmt.Errorf("%w: unsupported kind %s", ErrReminderInvalid, input.Kind)
	}

	if strings.TrimSpace(input.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrReminderInvalid)
	}

	hasScheduledAt := input.ScheduledAt != nil && !input.ScheduledAt.IsZero()
	hasInterval := input.IntervalMinutes != nil && *input.IntervalMinutes > 0

	// 一次性与重复提醒互斥，必须二选一
	if hasScheduledAt == hasInterval {
		return fmt.Errorf("%w: exactly one of scheduled_at or interval_minutes is required", ErrReminderInvalid)
	}

	return nil
}
