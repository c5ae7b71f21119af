package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/carelog/internal/db"
	"gorm.io/gorm"
)

// ErrEventLogInvalid 在事件日志入参不合法时返回
var ErrEventLogInvalid = errors.New("invalid event log entry")

// EventLogService 负责饮水/服药事件日志的写入与查询，供时间线聚合消费
type EventLogService struct {
	db  *gorm.DB
	now func() time.Time
}

// HydrationInput 定义一次饮水记录
type HydrationInput struct {
	UserID   uint
	AmountML uint
	LoggedAt time.Time
	Note     string
}

// MedicationInput 定义一次服药记录
type MedicationInput struct {
	UserID     uint
	ReminderID *uint
	Name       string
	Dosage     string
	TakenAt    time.Time
	Note       string
}

// NewEventLogService 构造 EventLogService
func NewEventLogService(gdb *gorm.DB) *EventLogService {
	return &EventLogService{db: gdb, now: time.Now}
}

// WithClock 在测试中替换时钟
func (s *EventLogService) WithClock(now func() time.Time) *EventLogService {
	if now != nil {
		s.now = now
	}
	return s
}

// LogHydration 写入一条饮水事件
func (s *EventLogService) LogHydration(input HydrationInput) (*db.HydrationLog, error) {
	if input.AmountML == 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrEventLogInvalid)
	}

	loggedAt := input.LoggedAt
	if loggedAt.IsZero() {
		loggedAt = s.now()
	}

	entry := db.HydrationLog{
		UserID:   input.UserID,
		AmountML: input.AmountML,
		LoggedAt: loggedAt,
		Note:     strings.TrimSpace(input.Note),
	}
	if err := s.db.Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("log hydration: %w", err)
	}
	return &entry, nil
}

// LogMedication 写入一条服药事件
func (s *EventLogService) LogMedication(input MedicationInput) (*db.MedicationLog, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, fmt.Errorf("%w: medication name is required", ErrEventLogInvalid)
	}

	takenAt := input.TakenAt
	if takenAt.IsZero() {
		takenAt = s.now()
	}

	entry := db.MedicationLog{
		UserID:     input.UserID,
		ReminderID: input.ReminderID,
		Name:       strings.TrimSpace(input.Name),
		Dosage:     strings.TrimSpace(input.Dosage),
		TakenAt:    takenAt,
		Note:       strings.TrimSpace(input.Note),
	}
	if err := s.db.Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("log medication: %w", err)
	}
	return &entry, nil
}

// ListHydration 返回用户指定区间内的饮水记录
func (s *EventLogService) ListHydration(userID uint, start, end time.Time) ([]db.HydrationLog, error) {
	var logs []db.HydrationLog
	if err := s.db.Where("user_id = ?", userID).
		Where("logged_at >= ? AND logged_at < ?", start, end).
		Order("logged_at ASC").
		Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("list hydration logs: %w", err)
	}
	return logs, nil
}

// ListMedication 返回用户指定区间内的服药记录
func (s *EventLogService) ListMedication(userID uint, start, end time.Time) ([]db.MedicationLog, error) {
	var logs []db.MedicationLog
	if err := s.db.Where("user_id = ?", userID).
		Where("taken_at >= ? AND taken_at < ?", start, end).
		Order("taken_at ASC").
		Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("list medication logs: %w", err)
	}
	return logs, nil
}
