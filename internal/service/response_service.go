package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/carelog/internal/db"
	"gorm.io/gorm"
)

var (
	// ErrSnoozeOutOfRange 在稍后提醒分钟数超出 1..120 时返回
	ErrSnoozeOutOfRange = errors.New("snooze minutes must be between 1 and 120")
	// ErrInvalidScheduledTime 在 HH:mm 文本非法时返回
	ErrInvalidScheduledTime = errors.New("scheduled time must be in HH:mm format")
)

const (
	snoozeMinMinutes = 1
	snoozeMaxMinutes = 120
	clockFormat      = "15:04"
)

// ResponseService 把用户对一次触发的动作翻译为提醒/通知的状态变更并落审计日志
type ResponseService struct {
	db            *gorm.DB
	scheduler     *SchedulerService
	notifications *NotificationService
	now           func() time.Time
}

// SnoozeLogInput 定义 POST /snooze 审计入口的字段
type SnoozeLogInput struct {
	UserID        uint
	ReminderType  string
	ReminderKey   string
	ScheduledTime string
	SnoozedAt     time.Time
	SnoozeMinutes uint
}

// SnoozeTypeCount 表示某一类提醒的稍后提醒次数
type SnoozeTypeCount struct {
	ReminderType string `json:"reminder_type"`
	Count        int64  `json:"count"`
}

// SnoozeStats 汇总一段时间内的稍后提醒统计
type SnoozeStats struct {
	Total  int64             `json:"total"`
	ByType []SnoozeTypeCount `json:"byType"`
}

// NewResponseService 构造 ResponseService
func NewResponseService(gdb *gorm.DB, scheduler *SchedulerService, notifications *NotificationService) *ResponseService {
	return &ResponseService{
		db:            gdb,
		scheduler:     scheduler,
		notifications: notifications,
		now:           time.Now,
	}
}

// WithClock 在测试中替换时钟
func (s *ResponseService) WithClock(now func() time.Time) *ResponseService {
	if now != nil {
		s.now = now
	}
	return s
}

// Snooze 推迟提醒的下一次触发：校验分钟数、落审计日志、
// 设置 SnoozeUntil 并重排触发器。同一提醒上的并发 snooze 串行执行，后写覆盖。
func (s *ResponseService) Snooze(ctx context.Context, reminderID uint, minutes uint) (*db.SnoozeLog, error) {
	if minutes < snoozeMinMinutes || minutes > snoozeMaxMinutes {
		return nil, ErrSnoozeOutOfRange
	}

	unlock := s.scheduler.locks.acquire(reminderID)
	defer unlock()

	var reminder db.Reminder
	if err := s.db.First(&reminder, reminderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReminderNotFound
		}
		return nil, fmt.Errorf("load reminder: %w", err)
	}

	now := s.now()
	snoozeUntil := now.Add(time.Duration(minutes) * time.Minute)

	entry := db.SnoozeLog{
		UserID:        reminder.UserID,
		ReminderType:  reminder.Kind,
		ReminderKey:   strconv.FormatUint(uint64(reminder.ID), 10),
		SnoozedAt:     now,
		SnoozeMinutes: minutes,
	}
	if err := s.db.Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("append snooze log: %w", err)
	}

	if err := s.db.Model(&reminder).Update("snooze_until", snoozeUntil).Error; err != nil {
		return nil, fmt.Errorf("update snooze until: %w", err)
	}

	if _, err := s.scheduler.rescheduleLocked(ctx, reminderID); err != nil {
		return nil, err
	}

	return &entry, nil
}

// RecordSnoozeLog 处理审计入口的稍后提醒上报：始终追加日志；
// reminder_key 能解析到本用户的提醒时，顺带对该提醒执行 snooze。
func (s *ResponseService) RecordSnoozeLog(ctx context.Context, input SnoozeLogInput) (*db.SnoozeLog, error) {
	if input.SnoozeMinutes < snoozeMinMinutes || input.SnoozeMinutes > snoozeMaxMinutes {
		return nil, ErrSnoozeOutOfRange
	}

	scheduledTime := strings.TrimSpace(input.ScheduledTime)
	if scheduledTime != "" {
		if _, err := time.Parse(clockFormat, scheduledTime); err != nil {
			return nil, ErrInvalidScheduledTime
		}
	}

	snoozedAt := input.SnoozedAt
	if snoozedAt.IsZero() {
		snoozedAt = s.now()
	}

	if key := strings.TrimSpace(input.ReminderKey); key != "" {
		if reminderID, err := strconv.ParseUint(key, 10, 32); err == nil {
			var reminder db.Reminder
			if err := s.db.Where("id = ? AND user_id = ?", reminderID, input.UserID).
				First(&reminder).Error; err == nil {
				return s.Snooze(ctx, reminder.ID, input.SnoozeMinutes)
			}
		}
	}

	entry := db.SnoozeLog{
		UserID:        input.UserID,
		ReminderType:  strings.TrimSpace(input.ReminderType),
		ReminderKey:   strings.TrimSpace(input.ReminderKey),
		ScheduledTime: scheduledTime,
		SnoozedAt:     snoozedAt,
		SnoozeMinutes: input.SnoozeMinutes,
	}
	if err := s.db.Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("append snooze log: %w", err)
	}
	return &entry, nil
}

// MarkMissed 把通知置为 missed，累加所属提醒的 MissedCount，并触发自适应调频
func (s *ResponseService) MarkMissed(ctx context.Context, notificationID uint) (*db.Notification, error) {
	notification, err := s.notifications.Get(notificationID)
	if err != nil {
		return nil, err
	}

	if notification.ReminderID == nil {
		return s.notifications.MarkMissed(notificationID)
	}

	reminderID := *notification.ReminderID
	unlock := s.scheduler.locks.acquire(reminderID)
	defer unlock()

	updated, err := s.notifications.MarkMissed(notificationID)
	if err != nil {
		return nil, err
	}

	if err := s.db.Model(&db.Reminder{}).Where("id = ?", reminderID).
		UpdateColumn("missed_count", gorm.Expr("missed_count + 1")).Error; err != nil {
		return nil, fmt.Errorf("increment missed count: %w", err)
	}

	if err := s.adjustFrequencyLocked(ctx, reminderID); err != nil {
		return nil, err
	}

	return updated, nil
}

// Complete 把通知置为 completed 并清零所属提醒的 MissedCount（完成即中断漏掉连击）
func (s *ResponseService) Complete(ctx context.Context, notificationID uint) (*db.Notification, error) {
	notification, err := s.notifications.Get(notificationID)
	if err != nil {
		return nil, err
	}

	if notification.ReminderID == nil {
		return s.notifications.Complete(notificationID)
	}

	reminderID := *notification.ReminderID
	unlock := s.scheduler.locks.acquire(reminderID)
	defer unlock()

	updated, err := s.notifications.Complete(notificationID)
	if err != nil {
		return nil, err
	}

	if err := s.db.Model(&db.Reminder{}).Where("id = ?", reminderID).
		UpdateColumn("missed_count", 0).Error; err != nil {
		return nil, fmt.Errorf("reset missed count: %w", err)
	}

	return updated, nil
}

// Stats 统计最近 days 天的稍后提醒次数与分类分布
func (s *ResponseService) Stats(userID uint, days int) (*SnoozeStats, error) {
	if days <= 0 {
		days = 7
	}
	since := s.now().AddDate(0, 0, -days)

	stats := &SnoozeStats{ByType: []SnoozeTypeCount{}}

	if err := s.db.Model(&db.SnoozeLog{}).
		Where("user_id = ? AND snoozed_at >= ?", userID, since).
		Count(&stats.Total).Error; err != nil {
		return nil, fmt.Errorf("count snooze logs: %w", err)
	}

	if err := s.db.Model(&db.SnoozeLog{}).
		Select("reminder_type, COUNT(*) AS count").
		Where("user_id = ? AND snoozed_at >= ?", userID, since).
		Group("reminder_type").
		Order("count DESC, reminder_type ASC").
		Find(&stats.ByType).Error; err != nil {
		return nil, fmt.Errorf("group snooze logs: %w", err)
	}

	return stats, nil
}
