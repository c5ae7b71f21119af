package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/carelog/internal/db"
	"gorm.io/gorm"
)

var (
	// ErrNotificationNotFound 在指定通知不存在时返回
	ErrNotificationNotFound = errors.New("notification not found")
	// ErrInvalidTransition 在状态机被要求逆向或从终态推进时返回，属于逻辑错误，不自动重试
	ErrInvalidTransition = errors.New("invalid notification status transition")
)

// statusRank 定义状态机的单向推进序：scheduled → delivered → {completed, missed}
// completed 与 missed 同为终态且互斥
var statusRank = map[string]int{
	db.NotificationStatusScheduled: 0,
	db.NotificationStatusDelivered: 1,
	db.NotificationStatusCompleted: 2,
	db.NotificationStatusMissed:    2,
}

// NotificationService 维护每次触发产生的通知记录及其状态机
type NotificationService struct {
	db  *gorm.DB
	now func() time.Time
}

// NotificationInput 定义创建通知记录的字段
type NotificationInput struct {
	UserID        uint
	ReminderID    *uint
	Type          string
	Title         string
	Body          string
	ScheduledTime time.Time
}

// NewNotificationService 构造 NotificationService
func NewNotificationService(gdb *gorm.DB) *NotificationService {
	return &NotificationService{db: gdb, now: time.Now}
}

// WithClock 在测试中替换时钟
func (s *NotificationService) WithClock(now func() time.Time) *NotificationService {
	if now != nil {
		s.now = now
	}
	return s
}

// Create 写入一条 scheduled 状态的通知记录
func (s *NotificationService) Create(input NotificationInput) (*db.Notification, error) {
	if input.UserID == 0 {
		return nil, fmt.Errorf("notification user id is required")
	}
	if input.ScheduledTime.IsZero() {
		return nil, fmt.Errorf("notification scheduled time is required")
	}

	notification := db.Notification{
		UserID:        input.UserID,
		ReminderID:    input.ReminderID,
		Type:          input.Type,
		Title:         input.Title,
		Body:          input.Body,
		ScheduledTime: input.ScheduledTime,
		Status:        db.NotificationStatusScheduled,
	}

	if err := s.db.Create(&notification).Error; err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	return &notification, nil
}

// CreateForFiring 根据到点的提醒生成本次触发的通知记录
func (s *NotificationService) CreateForFiring(reminder *db.Reminder, firedAt time.Time) (*db.Notification, error) {
	reminderID := reminder.ID
	return s.Create(NotificationInput{
		UserID:        reminder.UserID,
		ReminderID:    &reminderID,
		Type:          reminder.Kind,
		Title:         reminder.Title,
		Body:          reminder.Note,
		ScheduledTime: firedAt,
	})
}

// Get 根据 ID 获取通知
func (s *NotificationService) Get(id uint) (*db.Notification, error) {
	var notification db.Notification
	if err := s.db.First(&notification, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotificationNotFound
		}
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return &notification, nil
}

// ListForDay 返回用户指定自然日内的通知记录
func (s *NotificationService) ListForDay(userID uint, day time.Time) ([]db.Notification, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)

	var notifications []db.Notification
	if err := s.db.Where("user_id = ?", userID).
		Where("scheduled_time >= ? AND scheduled_time < ?", start, end).
		Order("scheduled_time ASC").
		Find(&notifications).Error; err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return notifications, nil
}

// MarkDelivered 将通知推进到 delivered
func (s *NotificationService) MarkDelivered(id uint) (*db.Notification, error) {
	return s.transition(id, db.NotificationStatusDelivered, func(n *db.Notification, now time.Time) {})
}

// Complete 将通知推进到 completed 并记录完成时间
func (s *NotificationService) Complete(id uint) (*db.Notification, error) {
	return s.transition(id, db.NotificationStatusCompleted, func(n *db.Notification, now time.Time) {
		n.CompletedAt = &now
	})
}

// MarkMissed 将通知推进到 missed 并记录错过时间
func (s *NotificationService) MarkMissed(id uint) (*db.Notification, error) {
	return s.transition(id, db.NotificationStatusMissed, func(n *db.Notification, now time.Time) {
		n.MissedAt = &now
	})
}

// MarkOpened 记录用户打开通知的时间戳，不推进状态
func (s *NotificationService) MarkOpened(id uint) (*db.Notification, error) {
	notification, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	notification.OpenedAt = &now
	if err := s.db.Save(notification).Error; err != nil {
		return nil, fmt.Errorf("mark notification opened: %w", err)
	}
	return notification, nil
}

// MarkActioned 记录用户对通知执行动作的时间戳，不推进状态
func (s *NotificationService) MarkActioned(id uint) (*db.Notification, error) {
	notification, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	notification.ActionedAt = &now
	if err := s.db.Save(notification).Error; err != nil {
		return nil, fmt.Errorf("mark notification actioned: %w", err)
	}
	return notification, nil
}

// IsOverdue 判断通知是否已逾期：仍处于 scheduled 且计划时间早于 now。
// 逾期是读取时的纯计算，不落库，正确性不依赖后台清扫。
func IsOverdue(n *db.Notification, now time.Time) bool {
	return n.Status == db.NotificationStatusScheduled && n.ScheduledTime.Before(now)
}

// transition 校验并执行一次单向状态推进
func (s *NotificationService) transition(id uint, target string, stamp func(*db.Notification, time.Time)) (*db.Notification, error) {
	notification, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	fromRank, ok := statusRank[notification.Status]
	if !ok {
		return nil, fmt.Errorf("%w: unknown status %s", ErrInvalidTransition, notification.Status)
	}
	toRank := statusRank[target]

	// 终态不可再推进，非终态只允许向前
	if fromRank >= 2 || toRank <= fromRank {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, notification.Status, target)
	}

	notification.Status = target
	stamp(notification, s.now())

	if err := s.db.Save(notification).Error; err != nil {
		return nil, fmt.Errorf("save notification transition: %w", err)
	}
	return notification, nil
}
