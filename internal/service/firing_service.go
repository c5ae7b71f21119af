package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/carelog/internal/db"
	"github.com/carelog/internal/sink"
	"gorm.io/gorm"
)

// DefaultSnoozeMinutes 是通知动作按钮触发 snooze 时的默认推迟分钟数
const DefaultSnoozeMinutes = 10

// FiringService 消费平台回调：把到点的触发事件落成通知记录，
// 并把用户交互分发给 ResponseService。
type FiringService struct {
	db            *gorm.DB
	scheduler     *SchedulerService
	notifications *NotificationService
	responses     *ResponseService
}

// NewFiringService 构造 FiringService
func NewFiringService(gdb *gorm.DB, scheduler *SchedulerService, notifications *NotificationService, responses *ResponseService) *FiringService {
	return &FiringService{
		db:            gdb,
		scheduler:     scheduler,
		notifications: notifications,
		responses:     responses,
	}
}

// Run 持续消费触发与交互回调通道，直到 ctx 结束
func (s *FiringService) Run(ctx context.Context, firings <-chan sink.Firing, responses <-chan sink.Response) {
	for {
		select {
		case <-ctx.Done():
			return
		case firing, ok := <-firings:
			if !ok {
				return
			}
			if err := s.HandleFiring(ctx, firing); err != nil {
				log.Printf("firing: handle reminder %d: %v", firing.Payload.ReminderID, err)
			}
		case resp, ok := <-responses:
			if !ok {
				return
			}
			if err := s.HandleResponse(ctx, resp); err != nil {
				log.Printf("firing: handle response %s for reminder %d: %v", resp.Action, resp.ReminderID, err)
			}
		}
	}
}

// HandleFiring 处理一次到点触发：生成通知记录并推进到 delivered，
// 清理已消耗的映射；一次性提醒随即停用，重复提醒安装下一个触发器。
func (s *FiringService) HandleFiring(ctx context.Context, firing sink.Firing) error {
	// 整个触发流程持有该提醒的互斥锁，避免用户侧 snooze/启停与触发处理交错
	unlock := s.scheduler.locks.acquire(firing.Payload.ReminderID)
	defer unlock()

	var reminder db.Reminder
	if err := s.db.First(&reminder, firing.Payload.ReminderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return s.scheduler.clearMappingLocked(firing.Payload.ReminderID)
		}
		return fmt.Errorf("load fired reminder: %w", err)
	}

	// 映射已被并发重排替换时，这次触发属于已作废的旧句柄，按过期丢弃
	var mapping db.TriggerMapping
	if firing.Handle != "" {
		if err := s.db.Where("reminder_id = ?", reminder.ID).First(&mapping).Error; err == nil && mapping.Handle != firing.Handle {
			return nil
		}
	}

	if err := s.scheduler.clearMappingLocked(reminder.ID); err != nil {
		return err
	}

	if !reminder.Enabled {
		return nil
	}

	notification, err := s.notifications.CreateForFiring(&reminder, firing.FiredAt)
	if err != nil {
		return err
	}
	if _, err := s.notifications.MarkDelivered(notification.ID); err != nil {
		return err
	}

	// 已消耗的 snooze 不再参与下一次计算
	if reminder.SnoozeUntil != nil && !reminder.SnoozeUntil.After(firing.FiredAt) {
		if err := s.db.Model(&reminder).Update("snooze_until", nil).Error; err != nil {
			return fmt.Errorf("clear consumed snooze: %w", err)
		}
	}

	// 一次性提醒触发即停用
	if reminder.ScheduledAt != nil && !reminder.IsRepeating() {
		if err := s.db.Model(&reminder).Update("enabled", false).Error; err != nil {
			return fmt.Errorf("disable one-shot reminder: %w", err)
		}
		return nil
	}

	if _, err := s.scheduler.rescheduleLocked(ctx, reminder.ID); err != nil {
		return err
	}
	return nil
}

// HandleResponse 把通知上的动作按钮分发到对应的记录流程
func (s *FiringService) HandleResponse(ctx context.Context, resp sink.Response) error {
	switch resp.Action {
	case sink.ActionSnooze:
		_, err := s.responses.Snooze(ctx, resp.ReminderID, DefaultSnoozeMinutes)
		return err
	case sink.ActionComplete, sink.ActionMissed:
		notification, err := s.latestOpenNotification(resp.ReminderID)
		if err != nil {
			return err
		}
		if resp.Action == sink.ActionComplete {
			_, err = s.responses.Complete(ctx, notification.ID)
		} else {
			_, err = s.responses.MarkMissed(ctx, notification.ID)
		}
		return err
	default:
		return fmt.Errorf("unknown response action %q", resp.Action)
	}
}

// latestOpenNotification 取该提醒最近一条未决的通知记录
func (s *FiringService) latestOpenNotification(reminderID uint) (*db.Notification, error) {
	var notification db.Notification
	if err := s.db.Where("reminder_id = ?", reminderID).
		Where("status IN ?", []string{db.NotificationStatusScheduled, db.NotificationStatusDelivered}).
		Order("scheduled_time DESC").
		First(&notification).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotificationNotFound
		}
		return nil, fmt.Errorf("find open notification: %w", err)
	}
	return &notification, nil
}
