package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/carelog/internal/db"
	"github.com/carelog/internal/sink"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrReminderNotFound 在指定提醒不存在时返回
	ErrReminderNotFound = errors.New("reminder not found")
	// ErrSchedulingFailed 在平台拒绝安装触发器时返回，映射保持原状，调用方可重试
	ErrSchedulingFailed = errors.New("trigger scheduling failed")
)

const (
	defaultSinkTimeout  = 5 * time.Second
	defaultRetryBackoff = 200 * time.Millisecond
)

// SchedulerService 负责把 Reminder 翻译成平台触发器：
// 计算唯一的下一次触发时刻，并维护 reminderId -> handle 的持久化映射。
type SchedulerService struct {
	db           *gorm.DB
	sink         sink.Sink
	locks        *reminderLocks
	sinkTimeout  time.Duration
	retryBackoff time.Duration
	now          func() time.Time
}

// ScheduleOutcome 描述一次 Reschedule 的结果。
// Scheduled=false 表示按规则算不出触发时间（如提醒已停用），这不是错误。
type ScheduleOutcome struct {
	Scheduled bool
	Handle    string
	FireAt    time.Time
}

// NewSchedulerService 构造 SchedulerService
func NewSchedulerService(gdb *gorm.DB, snk sink.Sink) *SchedulerService {
	return &SchedulerService{
		db:           gdb,
		sink:         snk,
		locks:        newReminderLocks(),
		sinkTimeout:  defaultSinkTimeout,
		retryBackoff: defaultRetryBackoff,
		now:          time.Now,
	}
}

// WithSinkTimeout 调整平台调用的超时上限
func (s *SchedulerService) WithSinkTimeout(d time.Duration) *SchedulerService {
	if d > 0 {
		s.sinkTimeout = d
	}
	return s
}

// WithClock 在测试中替换时钟
func (s *SchedulerService) WithClock(now func() time.Time) *SchedulerService {
	if now != nil {
		s.now = now
	}
	return s
}

// NextFireTime 按优先级计算提醒的下一次触发时刻：
// 未来的 SnoozeUntil > 未来的 ScheduledAt > now+IntervalMinutes。
// 三者皆不满足时返回 false，表示无可调度时间。
func (s *SchedulerService) NextFireTime(reminder *db.Reminder, now time.Time) (time.Time, bool) {
	if reminder == nil || !reminder.Enabled {
		return time.Time{}, false
	}

	if reminder.SnoozeUntil != nil && reminder.SnoozeUntil.After(now) {
		return *reminder.SnoozeUntil, true
	}

	if reminder.ScheduledAt != nil && reminder.ScheduledAt.After(now) {
		return *reminder.ScheduledAt, true
	}

	if reminder.IntervalMinutes != nil && *reminder.IntervalMinutes > 0 {
		return now.Add(time.Duration(*reminder.IntervalMinutes) * time.Minute), true
	}

	return time.Time{}, false
}

// Reschedule 重算提醒的触发时间并替换触发器映射。
// 旧句柄先作废（句柄缺失不算错误），安装失败时映射保持原状。
func (s *SchedulerService) Reschedule(ctx context.Context, reminderID uint) (*ScheduleOutcome, error) {
	unlock := s.locks.acquire(reminderID)
	defer unlock()

	return s.rescheduleLocked(ctx, reminderID)
}

// rescheduleLocked 是 Reschedule 的无锁版本，供已持有同一提醒锁的调用方复用
func (s *SchedulerService) rescheduleLocked(ctx context.Context, reminderID uint) (*ScheduleOutcome, error) {
	var reminder db.Reminder
	if err := s.db.First(&reminder, reminderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReminderNotFound
		}
		return nil, fmt.Errorf("load reminder: %w", err)
	}

	fireAt, ok := s.NextFireTime(&reminder, s.now())
	if !ok {
		// 无可调度时间：清理遗留映射后返回"未调度"
		if err := s.cancelMappingLocked(ctx, reminderID); err != nil {
			return nil, err
		}
		return &ScheduleOutcome{Scheduled: false}, nil
	}

	// 先作废旧句柄，保证任一时刻至多一条存活触发器
	var existing db.TriggerMapping
	hasExisting := s.db.Where("reminder_id = ?", reminderID).First(&existing).Error == nil
	if hasExisting {
		s.cancelHandle(ctx, existing.Handle)
	}

	payload := sink.Payload{
		ReminderID: reminder.ID,
		Kind:       reminder.Kind,
		Title:      reminder.Title,
		Body:       reminder.Note,
	}

	handle, err := s.scheduleWithRetry(ctx, payload, fireAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchedulingFailed, err)
	}

	// 调度期间提醒可能已被停用：丢弃刚装好的触发器，不提交新映射
	var latest db.Reminder
	if err := s.db.First(&latest, reminderID).Error; err != nil || !latest.Enabled {
		s.cancelHandle(ctx, handle)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("recheck reminder: %w", err)
		}
		return &ScheduleOutcome{Scheduled: false}, nil
	}

	mapping := db.TriggerMapping{
		ReminderID: reminderID,
		Handle:     handle,
		FireAt:     fireAt,
	}
	if err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "reminder_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"handle", "fire_at", "updated_at"}),
	}).Create(&mapping).Error; err != nil {
		// 映射落库失败时触发器已装好，留给周期巡检重新收敛
		s.cancelHandle(ctx, handle)
		return nil, fmt.Errorf("persist trigger mapping: %w", err)
	}

	return &ScheduleOutcome{Scheduled: true, Handle: handle, FireAt: fireAt}, nil
}

// Cancel 作废提醒的触发器映射；映射不存在时为空操作
func (s *SchedulerService) Cancel(ctx context.Context, reminderID uint) error {
	unlock := s.locks.acquire(reminderID)
	defer unlock()

	return s.cancelMappingLocked(ctx, reminderID)
}

// ClearMapping 仅删除映射记录，不回调平台。
// 触发器已经到点消耗时句柄随之失效，用于触发后的清理。
func (s *SchedulerService) ClearMapping(reminderID uint) error {
	unlock := s.locks.acquire(reminderID)
	defer unlock()

	return s.clearMappingLocked(reminderID)
}

// clearMappingLocked 是 ClearMapping 的无锁版本，供已持有同一提醒锁的调用方复用
func (s *SchedulerService) clearMappingLocked(reminderID uint) error {
	if err := s.db.Unscoped().Where("reminder_id = ?", reminderID).Delete(&db.TriggerMapping{}).Error; err != nil {
		return fmt.Errorf("clear trigger mapping: %w", err)
	}
	return nil
}

func (s *SchedulerService) cancelMappingLocked(ctx context.Context, reminderID uint) error {
	var mapping db.TriggerMapping
	if err := s.db.Where("reminder_id = ?", reminderID).First(&mapping).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("load trigger mapping: %w", err)
	}

	s.cancelHandle(ctx, mapping.Handle)

	if err := s.db.Unscoped().Delete(&mapping).Error; err != nil {
		return fmt.Errorf("delete trigger mapping: %w", err)
	}
	return nil
}

// cancelHandle 回调平台作废句柄，句柄缺失或取消失败只记日志
func (s *SchedulerService) cancelHandle(ctx context.Context, handle string) {
	if handle == "" {
		return
	}

	cancelCtx, cancel := context.WithTimeout(ctx, s.sinkTimeout)
	defer cancel()

	if err := s.sink.Cancel(cancelCtx, handle); err != nil && !errors.Is(err, sink.ErrHandleNotFound) {
		log.Printf("scheduler: cancel handle %s: %v", handle, err)
	}
}

// scheduleWithRetry 调用平台安装触发器，瞬时超时退避后重试一次
func (s *SchedulerService) scheduleWithRetry(ctx context.Context, payload sink.Payload, fireAt time.Time) (string, error) {
	handle, err := s.scheduleOnce(ctx, payload, fireAt)
	if err == nil {
		return handle, nil
	}

	if !errors.Is(err, context.DeadlineExceeded) {
		return "", err
	}

	log.Printf("scheduler: sink timeout for reminder %d, retrying", payload.ReminderID)
	time.Sleep(s.retryBackoff)

	return s.scheduleOnce(ctx, payload, fireAt)
}

func (s *SchedulerService) scheduleOnce(ctx context.Context, payload sink.Payload, fireAt time.Time) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.sinkTimeout)
	defer cancel()

	return s.sink.Schedule(callCtx, payload, fireAt)
}
