package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/carelog/internal/db"
	"github.com/carelog/internal/sink"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupSchedulerTestDB(t *testing.T) func() {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := gdb.AutoMigrate(
		&db.User{}, &db.Reminder{}, &db.TriggerMapping{},
		&db.Notification{}, &db.SnoozeLog{},
		&db.HydrationLog{}, &db.MedicationLog{}, &db.Insight{},
	); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	db.DB = gdb

	return func() {
		sqlDB, err := db.DB.DB()
		if err == nil {
			sqlDB.Close()
		}
	}
}

func uintPtr(v uint) *uint {
	return &v
}

func timePtr(v time.Time) *time.Time {
	return &v
}

func TestNextFireTimePriority(t *testing.T) {
	cleanup := setupSchedulerTestDB(t)
	defer cleanup()

	svc := NewSchedulerService(db.DB, sink.NewMemory())
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		name     string
		reminder db.Reminder
		want     time.Time
		wantOK   bool
	}{
		{
			name: "snooze overrides interval",
			reminder: db.Reminder{
				Enabled:         true,
				IntervalMinutes: uintPtr(30),
				SnoozeUntil:     timePtr(now.Add(15 * time.Minute)),
			},
			want:   now.Add(15 * time.Minute),
			wantOK: true,
		},
		{
			name: "expired snooze falls back to interval",
			reminder: db.Reminder{
				Enabled:         true,
				IntervalMinutes: uintPtr(30),
				SnoozeUntil:     timePtr(now.Add(-5 * time.Minute)),
			},
			want:   now.Add(30 * time.Minute),
			wantOK: true,
		},
		{
			name: "future one-shot",
			reminder: db.Reminder{
				Enabled:     true,
				ScheduledAt: timePtr(now.Add(2 * time.Hour)),
			},
			want:   now.Add(2 * time.Hour),
			wantOK: true,
		},
		{
			name: "past one-shot has no fire time",
			reminder: db.Reminder{
				Enabled:     true,
				ScheduledAt: timePtr(now.Add(-time.Hour)),
			},
			wantOK: false,
		},
		{
			name:     "disabled reminder has no fire time",
			reminder: db.Reminder{Enabled: false, IntervalMinutes: uintPtr(30)},
			wantOK:   false,
		},
		{
			name:     "no scheduling source",
			reminder: db.Reminder{Enabled: true},
			wantOK:   false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := svc.NextFireTime(&tc.reminder, now)
			if ok != tc.wantOK {
				t.Fatalf("expected ok=%v, got %v", tc.wantOK, ok)
			}
			if ok && !got.Equal(tc.want) {
				t.Fatalf("expected fire time %v, got %v", tc.want, got)
			}
		})
	}
}

func TestRescheduleReplacesTrigger(t *testing.T) {
	cleanup := setupSchedulerTestDB(t)
	defer cleanup()

	mem := sink.NewMemory()
	svc := NewSchedulerService(db.DB, mem)

	reminder := db.Reminder{UserID: 1, Kind: db.ReminderKindWater, Title: "喝水", Enabled: true, IntervalMinutes: uintPtr(60)}
	if err := db.DB.Create(&reminder).Error; err != nil {
		t.Fatalf("failed to seed reminder: %v", err)
	}

	first, err := svc.Reschedule(context.Background(), reminder.ID)
	if err != nil {
		t.Fatalf("first reschedule: %v", err)
	}
	if !first.Scheduled {
		t.Fatal("expected first reschedule to install a trigger")
	}

	second, err := svc.Reschedule(context.Background(), reminder.ID)
	if err != nil {
		t.Fatalf("second reschedule: %v", err)
	}
	if second.Handle == first.Handle {
		t.Fatal("expected reschedule to issue a fresh handle")
	}

	if got := mem.LiveCount(); got != 1 {
		t.Fatalf("expected exactly one live trigger, got %d", got)
	}

	var mappings []db.TriggerMapping
	if err := db.DB.Where("reminder_id = ?", reminder.ID).Find(&mappings).Error; err != nil {
		t.Fatalf("failed to load mappings: %v", err)
	}
	if len(mappings) != 1 {
		t.Fatalf("expected exactly one mapping row, got %d", len(mappings))
	}
	if mappings[0].Handle != second.Handle {
		t.Fatalf("expected mapping handle %s, got %s", second.Handle, mappings[0].Handle)
	}
}

func TestRescheduleNoFireTime(t *testing.T) {
	cleanup := setupSchedulerTestDB(t)
	defer cleanup()

	mem := sink.NewMemory()
	svc := NewSchedulerService(db.DB, mem)

	reminder := db.Reminder{UserID: 1, Kind: db.ReminderKindWater, Title: "喝水", Enabled: true, IntervalMinutes: uintPtr(60)}
	if err := db.DB.Create(&reminder).Error; err != nil {
		t.Fatalf("failed to seed reminder: %v", err)
	}

	if _, err := svc.Reschedule(context.Background(), reminder.ID); err != nil {
		t.Fatalf("initial reschedule: %v", err)
	}

	if err := db.DB.Model(&reminder).Update("enabled", false).Error; err != nil {
		t.Fatalf("failed to disable reminder: %v", err)
	}

	outcome, err := svc.Reschedule(context.Background(), reminder.ID)
	if err != nil {
		t.Fatalf("reschedule after disable: %v", err)
	}
	if outcome.Scheduled {
		t.Fatal("expected NoFireTime outcome for disabled reminder")
	}

	// 遗留映射与触发器应一并清理
	if got := mem.LiveCount(); got != 0 {
		t.Fatalf("expected no live triggers, got %d", got)
	}
	var count int64
	db.DB.Model(&db.TriggerMapping{}).Where("reminder_id = ?", reminder.ID).Count(&count)
	if count != 0 {
		t.Fatalf("expected mapping to be removed, found %d rows", count)
	}
}

func TestRescheduleSinkFailureLeavesMappingUntouched(t *testing.T) {
	cleanup := setupSchedulerTestDB(t)
	defer cleanup()

	mem := sink.NewMemory()
	svc := NewSchedulerService(db.DB, mem)

	reminder := db.Reminder{UserID: 1, Kind: db.ReminderKindWater, Title: "喝水", Enabled: true, IntervalMinutes: uintPtr(60)}
	if err := db.DB.Create(&reminder).Error; err != nil {
		t.Fatalf("failed to seed reminder: %v", err)
	}

	first, err := svc.Reschedule(context.Background(), reminder.ID)
	if err != nil {
		t.Fatalf("initial reschedule: %v", err)
	}

	mem.FailNext = sink.ErrScheduleRejected

	if _, err := svc.Reschedule(context.Background(), reminder.ID); !errors.Is(err, ErrSchedulingFailed) {
		t.Fatalf("expected ErrSchedulingFailed, got %v", err)
	}

	var mapping db.TriggerMapping
	if err := db.DB.Where("reminder_id = ?", reminder.ID).First(&mapping).Error; err != nil {
		t.Fatalf("failed to load mapping: %v", err)
	}
	if mapping.Handle != first.Handle {
		t.Fatalf("expected mapping to keep handle %s, got %s", first.Handle, mapping.Handle)
	}
}

// hookSink 在 Schedule 返回前执行回调，用于模拟调度途中提醒被停用
type hookSink struct {
	*sink.Memory
	onSchedule func()
}

func (h *hookSink) Schedule(ctx context.Context, payload sink.Payload, triggerTime time.Time) (string, error) {
	handle, err := h.Memory.Schedule(ctx, payload, triggerTime)
	if h.onSchedule != nil {
		h.onSchedule()
	}
	return handle, err
}

func TestRescheduleDiscardsStaleResultAfterDisable(t *testing.T) {
	cleanup := setupSchedulerTestDB(t)
	defer cleanup()

	mem := sink.NewMemory()
	reminder := db.Reminder{UserID: 1, Kind: db.ReminderKindMedication, Title: "吃药", Enabled: true, IntervalMinutes: uintPtr(30)}
	if err := db.DB.Create(&reminder).Error; err != nil {
		t.Fatalf("failed to seed reminder: %v", err)
	}

	hooked := &hookSink{Memory: mem, onSchedule: func() {
		if err := db.DB.Model(&db.Reminder{}).Where("id = ?", reminder.ID).Update("enabled", false).Error; err != nil {
			t.Errorf("failed to disable reminder mid-flight: %v", err)
		}
	}}
	svc := NewSchedulerService(db.DB, hooked)

	outcome, err := svc.Reschedule(context.Background(), reminder.ID)
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if outcome.Scheduled {
		t.Fatal("expected stale schedule result to be discarded")
	}

	if got := mem.LiveCount(); got != 0 {
		t.Fatalf("expected fresh trigger to be cancelled, %d still live", got)
	}
	var count int64
	db.DB.Model(&db.TriggerMapping{}).Where("reminder_id = ?", reminder.ID).Count(&count)
	if count != 0 {
		t.Fatalf("expected no mapping committed, found %d rows", count)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	cleanup := setupSchedulerTestDB(t)
	defer cleanup()

	svc := NewSchedulerService(db.DB, sink.NewMemory())

	reminder := db.Reminder{UserID: 1, Kind: db.ReminderKindWater, Title: "喝水", Enabled: true, IntervalMinutes: uintPtr(60)}
	if err := db.DB.Create(&reminder).Error; err != nil {
		t.Fatalf("failed to seed reminder: %v", err)
	}

	if _, err := svc.Reschedule(context.Background(), reminder.ID); err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	if err := svc.Cancel(context.Background(), reminder.ID); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if err := svc.Cancel(context.Background(), reminder.ID); err != nil {
		t.Fatalf("second cancel should be a no-op: %v", err)
	}
}

func TestRescheduleRetriesOnceOnSinkTimeout(t *testing.T) {
	cleanup := setupSchedulerTestDB(t)
	defer cleanup()

	mem := sink.NewMemory()
	mem.Latency = 80 * time.Millisecond

	var attempts int32
	hooked := &hookSink{Memory: mem, onSchedule: func() { atomic.AddInt32(&attempts, 1) }}

	svc := NewSchedulerService(db.DB, hooked).WithSinkTimeout(20 * time.Millisecond)
	svc.retryBackoff = 5 * time.Millisecond

	reminder := db.Reminder{UserID: 1, Kind: db.ReminderKindWater, Title: "喝水", Enabled: true, IntervalMinutes: uintPtr(60)}
	if err := db.DB.Create(&reminder).Error; err != nil {
		t.Fatalf("failed to seed reminder: %v", err)
	}
	mapping := db.TriggerMapping{ReminderID: reminder.ID, Handle: "trigger-old", FireAt: time.Now().Add(30 * time.Minute)}
	if err := db.DB.Create(&mapping).Error; err != nil {
		t.Fatalf("failed to seed mapping: %v", err)
	}

	_, err := svc.Reschedule(context.Background(), reminder.ID)
	if !errors.Is(err, ErrSchedulingFailed) {
		t.Fatalf("expected ErrSchedulingFailed after timeout retry, got %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 2 {
		t.Fatalf("expected exactly one retry (2 attempts), got %d", got)
	}

	// 安装失败时映射保持原状，留待后续重试或巡检收敛
	var kept db.TriggerMapping
	if err := db.DB.Where("reminder_id = ?", reminder.ID).First(&kept).Error; err != nil {
		t.Fatalf("mapping must survive a failed install: %v", err)
	}
	if kept.Handle != "trigger-old" {
		t.Fatalf("mapping handle changed on failure: %s", kept.Handle)
	}
	if got := mem.LiveCount(); got != 0 {
		t.Fatalf("no trigger must be installed on timeout, got %d", got)
	}
}
