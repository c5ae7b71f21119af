package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/carelog/internal/db"
	"github.com/carelog/internal/sink"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupReminderTest(t *testing.T) (*ReminderService, *sink.Memory, func()) {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := gdb.AutoMigrate(&db.User{}, &db.Reminder{}, &db.TriggerMapping{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	db.DB = gdb

	mem := sink.NewMemory()
	scheduler := NewSchedulerService(gdb, mem)
	svc := NewReminderService(gdb, scheduler)

	return svc, mem, func() {
		sqlDB, err := gdb.DB()
		if err == nil {
			sqlDB.Close()
		}
	}
}

func TestReminderCreateInstallsTrigger(t *testing.T) {
	svc, mem, cleanup := setupReminderTest(t)
	defer cleanup()

	reminder, err := svc.Create(context.Background(), ReminderInput{
		UserID:          1,
		Kind:            "Water",
		Title:           "喝水",
		IntervalMinutes: uintPtr(45),
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if reminder.Kind != db.ReminderKindWater {
		t.Fatalf("expected normalized kind water, got %s", reminder.Kind)
	}
	if !reminder.Enabled {
		t.Fatal("expected new reminder to be enabled")
	}
	if got := mem.LiveCount(); got != 1 {
		t.Fatalf("expected one trigger after create, got %d", got)
	}
}

func TestReminderInputValidation(t *testing.T) {
	svc, _, cleanup := setupReminderTest(t)
	defer cleanup()

	future := time.Now().Add(time.Hour)

	cases := []struct {
		name  string
		input ReminderInput
	}{
		{"unknown kind", ReminderInput{UserID: 1, Kind: "coffee", Title: "喝咖啡", IntervalMinutes: uintPtr(30)}},
		{"missing title", ReminderInput{UserID: 1, Kind: "water", IntervalMinutes: uintPtr(30)}},
		{"both sources set", ReminderInput{UserID: 1, Kind: "water", Title: "喝水", ScheduledAt: &future, IntervalMinutes: uintPtr(30)}},
		{"no source set", ReminderInput{UserID: 1, Kind: "water", Title: "喝水"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Create(context.Background(), tc.input); !errors.Is(err, ErrReminderInvalid) {
				t.Fatalf("expected ErrReminderInvalid, got %v", err)
			}
		})
	}
}

func TestReminderDisableClearsTrigger(t *testing.T) {
	svc, mem, cleanup := setupReminderTest(t)
	defer cleanup()

	reminder, err := svc.Create(context.Background(), ReminderInput{
		UserID:          1,
		Kind:            "medication",
		Title:           "吃药",
		IntervalMinutes: uintPtr(240),
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	disabled, err := svc.Disable(context.Background(), reminder.ID)
	if err != nil {
		t.Fatalf("Disable returned error: %v", err)
	}
	if disabled.Enabled {
		t.Fatal("expected reminder to be disabled")
	}
	if got := mem.LiveCount(); got != 0 {
		t.Fatalf("expected pending trigger cleared, got %d", got)
	}

	var count int64
	db.DB.Model(&db.TriggerMapping{}).Where("reminder_id = ?", reminder.ID).Count(&count)
	if count != 0 {
		t.Fatalf("expected mapping removed, got %d rows", count)
	}
}

func TestReminderGetOwnedEnforcesOwnership(t *testing.T) {
	svc, _, cleanup := setupReminderTest(t)
	defer cleanup()

	reminder, err := svc.Create(context.Background(), ReminderInput{
		UserID:          1,
		Kind:            "water",
		Title:           "喝水",
		IntervalMinutes: uintPtr(30),
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if _, err := svc.GetOwned(reminder.ID, 2); !errors.Is(err, ErrReminderNotFound) {
		t.Fatalf("expected ErrReminderNotFound for foreign user, got %v", err)
	}
	if _, err := svc.GetOwned(reminder.ID, 1); err != nil {
		t.Fatalf("expected owner to read reminder, got %v", err)
	}
}
