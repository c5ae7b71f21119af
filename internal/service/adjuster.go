package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/carelog/internal/db"
	"gorm.io/gorm"
)

const (
	adjustMissThreshold = 3
	adjustFactor        = 0.8
	adjustFloorMinutes  = 5
)

// adjustFrequencyLocked 是自适应调频启发式，在每次 MarkMissed 后调用。
// 重复提醒累计漏掉 ≥3 次时，把间隔压缩为 floor(interval*0.8)（下限 5 分钟）并重排触发器。
// 一次性提醒（无 IntervalMinutes）永不调整；MissedCount 只由 Complete 清零，
// 因此连续漏掉会在每次越过阈值时叠加压缩。
func (s *ResponseService) adjustFrequencyLocked(ctx context.Context, reminderID uint) error {
	var reminder db.Reminder
	if err := s.db.First(&reminder, reminderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrReminderNotFound
		}
		return fmt.Errorf("load reminder: %w", err)
	}

	if !reminder.IsRepeating() || reminder.MissedCount < adjustMissThreshold {
		return nil
	}

	oldInterval := *reminder.IntervalMinutes
	newInterval := uint(math.Floor(float64(oldInterval) * adjustFactor))
	if newInterval < adjustFloorMinutes {
		newInterval = adjustFloorMinutes
	}

	if err := s.db.Model(&reminder).Update("interval_minutes", newInterval).Error; err != nil {
		return fmt.Errorf("persist adjusted interval: %w", err)
	}

	log.Printf("adjuster: reminder %d missed %d times, interval %d -> %d",
		reminder.ID, reminder.MissedCount, oldInterval, newInterval)

	if _, err := s.scheduler.rescheduleLocked(ctx, reminderID); err != nil {
		return err
	}
	return nil
}
