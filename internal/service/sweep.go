package service

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/carelog/internal/db"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	defaultSweepInterval    = time.Minute
	defaultSweepParallelism = 4
)

// Sweeper 周期性找出触发时间已过或映射缺失的启用提醒并重排触发器。
// 它只是本地触发状态与提醒定义之间的收敛机制，逾期判断的正确性不依赖它。
// 与请求路径共用同一把按提醒粒度的锁，避免巡检与用户 snooze 互相践踏。
type Sweeper struct {
	db        *gorm.DB
	scheduler *SchedulerService
	interval  time.Duration
	now       func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewSweeper 构造 Sweeper
func NewSweeper(gdb *gorm.DB, scheduler *SchedulerService, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Sweeper{
		db:        gdb,
		scheduler: scheduler,
		interval:  interval,
		now:       time.Now,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start 启动后台巡检循环
func (s *Sweeper) Start(ctx context.Context) {
	go s.loop(ctx)
}

// Stop 停止巡检并等待循环退出
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.done
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				log.Printf("sweeper: %v", err)
			}
		}
	}
}

// SweepOnce 执行一轮收敛：对每个漂移的提醒各自加锁重排
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	drifted, err := s.findDrifted()
	if err != nil {
		return err
	}

	if len(drifted) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultSweepParallelism)

	for _, reminderID := range drifted {
		id := reminderID
		g.Go(func() error {
			if _, err := s.scheduler.Reschedule(gctx, id); err != nil {
				// 单个提醒的失败只记日志，不中断整轮巡检
				log.Printf("sweeper: resync reminder %d: %v", id, err)
			}
			return nil
		})
	}

	return g.Wait()
}

// findDrifted 找出映射缺失或计划触发时间已过的启用提醒
func (s *Sweeper) findDrifted() ([]uint, error) {
	now := s.now()

	var ids []uint
	if err := s.db.Model(&db.Reminder{}).
		Joins("LEFT JOIN trigger_mappings ON trigger_mappings.reminder_id = reminders.id AND trigger_mappings.deleted_at IS NULL").
		Where("reminders.enabled = ?", true).
		Where("trigger_mappings.id IS NULL OR trigger_mappings.fire_at < ?", now).
		Pluck("reminders.id", &ids).Error; err != nil {
		return nil, err
	}

	return ids, nil
}
