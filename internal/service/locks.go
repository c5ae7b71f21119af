package service

import "sync"

// reminderLocks 提供按提醒 ID 粒度的互斥锁。
// 单个提醒的 snooze/miss/reschedule/巡检必须串行执行，
// 以保证"至多一条存活触发器映射"的不变量；不同提醒互不阻塞。
type reminderLocks struct {
	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

func newReminderLocks() *reminderLocks {
	return &reminderLocks{locks: make(map[uint]*sync.Mutex)}
}

// acquire 锁定指定提醒并返回解锁函数
func (l *reminderLocks) acquire(reminderID uint) func() {
	l.mu.Lock()
	lock, ok := l.locks[reminderID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[reminderID] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
