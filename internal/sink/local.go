package sink

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const firingBuffer = 64

// LocalSink 是进程内的 Sink 实现：用定时器模拟平台触发器。
// 到点的触发事件推入 Fired 通道，由上层消费并生成通知记录。
type LocalSink struct {
	mu        sync.Mutex
	timers    map[string]*time.Timer
	firings   chan Firing
	responses chan Response

	closeOnce sync.Once
	closed    chan struct{}
}

// NewLocalSink 创建 LocalSink
func NewLocalSink() *LocalSink {
	return &LocalSink{
		timers:    make(map[string]*time.Timer),
		firings:   make(chan Firing, firingBuffer),
		responses: make(chan Response, firingBuffer),
		closed:    make(chan struct{}),
	}
}

// Schedule 安装一个在 triggerTime 到点的触发器并返回句柄。
// 过去超过一分钟的触发时间视为非法请求。
func (s *LocalSink) Schedule(ctx context.Context, payload Payload, triggerTime time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	now := time.Now()
	if triggerTime.Before(now.Add(-time.Minute)) {
		return "", ErrScheduleRejected
	}

	handle := uuid.NewString()
	delay := triggerTime.Sub(now)
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closed:
		return "", ErrScheduleRejected
	default:
	}

	s.timers[handle] = time.AfterFunc(delay, func() {
		s.fire(handle, payload)
	})

	return handle, nil
}

// Cancel 取消指定句柄的触发器；句柄不存在时返回 ErrHandleNotFound。
func (s *LocalSink) Cancel(ctx context.Context, handle string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	timer, ok := s.timers[handle]
	if !ok {
		return ErrHandleNotFound
	}

	timer.Stop()
	delete(s.timers, handle)
	return nil
}

// Fired 返回到点触发事件通道
func (s *LocalSink) Fired() <-chan Firing {
	return s.firings
}

// Responses 返回用户交互回调通道
func (s *LocalSink) Responses() <-chan Response {
	return s.responses
}

// PushResponse 注入一条用户交互回调（由平台回调适配层调用）
func (s *LocalSink) PushResponse(resp Response) {
	select {
	case s.responses <- resp:
	case <-s.closed:
	}
}

// Close 停止所有挂起的定时器并关闭回调通道
func (s *LocalSink) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.mu.Lock()
		for handle, timer := range s.timers {
			timer.Stop()
			delete(s.timers, handle)
		}
		s.mu.Unlock()
	})
}

func (s *LocalSink) fire(handle string, payload Payload) {
	s.mu.Lock()
	delete(s.timers, handle)
	s.mu.Unlock()

	select {
	case s.firings <- Firing{Handle: handle, Payload: payload, FiredAt: time.Now()}:
	case <-s.closed:
	}
}
