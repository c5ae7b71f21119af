package sink

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ScheduledTrigger 记录 Memory 中一条已安装的触发器
type ScheduledTrigger struct {
	Payload     Payload
	TriggerTime time.Time
}

// Memory 是用于测试的 Sink 替身：记录所有安装/取消调用，
// 并支持注入失败与延迟来模拟平台异常。
type Memory struct {
	mu        sync.Mutex
	seq       int
	triggers  map[string]ScheduledTrigger
	cancelled []string

	// FailNext 非空时，下一次 Schedule 返回该错误后自动清除
	FailNext error
	// Latency 模拟每次平台调用的耗时，用于触发超时路径
	Latency time.Duration

	responses chan Response
}

// NewMemory 创建 Memory sink
func NewMemory() *Memory {
	return &Memory{
		triggers:  make(map[string]ScheduledTrigger),
		responses: make(chan Response, 16),
	}
}

// Schedule 记录一条触发器并返回自增句柄
func (m *Memory) Schedule(ctx context.Context, payload Payload, triggerTime time.Time) (string, error) {
	if err := m.wait(ctx); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailNext != nil {
		err := m.FailNext
		m.FailNext = nil
		return "", err
	}

	m.seq++
	handle := fmt.Sprintf("trigger-%d", m.seq)
	m.triggers[handle] = ScheduledTrigger{Payload: payload, TriggerTime: triggerTime}
	return handle, nil
}

// Cancel 移除句柄对应的触发器
func (m *Memory) Cancel(ctx context.Context, handle string) error {
	if err := m.wait(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelled = append(m.cancelled, handle)
	if _, ok := m.triggers[handle]; !ok {
		return ErrHandleNotFound
	}
	delete(m.triggers, handle)
	return nil
}

// Responses 返回交互回调通道
func (m *Memory) Responses() <-chan Response {
	return m.responses
}

// PushResponse 注入一条交互回调
func (m *Memory) PushResponse(resp Response) {
	m.responses <- resp
}

// Live 返回当前存活的触发器快照
func (m *Memory) Live() map[string]ScheduledTrigger {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]ScheduledTrigger, len(m.triggers))
	for handle, trigger := range m.triggers {
		out[handle] = trigger
	}
	return out
}

// LiveCount 返回当前存活的触发器数量
func (m *Memory) LiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.triggers)
}

// Cancelled 返回被取消过的句柄列表
func (m *Memory) Cancelled() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cancelled...)
}

func (m *Memory) wait(ctx context.Context) error {
	m.mu.Lock()
	latency := m.Latency
	m.mu.Unlock()

	if latency <= 0 {
		return ctx.Err()
	}

	select {
	case <-time.After(latency):
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
