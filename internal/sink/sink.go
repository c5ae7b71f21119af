package sink

import (
	"context"
	"errors"
	"time"
)

// 用户在通知上可执行的动作
const (
	ActionSnooze   = "snooze"
	ActionComplete = "complete"
	ActionMissed   = "missed"
)

var (
	// ErrHandleNotFound 在取消一个不存在的触发器句柄时返回，调用方通常可以忽略
	ErrHandleNotFound = errors.New("trigger handle not found")
	// ErrScheduleRejected 在平台拒绝安装触发器（如触发时间非法）时返回
	ErrScheduleRejected = errors.New("sink rejected schedule request")
)

// Payload 描述触发时要展示的通知内容
type Payload struct {
	ReminderID uint
	Kind       string
	Title      string
	Body       string
}

// Firing 表示一次已到点的触发事件
type Firing struct {
	Handle  string
	Payload Payload
	FiredAt time.Time
}

// Response 表示用户对通知的交互回调（如点按稍后提醒按钮）
type Response struct {
	Action     string
	ReminderID uint
}

// Sink 抽象平台通知服务：只有安装与取消两个能力，
// 另有 Responses 通道回传用户交互。投递保证由平台自行负责。
type Sink interface {
	Schedule(ctx context.Context, payload Payload, triggerTime time.Time) (string, error)
	Cancel(ctx context.Context, handle string) error
	Responses() <-chan Response
}
