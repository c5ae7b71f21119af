package db

import (
	"time"

	"gorm.io/gorm"
)

// 通知投递状态常量，状态只能单向推进
const (
	NotificationStatusScheduled = "scheduled"
	NotificationStatusDelivered = "delivered"
	NotificationStatusCompleted = "completed"
	NotificationStatusMissed    = "missed"
)

// Notification 定义了单次触发的通知记录
// 与 Reminder 的定义相互独立：一个 Reminder 的历史会积累多条 Notification。
// OpenedAt/ActionedAt 只记录交互时间戳，不参与状态机推进。
type Notification struct {
	gorm.Model
	UserID        uint  `gorm:"index;not null"`
	ReminderID    *uint `gorm:"index"`
	Type          string
	Title         string
	Body          string
	ScheduledTime time.Time `gorm:"index;not null"`
	Status        string    `gorm:"index;default:scheduled"`
	OpenedAt      *time.Time
	ActionedAt    *time.Time
	CompletedAt   *time.Time
	MissedAt      *time.Time
	ErrorMessage  string
}

// SnoozeLog 记录每一次稍后提醒操作，仅追加不修改
// ReminderKey 为可选的提醒主键字符串，ScheduledTime 存 HH:mm 文本
type SnoozeLog struct {
	gorm.Model
	UserID        uint   `gorm:"index;not null"`
	ReminderType  string `gorm:"index;not null"`
	ReminderKey   string
	ScheduledTime string
	SnoozedAt     time.Time `gorm:"index;not null"`
	SnoozeMinutes uint      `gorm:"not null"`
}
