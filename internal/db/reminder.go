package db

import (
	"time"

	"gorm.io/gorm"
)

// 提醒类别常量
const (
	ReminderKindWater      = "water"
	ReminderKindMedication = "medication"
)

// Reminder 定义了提醒模型
// ScheduledAt 与 IntervalMinutes 二者有且仅有一个驱动下一次触发：
// ScheduledAt 表示一次性提醒，IntervalMinutes 表示按分钟重复的提醒。
// SnoozeUntil 设置且在未来时优先于两者生效。
// Metadata 存放 JSON 字符串，便于客户端挂载扩展字段。
// 启用状态的提醒不做物理删除，停用即 Enabled=false 并清理待触发条目。
type Reminder struct {
	gorm.Model
	UserID          uint   `gorm:"index;not null"`
	Kind            string `gorm:"index;not null"`
	Title           string `gorm:"not null"`
	Note            string
	ScheduledAt     *time.Time
	IntervalMinutes *uint
	Enabled         bool `gorm:"default:true"`
	SnoozeUntil     *time.Time
	MissedCount     uint `gorm:"default:0"`
	Metadata        string
}

// IsRepeating 判断该提醒是否为重复提醒
func (r *Reminder) IsRepeating() bool {
	return r.IntervalMinutes != nil && *r.IntervalMinutes > 0
}

// TriggerMapping 记录 Reminder 与平台触发器句柄的持久化映射
// reminder_id 唯一索引保证任一时刻每个提醒至多存在一条存活映射
// FireAt 冗余记录计划触发时间，供周期巡检比对漂移
type TriggerMapping struct {
	gorm.Model
	ReminderID uint   `gorm:"uniqueIndex;not null"`
	Handle     string `gorm:"not null"`
	FireAt     time.Time
}
