package db

import (
	"time"

	"gorm.io/gorm"
)

// HydrationLog 记录一次饮水事件
type HydrationLog struct {
	gorm.Model
	UserID   uint      `gorm:"index;not null"`
	AmountML uint      `gorm:"not null"`
	LoggedAt time.Time `gorm:"index;not null"`
	Note     string
}

// MedicationLog 记录一次服药事件
// ReminderID 可选关联来源提醒，手动补录时为空
type MedicationLog struct {
	gorm.Model
	UserID     uint      `gorm:"index;not null"`
	ReminderID *uint     `gorm:"index"`
	Name       string    `gorm:"not null"`
	Dosage     string
	TakenAt    time.Time `gorm:"index;not null"`
	Note       string
}

// Insight 保存由外部分析流程产出的洞察记录，本核心只存取不生成
type Insight struct {
	gorm.Model
	UserID   uint   `gorm:"index;not null"`
	Category string `gorm:"index"`
	Title    string `gorm:"not null"`
	Content  string
	Period   string
}
