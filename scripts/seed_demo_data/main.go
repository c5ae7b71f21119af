package main

import (
	"fmt"
	"log"
	"time"

	"github.com/carelog/internal/config"
	"github.com/carelog/internal/db"
)

// 演示数据生成器：创建默认用户、一组提醒和当天的打卡记录
func main() {
	cfg := config.Load()
	if err := db.Init(cfg.DatabasePath); err != nil {
		log.Fatal("数据库初始化失败:", err)
	}

	fmt.Println("开始生成演示数据...")

	if err := db.EnsureUser(cfg.SuperRootUserName, cfg.SuperRootPassword); err != nil {
		log.Fatal("创建用户失败:", err)
	}
	var user db.User
	if err := db.DB.Where("username = ?", cfg.SuperRootUserName).First(&user).Error; err != nil {
		log.Fatal("加载用户失败:", err)
	}

	createDemoReminders(user.ID)
	createDemoLogs(user.ID)

	fmt.Println("演示数据生成完成！")
	fmt.Printf("用户: %s (密码: %s)\n", cfg.SuperRootUserName, cfg.SuperRootPassword)
}

func createDemoReminders(userID uint) {
	var count int64
	db.DB.Model(&db.Reminder{}).Where("user_id = ?", userID).Count(&count)
	if count > 0 {
		fmt.Println("提醒已存在，跳过")
		return
	}

	interval := func(minutes uint) *uint { return &minutes }
	morning := time.Now().Add(2 * time.Hour).Truncate(time.Minute)

	reminders := []db.Reminder{
		{
			UserID:          userID,
			Kind:            db.ReminderKindWater,
			Title:           "喝水",
			Note:            "每次 **250ml**，小口慢饮",
			IntervalMinutes: interval(90),
			Enabled:         true,
		},
		{
			UserID:          userID,
			Kind:            db.ReminderKindMedication,
			Title:           "降压药",
			Note:            "早饭后服用，一次一片",
			IntervalMinutes: interval(720),
			Enabled:         true,
		},
		{
			UserID:      userID,
			Kind:        db.ReminderKindMedication,
			Title:       "复查前抽血",
			Note:        "空腹",
			ScheduledAt: &morning,
			Enabled:     true,
		},
	}

	for i := range reminders {
		if err := db.DB.Create(&reminders[i]).Error; err != nil {
			log.Fatal("创建提醒失败:", err)
		}
	}
	fmt.Printf("提醒: %d 条\n", len(reminders))
}

func createDemoLogs(userID uint) {
	now := time.Now()

	hydration := []db.HydrationLog{
		{UserID: userID, AmountML: 250, LoggedAt: now.Add(-3 * time.Hour)},
		{UserID: userID, AmountML: 300, LoggedAt: now.Add(-1 * time.Hour)},
	}
	for i := range hydration {
		if err := db.DB.Create(&hydration[i]).Error; err != nil {
			log.Fatal("创建饮水记录失败:", err)
		}
	}

	medication := db.MedicationLog{
		UserID:  userID,
		Name:    "降压药",
		Dosage:  "1 片",
		TakenAt: now.Add(-2 * time.Hour),
	}
	if err := db.DB.Create(&medication).Error; err != nil {
		log.Fatal("创建用药记录失败:", err)
	}

	fmt.Println("打卡记录: 3 条")
}
