package service

import (
	"fmt"
	"sort"
	"time"

	"github.com/carelog/internal/db"
	"gorm.io/gorm"
)

// 时间线条目状态，读取时派生，从不落库
const (
	TimelineStatusCompleted = "completed"
	TimelineStatusSkipped   = "skipped"
	TimelineStatusUpcoming  = "upcoming"
	TimelineStatusPending   = "pending"
)

// 时间线条目类别，同刻并列时按 medication < hydration < general 排序
const (
	TimelineKindMedication = "medication"
	TimelineKindHydration  = "hydration"
	TimelineKindGeneral    = "general"
)

var timelineKindRank = map[string]int{
	TimelineKindMedication: 0,
	TimelineKindHydration:  1,
	TimelineKindGeneral:    2,
}

// TimelineItem 是时间线的派生条目，每次请求重新计算
type TimelineItem struct {
	Time     time.Time `json:"time"`
	Title    string    `json:"title"`
	Body     string    `json:"body,omitempty"`
	Status   string    `json:"status"`
	Kind     string    `json:"kind"`
	SourceID string    `json:"source_id"`
	Icon     string    `json:"icon,omitempty"`
}

// TimelineService 只读地合并提醒投影、通知记录与饮水/服药日志，
// 产出按时间排序、带派生状态的当日时间线。从不修改任何数据源。
type TimelineService struct {
	db            *gorm.DB
	scheduler     *SchedulerService
	notifications *NotificationService
	now           func() time.Time
}

// NewTimelineService 构造 TimelineService
func NewTimelineService(gdb *gorm.DB, scheduler *SchedulerService, notifications *NotificationService) *TimelineService {
	return &TimelineService{
		db:            gdb,
		scheduler:     scheduler,
		notifications: notifications,
		now:           time.Now,
	}
}

// WithClock 在测试中替换时钟
func (s *TimelineService) WithClock(now func() time.Time) *TimelineService {
	if now != nil {
		s.now = now
	}
	return s
}

// ForDay 组装用户在指定自然日的时间线
func (s *TimelineService) ForDay(userID uint, day time.Time) ([]TimelineItem, error) {
	now := s.now()
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	items := make([]TimelineItem, 0, 16)
	seen := make(map[string]bool)
	coveredReminders := make(map[uint]bool)

	notifications, err := s.notifications.ListForDay(userID, day)
	if err != nil {
		return nil, err
	}
	for i := range notifications {
		item := s.notificationItem(&notifications[i], now)
		if addTimelineItem(&items, seen, item) && notifications[i].ReminderID != nil {
			coveredReminders[*notifications[i].ReminderID] = true
		}
	}

	// 尚无通知记录的提醒用其下一次触发投影合成占位条目
	reminderItems, err := s.projectedReminderItems(userID, now, dayStart, dayEnd, coveredReminders)
	if err != nil {
		return nil, err
	}
	for _, item := range reminderItems {
		addTimelineItem(&items, seen, item)
	}

	hydrationItems, err := s.hydrationItems(userID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	for _, item := range hydrationItems {
		addTimelineItem(&items, seen, item)
	}

	medicationItems, err := s.medicationItems(userID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	for _, item := range medicationItems {
		addTimelineItem(&items, seen, item)
	}

	sortTimeline(items)
	return items, nil
}

// notificationItem 把通知记录翻译为时间线条目并派生状态
func (s *TimelineService) notificationItem(n *db.Notification, now time.Time) TimelineItem {
	var status string
	switch {
	case n.Status == db.NotificationStatusCompleted:
		status = TimelineStatusCompleted
	case n.Status == db.NotificationStatusMissed:
		status = TimelineStatusSkipped
	case n.ScheduledTime.After(now):
		status = TimelineStatusUpcoming
	default:
		// 计划时间已过且未决，含逾期未投递的 scheduled
		status = TimelineStatusPending
	}

	kind := timelineKindFor(n.Type)
	return TimelineItem{
		Time:     n.ScheduledTime,
		Title:    n.Title,
		Body:     renderMarkdown(n.Body),
		Status:   status,
		Kind:     kind,
		SourceID: fmt.Sprintf("notification-%d", n.ID),
		Icon:     timelineIconFor(kind),
	}
}

// projectedReminderItems 为当天尚无通知记录的启用提醒合成 pending/upcoming 条目
func (s *TimelineService) projectedReminderItems(userID uint, now, dayStart, dayEnd time.Time, covered map[uint]bool) ([]TimelineItem, error) {
	var reminders []db.Reminder
	if err := s.db.Where("user_id = ? AND enabled = ?", userID, true).
		Find(&reminders).Error; err != nil {
		return nil, fmt.Errorf("list reminders for timeline: %w", err)
	}

	items := make([]TimelineItem, 0, len(reminders))
	for i := range reminders {
		reminder := &reminders[i]
		if covered[reminder.ID] {
			continue
		}

		fireAt, ok := s.scheduler.NextFireTime(reminder, now)
		if !ok || fireAt.Before(dayStart) || !fireAt.Before(dayEnd) {
			continue
		}

		status := TimelineStatusPending
		if fireAt.After(now) {
			status = TimelineStatusUpcoming
		}

		kind := timelineKindFor(reminder.Kind)
		items = append(items, TimelineItem{
			Time:     fireAt,
			Title:    reminder.Title,
			Body:     renderMarkdown(reminder.Note),
			Status:   status,
			Kind:     kind,
			SourceID: fmt.Sprintf("reminder-%d", reminder.ID),
			Icon:     timelineIconFor(kind),
		})
	}

	return items, nil
}

func (s *TimelineService) hydrationItems(userID uint, dayStart, dayEnd time.Time) ([]TimelineItem, error) {
	var logs []db.HydrationLog
	if err := s.db.Where("user_id = ?", userID).
		Where("logged_at >= ? AND logged_at < ?", dayStart, dayEnd).
		Order("logged_at ASC").
		Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("list hydration logs: %w", err)
	}

	items := make([]TimelineItem, 0, len(logs))
	for _, entry := range logs {
		items = append(items, TimelineItem{
			Time:     entry.LoggedAt,
			Title:    fmt.Sprintf("饮水 %d ml", entry.AmountML),
			Body:     renderMarkdown(entry.Note),
			Status:   TimelineStatusCompleted,
			Kind:     TimelineKindHydration,
			SourceID: fmt.Sprintf("hydration-%d", entry.ID),
			Icon:     timelineIconFor(TimelineKindHydration),
		})
	}
	return items, nil
}

func (s *TimelineService) medicationItems(userID uint, dayStart, dayEnd time.Time) ([]TimelineItem, error) {
	var logs []db.MedicationLog
	if err := s.db.Where("user_id = ?", userID).
		Where("taken_at >= ? AND taken_at < ?", dayStart, dayEnd).
		Order("taken_at ASC").
		Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("list medication logs: %w", err)
	}

	items := make([]TimelineItem, 0, len(logs))
	for _, entry := range logs {
		title := entry.Name
		if entry.Dosage != "" {
			title = fmt.Sprintf("%s %s", entry.Name, entry.Dosage)
		}
		items = append(items, TimelineItem{
			Time:     entry.TakenAt,
			Title:    title,
			Body:     renderMarkdown(entry.Note),
			Status:   TimelineStatusCompleted,
			Kind:     TimelineKindMedication,
			SourceID: fmt.Sprintf("medication-%d", entry.ID),
			Icon:     timelineIconFor(TimelineKindMedication),
		})
	}
	return items, nil
}

// addTimelineItem 按 (time, sourceID) 去重合并
func addTimelineItem(items *[]TimelineItem, seen map[string]bool, item TimelineItem) bool {
	key := fmt.Sprintf("%d|%s", item.Time.UnixNano(), item.SourceID)
	if seen[key] {
		return false
	}
	seen[key] = true
	*items = append(*items, item)
	return true
}

// sortTimeline 固定排序：时间升序，同刻按类别序，再按 SourceID 保证输出稳定
func sortTimeline(items []TimelineItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].Time.Equal(items[j].Time) {
			return items[i].Time.Before(items[j].Time)
		}
		ri, rj := timelineKindRank[items[i].Kind], timelineKindRank[items[j].Kind]
		if ri != rj {
			return ri < rj
		}
		return items[i].SourceID < items[j].SourceID
	})
}

func timelineKindFor(raw string) string {
	switch raw {
	case db.ReminderKindMedication:
		return TimelineKindMedication
	case db.ReminderKindWater, TimelineKindHydration:
		return TimelineKindHydration
	default:
		return TimelineKindGeneral
	}
}

func timelineIconFor(kind string) string {
	switch kind {
	case TimelineKindMedication:
		return "pill"
	case TimelineKindHydration:
		return "droplet"
	default:
		return "bell"
	}
}
