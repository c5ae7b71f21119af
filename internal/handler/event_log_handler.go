package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/carelog/internal/service"
	"github.com/gin-gonic/gin"
)

type hydrationPayload struct {
	AmountML uint   `json:"amount_ml"`
	LoggedAt string `json:"logged_at"`
	Note     string `json:"note"`
}

type medicationPayload struct {
	ReminderID *uint  `json:"reminder_id"`
	Name       string `json:"name"`
	Dosage     string `json:"dosage"`
	TakenAt    string `json:"taken_at"`
	Note       string `json:"note"`
}

// LogHydration 记录一次饮水事件
func (a *API) LogHydration(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "未登录")
		return
	}

	var payload hydrationPayload
	if !bindJSON(c, &payload, "请求体格式不正确") {
		return
	}

	input := service.HydrationInput{
		UserID:   userID,
		AmountML: payload.AmountML,
		Note:     payload.Note,
	}
	if raw := strings.TrimSpace(payload.LoggedAt); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "logged_at 需为 RFC3339 时间")
			return
		}
		input.LoggedAt = parsed
	}

	entry, err := a.events.LogHydration(input)
	if err != nil {
		respondServiceError(c, err, "记录饮水失败")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": gin.H{
		"id":        entry.ID,
		"amount_ml": entry.AmountML,
		"logged_at": entry.LoggedAt.Format(time.RFC3339),
		"note":      entry.Note,
	}})
}

// ListHydration 返回当天（或指定日期）的饮水记录
func (a *API) ListHydration(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "未登录")
		return
	}

	start, end, err := resolveDayRange(c.Query("date"))
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	logs, err := a.events.ListHydration(userID, start, end)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取饮水记录失败")
		return
	}

	items := make([]gin.H, 0, len(logs))
	for _, entry := range logs {
		items = append(items, gin.H{
			"id":        entry.ID,
			"amount_ml": entry.AmountML,
			"logged_at": entry.LoggedAt.Format(time.RFC3339),
			"note":      entry.Note,
		})
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

// LogMedication 记录一次服药事件
func (a *API) LogMedication(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "未登录")
		return
	}

	var payload medicationPayload
	if !bindJSON(c, &payload, "请求体格式不正确") {
		return
	}

	input := service.MedicationInput{
		UserID:     userID,
		ReminderID: payload.ReminderID,
		Name:       payload.Name,
		Dosage:     payload.Dosage,
		Note:       payload.Note,
	}
	if raw := strings.TrimSpace(payload.TakenAt); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "taken_at 需为 RFC3339 时间")
			return
		}
		input.TakenAt = parsed
	}

	entry, err := a.events.LogMedication(input)
	if err != nil {
		respondServiceError(c, err, "记录服药失败")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": gin.H{
		"id":       entry.ID,
		"name":     entry.Name,
		"dosage":   entry.Dosage,
		"taken_at": entry.TakenAt.Format(time.RFC3339),
		"note":     entry.Note,
	}})
}

// ListMedication 返回当天（或指定日期）的服药记录
func (a *API) ListMedication(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "未登录")
		return
	}

	start, end, err := resolveDayRange(c.Query("date"))
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	logs, err := a.events.ListMedication(userID, start, end)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取服药记录失败")
		return
	}

	items := make([]gin.H, 0, len(logs))
	for _, entry := range logs {
		item := gin.H{
			"id":       entry.ID,
			"name":     entry.Name,
			"dosage":   entry.Dosage,
			"taken_at": entry.TakenAt.Format(time.RFC3339),
			"note":     entry.Note,
		}
		if entry.ReminderID != nil {
			item["reminder_id"] = *entry.ReminderID
		}
		items = append(items, item)
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

// resolveDayRange 把可选的 YYYY-MM-DD 参数解析为自然日区间，缺省为今天
func resolveDayRange(raw string) (time.Time, time.Time, error) {
	day := time.Now()
	if trimmed := strings.TrimSpace(raw); trimmed != "" {
		parsed, err := time.ParseInLocation(timelineDateFormat, trimmed, time.Local)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		day = parsed
	}

	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return start, start.AddDate(0, 0, 1), nil
}
