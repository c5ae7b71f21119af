package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/carelog/internal/service"
	"github.com/gin-gonic/gin"
)

const timelineDateFormat = "2006-01-02"

// TodayTimeline 处理 GET /notifications/today-timeline：
// 返回当天按时间排序、状态已派生的健康事件序列。
// 传入 ?date=YYYY-MM-DD 可回看历史日期。
func (a *API) TodayTimeline(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "未登录")
		return
	}

	day := time.Now()
	if raw := strings.TrimSpace(c.Query("date")); raw != "" {
		parsed, err := time.ParseInLocation(timelineDateFormat, raw, time.Local)
		if err != nil {
			respondError(c, http.StatusBadRequest, "date 需为 YYYY-MM-DD 格式")
			return
		}
		day = parsed
	}

	items, err := a.timeline.ForDay(userID, day)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "生成时间线失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": serializeTimeline(items)})
}

func serializeTimeline(items []service.TimelineItem) []gin.H {
	out := make([]gin.H, 0, len(items))
	for _, item := range items {
		entry := gin.H{
			"id":     item.SourceID,
			"time":   item.Time.Format(time.RFC3339),
			"title":  item.Title,
			"status": item.Status,
			"type":   item.Kind,
		}
		if item.Body != "" {
			entry["body"] = item.Body
		}
		if item.Icon != "" {
			entry["icon"] = item.Icon
		}
		out = append(out, entry)
	}
	return out
}
