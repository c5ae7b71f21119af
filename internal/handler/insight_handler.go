package handler

import (
	"net/http"

	"github.com/carelog/internal/service"
	"github.com/gin-gonic/gin"
)

type insightPayload struct {
	Category string `json:"category"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Period   string `json:"period"`
}

// ListInsights 返回用户的洞察记录，供 UI 只读展示
func (a *API) ListInsights(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "未登录")
		return
	}

	insights, err := a.insights.List(userID, c.Query("category"))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取洞察记录失败")
		return
	}

	items := make([]gin.H, 0, len(insights))
	for _, insight := range insights {
		items = append(items, gin.H{
			"id":       insight.ID,
			"category": insight.Category,
			"title":    insight.Title,
			"content":  insight.Content,
			"period":   insight.Period,
		})
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

// CreateInsight 保存外部分析流程上报的洞察记录
func (a *API) CreateInsight(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "未登录")
		return
	}

	var payload insightPayload
	if !bindJSON(c, &payload, "请求体格式不正确") {
		return
	}

	insight, err := a.insights.Create(service.InsightInput{
		UserID:   userID,
		Category: payload.Category,
		Title:    payload.Title,
		Content:  payload.Content,
		Period:   payload.Period,
	})
	if err != nil {
		respondServiceError(c, err, "保存洞察记录失败")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": gin.H{
		"id":       insight.ID,
		"category": insight.Category,
		"title":    insight.Title,
		"content":  insight.Content,
		"period":   insight.Period,
	}})
}
