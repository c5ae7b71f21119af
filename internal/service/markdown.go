package service

import (
	"bytes"
	"log"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	markdownEngine = goldmark.New(
		goldmark.WithExtensions(extension.GFM, extension.Linkify),
		goldmark.WithRendererOptions(html.WithHardWraps(), html.WithXHTML()),
	)
	sanitizer = bluemonday.UGCPolicy()
)

// renderMarkdown 把提醒备注的 Markdown 渲染为净化后的 HTML，供时间线 body 使用。
// 渲染失败时回退为原文，避免展示层拿到空内容。
func renderMarkdown(source string) string {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return ""
	}

	var buf bytes.Buffer
	if err := markdownEngine.Convert([]byte(trimmed), &buf); err != nil {
		log.Printf("timeline: render markdown: %v", err)
		return trimmed
	}

	return strings.TrimSpace(sanitizer.Sanitize(buf.String()))
}
