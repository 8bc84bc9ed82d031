package dispatcher

import (
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

var htmlTag = regexp.MustCompile(`(?i)<(p|div|br|span|a|ul|ol|li|b|strong|i|em|h[1-6]|table|html|body)\b[^>]*>`)

// NormalizeMessage 把 HTML 正文 (邮件、Kafka 转发的网页消息) 转换为 Markdown。
// 纯文本原样返回；转换失败时退回原文。
func NormalizeMessage(text string) string {
	if !htmlTag.MatchString(text) {
		return strings.TrimSpace(text)
	}
	md, err := htmltomarkdown.ConvertString(text)
	if err != nil {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(md)
}
