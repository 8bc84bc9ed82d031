package llm

import (
	"strings"

	"github.com/tidwall/gjson"
)

// FirstJSONObject 在模型输出中找到第一个完整且合法的 JSON 对象。
// 模型经常在 JSON 前后加说明文字或 ```json 围栏，这里只关心对象本身。
func FirstJSONObject(text string) (gjson.Result, bool) {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end := matchBrace(text, start); end > start {
			raw := text[start : end+1]
			if gjson.Valid(raw) {
				return gjson.Parse(raw), true
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return gjson.Result{}, false
}

// TrailingJSONObject 返回文本末尾的 JSON 对象以及它之前的正文。
// 末尾没有合法对象时 ok 为 false，body 为原文。
func TrailingJSONObject(text string) (body string, obj gjson.Result, ok bool) {
	trimmed := strings.TrimRight(text, " \t\r\n`")
	if !strings.HasSuffix(trimmed, "}") {
		return text, gjson.Result{}, false
	}
	for start := strings.LastIndexByte(trimmed, '{'); start >= 0; start = strings.LastIndexByte(trimmed[:start], '{') {
		if matchBrace(trimmed, start) != len(trimmed)-1 {
			continue
		}
		raw := trimmed[start:]
		if !gjson.Valid(raw) {
			continue
		}
		body = strings.TrimRight(trimmed[:start], " \t\r\n")
		body = strings.TrimSuffix(body, "```json")
		return strings.TrimSpace(body), gjson.Parse(raw), true
	}
	return text, gjson.Result{}, false
}

// matchBrace 返回与 text[start] 处 '{' 配对的 '}' 下标，找不到时返回 -1。字符串内的括号会被跳过。
func matchBrace(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
