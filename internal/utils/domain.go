package utils

import (
	"strings"
)

// NormalizeDomain 规范化列表文件中的域名条目
// 支持以下写法，全部按后缀规则处理：
// 1. 普通域名：qq.com
// 2. 通配符前缀：*.qq.com
// 3. 点前缀：.qq.com
// 4. 全限定：qq.com.
// 返回空字符串表示该条目无效
func NormalizeDomain(pattern string) string {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if i := strings.IndexAny(pattern, " \t#"); i >= 0 {
		pattern = pattern[:i]
	}

	pattern = strings.TrimPrefix(pattern, "*.")
	pattern = strings.TrimPrefix(pattern, ".")
	pattern = strings.TrimSuffix(pattern, ".")

	// 避免 "*." 或 "." 匹配所有域名
	if pattern == "" || strings.Contains(pattern, "*") {
		return ""
	}
	return pattern
}

// SanitizeDomainName 清理域名
func SanitizeDomainName(name string) string {
	if idx := strings.Index(name, `\`); idx != -1 {
		return name[:idx]
	}
	return name
}
