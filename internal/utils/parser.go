package utils

import (
	"regexp"
	"strings"

	"github.com/mozillazg/go-unidecode"
)

var (
	reNonAlnum = regexp.MustCompile(`[^0-9a-z ]+`)
	reSpaces   = regexp.MustCompile(`\s+`)
)

// NormalizeTitle 标题归一化：转写为 ASCII、小写、只保留 [0-9a-z ]、合并空白
// 对同一结果再次调用不会改变输出
func NormalizeTitle(s string) string {
	if s == "" {
		return ""
	}
	s = unidecode.Unidecode(s)
	s = strings.ToLower(s)
	s = reNonAlnum.ReplaceAllString(s, "")
	s = reSpaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// SplitExt 拆分文件名与扩展名，以点开头的隐藏文件（如 ".png"）视为没有扩展名
func SplitExt(filename string) (stem, ext string) {
	i := strings.LastIndex(filename, ".")
	if i <= 0 || strings.TrimLeft(filename[:i], ".") == "" {
		return filename, ""
	}
	return filename[:i], filename[i:]
}

// FileKey 图片文件名对应的匹配键：去掉扩展名和前缀 m_ 后归一化
func FileKey(filename string) string {
	stem, _ := SplitExt(filename)
	stem = strings.TrimPrefix(stem, "m_")
	return NormalizeTitle(stem)
}
