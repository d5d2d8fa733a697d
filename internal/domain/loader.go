package domain

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"dnsSteer/internal/utils"
)

// LoadStats 加载统计
type LoadStats struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
}

// ParseList 从 reader 读取域名列表写入表中
// 每行一个域名，支持 # 注释、*.example.com 与 .example.com 写法
func ParseList(r io.Reader, t *Table, logger *utils.Logger) (LoadStats, error) {
	var stats LoadStats
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		name := utils.NormalizeDomain(line)
		if name == "" {
			stats.Skipped++
			logger.Warn("第 %d 行域名无效，跳过: %s", lineNum, line)
			continue
		}
		if err := t.InsertDomain(name, ActionSteer); err != nil {
			stats.Skipped++
			logger.Warn("第 %d 行域名无法加入域名表，跳过: %s (%v)", lineNum, line, err)
			continue
		}
		stats.Added++
	}
	if err := scanner.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}

// LoadListFile 从文件加载域名列表到新表
func LoadListFile(path string, logger *utils.Logger) (*Table, LoadStats, error) {
	t := NewTable()
	if path == "" {
		return t, LoadStats{}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, LoadStats{}, fmt.Errorf("failed to open domain list: %w", err)
	}
	defer f.Close()

	stats, err := ParseList(f, t, logger)
	if err != nil {
		return nil, stats, fmt.Errorf("failed to read domain list %s: %w", path, err)
	}
	return t, stats, nil
}
