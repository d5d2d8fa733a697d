package iplist

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strings"

	"dnsSteer/internal/utils"
)

// LoadStats 加载统计
type LoadStats struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
}

// ParseCIDRList 通用解析器，从 io.Reader 读取 CIDR 列表写入名单
// 单个地址视为 /32，IPv6 条目跳过
func ParseCIDRList(r io.Reader, l *List, logger *utils.Logger) (LoadStats, error) {
	var stats LoadStats
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if i := strings.IndexAny(line, " \t#"); i >= 0 {
			line = line[:i]
		}
		if line == "" {
			continue
		}

		p, err := parsePrefix(line)
		if err != nil {
			stats.Skipped++
			logger.Warn("第 %d 行 CIDR 解析失败，跳过: %s", lineNum, line)
			continue
		}
		if !p.Addr().Is4() {
			stats.Skipped++
			logger.Debug("第 %d 行不是 IPv4 网段，跳过: %s", lineNum, line)
			continue
		}
		if err := l.InsertPrefix(p, 1); err != nil {
			stats.Skipped++
			logger.Warn("第 %d 行无法加入名单，跳过: %s (%v)", lineNum, line, err)
			continue
		}
		stats.Added++
	}
	if err := scanner.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}

func parsePrefix(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		return netip.ParsePrefix(s)
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return a.Unmap().Prefix(a.Unmap().BitLen())
}

// LoadFile 从文件加载名单
func LoadFile(path string, logger *utils.Logger) (*List, LoadStats, error) {
	l := New()
	if path == "" {
		return l, LoadStats{}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, LoadStats{}, fmt.Errorf("failed to open ip list: %w", err)
	}
	defer f.Close()

	stats, err := ParseCIDRList(f, l, logger)
	if err != nil {
		return nil, stats, fmt.Errorf("failed to read ip list %s: %w", path, err)
	}
	return l, stats, nil
}
