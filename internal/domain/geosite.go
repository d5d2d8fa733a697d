package domain

import (
	"fmt"
	"os"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"

	"dnsSteer/internal/utils"
)

// geosite.dat 的字段编号（v2ray routercommon.proto）
//
//	GeoSiteList { repeated GeoSite entry = 1; }
//	GeoSite     { string country_code = 1; repeated Domain domain = 2; }
//	Domain      { Type type = 1; string value = 2; }
const (
	fieldListEntry       protowire.Number = 1
	fieldSiteCountryCode protowire.Number = 1
	fieldSiteDomain      protowire.Number = 2
	fieldDomainType      protowire.Number = 1
	fieldDomainValue     protowire.Number = 2
)

// GeositeType 规则类型
type GeositeType uint64

const (
	GeositePlain  GeositeType = 0
	GeositeRegex  GeositeType = 1
	GeositeDomain GeositeType = 2
	GeositeFull   GeositeType = 3
)

// GeositeRule 一条域名规则
type GeositeRule struct {
	Type  GeositeType
	Value string
}

// ParseGeosite 解码 geosite.dat，返回指定分组（不区分大小写）的规则
func ParseGeosite(data []byte, group string) ([]GeositeRule, error) {
	group = strings.ToLower(group)
	var rules []GeositeRule

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]

		if num != fieldListEntry || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			data = data[n:]
			continue
		}

		site, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]

		siteRules, code, err := parseSite(site)
		if err != nil {
			return nil, err
		}
		if strings.ToLower(code) == group {
			rules = append(rules, siteRules...)
		}
	}
	return rules, nil
}

func parseSite(b []byte) ([]GeositeRule, string, error) {
	var code string
	var rules []GeositeRule
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, "", protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == fieldSiteCountryCode && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, "", protowire.ParseError(n)
			}
			code = v
			b = b[n:]
		case num == fieldSiteDomain && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, "", protowire.ParseError(n)
			}
			rule, err := parseRule(v)
			if err != nil {
				return nil, "", err
			}
			rules = append(rules, rule)
			b = b[n:]
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, "", protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return rules, code, nil
}

func parseRule(b []byte) (GeositeRule, error) {
	var r GeositeRule
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == fieldDomainType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			r.Type = GeositeType(v)
			b = b[n:]
		case num == fieldDomainValue && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			r.Value = v
			b = b[n:]
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return r, nil
}

// AddGeosite 把 geosite 规则写入域名表
// 只加入 domain 类型（后缀规则）。域名表只做后缀匹配，full 加入后会连带命中子域名，
// 因此与 plain（关键字）、regex 一样跳过
func AddGeosite(t *Table, rules []GeositeRule, logger *utils.Logger) LoadStats {
	var stats LoadStats
	for _, r := range rules {
		if r.Type != GeositeDomain {
			stats.Skipped++
			continue
		}
		name := utils.NormalizeDomain(r.Value)
		if name == "" {
			stats.Skipped++
			continue
		}
		if err := t.InsertDomain(name, ActionSteer); err != nil {
			stats.Skipped++
			logger.Debug("[geosite] 跳过规则 %s: %v", r.Value, err)
			continue
		}
		stats.Added++
	}
	return stats
}

// LoadGeositeFile 读取 geosite.dat 并把指定分组加入域名表
func LoadGeositeFile(path, group string, t *Table, logger *utils.Logger) (LoadStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LoadStats{}, fmt.Errorf("failed to read geosite: %w", err)
	}
	rules, err := ParseGeosite(data, group)
	if err != nil {
		return LoadStats{}, fmt.Errorf("failed to decode geosite %s: %w", path, err)
	}
	stats := AddGeosite(t, rules, logger)
	logger.Info("[geosite] 分组 %s 加载 %d 条规则，跳过 %d 条", group, stats.Added, stats.Skipped)
	return stats, nil
}
