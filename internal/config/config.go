package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// 常量定义
const (
	DefaultConfigPath     = "configs/config.yaml"
	DefaultLogLevel       = "info"
	DefaultAdminPort      = 9102
	DefaultDNSPort        = 53
	DefaultAltDNSPort     = 15301
	DefaultDirectMark     = 0x88
	DefaultKeyScanMode    = "raw"
	DefaultGeositeGroup   = "CN"
	DefaultListRefresh    = "10m"
	DefaultHotSize        = 1024
	DefaultPreSize        = 4096
	DefaultPromotePackets = 20
	DefaultPromoteAfter   = "10s"
)

// CacheConfig 预热缓存配置
type CacheConfig struct {
	HotSize        int    `yaml:"hot_size" validate:"min=1"`
	PreSize        int    `yaml:"pre_size" validate:"min=1"`
	PromotePackets uint32 `yaml:"promote_packets" validate:"min=1"`
	PromoteAfter   string `yaml:"promote_after" validate:"required"`
}

// Config 配置结构体
type Config struct {
	LogLevel          string      `yaml:"log_level" validate:"oneof=debug info warn error"`
	AdminPort         int         `yaml:"admin_port" validate:"min=0,max=65535"`
	DNSPort           uint16      `yaml:"dns_port" validate:"min=1"`
	AltDNSPort        uint16      `yaml:"alt_dns_port" validate:"min=1,nefield=DNSPort"`
	DirectMark        uint32      `yaml:"direct_mark" validate:"min=1"`
	IncludeLoopback   bool        `yaml:"include_loopback"`
	SteerAllProtocols bool        `yaml:"steer_all_protocols"`
	KeyScanMode       string      `yaml:"key_scan_mode" validate:"oneof=raw labels"`
	StopAtSpace       bool        `yaml:"stop_at_space"`
	FoldCase          bool        `yaml:"fold_case"`
	DomainListFile    string      `yaml:"domain_list_file"`
	GeositeFile       string      `yaml:"geosite_file"`
	GeositeURL        string      `yaml:"geosite_url" validate:"omitempty,url"`
	GeositeGroup      string      `yaml:"geosite_group"`
	AllowListFile     string      `yaml:"allow_list_file"`
	DenyListFile      string      `yaml:"deny_list_file"`
	ListRefresh       string      `yaml:"list_refresh"`
	Cache             CacheConfig `yaml:"cache"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// 错误信息里使用 yaml 字段名
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		LogLevel:       DefaultLogLevel,
		AdminPort:      DefaultAdminPort,
		DNSPort:        DefaultDNSPort,
		AltDNSPort:     DefaultAltDNSPort,
		DirectMark:     DefaultDirectMark,
		KeyScanMode:    DefaultKeyScanMode,
		FoldCase:       true,
		DomainListFile: "./configs/domestic_domains.txt",
		GeositeGroup:   DefaultGeositeGroup,
		AllowListFile:  "./configs/direct_ip.txt",
		DenyListFile:   "./configs/deny_ip.txt",
		ListRefresh:    DefaultListRefresh,
		Cache: CacheConfig{
			HotSize:        DefaultHotSize,
			PreSize:        DefaultPreSize,
			PromotePackets: DefaultPromotePackets,
			PromoteAfter:   DefaultPromoteAfter,
		},
	}
}

// LoadConfig 加载配置文件，未出现的字段保留默认值
func LoadConfig(path string) (*Config, error) {
	cfgData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(cfgData, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// 显式写成空值的字段回退到默认值
	if config.LogLevel == "" {
		config.LogLevel = DefaultLogLevel
	}
	if config.KeyScanMode == "" {
		config.KeyScanMode = DefaultKeyScanMode
	}
	if config.GeositeGroup == "" {
		config.GeositeGroup = DefaultGeositeGroup
	}
	if config.Cache.PromoteAfter == "" {
		config.Cache.PromoteAfter = DefaultPromoteAfter
	}
	config.LogLevel = strings.ToLower(config.LogLevel)

	return config, nil
}

// ValidateConfig 验证配置
func ValidateConfig(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed '%s' (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return err
	}

	if cfg.AdminPort == int(cfg.DNSPort) || cfg.AdminPort == int(cfg.AltDNSPort) {
		return fmt.Errorf("admin_port %d collides with a DNS port", cfg.AdminPort)
	}
	if d, err := time.ParseDuration(cfg.Cache.PromoteAfter); err != nil || d < 0 {
		return fmt.Errorf("invalid cache.promote_after: %q", cfg.Cache.PromoteAfter)
	}
	if cfg.ListRefresh != "" {
		if d, err := time.ParseDuration(cfg.ListRefresh); err != nil || d < 0 {
			return fmt.Errorf("invalid list_refresh: %q", cfg.ListRefresh)
		}
	}
	if cfg.GeositeFile != "" && cfg.GeositeGroup == "" {
		return fmt.Errorf("geosite_group must be set when geosite_file is configured")
	}
	return nil
}

// LoadAndValidateConfig 加载并验证配置
func LoadAndValidateConfig(path string) (*Config, error) {
	config, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

// PromoteAfterDuration 晋升所需的最短存活时间
func (c *Config) PromoteAfterDuration() time.Duration {
	d, _ := time.ParseDuration(c.Cache.PromoteAfter)
	return d
}

// ListRefreshDuration 名单刷新周期，0 表示不刷新
func (c *Config) ListRefreshDuration() time.Duration {
	if c.ListRefresh == "" {
		return 0
	}
	d, _ := time.ParseDuration(c.ListRefresh)
	return d
}
