package utils

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// 默认配置文件内容
const defaultConfig = `# DNS/IP 分流引擎配置
log_level: "info"
admin_port: 9102

# DNS 查询改写
dns_port: 53
alt_dns_port: 15301
key_scan_mode: "raw"      # raw 或 labels
stop_at_space: false
fold_case: true

# 直连标记（0x88）
direct_mark: 136
include_loopback: false
steer_all_protocols: false

# 名单文件
domain_list_file: "./configs/domestic_domains.txt"
geosite_file: ""
geosite_url: ""
geosite_group: "CN"
allow_list_file: "./configs/direct_ip.txt"
deny_list_file: "./configs/deny_ip.txt"
list_refresh: 10m

# 预热缓存
cache:
  hot_size: 1024
  pre_size: 4096
  promote_packets: 20
  promote_after: 10s
`

// ResourceFiles 需要初始化的资源文件
type ResourceFiles struct {
	DomainList string
	AllowList  string
	DenyList   string
	Geosite    string
	GeositeURL string
}

// CreateConfigFiles 创建默认配置文件（如果不存在）
func CreateConfigFiles(configPath string) error {
	configDir := filepath.Dir(configPath)
	if _, err := os.Stat(configDir); os.IsNotExist(err) {
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
		}
		fmt.Printf("📁 创建配置目录: %s\n", configDir)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := os.WriteFile(configPath, []byte(defaultConfig), 0644); err != nil {
			return fmt.Errorf("failed to create default config file: %w", err)
		}
		fmt.Printf("📄 创建默认配置文件: %s\n", configPath)
	} else {
		fmt.Printf("✅ 配置文件已存在: %s\n", configPath)
	}
	return nil
}

// InitResourceFiles 创建缺失的名单文件，配置了下载地址时拉取 geosite
func InitResourceFiles(res ResourceFiles) error {
	lists := []struct {
		Path   string
		Header string
	}{
		{res.DomainList, "# 改写到备用解析端口的域名后缀，每行一个\n# 支持 *.example.com / .example.com 写法\n"},
		{res.AllowList, "# 直连 IPv4 网段，每行一个 CIDR，单个地址视为 /32\n"},
		{res.DenyList, "# 禁止直连的 IPv4 网段，优先于直连名单\n"},
	}

	for _, l := range lists {
		if l.Path == "" {
			continue
		}
		if _, err := os.Stat(l.Path); os.IsNotExist(err) {
			if err := os.MkdirAll(filepath.Dir(l.Path), 0755); err != nil {
				return fmt.Errorf("failed to create directory for %s: %w", l.Path, err)
			}
			if err := os.WriteFile(l.Path, []byte(l.Header), 0644); err != nil {
				return fmt.Errorf("failed to create list file %s: %w", l.Path, err)
			}
			fmt.Printf("📄 已创建名单文件: %s\n", l.Path)
		} else {
			fmt.Printf("✅ 文件已存在: %s\n", l.Path)
		}
	}

	if res.Geosite == "" || res.GeositeURL == "" {
		return nil
	}
	if _, err := os.Stat(res.Geosite); os.IsNotExist(err) {
		fmt.Printf("📥 资源文件不存在，自动下载: %s\n", res.Geosite)
		if err := downloadFile(res.Geosite, res.GeositeURL); err != nil {
			return fmt.Errorf("failed to download geosite: %w", err)
		}
	} else {
		fmt.Printf("✅ 资源文件已存在: %s\n", res.Geosite)
	}
	return nil
}

// downloadFile 下载文件，先写临时文件再改名
func downloadFile(filePath, url string) error {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp := filePath + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(file, resp.Body); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write file: %w", err)
	}
	return os.Rename(tmp, filePath)
}
