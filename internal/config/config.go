package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// EnvBaseURL 服务端的 origin (例如 http://localhost:8080)，接口前缀 /api 会自动追加
	EnvBaseURL = "GMN_BASE_URL"

	DefaultBaseURL        = defaultOrigin + apiPrefix
	defaultOrigin         = "https://gmsnotebook.com"
	apiPrefix             = "/api"
	DefaultInterval       = 12 * time.Hour
	DefaultRequestTimeout = 60 * time.Second
)

// Config 对应 config.yaml 的根结构
type Config struct {
	Indexing IndexingConfig `yaml:"indexing"`
	System   SystemConfig   `yaml:"system"`
	Control  ControlConfig  `yaml:"control"`
	Sources  []SourceConfig `yaml:"sources"`
}

// IndexingConfig 所有文件夹源共用的索引配置
type IndexingConfig struct {
	BaseURL        string `yaml:"base_url"`
	Interval       string `yaml:"interval"`
	RequestTimeout string `yaml:"request_timeout"`
	// 扫描时同时进行的文件系统操作数，0 表示按 CPU 数自动设置
	ScanWorkers int `yaml:"scan_workers"`
	// 为 true 时单个文件提取失败只跳过该文件
	IsolateExtractErrors bool `yaml:"isolate_extract_errors"`
	// 额外的忽略规则 (gitignore 语法)
	Ignore []string `yaml:"ignore"`

	// 解析后的 duration，不导出到 yaml
	IntervalDuration       time.Duration `yaml:"-"`
	RequestTimeoutDuration time.Duration `yaml:"-"`
}

// SystemConfig 系统配置
type SystemConfig struct {
	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// ControlConfig 本地控制接口，Listen 为空时不启动
type ControlConfig struct {
	Listen string `yaml:"listen"`
}

// SourceConfig 一个文件夹源
type SourceConfig struct {
	Port            int    `yaml:"port"`
	Folder          string `yaml:"folder"`
	IndexingEnabled bool   `yaml:"indexing_enabled"`
	IndexingKey     string `yaml:"indexing_key"`
	ProviderID      string `yaml:"provider_id"`
}

// Indexed 只有开启了索引并且配置了凭证的文件夹源才会被调度
func (s *SourceConfig) Indexed() bool {
	return s.IndexingEnabled && s.IndexingKey != ""
}

// LoadConfig 读取并解析配置文件
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	return Parse(data)
}

// Parse 解析 YAML，设置默认值并校验
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析 YAML 格式错误: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	if v := os.Getenv(EnvBaseURL); v != "" {
		c.Indexing.BaseURL = strings.TrimSuffix(v, "/") + apiPrefix
	}
	if c.Indexing.BaseURL == "" {
		c.Indexing.BaseURL = DefaultBaseURL
	}

	var err error
	c.Indexing.IntervalDuration, err = parseDuration(c.Indexing.Interval, DefaultInterval)
	if err != nil {
		return fmt.Errorf("无效的索引间隔格式 (indexing.interval): %w", err)
	}
	c.Indexing.RequestTimeoutDuration, err = parseDuration(c.Indexing.RequestTimeout, DefaultRequestTimeout)
	if err != nil {
		return fmt.Errorf("无效的请求超时格式 (indexing.request_timeout): %w", err)
	}

	if c.Indexing.ScanWorkers <= 0 {
		c.Indexing.ScanWorkers = runtime.NumCPU() * 4
	}

	if c.System.DBPath == "" {
		c.System.DBPath = "./data/state.db"
	}
	if c.System.LogLevel == "" {
		c.System.LogLevel = "info"
	}

	for i := range c.Sources {
		if c.Sources[i].Folder != "" {
			abs, err := filepath.Abs(c.Sources[i].Folder)
			if err != nil {
				return fmt.Errorf("sources[%d].folder: %w", i, err)
			}
			c.Sources[i].Folder = abs
		}
	}
	return nil
}

func (c *Config) validate() error {
	ports := make(map[int]bool, len(c.Sources))
	for i, s := range c.Sources {
		if s.Port <= 0 || s.Port > 65535 {
			return fmt.Errorf("sources[%d]: 无效的端口 %d", i, s.Port)
		}
		if ports[s.Port] {
			return fmt.Errorf("sources[%d]: 端口 %d 重复", i, s.Port)
		}
		ports[s.Port] = true

		if s.Folder == "" {
			return fmt.Errorf("sources[%d]: 缺少 folder", i)
		}
		if !s.IndexingEnabled {
			continue
		}
		info, err := os.Stat(s.Folder)
		if err != nil {
			return fmt.Errorf("sources[%d]: 无法访问文件夹: %w", i, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("sources[%d]: %s 不是文件夹", i, s.Folder)
		}
	}
	return nil
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive: %s", s)
	}
	return d, nil
}
