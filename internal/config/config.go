package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"cdptap/pkg/model"
)

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version"`

	DevTools struct {
		URL              string `yaml:"url"`
		ProcessTimeoutMS int    `yaml:"processTimeoutMS"`
	} `yaml:"devtools"`

	Intercept struct {
		RequestStage  bool   `yaml:"requestStage"`
		ResponseStage bool   `yaml:"responseStage"`
		URLPattern    string `yaml:"urlPattern"`
	} `yaml:"intercept"`

	RulesFile string `yaml:"rulesFile"`

	Sqlite struct {
		Dsn    string `yaml:"dsn"`
		Prefix string `yaml:"prefix"`
	} `yaml:"sqlite"`

	Log struct {
		Level  string   `yaml:"level"`
		Writer []string `yaml:"writer"`
		File   string   `yaml:"file"`
	} `yaml:"log"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	cfg := &Config{Version: "1.0.0"}
	cfg.DevTools.URL = "http://127.0.0.1:9222"
	cfg.DevTools.ProcessTimeoutMS = 3000
	cfg.Intercept.RequestStage = true
	cfg.Intercept.URLPattern = "*"
	cfg.Sqlite.Dsn = "db.sqlite3"
	cfg.Sqlite.Prefix = "cdptap_"
	cfg.Log.Level = "debug"
	cfg.Log.Writer = []string{"console", "file"}
	cfg.Log.File = "cdptap.log"
	return cfg
}

// Load 读取 YAML 配置文件，缺省值由 NewConfig 提供
func Load(path string) (*Config, error) {
	cfg := NewConfig()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadRules 读取 YAML 规则文件
func LoadRules(path string) (model.RuleSet, error) {
	var rs model.RuleSet
	b, err := os.ReadFile(path)
	if err != nil {
		return rs, fmt.Errorf("read rules %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &rs); err != nil {
		return rs, fmt.Errorf("parse rules %s: %w", path, err)
	}
	return rs, nil
}
