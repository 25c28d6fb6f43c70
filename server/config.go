package server

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config 服务配置；零值由 DefaultConfig 填好，YAML 只覆盖写了的字段
type Config struct {
	Addr     string `yaml:"addr"`
	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level"`

	// 战绩存储；留空则用内存实现
	RedisAddr string `yaml:"redis_addr"`
	ResultKey string `yaml:"result_key"`

	TickIntervalMs  int `yaml:"tick_interval_ms"`
	CountdownMs     int `yaml:"countdown_ms"`
	TeardownGraceMs int `yaml:"teardown_grace_ms"`

	SpawnIntervalMs  int `yaml:"spawn_interval_ms"`
	FireCooldownMs   int `yaml:"fire_cooldown_ms"`
	MaxInputsPerTick int `yaml:"max_inputs_per_tick"`

	// 外部登录系统接入前的替身：token -> username
	DevTokens map[string]string `yaml:"dev_tokens"`

	// 启动时预建一个房间，便于快速试跑
	DefaultRoom *RoomSeed `yaml:"default_room"`
}

// RoomSeed 预建房间的参数
type RoomSeed struct {
	RoomID     int64    `yaml:"room_id"`
	MapName    string   `yaml:"map_name"`
	WinMode    string   `yaml:"win_mode"`
	MaxPlayers int      `yaml:"max_players"`
	Members    []string `yaml:"members"`
}

func DefaultConfig() *Config {
	return &Config{
		Addr:             ":8080",
		LogFile:          "app.log",
		LogLevel:         "debug",
		ResultKey:        "match_results",
		TickIntervalMs:   40, // 25 Hz
		CountdownMs:      3000,
		TeardownGraceMs:  5000, // FINISHED 之后留给客户端渲染结算的时间
		SpawnIntervalMs:  800,
		FireCooldownMs:   150,
		MaxInputsPerTick: 32,
	}
}

// LoadConfig 读取 YAML 配置；path 为空时直接用默认值
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
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
	if cfg.TickIntervalMs <= 0 {
		return nil, fmt.Errorf("tick_interval_ms must be positive, got %d", cfg.TickIntervalMs)
	}
	if cfg.CountdownMs < 0 || cfg.TeardownGraceMs < 0 {
		return nil, fmt.Errorf("countdown_ms and teardown_grace_ms must not be negative")
	}
	return cfg, nil
}
