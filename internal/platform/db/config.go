package db

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	ModeDev     = "dev"
	ModeRelease = "release"

	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	// 指定があれば host/port 等より優先（Supabase 等の接続文字列用）
	DSN string `yaml:"dsn"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type DiscordConfig struct {
	Token         string `yaml:"token"`
	APIBase       string `yaml:"api_base"`
	GatewayURL    string `yaml:"gateway_url"`
	CommandPrefix string `yaml:"command_prefix"`
	RetryMax      int    `yaml:"retry_max"`
}

type AttendanceConfig struct {
	Timezone string `yaml:"timezone"`
	Locale   string `yaml:"locale"`
	ViewURL  string `yaml:"view_url"`
}

type SessionConfig struct {
	IdleMinutes          int  `yaml:"idle_minutes"`
	CheckIntervalSeconds int  `yaml:"check_interval_seconds"`
	Autostart            bool `yaml:"autostart"`
}

type ScheduleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Spec      string `yaml:"spec"`
	ServerID  string `yaml:"server_id"`
	ChannelID string `yaml:"channel_id"`
}

type LogConfig struct {
	Level     string `yaml:"level"`
	Path      string `yaml:"path"`
	MaxSizeMB int    `yaml:"max_size_mb"`
}

type Config struct {
	Version    string           `yaml:"version"`
	Mode       string           `yaml:"mode"`
	Server     ServerConfig     `yaml:"server"`
	DB         DatabaseConfig   `yaml:"database"`
	Discord    DiscordConfig    `yaml:"discord"`
	Attendance AttendanceConfig `yaml:"attendance"`
	Session    SessionConfig    `yaml:"session"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Log        LogConfig        `yaml:"log"`
}

// Default: 設定ファイルに書かれていない項目の既定値
func Default() Config {
	return Config{
		Mode:   ModeRelease,
		Server: ServerConfig{Addr: ":8080"},
		DB: DatabaseConfig{
			Driver: DriverMySQL,
			Host:   "127.0.0.1",
			Port:   3306,
		},
		Discord: DiscordConfig{
			APIBase:       "https://discord.com/api/v10",
			GatewayURL:    "wss://gateway.discord.gg/?v=10&encoding=json",
			CommandPrefix: "!",
			RetryMax:      1,
		},
		Attendance: AttendanceConfig{
			Timezone: "Asia/Tokyo",
			Locale:   "ja",
			ViewURL:  "http://127.0.0.1:5000",
		},
		Session: SessionConfig{
			IdleMinutes:          30,
			CheckIntervalSeconds: 60,
		},
		Schedule: ScheduleConfig{
			Spec: "0 21 * * 0",
		},
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 10,
		},
	}
}

// LoadConfig: YAML を既定値の上に読み込み、環境変数で上書きする
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("設定ファイルの読み込み失敗: %w", err)
	}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("設定ファイルのパース失敗: %w", err)
	}
	applyEnv(&cfg, os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ホスティング先（Render 等）では秘密情報を環境変数で渡す
func applyEnv(cfg *Config, getenv func(string) string) {
	if v := strings.TrimSpace(getenv("DISCORD_TOKEN")); v != "" {
		cfg.Discord.Token = v
	}
	if v := strings.TrimSpace(getenv("DATABASE_DSN")); v != "" {
		cfg.DB.DSN = v
		// DSN だけ渡されたときは driver も DSN に合わせる
		if d := DriverFromDSN(v); d != "" {
			cfg.DB.Driver = d
		}
	}
	if v := strings.TrimSpace(getenv("PORT")); v != "" {
		if _, err := strconv.Atoi(v); err == nil {
			cfg.Server.Addr = ":" + v
		}
	}
}

// DriverFromDSN: DSN の形式から driver を推定する。判別できなければ ""
func DriverFromDSN(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if strings.Contains(dsn, "@tcp(") || strings.Contains(dsn, "@unix(") {
		return DriverMySQL
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return ""
	}
	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		return DriverPostgres
	case "memory":
		return DriverMemory
	}
	return ""
}

func (c *Config) Validate() error {
	if c.Mode != ModeDev && c.Mode != ModeRelease {
		return fmt.Errorf("mode は dev か release を指定してください: %q", c.Mode)
	}
	switch c.DB.Driver {
	case DriverMySQL, DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("未対応の database.driver: %q", c.DB.Driver)
	}
	if strings.TrimSpace(c.Discord.Token) == "" {
		return fmt.Errorf("discord.token（または DISCORD_TOKEN）が未設定です")
	}
	if c.Schedule.Enabled && (c.Schedule.ServerID == "" || c.Schedule.ChannelID == "") {
		return fmt.Errorf("schedule.enabled には server_id と channel_id が必要です")
	}
	return nil
}
