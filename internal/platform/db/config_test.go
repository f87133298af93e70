package db

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_DefaultsFillGaps(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "")
	t.Setenv("DATABASE_DSN", "")
	t.Setenv("PORT", "")
	path := writeConfig(t, `
mode: dev
database:
  driver: memory
discord:
  token: abc
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Mode != ModeDev || cfg.DB.Driver != DriverMemory {
		t.Errorf("mode/driver = %s/%s", cfg.Mode, cfg.DB.Driver)
	}
	if cfg.Discord.CommandPrefix != "!" || cfg.Attendance.Timezone != "Asia/Tokyo" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.Session.IdleMinutes != 30 || cfg.Schedule.Spec != "0 21 * * 0" {
		t.Errorf("session/schedule defaults = %+v / %+v", cfg.Session, cfg.Schedule)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "from-env")
	t.Setenv("DATABASE_DSN", "postgres://u:p@db:5432/att")
	t.Setenv("PORT", "10000")
	path := writeConfig(t, `
database:
  driver: postgres
discord:
  token: from-file
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Discord.Token != "from-env" {
		t.Errorf("token = %q", cfg.Discord.Token)
	}
	if cfg.DB.DSN != "postgres://u:p@db:5432/att" || DSN(cfg.DB) != cfg.DB.DSN {
		t.Errorf("dsn = %q", cfg.DB.DSN)
	}
	if cfg.Server.Addr != ":10000" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
}

func TestLoadConfig_EnvDSNSelectsDriver(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "from-env")
	t.Setenv("PORT", "")
	// ファイルに driver が無くても DATABASE_DSN の形式に合わせる
	tests := []struct {
		dsn  string
		want string
	}{
		{"postgres://u:p@db:5432/att?sslmode=require", DriverPostgres},
		{"postgresql://u:p@db/att", DriverPostgres},
		{"u:p@tcp(db:3306)/att?parseTime=true", DriverMySQL},
	}
	for _, tt := range tests {
		t.Setenv("DATABASE_DSN", tt.dsn)
		cfg, err := LoadConfig(writeConfig(t, "mode: release\n"))
		if err != nil {
			t.Fatalf("%s: %v", tt.dsn, err)
		}
		if cfg.DB.Driver != tt.want || DSN(cfg.DB) != tt.dsn {
			t.Errorf("%s: driver = %q dsn = %q, want %q", tt.dsn, cfg.DB.Driver, DSN(cfg.DB), tt.want)
		}
	}
}

func TestDriverFromDSN(t *testing.T) {
	tests := map[string]string{
		"postgres://u@h/db":            DriverPostgres,
		"u:p@unix(/tmp/mysql.sock)/db": DriverMySQL,
		"memory://":                    DriverMemory,
		"host=h port=5432 user=u":      "",
		"":                             "",
	}
	for dsn, want := range tests {
		if got := DriverFromDSN(dsn); got != want {
			t.Errorf("DriverFromDSN(%q) = %q, want %q", dsn, got, want)
		}
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "")
	t.Setenv("DATABASE_DSN", "")
	t.Setenv("PORT", "")
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := LoadConfig(writeConfig(t, "mode: [")); err == nil {
		t.Error("expected parse error")
	}
	if _, err := LoadConfig(writeConfig(t, "database:\n  driver: memory\n")); err == nil {
		t.Error("expected error without token")
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		c := Default()
		c.Discord.Token = "abc"
		return c
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		errSub string
	}{
		{"ok", func(*Config) {}, ""},
		{"bad mode", func(c *Config) { c.Mode = "prod" }, "mode"},
		{"bad driver", func(c *Config) { c.DB.Driver = "sqlite" }, "driver"},
		{"schedule without target", func(c *Config) { c.Schedule.Enabled = true }, "schedule"},
		{"schedule with target", func(c *Config) {
			c.Schedule.Enabled = true
			c.Schedule.ServerID = "g"
			c.Schedule.ChannelID = "c"
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			err := c.Validate()
			if tt.errSub == "" {
				if err != nil {
					t.Errorf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errSub) {
				t.Errorf("Validate = %v, want error containing %q", err, tt.errSub)
			}
		})
	}
}

func TestDSN(t *testing.T) {
	my := DSN(DatabaseConfig{Driver: DriverMySQL, Host: "db", Port: 3306, Username: "u", Password: "p", DBName: "att"})
	if !strings.HasPrefix(my, "u:p@tcp(db:3306)/att") || !strings.Contains(my, "parseTime=true") {
		t.Errorf("mysql dsn = %q", my)
	}
	pg := DSN(DatabaseConfig{Driver: DriverPostgres, Host: "db", Port: 5432, Username: "u", Password: "p", DBName: "att"})
	for _, part := range []string{"host=db", "port=5432", "user=u", "dbname=att"} {
		if !strings.Contains(pg, part) {
			t.Errorf("postgres dsn %q missing %q", pg, part)
		}
	}
}
