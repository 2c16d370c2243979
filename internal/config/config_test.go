package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "frametime.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// TestDefault 测试默认值
func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 30, cfg.Analysis.WarmupFrames)
	assert.Equal(t, 60, cfg.Analysis.RollingWindow)
	assert.Equal(t, 1.0, cfg.Findings.MaxDropRatePct)
	assert.Equal(t, 25.0, cfg.Findings.MaxUnaccountedSharePct)
	assert.Equal(t, "text", cfg.Output.Format)
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, int64(64<<20), cfg.Server.MaxUploadBytes)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.False(t, cfg.Database.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)

	opts := cfg.AnalysisOptions()
	assert.Equal(t, 30, opts.WarmupFrames)
	assert.Equal(t, cfg.Findings, opts.Thresholds)
}

// TestLoad_File 配置文件覆盖默认值
func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
analysis:
  warmup_frames: 10
findings:
  max_stutter_rate_pct: 2.5
output:
  format: json
database:
  enabled: true
  host: db.internal
  max_conns: 4
  min_conns: 2
  connect_timeout: 2s
`)
	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Analysis.WarmupFrames)
	assert.Equal(t, 60, cfg.Analysis.RollingWindow, "unset keys keep defaults")
	assert.Equal(t, 2.5, cfg.Findings.MaxStutterRatePct)
	assert.Equal(t, "json", cfg.Output.Format)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, 2*time.Second, cfg.Database.ConnectTimeout)
	assert.Equal(t, "postgres://postgres:@db.internal:5432/frametime?sslmode=disable", cfg.Database.DSN())
}

// TestLoad_EnvAndFlags 环境变量和命令行参数优先于文件
func TestLoad_EnvAndFlags(t *testing.T) {
	path := writeConfig(t, "analysis:\n  warmup_frames: 10\n")
	t.Setenv("FRAMETIME_ANALYSIS_ROLLING_WINDOW", "120")
	t.Setenv("FRAMETIME_SERVER_ALLOWED_ORIGINS", "http://a.example,http://b.example")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("warmup", 0, "")
	flags.String("format", "text", "")
	require.NoError(t, flags.Parse([]string{"--warmup=5"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Analysis.WarmupFrames)
	assert.Equal(t, 120, cfg.Analysis.RollingWindow)
	assert.Equal(t, "text", cfg.Output.Format, "unchanged flag does not override")
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.Server.AllowedOrigins)
}

// TestLoad_Errors 测试错误配置
func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err, "explicit path must exist")

	_, err = Load(writeConfig(t, "analysis: [1, 2"), nil)
	assert.Error(t, err)

	tests := []struct {
		name string
		body string
	}{
		{"negative warmup", "analysis:\n  warmup_frames: -1\n"},
		{"zero window", "analysis:\n  rolling_window: 0\n"},
		{"bad format", "output:\n  format: xml\n"},
		{"bad level", "logging:\n  level: loud\n"},
		{"bad log format", "logging:\n  format: logfmt\n"},
		{"negative threshold", "findings:\n  max_drop_rate_pct: -1\n"},
		{"pool bounds", "database:\n  enabled: true\n  min_conns: 8\n  max_conns: 2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body), nil)
			assert.ErrorContains(t, err, "invalid config")
		})
	}
}

// TestManager_Reload 测试重新加载与回调
func TestManager_Reload(t *testing.T) {
	path := writeConfig(t, "analysis:\n  warmup_frames: 10\n")
	log, hook := test.NewNullLogger()

	var got []*Config
	m := NewManager(
		WithConfigPath(path),
		WithLogger(log),
		WithOnChange(func(c *Config) { got = append(got, c) }),
	)

	cfg, err := m.Get()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Analysis.WarmupFrames)
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)

	again, err := m.Get()
	require.NoError(t, err)
	assert.Same(t, cfg, again)

	require.NoError(t, os.WriteFile(path, []byte("analysis:\n  warmup_frames: 20\n"), 0o644))
	require.NoError(t, m.Reload())
	cfg, err = m.Get()
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Analysis.WarmupFrames)
	require.Len(t, got, 1)
	assert.Equal(t, 20, got[0].Analysis.WarmupFrames)

	// 无效配置不替换当前配置
	require.NoError(t, os.WriteFile(path, []byte("analysis:\n  warmup_frames: -3\n"), 0o644))
	assert.Error(t, m.Reload())
	cfg, err = m.Get()
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Analysis.WarmupFrames)
	assert.Len(t, got, 1)
}

// TestManager_ReloadBeforeLoad 未加载时不能重新加载
func TestManager_ReloadBeforeLoad(t *testing.T) {
	assert.Error(t, NewManager().Reload())
}
