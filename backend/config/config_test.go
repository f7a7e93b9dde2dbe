package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestLoad_EmptyPathGivesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	p := writeConfig(t, `heartbeat:
  interval: 10s
log:
  level: debug
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.Heartbeat.Interval)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, DefaultListenAddr, cfg.Server.ListenAddr)
	assert.Equal(t, DefaultSendBuffer, cfg.WebSocket.SendBuffer)
	assert.Equal(t, DefaultWriteTimeout, cfg.WebSocket.WriteTimeout)
}

func TestLoad_FullFile(t *testing.T) {
	p := writeConfig(t, `server:
  listen_addr: "127.0.0.1:9000"
heartbeat:
  interval: 1m
websocket:
  send_buffer: 8
  write_timeout: 2s
  max_message_size: 1024
log:
  level: warn
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, &Config{
		Server:    ServerConfig{ListenAddr: "127.0.0.1:9000"},
		Heartbeat: HeartbeatConfig{Interval: time.Minute},
		WebSocket: WebSocketConfig{SendBuffer: 8, WriteTimeout: 2 * time.Second, MaxMessageSize: 1024},
		Log:       LogConfig{Level: "warn"},
	}, cfg)
}

func TestLoad_Errors(t *testing.T) {
	tests := map[string]string{
		"bad yaml":          "heartbeat: [",
		"zero interval":     "heartbeat:\n  interval: 0s\n",
		"negative buffer":   "websocket:\n  send_buffer: -1\n",
		"unknown log level": "log:\n  level: loud\n",
		"empty listen addr": "server:\n  listen_addr: \"\"\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		EnvPort:              "3001",
		EnvHeartbeatInterval: "45s",
		EnvLogLevel:          "trace",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":3001", cfg.Server.ListenAddr)
	assert.Equal(t, 45*time.Second, cfg.Heartbeat.Interval)
	assert.Equal(t, "trace", cfg.Log.Level)

	lvl, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, zerolog.TraceLevel, lvl)
}

func TestApplyEnv_ListenAddrWinsOverPort(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(env(map[string]string{
		EnvPort:       "3001",
		EnvListenAddr: "0.0.0.0:4000",
	})))
	assert.Equal(t, "0.0.0.0:4000", cfg.Server.ListenAddr)
}

func TestApplyEnv_Errors(t *testing.T) {
	for name, vars := range map[string]map[string]string{
		"port":     {EnvPort: "http"},
		"interval": {EnvHeartbeatInterval: "30"},
		"level":    {EnvLogLevel: "verbose"},
	} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, Default().ApplyEnv(env(vars)), ErrInvalid)
		})
	}
}

func TestApplyFlags_OnlyChanged(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--heartbeat-interval=5s", "-l", "debug"}))

	cfg := Default()
	cfg.Server.ListenAddr = ":9999"
	require.NoError(t, cfg.ApplyFlags(fs))

	assert.Equal(t, ":9999", cfg.Server.ListenAddr, "unset flag must not override")
	assert.Equal(t, 5*time.Second, cfg.Heartbeat.Interval)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestApplyFlags_Invalid(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--send-buffer=0"}))

	assert.ErrorIs(t, Default().ApplyFlags(fs), ErrInvalid)
}

func TestApplyFlags_MaxMessageSize(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--max-message-size=2048"}))

	cfg := Default()
	require.NoError(t, cfg.ApplyFlags(fs))
	assert.Equal(t, int64(2048), cfg.WebSocket.MaxMessageSize)
}

func TestResolve_Precedence(t *testing.T) {
	p := writeConfig(t, "heartbeat:\n  interval: 10s\nlog:\n  level: info\n")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--log-level=debug"}))

	cfg, err := Resolve(p, env(map[string]string{
		EnvLogLevel:          "warn",
		EnvHeartbeatInterval: "20s",
	}), fs)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level, "flag outranks env and file")
	assert.Equal(t, 20*time.Second, cfg.Heartbeat.Interval, "env outranks file")
	assert.Equal(t, DefaultSendBuffer, cfg.WebSocket.SendBuffer)

	cfg, err = Resolve(p, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestResolve_Errors(t *testing.T) {
	p := writeConfig(t, "log:\n  level: info\n")

	_, err := Resolve(p, env(map[string]string{EnvLogLevel: "loud"}), nil)
	assert.ErrorIs(t, err, ErrInvalid)

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--send-buffer=0"}))
	_, err = Resolve(p, nil, fs)
	assert.ErrorIs(t, err, ErrInvalid)
}

// watch starts Watch on p and returns the channel its reloads land on.
func watch(t *testing.T, p string, load func(string) (*Config, error)) <-chan *Config {
	t.Helper()
	logger := zerolog.Nop()
	ctx, cancel := context.WithCancel(context.Background())

	reloaded := make(chan *Config, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, p, &logger, load, func(cfg *Config) {
			select {
			case reloaded <- cfg:
			default:
			}
		})
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return reloaded
}

// awaitLevel repeats update until a reload reports level.
func awaitLevel(t *testing.T, reloaded <-chan *Config, level string, update func()) {
	t.Helper()
	// the watcher registers asynchronously, keep updating until it notices
	deadline := time.After(3 * time.Second)
	for {
		update()
		select {
		case cfg := <-reloaded:
			// an in-place write can be observed half done and yield the defaults
			if cfg.Log.Level == level {
				return
			}
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatalf("no reload with level %q", level)
		}
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	p := writeConfig(t, "log:\n  level: info\n")
	reloaded := watch(t, p, Load)

	awaitLevel(t, reloaded, "error", func() {
		require.NoError(t, os.WriteFile(p, []byte("log:\n  level: error\n"), 0o600))
	})
}

func TestWatch_SurvivesRenameOverFile(t *testing.T) {
	p := writeConfig(t, "log:\n  level: info\n")
	reloaded := watch(t, p, Load)

	for _, level := range []string{"error", "warn"} {
		awaitLevel(t, reloaded, level, func() {
			tmp := p + ".tmp"
			require.NoError(t, os.WriteFile(tmp, []byte("log:\n  level: "+level+"\n"), 0o600))
			require.NoError(t, os.Rename(tmp, p))
		})
	}

	// the watch must still be alive for plain writes after the file was replaced
	awaitLevel(t, reloaded, "debug", func() {
		require.NoError(t, os.WriteFile(p, []byte("log:\n  level: debug\n"), 0o600))
	})
}

func TestWatch_IgnoresSiblings(t *testing.T) {
	p := writeConfig(t, "log:\n  level: info\n")
	reloaded := watch(t, p, Load)

	// make sure the watch is live before touching the sibling
	awaitLevel(t, reloaded, "warn", func() {
		require.NoError(t, os.WriteFile(p, []byte("log:\n  level: warn\n"), 0o600))
	})
	for len(reloaded) > 0 {
		<-reloaded
	}

	sibling := filepath.Join(filepath.Dir(p), "other.yaml")
	require.NoError(t, os.WriteFile(sibling, []byte("log:\n  level: error\n"), 0o600))

	select {
	case cfg := <-reloaded:
		// late events for p itself are fine, they still read p
		assert.NotEqual(t, "error", cfg.Log.Level)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatch_ReloadKeepsOverrides(t *testing.T) {
	p := writeConfig(t, "log:\n  level: info\n")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--log-level=debug"}))
	lookup := env(map[string]string{EnvHeartbeatInterval: "45s"})

	reloaded := watch(t, p, func(path string) (*Config, error) {
		return Resolve(path, lookup, fs)
	})

	deadline := time.After(3 * time.Second)
	for {
		require.NoError(t, os.WriteFile(p, []byte("heartbeat:\n  interval: 5s\nlog:\n  level: error\n"), 0o600))
		select {
		case cfg := <-reloaded:
			assert.Equal(t, "debug", cfg.Log.Level, "flag must outrank the reloaded file")
			assert.Equal(t, 45*time.Second, cfg.Heartbeat.Interval, "env must outrank the reloaded file")
			return
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("config was not reloaded")
		}
	}
}

func TestReplaces(t *testing.T) {
	p := filepath.Join("etc", "relay", "config.yaml")
	tests := []struct {
		name string
		ev   fsnotify.Event
		want bool
	}{
		{"write", fsnotify.Event{Name: p, Op: fsnotify.Write}, true},
		{"rename onto", fsnotify.Event{Name: p, Op: fsnotify.Create}, true},
		{"unclean name", fsnotify.Event{Name: "etc/relay/./config.yaml", Op: fsnotify.Write}, true},
		{"rename away", fsnotify.Event{Name: p, Op: fsnotify.Rename}, false},
		{"remove", fsnotify.Event{Name: p, Op: fsnotify.Remove}, false},
		{"chmod", fsnotify.Event{Name: p, Op: fsnotify.Chmod}, false},
		{"sibling", fsnotify.Event{Name: filepath.Join("etc", "relay", "config.yaml.tmp"), Op: fsnotify.Write}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, replaces(p, tt.ev))
		})
	}
}
