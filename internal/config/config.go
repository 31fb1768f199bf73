package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/clawpanel/internal/detector"
	"github.com/loykin/clawpanel/internal/env"
	"github.com/loykin/clawpanel/internal/logger"
	"github.com/loykin/clawpanel/internal/process"
	"github.com/loykin/clawpanel/internal/supervisor"
	"github.com/loykin/clawpanel/internal/terminator"
	itls "github.com/loykin/clawpanel/internal/tls"
)

// EnvPrefix prefixes environment overrides, e.g. CLAWPANEL_BRIDGE_TOKEN.
const EnvPrefix = "CLAWPANEL"

// ErrInvalid wraps every validation failure returned by Load.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the whole configuration: the TOML file layered over
// defaults and overridden by CLAWPANEL_* environment variables.
type Config struct {
	Env        []string         `mapstructure:"env"`
	EnvFiles   []string         `mapstructure:"env_files"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Log        logger.Config    `mapstructure:"log"`
	Server     ServerConfig     `mapstructure:"server"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Probe      ProbeConfig      `mapstructure:"probe"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Bridge     BridgeConfig     `mapstructure:"bridge"`
	Tunnel     TunnelConfig     `mapstructure:"tunnel"`
}

type SupervisorConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	StopSettle   time.Duration `mapstructure:"stop_settle"`
	KillTimeout  time.Duration `mapstructure:"kill_timeout"`
	WaitReady    bool          `mapstructure:"wait_ready"`
}

type ServerConfig struct {
	Listen   string      `mapstructure:"listen"`
	BasePath string      `mapstructure:"base_path"`
	TLS      itls.Config `mapstructure:"tls"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type ProbeConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// GatewayConfig describes the gateway: probed over HTTP, stopped through
// whatever listens on Port.
type GatewayConfig struct {
	URL        string           `mapstructure:"url"`
	Port       int              `mapstructure:"port"`
	Executable string           `mapstructure:"executable"`
	Args       string           `mapstructure:"args"`
	WorkDir    string           `mapstructure:"workdir"`
	Env        []string         `mapstructure:"env"`
	Settle     time.Duration    `mapstructure:"settle"`
	Detector   *detector.Config `mapstructure:"detector"`
}

// BridgeConfig describes the bridge script run by a runtime such as node.
// It is stopped by matching Pattern in the runtime's command line.
type BridgeConfig struct {
	URL        string           `mapstructure:"url"`
	HealthPath string           `mapstructure:"health_path"`
	Runtime    string           `mapstructure:"runtime"`
	Script     string           `mapstructure:"script"`
	Pattern    string           `mapstructure:"pattern"`
	Token      string           `mapstructure:"token"`
	WorkDir    string           `mapstructure:"workdir"`
	Env        []string         `mapstructure:"env"`
	Settle     time.Duration    `mapstructure:"settle"`
	Detector   *detector.Config `mapstructure:"detector"`
}

// TunnelConfig describes the tunnel agent and its local inspection API.
type TunnelConfig struct {
	APIURL      string           `mapstructure:"api_url"`
	Executable  string           `mapstructure:"executable"`
	Args        string           `mapstructure:"args"`
	ProcessName string           `mapstructure:"process_name"`
	MatchExe    bool             `mapstructure:"match_exe"`
	WorkDir     string           `mapstructure:"workdir"`
	Env         []string         `mapstructure:"env"`
	Settle      time.Duration    `mapstructure:"settle"`
	Detector    *detector.Config `mapstructure:"detector"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", []string{})
	v.SetDefault("env_files", []string{})

	v.SetDefault("supervisor.poll_interval", "5s")
	v.SetDefault("supervisor.stop_settle", "2s")
	v.SetDefault("supervisor.kill_timeout", "5s")
	v.SetDefault("supervisor.wait_ready", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.service_dir", "")
	v.SetDefault("log.stdout", "")
	v.SetDefault("log.stderr", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)

	v.SetDefault("server.listen", "127.0.0.1:8787")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.auto_generate", false)
	v.SetDefault("server.tls.min_version", "1.2")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9787")
	v.SetDefault("probe.timeout", "3s")

	v.SetDefault("gateway.url", "http://127.0.0.1:18789")
	v.SetDefault("gateway.port", 18789)
	v.SetDefault("gateway.executable", "openclaw")
	v.SetDefault("gateway.args", "gateway --port "+PortPlaceholder)
	v.SetDefault("gateway.workdir", "")
	v.SetDefault("gateway.settle", "3s")

	v.SetDefault("bridge.url", "http://127.0.0.1:3847")
	v.SetDefault("bridge.health_path", "/health")
	v.SetDefault("bridge.runtime", "node")
	v.SetDefault("bridge.script", `C:\OpenClawWorkspace\scripts\openclaw-bridge-server.js`)
	v.SetDefault("bridge.pattern", "bridge-server")
	v.SetDefault("bridge.token", "")
	v.SetDefault("bridge.workdir", "")
	v.SetDefault("bridge.settle", "2s")

	v.SetDefault("tunnel.api_url", "http://127.0.0.1:4040/api/tunnels")
	v.SetDefault("tunnel.executable", "ngrok")
	v.SetDefault("tunnel.args", "http "+PortPlaceholder)
	v.SetDefault("tunnel.process_name", "ngrok")
	v.SetDefault("tunnel.match_exe", false)
	v.SetDefault("tunnel.workdir", "")
	v.SetDefault("tunnel.settle", "5s")
}

// Load reads the TOML file at path (optional: empty path uses defaults and
// environment only), applies CLAWPANEL_* overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate reports the first inconsistency found, wrapped in ErrInvalid.
func (c *Config) Validate() error {
	invalid := func(format string, a ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, a...))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level: %v", err)
	}
	switch strings.ToLower(strings.TrimSpace(c.Log.Format)) {
	case "", "text", "json":
	default:
		return invalid("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Supervisor.PollInterval <= 0 {
		return invalid("supervisor.poll_interval must be positive")
	}
	for name, d := range map[string]time.Duration{
		"supervisor.stop_settle":  c.Supervisor.StopSettle,
		"supervisor.kill_timeout": c.Supervisor.KillTimeout,
		"probe.timeout":           c.Probe.Timeout,
		"gateway.settle":          c.Gateway.Settle,
		"bridge.settle":           c.Bridge.Settle,
		"tunnel.settle":           c.Tunnel.Settle,
	} {
		if d < 0 {
			return invalid("%s must not be negative", name)
		}
	}
	if err := checkURL("gateway.url", c.Gateway.URL); err != nil {
		return invalid("%v", err)
	}
	if err := checkURL("bridge.url", c.Bridge.URL); err != nil {
		return invalid("%v", err)
	}
	if err := checkURL("tunnel.api_url", c.Tunnel.APIURL); err != nil {
		return invalid("%v", err)
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return invalid("gateway.port must be in 1-65535, got %d", c.Gateway.Port)
	}
	if p, ok := portFlag(c.Gateway.Args); ok && p != strconv.Itoa(c.Gateway.Port) {
		return invalid("gateway.args launches on port %s but gateway.port is %d; use %s", p, c.Gateway.Port, PortPlaceholder)
	}
	if err := c.Log.File.Validate(); err != nil {
		return invalid("%v", err)
	}
	if strings.TrimSpace(c.Bridge.Pattern) == "" {
		return invalid("bridge.pattern must not be empty")
	}
	if strings.TrimSpace(c.Tunnel.ProcessName) == "" {
		return invalid("tunnel.process_name must not be empty")
	}
	if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		return invalid("server.listen: %v", err)
	}
	if err := c.Server.TLS.Validate(); err != nil {
		return invalid("server.%v", err)
	}
	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			return invalid("metrics.listen: %v", err)
		}
	}
	for _, d := range []*detector.Config{c.Gateway.Detector, c.Bridge.Detector, c.Tunnel.Detector} {
		if d == nil {
			continue
		}
		if _, err := detector.New(*d); err != nil {
			return invalid("%v", err)
		}
	}
	return nil
}

func checkURL(key, raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return fmt.Errorf("%s: %v", key, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: scheme must be http or https, got %q", key, u.Scheme)
	}
	return nil
}

// BridgeHealthURL joins the bridge base URL and its health path.
func (c *Config) BridgeHealthURL() string {
	base := strings.TrimRight(c.Bridge.URL, "/")
	p := strings.TrimSpace(c.Bridge.HealthPath)
	if p == "" {
		return base
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return base + p
}

// Services builds the gateway, bridge and tunnel in start order.
func (c *Config) Services() ([]supervisor.Service, error) {
	gwDet, err := c.detectorOr(c.Gateway.Detector, detector.Config{Kind: detector.KindHTTP, URL: c.Gateway.URL})
	if err != nil {
		return nil, err
	}
	brDet, err := c.detectorOr(c.Bridge.Detector, detector.Config{Kind: detector.KindHTTP, URL: c.BridgeHealthURL()})
	if err != nil {
		return nil, err
	}
	tnDet, err := c.detectorOr(c.Tunnel.Detector, detector.Config{Kind: detector.KindTunnel, URL: c.Tunnel.APIURL})
	if err != nil {
		return nil, err
	}

	bridgeEnv := overlay(c.Bridge.Env)
	if c.Bridge.Token != "" {
		if bridgeEnv == nil {
			bridgeEnv = make(map[string]string, 1)
		}
		bridgeEnv["BRIDGE_TOKEN"] = c.Bridge.Token
	}
	tunnelStop := terminator.ByName(c.Tunnel.ProcessName)
	if c.Tunnel.MatchExe {
		tunnelStop.Exe = resolveExe(c.Tunnel.Executable)
	}

	return []supervisor.Service{
		{
			Name:     supervisor.ServiceGateway,
			Detector: gwDet,
			Launch:   c.launchSpec(supervisor.ServiceGateway, c.Gateway.Executable, c.expandPort(c.Gateway.Args), c.Gateway.WorkDir, overlay(c.Gateway.Env)),
			Stop:     terminator.ByPort(c.Gateway.Port),
			Settle:   c.Gateway.Settle,
		},
		{
			Name:     supervisor.ServiceBridge,
			Detector: brDet,
			Launch:   c.launchSpec(supervisor.ServiceBridge, c.Bridge.Runtime, quoteArg(c.Bridge.Script), c.Bridge.WorkDir, bridgeEnv),
			Stop:     terminator.ByCommandLine(c.Bridge.Runtime, c.Bridge.Pattern),
			Settle:   c.Bridge.Settle,
		},
		{
			Name:     supervisor.ServiceTunnel,
			Detector: tnDet,
			Launch:   c.launchSpec(supervisor.ServiceTunnel, c.Tunnel.Executable, c.expandPort(c.Tunnel.Args), c.Tunnel.WorkDir, overlay(c.Tunnel.Env)),
			Stop:     tunnelStop,
			Settle:   c.Tunnel.Settle,
		},
	}, nil
}

func (c *Config) detectorOr(override *detector.Config, def detector.Config) (detector.Detector, error) {
	dc := def
	if override != nil {
		dc = *override
	}
	if dc.Timeout <= 0 {
		dc.Timeout = c.Probe.Timeout
	}
	return detector.New(dc)
}

// PortPlaceholder in gateway.args or tunnel.args is replaced by gateway.port.
const PortPlaceholder = "{port}"

func (c *Config) expandPort(args string) string {
	return strings.ReplaceAll(args, PortPlaceholder, strconv.Itoa(c.Gateway.Port))
}

// portFlag returns the literal value of a --port flag in args, if any.
func portFlag(args string) (string, bool) {
	fields := strings.Fields(args)
	for i, f := range fields {
		switch {
		case f == "--port" && i+1 < len(fields):
			return fields[i+1], fields[i+1] != PortPlaceholder
		case strings.HasPrefix(f, "--port="):
			v := strings.TrimPrefix(f, "--port=")
			return v, v != PortPlaceholder
		}
	}
	return "", false
}

// launchSpec returns nil when no executable is configured, leaving the
// service observed but never launched.
func (c *Config) launchSpec(name, exe, args, workdir string, env map[string]string) *process.Spec {
	if strings.TrimSpace(exe) == "" {
		return nil
	}
	return &process.Spec{
		Name:       name,
		Executable: exe,
		Args:       args,
		WorkDir:    workdir,
		Env:        env,
		Log:        c.Log,
	}
}

// GlobalEnv merges env_files in order, then the top-level env list.
// Later entries override earlier ones.
func (c *Config) GlobalEnv() ([]string, error) {
	m := make(map[string]string)
	for _, p := range c.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range c.Env {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	// Mitigate G304: sanitize user-provided path by cleaning it before use.
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			if k != "" {
				m[k] = v
			}
		}
	}
	return m, nil
}

// overlay turns a "KEY=VALUE" list into a launch overlay; nil when empty.
func overlay(kvs []string) map[string]string {
	m := env.Parse(kvs)
	if len(m) == 0 {
		return nil
	}
	return m
}

// quoteArg double-quotes a single argument containing whitespace so the
// launcher keeps it as one word.
func quoteArg(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || !strings.ContainsAny(s, " \t") {
		return s
	}
	return `"` + s + `"`
}

// resolveExe returns the absolute path of exe when it can be found on PATH.
func resolveExe(exe string) string {
	if filepath.IsAbs(exe) {
		return exe
	}
	if p, err := exec.LookPath(exe); err == nil {
		if abs, err := filepath.Abs(p); err == nil {
			return abs
		}
		return p
	}
	return exe
}
