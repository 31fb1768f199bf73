package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	certName = "tls.crt"
	keyName  = "tls.key"
)

// Config enables HTTPS for the dashboard API. CertFile and KeyFile take
// precedence over Dir, which holds tls.crt and tls.key and is filled with a
// self-signed pair when AutoGenerate is set and the files are missing.
type Config struct {
	Enabled      bool     `mapstructure:"enabled"`
	CertFile     string   `mapstructure:"cert_file"`
	KeyFile      string   `mapstructure:"key_file"`
	Dir          string   `mapstructure:"dir"`
	AutoGenerate bool     `mapstructure:"auto_generate"`
	Hosts        []string `mapstructure:"hosts"`
	MinVersion   string   `mapstructure:"min_version"` // 1.2|1.3
}

// Paths returns the certificate and key files c refers to.
func (c Config) Paths() (cert, key string) {
	if c.CertFile != "" && c.KeyFile != "" {
		return c.CertFile, c.KeyFile
	}
	if c.Dir != "" {
		return filepath.Join(c.Dir, certName), filepath.Join(c.Dir, keyName)
	}
	return "", ""
}

// Validate checks c without touching the filesystem.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.New("tls: cert_file and key_file must be set together")
	}
	if cert, _ := c.Paths(); cert == "" {
		return errors.New("tls: enabled but neither cert_file/key_file nor dir is set")
	}
	if _, ok := parseVersion(c.MinVersion); !ok {
		return fmt.Errorf("tls: unknown min_version %q", c.MinVersion)
	}
	return nil
}

func parseVersion(v string) (uint16, bool) {
	switch v {
	case "", "1.2", "TLS1.2", "tls1.2":
		return tls.VersionTLS12, true
	case "1.3", "TLS1.3", "tls1.3":
		return tls.VersionTLS13, true
	default:
		return 0, false
	}
}

// Setup returns the server TLS configuration for c, or nil when disabled.
// The key pair is loaded once here so a bad pair fails at startup, and
// reloaded on handshake whenever the certificate file changes.
func Setup(c Config) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	certPath, keyPath := c.Paths()
	if c.AutoGenerate && c.CertFile == "" && !exists(certPath, keyPath) {
		if err := GenerateSelfSigned(c.Dir, c.Hosts, 0); err != nil {
			return nil, fmt.Errorf("certificate generation failed: %w", err)
		}
	}
	l := &certLoader{certPath: certPath, keyPath: keyPath}
	if _, err := l.get(nil); err != nil {
		return nil, err
	}
	minVer, _ := parseVersion(c.MinVersion)
	// #nosec G402 minimum version is configurable down to TLS 1.2 only
	return &tls.Config{
		GetCertificate: l.get,
		MinVersion:     minVer,
	}, nil
}

type certLoader struct {
	certPath, keyPath string

	mu      sync.Mutex
	modTime time.Time
	cert    *tls.Certificate
}

func (l *certLoader) get(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	fi, err := os.Stat(l.certPath)
	if err != nil {
		return nil, fmt.Errorf("tls: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cert != nil && fi.ModTime().Equal(l.modTime) {
		return l.cert, nil
	}
	pair, err := tls.LoadX509KeyPair(filepath.Clean(l.certPath), filepath.Clean(l.keyPath))
	if err != nil {
		return nil, fmt.Errorf("tls: load key pair: %w", err)
	}
	l.cert, l.modTime = &pair, fi.ModTime()
	return l.cert, nil
}

func exists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}
