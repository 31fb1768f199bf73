package terminator

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

// Kind selects how a Target is resolved to process ids.
type Kind string

const (
	KindName    Kind = "name"
	KindCmdline Kind = "cmdline"
	KindPort    Kind = "port"
)

// Target names processes to terminate. It is resolved at kill time, never
// cached, so processes left behind by an earlier run are found as well.
type Target struct {
	Kind Kind `json:"kind" mapstructure:"kind"`
	// Name is the image name for KindName and the host runtime
	// (e.g. "node") for KindCmdline. An empty runtime matches any process.
	Name string `json:"name,omitempty" mapstructure:"name"`
	// Pattern is the command-line substring for KindCmdline.
	Pattern string `json:"pattern,omitempty" mapstructure:"pattern"`
	// Port is the TCP listening port for KindPort.
	Port int `json:"port,omitempty" mapstructure:"port"`
	// Exe optionally narrows KindName to processes running exactly this executable.
	Exe string `json:"exe,omitempty" mapstructure:"exe"`
}

// ByName targets every process whose image name equals name.
func ByName(name string) Target { return Target{Kind: KindName, Name: name} }

// ByCommandLine targets processes of the given runtime whose full command line
// contains pattern.
func ByCommandLine(runtimeName, pattern string) Target {
	return Target{Kind: KindCmdline, Name: runtimeName, Pattern: pattern}
}

// ByPort targets the owners of TCP listeners on port.
func ByPort(port int) Target { return Target{Kind: KindPort, Port: port} }

func (t Target) String() string {
	switch t.Kind {
	case KindName:
		if t.Exe != "" {
			return fmt.Sprintf("name:%s(%s)", t.Name, t.Exe)
		}
		return "name:" + t.Name
	case KindCmdline:
		return fmt.Sprintf("cmdline:%s~%s", t.Name, t.Pattern)
	case KindPort:
		return fmt.Sprintf("port:%d", t.Port)
	default:
		return "invalid:" + string(t.Kind)
	}
}

// Validate reports targets that could never match or would match everything.
func (t Target) Validate() error {
	switch t.Kind {
	case KindName:
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("name target requires a name")
		}
	case KindCmdline:
		if strings.TrimSpace(t.Pattern) == "" {
			return fmt.Errorf("cmdline target requires a pattern")
		}
	case KindPort:
		if t.Port <= 0 || t.Port > 65535 {
			return fmt.Errorf("port target requires a port in 1-65535, got %d", t.Port)
		}
	default:
		return fmt.Errorf("unknown target kind %q", t.Kind)
	}
	return nil
}

// matches reports whether p is selected by a name or cmdline target.
func (t Target) matches(p ProcInfo) bool {
	switch t.Kind {
	case KindName:
		if !sameImage(p.Name, t.Name) {
			return false
		}
		return t.Exe == "" || samePath(p.Exe, t.Exe)
	case KindCmdline:
		if t.Name != "" && !sameImage(p.Name, t.Name) {
			return false
		}
		return t.Pattern != "" && strings.Contains(p.Cmdline, t.Pattern)
	default:
		return false
	}
}

// sameImage compares image names, ignoring any directory part, a trailing
// ".exe" and, on Windows, letter case. A configured runtime such as
// /usr/bin/node or C:\Program Files\nodejs\node.exe matches image "node".
func sameImage(a, b string) bool {
	a, b = normalizeImage(a), normalizeImage(b)
	return a != "" && a == b
}

func normalizeImage(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexAny(s, `/\`); i >= 0 {
		s = s[i+1:]
	}
	if runtime.GOOS == "windows" {
		s = strings.ToLower(s)
	}
	if len(s) > 4 && strings.EqualFold(s[len(s)-4:], ".exe") {
		s = s[:len(s)-4]
	}
	return s
}

func samePath(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	a, b = filepath.Clean(a), filepath.Clean(b)
	if runtime.GOOS == "windows" {
		return strings.EqualFold(a, b)
	}
	return a == b
}
