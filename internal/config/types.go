package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Duration wraps time.Duration for YAML unmarshalling.
type Duration struct {
	time.Duration
	explicit bool
}

// UnmarshalText parses a textual duration, accepting empty strings.
func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided or non-zero.
func (d Duration) IsSet() bool {
	return d.explicit || d.Duration != 0
}

// Worker types accepted in manifests.
const (
	TypeSocketSharing = "socket-sharing"
	TypeIsolated      = "isolated"
)

// DefaultStopSignal is sent to worker commands when stopSignal is unset.
const DefaultStopSignal = "SIGTERM"

// Group mirrors the procgroup.yaml document structure.
type Group struct {
	Version string   `yaml:"version"`
	Grace   Duration `yaml:"grace"`
	Workdir string   `yaml:"workdir"`

	// StopWhenWorkersExit shuts the primary down once every worker exited.
	StopWhenWorkersExit bool `yaml:"stopWhenWorkersExit"`

	Primary *PrimarySpec  `yaml:"primary"`
	Workers []*WorkerSpec `yaml:"workers"`
}

// PrimarySpec configures the root process.
type PrimarySpec struct {
	// Listen holds network/address pairs opened before workers fork, such
	// as "tcp/127.0.0.1:8080".
	Listen []string `yaml:"listen"`

	// Command runs to completion before any worker is forked.
	Command []string          `yaml:"command"`
	Env     map[string]string `yaml:"env"`
}

// WorkerSpec describes count identical worker processes running Command.
type WorkerSpec struct {
	Name               string            `yaml:"name"`
	Type               string            `yaml:"type"`
	Count              int               `yaml:"count"`
	Command            []string          `yaml:"command"`
	Env                map[string]string `yaml:"env"`
	EnvFromFile        string            `yaml:"envFromFile"`
	StopSignal         string            `yaml:"stopSignal"`
	StartupTimeout     Duration          `yaml:"startupTimeout"`
	KillAfterCompleted bool              `yaml:"killAfterCompleted"`

	// Ready gates the end of start on a readiness probe.
	Ready *ReadySpec `yaml:"ready"`

	// ResolvedWorkdir is the directory Command runs in.
	ResolvedWorkdir string `yaml:"-"`
}

// DefaultProbeInterval separates readiness attempts when ready.interval is
// unset.
const DefaultProbeInterval = 250 * time.Millisecond

// ReadySpec configures the readiness probe of a worker command. When several
// probes are set the command is ready once any of them succeeds.
type ReadySpec struct {
	HTTP       *HTTPProbeSpec    `yaml:"http"`
	TCP        *TCPProbeSpec     `yaml:"tcp"`
	Command    *CommandProbeSpec `yaml:"command"`
	Log        *LogProbeSpec     `yaml:"log"`
	Expression string            `yaml:"expression"`
	Interval   Duration          `yaml:"interval"`
	Timeout    Duration          `yaml:"timeout"`
}

// HTTPProbeSpec succeeds on a 2xx/3xx response or one of ExpectStatus.
type HTTPProbeSpec struct {
	URL          string `yaml:"url"`
	ExpectStatus []int  `yaml:"expectStatus"`
}

// TCPProbeSpec succeeds once Address accepts a connection.
type TCPProbeSpec struct {
	Address string `yaml:"address"`
}

// CommandProbeSpec succeeds when Command exits 0.
type CommandProbeSpec struct {
	Command []string `yaml:"command"`
	Timeout Duration `yaml:"timeout"`
}

// LogProbeSpec succeeds once the worker command prints a line matching
// Pattern on one of Sources (stdout, stderr; any when empty).
type LogProbeSpec struct {
	Pattern string   `yaml:"pattern"`
	Sources []string `yaml:"sources"`
}

// ApplyDefaults fills unset fields.
func (g *Group) ApplyDefaults() error {
	for i, w := range g.Workers {
		if w == nil {
			return fmt.Errorf("%s: worker entry is null", workerField(i))
		}
		if w.Name == "" {
			w.Name = fmt.Sprintf("worker-%d", i)
		}
		w.Type = strings.ToLower(strings.TrimSpace(w.Type))
		if w.Type == "" {
			w.Type = TypeSocketSharing
		}
		if w.Count == 0 {
			w.Count = 1
		}
		w.StopSignal = strings.TrimSpace(w.StopSignal)
		if w.StopSignal == "" {
			w.StopSignal = DefaultStopSignal
		}
		if w.Ready != nil && !w.Ready.Interval.IsSet() {
			w.Ready.Interval.Duration = DefaultProbeInterval
		}
	}
	return nil
}

// Validate enforces manifest invariants the schema cannot express.
func (g *Group) Validate() error {
	if g.Version == "" {
		return fmt.Errorf("%s: is required", fieldPath("version"))
	}
	if g.Primary == nil && len(g.Workers) == 0 {
		return fmt.Errorf("%s: must define a primary or at least one worker", fieldPath("workers"))
	}
	if g.Grace.IsSet() && g.Grace.Duration <= 0 {
		return fmt.Errorf("%s: must be positive", fieldPath("grace"))
	}
	if g.Primary != nil {
		seen := make(map[string]struct{}, len(g.Primary.Listen))
		for i, entry := range g.Primary.Listen {
			if _, _, err := ParseListen(entry); err != nil {
				return fmt.Errorf("%s: %w", primaryField(fmt.Sprintf("listen[%d]", i)), err)
			}
			if _, dup := seen[entry]; dup {
				return fmt.Errorf("%s: duplicate listener %q", primaryField(fmt.Sprintf("listen[%d]", i)), entry)
			}
			seen[entry] = struct{}{}
		}
	}
	names := make(map[string]int, len(g.Workers))
	for i, w := range g.Workers {
		if prev, dup := names[w.Name]; dup {
			return fmt.Errorf("%s: duplicate worker name %q (also %s)", workerField(i, "name"), w.Name, workerField(prev))
		}
		names[w.Name] = i
		if w.Type != TypeSocketSharing && w.Type != TypeIsolated {
			return fmt.Errorf("%s: unsupported type %q (supported values: %s, %s)", workerField(i, "type"), w.Type, TypeSocketSharing, TypeIsolated)
		}
		if w.Count < 0 {
			return fmt.Errorf("%s: must be non-negative", workerField(i, "count"))
		}
		if len(w.Command) == 0 || strings.TrimSpace(w.Command[0]) == "" {
			return fmt.Errorf("%s: is required", workerField(i, "command"))
		}
		if _, err := ParseSignal(w.StopSignal); err != nil {
			return fmt.Errorf("%s: %w", workerField(i, "stopSignal"), err)
		}
		if w.StartupTimeout.Duration < 0 {
			return fmt.Errorf("%s: must be non-negative", workerField(i, "startupTimeout"))
		}
		if w.Ready != nil {
			if err := validateReady(i, w.Ready); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateReady(worker int, r *ReadySpec) error {
	field := func(parts ...string) string {
		return workerField(worker, append([]string{"ready"}, parts...)...)
	}
	if r.HTTP == nil && r.TCP == nil && r.Command == nil && r.Log == nil {
		return fmt.Errorf("%s: must define at least one of http, tcp, command or log", field())
	}
	if r.HTTP != nil && strings.TrimSpace(r.HTTP.URL) == "" {
		return fmt.Errorf("%s: is required", field("http", "url"))
	}
	if r.TCP != nil && strings.TrimSpace(r.TCP.Address) == "" {
		return fmt.Errorf("%s: is required", field("tcp", "address"))
	}
	if r.Command != nil && len(r.Command.Command) == 0 {
		return fmt.Errorf("%s: is required", field("command", "command"))
	}
	if r.Log != nil {
		if _, err := regexp.Compile(r.Log.Pattern); err != nil {
			return fmt.Errorf("%s: %w", field("log", "pattern"), err)
		}
		for j, src := range r.Log.Sources {
			switch strings.ToLower(src) {
			case "stdout", "stderr":
			default:
				return fmt.Errorf("%s: unsupported source %q", field("log", fmt.Sprintf("sources[%d]", j)), src)
			}
		}
	}
	if r.Interval.Duration < 0 {
		return fmt.Errorf("%s: must be non-negative", field("interval"))
	}
	if r.Timeout.Duration < 0 {
		return fmt.Errorf("%s: must be non-negative", field("timeout"))
	}
	return nil
}

// ParseListen splits a "network/address" listener entry.
func ParseListen(entry string) (network, address string, err error) {
	network, address, ok := strings.Cut(strings.TrimSpace(entry), "/")
	if !ok || address == "" {
		return "", "", fmt.Errorf("listener %q must have the form network/address", entry)
	}
	switch network {
	case "tcp", "tcp4", "tcp6", "unix":
	default:
		return "", "", fmt.Errorf("listener %q: unsupported network %q", entry, network)
	}
	return network, address, nil
}

// WorkerCount returns the number of worker processes after count expansion.
func (g *Group) WorkerCount() int {
	n := 0
	for _, w := range g.Workers {
		n += w.Count
	}
	return n
}

func fieldPath(parts ...string) string {
	return strings.Join(parts, ".")
}

func primaryField(parts ...string) string {
	return fieldPath(append([]string{"primary"}, parts...)...)
}

func workerField(index int, parts ...string) string {
	worker := fmt.Sprintf("workers[%d]", index)
	return fieldPath(append([]string{worker}, parts...)...)
}
