package probe

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/Paintersrp/procgroup/internal/config"
	"github.com/Paintersrp/procgroup/internal/runtime"
)

// logProber latches ready on the first output line matching pattern.
type logProber struct {
	pattern *regexp.Regexp
	sources []string

	once    sync.Once
	matched chan struct{}
}

func newLogProber(spec *config.LogProbeSpec) (*logProber, error) {
	pattern, err := regexp.Compile(spec.Pattern)
	if err != nil {
		return nil, fmt.Errorf("log pattern: %w", err)
	}
	p := &logProber{pattern: pattern, matched: make(chan struct{})}
	for _, src := range spec.Sources {
		if src = strings.ToLower(strings.TrimSpace(src)); src != "" {
			p.sources = append(p.sources, src)
		}
	}
	return p, nil
}

// Probe blocks until a matching line was observed or ctx is done.
func (p *logProber) Probe(ctx context.Context) error {
	select {
	case <-p.matched:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *logProber) ObserveLog(entry runtime.LogEntry) {
	if p.Matched() {
		return
	}
	if len(p.sources) > 0 && !slices.Contains(p.sources, strings.ToLower(entry.Source)) {
		return
	}
	if p.pattern.MatchString(entry.Message) {
		p.once.Do(func() { close(p.matched) })
	}
}

func (p *logProber) Matched() bool {
	select {
	case <-p.matched:
		return true
	default:
		return false
	}
}

var (
	_ LogObserver = (*logProber)(nil)
	_ latch       = (*logProber)(nil)
)
