package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"

	"github.com/Paintersrp/procgroup/internal/config"
)

type httpProber struct {
	client *http.Client
	url    string
	expect []int
}

func newHTTPProber(spec *config.HTTPProbeSpec) Prober {
	return &httpProber{
		// Redirects count as ready; the probed service answered.
		client: &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}},
		url:    spec.URL,
		expect: append([]int(nil), spec.ExpectStatus...),
	}
}

func (p *httpProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if len(p.expect) > 0 {
		if !slices.Contains(p.expect, resp.StatusCode) {
			return fmt.Errorf("status=%d, want one of %v", resp.StatusCode, p.expect)
		}
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return fmt.Errorf("status=%d", resp.StatusCode)
	}
	return nil
}
