package probe

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/Paintersrp/procgroup/internal/config"
)

type tcpProber struct {
	network string
	address string
	dialer  func(ctx context.Context, network, address string) (net.Conn, error)
}

// newTCPProber accepts "host:port" or a listener entry such as
// "unix//run/app.sock".
func newTCPProber(spec *config.TCPProbeSpec) Prober {
	p := &tcpProber{
		network: "tcp",
		address: strings.TrimSpace(spec.Address),
		dialer:  (&net.Dialer{}).DialContext,
	}
	if network, address, err := config.ParseListen(p.address); err == nil {
		p.network, p.address = network, address
	}
	return p
}

func (p *tcpProber) Probe(ctx context.Context) error {
	conn, err := p.dialer(ctx, p.network, p.address)
	if err != nil {
		return fmt.Errorf("dial %s %s: %w", p.network, p.address, err)
	}
	return conn.Close()
}
