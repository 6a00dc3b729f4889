package aggregator

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
)

// dnsMailbox is the single-producer/single-consumer handoff between the DNS
// refresher goroutine and the health-check adoption tick: a staging slice
// plus an atomic ready flag. The refresher only writes staging when ready
// is false; the adopter only reads staging when ready is true. Go's memory
// model gives the staging write happens-before the ready.Store(true), and
// the ready.Load(true) happens-before the adopter's read, without an
// explicit fence.
type dnsMailbox struct {
	staging []net.IP
	ready   atomic.Bool
}

// miekgResolver resolves A records against the system's configured
// nameservers using github.com/miekg/dns, rather than the stdlib stub
// resolver, so the refresh interval and per-query timeout are under our
// control.
type miekgResolver struct {
	client *dns.Client
	config *dns.ClientConfig
}

func newMiekgResolver() (*miekgResolver, error) {
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return nil, fmt.Errorf("read resolv.conf: %w", err)
	}
	if len(cfg.Servers) == 0 {
		return nil, fmt.Errorf("no nameservers configured")
	}
	return &miekgResolver{
		client: &dns.Client{Timeout: 5 * time.Second},
		config: cfg,
	}, nil
}

func (r *miekgResolver) resolveA(ctx context.Context, host string) ([]net.IP, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeA)
	msg.RecursionDesired = true

	var lastErr error
	for _, server := range r.config.Servers {
		addr := net.JoinHostPort(server, r.config.Port)
		resp, _, err := r.client.ExchangeContext(ctx, msg, addr)
		if err != nil {
			lastErr = err
			continue
		}
		var ips []net.IP
		for _, rr := range resp.Answer {
			if a, ok := rr.(*dns.A); ok {
				ips = append(ips, a.A)
			}
		}
		if len(ips) > 0 {
			return ips, nil
		}
		lastErr = fmt.Errorf("no A records for %q from %s", host, server)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no nameservers answered for %q", host)
	}
	return nil, lastErr
}

// dnsRefreshLoop implements the background worker half of §4.7. It is only
// started when the configured downstream host is not an IPv4 literal.
func (a *Aggregator) dnsRefreshLoop(ctx context.Context, res resolver) {
	ticker := time.NewTicker(a.cfg.DNSRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if a.downstream.mailbox.ready.Load() {
				// Adopter hasn't consumed the last batch yet; skip this round
				// rather than overwrite an unread mailbox.
				continue
			}
			ips, err := res.resolveA(ctx, a.downstream.host)
			if err != nil || len(ips) == 0 {
				a.log.Errorf("dns refresh failed for %q: %v", a.downstream.host, err)
				a.metrics.dnsRefreshErrors.Inc()
				continue
			}
			if len(ips) > maxDS {
				ips = ips[:maxDS]
			}
			a.downstream.mailbox.staging = ips
			a.downstream.mailbox.ready.Store(true)
		}
	}
}

// adoptDownstream implements the adoption half of §4.7, driven by the
// health-check tick. Only staging[0] is ever adopted; the rest of a
// multi-address resolution is kept only so a future multi-endpoint
// redesign has somewhere to grow.
func (a *Aggregator) adoptDownstream() {
	if !a.downstream.mailbox.ready.Load() {
		return
	}
	a.mu.Lock()
	if len(a.downstream.mailbox.staging) > 0 {
		a.downstream.addr = &net.UDPAddr{
			IP:   a.downstream.mailbox.staging[0],
			Port: a.downstream.port,
		}
	}
	a.mu.Unlock()
	a.downstream.mailbox.ready.Store(false)
}
