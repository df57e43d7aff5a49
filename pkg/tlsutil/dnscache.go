package tlsutil

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/dnscache"
	"github.com/rs/zerolog/log"
)

// resolverRefreshInterval is how often cached TeamServer lookups are
// refreshed. Hosts not used since the previous refresh are evicted.
const resolverRefreshInterval = 5 * time.Minute

var (
	resolver    = &dnscache.Resolver{}
	refreshOnce sync.Once
)

func startResolverRefresh() {
	refreshOnce.Do(func() {
		log.Debug().
			Dur("interval", resolverRefreshInterval).
			Msg("Caching DNS lookups for TeamServer hosts")

		go func() {
			ticker := time.NewTicker(resolverRefreshInterval)
			defer ticker.Stop()
			for range ticker.C {
				resolver.Refresh(true)
			}
		}()
	})
}

// DialContextWithCache resolves the host through the shared caching resolver
// and dials the returned addresses in order until one connects. Every poll
// cycle reconnects to the same few TeamServers, so lookups are rarely repeated.
func DialContextWithCache(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	if net.ParseIP(host) != nil {
		return dialer.DialContext(ctx, network, address)
	}

	startResolverRefresh()
	addrs, err := resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return nil, &net.DNSError{Err: "no addresses found", Name: host}
	}

	var lastErr error
	for _, addr := range addrs {
		conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(addr, port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		log.Debug().Err(err).Str("host", host).Str("addr", addr).Msg("TeamServer address unreachable, trying next")
	}
	return nil, lastErr
}
