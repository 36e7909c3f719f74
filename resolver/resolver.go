// Package resolver fills in the reverse DNS name of each session's peer.
package resolver

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/cyberinferno/go-connserver/cacher"
	"github.com/cyberinferno/go-connserver/logger"
	"github.com/cyberinferno/go-connserver/server"
)

const defaultTimeout = 500 * time.Millisecond

// LookupFunc returns the names for an address, like net.Resolver.LookupAddr.
type LookupFunc func(ctx context.Context, addr string) ([]string, error)

// Config tunes the resolver.
type Config struct {
	// Timeout bounds one lookup, cache wait included. Default: 500ms.
	Timeout time.Duration
	// TTL is how long answers are cached, empty answers included.
	// Default: 10m.
	TTL time.Duration
	// Lookup replaces the system resolver.
	Lookup LookupFunc
}

// PeerResolver is a server.SessionCreator setting Session.PeerName. Failed
// lookups leave the name empty; they never refuse the session.
//
// SessionCreate runs on the server's dispatch goroutine, so a cache miss
// delays accepting on every interface by up to Timeout. Keep Timeout short.
type PeerResolver struct {
	cache   cacher.Cacher[string]
	lookup  LookupFunc
	timeout time.Duration
	ttl     time.Duration
	log     logger.Logger
}

// New creates a resolver backed by cache.
//
// Parameters:
//   - cache: Stores names by peer IP (memory or shared Redis)
//   - cfg: Timeouts and an optional custom lookup
//   - log: Logger for lookup failures; nil disables logging
//
// Returns:
//   - A new PeerResolver
func New(cache cacher.Cacher[string], cfg Config, log logger.Logger) *PeerResolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.Lookup == nil {
		cfg.Lookup = net.DefaultResolver.LookupAddr
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &PeerResolver{
		cache:   cache,
		lookup:  cfg.Lookup,
		timeout: cfg.Timeout,
		ttl:     cfg.TTL,
		log:     log,
	}
}

// Resolve returns the first name for ip without its trailing dot, or "" if
// there is none or the lookup failed.
func (r *PeerResolver) Resolve(ctx context.Context, ip netip.Addr) string {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	key := ip.Unmap().String()
	name, err := r.cache.GetOrFetch(ctx, key, r.ttl, func(ctx context.Context) (string, error) {
		names, err := r.lookup(ctx, key)
		if err != nil {
			var dnsErr *net.DNSError
			if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
				return "", nil
			}
			return "", err
		}
		if len(names) == 0 {
			return "", nil
		}
		return strings.TrimSuffix(names[0], "."), nil
	})
	if err != nil {
		r.log.Debug("reverse lookup failed",
			logger.Field{Key: "addr", Value: key},
			logger.Field{Key: "error", Value: err},
		)
		return ""
	}

	return name
}

// SessionCreate implements server.SessionCreator.
func (r *PeerResolver) SessionCreate(sess *server.Session) error {
	ip, err := netip.ParseAddr(sess.PeerIP())
	if err != nil {
		return nil
	}

	sess.PeerName = r.Resolve(context.Background(), ip)
	if sess.PeerName != "" {
		sess.Logger().Debug("peer resolved", logger.Field{Key: "name", Value: sess.PeerName})
	}
	return nil
}
