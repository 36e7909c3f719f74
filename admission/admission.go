// Package admission decides which peers may open sessions. A Filter plugs
// into the server as a session acceptor and session freer: it refuses denied
// or unlisted addresses and caps the number of concurrent sessions per peer.
package admission

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"sync"

	"github.com/cyberinferno/go-connserver/logger"
	"github.com/cyberinferno/go-connserver/safemap"
	"github.com/cyberinferno/go-connserver/safeset"
	"github.com/cyberinferno/go-connserver/server"
)

var (
	// ErrDenied is returned for peers on the deny list.
	ErrDenied = errors.New("peer denied")
	// ErrNotAllowed is returned for peers missing from a non-empty allow list.
	ErrNotAllowed = errors.New("peer not in allow list")
	// ErrTooManySessions is returned when a peer already holds MaxPerPeer
	// sessions.
	ErrTooManySessions = errors.New("too many sessions from peer")
)

// Config lists the admission rules. Entries are IP addresses or CIDR
// networks ("192.0.2.7", "2001:db8::/32").
type Config struct {
	Allow []string
	Deny  []string
	// MaxPerPeer caps concurrent sessions per peer IP; 0 means unlimited.
	MaxPerPeer int
}

type ruleSet struct {
	addrs *safeset.SafeSet[netip.Addr]
	mu    sync.RWMutex
	nets  []netip.Prefix
}

func newRuleSet() *ruleSet {
	return &ruleSet{addrs: safeset.NewSafeSet[netip.Addr]()}
}

func (r *ruleSet) replace(addrs []netip.Addr, nets []netip.Prefix) {
	r.mu.Lock()
	r.addrs.Replace(addrs)
	r.nets = nets
	r.mu.Unlock()
}

func (r *ruleSet) empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.addrs.Size() == 0 && len(r.nets) == 0
}

func (r *ruleSet) match(ip netip.Addr) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.addrs.Contains(ip) {
		return true
	}
	for _, n := range r.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Filter is a server.SessionAcceptor and server.SessionFreer.
type Filter struct {
	allow      *ruleSet
	deny       *ruleSet
	maxPerPeer int
	log        logger.Logger

	mu      sync.Mutex
	perPeer map[netip.Addr]int
	held    *safemap.SafeMap[*server.Session, netip.Addr]
}

// New builds a Filter from cfg.
//
// Parameters:
//   - cfg: Allow/deny lists and the per-peer session cap
//   - log: Logger for reloads; nil disables logging
//
// Returns:
//   - The filter, or an error naming the first malformed entry
func New(cfg Config, log logger.Logger) (*Filter, error) {
	if cfg.MaxPerPeer < 0 {
		return nil, fmt.Errorf("max sessions per peer must not be negative, got %d", cfg.MaxPerPeer)
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	f := &Filter{
		allow:      newRuleSet(),
		deny:       newRuleSet(),
		maxPerPeer: cfg.MaxPerPeer,
		log:        log,
		perPeer:    make(map[netip.Addr]int),
		held:       safemap.NewSafeMap[*server.Session, netip.Addr](),
	}

	if err := f.Reload(cfg.Allow, cfg.Deny); err != nil {
		return nil, err
	}

	return f, nil
}

// Reload replaces both lists. On error the current lists stay in effect.
// Sessions already admitted are not re-checked.
func (f *Filter) Reload(allow, deny []string) error {
	allowAddrs, allowNets, err := parseRules(allow)
	if err != nil {
		return fmt.Errorf("allow list: %w", err)
	}

	denyAddrs, denyNets, err := parseRules(deny)
	if err != nil {
		return fmt.Errorf("deny list: %w", err)
	}

	f.allow.replace(allowAddrs, allowNets)
	f.deny.replace(denyAddrs, denyNets)

	f.log.Info("admission rules loaded",
		logger.Field{Key: "allow", Value: len(allowAddrs) + len(allowNets)},
		logger.Field{Key: "deny", Value: len(denyAddrs) + len(denyNets)},
	)
	return nil
}

func parseRules(entries []string) ([]netip.Addr, []netip.Prefix, error) {
	var (
		addrs []netip.Addr
		nets  []netip.Prefix
	)
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, nil, fmt.Errorf("bad network %q: %w", entry, err)
			}
			nets = append(nets, p.Masked())
			continue
		}

		a, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, nil, fmt.Errorf("bad address %q: %w", entry, err)
		}
		addrs = append(addrs, a.Unmap())
	}

	return addrs, nets, nil
}

// Check applies the allow and deny lists to one peer address.
func (f *Filter) Check(ip netip.Addr) error {
	ip = ip.Unmap()

	if f.deny.match(ip) {
		return ErrDenied
	}
	if !f.allow.empty() && !f.allow.match(ip) {
		return ErrNotAllowed
	}

	return nil
}

// AcceptSession implements server.SessionAcceptor. Peers without an IP
// address (local sockets) are always admitted.
func (f *Filter) AcceptSession(sess *server.Session) error {
	ip, err := netip.ParseAddr(sess.PeerIP())
	if err != nil {
		return nil
	}
	ip = ip.Unmap()

	if err := f.Check(ip); err != nil {
		return err
	}

	if f.maxPerPeer == 0 {
		return nil
	}

	f.mu.Lock()
	if f.perPeer[ip] >= f.maxPerPeer {
		f.mu.Unlock()
		return ErrTooManySessions
	}
	f.perPeer[ip]++
	f.mu.Unlock()

	f.held.Store(sess, ip)
	return nil
}

// SessionFree implements server.SessionFreer.
func (f *Filter) SessionFree(sess *server.Session) {
	f.Release(sess)
}

// Release returns the per-peer slot held by sess, if any. It is safe to call
// more than once.
func (f *Filter) Release(sess *server.Session) {
	ip, ok := f.held.LoadAndDelete(sess)
	if !ok {
		return
	}

	f.mu.Lock()
	if f.perPeer[ip] <= 1 {
		delete(f.perPeer, ip)
	} else {
		f.perPeer[ip]--
	}
	f.mu.Unlock()
}

// Active returns the number of admitted sessions currently held by ip.
func (f *Filter) Active(ip netip.Addr) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.perPeer[ip.Unmap()]
}
