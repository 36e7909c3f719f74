package server

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Interface is one listening endpoint owned by a Server. Name is the entry as
// configured; Network is "tcp" or "unix".
type Interface struct {
	Name     string
	Network  string
	Address  string
	Listener net.Listener
}

// String returns the configured name.
func (i *Interface) String() string {
	return i.Name
}

// Addr returns the bound address, or nil before binding.
func (i *Interface) Addr() net.Addr {
	if i.Listener == nil {
		return nil
	}

	return i.Listener.Addr()
}

// ParseInterfaces splits a ';'-separated address list into unbound
// interfaces. Entries may be "host:port", "host", ":port", "[v6]:port", a
// bare IPv6 address, or a local socket path ("/path", "./path" or
// "unix:path"). Blank entries are ignored.
//
// Parameters:
//   - list: The configured address list
//   - defaultPort: Port used for entries without one
//
// Returns:
//   - The parsed interfaces, or an error naming the first bad entry
func ParseInterfaces(list string, defaultPort int) ([]*Interface, error) {
	var out []*Interface
	for _, raw := range strings.Split(list, ";") {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}

		iface, err := parseInterface(entry, defaultPort)
		if err != nil {
			return nil, fmt.Errorf("interface %q: %w", entry, err)
		}

		out = append(out, iface)
	}

	if len(out) == 0 {
		return nil, errors.New("no interfaces configured")
	}

	return out, nil
}

func parseInterface(entry string, defaultPort int) (*Interface, error) {
	if path, ok := strings.CutPrefix(entry, "unix:"); ok {
		if path == "" {
			return nil, errors.New("empty socket path")
		}

		return &Interface{Name: entry, Network: "unix", Address: path}, nil
	}

	if strings.HasPrefix(entry, "/") || strings.HasPrefix(entry, "./") || strings.HasPrefix(entry, "../") {
		return &Interface{Name: entry, Network: "unix", Address: entry}, nil
	}

	host, port := entry, ""
	switch {
	case strings.HasPrefix(entry, "["):
		end := strings.Index(entry, "]")
		if end < 0 {
			return nil, errors.New("missing ']' in IPv6 address")
		}

		host = entry[1:end]
		if rest := entry[end+1:]; rest != "" {
			p, ok := strings.CutPrefix(rest, ":")
			if !ok || p == "" {
				return nil, errors.New("malformed port after IPv6 address")
			}
			port = p
		}
	case strings.Count(entry, ":") == 1:
		var err error
		host, port, err = net.SplitHostPort(entry)
		if err != nil {
			return nil, err
		}
	}

	if port == "" {
		port = strconv.Itoa(defaultPort)
	}

	n, err := net.LookupPort("tcp", port)
	if err != nil {
		return nil, fmt.Errorf("bad port %q: %w", port, err)
	}

	return &Interface{
		Name:    entry,
		Network: "tcp",
		Address: net.JoinHostPort(host, strconv.Itoa(n)),
	}, nil
}

func (i *Interface) bind(backlog int) error {
	ln, err := listen(i.Network, i.Address, backlog)
	if err != nil {
		return fmt.Errorf("bind %s: %w", i.Name, err)
	}

	i.Listener = ln
	return nil
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

func (i *Interface) setDeadline(t time.Time) {
	if d, ok := i.Listener.(deadliner); ok {
		_ = d.SetDeadline(t)
	}
}

// Close stops listening and removes the socket file of a local interface.
func (i *Interface) Close() error {
	if i.Listener == nil {
		return nil
	}

	err := i.Listener.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	if i.Network == "unix" {
		if rmErr := os.Remove(i.Address); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
			err = rmErr
		}
	}

	i.Listener = nil
	return err
}

func bindInterfaces(ifaces []*Interface, backlog int) error {
	for n, iface := range ifaces {
		if err := iface.bind(backlog); err != nil {
			for _, bound := range ifaces[:n] {
				_ = bound.Close()
			}
			return err
		}
	}

	return nil
}

func removeStaleSocket(path string) {
	if fi, err := os.Lstat(path); err == nil && fi.Mode()&os.ModeSocket != 0 {
		_ = os.Remove(path)
	}
}
