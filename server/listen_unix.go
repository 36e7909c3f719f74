//go:build unix

package server

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// listen creates the listening socket by hand so the configured backlog is
// passed to listen(2) and the descriptor is close-on-exec.
func listen(network, address string, backlog int) (net.Listener, error) {
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}

	var (
		family int
		sa     unix.Sockaddr
	)
	switch network {
	case "unix":
		removeStaleSocket(address)
		family, sa = unix.AF_UNIX, &unix.SockaddrUnix{Name: address}
	case "tcp":
		addr, err := net.ResolveTCPAddr("tcp", address)
		if err != nil {
			return nil, err
		}
		family, sa = tcpSockaddr(addr)
	default:
		return nil, fmt.Errorf("unsupported network %q", network)
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	unix.CloseOnExec(fd)

	if family != unix.AF_UNIX {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			_ = unix.Close(fd)
			return nil, os.NewSyscallError("setsockopt", err)
		}
	}

	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("bind", err)
	}

	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("listen", err)
	}

	f := os.NewFile(uintptr(fd), address)
	defer f.Close()

	return net.FileListener(f)
}

func tcpSockaddr(addr *net.TCPAddr) (int, unix.Sockaddr) {
	ip4 := addr.IP.To4()
	if addr.IP == nil || ip4 != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		if ip4 != nil {
			copy(sa.Addr[:], ip4)
		}
		return unix.AF_INET, sa
	}

	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To16())
	if addr.Zone != "" {
		if ifi, err := net.InterfaceByName(addr.Zone); err == nil {
			sa.ZoneId = uint32(ifi.Index)
		}
	}
	return unix.AF_INET6, sa
}
