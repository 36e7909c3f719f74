package admission

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/go-connserver/server"
)

func session(peer string) *server.Session {
	return &server.Session{PeerAddr: peer}
}

func TestNew_InvalidRules(t *testing.T) {
	_, err := New(Config{Deny: []string{"not-an-ip"}}, nil)
	assert.ErrorContains(t, err, "deny list")

	_, err = New(Config{Allow: []string{"10.0.0.0/99"}}, nil)
	assert.ErrorContains(t, err, "allow list")

	_, err = New(Config{MaxPerPeer: -1}, nil)
	assert.Error(t, err)
}

func TestFilter_Check(t *testing.T) {
	f, err := New(Config{
		Deny:  []string{"192.0.2.7", "198.51.100.0/24", " ", "2001:db8:bad::/48"},
		Allow: nil,
	}, nil)
	require.NoError(t, err)

	tests := []struct {
		ip   string
		want error
	}{
		{"192.0.2.7", ErrDenied},
		{"192.0.2.8", nil},
		{"198.51.100.200", ErrDenied},
		{"::ffff:198.51.100.1", ErrDenied},
		{"2001:db8:bad::1", ErrDenied},
		{"2001:db8:900d::1", nil},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			err := f.Check(netip.MustParseAddr(tt.ip))
			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestFilter_AllowList(t *testing.T) {
	f, err := New(Config{
		Allow: []string{"127.0.0.0/8", "192.0.2.1"},
		Deny:  []string{"127.0.0.2"},
	}, nil)
	require.NoError(t, err)

	assert.NoError(t, f.AcceptSession(session("127.0.0.1:4000")))
	assert.NoError(t, f.AcceptSession(session("192.0.2.1:25")))
	assert.ErrorIs(t, f.AcceptSession(session("127.0.0.2:4000")), ErrDenied)
	assert.ErrorIs(t, f.AcceptSession(session("192.0.2.2:25")), ErrNotAllowed)

	// Local sockets have no IP and are not filtered.
	assert.NoError(t, f.AcceptSession(session("")))
	assert.NoError(t, f.AcceptSession(session("@")))
}

func TestFilter_MaxPerPeer(t *testing.T) {
	f, err := New(Config{MaxPerPeer: 2}, nil)
	require.NoError(t, err)
	peer := netip.MustParseAddr("192.0.2.9")

	a, b, c := session("192.0.2.9:1"), session("192.0.2.9:2"), session("192.0.2.9:3")
	require.NoError(t, f.AcceptSession(a))
	require.NoError(t, f.AcceptSession(b))
	assert.ErrorIs(t, f.AcceptSession(c), ErrTooManySessions)
	assert.Equal(t, 2, f.Active(peer))

	// Another peer is counted separately.
	assert.NoError(t, f.AcceptSession(session("192.0.2.10:1")))

	// A refused session holds no slot; freeing it changes nothing.
	f.SessionFree(c)
	assert.Equal(t, 2, f.Active(peer))

	f.SessionFree(a)
	f.SessionFree(a)
	assert.Equal(t, 1, f.Active(peer))
	assert.NoError(t, f.AcceptSession(c))

	f.Release(b)
	f.Release(c)
	assert.Zero(t, f.Active(peer))
}

func TestFilter_Reload(t *testing.T) {
	f, err := New(Config{Deny: []string{"192.0.2.1"}}, nil)
	require.NoError(t, err)
	ip := netip.MustParseAddr("192.0.2.1")

	assert.ErrorIs(t, f.Check(ip), ErrDenied)

	require.NoError(t, f.Reload(nil, []string{"192.0.2.2"}))
	assert.NoError(t, f.Check(ip))

	// A bad reload keeps the previous rules.
	assert.Error(t, f.Reload([]string{"bogus"}, nil))
	assert.NoError(t, f.Check(ip))
	assert.ErrorIs(t, f.Check(netip.MustParseAddr("192.0.2.2")), ErrDenied)

	require.NoError(t, f.Reload([]string{"10.0.0.0/8"}, nil))
	assert.ErrorIs(t, f.Check(ip), ErrNotAllowed)
	assert.NoError(t, f.Check(netip.MustParseAddr("10.1.2.3")))
}
