package netcalc

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		in        string
		cidr      string
		netmask   string
		broadcast string
		gateway   string
		first     string
		last      string
		hosts     uint64
	}{
		{
			name: "lan /24 with router address", in: "192.168.10.1/24",
			cidr: "192.168.10.0/24", netmask: "255.255.255.0", broadcast: "192.168.10.255",
			gateway: "192.168.10.1", first: "192.168.10.1", last: "192.168.10.254", hosts: 254,
		},
		{
			name: "network address picks first host", in: "10.0.0.0/8",
			cidr: "10.0.0.0/8", netmask: "255.0.0.0", broadcast: "10.255.255.255",
			gateway: "10.0.0.1", first: "10.0.0.1", last: "10.255.255.254", hosts: 16777214,
		},
		{
			name: "host inside /22", in: "172.16.5.77/22",
			cidr: "172.16.4.0/22", netmask: "255.255.252.0", broadcast: "172.16.7.255",
			gateway: "172.16.5.77", first: "172.16.4.1", last: "172.16.7.254", hosts: 1022,
		},
		{
			name: "point to point /31", in: "203.0.113.4/31",
			cidr: "203.0.113.4/31", netmask: "255.255.255.254", broadcast: "203.0.113.5",
			gateway: "203.0.113.4", first: "203.0.113.4", last: "203.0.113.5", hosts: 2,
		},
		{
			name: "/30", in: "198.51.100.9/30",
			cidr: "198.51.100.8/30", netmask: "255.255.255.252", broadcast: "198.51.100.11",
			gateway: "198.51.100.9", first: "198.51.100.9", last: "198.51.100.10", hosts: 2,
		},
		{
			name: "bare address is a host route", in: "8.8.8.8",
			cidr: "8.8.8.8/32", netmask: "255.255.255.255", broadcast: "8.8.8.8",
			gateway: "8.8.8.8", first: "8.8.8.8", last: "8.8.8.8", hosts: 1,
		},
		{
			name: "default route", in: "0.0.0.0/0",
			cidr: "0.0.0.0/0", netmask: "0.0.0.0", broadcast: "255.255.255.255",
			gateway: "0.0.0.1", first: "0.0.0.1", last: "255.255.255.254", hosts: 4294967294,
		},
		{
			name: "broadcast input falls back to first host", in: "192.168.1.255/24",
			cidr: "192.168.1.0/24", netmask: "255.255.255.0", broadcast: "192.168.1.255",
			gateway: "192.168.1.1", first: "192.168.1.1", last: "192.168.1.254", hosts: 254,
		},
		{
			name: "surrounding whitespace", in: "  192.168.0.1/16 ",
			cidr: "192.168.0.0/16", netmask: "255.255.0.0", broadcast: "192.168.255.255",
			gateway: "192.168.0.1", first: "192.168.0.1", last: "192.168.255.254", hosts: 65534,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			n, err := Parse(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.cidr, n.CIDR())
			assert.Equal(t, tc.netmask, n.Netmask.String())
			assert.Equal(t, tc.broadcast, n.Broadcast.String())
			assert.Equal(t, tc.gateway, n.Gateway.String())
			assert.Equal(t, tc.first, n.FirstHost.String())
			assert.Equal(t, tc.last, n.LastHost.String())
			assert.Equal(t, tc.hosts, n.HostCount)
		})
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want error
	}{
		{name: "empty", in: "", want: ErrInvalidCIDR},
		{name: "garbage", in: "not-an-ip", want: ErrInvalidCIDR},
		{name: "prefix too long", in: "10.0.0.1/33", want: ErrInvalidCIDR},
		{name: "octet overflow", in: "10.0.0.256/24", want: ErrInvalidCIDR},
		{name: "ipv6", in: "2001:db8::1/64", want: ErrUnsupportedFamily},
		{name: "bare ipv6", in: "fe80::1", want: ErrUnsupportedFamily},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(tc.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestNetworkHelpers(t *testing.T) {
	t.Parallel()

	n := MustParse("192.168.10.1/24")

	assert.Equal(t, 24, n.Bits())
	assert.True(t, n.Contains(netip.MustParseAddr("192.168.10.200")))
	assert.False(t, n.Contains(netip.MustParseAddr("192.168.11.1")))

	assert.True(t, n.IsHost(netip.MustParseAddr("192.168.10.254")))
	assert.False(t, n.IsHost(netip.MustParseAddr("192.168.10.0")))
	assert.False(t, n.IsHost(netip.MustParseAddr("192.168.10.255")))

	addr, err := n.Nth(100)
	require.NoError(t, err)
	assert.Equal(t, "192.168.10.100", addr.String())

	_, err = n.Nth(256)
	assert.Error(t, err)
}

func TestMustParsePanics(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { MustParse("bogus") })
}

func TestNormalizePrefix(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"":                "all",
		"all":             "all",
		"0.0.0.0/0":       "all",
		"192.168.10.5":    "192.168.10.5",
		"192.168.10.5/32": "192.168.10.5",
		"192.168.10.5/24": "192.168.10.0/24",
		"10.1.0.0/16":     "10.1.0.0/16",
		"garbage":         "garbage",
	}

	for in, want := range tests {
		assert.Equal(t, want, NormalizePrefix(in), "input %q", in)
	}
}

func TestDefaultDHCPRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cidr    string
		start   string
		end     string
		wantErr bool
	}{
		{name: "gateway at bottom", cidr: "192.168.10.1/24", start: "192.168.10.128", end: "192.168.10.254"},
		{name: "gateway inside upper half", cidr: "192.168.10.200/24", start: "192.168.10.201", end: "192.168.10.254"},
		{name: "gateway at top", cidr: "192.168.10.254/24", start: "192.168.10.128", end: "192.168.10.253"},
		{name: "gateway at start", cidr: "10.0.0.4/29", start: "10.0.0.5", end: "10.0.0.6"},
		{name: "/30 leaves one address", cidr: "10.0.0.1/30", start: "10.0.0.2", end: "10.0.0.2"},
		{name: "/32 has no pool", cidr: "10.0.0.1/32", wantErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r, err := DefaultDHCPRange(MustParse(tc.cidr))
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.start, r.Start.String())
			assert.Equal(t, tc.end, r.End.String())
		})
	}
}

func TestParseRange(t *testing.T) {
	t.Parallel()

	n := MustParse("192.168.10.1/24")

	r, err := ParseRange(n, "192.168.10.100", "192.168.10.199")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), r.Size())

	_, err = ParseRange(n, "192.168.10.0", "192.168.10.50")
	assert.ErrorContains(t, err, "not a host")

	_, err = ParseRange(n, "192.168.10.50", "192.168.11.5")
	assert.ErrorContains(t, err, "not a host")

	_, err = ParseRange(n, "192.168.10.90", "192.168.10.80")
	assert.ErrorContains(t, err, "after end")

	_, err = ParseRange(n, "192.168.10.1", "192.168.10.80")
	assert.ErrorContains(t, err, "contains gateway")

	_, err = ParseRange(n, "bogus", "192.168.10.80")
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := map[string]Class{
		"0.0.0.0":         ClassUnspecified,
		"127.0.0.1":       ClassLoopback,
		"10.1.2.3":        ClassPrivate,
		"172.20.0.1":      ClassPrivate,
		"192.168.10.1":    ClassPrivate,
		"169.254.1.1":     ClassLinkLocal,
		"224.0.0.251":     ClassMulticast,
		"100.64.1.1":      ClassCGNAT,
		"100.127.255.254": ClassCGNAT,
		"240.0.0.1":       ClassReserved,
		"192.0.2.10":      ClassReserved,
		"0.1.2.3":         ClassReserved,
		"8.8.8.8":         ClassPublic,
		"1.1.1.1":         ClassPublic,
		"fd00::1":         ClassPrivate,
		"::ffff:10.0.0.1": ClassPrivate,
	}

	for in, want := range tests {
		assert.Equal(t, want, Classify(netip.MustParseAddr(in)), "address %s", in)
	}
	assert.Equal(t, ClassUnspecified, Classify(netip.Addr{}))
	assert.True(t, IsLocal(netip.MustParseAddr("192.168.1.1")))
	assert.False(t, IsLocal(netip.MustParseAddr("9.9.9.9")))
}

func TestSameSubnet(t *testing.T) {
	t.Parallel()

	a := netip.MustParseAddr("192.168.10.5")
	b := netip.MustParseAddr("192.168.10.250")
	c := netip.MustParseAddr("192.168.11.5")

	assert.True(t, SameSubnet(a, b, 24))
	assert.False(t, SameSubnet(a, c, 24))
	assert.True(t, SameSubnet(a, c, 22))
	assert.False(t, SameSubnet(a, netip.MustParseAddr("::1"), 24))
	assert.False(t, SameSubnet(a, b, 40))
}
