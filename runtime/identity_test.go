package runtime

import (
	"net"
	"testing"
)

func TestGenerateRandomIPIsPublicIPv4(t *testing.T) {
	reserved := []string{
		"10.0.0.0/8", "127.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16",
		"100.64.0.0/10", "169.254.0.0/16", "192.0.0.0/24", "192.0.2.0/24",
		"192.88.99.0/24", "198.18.0.0/15", "198.51.100.0/24", "203.0.113.0/24",
	}
	var nets []*net.IPNet
	for _, cidr := range reserved {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			t.Fatalf("bad CIDR %q: %v", cidr, err)
		}
		nets = append(nets, n)
	}

	for i := 0; i < 2000; i++ {
		ipStr := GenerateRandomIP()
		ip := net.ParseIP(ipStr)
		v4 := ip.To4()
		if ip == nil || v4 == nil {
			t.Fatalf("GenerateRandomIP produced invalid IPv4: %q", ipStr)
		}
		for _, n := range nets {
			if n.Contains(ip) {
				t.Fatalf("GenerateRandomIP produced reserved-range address %q (in %s)", ipStr, n)
			}
		}
		if v4[0] >= 224 {
			t.Fatalf("GenerateRandomIP produced multicast/reserved-high address %q", ipStr)
		}
	}
}

func TestGenerateIdentityHasConsistentProfile(t *testing.T) {
	for i := 0; i < 50; i++ {
		id := GenerateIdentity()
		if id.IP == "" || id.UserAgent == "" || len(id.Headers) == 0 {
			t.Fatalf("incomplete identity: %+v", id)
		}
	}
}
