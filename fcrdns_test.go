package autofilter

import (
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/DuyNguyen1879/autofilter/config"
)

// testZone is the fixture data a test resolver serves. Unknown names get
// NXDOMAIN.
type testZone struct {
	ptr  map[string]string
	a    map[string]string
	aaaa map[string]string
}

func runTestDNS(t *testing.T, zone *testZone) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	mux := dns.NewServeMux()
	mux.HandleFunc(".", func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)

		q := req.Question[0]
		answer := ""

		switch q.Qtype {
		case dns.TypePTR:
			if name, ok := zone.ptr[q.Name]; ok {
				answer = fmt.Sprintf("%s 300 IN PTR %s", q.Name, name)
			}
		case dns.TypeA:
			if ip, ok := zone.a[q.Name]; ok {
				answer = fmt.Sprintf("%s 300 IN A %s", q.Name, ip)
			}
		case dns.TypeAAAA:
			if ip, ok := zone.aaaa[q.Name]; ok {
				answer = fmt.Sprintf("%s 300 IN AAAA %s", q.Name, ip)
			}
		}

		if answer == "" {
			m.Rcode = dns.RcodeNameError
		} else {
			rr, err := dns.NewRR(answer)
			if err != nil {
				t.Errorf("bad test zone entry %q: %s", answer, err)
			}
			m.Answer = append(m.Answer, rr)
		}

		w.WriteMsg(m)
	})

	srv := &dns.Server{PacketConn: pc, Handler: mux}
	go srv.ActivateAndServe()
	t.Cleanup(func() { srv.Shutdown() })

	return pc.LocalAddr().String()
}

func newTestResolver(t *testing.T, zone *testZone) *Resolver {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := &config.Config{
		DNSServer:      runTestDNS(t, zone),
		DNSTimeout:     2 * time.Second,
		ResolverTTL:    time.Hour,
		ResolverErrTTL: time.Hour,
	}

	return NewResolver(ctx, cfg, nil)
}

func reverseName(t *testing.T, ip string) string {
	t.Helper()

	reverse, err := dns.ReverseAddr(ip)
	if err != nil {
		t.Fatal(err)
	}

	return reverse
}

func TestVerifyConfirmed(t *testing.T) {
	zone := &testZone{
		ptr: map[string]string{},
		a:   map[string]string{"crawl-66-249-66-1.googlebot.com.": "66.249.66.1"},
	}
	zone.ptr[reverseName(t, "66.249.66.1")] = "crawl-66-249-66-1.googlebot.com."

	r := newTestResolver(t, zone)

	domain, err := r.Verify("66.249.66.1")
	if err != nil {
		t.Fatalf("66.249.66.1 should be confirmed, got %s", err)
	}

	if domain != "crawl-66-249-66-1.googlebot.com." {
		t.Errorf("domain should be crawl-66-249-66-1.googlebot.com. but is %q", domain)
	}
}

func TestVerifyForwardMismatch(t *testing.T) {
	zone := &testZone{
		ptr: map[string]string{},
		a:   map[string]string{"crawl-66-249-66-1.googlebot.com.": "198.51.100.9"},
	}
	zone.ptr[reverseName(t, "66.249.66.1")] = "crawl-66-249-66-1.googlebot.com."

	r := newTestResolver(t, zone)

	if _, err := r.Verify("66.249.66.1"); err == nil {
		t.Fatal("a forward mismatch should not be confirmed")
	} else if !strings.Contains(err.Error(), "expected 66.249.66.1") {
		t.Errorf("the error should name the expected IP, got %q", err)
	}
}

func TestVerifyNXDomain(t *testing.T) {
	r := newTestResolver(t, &testZone{})

	if _, err := r.Verify("203.0.113.1"); err == nil {
		t.Fatal("an IP without a PTR record should not be confirmed")
	} else if !strings.Contains(err.Error(), "NXDOMAIN") {
		t.Errorf("the error should carry the rcode, got %q", err)
	}
}

func TestVerifyIPv6(t *testing.T) {
	zone := &testZone{
		ptr:  map[string]string{},
		aaaa: map[string]string{"spider-1.yandex.com.": "2001:db8::6"},
	}
	zone.ptr[reverseName(t, "2001:db8::6")] = "spider-1.yandex.com."

	r := newTestResolver(t, zone)

	domain, err := r.Verify("2001:db8::6")
	if err != nil {
		t.Fatalf("2001:db8::6 should be confirmed, got %s", err)
	}

	if domain != "spider-1.yandex.com." {
		t.Errorf("domain should be spider-1.yandex.com. but is %q", domain)
	}
}

func TestVerifyCachesVerdict(t *testing.T) {
	zone := &testZone{
		ptr: map[string]string{},
		a:   map[string]string{"crawl-66-249-66-1.googlebot.com.": "66.249.66.1"},
	}
	zone.ptr[reverseName(t, "66.249.66.1")] = "crawl-66-249-66-1.googlebot.com."

	r := newTestResolver(t, zone)

	if _, err := r.Verify("66.249.66.1"); err != nil {
		t.Fatal(err)
	}

	// break the zone; the verdict must come from the cache now
	zone.a["crawl-66-249-66-1.googlebot.com."] = "198.51.100.9"

	domain, err := r.Verify("66.249.66.1")
	if err != nil {
		t.Fatalf("the cached verdict should be reused, got %s", err)
	}
	if domain != "crawl-66-249-66-1.googlebot.com." {
		t.Errorf("cached domain should be crawl-66-249-66-1.googlebot.com. but is %q", domain)
	}
}
