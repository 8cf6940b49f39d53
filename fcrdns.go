package autofilter

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/DuyNguyen1879/autofilter/config"
	"github.com/DuyNguyen1879/autofilter/store"
	"github.com/ReneKroon/ttlcache/v2"
	"github.com/miekg/dns"
	log "github.com/sirupsen/logrus"
)

const resolveNamespace = "fc"

// how long a verdict stays in the in-memory cache in front of badger
const hotVerdictTTL = 5 * time.Minute

// Resolver performs forward-confirmed reverse DNS: PTR lookup of the IP,
// forward lookup of the returned name, and a comparison of the first
// forward answer against the original address. Lookups go to the
// operator-configured resolver only.
//
// Verdicts are cached in badger so a crawler that keeps hammering us does
// not cost a DNS round trip every minute, with a small in-memory cache in
// front for repeat offenders within one flush.
type Resolver struct {
	server  string
	client  *dns.Client
	kvstore store.KVStore
	hot     *ttlcache.Cache
	ttl     time.Duration
	errTTL  time.Duration
	ctx     context.Context
}

// NewResolver creates a Resolver that queries the configured DNS server.
func NewResolver(ctx context.Context, cfg *config.Config, kvstore store.KVStore) *Resolver {
	hot := ttlcache.NewCache()
	hot.SkipTTLExtensionOnHit(true)

	r := &Resolver{
		server:  cfg.DNSServer,
		client:  &dns.Client{Timeout: cfg.DNSTimeout},
		kvstore: kvstore,
		hot:     hot,
		ttl:     cfg.ResolverTTL,
		errTTL:  cfg.ResolverErrTTL,
		ctx:     ctx,
	}

	go r.autoClose()

	return r
}

// Verify runs the forward-confirmed reverse lookup for ip. It returns the
// confirmed FQDN (with trailing dot) or an error describing why the IP
// could not be confirmed. Both outcomes are cached.
func (r *Resolver) Verify(ip string) (string, error) {
	if encoded, ok := r.cachedVerdict(ip); ok {
		return decodeVerdict(encoded)
	}

	domain, err := r.confirm(ip)
	r.cacheVerdict(ip, domain, err)

	return domain, err
}

func (r *Resolver) confirm(ipStr string) (string, error) {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return "", fmt.Errorf("%q is not an IP address", ipStr)
	}

	name, err := r.reverseLookup(ip)
	if err != nil {
		return "", err
	}

	forward, err := r.forwardLookup(name, strings.Contains(ipStr, ":"))
	if err != nil {
		return "", err
	}

	if !forward.Equal(ip) {
		return "", fmt.Errorf("forward lookup of %s returned %s, expected %s", name, forward, ip)
	}

	return name, nil
}

func (r *Resolver) reverseLookup(ip net.IP) (string, error) {
	reverse, err := dns.ReverseAddr(ip.String())
	if err != nil {
		return "", err
	}

	m := new(dns.Msg)
	m.SetQuestion(reverse, dns.TypePTR)

	resp, _, err := r.client.Exchange(m, r.server)
	if err != nil {
		return "", fmt.Errorf("PTR %s: %s", ip, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return "", fmt.Errorf("PTR %s: %s", ip, dns.RcodeToString[resp.Rcode])
	}

	for _, rr := range resp.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			return ptr.Ptr, nil
		}
	}

	return "", fmt.Errorf("PTR %s: no answer", ip)
}

func (r *Resolver) forwardLookup(name string, wantV6 bool) (net.IP, error) {
	qtype := dns.TypeA
	if wantV6 {
		qtype = dns.TypeAAAA
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)

	resp, _, err := r.client.Exchange(m, r.server)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %s", dns.TypeToString[qtype], name, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("%s %s: %s", dns.TypeToString[qtype], name, dns.RcodeToString[resp.Rcode])
	}

	for _, rr := range resp.Answer {
		switch fwd := rr.(type) {
		case *dns.A:
			return fwd.A, nil
		case *dns.AAAA:
			return fwd.AAAA, nil
		}
	}

	return nil, fmt.Errorf("%s %s: no answer", dns.TypeToString[qtype], name)
}

func (r *Resolver) cachedVerdict(ip string) (string, bool) {
	if v, err := r.hot.Get(ip); err == nil {
		return v.(string), true
	}

	if r.kvstore == nil {
		return "", false
	}

	raw, err := r.kvstore.Get([]byte(resolveNamespace), []byte(ip))
	if err != nil || len(raw) == 0 {
		return "", false
	}

	r.hot.SetWithTTL(ip, string(raw), hotVerdictTTL)

	return string(raw), true
}

func (r *Resolver) cacheVerdict(ip, domain string, verr error) {
	encoded, ttl := encodeVerdict(domain, verr), r.ttl
	if verr != nil {
		ttl = r.errTTL
	}

	r.hot.SetWithTTL(ip, encoded, hotVerdictTTL)

	if r.kvstore == nil {
		return
	}
	if err := r.kvstore.SetEx([]byte(resolveNamespace), []byte(ip), []byte(encoded), ttl); err != nil {
		log.Errorf("failed to cache verdict for %s: %s", ip, err)
	}
}

func encodeVerdict(domain string, err error) string {
	if err != nil {
		return "err " + err.Error()
	}
	return "ok " + domain
}

func decodeVerdict(encoded string) (string, error) {
	kind, rest, _ := strings.Cut(encoded, " ")
	if kind == "ok" && rest != "" {
		return rest, nil
	}
	return "", fmt.Errorf("%s", rest)
}

func (r *Resolver) autoClose() {
	<-r.ctx.Done()
	r.hot.Close()
}
