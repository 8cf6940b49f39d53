package autofilter

import (
	"bufio"
	"fmt"
	"math"
	"net"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// EntityAll is the catch-all policy entity.
const EntityAll = "ALL"

const (
	// MinLimit is the lowest per-minute ceiling the policy accepts.
	MinLimit = 60

	// Unlimited is what a limit value of "none" maps to.
	Unlimited = math.MaxInt64

	defaultLimit = 600
	defaultBlock = 24 * time.Hour
)

var blockValueRegexp = regexp.MustCompile(`^(\d+)([hd])$`)

type cidrLimit struct {
	key     string
	network *net.IPNet
	limit   int64
}

// Policy holds the limit and block-duration tables loaded from
// autofilter.conf. It is loaded once at startup and never mutated.
//
// Entities are literal IPs, CIDR networks, uppercase ISO country codes or
// the sentinel ALL. Lookups cascade from the most specific entity to ALL.
type Policy struct {
	limits map[string]int64
	blocks map[string]time.Duration
	cidrs  []cidrLimit
}

// LoadPolicy reads the policy file. Comments start with '#', tabs count as
// spaces and each directive line reads `<directive> <entity> <value>`.
func LoadPolicy(path string) (*Policy, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "can't open policy %s", path)
	}
	defer fh.Close()

	p := &Policy{
		limits: make(map[string]int64),
		blocks: make(map[string]time.Duration),
	}

	lineNo := 0
	scanner := bufio.NewScanner(fh)
	for scanner.Scan() {
		lineNo++

		line := scanner.Text()
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.ToLower(strings.ReplaceAll(line, "\t", " "))

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 3 {
			return nil, fmt.Errorf("%s:%d: expected `<directive> <entity> <value>`, got %q", path, lineNo, scanner.Text())
		}

		directive, entity, value := fields[0], entityKey(fields[1]), fields[2]

		switch directive {
		case "limit":
			if _, ok := p.limits[entity]; ok {
				return nil, fmt.Errorf("%s:%d: duplicate limit for %s", path, lineNo, entity)
			}
			limit, err := parseLimit(value)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %s", path, lineNo, err)
			}
			p.limits[entity] = limit
		case "block":
			if _, ok := p.blocks[entity]; ok {
				return nil, fmt.Errorf("%s:%d: duplicate block for %s", path, lineNo, entity)
			}
			d, err := parseBlockValue(value)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %s", path, lineNo, err)
			}
			p.blocks[entity] = d
		default:
			return nil, fmt.Errorf("%s:%d: unknown directive %q", path, lineNo, directive)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "can't read policy %s", path)
	}

	if _, ok := p.limits[EntityAll]; !ok {
		p.limits[EntityAll] = defaultLimit
	}
	if _, ok := p.blocks[EntityAll]; !ok {
		p.blocks[EntityAll] = defaultBlock
	}

	if err := p.buildCIDRs(); err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}

	return p, nil
}

// LimitFor returns the requests-per-minute ceiling for an IP from a country.
// The most specific entity wins: exact IP, then the longest matching CIDR,
// then the country, then ALL.
func (p *Policy) LimitFor(ip, country string) int64 {
	if limit, ok := p.limits[entityKey(ip)]; ok {
		return limit
	}

	if parsed := net.ParseIP(ip); parsed != nil {
		for _, c := range p.cidrs {
			if c.network.Contains(parsed) {
				return c.limit
			}
		}
	}

	if limit, ok := p.limits[strings.ToUpper(country)]; ok {
		return limit
	}

	return p.limits[EntityAll]
}

// BlockFor returns how long an IP from a country stays blocked. The cascade
// runs exact IP, then country, then ALL. CIDR entities take no part here.
func (p *Policy) BlockFor(ip, country string) time.Duration {
	if d, ok := p.blocks[entityKey(ip)]; ok {
		return d
	}

	if d, ok := p.blocks[strings.ToUpper(country)]; ok {
		return d
	}

	return p.blocks[EntityAll]
}

// Limits returns a copy of the limit table.
func (p *Policy) Limits() map[string]int64 {
	limits := make(map[string]int64, len(p.limits))
	for k, v := range p.limits {
		limits[k] = v
	}
	return limits
}

// Blocks returns a copy of the block-duration table.
func (p *Policy) Blocks() map[string]time.Duration {
	blocks := make(map[string]time.Duration, len(p.blocks))
	for k, v := range p.blocks {
		blocks[k] = v
	}
	return blocks
}

func (p *Policy) buildCIDRs() error {
	for key, limit := range p.limits {
		if !strings.Contains(key, "/") {
			continue
		}

		_, network, err := net.ParseCIDR(strings.ToLower(key))
		if err != nil {
			return fmt.Errorf("%s is not a valid CIDR", key)
		}

		p.cidrs = append(p.cidrs, cidrLimit{
			key:     key,
			network: network,
			limit:   limit,
		})
	}

	// longest prefix first
	sort.Slice(p.cidrs, func(a, b int) bool {
		onesA, _ := p.cidrs[a].network.Mask.Size()
		onesB, _ := p.cidrs[b].network.Mask.Size()
		if onesA != onesB {
			return onesA > onesB
		}
		return p.cidrs[a].key < p.cidrs[b].key
	})

	return nil
}

// entityKey normalizes a policy entity or lookup key. Directive lines have
// been lowercased wholesale; entities containing ':' (IPv6) stay lowercase,
// everything else is uppercased. net.ParseIP is case-insensitive, so IPv6
// comparisons are unaffected.
func entityKey(entity string) string {
	if strings.Contains(entity, ":") {
		return strings.ToLower(entity)
	}
	return strings.ToUpper(entity)
}

func parseLimit(value string) (int64, error) {
	if value == "none" {
		return Unlimited, nil
	}

	limit, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a valid limit", value)
	}
	if limit < MinLimit {
		return 0, fmt.Errorf("limit %d is below the minimum of %d", limit, MinLimit)
	}

	return limit, nil
}

func parseBlockValue(value string) (time.Duration, error) {
	m := blockValueRegexp.FindStringSubmatch(value)
	if m == nil {
		return 0, fmt.Errorf("%q is not a valid block duration (want <n>h or <n>d)", value)
	}

	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("block duration %q must be at least 1", value)
	}

	if m[2] == "d" {
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.Duration(n) * time.Hour, nil
}
