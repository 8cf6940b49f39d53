package autofilter

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const policyTestConf = `
# test policy
limit ALL 600
limit 10.0.0.0/8 100
limit 10.1.0.0/16 80
limit cn 200
limit	1.2.3.4	60
limit 2001:db8::1 none
block ALL 24h
block de 2d
block 1.2.3.4 1h
`

func writePolicy(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "autofilter.conf")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	return path
}

func TestPolicyLoad(t *testing.T) {
	p, err := LoadPolicy(writePolicy(t, policyTestConf))
	if err != nil {
		t.Fatalf("failed to load policy: %s", err)
	}

	if limit := p.limits["CN"]; limit != 200 {
		t.Errorf("limit for CN should be 200 but is %d", limit)
	}

	if limit := p.limits["1.2.3.4"]; limit != 60 {
		t.Errorf("limit for 1.2.3.4 should be 60 but is %d", limit)
	}

	if limit := p.limits["2001:db8::1"]; limit != Unlimited {
		t.Errorf("limit for 2001:db8::1 should be unlimited but is %d", limit)
	}

	if d := p.blocks["DE"]; d != 48*time.Hour {
		t.Errorf("block for DE should be 48h but is %s", d)
	}

	if len(p.cidrs) != 2 {
		t.Fatalf("there are %d CIDR limits but 2 are expected", len(p.cidrs))
	}

	// longest prefix must come first
	if ones, _ := p.cidrs[0].network.Mask.Size(); ones != 16 {
		t.Errorf("the first CIDR limit should have prefix length 16 but has %d", ones)
	}
}

func TestPolicyDefaults(t *testing.T) {
	p, err := LoadPolicy(writePolicy(t, "limit CN 200\n"))
	if err != nil {
		t.Fatalf("failed to load policy: %s", err)
	}

	if limit := p.limits[EntityAll]; limit != 600 {
		t.Errorf("default limit for ALL should be 600 but is %d", limit)
	}

	if d := p.blocks[EntityAll]; d != 24*time.Hour {
		t.Errorf("default block for ALL should be 24h but is %s", d)
	}
}

func TestPolicyErrors(t *testing.T) {
	cases := map[string]string{
		"missing file":      "",
		"duplicate entity":  "limit CN 200\nlimit cn 300\n",
		"unknown directive": "allow CN 200\n",
		"bad time suffix":   "block CN 2w\n",
		"zero duration":     "block CN 0h\n",
		"ceiling too low":   "limit CN 59\n",
		"bad limit":         "limit CN lots\n",
		"bad field count":   "limit CN\n",
	}

	for name, content := range cases {
		var path string
		if name == "missing file" {
			path = filepath.Join(t.TempDir(), "nope.conf")
		} else {
			path = writePolicy(t, content)
		}

		if _, err := LoadPolicy(path); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func TestLimitCascade(t *testing.T) {
	p, err := LoadPolicy(writePolicy(t, policyTestConf))
	if err != nil {
		t.Fatalf("failed to load policy: %s", err)
	}

	// exact IP wins over everything
	if limit := p.LimitFor("1.2.3.4", "CN"); limit != 60 {
		t.Errorf("limit for 1.2.3.4 should be 60 but is %d", limit)
	}

	// longest matching prefix wins
	if limit := p.LimitFor("10.1.2.3", "CN"); limit != 80 {
		t.Errorf("limit for 10.1.2.3 should be 80 (from 10.1.0.0/16) but is %d", limit)
	}

	if limit := p.LimitFor("10.2.2.3", "CN"); limit != 100 {
		t.Errorf("limit for 10.2.2.3 should be 100 (from 10.0.0.0/8) but is %d", limit)
	}

	// no IP or CIDR match falls through to the country
	if limit := p.LimitFor("8.8.8.8", "CN"); limit != 200 {
		t.Errorf("limit for 8.8.8.8/CN should be 200 but is %d", limit)
	}

	// then to ALL
	if limit := p.LimitFor("8.8.8.8", "DE"); limit != 600 {
		t.Errorf("limit for 8.8.8.8/DE should be 600 but is %d", limit)
	}

	// IPv6 lookups are case-insensitive
	if limit := p.LimitFor("2001:DB8::1", "DE"); limit != Unlimited {
		t.Errorf("limit for 2001:DB8::1 should be unlimited but is %d", limit)
	}
}

func TestBlockCascadeSkipsCIDRs(t *testing.T) {
	p, err := LoadPolicy(writePolicy(t, "limit 10.0.0.0/8 100\nblock 10.0.0.0/8 1h\nblock CN 2d\n"))
	if err != nil {
		t.Fatalf("failed to load policy: %s", err)
	}

	// the CIDR block entry exists but takes no part in the cascade
	if d := p.BlockFor("10.1.2.3", "CN"); d != 48*time.Hour {
		t.Errorf("block for 10.1.2.3/CN should be 48h but is %s", d)
	}

	if d := p.BlockFor("10.1.2.3", "FR"); d != 24*time.Hour {
		t.Errorf("block for 10.1.2.3/FR should fall through to 24h but is %s", d)
	}

	if d := p.BlockFor("1.2.3.4", "CN"); d != 48*time.Hour {
		t.Errorf("block for 1.2.3.4/CN should be 48h but is %s", d)
	}
}
