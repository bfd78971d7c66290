package validate

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

// scriptedLog returns one chunk per ReadNew call, then nothing
type scriptedLog struct {
	mu     sync.Mutex
	chunks []string
	reads  int
}

func (s *scriptedLog) ReadNew() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if len(s.chunks) == 0 {
		return ""
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c
}

// fakeProber answers issuers per host; a host with several answers yields
// them in order, repeating the last
type fakeProber struct {
	mu      sync.Mutex
	issuers map[string][]string
	calls   map[string]int
	args    []string
}

func newFakeProber(issuers map[string][]string) *fakeProber {
	return &fakeProber{issuers: issuers, calls: make(map[string]int)}
}

func (p *fakeProber) Issuer(_ context.Context, rawURL string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.args = append(p.args, rawURL)

	host := rawURL
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	host = strings.SplitN(host, "/", 2)[0]

	n := p.calls[host]
	p.calls[host]++
	answers := p.issuers[host]
	if len(answers) == 0 {
		return ""
	}
	if n >= len(answers) {
		n = len(answers) - 1
	}
	return answers[n]
}

func (p *fakeProber) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		n += c
	}
	return n
}

func fastOptions() Options {
	return Options{
		Rounds:        5,
		RoundInterval: time.Millisecond,
		RecheckDelay:  time.Millisecond,
	}
}

func tunnelLine(process, host string) string {
	return "2025/06/01 12:00:00 stAgentSvc p1 t2 info tunnel.cpp:100 Tunneling flow from addr: 1.2.3.4:50000, process: " +
		process + " to host: " + host + ", addr: 5.6.7.8:443\n"
}

func findTarget(t *testing.T, res *BatchResult, url string) Target {
	t.Helper()
	for _, tg := range res.Targets {
		if tg.URL == url {
			return tg
		}
	}
	t.Fatalf("Target %s not in result", url)
	return Target{}
}

func TestValidate_ConcreteScenario(t *testing.T) {
	logs := &scriptedLog{chunks: []string{
		"...Tunneling flow from addr: 1.2.3.4, process: curl.exe to host: good.example.com, ...\n",
	}}
	prober := newFakeProber(nil)
	v := New(logs, prober, fastOptions(), nil)

	res := v.ValidateBatch(context.Background(), map[string][]string{
		"curl.exe": {"https://good.example.com", "http://plain.example.com"},
	}, nil)

	if !res.Passed {
		t.Fatal("Expected batch to pass")
	}
	if res.Rounds != 1 {
		t.Errorf("Expected to finish in round 1, took %d", res.Rounds)
	}
	if prober.total() != 0 {
		t.Errorf("Certificate probe must not run, got %d calls", prober.total())
	}
	if b := findTarget(t, res, "https://good.example.com").Basis; b != BasisLog {
		t.Errorf("Basis = %s, want %s", b, BasisLog)
	}
	if b := findTarget(t, res, "http://plain.example.com").Basis; b != BasisPlainHTTP {
		t.Errorf("Basis = %s, want %s", b, BasisPlainHTTP)
	}
}

func TestValidate_EmptyMap(t *testing.T) {
	logs := &scriptedLog{}
	v := New(logs, newFakeProber(nil), fastOptions(), nil)

	if !v.Validate(context.Background(), nil, nil) {
		t.Error("Expected nil map to pass")
	}
	if !v.Validate(context.Background(), map[string][]string{"curl.exe": {}, "msedge.exe": nil}, nil) {
		t.Error("Expected map of empty buckets to pass")
	}
	if logs.reads != 0 {
		t.Errorf("Expected no log reads, got %d", logs.reads)
	}
}

func TestValidate_PlainHTTPIsAlwaysVerified(t *testing.T) {
	logs := &scriptedLog{chunks: []string{tunnelLine("msedge.exe", "unrelated.example")}}
	prober := newFakeProber(map[string][]string{"plain.example.com": {"CN=Evil CA"}})
	v := New(logs, prober, fastOptions(), nil)

	ok := v.Validate(context.Background(), map[string][]string{
		"curl.exe": {"http://plain.example.com/path", "HTTP://Upper.example.com"},
	}, nil)

	if !ok {
		t.Error("Expected plain HTTP URLs to pass")
	}
	if logs.reads != 0 || prober.total() != 0 {
		t.Errorf("Exempt URLs consulted log (%d) or certificate (%d)", logs.reads, prober.total())
	}
}

func TestValidate_ExceptionShortCircuit(t *testing.T) {
	logs := &scriptedLog{}
	prober := newFakeProber(map[string][]string{"bank.example": {"CN=Real Bank CA"}})
	v := New(logs, prober, fastOptions(), nil)

	checker := func(u string) bool { return strings.Contains(u, "bank.example") }
	res := v.ValidateBatch(context.Background(), map[string][]string{
		"curl.exe": {"https://bank.example/login"},
	}, checker)

	if !res.Passed {
		t.Fatal("Expected exception URL to pass")
	}
	if b := findTarget(t, res, "https://bank.example/login").Basis; b != BasisException {
		t.Errorf("Basis = %s, want %s", b, BasisException)
	}
	if prober.total() != 0 {
		t.Errorf("Certificate probe must not run, got %d calls", prober.total())
	}
}

func TestValidate_HostnameIsolation(t *testing.T) {
	tests := []struct {
		name    string
		process string
		url     string
	}{
		{"shorter host", "curl.exe", "https://good.example.co"},
		{"prefixed host", "curl.exe", "https://agood.example.com"},
		{"dot is literal", "curl.exe", "https://goodxexample.com"},
		{"other process", "msedge.exe", "https://good.example.com"},
		{"process dot is literal", "curlxexe", "https://good.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs := &scriptedLog{chunks: []string{tunnelLine("curl.exe", "good.example.com")}}
			v := New(logs, newFakeProber(nil), fastOptions(), nil)

			if v.Validate(context.Background(), map[string][]string{tt.process: {tt.url}}, nil) {
				t.Errorf("%s %s must not be verified by a line for curl.exe/good.example.com", tt.process, tt.url)
			}
		})
	}
}

func TestValidate_HostMatchIgnoresSchemePortPath(t *testing.T) {
	logs := &scriptedLog{chunks: []string{tunnelLine("curl.exe", "good.example.com")}}
	v := New(logs, newFakeProber(nil), fastOptions(), nil)

	if !v.Validate(context.Background(), map[string][]string{
		"curl.exe": {"https://Good.Example.com:8443/a/b?c=d"},
	}, nil) {
		t.Error("Expected hostname match regardless of case, port and path")
	}
}

func TestValidate_CertificateProbeIgnoresURLPort(t *testing.T) {
	prober := newFakeProber(map[string][]string{"h.example": {"CN=goskope.com"}})
	v := New(&scriptedLog{}, prober, fastOptions(), nil)

	res := v.ValidateBatch(context.Background(), map[string][]string{
		"curl.exe": {"https://h.example/", "https://h.example:8443/x"},
	}, nil)
	if !res.Passed {
		t.Fatal("Expected both URLs verified by the certificate on the default port")
	}
	if len(prober.args) != 1 || prober.args[0] != "h.example" {
		t.Errorf("Prober called with %v, want [h.example]", prober.args)
	}
}

func TestProbeHost(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"h.example", "h.example"},
		{"10.0.0.1", "10.0.0.1"},
		{"::1", "[::1]"},
	}
	for _, tt := range tests {
		if got := probeHost(tt.host); got != tt.want {
			t.Errorf("probeHost(%q) = %q, want %q", tt.host, got, tt.want)
		}
	}
}

func TestValidate_BypassLine(t *testing.T) {
	line := "2025/06/01 12:00:00 stAgentSvc p1 t2 info bypassing flow to exception host: bank.example, process: curl.exe, reason: cert-pinned\n"
	logs := &scriptedLog{chunks: []string{line}}
	v := New(logs, newFakeProber(nil), fastOptions(), nil)

	res := v.ValidateBatch(context.Background(), map[string][]string{
		"curl.exe": {"https://bank.example/"},
	}, nil)
	if !res.Passed {
		t.Fatal("Expected bypass line to verify")
	}
	if b := res.Targets[0].Basis; b != BasisBypassLog {
		t.Errorf("Basis = %s, want %s", b, BasisBypassLog)
	}
}

func TestValidate_LineSplitAcrossRounds(t *testing.T) {
	full := tunnelLine("curl.exe", "late.example.com")
	half := len(full) / 2
	logs := &scriptedLog{chunks: []string{"", full[:half], full[half:]}}
	prober := newFakeProber(nil)
	v := New(logs, prober, fastOptions(), nil)

	res := v.ValidateBatch(context.Background(), map[string][]string{
		"curl.exe": {"https://late.example.com/"},
	}, nil)

	if !res.Passed {
		t.Fatal("Expected split line to be matched once complete")
	}
	if res.Rounds != 3 {
		t.Errorf("Rounds = %d, want 3", res.Rounds)
	}
	if prober.total() != 0 {
		t.Errorf("Certificate probe must not run, got %d calls", prober.total())
	}
}

func TestValidate_BatchAggregation(t *testing.T) {
	urls := []string{"https://one.example/", "https://two.example/", "https://cached.example/"}
	chunks := []string{tunnelLine("curl.exe", "one.example") + tunnelLine("curl.exe", "two.example")}

	t.Run("trusted issuer passes", func(t *testing.T) {
		prober := newFakeProber(map[string][]string{
			"cached.example": {"C=US, O=Netskope, CN=ca.tenant.goskope.com"},
		})
		v := New(&scriptedLog{chunks: chunks}, prober, fastOptions(), nil)

		res := v.ValidateBatch(context.Background(), map[string][]string{"curl.exe": urls}, nil)
		if !res.Passed {
			t.Fatal("Expected batch to pass with trusted issuer")
		}
		if res.Rounds != DefaultRounds {
			t.Errorf("Rounds = %d, want %d", res.Rounds, DefaultRounds)
		}
		tg := findTarget(t, res, "https://cached.example/")
		if tg.Basis != BasisCertificate || !strings.Contains(tg.Issuer, "goskope.com") {
			t.Errorf("Target basis=%s issuer=%q", tg.Basis, tg.Issuer)
		}
		if prober.calls["cached.example"] != 1 {
			t.Errorf("Expected one probe, got %d", prober.calls["cached.example"])
		}
	})

	t.Run("untrusted issuer fails after recheck", func(t *testing.T) {
		prober := newFakeProber(map[string][]string{
			"cached.example": {"CN=Public Root CA"},
		})
		v := New(&scriptedLog{chunks: chunks}, prober, fastOptions(), nil)

		res := v.ValidateBatch(context.Background(), map[string][]string{"curl.exe": urls}, nil)
		if res.Passed {
			t.Fatal("Expected batch to fail")
		}
		failed := res.Failed()
		if len(failed) != 1 || failed[0].URL != "https://cached.example/" || failed[0].Basis != BasisNone {
			t.Errorf("Unexpected failures: %+v", failed)
		}
		if prober.calls["cached.example"] != 2 {
			t.Errorf("Expected initial probe plus one recheck, got %d", prober.calls["cached.example"])
		}
	})

	t.Run("recheck recovers", func(t *testing.T) {
		prober := newFakeProber(map[string][]string{
			"cached.example": {"", "CN=ca.netskope.com"},
		})
		v := New(&scriptedLog{chunks: chunks}, prober, fastOptions(), nil)

		res := v.ValidateBatch(context.Background(), map[string][]string{"curl.exe": urls}, nil)
		if !res.Passed {
			t.Fatal("Expected recheck to recover")
		}
		if b := findTarget(t, res, "https://cached.example/").Basis; b != BasisRecheck {
			t.Errorf("Basis = %s, want %s", b, BasisRecheck)
		}
	})
}

func TestValidate_ProbesEachHostOncePerPass(t *testing.T) {
	prober := newFakeProber(map[string][]string{"shared.example": {"CN=ca.goskope.com"}})
	v := New(&scriptedLog{}, prober, fastOptions(), nil)

	ok := v.Validate(context.Background(), map[string][]string{
		"curl.exe":   {"https://shared.example/a", "https://shared.example/b"},
		"msedge.exe": {"https://shared.example/c"},
	}, nil)
	if !ok {
		t.Fatal("Expected pass")
	}
	if prober.calls["shared.example"] != 1 {
		t.Errorf("Expected one probe for shared host, got %d", prober.calls["shared.example"])
	}
}

func TestValidate_CancelDuringRounds(t *testing.T) {
	prober := newFakeProber(map[string][]string{"x.example": {"CN=ca.goskope.com"}})
	opts := fastOptions()
	opts.RoundInterval = time.Minute
	v := New(&scriptedLog{}, prober, opts, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	res := v.ValidateBatch(ctx, map[string][]string{"curl.exe": {"https://x.example/"}}, nil)
	if time.Since(start) > 5*time.Second {
		t.Fatalf("Cancellation not observed, took %v", time.Since(start))
	}
	if res.Passed || !res.Cancelled {
		t.Errorf("Passed=%v Cancelled=%v, want false/true", res.Passed, res.Cancelled)
	}
	if prober.total() != 0 {
		t.Errorf("Cancelled batch must not probe, got %d", prober.total())
	}
}

func TestValidate_CancelDuringRecheckDelay(t *testing.T) {
	prober := newFakeProber(nil)
	opts := fastOptions()
	opts.Rounds = 1
	opts.RecheckDelay = time.Minute
	v := New(&scriptedLog{}, prober, opts, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	res := v.ValidateBatch(ctx, map[string][]string{"curl.exe": {"https://x.example/"}}, nil)
	if res.Passed || !res.Cancelled {
		t.Errorf("Passed=%v Cancelled=%v, want false/true", res.Passed, res.Cancelled)
	}
	if prober.total() != 1 {
		t.Errorf("Expected only the first probe, got %d", prober.total())
	}
}

func TestPatterns(t *testing.T) {
	tunnel := TunnelPattern("curl.exe", "a.example")
	if !tunnel.MatchString("tunneling flow from addr: 10.0.0.1:1, process: CURL.EXE to host: A.example:443") {
		t.Error("Expected case-insensitive tunnel match with colon terminator")
	}
	if tunnel.MatchString("Tunneling flow from addr: 10.0.0.1:1, process: curl.exe to host: a.example.org, x") {
		t.Error("Tunnel pattern must require a terminator after the host")
	}

	bypass := BypassPattern("curl.exe", "a.example")
	if !bypass.MatchString("bypassing flow to exception host: a.example, process: curl.exe") {
		t.Error("Expected bypass match at end of text")
	}
	if bypass.MatchString("bypassing flow to exception host: a.example, process: curl.exe2") {
		t.Error("Bypass pattern must not match a longer process name")
	}
}
