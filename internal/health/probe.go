package health

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Status represents health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// StatusRange represents a range of HTTP status codes.
type StatusRange struct {
	Lo, Hi int
}

// ParseStatusRange parses a status range string like "200", "2xx", "200-299".
func ParseStatusRange(s string) (StatusRange, error) {
	s = strings.TrimSpace(s)
	if len(s) == 3 && s[1] == 'x' && s[2] == 'x' {
		base := int(s[0]-'0') * 100
		if base < 100 || base > 500 {
			return StatusRange{}, fmt.Errorf("invalid status range %q", s)
		}
		return StatusRange{base, base + 99}, nil
	}
	if parts := strings.SplitN(s, "-", 2); len(parts) == 2 {
		lo, err1 := strconv.Atoi(parts[0])
		hi, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil || lo < 100 || hi > 599 || lo > hi {
			return StatusRange{}, fmt.Errorf("invalid status range %q", s)
		}
		return StatusRange{lo, hi}, nil
	}
	code, err := strconv.Atoi(s)
	if err != nil || code < 100 || code > 599 {
		return StatusRange{}, fmt.Errorf("invalid status code %q", s)
	}
	return StatusRange{code, code}, nil
}

// ParseStatusRanges parses every entry; an empty list yields 200-399.
func ParseStatusRanges(ss []string) ([]StatusRange, error) {
	if len(ss) == 0 {
		return []StatusRange{{200, 399}}, nil
	}
	out := make([]StatusRange, 0, len(ss))
	for _, s := range ss {
		r, err := ParseStatusRange(s)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// matchStatus checks if a status code falls within any of the given ranges.
func matchStatus(code int, ranges []StatusRange) bool {
	for _, r := range ranges {
		if code >= r.Lo && code <= r.Hi {
			return true
		}
	}
	return false
}

// Probe describes how one data-plane listener is checked.
type Probe struct {
	Listener string        `json:"listener"`
	Port     int32         `json:"port"`
	Protocol string        `json:"protocol"`
	Path     string        `json:"path"`
	Expected []StatusRange `json:"expected_status"`
	Timeout  time.Duration `json:"timeout"`
}

// ProbeSpec is the unparsed form of a Probe.
type ProbeSpec struct {
	Listener string
	Port     int32
	Protocol string
	Path     string
	Expected []string
	Timeout  time.Duration
}

// NewProbe validates spec and returns the probe.
func NewProbe(spec ProbeSpec) (Probe, error) {
	ranges, err := ParseStatusRanges(spec.Expected)
	if err != nil {
		return Probe{}, fmt.Errorf("listener %s: %w", spec.Listener, err)
	}
	path := spec.Path
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		return Probe{}, fmt.Errorf("listener %s: probe path must start with /", spec.Listener)
	}
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return Probe{
		Listener: spec.Listener,
		Port:     spec.Port,
		Protocol: strings.ToUpper(spec.Protocol),
		Path:     path,
		Expected: ranges,
		Timeout:  timeout,
	}, nil
}

// CheckResult represents the result of a probe
type CheckResult struct {
	Listener   string        `json:"listener"`
	Status     Status        `json:"status"`
	StatusCode int           `json:"status_code,omitempty"`
	Latency    time.Duration `json:"latency"`
	Error      string        `json:"error,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Checker runs listener probes against a host, normally the loopback
// address of this process.
type Checker struct {
	client *http.Client
	host   string

	mu     sync.RWMutex
	probes []Probe
}

// NewChecker creates a checker probing host.
func NewChecker(host string, probes []Probe) *Checker {
	if host == "" {
		host = "127.0.0.1"
	}
	return &Checker{
		client: &http.Client{
			Transport: &http.Transport{
				// Probes check the listener, not its certificate.
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		host:   host,
		probes: probes,
	}
}

// Probes returns the probe definitions.
func (c *Checker) Probes() []Probe {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Probe(nil), c.probes...)
}

// Check runs a single probe.
func (c *Checker) Check(ctx context.Context, p Probe) CheckResult {
	res := CheckResult{Listener: p.Listener, Status: StatusUnknown, Timestamp: time.Now()}
	scheme := "http"
	if p.Protocol == "HTTPS" {
		scheme = "https"
	}
	url := scheme + "://" + net.JoinHostPort(c.host, strconv.Itoa(int(p.Port))) + p.Path

	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		res.Status = StatusUnhealthy
		res.Error = err.Error()
		return res
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	res.Latency = time.Since(start)
	if err != nil {
		res.Status = StatusUnhealthy
		res.Error = err.Error()
		return res
	}
	resp.Body.Close()

	res.StatusCode = resp.StatusCode
	if matchStatus(resp.StatusCode, p.Expected) {
		res.Status = StatusHealthy
	} else {
		res.Status = StatusUnhealthy
		res.Error = fmt.Sprintf("unexpected status code: %d", resp.StatusCode)
	}
	return res
}

// CheckAll runs every probe concurrently.
func (c *Checker) CheckAll(ctx context.Context) []CheckResult {
	probes := c.Probes()
	out := make([]CheckResult, len(probes))
	var wg sync.WaitGroup
	for i, p := range probes {
		wg.Add(1)
		go func(i int, p Probe) {
			defer wg.Done()
			out[i] = c.Check(ctx, p)
		}(i, p)
	}
	wg.Wait()
	return out
}
