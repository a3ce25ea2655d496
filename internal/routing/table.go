package routing

import (
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/wudi/routeplane/internal/model"
)

// ListenerKey identifies a data-plane listener bucket.
type ListenerKey struct {
	Port     int32
	Protocol model.Protocol
}

func (k ListenerKey) String() string {
	return fmt.Sprintf("%d/%s", k.Port, k.Protocol)
}

// Rule is a compiled rule with resolved backends. Rules are shared by every
// host bucket the owning route landed in and are never mutated after Build.
type Rule struct {
	ID        string
	Route     model.ObjectKey
	Index     int
	Matchers  []*Matcher
	Filters   []model.Filter
	Backends  []model.BackendRef
	sourceSeq int
}

// entry is one (rule, matcher) candidate inside a host bucket.
type entry struct {
	rule    *Rule
	matcher *Matcher
	match   int
	spec    Specificity
}

// HostBucket holds the priority-ordered candidates for one host matcher.
type HostBucket struct {
	Host    model.HostnameMatch
	entries []entry
}

// ListenerBucket holds the host buckets of one (port, protocol).
type ListenerBucket struct {
	Key       ListenerKey
	Names     []string
	hostnames map[string]model.HostnameMatch
	exact     map[string]*HostBucket
	suffixes  []*HostBucket // longest suffix first, catch-all last
}

// Hostname returns the hostname the named listener was declared with.
func (lb *ListenerBucket) Hostname(name string) (model.HostnameMatch, bool) {
	h, ok := lb.hostnames[name]
	return h, ok
}

// Table is an immutable compiled routing table.
type Table struct {
	Version    uint64
	Hash       uint64
	CompiledAt time.Time

	listeners map[ListenerKey]*ListenerBucket
	keys      []ListenerKey
	rules     []*Rule
}

// Match is the result of a successful lookup.
type Match struct {
	Listener ListenerKey
	Host     model.HostnameMatch
	Rule     *Rule
	Matcher  *Matcher
}

// Listener returns the bucket for a listener key.
func (t *Table) Listener(key ListenerKey) (*ListenerBucket, bool) {
	lb, ok := t.listeners[key]
	return lb, ok
}

// Listeners returns the listener keys in (port, protocol) order.
func (t *Table) Listeners() []ListenerKey {
	return append([]ListenerKey(nil), t.keys...)
}

// Rules returns every rule of the table in declaration order.
func (t *Table) Rules() []*Rule {
	return append([]*Rule(nil), t.rules...)
}

// RuleIDs returns the unique ids of every rule in declaration order.
func (t *Table) RuleIDs() []string {
	ids := make([]string, len(t.rules))
	for i, r := range t.rules {
		ids[i] = r.ID
	}
	return ids
}

// Rule finds a rule by unique id.
func (t *Table) Rule(id string) (*Rule, bool) {
	for _, r := range t.rules {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

// NormalizeHost lowercases a Host header value and strips the port and any
// trailing dot.
func NormalizeHost(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	} else if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}
	return strings.TrimSuffix(strings.ToLower(host), ".")
}

// Host selects the most specific host bucket for a normalized host: an
// exact bucket first, then the longest matching suffix.
func (lb *ListenerBucket) Host(host string) (*HostBucket, bool) {
	if hb, ok := lb.exact[host]; ok {
		return hb, true
	}
	for _, hb := range lb.suffixes {
		if strings.HasSuffix(host, hb.Host.Value) {
			return hb, true
		}
	}
	return nil, false
}

// HostBuckets returns every bucket, exact hosts sorted by name then suffixes
// in lookup order.
func (lb *ListenerBucket) HostBuckets() []*HostBucket {
	out := make([]*HostBucket, 0, len(lb.exact)+len(lb.suffixes))
	for _, hb := range lb.exact {
		out = append(out, hb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Host.Value < out[j].Host.Value })
	return append(out, lb.suffixes...)
}

// Match scans candidates in priority order; the first match wins.
func (hb *HostBucket) Match(r *RequestView) (*Rule, *Matcher, bool) {
	for i := range hb.entries {
		e := &hb.entries[i]
		if e.matcher.Matches(r) {
			return e.rule, e.matcher, true
		}
	}
	return nil, nil, false
}

// Order returns the unique ids of the bucket candidates in priority order.
// A rule with several matches appears once per match.
func (hb *HostBucket) Order() []string {
	ids := make([]string, len(hb.entries))
	for i, e := range hb.entries {
		ids[i] = e.rule.ID
	}
	return ids
}

// Rules returns the distinct rules of the bucket in first-candidate order.
func (hb *HostBucket) Rules() []*Rule {
	seen := make(map[*Rule]bool, len(hb.entries))
	var out []*Rule
	for _, e := range hb.entries {
		if !seen[e.rule] {
			seen[e.rule] = true
			out = append(out, e.rule)
		}
	}
	return out
}

// Lookup resolves host then rule for a request arriving on key.
func (t *Table) Lookup(key ListenerKey, host string, r *RequestView) (*Match, bool) {
	lb, ok := t.listeners[key]
	if !ok {
		return nil, false
	}
	hb, ok := lb.Host(NormalizeHost(host))
	if !ok {
		return nil, false
	}
	rule, m, ok := hb.Match(r)
	if !ok {
		return nil, false
	}
	return &Match{Listener: key, Host: hb.Host, Rule: rule, Matcher: m}, true
}

func lessEntry(a, b *entry) bool {
	if c := a.spec.Compare(b.spec); c != 0 {
		return c < 0
	}
	if a.rule.sourceSeq != b.rule.sourceSeq {
		return a.rule.sourceSeq < b.rule.sourceSeq
	}
	return a.match < b.match
}
