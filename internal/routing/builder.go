package routing

import (
	"sort"
	"time"

	"github.com/wudi/routeplane/internal/model"
)

// Builder assembles a Table. It is single-use and not safe for concurrent
// use; the Table it builds is immutable.
type Builder struct {
	listeners map[ListenerKey]*ListenerBucket
	rules     []*Rule
	placed    map[*HostBucket]map[*Rule]bool
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		listeners: make(map[ListenerKey]*ListenerBucket),
		placed:    make(map[*HostBucket]map[*Rule]bool),
	}
}

// AddListener registers a listener name under its (port, protocol) bucket.
// hostname is the listener's own hostname, nil when it accepts any host.
func (b *Builder) AddListener(key ListenerKey, name string, hostname *model.HostnameMatch) *ListenerBucket {
	lb, ok := b.listeners[key]
	if !ok {
		lb = &ListenerBucket{Key: key, exact: make(map[string]*HostBucket), hostnames: make(map[string]model.HostnameMatch)}
		b.listeners[key] = lb
	}
	for _, n := range lb.Names {
		if n == name {
			return lb
		}
	}
	lb.Names = append(lb.Names, name)
	if hostname != nil {
		lb.hostnames[name] = hostname.Normalized()
	}
	return lb
}

// NewRule registers a rule. Rules registered earlier win declaration-order
// ties. A rule without matchers gets a single match-everything matcher.
func (b *Builder) NewRule(id string, route model.ObjectKey, index int, matchers []*Matcher, filters []model.Filter, backends []model.BackendRef) *Rule {
	if len(matchers) == 0 {
		m, _ := NewMatcher(model.Match{})
		matchers = []*Matcher{m}
	}
	r := &Rule{
		ID:        id,
		Route:     route,
		Index:     index,
		Matchers:  matchers,
		Filters:   filters,
		Backends:  backends,
		sourceSeq: len(b.rules),
	}
	b.rules = append(b.rules, r)
	return r
}

// Place puts every matcher of rule into the host bucket of key. Placing the
// same rule twice in one bucket is a no-op.
func (b *Builder) Place(key ListenerKey, host model.HostnameMatch, rule *Rule) {
	lb, ok := b.listeners[key]
	if !ok {
		lb = b.AddListener(key, key.String(), nil)
	}
	hb := lb.bucket(host)
	if b.placed[hb] == nil {
		b.placed[hb] = make(map[*Rule]bool)
	}
	if b.placed[hb][rule] {
		return
	}
	b.placed[hb][rule] = true
	for i, m := range rule.Matchers {
		hb.entries = append(hb.entries, entry{rule: rule, matcher: m, match: i, spec: m.Specificity()})
	}
}

func (lb *ListenerBucket) bucket(host model.HostnameMatch) *HostBucket {
	if host.Type == model.HostnameExact {
		hb, ok := lb.exact[host.Value]
		if !ok {
			hb = &HostBucket{Host: host}
			lb.exact[host.Value] = hb
		}
		return hb
	}
	for _, hb := range lb.suffixes {
		if hb.Host.Value == host.Value {
			return hb
		}
	}
	hb := &HostBucket{Host: host}
	lb.suffixes = append(lb.suffixes, hb)
	return hb
}

// Build sorts every bucket and returns the finished table.
func (b *Builder) Build(version uint64, compiledAt time.Time) *Table {
	t := &Table{
		Version:    version,
		CompiledAt: compiledAt,
		listeners:  b.listeners,
		rules:      b.rules,
	}
	for key, lb := range b.listeners {
		t.keys = append(t.keys, key)
		sort.Strings(lb.Names)
		sort.SliceStable(lb.suffixes, func(i, j int) bool {
			li, lj := len(lb.suffixes[i].Host.Value), len(lb.suffixes[j].Host.Value)
			if li != lj {
				return li > lj
			}
			return lb.suffixes[i].Host.Value < lb.suffixes[j].Host.Value
		})
		for _, hb := range lb.exact {
			sortEntries(hb.entries)
		}
		for _, hb := range lb.suffixes {
			sortEntries(hb.entries)
		}
	}
	sort.Slice(t.keys, func(i, j int) bool {
		if t.keys[i].Port != t.keys[j].Port {
			return t.keys[i].Port < t.keys[j].Port
		}
		return t.keys[i].Protocol < t.keys[j].Protocol
	})
	t.Hash = hashDocument(t.Document())
	b.listeners = nil
	b.rules = nil
	b.placed = nil
	return t
}

func sortEntries(es []entry) {
	sort.SliceStable(es, func(i, j int) bool { return lessEntry(&es[i], &es[j]) })
}
