package compiler

import (
	"fmt"
	"sort"

	"github.com/wudi/routeplane/internal/model"
)

// ErrorKind classifies a per-resource compile error.
type ErrorKind string

const (
	ValidationError    ErrorKind = "ValidationError"
	DuplicateRuleID    ErrorKind = "DuplicateRuleId"
	AttachmentRejected ErrorKind = "AttachmentRejected"
	UnresolvedBackend  ErrorKind = "UnresolvedBackend"
)

// ResourceKind names the kind of the resource an error belongs to.
type ResourceKind string

const (
	KindGateway ResourceKind = "Gateway"
	KindRoute   ResourceKind = "Route"
)

// ResourceError is a resource-scoped compile error. It never aborts the
// compilation of unrelated resources.
type ResourceError struct {
	Kind     ErrorKind
	Resource ResourceKind
	Key      model.ObjectKey
	// RuleID is set for rule-scoped errors.
	RuleID string
	// Parent and Listener are set for attachment errors.
	Parent   model.ObjectKey
	Listener string
	Reason   string
	Message  string
}

func (e ResourceError) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Resource, e.Key, e.Kind)
	if e.RuleID != "" {
		msg += fmt.Sprintf(" (rule %s)", e.RuleID)
	}
	if e.Parent.Name != "" {
		msg += fmt.Sprintf(" (parent %s", e.Parent)
		if e.Listener != "" {
			msg += "/" + e.Listener
		}
		msg += ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// ResourceRef identifies a resource across kinds.
type ResourceRef struct {
	Kind ResourceKind
	Key  model.ObjectKey
}

// GroupErrors groups errors by resource, preserving their order.
func GroupErrors(errs []ResourceError) map[ResourceRef][]ResourceError {
	out := make(map[ResourceRef][]ResourceError)
	for _, e := range errs {
		ref := ResourceRef{Kind: e.Resource, Key: e.Key}
		out[ref] = append(out[ref], e)
	}
	return out
}

// CountByKind returns the number of errors per kind.
func CountByKind(errs []ResourceError) map[string]int {
	out := make(map[string]int)
	for _, e := range errs {
		out[string(e.Kind)]++
	}
	return out
}

func sortErrors(errs []ResourceError) {
	sort.SliceStable(errs, func(i, j int) bool {
		a, b := errs[i], errs[j]
		if a.Resource != b.Resource {
			return a.Resource < b.Resource
		}
		if a.Key.Namespace != b.Key.Namespace {
			return a.Key.Namespace < b.Key.Namespace
		}
		return a.Key.Name < b.Key.Name
	})
}
