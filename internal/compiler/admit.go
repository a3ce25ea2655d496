package compiler

import (
	"github.com/wudi/routeplane/internal/attach"
	"github.com/wudi/routeplane/internal/model"
	"github.com/wudi/routeplane/internal/store"
)

// Attachment is one listener together with the routes admitted onto it.
type Attachment struct {
	Gateway  *model.Gateway
	Listener *model.Listener
	Routes   []*model.Route
}

// Admit evaluates every (route, gateway, listener) triple of the snapshot
// and returns the admitted routes per listener, in gateway then listener
// declaration order. Invalid gateways and rejected attachments are
// reported as resource errors.
func Admit(snap *store.Snapshot, filter *attach.Filter) ([]Attachment, []ResourceError) {
	if filter == nil {
		filter = attach.NewFilter(nil)
	}
	var errs []ResourceError

	type listenerRef struct {
		gw   model.ObjectKey
		name string
	}
	index := make(map[listenerRef]int)
	var out []Attachment

	valid := make(map[model.ObjectKey]bool, len(snap.Gateways))
	for _, gw := range snap.Gateways {
		if fe := model.ValidateGateway(gw); len(fe) > 0 {
			errs = append(errs, ResourceError{
				Kind:     ValidationError,
				Resource: KindGateway,
				Key:      gw.Key(),
				Message:  fe.ToAggregate().Error(),
			})
			continue
		}
		valid[gw.Key()] = true
		for i := range gw.Listeners {
			index[listenerRef{gw.Key(), gw.Listeners[i].Name}] = len(out)
			out = append(out, Attachment{Gateway: gw, Listener: &gw.Listeners[i]})
		}
	}

	reject := func(r *model.Route, parent model.ObjectKey, listener, reason string) {
		filter.Reject(r.Key(), parent, listener, reason)
		errs = append(errs, ResourceError{
			Kind:     AttachmentRejected,
			Resource: KindRoute,
			Key:      r.Key(),
			Parent:   parent,
			Listener: listener,
			Reason:   reason,
		})
	}

	for _, r := range snap.Routes {
		for _, ref := range r.ParentRefs {
			parent := r.ParentKey(ref)
			gw, ok := snap.Gateway(parent)
			if !ok || !valid[parent] {
				reject(r, parent, ref.SectionName, attach.ReasonNoMatchingParent)
				continue
			}
			if ref.SectionName != "" {
				if _, ok := gw.Listener(ref.SectionName); !ok {
					reject(r, parent, ref.SectionName, attach.ReasonNoMatchingParent)
					continue
				}
			}
			for i := range gw.Listeners {
				l := &gw.Listeners[i]
				if ref.SectionName != "" && l.Name != ref.SectionName {
					continue
				}
				d := filter.Allowed(r, gw, l)
				if !d.Allowed {
					errs = append(errs, ResourceError{
						Kind:     AttachmentRejected,
						Resource: KindRoute,
						Key:      r.Key(),
						Parent:   parent,
						Listener: l.Name,
						Reason:   d.Reason,
					})
					continue
				}
				at := &out[index[listenerRef{parent, l.Name}]]
				if len(at.Routes) == 0 || at.Routes[len(at.Routes)-1] != r {
					at.Routes = append(at.Routes, r)
				}
			}
		}
	}
	return out, errs
}
