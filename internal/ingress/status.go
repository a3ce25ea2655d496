package ingress

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	gatewayv1 "sigs.k8s.io/gateway-api/apis/v1"

	"github.com/wudi/routeplane/internal/attach"
	"github.com/wudi/routeplane/internal/compiler"
	"github.com/wudi/routeplane/internal/model"
	"github.com/wudi/routeplane/internal/store"
)

// StatusWriter reports compile results back onto Gateway API resources.
// It is only invoked on the leader, after a table was published.
type StatusWriter struct {
	client         client.Client
	resources      *store.Store
	controllerName string
	publishAddress string
	maxRetries     uint64
}

// NewStatusWriter creates a StatusWriter. publishAddress, when set, is
// reported as the Gateway address.
func NewStatusWriter(c client.Client, resources *store.Store, controllerName, publishAddress string) *StatusWriter {
	return &StatusWriter{
		client:         c,
		resources:      resources,
		controllerName: controllerName,
		publishAddress: publishAddress,
		maxRetries:     3,
	}
}

// WriteStatus implements publisher.StatusWriter.
func (u *StatusWriter) WriteStatus(ctx context.Context, res *compiler.Result) error {
	byResource := res.ErrorsByResource()
	var errs []error
	for _, gw := range u.resources.ListGateways() {
		ref := compiler.ResourceRef{Kind: compiler.KindGateway, Key: gw.Key()}
		if err := u.retry(ctx, func() error {
			return u.UpdateGatewayStatus(ctx, gw.Key(), byResource[ref])
		}); err != nil {
			errs = append(errs, fmt.Errorf("gateway %s: %w", gw.Key(), err))
		}
	}
	for _, r := range u.resources.ListRoutes() {
		ref := compiler.ResourceRef{Kind: compiler.KindRoute, Key: r.Key()}
		if err := u.retry(ctx, func() error {
			return u.UpdateHTTPRouteStatus(ctx, r, byResource[ref])
		}); err != nil {
			errs = append(errs, fmt.Errorf("httproute %s: %w", r.Key(), err))
		}
	}
	return errors.Join(errs...)
}

// retry runs op with exponential backoff. Missing objects are not retried.
func (u *StatusWriter) retry(ctx context.Context, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 50 * time.Millisecond
	b := backoff.WithContext(backoff.WithMaxRetries(eb, u.maxRetries), ctx)
	return backoff.Retry(func() error {
		err := op()
		if apierrors.IsNotFound(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

// UpdateGatewayClassStatus sets the Accepted condition on a GatewayClass.
func (u *StatusWriter) UpdateGatewayClassStatus(ctx context.Context, gc *gatewayv1.GatewayClass) error {
	patch := client.MergeFrom(gc.DeepCopy())
	changed := meta.SetStatusCondition(&gc.Status.Conditions, metav1.Condition{
		Type:               string(gatewayv1.GatewayClassConditionStatusAccepted),
		Status:             metav1.ConditionTrue,
		ObservedGeneration: gc.Generation,
		Reason:             string(gatewayv1.GatewayClassReasonAccepted),
		Message:            "GatewayClass accepted by " + u.controllerName,
	})
	if !changed {
		return nil
	}
	return u.client.Status().Patch(ctx, gc, patch)
}

// UpdateGatewayStatus sets the Accepted and Programmed conditions of a
// Gateway from its compile errors.
func (u *StatusWriter) UpdateGatewayStatus(ctx context.Context, key model.ObjectKey, errs []compiler.ResourceError) error {
	var gw gatewayv1.Gateway
	if err := u.client.Get(ctx, key, &gw); err != nil {
		return err
	}
	patch := client.MergeFrom(gw.DeepCopy())

	accepted := metav1.Condition{
		Type:               string(gatewayv1.GatewayConditionAccepted),
		Status:             metav1.ConditionTrue,
		ObservedGeneration: gw.Generation,
		Reason:             string(gatewayv1.GatewayReasonAccepted),
		Message:            "Gateway accepted",
	}
	programmed := metav1.Condition{
		Type:               string(gatewayv1.GatewayConditionProgrammed),
		Status:             metav1.ConditionTrue,
		ObservedGeneration: gw.Generation,
		Reason:             string(gatewayv1.GatewayReasonProgrammed),
		Message:            "Gateway programmed",
	}
	if len(errs) > 0 {
		accepted.Status = metav1.ConditionFalse
		accepted.Reason = "ListenersNotValid"
		accepted.Message = errs[0].Message
		programmed.Status = metav1.ConditionFalse
		programmed.Reason = string(gatewayv1.GatewayReasonInvalid)
		programmed.Message = errs[0].Message
	}
	changed := meta.SetStatusCondition(&gw.Status.Conditions, accepted)
	changed = meta.SetStatusCondition(&gw.Status.Conditions, programmed) || changed

	if u.publishAddress != "" {
		addrType := gatewayv1.HostnameAddressType
		if net.ParseIP(u.publishAddress) != nil {
			addrType = gatewayv1.IPAddressType
		}
		desired := []gatewayv1.GatewayStatusAddress{{Type: &addrType, Value: u.publishAddress}}
		if len(gw.Status.Addresses) != 1 || gw.Status.Addresses[0].Value != u.publishAddress {
			gw.Status.Addresses = desired
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return u.client.Status().Patch(ctx, &gw, patch)
}

// UpdateHTTPRouteStatus sets per-parent Accepted and ResolvedRefs
// conditions on an HTTPRoute.
func (u *StatusWriter) UpdateHTTPRouteStatus(ctx context.Context, r *model.Route, errs []compiler.ResourceError) error {
	var hr gatewayv1.HTTPRoute
	if err := u.client.Get(ctx, r.Key(), &hr); err != nil {
		return err
	}
	patch := client.MergeFrom(hr.DeepCopy())

	var routeErr, backendErr *compiler.ResourceError
	for i := range errs {
		switch errs[i].Kind {
		case compiler.ValidationError, compiler.DuplicateRuleID:
			if routeErr == nil {
				routeErr = &errs[i]
			}
		case compiler.UnresolvedBackend:
			if backendErr == nil {
				backendErr = &errs[i]
			}
		}
	}

	resolved := metav1.Condition{
		Type:               string(gatewayv1.RouteConditionResolvedRefs),
		Status:             metav1.ConditionTrue,
		ObservedGeneration: hr.Generation,
		Reason:             string(gatewayv1.RouteReasonResolvedRefs),
		Message:            "All references resolved",
	}
	if backendErr != nil {
		resolved.Status = metav1.ConditionFalse
		resolved.Reason = string(gatewayv1.RouteReasonBackendNotFound)
		resolved.Message = backendErr.Message
	}

	changed := false
	for _, ref := range hr.Spec.ParentRefs {
		if !isGatewayRef(ref) {
			continue
		}
		accepted := metav1.Condition{
			Type:               string(gatewayv1.RouteConditionAccepted),
			Status:             metav1.ConditionTrue,
			ObservedGeneration: hr.Generation,
			Reason:             string(gatewayv1.RouteReasonAccepted),
			Message:            "Route accepted",
		}
		if routeErr != nil {
			accepted.Status = metav1.ConditionFalse
			accepted.Reason = string(gatewayv1.RouteReasonUnsupportedValue)
			accepted.Message = routeErr.Message
		} else if reason, ok := u.parentRejection(r, ref, errs); ok {
			accepted.Status = metav1.ConditionFalse
			accepted.Reason = reason
			accepted.Message = "Route not admitted by parent"
		}

		idx := -1
		for i := range hr.Status.Parents {
			if isSameParentRef(hr.Status.Parents[i].ParentRef, ref) &&
				string(hr.Status.Parents[i].ControllerName) == u.controllerName {
				idx = i
				break
			}
		}
		if idx < 0 {
			hr.Status.Parents = append(hr.Status.Parents, gatewayv1.RouteParentStatus{
				ParentRef:      ref,
				ControllerName: gatewayv1.GatewayController(u.controllerName),
			})
			idx = len(hr.Status.Parents) - 1
			changed = true
		}
		ps := &hr.Status.Parents[idx]
		if meta.SetStatusCondition(&ps.Conditions, accepted) {
			changed = true
		}
		if meta.SetStatusCondition(&ps.Conditions, resolved) {
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return u.client.Status().Patch(ctx, &hr, patch)
}

// parentRejection reports whether every listener the parent ref selects
// rejected the route, and the Gateway API reason for it.
func (u *StatusWriter) parentRejection(r *model.Route, ref gatewayv1.ParentReference, errs []compiler.ResourceError) (string, bool) {
	pr := model.ParentRef{Name: string(ref.Name)}
	if ref.Namespace != nil {
		pr.Namespace = string(*ref.Namespace)
	}
	if ref.SectionName != nil {
		pr.SectionName = string(*ref.SectionName)
	}
	parent := r.ParentKey(pr)

	selected := 1
	if gw, ok := u.resources.GetGateway(parent); ok && pr.SectionName == "" {
		selected = len(gw.Listeners)
	}
	rejected := make(map[string]bool)
	first := ""
	for _, e := range errs {
		if e.Kind != compiler.AttachmentRejected || e.Parent != parent {
			continue
		}
		if pr.SectionName != "" && e.Listener != pr.SectionName {
			continue
		}
		if len(rejected) == 0 {
			first = e.Reason
		}
		rejected[e.Listener] = true
	}
	if len(rejected) == 0 || len(rejected) < selected {
		return "", false
	}
	return routeReason(first), true
}

// routeReason maps attachment reasons onto Gateway API route reasons.
func routeReason(reason string) string {
	switch reason {
	case attach.ReasonNoMatchingHostname:
		return string(gatewayv1.RouteReasonNoMatchingListenerHostname)
	case attach.ReasonNoMatchingParent:
		return string(gatewayv1.RouteReasonNoMatchingParent)
	default:
		return string(gatewayv1.RouteReasonNotAllowedByListeners)
	}
}

func isSameParentRef(a, b gatewayv1.ParentReference) bool {
	str := func(p *gatewayv1.SectionName) string {
		if p == nil {
			return ""
		}
		return string(*p)
	}
	ns := func(p *gatewayv1.Namespace) string {
		if p == nil {
			return ""
		}
		return string(*p)
	}
	return a.Name == b.Name && ns(a.Namespace) == ns(b.Namespace) && str(a.SectionName) == str(b.SectionName)
}
