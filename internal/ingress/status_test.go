package ingress

import (
	"context"
	"testing"

	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	gatewayv1 "sigs.k8s.io/gateway-api/apis/v1"

	"github.com/wudi/routeplane/internal/attach"
	"github.com/wudi/routeplane/internal/compiler"
	"github.com/wudi/routeplane/internal/model"
	"github.com/wudi/routeplane/internal/store"
)

func seededStatus(t *testing.T) (*StatusWriter, *store.Store, func(name string) *gatewayv1.HTTPRoute) {
	t.Helper()
	c := newFakeClient(
		testClass("ours", testController),
		testGateway("main", "ours"),
		testRoute("api", "main"),
		testRoute("broken", "main"),
	)
	resources := store.New()
	gw, _ := TranslateGateway(testGateway("main", "ours"))
	resources.SetGateway(gw)
	for _, name := range []string{"api", "broken"} {
		r, _ := TranslateHTTPRoute(testRoute(name, "main"))
		resources.SetRoute(r)
	}
	w := NewStatusWriter(c, resources, testController, "203.0.113.10")
	get := func(name string) *gatewayv1.HTTPRoute {
		var hr gatewayv1.HTTPRoute
		if err := c.Get(context.Background(), model.Key("default", name), &hr); err != nil {
			t.Fatal(err)
		}
		return &hr
	}
	return w, resources, get
}

func parentCondition(t *testing.T, hr *gatewayv1.HTTPRoute, condType string) *metav1.Condition {
	t.Helper()
	if len(hr.Status.Parents) != 1 {
		t.Fatalf("expected 1 parent status, got %d", len(hr.Status.Parents))
	}
	ps := hr.Status.Parents[0]
	if string(ps.ControllerName) != testController {
		t.Errorf("unexpected controller name %q", ps.ControllerName)
	}
	c := meta.FindStatusCondition(ps.Conditions, condType)
	if c == nil {
		t.Fatalf("condition %s missing", condType)
	}
	return c
}

func TestWriteStatus(t *testing.T) {
	w, _, get := seededStatus(t)
	res := &compiler.Result{Errors: []compiler.ResourceError{
		{
			Kind:     compiler.UnresolvedBackend,
			Resource: compiler.KindRoute,
			Key:      model.Key("default", "api"),
			Message:  "service default/web not found",
		},
		{
			Kind:     compiler.AttachmentRejected,
			Resource: compiler.KindRoute,
			Key:      model.Key("default", "broken"),
			Parent:   model.Key("default", "main"),
			Listener: "http",
			Reason:   attach.ReasonNoMatchingHostname,
		},
	}}
	if err := w.WriteStatus(context.Background(), res); err != nil {
		t.Fatalf("WriteStatus: %v", err)
	}

	api := get("api")
	if c := parentCondition(t, api, string(gatewayv1.RouteConditionAccepted)); c.Status != metav1.ConditionTrue {
		t.Errorf("api must be accepted, got %+v", c)
	}
	if c := parentCondition(t, api, string(gatewayv1.RouteConditionResolvedRefs)); c.Status != metav1.ConditionFalse ||
		c.Reason != string(gatewayv1.RouteReasonBackendNotFound) {
		t.Errorf("api refs must be unresolved, got %+v", c)
	}

	broken := get("broken")
	if c := parentCondition(t, broken, string(gatewayv1.RouteConditionAccepted)); c.Status != metav1.ConditionFalse ||
		c.Reason != string(gatewayv1.RouteReasonNoMatchingListenerHostname) {
		t.Errorf("broken must be rejected for hostname, got %+v", c)
	}

	var gw gatewayv1.Gateway
	if err := w.client.Get(context.Background(), model.Key("default", "main"), &gw); err != nil {
		t.Fatal(err)
	}
	if !meta.IsStatusConditionTrue(gw.Status.Conditions, string(gatewayv1.GatewayConditionAccepted)) ||
		!meta.IsStatusConditionTrue(gw.Status.Conditions, string(gatewayv1.GatewayConditionProgrammed)) {
		t.Errorf("gateway must be accepted and programmed, got %+v", gw.Status.Conditions)
	}
	if len(gw.Status.Addresses) != 1 || gw.Status.Addresses[0].Value != "203.0.113.10" ||
		*gw.Status.Addresses[0].Type != gatewayv1.IPAddressType {
		t.Errorf("unexpected gateway addresses %+v", gw.Status.Addresses)
	}
}

func TestWriteStatusIsIdempotent(t *testing.T) {
	w, _, get := seededStatus(t)
	ctx := context.Background()
	if err := w.WriteStatus(ctx, &compiler.Result{}); err != nil {
		t.Fatal(err)
	}
	before := get("api").ResourceVersion
	if err := w.WriteStatus(ctx, &compiler.Result{}); err != nil {
		t.Fatal(err)
	}
	if after := get("api").ResourceVersion; after != before {
		t.Errorf("unchanged status must not be patched (%s -> %s)", before, after)
	}
}

func TestWriteStatusMissingObject(t *testing.T) {
	w, resources, _ := seededStatus(t)
	ghost, _ := TranslateHTTPRoute(testRoute("ghost", "main"))
	resources.SetRoute(ghost)
	if err := w.WriteStatus(context.Background(), &compiler.Result{}); err == nil {
		t.Error("expected an error for a route missing from the API server")
	}
}

func TestUpdateGatewayClassStatus(t *testing.T) {
	w, _, _ := seededStatus(t)
	ctx := context.Background()
	var gc gatewayv1.GatewayClass
	if err := w.client.Get(ctx, model.Key("", "ours"), &gc); err != nil {
		t.Fatal(err)
	}
	if err := w.UpdateGatewayClassStatus(ctx, &gc); err != nil {
		t.Fatal(err)
	}
	if err := w.client.Get(ctx, model.Key("", "ours"), &gc); err != nil {
		t.Fatal(err)
	}
	if !meta.IsStatusConditionTrue(gc.Status.Conditions, string(gatewayv1.GatewayClassConditionStatusAccepted)) {
		t.Errorf("expected Accepted condition, got %+v", gc.Status.Conditions)
	}
}

func TestIsSameParentRef(t *testing.T) {
	a := gatewayv1.ParentReference{Name: "main"}
	b := gatewayv1.ParentReference{Name: "main", SectionName: ptr(gatewayv1.SectionName("http"))}
	if !isSameParentRef(a, a) || isSameParentRef(a, b) {
		t.Error("section name must distinguish parent refs")
	}
}
