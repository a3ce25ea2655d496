package ingress

import (
	"context"
	"testing"

	discoveryv1 "k8s.io/api/discovery/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"
	gatewayv1 "sigs.k8s.io/gateway-api/apis/v1"

	"github.com/wudi/routeplane/internal/model"
	"github.com/wudi/routeplane/internal/store"
)

const testController = "routeplane.io/gateway-controller"

type countingNotifier struct{ n int }

func (c *countingNotifier) TriggerReload() { c.n++ }

func newFakeClient(objs ...client.Object) client.Client {
	return fake.NewClientBuilder().
		WithScheme(scheme).
		WithObjects(objs...).
		WithStatusSubresource(&gatewayv1.GatewayClass{}, &gatewayv1.Gateway{}, &gatewayv1.HTTPRoute{}).
		Build()
}

func testClass(name, controller string) *gatewayv1.GatewayClass {
	return &gatewayv1.GatewayClass{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Spec:       gatewayv1.GatewayClassSpec{ControllerName: gatewayv1.GatewayController(controller)},
	}
}

func testGateway(name, class string) *gatewayv1.Gateway {
	return &gatewayv1.Gateway{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "default", Generation: 1},
		Spec: gatewayv1.GatewaySpec{
			GatewayClassName: gatewayv1.ObjectName(class),
			Listeners: []gatewayv1.Listener{
				{Name: "http", Port: 80, Protocol: gatewayv1.HTTPProtocolType},
			},
		},
	}
}

func testRoute(name, parent string) *gatewayv1.HTTPRoute {
	return &gatewayv1.HTTPRoute{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "default", Generation: 1},
		Spec: gatewayv1.HTTPRouteSpec{
			CommonRouteSpec: gatewayv1.CommonRouteSpec{
				ParentRefs: []gatewayv1.ParentReference{{Name: gatewayv1.ObjectName(parent)}},
			},
			Rules: []gatewayv1.HTTPRouteRule{{
				BackendRefs: []gatewayv1.HTTPBackendRef{{BackendRef: gatewayv1.BackendRef{
					BackendObjectReference: gatewayv1.BackendObjectReference{Name: "web", Port: ptr(gatewayv1.PortNumber(80))},
				}}},
			}},
		},
	}
}

func request(ns, name string) reconcile.Request {
	return reconcile.Request{NamespacedName: client.ObjectKey{Namespace: ns, Name: name}}
}

func TestGatewayReconcilerFiltersByClass(t *testing.T) {
	c := newFakeClient(
		testClass("ours", testController),
		testClass("theirs", "example.com/other"),
		testGateway("main", "ours"),
		testGateway("foreign", "theirs"),
	)
	resources := store.New()
	n := &countingNotifier{}
	r := &GatewayReconciler{client: c, resources: resources, notifier: n, controllerName: testController}
	ctx := context.Background()

	if _, err := r.Reconcile(ctx, request("default", "main")); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Reconcile(ctx, request("default", "foreign")); err != nil {
		t.Fatal(err)
	}
	if _, ok := resources.GetGateway(model.Key("default", "main")); !ok {
		t.Error("gateway of our class must be stored")
	}
	if _, ok := resources.GetGateway(model.Key("default", "foreign")); ok {
		t.Error("gateway of a foreign class must not be stored")
	}
	if n.n != 1 {
		t.Errorf("expected 1 notification, got %d", n.n)
	}

	// Unchanged reconcile is a no-op.
	if _, err := r.Reconcile(ctx, request("default", "main")); err != nil {
		t.Fatal(err)
	}
	if n.n != 1 {
		t.Errorf("unchanged gateway must not notify, got %d", n.n)
	}

	if err := c.Delete(ctx, testGateway("main", "ours")); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Reconcile(ctx, request("default", "main")); err != nil {
		t.Fatal(err)
	}
	if _, ok := resources.GetGateway(model.Key("default", "main")); ok || n.n != 2 {
		t.Errorf("deleted gateway must be removed and notified (notifications %d)", n.n)
	}
}

func TestGatewayReconcilerClassToGateways(t *testing.T) {
	c := newFakeClient(testGateway("a", "ours"), testGateway("b", "theirs"))
	r := &GatewayReconciler{client: c, controllerName: testController}
	reqs := r.classToGateways(context.Background(), testClass("ours", testController))
	if len(reqs) != 1 || reqs[0].Name != "a" {
		t.Errorf("unexpected requests %+v", reqs)
	}
}

func TestHTTPRouteReconciler(t *testing.T) {
	c := newFakeClient(
		testClass("ours", testController),
		testGateway("main", "ours"),
		testRoute("api", "main"),
		testRoute("elsewhere", "missing"),
	)
	resources := store.New()
	n := &countingNotifier{}
	r := &HTTPRouteReconciler{client: c, resources: resources, notifier: n, controllerName: testController}
	ctx := context.Background()

	for _, name := range []string{"api", "elsewhere"} {
		if _, err := r.Reconcile(ctx, request("default", name)); err != nil {
			t.Fatal(err)
		}
	}
	route, ok := resources.GetRoute(model.Key("default", "api"))
	if !ok {
		t.Fatal("route referencing our gateway must be stored")
	}
	if route.Rules[0].UniqueID != "default/api/rule-0" || route.Rules[0].Backends[0].Name != "web" {
		t.Errorf("unexpected translated route %+v", route)
	}
	if _, ok := resources.GetRoute(model.Key("default", "elsewhere")); ok {
		t.Error("route without our gateway must not be stored")
	}
	if n.n != 1 {
		t.Errorf("expected 1 notification, got %d", n.n)
	}

	reqs := r.gatewayToHTTPRoutes(ctx, testGateway("main", "ours"))
	if len(reqs) != 1 || reqs[0].Name != "api" {
		t.Errorf("unexpected gateway mapping %+v", reqs)
	}
}

func TestEndpointSliceReconciler(t *testing.T) {
	slice := testSlice("web", "web-abc", true, "10.0.0.1")
	c := newFakeClient(testService("web"), &slice)
	e := NewEndpoints()
	n := &countingNotifier{}
	r := &EndpointSliceReconciler{client: c, endpoints: e, notifier: n}
	ctx := context.Background()

	if _, err := r.Reconcile(ctx, request("default", "web")); err != nil {
		t.Fatal(err)
	}
	eps, err := e.Resolve(ctx, "default", model.BackendRef{Name: "web", Port: 80})
	if err != nil || len(eps) != 1 || eps[0].Address != "10.0.0.1" {
		t.Fatalf("unexpected endpoints %+v (%v)", eps, err)
	}
	if n.n != 1 {
		t.Errorf("expected 1 notification, got %d", n.n)
	}

	if err := c.Delete(ctx, testService("web")); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Reconcile(ctx, request("default", "web")); err != nil {
		t.Fatal(err)
	}
	if _, ok := e.Get(model.Key("default", "web")); ok || n.n != 2 {
		t.Errorf("deleted service must be dropped and notified (notifications %d)", n.n)
	}
}

func TestSliceToService(t *testing.T) {
	slice := testSlice("web", "web-abc", true)
	reqs := sliceToService(context.Background(), &slice)
	if len(reqs) != 1 || reqs[0].NamespacedName != (client.ObjectKey{Namespace: "default", Name: "web"}) {
		t.Errorf("unexpected requests %+v", reqs)
	}
	unlabeled := &discoveryv1.EndpointSlice{ObjectMeta: metav1.ObjectMeta{Name: "x", Namespace: "default"}}
	if reqs := sliceToService(context.Background(), unlabeled); len(reqs) != 0 {
		t.Errorf("unlabeled slice must map to nothing, got %+v", reqs)
	}
}
