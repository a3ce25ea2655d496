package ingress

import (
	"context"
	"reflect"

	"go.uber.org/zap"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/builder"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/handler"
	"sigs.k8s.io/controller-runtime/pkg/predicate"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"
	gatewayv1 "sigs.k8s.io/gateway-api/apis/v1"

	"github.com/wudi/routeplane/internal/logging"
	"github.com/wudi/routeplane/internal/model"
	"github.com/wudi/routeplane/internal/store"
)

// HTTPRouteReconciler mirrors HTTPRoutes that reference one of our
// Gateways into the store.
type HTTPRouteReconciler struct {
	client         client.Client
	resources      *store.Store
	notifier       notifier
	controllerName string
}

// NewHTTPRouteReconciler registers the HTTPRoute reconciler with the manager.
func NewHTTPRouteReconciler(mgr ctrl.Manager, resources *store.Store, n notifier, controllerName string) error {
	r := &HTTPRouteReconciler{
		client:         mgr.GetClient(),
		resources:      resources,
		notifier:       n,
		controllerName: controllerName,
	}
	return ctrl.NewControllerManagedBy(mgr).
		For(&gatewayv1.HTTPRoute{}, builder.WithPredicates(predicate.GenerationChangedPredicate{})).
		Watches(&gatewayv1.Gateway{}, handler.EnqueueRequestsFromMapFunc(r.gatewayToHTTPRoutes),
			builder.WithPredicates(predicate.GenerationChangedPredicate{})).
		Complete(r)
}

func (r *HTTPRouteReconciler) Reconcile(ctx context.Context, req reconcile.Request) (reconcile.Result, error) {
	key := req.NamespacedName

	var hr gatewayv1.HTTPRoute
	if err := r.client.Get(ctx, key, &hr); err != nil {
		if client.IgnoreNotFound(err) == nil {
			r.forget(key)
			return reconcile.Result{}, nil
		}
		return reconcile.Result{}, err
	}

	ours, err := r.referencesOurGateway(ctx, &hr)
	if err != nil {
		return reconcile.Result{}, err
	}
	if !ours {
		r.forget(key)
		return reconcile.Result{}, nil
	}

	translated, warnings := TranslateHTTPRoute(&hr)
	for _, w := range warnings {
		logging.Warn("httproute translation warning", zap.String("warning", w))
	}
	if cur, ok := r.resources.GetRoute(key); ok && reflect.DeepEqual(cur, translated) {
		return reconcile.Result{}, nil
	}
	logging.Debug("httproute updated", zap.String("httproute", key.String()))
	r.resources.SetRoute(translated)
	r.notifier.TriggerReload()
	return reconcile.Result{}, nil
}

func (r *HTTPRouteReconciler) forget(key model.ObjectKey) {
	if _, ok := r.resources.GetRoute(key); !ok {
		return
	}
	logging.Debug("httproute removed", zap.String("httproute", key.String()))
	r.resources.DeleteRoute(key)
	r.notifier.TriggerReload()
}

func (r *HTTPRouteReconciler) referencesOurGateway(ctx context.Context, hr *gatewayv1.HTTPRoute) (bool, error) {
	for _, ref := range hr.Spec.ParentRefs {
		if !isGatewayRef(ref) {
			continue
		}
		owned, err := ownsGateway(ctx, r.client, parentKey(hr.Namespace, ref), r.controllerName)
		if err != nil {
			return false, err
		}
		if owned {
			return true, nil
		}
	}
	return false, nil
}

// gatewayToHTTPRoutes re-reconciles the HTTPRoutes naming a changed Gateway,
// so routes created before their Gateway are picked up.
func (r *HTTPRouteReconciler) gatewayToHTTPRoutes(ctx context.Context, obj client.Object) []reconcile.Request {
	var list gatewayv1.HTTPRouteList
	if err := r.client.List(ctx, &list); err != nil {
		logging.Warn("failed to list httproutes", zap.Error(err))
		return nil
	}
	gwKey := client.ObjectKeyFromObject(obj)
	var out []reconcile.Request
	for i := range list.Items {
		hr := &list.Items[i]
		for _, ref := range hr.Spec.ParentRefs {
			if isGatewayRef(ref) && parentKey(hr.Namespace, ref) == gwKey {
				out = append(out, reconcile.Request{NamespacedName: client.ObjectKeyFromObject(hr)})
				break
			}
		}
	}
	return out
}

func parentKey(routeNamespace string, ref gatewayv1.ParentReference) model.ObjectKey {
	ns := routeNamespace
	if ref.Namespace != nil {
		ns = string(*ref.Namespace)
	}
	return model.Key(ns, string(ref.Name))
}
