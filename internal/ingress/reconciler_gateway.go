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

// notifier is told about every effective store change.
type notifier interface {
	TriggerReload()
}

// leaderCheck gates status writes performed outside the reconciler.
type leaderCheck interface {
	IsLeader() bool
}

// GatewayReconciler mirrors Gateways of our GatewayClasses into the store.
type GatewayReconciler struct {
	client         client.Client
	resources      *store.Store
	notifier       notifier
	controllerName string
}

// NewGatewayReconciler registers the GatewayClass and Gateway reconcilers
// with the manager.
func NewGatewayReconciler(mgr ctrl.Manager, resources *store.Store, n notifier, elector leaderCheck, status *StatusWriter, controllerName string) error {
	r := &GatewayReconciler{
		client:         mgr.GetClient(),
		resources:      resources,
		notifier:       n,
		controllerName: controllerName,
	}

	if err := ctrl.NewControllerManagedBy(mgr).
		For(&gatewayv1.GatewayClass{}, builder.WithPredicates(predicate.GenerationChangedPredicate{})).
		Complete(&gatewayClassReconciler{
			client:         mgr.GetClient(),
			controllerName: controllerName,
			elector:        elector,
			status:         status,
		}); err != nil {
		return err
	}

	return ctrl.NewControllerManagedBy(mgr).
		For(&gatewayv1.Gateway{}, builder.WithPredicates(predicate.GenerationChangedPredicate{})).
		Watches(&gatewayv1.GatewayClass{}, handler.EnqueueRequestsFromMapFunc(r.classToGateways)).
		Complete(r)
}

// gatewayClassReconciler accepts GatewayClasses naming our controller.
type gatewayClassReconciler struct {
	client         client.Client
	controllerName string
	elector        leaderCheck
	status         *StatusWriter
}

func (r *gatewayClassReconciler) Reconcile(ctx context.Context, req reconcile.Request) (reconcile.Result, error) {
	var gc gatewayv1.GatewayClass
	if err := r.client.Get(ctx, req.NamespacedName, &gc); err != nil {
		return reconcile.Result{}, client.IgnoreNotFound(err)
	}
	if string(gc.Spec.ControllerName) != r.controllerName {
		return reconcile.Result{}, nil
	}
	if r.elector != nil && r.elector.IsLeader() && r.status != nil {
		if err := r.status.UpdateGatewayClassStatus(ctx, &gc); err != nil {
			logging.Warn("failed to update GatewayClass status", zap.String("gatewayclass", gc.Name), zap.Error(err))
		}
	}
	return reconcile.Result{}, nil
}

func (r *GatewayReconciler) Reconcile(ctx context.Context, req reconcile.Request) (reconcile.Result, error) {
	key := model.ObjectKey(req.NamespacedName)

	var gw gatewayv1.Gateway
	if err := r.client.Get(ctx, req.NamespacedName, &gw); err != nil {
		if client.IgnoreNotFound(err) == nil {
			r.forget(key)
			return reconcile.Result{}, nil
		}
		return reconcile.Result{}, err
	}

	owned, err := ownsClass(ctx, r.client, string(gw.Spec.GatewayClassName), r.controllerName)
	if err != nil {
		return reconcile.Result{}, err
	}
	if !owned {
		r.forget(key)
		return reconcile.Result{}, nil
	}

	translated, warnings := TranslateGateway(&gw)
	for _, w := range warnings {
		logging.Warn("gateway translation warning", zap.String("warning", w))
	}
	if cur, ok := r.resources.GetGateway(key); ok && reflect.DeepEqual(cur, translated) {
		return reconcile.Result{}, nil
	}
	logging.Debug("gateway updated", zap.String("gateway", key.String()))
	r.resources.SetGateway(translated)
	r.notifier.TriggerReload()
	return reconcile.Result{}, nil
}

func (r *GatewayReconciler) forget(key model.ObjectKey) {
	if _, ok := r.resources.GetGateway(key); !ok {
		return
	}
	logging.Debug("gateway removed", zap.String("gateway", key.String()))
	r.resources.DeleteGateway(key)
	r.notifier.TriggerReload()
}

// classToGateways re-reconciles the Gateways of a changed GatewayClass.
func (r *GatewayReconciler) classToGateways(ctx context.Context, obj client.Object) []reconcile.Request {
	var list gatewayv1.GatewayList
	if err := r.client.List(ctx, &list); err != nil {
		logging.Warn("failed to list gateways", zap.Error(err))
		return nil
	}
	var out []reconcile.Request
	for i := range list.Items {
		gw := &list.Items[i]
		if string(gw.Spec.GatewayClassName) == obj.GetName() {
			out = append(out, reconcile.Request{NamespacedName: client.ObjectKeyFromObject(gw)})
		}
	}
	return out
}

// ownsClass reports whether the named GatewayClass belongs to controllerName.
func ownsClass(ctx context.Context, c client.Client, className, controllerName string) (bool, error) {
	var gc gatewayv1.GatewayClass
	if err := c.Get(ctx, client.ObjectKey{Name: className}, &gc); err != nil {
		return false, client.IgnoreNotFound(err)
	}
	return string(gc.Spec.ControllerName) == controllerName, nil
}

// ownsGateway reports whether the Gateway exists and belongs to controllerName.
func ownsGateway(ctx context.Context, c client.Client, key model.ObjectKey, controllerName string) (bool, error) {
	var gw gatewayv1.Gateway
	if err := c.Get(ctx, key, &gw); err != nil {
		return false, client.IgnoreNotFound(err)
	}
	return ownsClass(ctx, c, string(gw.Spec.GatewayClassName), controllerName)
}
