package ingress

import (
	"context"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	discoveryv1 "k8s.io/api/discovery/v1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/handler"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	"github.com/wudi/routeplane/internal/logging"
)

// EndpointSliceReconciler resolves Services from their EndpointSlices into
// the endpoint cache. It is keyed by Service; slice events are mapped to
// their owning Service.
type EndpointSliceReconciler struct {
	client    client.Client
	endpoints *Endpoints
	notifier  notifier
}

// NewEndpointSliceReconciler registers the EndpointSlice reconciler with the manager.
func NewEndpointSliceReconciler(mgr ctrl.Manager, endpoints *Endpoints, n notifier) error {
	r := &EndpointSliceReconciler{
		client:    mgr.GetClient(),
		endpoints: endpoints,
		notifier:  n,
	}
	return ctrl.NewControllerManagedBy(mgr).
		Named("endpointslice").
		For(&corev1.Service{}).
		Watches(&discoveryv1.EndpointSlice{}, handler.EnqueueRequestsFromMapFunc(sliceToService)).
		Complete(r)
}

func (r *EndpointSliceReconciler) Reconcile(ctx context.Context, req reconcile.Request) (reconcile.Result, error) {
	var svc corev1.Service
	if err := r.client.Get(ctx, req.NamespacedName, &svc); err != nil {
		if client.IgnoreNotFound(err) == nil {
			if r.endpoints.Delete(req.NamespacedName) {
				logging.Debug("service removed", zap.String("service", req.String()))
				r.notifier.TriggerReload()
			}
			return reconcile.Result{}, nil
		}
		return reconcile.Result{}, err
	}

	var slices discoveryv1.EndpointSliceList
	if err := r.client.List(ctx, &slices,
		client.InNamespace(svc.Namespace),
		client.MatchingLabels{discoveryv1.LabelServiceName: svc.Name},
	); err != nil {
		return reconcile.Result{}, err
	}

	if r.endpoints.Set(req.NamespacedName, BuildServiceEndpoints(&svc, slices.Items)) {
		logging.Debug("service endpoints updated",
			zap.String("service", req.String()),
			zap.Int("slices", len(slices.Items)),
		)
		r.notifier.TriggerReload()
	}
	return reconcile.Result{}, nil
}

// sliceToService maps an EndpointSlice to the Service it belongs to.
func sliceToService(_ context.Context, obj client.Object) []reconcile.Request {
	name := obj.GetLabels()[discoveryv1.LabelServiceName]
	if name == "" {
		return nil
	}
	return []reconcile.Request{{NamespacedName: client.ObjectKey{Namespace: obj.GetNamespace(), Name: name}}}
}
