package ingress

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"
	gatewayv1 "sigs.k8s.io/gateway-api/apis/v1"

	"github.com/wudi/routeplane/internal/logging"
	"github.com/wudi/routeplane/internal/store"
)

var scheme = runtime.NewScheme()

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(gatewayv1.Install(scheme))
}

// Options configures the Kubernetes resource source.
type Options struct {
	// ControllerName filters GatewayClasses.
	ControllerName string
	// Namespaces limits the namespaces watched (empty = all).
	Namespaces []string
	// Kubeconfig is an explicit kubeconfig path; empty uses in-cluster or
	// the default loading rules.
	Kubeconfig string
	// LeaderElection gates publishing and status writes on a lease.
	LeaderElection          bool
	LeaderElectionID        string
	LeaderElectionNamespace string
	// MetricsAddr and HealthAddr are the controller-runtime bind addresses;
	// "0" disables them.
	MetricsAddr string
	HealthAddr  string
	// StatusAddress is reported as the Gateway address.
	StatusAddress string
}

// Elector reports leadership as observed by the controller manager.
type Elector struct {
	leader atomic.Bool
}

// IsLeader implements publisher.Elector.
func (e *Elector) IsLeader() bool {
	return e.leader.Load()
}

// Controller runs the controller-runtime manager that feeds Gateway API
// resources into the store and EndpointSlices into the endpoint cache.
type Controller struct {
	opts      Options
	resources *store.Store
	endpoints *Endpoints
	manager   ctrl.Manager
	elector   *Elector
	status    *StatusWriter

	mu       sync.Mutex
	onChange []func()
}

// NewController creates the manager and registers the reconcilers.
func NewController(resources *store.Store, opts Options) (*Controller, error) {
	restCfg, err := restConfig(opts.Kubeconfig)
	if err != nil {
		return nil, err
	}

	mgrOpts := ctrl.Options{
		Scheme: scheme,
		Metrics: metricsserver.Options{
			BindAddress: opts.MetricsAddr,
		},
		HealthProbeBindAddress:  opts.HealthAddr,
		LeaderElection:          opts.LeaderElection,
		LeaderElectionID:        opts.LeaderElectionID,
		LeaderElectionNamespace: opts.LeaderElectionNamespace,
		Logger:                  logging.Logr(),
	}
	if len(opts.Namespaces) > 0 {
		namespaces := make(map[string]cache.Config, len(opts.Namespaces))
		for _, ns := range opts.Namespaces {
			namespaces[ns] = cache.Config{}
		}
		mgrOpts.Cache = cache.Options{DefaultNamespaces: namespaces}
	}

	mgr, err := ctrl.NewManager(restCfg, mgrOpts)
	if err != nil {
		return nil, err
	}
	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		return nil, err
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		return nil, err
	}

	c := &Controller{
		opts:      opts,
		resources: resources,
		endpoints: NewEndpoints(),
		manager:   mgr,
		elector:   &Elector{},
	}
	c.status = NewStatusWriter(mgr.GetClient(), resources, opts.ControllerName, opts.StatusAddress)

	if err := NewGatewayReconciler(mgr, resources, c, c.elector, c.status, opts.ControllerName); err != nil {
		return nil, err
	}
	if err := NewHTTPRouteReconciler(mgr, resources, c, opts.ControllerName); err != nil {
		return nil, err
	}
	if err := NewEndpointSliceReconciler(mgr, c.endpoints, c); err != nil {
		return nil, err
	}
	return c, nil
}

func restConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	return ctrl.GetConfig()
}

// OnChange registers a callback run after every effective resource change
// and once the informer caches are synced on the leader.
func (c *Controller) OnChange(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

// TriggerReload notifies the registered callbacks.
func (c *Controller) TriggerReload() {
	c.mu.Lock()
	callbacks := make([]func(), len(c.onChange))
	copy(callbacks, c.onChange)
	c.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

// Start runs the manager until ctx is cancelled or leadership is lost.
func (c *Controller) Start(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-c.manager.Elected():
		}
		if !c.manager.GetCache().WaitForCacheSync(ctx) {
			return
		}
		c.elector.leader.Store(true)
		logging.Info("kubernetes caches synced, leading", zap.String("controller", c.opts.ControllerName))
		c.TriggerReload()
	}()
	err := c.manager.Start(ctx)
	c.elector.leader.Store(false)
	return err
}

// Elector returns the leadership view used to gate publishing.
func (c *Controller) Elector() *Elector {
	return c.elector
}

// Resolver returns the EndpointSlice-backed endpoint resolver.
func (c *Controller) Resolver() *Endpoints {
	return c.endpoints
}

// Source returns the reconcile source covering both resources and endpoints.
func (c *Controller) Source() *Source {
	return NewSource(c.resources, c.endpoints)
}

// StatusWriter returns the Gateway API status writer.
func (c *Controller) StatusWriter() *StatusWriter {
	return c.status
}
