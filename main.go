/*
Copyright 2021.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"flag"
	"net/http"
	"os"

	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	// to ensure that exec-entrypoint and run can make use of them.
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	eiriniv1 "code.cloudfoundry.org/eirini/pkg/apis/eirini/v1"
	"github.com/gorilla/mux"
	buildv1alpha1 "github.com/pivotal/kpack/pkg/apis/build/v1alpha1"
	"github.com/pivotal/kpack/pkg/dockercreds/k8sdockercreds"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/client-go/kubernetes"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/manager"

	appsv1alpha1 "cloudfoundry.org/cf-staging/api/v1alpha1"
	"cloudfoundry.org/cf-staging/authz"
	"cloudfoundry.org/cf-staging/blobstore"
	"cloudfoundry.org/cf-staging/buildpacks"
	"cloudfoundry.org/cf-staging/bus"
	"cloudfoundry.org/cf-staging/cfshim/handlers"
	"cloudfoundry.org/cf-staging/controllers"
	"cloudfoundry.org/cf-staging/jobs"
	"cloudfoundry.org/cf-staging/orchestrator"
	"cloudfoundry.org/cf-staging/runners"
	"cloudfoundry.org/cf-staging/settings"
	"cloudfoundry.org/cf-staging/staging"
	"cloudfoundry.org/cf-staging/store"
	//+kubebuilder:scaffold:imports
)

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))

	utilruntime.Must(appsv1alpha1.AddToScheme(scheme))
	utilruntime.Must(buildv1alpha1.AddToScheme(scheme))
	utilruntime.Must(eiriniv1.AddToScheme(scheme))
	//+kubebuilder:scaffold:scheme
}

func main() {
	var metricsAddr string
	var enableLeaderElection bool
	var probeAddr string
	var shimAddr string
	var externalURL string
	flag.StringVar(&metricsAddr, "metrics-bind-address", ":8080", "The address the metric endpoint binds to.")
	flag.StringVar(&probeAddr, "health-probe-bind-address", ":8081", "The address the probe endpoint binds to.")
	flag.StringVar(&shimAddr, "shim-bind-address", ":9000", "The address the CF API shim binds to.")
	flag.StringVar(&externalURL, "external-url", "http://localhost:9000", "The URL clients reach the CF API shim on.")
	flag.BoolVar(&enableLeaderElection, "leader-elect", false,
		"Enable leader election for controller manager. "+
			"Enabling this will ensure there is only one active controller manager.")
	opts := zap.Options{
		Development: true,
	}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	// defaults, then the optional config file, then env variables
	cfg, err := settings.Load()
	if err != nil {
		setupLog.Error(err, "error loading settings")
		os.Exit(1)
	}

	restConfig := ctrl.GetConfigOrDie()
	mgr, err := ctrl.NewManager(restConfig, ctrl.Options{
		Scheme:                 scheme,
		MetricsBindAddress:     metricsAddr,
		Port:                   9443,
		HealthProbeBindAddress: probeAddr,
		LeaderElection:         enableLeaderElection,
		LeaderElectionID:       "5c01fff0.cloudfoundry.org",
	})
	if err != nil {
		setupLog.Error(err, "unable to start manager")
		os.Exit(1)
	}

	ctx := ctrl.SetupSignalHandler()

	records := store.New(mgr.GetClient())

	queues := jobs.NewQueues(ctrl.Log.WithName("jobs"))
	queues.Add(jobs.LocalQueue, cfg.Queues.LocalWorkers, 100)
	queues.Add(jobs.GenericQueue, cfg.Queues.GenericWorkers, 100)
	if err := mgr.Add(manager.RunnableFunc(queues.Start)); err != nil {
		setupLog.Error(err, "unable to add job queues")
		os.Exit(1)
	}

	blobs, err := blobstore.New(ctx, cfg.Blobstore)
	if err != nil {
		setupLog.Error(err, "unable to configure blobstore")
		os.Exit(1)
	}

	var messageBus bus.MessageBus
	if cfg.Staging.Backend != settings.KpackBackend {
		natsBus, err := bus.Connect(cfg.Bus.NatsURL, ctrl.Log.WithName("bus"))
		if err != nil {
			setupLog.Error(err, "unable to connect to message bus")
			os.Exit(1)
		}
		defer natsBus.Close()
		messageBus = natsBus
	}

	catalog := &buildpacks.Catalog{Client: mgr.GetClient()}

	backend, err := staging.NewBackend(cfg, staging.Dependencies{
		Bus:        messageBus,
		URLs:       blobs,
		Buildpacks: catalog,
		Client:     mgr.GetClient(),
	})
	if err != nil {
		setupLog.Error(err, "unable to create staging backend")
		os.Exit(1)
	}
	dispatcher := staging.NewDispatcher(backend)

	stager := &staging.Stager{
		Store:      records,
		Dispatcher: dispatcher,
		Config:     cfg.Staging,
		Logger:     ctrl.Log.WithName("staging").WithValues("backend", backend.Name()),
	}

	completion := &staging.CompletionHandler{
		Store:      records,
		Dispatcher: dispatcher,
		Buildpacks: catalog,
		Runners: &runners.Runners{
			Processes: &runners.ProcessRunner{Client: mgr.GetClient()},
			LRPs:      &runners.LRPRunner{Client: mgr.GetClient()},
		},
		Recorder: mgr.GetEventRecorderFor("cf-staging"),
		Logger:   ctrl.Log.WithName("staging").WithValues("backend", backend.Name()),
	}

	if subject := backend.CompletionSubject(); subject != "" {
		if _, err := messageBus.Subscribe(subject, completion.BusHandler(ctx)); err != nil {
			setupLog.Error(err, "unable to subscribe to staging completions", "subject", subject)
			os.Exit(1)
		}
	}

	if err = (&controllers.AppStagingReconciler{
		Client: mgr.GetClient(),
		Scheme: mgr.GetScheme(),
		Stager: stager,
	}).SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "AppStaging")
		os.Exit(1)
	}

	if cfg.Staging.Backend == settings.KpackBackend {
		keychainFactory, err := k8sdockercreds.NewSecretKeychainFactory(kubernetes.NewForConfigOrDie(restConfig))
		if err != nil {
			setupLog.Error(err, "unable to create registry keychain factory")
			os.Exit(1)
		}
		if err = (&controllers.KpackBuildReconciler{
			Client:      mgr.GetClient(),
			Scheme:      mgr.GetScheme(),
			Completion:  completion,
			ImageConfig: &controllers.RegistryImageConfigFetcher{KeychainFactory: keychainFactory},
		}).SetupWithManager(mgr); err != nil {
			setupLog.Error(err, "unable to create controller", "controller", "KpackBuild")
			os.Exit(1)
		}
	}
	//+kubebuilder:scaffold:builder

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up health check")
		os.Exit(1)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up ready check")
		os.Exit(1)
	}

	shimLog := ctrl.Log.WithName("shim")
	// TODO: derive the access context from the caller's UAA token once the shim authenticates requests
	access := func(*http.Request) authz.AccessContext { return authz.Admin() }

	router := mux.NewRouter()
	(&handlers.RootHandler{ExternalURL: externalURL}).RegisterRoutes(router)
	(&handlers.PackageHandler{
		Packages: &orchestrator.PackagesHandler{
			Store:  records,
			Jobs:   queues,
			Blobs:  blobs,
			Logger: ctrl.Log.WithName("packages"),
		},
		Access:    access,
		Logger:    shimLog,
		UploadDir: os.TempDir(),
	}).RegisterRoutes(router)
	(&handlers.DropletHandler{
		Droplets: &orchestrator.DropletsHandler{
			Store:  records,
			Stager: stager,
		},
		Access:  access,
		Staging: cfg.Staging,
		Logger:  shimLog,
	}).RegisterRoutes(router)

	if err := mgr.Add(manager.RunnableFunc(func(ctx context.Context) error {
		return serve(ctx, shimAddr, router)
	})); err != nil {
		setupLog.Error(err, "unable to add shim server")
		os.Exit(1)
	}

	setupLog.Info("starting manager", "backend", backend.Name())
	if err := mgr.Start(ctx); err != nil {
		setupLog.Error(err, "problem running manager")
		os.Exit(1)
	}
}

func serve(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{Addr: addr, Handler: handler}
	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()

	setupLog.Info("starting shim handler", "addr", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
