package main

import (
	"flag"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/mux"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	_ "k8s.io/client-go/plugin/pkg/client/auth"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	appsv1alpha1 "cloudfoundry.org/cf-staging/api/v1alpha1"
	"cloudfoundry.org/cf-staging/webhooks/validate"
)

var scheme = runtime.NewScheme()

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))

	utilruntime.Must(appsv1alpha1.AddToScheme(scheme))

	//+kubebuilder:scaffold:scheme
}

func main() {
	var tlscert string
	var tlskey string
	var addr string

	flag.StringVar(&tlscert, "tlsCertFile", "/etc/certs/cert.pem", "File containing the x509 Certificate for HTTPS.")
	flag.StringVar(&tlskey, "tlsKeyFile", "/etc/certs/key.pem", "File containing the x509 private key to --tlsCertFile.")
	flag.StringVar(&addr, "listen-address", ":9082", "The address the validation webhook listens on.")
	opts := zap.Options{
		Development: true,
	}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	logger := zap.New(zap.UseFlagOptions(&opts)).WithName("package-webhook")

	config, err := loadConfig()
	if err != nil {
		logger.Error(err, "unable to load kube config")
		os.Exit(1)
	}

	// creates the kubeclient
	kubeclient, err := client.New(config, client.Options{Scheme: scheme})
	if err != nil {
		logger.Error(err, "unable to create kube client")
		os.Exit(1)
	}

	webhook := &validate.PackageValidator{
		KubeClient: kubeclient,
		Logger:     logger,
	}

	myRouter := mux.NewRouter()
	myRouter.HandleFunc("/validate/packages", webhook.PackageValidation).Methods("POST")

	logger.Info("starting package validation webhook", "address", addr)
	if err := http.ListenAndServeTLS(addr, tlscert, tlskey, myRouter); err != nil {
		logger.Error(err, "webhook server stopped")
		os.Exit(1)
	}
}

// loadConfig defaults to the in-cluster service account unless USE_KUBECONFIG is set.
func loadConfig() (*rest.Config, error) {
	if os.Getenv("USE_KUBECONFIG") == "" {
		return rest.InClusterConfig()
	}

	kubeconfig := os.Getenv("KUBECONFIG")
	if kubeconfig == "" {
		if home := homedir.HomeDir(); home != "" {
			kubeconfig = filepath.Join(home, ".kube", "config")
		}
	}
	return clientcmd.BuildConfigFromFlags("", kubeconfig)
}
