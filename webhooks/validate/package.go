package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-logr/logr"
	v1 "k8s.io/api/admission/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	appsv1alpha1 "cloudfoundry.org/cf-staging/api/v1alpha1"
	"cloudfoundry.org/cf-staging/messages"
)

/*
		For how to configure the Webhook with kubeapi
	    See: https://docs.giantswarm.io/advanced/custom-admission-controller/
*/

// PackageValidator applies the package create rules of the v3 API to Package objects written
// straight to the cluster.
type PackageValidator struct {
	// This is a Kuberentes client, contains authentication and context stuff for running K8s queries
	KubeClient client.Client
	Logger     logr.Logger
}

func (p *PackageValidator) PackageValidation(w http.ResponseWriter, r *http.Request) {
	arRequest := v1.AdmissionReview{}

	var body []byte
	if r.Body != nil {
		if data, err := io.ReadAll(r.Body); err == nil {
			body = data
		}
	}

	if err := json.Unmarshal(body, &arRequest); err != nil || arRequest.Request == nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode("Bad Request")
		return
	}

	var pkg appsv1alpha1.Package
	if err := json.Unmarshal(arRequest.Request.Object.Raw, &pkg); err != nil {
		p.Logger.Error(err, "error deserializing package")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode("Bad Request")
		return
	}
	if pkg.Namespace == "" {
		pkg.Namespace = arRequest.Request.Namespace
	}

	var old *appsv1alpha1.Package
	if arRequest.Request.Operation == v1.Update && len(arRequest.Request.OldObject.Raw) > 0 {
		old = &appsv1alpha1.Package{}
		if err := json.Unmarshal(arRequest.Request.OldObject.Raw, old); err != nil {
			p.Logger.Error(err, "error deserializing old package")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode("Bad Request")
			return
		}
	}

	response := &v1.AdmissionResponse{UID: arRequest.Request.UID, Allowed: true}
	if reason := p.validate(r.Context(), &pkg, old); reason != "" {
		p.Logger.Info("rejecting package", "package", pkg.Name, "reason", reason)
		response.Allowed = false
		response.Result = &metav1.Status{Message: reason}
	}

	arResponse := v1.AdmissionReview{
		TypeMeta: metav1.TypeMeta{
			Kind:       "AdmissionReview",
			APIVersion: "admission.k8s.io/v1",
		},
		Response: response,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(&arResponse); err != nil {
		p.Logger.Error(err, "can't write response")
	}
}

// validate returns why pkg may not be admitted, or "" when it may.
func (p *PackageValidator) validate(ctx context.Context, pkg, old *appsv1alpha1.Package) string {
	if old != nil {
		if old.Spec.Type != pkg.Spec.Type || old.Spec.URL != pkg.Spec.URL || old.Spec.AppRef.Name != pkg.Spec.AppRef.Name {
			return "Package type, url and app may not be changed"
		}
		return ""
	}

	fields := map[string]interface{}{"type": string(pkg.Spec.Type)}
	if pkg.Spec.URL != "" {
		fields["url"] = pkg.Spec.URL
	}
	body, err := json.Marshal(fields)
	if err != nil {
		return err.Error()
	}
	if ok, errs := messages.NewPackageCreateMessage(pkg.Spec.AppRef.Name, body).Validate(); !ok {
		return strings.Join(errs, ", ")
	}

	var app appsv1alpha1.App
	err = p.KubeClient.Get(ctx, client.ObjectKey{Namespace: pkg.Namespace, Name: pkg.Spec.AppRef.Name}, &app)
	if apierrors.IsNotFound(err) {
		return fmt.Sprintf("App %s not found in space %s", pkg.Spec.AppRef.Name, pkg.Namespace)
	}
	if err != nil {
		return fmt.Sprintf("error fetching app: %v", err)
	}
	return ""
}
