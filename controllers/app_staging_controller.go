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

package controllers

import (
	"context"
	"errors"

	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	appsv1alpha1 "cloudfoundry.org/cf-staging/api/v1alpha1"
	"cloudfoundry.org/cf-staging/staging"
)

type AppStager interface {
	StageApp(ctx context.Context, app *appsv1alpha1.App) error
}

// AppStagingReconciler stages started apps that have never been staged. Clearing an
// app's packageState asks for it to be staged again.
type AppStagingReconciler struct {
	client.Client
	Scheme *runtime.Scheme
	Stager AppStager
}

//+kubebuilder:rbac:groups=apps.cloudfoundry.org,resources=apps,verbs=get;list;watch
//+kubebuilder:rbac:groups=apps.cloudfoundry.org,resources=apps/status,verbs=get;update;patch

func (r *AppStagingReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx)

	app := new(appsv1alpha1.App)
	if err := r.Get(ctx, req.NamespacedName, app); err != nil {
		return ctrl.Result{}, client.IgnoreNotFound(err)
	}

	if app.Spec.DesiredState != appsv1alpha1.StartedState || app.Status.PackageState != "" {
		return ctrl.Result{}, nil
	}

	logger.Info("Staging app", "app", app.Name)
	if err := r.Stager.StageApp(ctx, app); err != nil {
		var apiErr *staging.APIError
		if errors.As(err, &apiErr) {
			// the failure is already recorded on the app
			logger.Info("App staging failed", "app", app.Name, "reason", apiErr.Message)
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, err
	}
	return ctrl.Result{}, nil
}

func (r *AppStagingReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&appsv1alpha1.App{}).
		Complete(r)
}
