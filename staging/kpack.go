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

package staging

import (
	"context"
	"fmt"

	buildv1alpha1 "github.com/pivotal/kpack/pkg/apis/build/v1alpha1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/log"

	appsv1alpha1 "cloudfoundry.org/cf-staging/api/v1alpha1"
	"cloudfoundry.org/cf-staging/blobstore"
	"cloudfoundry.org/cf-staging/settings"
)

// StagingAppIDLabel carries the app_id a kpack Build reports back with.
const StagingAppIDLabel = "apps.cloudfoundry.org/stagingAppId"

// KpackBackend stages by pointing an app's kpack Image at the package bits. kpack copies
// the Image labels onto each Build it runs, which is how a finished Build finds its task.
type KpackBackend struct {
	Client client.Client
	URLs   blobstore.URLGenerator
	Config settings.Kpack
}

//+kubebuilder:rbac:groups=kpack.io,resources=images,verbs=get;list;watch;create;update;patch

func (b *KpackBackend) Name() string {
	return settings.KpackBackend
}

func (b *KpackBackend) CompletionSubject() string {
	return ""
}

func (b *KpackBackend) BuildRequest(ctx context.Context, target Target, params Params) (Payload, error) {
	appGUID := target.appGUID()
	namespace := target.namespace()

	var (
		sourceURL string
		err       error
	)
	if target.Package != nil {
		sourceURL, err = b.URLs.PackageDownloadURL(ctx, target.Package.Name)
	} else {
		sourceURL, err = b.URLs.AppPackageDownloadURL(ctx, appGUID)
	}
	if err != nil {
		return Payload{}, err
	}

	labels := map[string]string{
		appsv1alpha1.AppGUIDLabel:       appGUID,
		appsv1alpha1.StagingTaskIDLabel: params.TaskID,
		StagingAppIDLabel:               target.AppID(),
	}
	if target.Droplet != nil {
		labels[appsv1alpha1.DropletGUIDLabel] = target.Droplet.Name
	}

	image := &buildv1alpha1.Image{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "cf-app-" + appGUID,
			Namespace: namespace,
			Labels:    labels,
		},
		Spec: buildv1alpha1.ImageSpec{
			Tag: b.Config.RegistryTagBase + "/" + appGUID,
			Builder: corev1.ObjectReference{
				Kind:       "Builder",
				Namespace:  namespace,
				Name:       b.Config.BuilderName,
				APIVersion: "kpack.io/v1alpha1",
			},
			ServiceAccount: b.Config.ServiceAccount,
			Source: buildv1alpha1.SourceConfig{
				Blob: &buildv1alpha1.Blob{URL: sourceURL},
			},
		},
	}

	return Payload{
		Backend: b.Name(),
		TaskID:  params.TaskID,
		AppID:   target.AppID(),
		Request: image,
	}, nil
}

func (b *KpackBackend) Submit(ctx context.Context, payload Payload) error {
	desired, ok := payload.Request.(*buildv1alpha1.Image)
	if !ok {
		return fmt.Errorf("kpack backend cannot submit %T", payload.Request)
	}

	actual := &buildv1alpha1.Image{
		ObjectMeta: metav1.ObjectMeta{
			Name:      desired.Name,
			Namespace: desired.Namespace,
		},
	}
	result, err := controllerutil.CreateOrUpdate(ctx, b.Client, actual, imageMutateFunction(actual, desired))
	if err != nil {
		return err
	}

	log.FromContext(ctx).Info(fmt.Sprintf("kpack Image %s %s for task %s", actual.Name, result, payload.TaskID))
	return nil
}

// The Mutate function is for only updating the fields we care about for the update CR case
func imageMutateFunction(actual, desired *buildv1alpha1.Image) controllerutil.MutateFn {
	return func() error {
		actual.ObjectMeta.Labels = desired.ObjectMeta.Labels
		actual.Spec.Tag = desired.Spec.Tag
		actual.Spec.Builder = desired.Spec.Builder
		actual.Spec.ServiceAccount = desired.Spec.ServiceAccount
		actual.Spec.Source = desired.Spec.Source
		return nil
	}
}
