package runners

import (
	"context"
	"fmt"

	eiriniv1 "code.cloudfoundry.org/eirini/pkg/apis/eirini/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/log"

	appsv1alpha1 "cloudfoundry.org/cf-staging/api/v1alpha1"
)

// LRPRunner desires the web process of a diego-run app as an eirini LRP. Only
// results that carry a runnable image can be started this way.
type LRPRunner struct {
	Client client.Client
}

func (r *LRPRunner) Start(ctx context.Context, target Target, result Result) error {
	logger := log.FromContext(ctx)
	if target.App == nil {
		return ErrMissingApp
	}
	app := target.App

	if result.Staging.Image == "" {
		return fmt.Errorf("app %s was not staged into a runnable image", app.Name)
	}

	var command []string
	if cmd := processTypes(result.Staging)["web"]; cmd != "" {
		command = []string{"/bin/sh", "-c", cmd}
	}

	lrp := &eiriniv1.LRP{
		ObjectMeta: metav1.ObjectMeta{
			Name:      app.Name + "-web",
			Namespace: app.Namespace,
		},
	}
	op, err := controllerutil.CreateOrUpdate(ctx, r.Client, lrp, func() error {
		lrp.Labels = map[string]string{
			appsv1alpha1.AppGUIDLabel:       app.Name,
			appsv1alpha1.ProcessTypeLabel:   "web",
			appsv1alpha1.StagingTaskIDLabel: result.TaskID,
		}
		lrp.Spec.GUID = app.Name
		lrp.Spec.Version = result.TaskID
		lrp.Spec.ProcessType = "web"
		lrp.Spec.AppName = app.Spec.Name
		lrp.Spec.AppGUID = app.Name
		lrp.Spec.SpaceGUID = app.Namespace
		lrp.Spec.Image = result.Staging.Image
		lrp.Spec.Command = command
		lrp.Spec.Env = app.Spec.Environment
		lrp.Spec.Ports = []int32{defaultPort}
		lrp.Spec.Instances = int(orDefault(app.Spec.Instances, 1))
		lrp.Spec.MemoryMB = orDefault(app.Spec.MemoryMB, defaultMemoryMB)
		lrp.Spec.DiskMB = orDefault(app.Spec.DiskMB, defaultDiskMB)
		return nil
	})
	if err != nil {
		return fmt.Errorf("desire LRP for app %s: %w", app.Name, err)
	}

	logger.Info(fmt.Sprintf("LRP %s %s", lrp.Name, op))
	return nil
}
