package runners_test

import (
	"context"

	eiriniv1 "code.cloudfoundry.org/eirini/pkg/apis/eirini/v1"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	appsv1alpha1 "cloudfoundry.org/cf-staging/api/v1alpha1"
	"cloudfoundry.org/cf-staging/runners"
)

var _ = Describe("Runners", func() {
	var (
		ctx       context.Context
		k8sClient client.Client
		app       *appsv1alpha1.App
		droplet   *appsv1alpha1.Droplet
	)

	BeforeEach(func() {
		ctx = context.Background()
		k8sClient = fake.NewClientBuilder().WithScheme(scheme).Build()

		app = &appsv1alpha1.App{
			ObjectMeta: metav1.ObjectMeta{Name: "app-guid", Namespace: "space-guid"},
			Spec: appsv1alpha1.AppSpec{
				Name:         "my-app",
				DesiredState: appsv1alpha1.StartedState,
				MemoryMB:     256,
				Environment:  map[string]string{"GREETING": "hello"},
			},
		}
		droplet = &appsv1alpha1.Droplet{
			ObjectMeta: metav1.ObjectMeta{Name: "droplet-guid", Namespace: "space-guid"},
		}
	})

	Describe("ProcessRunner", func() {
		var runner *runners.ProcessRunner

		BeforeEach(func() {
			runner = &runners.ProcessRunner{Client: k8sClient}
		})

		It("creates a Process for every process type", func() {
			result := runners.Result{TaskID: "droplet-guid", Staging: appsv1alpha1.StagingResult{
				ProcessTypes: map[string]string{"web": "bundle exec rackup", "worker": "bundle exec sidekiq"},
			}}

			Expect(runner.Start(ctx, runners.Target{App: app, Droplet: droplet}, result)).To(Succeed())

			var web appsv1alpha1.Process
			Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "app-guid-web", Namespace: "space-guid"}, &web)).To(Succeed())
			Expect(web.Spec.Command).To(Equal("bundle exec rackup"))
			Expect(web.Spec.Instances).To(Equal(int64(1)))
			Expect(web.Spec.State).To(Equal(appsv1alpha1.StartedState))
			Expect(web.Spec.MemoryMB).To(Equal(int64(256)))
			Expect(web.Spec.Ports).To(Equal([]int32{8080}))
			Expect(web.Spec.DropletRef.Name).To(Equal("droplet-guid"))
			Expect(web.Labels).To(HaveKeyWithValue(appsv1alpha1.ProcessTypeLabel, "web"))
			Expect(web.OwnerReferences).To(HaveLen(1))
			Expect(web.OwnerReferences[0].Name).To(Equal("app-guid"))

			var worker appsv1alpha1.Process
			Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "app-guid-worker", Namespace: "space-guid"}, &worker)).To(Succeed())
			Expect(worker.Spec.Instances).To(BeZero())
		})

		It("falls back to a web process running the detected start command", func() {
			result := runners.Result{Staging: appsv1alpha1.StagingResult{DetectedStartCommand: "./run"}}

			Expect(runner.Start(ctx, runners.Target{App: app}, result)).To(Succeed())

			var processes appsv1alpha1.ProcessList
			Expect(k8sClient.List(ctx, &processes)).To(Succeed())
			Expect(processes.Items).To(HaveLen(1))
			Expect(processes.Items[0].Spec.ProcessType).To(Equal("web"))
			Expect(processes.Items[0].Spec.Command).To(Equal("./run"))
		})

		It("updates the existing Process when restaged", func() {
			target := runners.Target{App: app, Droplet: droplet}
			Expect(runner.Start(ctx, target, runners.Result{Staging: appsv1alpha1.StagingResult{DetectedStartCommand: "old"}})).To(Succeed())
			Expect(runner.Start(ctx, target, runners.Result{Staging: appsv1alpha1.StagingResult{DetectedStartCommand: "new"}})).To(Succeed())

			var processes appsv1alpha1.ProcessList
			Expect(k8sClient.List(ctx, &processes)).To(Succeed())
			Expect(processes.Items).To(HaveLen(1))
			Expect(processes.Items[0].Spec.Command).To(Equal("new"))
		})

		It("requires an app", func() {
			err := runner.Start(ctx, runners.Target{Droplet: droplet}, runners.Result{})
			Expect(err).To(MatchError(runners.ErrMissingApp))
		})
	})

	Describe("LRPRunner", func() {
		var runner *runners.LRPRunner

		BeforeEach(func() {
			runner = &runners.LRPRunner{Client: k8sClient}
		})

		It("desires an LRP for the staged image", func() {
			result := runners.Result{TaskID: "task-1", Staging: appsv1alpha1.StagingResult{
				Image:        "registry.example.com/cf-apps/app-guid@sha256:abc",
				ProcessTypes: map[string]string{"web": "node server.js"},
			}}

			Expect(runner.Start(ctx, runners.Target{App: app}, result)).To(Succeed())

			var lrp eiriniv1.LRP
			Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "app-guid-web", Namespace: "space-guid"}, &lrp)).To(Succeed())
			Expect(lrp.Spec.GUID).To(Equal("app-guid"))
			Expect(lrp.Spec.Version).To(Equal("task-1"))
			Expect(lrp.Spec.AppName).To(Equal("my-app"))
			Expect(lrp.Spec.Image).To(Equal("registry.example.com/cf-apps/app-guid@sha256:abc"))
			Expect(lrp.Spec.Command).To(Equal([]string{"/bin/sh", "-c", "node server.js"}))
			Expect(lrp.Spec.Env).To(HaveKeyWithValue("GREETING", "hello"))
			Expect(lrp.Spec.Instances).To(Equal(1))
		})

		It("refuses results without an image", func() {
			err := runner.Start(ctx, runners.Target{App: app}, runners.Result{})
			Expect(err).To(MatchError(ContainSubstring("not staged into a runnable image")))
		})
	})

	Describe("RunnerFor", func() {
		It("uses the LRP runner only for diego-run apps", func() {
			processes := &runners.ProcessRunner{Client: k8sClient}
			lrps := &runners.LRPRunner{Client: k8sClient}
			r := &runners.Runners{Processes: processes, LRPs: lrps}

			Expect(r.RunnerFor(app)).To(BeIdenticalTo(processes))
			Expect(r.RunnerFor(nil)).To(BeIdenticalTo(processes))

			app.Spec.DiegoRun = true
			Expect(r.RunnerFor(app)).To(BeIdenticalTo(lrps))
		})
	})
})
