package orchestrator_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	appsv1alpha1 "cloudfoundry.org/cf-staging/api/v1alpha1"
	"cloudfoundry.org/cf-staging/authz"
	"cloudfoundry.org/cf-staging/buildpacks"
	"cloudfoundry.org/cf-staging/bus"
	"cloudfoundry.org/cf-staging/jobs"
	"cloudfoundry.org/cf-staging/messages"
	"cloudfoundry.org/cf-staging/orchestrator"
	"cloudfoundry.org/cf-staging/runners"
	"cloudfoundry.org/cf-staging/settings"
	"cloudfoundry.org/cf-staging/staging"
	"cloudfoundry.org/cf-staging/store"
)

type stageCall struct {
	droplet  *appsv1alpha1.Droplet
	stack    string
	memoryMB int64
	diskMB   int64
}

type recordingStager struct {
	calls []stageCall
	err   error
}

func (s *recordingStager) StagePackage(_ context.Context, droplet *appsv1alpha1.Droplet, stack string, memoryMB, diskMB int64) error {
	s.calls = append(s.calls, stageCall{droplet: droplet, stack: stack, memoryMB: memoryMB, diskMB: diskMB})
	return s.err
}

var _ = Describe("DropletsHandler", func() {
	var (
		ctx       context.Context
		k8sClient client.Client
		stager    *recordingStager
		handler   *orchestrator.DropletsHandler
		config    settings.Staging
	)

	stagingMessage := func(packageGUID, body string) *messages.StagingMessage {
		return messages.NewStagingMessage(packageGUID, []byte(body), config)
	}

	fetchDroplet := func(guid string) (*appsv1alpha1.Droplet, error) {
		var droplet appsv1alpha1.Droplet
		err := k8sClient.Get(ctx, types.NamespacedName{Name: guid, Namespace: "space-guid"}, &droplet)
		return &droplet, err
	}

	BeforeEach(func() {
		ctx = context.Background()
		config = settings.Defaults().Staging
		k8sClient = fake.NewClientBuilder().WithScheme(scheme).WithObjects(
			namespace("space-guid"),
			testApp(),
			testPackage("ready-package-guid", appsv1alpha1.BitsPackage, appsv1alpha1.PackageReadyState),
			testPackage("created-package-guid", appsv1alpha1.BitsPackage, appsv1alpha1.PackageCreatedState),
			testPackage("docker-package-guid", appsv1alpha1.DockerPackage, appsv1alpha1.PackageReadyState),
		).Build()
		stager = &recordingStager{}
		handler = &orchestrator.DropletsHandler{
			Store:   store.New(k8sClient),
			Stager:  stager,
			NewGUID: fixedGUID("droplet-guid"),
		}
	})

	Describe("Create", func() {
		It("saves a pending droplet and stages the package into it", func() {
			droplet, err := handler.Create(ctx, stagingMessage("ready-package-guid", `{"memory_limit": 2048, "stack": "cflinuxfs4"}`), authz.Admin())
			Expect(err).NotTo(HaveOccurred())
			Expect(droplet.Name).To(Equal("droplet-guid"))

			stored, err := fetchDroplet("droplet-guid")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Status.State).To(Equal(appsv1alpha1.DropletPendingState))
			Expect(stored.Spec.PackageRef.Name).To(Equal("ready-package-guid"))
			Expect(stored.Spec.AppRef.Name).To(Equal("app-guid"))
			Expect(stored.Spec.Lifecycle.Buildpacks).To(Equal([]string{"ruby_buildpack"}))
			Expect(stored.Labels).To(HaveKeyWithValue(appsv1alpha1.PackageGUIDLabel, "ready-package-guid"))

			Expect(stager.calls).To(HaveLen(1))
			Expect(stager.calls[0].droplet.Name).To(Equal("droplet-guid"))
			Expect(stager.calls[0].stack).To(Equal("cflinuxfs4"))
			Expect(stager.calls[0].memoryMB).To(Equal(int64(2048)))
			Expect(stager.calls[0].diskMB).To(Equal(int64(4096)))
		})

		It("fails for an unknown package", func() {
			_, err := handler.Create(ctx, stagingMessage("missing-package-guid", `{}`), authz.Admin())
			Expect(err).To(MatchError(orchestrator.ErrPackageNotFound))
		})

		It("requires a READY package", func() {
			_, err := handler.Create(ctx, stagingMessage("created-package-guid", `{}`), authz.Admin())

			var invalid *orchestrator.InvalidRequestError
			Expect(errors.As(err, &invalid)).To(BeTrue())
			Expect(invalid.Reason).To(Equal("Package must be in READY state to stage"))
		})

		It("requires a bits package", func() {
			_, err := handler.Create(ctx, stagingMessage("docker-package-guid", `{}`), authz.Admin())
			Expect(err).To(MatchError("Package type must be bits to stage"))
		})

		It("refuses callers outside the space and saves nothing", func() {
			_, err := handler.Create(ctx, stagingMessage("ready-package-guid", `{}`), authz.SpaceDeveloper("other-space-guid"))
			Expect(err).To(MatchError(orchestrator.ErrUnauthorized))

			_, err = fetchDroplet("droplet-guid")
			Expect(err).To(HaveOccurred())
			Expect(stager.calls).To(BeEmpty())
		})

		It("returns the staging error", func() {
			stager.err = &staging.APIError{Code: staging.StagingErrorCode, Message: "failed to stage with diego backend: nats: timeout"}

			_, err := handler.Create(ctx, stagingMessage("ready-package-guid", `{}`), authz.Admin())

			var apiErr *staging.APIError
			Expect(errors.As(err, &apiErr)).To(BeTrue())
			Expect(apiErr.Code).To(Equal(staging.StagingErrorCode))
		})
	})

	Describe("Show", func() {
		BeforeEach(func() {
			_, err := handler.Create(ctx, stagingMessage("ready-package-guid", `{}`), authz.Admin())
			Expect(err).NotTo(HaveOccurred())
		})

		It("returns the droplet", func() {
			droplet, err := handler.Show(ctx, "droplet-guid", authz.SpaceDeveloper("space-guid"))
			Expect(err).NotTo(HaveOccurred())
			Expect(droplet.Name).To(Equal("droplet-guid"))
		})

		It("returns nil for an unknown droplet", func() {
			droplet, err := handler.Show(ctx, "missing-droplet-guid", authz.Admin())
			Expect(err).NotTo(HaveOccurred())
			Expect(droplet).To(BeNil())
		})

		It("refuses callers who cannot read it", func() {
			_, err := handler.Show(ctx, "droplet-guid", authz.SpaceDeveloper("other-space-guid"))
			Expect(err).To(MatchError(orchestrator.ErrUnauthorized))
		})
	})
})

var _ = Describe("Staging a package end to end", func() {
	It("goes from a new package to a staged droplet", func() {
		ctx := context.Background()
		buildpack := &appsv1alpha1.Buildpack{
			ObjectMeta: metav1.ObjectMeta{Name: "ruby-buildpack-guid"},
			Spec:       appsv1alpha1.BuildpackSpec{Name: "ruby_buildpack", Key: "ruby-key", Position: 1, Enabled: true},
		}
		k8sClient := fake.NewClientBuilder().WithScheme(scheme).WithObjects(namespace("space-guid"), testApp(), buildpack).Build()
		records := store.New(k8sClient)
		catalog := &buildpacks.Catalog{Client: k8sClient}
		config := settings.Defaults()
		msgBus := bus.NewInMemoryBus(logger)
		enqueuer := &fakeEnqueuer{}

		backend, err := staging.NewBackend(config, staging.Dependencies{Bus: msgBus, URLs: fakeURLs{}, Buildpacks: catalog, Client: k8sClient})
		Expect(err).NotTo(HaveOccurred())
		dispatcher := staging.NewDispatcher(backend)
		runner := &recordingRunner{}
		completion := &staging.CompletionHandler{
			Store:      records,
			Dispatcher: dispatcher,
			Buildpacks: catalog,
			Runners:    &runners.Runners{Processes: runner},
			Recorder:   record.NewFakeRecorder(10),
			Logger:     logger,
		}
		_, err = msgBus.Subscribe(backend.CompletionSubject(), completion.BusHandler(ctx))
		Expect(err).NotTo(HaveOccurred())

		packages := &orchestrator.PackagesHandler{Store: records, Jobs: enqueuer, Blobs: &fakeBlobs{}, Logger: logger}
		droplets := &orchestrator.DropletsHandler{
			Store:  records,
			Stager: &staging.Stager{Store: records, Dispatcher: dispatcher, Config: config.Staging, Logger: logger},
		}
		access := authz.SpaceDeveloper("space-guid")

		pkg, err := packages.Create(ctx, messages.NewPackageCreateMessage("app-guid", []byte(`{"type": "bits"}`)), access)
		Expect(err).NotTo(HaveOccurred())

		dir, err := os.MkdirTemp("", "bits")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)
		bitsPath := filepath.Join(dir, "bits.zip")
		Expect(os.WriteFile(bitsPath, []byte("app bits"), 0o600)).To(Succeed())
		uploading, err := packages.Upload(ctx, messages.NewPackageUploadMessage(pkg.Name, map[string]string{"bits_path": bitsPath}), access)
		Expect(err).NotTo(HaveOccurred())
		Expect(uploading.Status.State).To(Equal(appsv1alpha1.PackagePendingState))

		pending, err := packages.Show(ctx, pkg.Name, access)
		Expect(err).NotTo(HaveOccurred())
		Expect(pending.Status.State).To(Equal(appsv1alpha1.PackagePendingState))

		Expect(enqueuer.jobs).To(HaveLen(1))
		Expect(enqueuer.jobs[0].job.Perform(ctx)).To(Succeed())

		ready, err := packages.Show(ctx, pkg.Name, access)
		Expect(err).NotTo(HaveOccurred())
		Expect(ready.Status.State).To(Equal(appsv1alpha1.PackageReadyState))

		droplet, err := droplets.Create(ctx, messages.NewStagingMessage(pkg.Name, []byte(`{}`), config.Staging), access)
		Expect(err).NotTo(HaveOccurred())

		published := msgBus.Published(bus.DiegoStagingStartSubject)
		Expect(published).To(HaveLen(1))
		Expect(published[0]).To(HaveKeyWithValue("task_id", droplet.Name))
		Expect(published[0]).To(HaveKeyWithValue("app_id", pkg.Name))

		Expect(msgBus.Publish(bus.DiegoStagingFinishedSubject, map[string]interface{}{
			"task_id":                droplet.Name,
			"app_id":                 pkg.Name,
			"detected_buildpack":     "Ruby",
			"buildpack_key":          "ruby-key",
			"detected_start_command": map[string]string{"web": "bundle exec rackup"},
			"droplet_hash":           "droplet-sha",
		})).To(Succeed())

		staged, err := droplets.Show(ctx, droplet.Name, access)
		Expect(err).NotTo(HaveOccurred())
		Expect(staged.Status.State).To(Equal(appsv1alpha1.DropletStagedState))
		Expect(staged.Status.BuildpackGUID).To(Equal("ruby-buildpack-guid"))
		Expect(staged.Status.DetectedStartCommand).To(Equal("bundle exec rackup"))
		Expect(staged.Status.DropletHash).To(Equal("droplet-sha"))
		Expect(dispatcher.Outstanding()).To(BeZero())

		Expect(runner.targets).To(HaveLen(1))
		Expect(runner.targets[0].Droplet).NotTo(BeNil())
		Expect(runner.targets[0].Droplet.Name).To(Equal(droplet.Name))
		Expect(runner.targets[0].App.Name).To(Equal("app-guid"))
		Expect(runner.results[0].TaskID).To(Equal(droplet.Name))

		_, ok := enqueuer.jobs[0].job.(*jobs.PackageBits)
		Expect(ok).To(BeTrue())
	})
})
