package controllers_test

import (
	"context"
	"errors"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	buildv1alpha1 "github.com/pivotal/kpack/pkg/apis/build/v1alpha1"
	corev1alpha1 "github.com/pivotal/kpack/pkg/apis/core/v1alpha1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	appsv1alpha1 "cloudfoundry.org/cf-staging/api/v1alpha1"
	"cloudfoundry.org/cf-staging/controllers"
	"cloudfoundry.org/cf-staging/staging"
)

const (
	builtImage       = "gcr.io/cf-apps/droplet-guid@sha256:0e0b2fa3c3d1d8b4f1f0e9b9d6b4a3c2e1f0a9b8c7d6e5f4a3b2c1d0e9f8a7b6"
	builtImageDigest = "sha256:0e0b2fa3c3d1d8b4f1f0e9b9d6b4a3c2e1f0a9b8c7d6e5f4a3b2c1d0e9f8a7b6"
)

func kpackBuild(status corev1.ConditionStatus) *buildv1alpha1.Build {
	build := &buildv1alpha1.Build{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "cf-app-app-guid-build-1",
			Namespace: "space-guid",
			Labels: map[string]string{
				appsv1alpha1.StagingTaskIDLabel: "droplet-guid",
				staging.StagingAppIDLabel:       "package-guid",
				appsv1alpha1.AppGUIDLabel:       "app-guid",
			},
			Annotations: map[string]string{
				controllers.BuildReasonAnnotation: "CONFIG",
			},
		},
		Spec: buildv1alpha1.BuildSpec{
			ServiceAccount: "kpack-service-account",
			Builder: buildv1alpha1.BuildBuilderSpec{
				Image:            "gcr.io/cf-apps/builder",
				ImagePullSecrets: []corev1.LocalObjectReference{{Name: "registry-creds"}},
			},
		},
	}
	build.Status.Conditions = corev1alpha1.Conditions{{
		Type:    corev1alpha1.ConditionSucceeded,
		Status:  status,
		Reason:  "BuildFailed",
		Message: "detect failed",
	}}
	return build
}

var _ = Describe("KpackBuildReconciler", func() {
	var (
		ctx         context.Context
		build       *buildv1alpha1.Build
		completion  *fakeCompletion
		imageConfig *fakeImageConfig
		reconciler  *controllers.KpackBuildReconciler
		result      ctrl.Result
		err         error
	)

	BeforeEach(func() {
		ctx = context.Background()
		completion = &fakeCompletion{outcome: staging.Outcome{Kind: staging.Applied}}
		imageConfig = &fakeImageConfig{config: &v1.Config{
			Labels: map[string]string{
				"io.buildpacks.build.metadata": `{"processes":[{"type":"web","command":"bundle","args":["exec","rackup"],"direct":false},{"type":"worker","command":"rake","args":["jobs:work"],"direct":false}]}`,
			},
			ExposedPorts: map[string]struct{}{"9090/tcp": {}, "8080/tcp": {}},
		}}
	})

	JustBeforeEach(func() {
		reconciler = &controllers.KpackBuildReconciler{
			Client:      fake.NewClientBuilder().WithScheme(scheme).WithObjects(build).Build(),
			Scheme:      scheme,
			Completion:  completion,
			ImageConfig: imageConfig,
		}
		result, err = reconciler.Reconcile(ctx, ctrl.Request{NamespacedName: client.ObjectKeyFromObject(build)})
	})

	When("the build succeeded", func() {
		BeforeEach(func() {
			build = kpackBuild(corev1.ConditionTrue)
			build.Status.LatestImage = builtImage
			build.Status.BuildMetadata = buildv1alpha1.BuildpackMetadataList{
				{Id: "paketo-buildpacks/ruby", Version: "0.5.0"},
				{Id: "paketo-buildpacks/procfile", Version: "4.2.0"},
			}
		})

		It("reports the built image, its process types and its ports", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(ctrl.Result{}))
			Expect(completion.payloads).To(HaveLen(1))

			report := completion.payloads[0]
			Expect(report).To(HaveKeyWithValue("task_id", "droplet-guid"))
			Expect(report).To(HaveKeyWithValue("app_id", "package-guid"))
			Expect(report).To(HaveKeyWithValue("detected_buildpack", "paketo-buildpacks/ruby"))
			Expect(report).To(HaveKeyWithValue("buildpack_key", "paketo-buildpacks/ruby"))
			Expect(report).To(HaveKeyWithValue("image", builtImage))
			Expect(report).To(HaveKeyWithValue("droplet_hash", builtImageDigest))
			Expect(report).To(HaveKeyWithValue("execution_metadata", `{"ports":[8080,9090]}`))
			Expect(report).To(HaveKeyWithValue("detected_start_command", map[string]interface{}{
				"web":    "bundle exec rackup",
				"worker": "rake jobs:work",
			}))
			Expect(report).NotTo(HaveKey("error"))
		})

		It("reads the image with the build's credentials", func() {
			Expect(imageConfig.imageRefs).To(ConsistOf(builtImage))
			Expect(imageConfig.secrets).To(HaveLen(1))
			Expect(imageConfig.secrets[0].Namespace).To(Equal("space-guid"))
			Expect(imageConfig.secrets[0].ServiceAccount).To(Equal("kpack-service-account"))
			Expect(imageConfig.secrets[0].ImagePullSecrets).To(ConsistOf(corev1.LocalObjectReference{Name: "registry-creds"}))
		})

		It("produces a report the completion handler accepts", func() {
			parsed, parseErr := staging.ParseReport(completion.payloads[0])
			Expect(parseErr).NotTo(HaveOccurred())
			Expect(parsed.Failure).To(BeNil())
			Expect(parsed.DetectedStartCommand).To(Equal("bundle exec rackup"))
			Expect(parsed.DropletHash).To(Equal(builtImageDigest))
		})

		When("the image has no build metadata", func() {
			BeforeEach(func() {
				imageConfig.config = &v1.Config{}
			})

			It("reports no start command", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(completion.payloads[0]).NotTo(HaveKey("detected_start_command"))
				Expect(completion.payloads[0]).To(HaveKeyWithValue("execution_metadata", `{"ports":[]}`))
			})
		})

		When("the image config cannot be read", func() {
			BeforeEach(func() {
				imageConfig.err = errors.New("UNAUTHORIZED: authentication required")
			})

			It("requeues without reporting", func() {
				Expect(err).To(MatchError("UNAUTHORIZED: authentication required"))
				Expect(completion.payloads).To(BeEmpty())
			})
		})

		When("the completion handler fails to save", func() {
			BeforeEach(func() {
				completion.err = errors.New("etcd unavailable")
			})

			It("returns the error so the build is retried", func() {
				Expect(err).To(MatchError("etcd unavailable"))
			})
		})

		When("the completion handler rejects the report", func() {
			BeforeEach(func() {
				completion.outcome = staging.Outcome{Kind: staging.Malformed}
				completion.err = &staging.APIError{Code: staging.InvalidMessageCode, Message: "{ task_id => Missing key }"}
			})

			It("does not requeue", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(result).To(Equal(ctrl.Result{}))
			})
		})
	})

	When("the build failed", func() {
		BeforeEach(func() {
			build = kpackBuild(corev1.ConditionFalse)
		})

		It("reports the build failure reason", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(completion.payloads).To(HaveLen(1))
			Expect(completion.payloads[0]).To(HaveKeyWithValue("task_id", "droplet-guid"))
			Expect(completion.payloads[0]).To(HaveKeyWithValue("error", map[string]interface{}{
				"id":      staging.StagingErrorCode,
				"message": "Kpack build unsuccessful: Build failure reason: 'BuildFailed', message: 'detect failed'.",
			}))
			Expect(imageConfig.imageRefs).To(BeEmpty())
		})

		When("a build step exited non-zero", func() {
			BeforeEach(func() {
				build.Status.StepStates = []corev1.ContainerState{
					{Terminated: &corev1.ContainerStateTerminated{ExitCode: 0, Reason: "Completed"}},
					{Terminated: &corev1.ContainerStateTerminated{ExitCode: 51, Reason: "Error", Message: "no buildpacks participating"}},
				}
			})

			It("reports the failed step", func() {
				parsed, parseErr := staging.ParseReport(completion.payloads[0])
				Expect(parseErr).NotTo(HaveOccurred())
				Expect(parsed.Failure).To(Equal(&staging.Failure{
					ID:      staging.StagingErrorCode,
					Message: "Kpack build failed during container execution: Step failure reason: 'Error', message: 'no buildpacks participating'.",
				}))
			})
		})
	})

	When("the build is still running", func() {
		BeforeEach(func() {
			build = kpackBuild(corev1.ConditionUnknown)
		})

		It("waits for it to finish", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(completion.payloads).To(BeEmpty())
		})
	})

	When("the build no longer exists", func() {
		BeforeEach(func() {
			build = kpackBuild(corev1.ConditionTrue)
		})

		It("does nothing", func() {
			result, err = reconciler.Reconcile(ctx, ctrl.Request{NamespacedName: types.NamespacedName{Namespace: "space-guid", Name: "gone"}})
			Expect(err).NotTo(HaveOccurred())
			Expect(completion.payloads).To(HaveLen(1))
		})
	})
})
