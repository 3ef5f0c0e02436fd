package controllers

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	buildv1alpha1 "github.com/pivotal/kpack/pkg/apis/build/v1alpha1"
	corev1alpha1 "github.com/pivotal/kpack/pkg/apis/core/v1alpha1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	appsv1alpha1 "cloudfoundry.org/cf-staging/api/v1alpha1"
)

var _ = Describe("buildFilter", func() {
	var build *buildv1alpha1.Build

	BeforeEach(func() {
		build = &buildv1alpha1.Build{
			ObjectMeta: metav1.ObjectMeta{
				Name:        "build",
				Labels:      map[string]string{appsv1alpha1.StagingTaskIDLabel: "task-guid"},
				Annotations: map[string]string{BuildReasonAnnotation: "CONFIG"},
			},
		}
		build.Status.Conditions = corev1alpha1.Conditions{{
			Type:   corev1alpha1.ConditionSucceeded,
			Status: corev1.ConditionTrue,
		}}
	})

	It("passes finished staging builds", func() {
		Expect(buildFilter(build)).To(BeTrue())
	})

	It("ignores builds without a staging task", func() {
		delete(build.Labels, appsv1alpha1.StagingTaskIDLabel)
		Expect(buildFilter(build)).To(BeFalse())
	})

	It("ignores builds without a reason", func() {
		build.Annotations = nil
		Expect(buildFilter(build)).To(BeFalse())
	})

	It("ignores stack update rebuilds", func() {
		build.Annotations[BuildReasonAnnotation] = StackUpdateBuildReason
		Expect(buildFilter(build)).To(BeFalse())
	})

	It("ignores running builds", func() {
		build.Status.Conditions[0].Status = corev1.ConditionUnknown
		Expect(buildFilter(build)).To(BeFalse())

		build.Status.Conditions = nil
		Expect(buildFilter(build)).To(BeFalse())
	})

	It("ignores other objects", func() {
		Expect(buildFilter(&appsv1alpha1.Droplet{})).To(BeFalse())
	})
})
