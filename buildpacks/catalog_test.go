package buildpacks_test

import (
	"context"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	appsv1alpha1 "cloudfoundry.org/cf-staging/api/v1alpha1"
	"cloudfoundry.org/cf-staging/buildpacks"
)

func buildpack(guid, name, key string, position int64, enabled bool, stack string) *appsv1alpha1.Buildpack {
	return &appsv1alpha1.Buildpack{
		ObjectMeta: metav1.ObjectMeta{Name: guid},
		Spec: appsv1alpha1.BuildpackSpec{
			Name:     name,
			Key:      key,
			Position: position,
			Enabled:  enabled,
			Stack:    stack,
		},
	}
}

var _ = Describe("Catalog", func() {
	var (
		ctx     context.Context
		catalog *buildpacks.Catalog
	)

	BeforeEach(func() {
		ctx = context.Background()
		catalog = &buildpacks.Catalog{
			Client: fake.NewClientBuilder().WithScheme(scheme).WithObjects(
				buildpack("ruby-guid", "ruby_buildpack", "ruby-key", 2, true, ""),
				buildpack("go-guid", "go_buildpack", "go-key", 1, true, "cflinuxfs3"),
				buildpack("java-guid", "java_buildpack", "java-key", 3, false, ""),
				buildpack("hwc-guid", "hwc_buildpack", "hwc-key", 0, true, "windows2016"),
			).Build(),
		}
	})

	Describe("Resolve", func() {
		It("resolves by key", func() {
			Expect(catalog.Resolve(ctx, "ruby-key")).To(Equal("ruby-guid"))
		})

		It("resolves by name", func() {
			Expect(catalog.Resolve(ctx, "go_buildpack")).To(Equal("go-guid"))
		})

		It("returns empty for unknown buildpacks", func() {
			Expect(catalog.Resolve(ctx, "INTERCAL")).To(BeEmpty())
			Expect(catalog.Resolve(ctx, "")).To(BeEmpty())
		})
	})

	Describe("Enabled", func() {
		It("returns enabled buildpacks for the stack in position order", func() {
			enabled, err := catalog.Enabled(ctx, "cflinuxfs3")
			Expect(err).NotTo(HaveOccurred())

			var names []string
			for _, bp := range enabled {
				names = append(names, bp.Spec.Name)
			}
			Expect(names).To(Equal([]string{"go_buildpack", "ruby_buildpack"}))
		})
	})
})
