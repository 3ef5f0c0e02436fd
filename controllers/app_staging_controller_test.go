package controllers_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	appsv1alpha1 "cloudfoundry.org/cf-staging/api/v1alpha1"
	"cloudfoundry.org/cf-staging/controllers"
	"cloudfoundry.org/cf-staging/staging"
)

type fakeAppStager struct {
	staged []string
	err    error
}

func (f *fakeAppStager) StageApp(_ context.Context, app *appsv1alpha1.App) error {
	f.staged = append(f.staged, app.Name)
	return f.err
}

var _ = Describe("AppStagingReconciler", func() {
	var (
		ctx        context.Context
		app        *appsv1alpha1.App
		stager     *fakeAppStager
		reconciler *controllers.AppStagingReconciler
		err        error
	)

	BeforeEach(func() {
		ctx = context.Background()
		stager = &fakeAppStager{}
		app = &appsv1alpha1.App{
			ObjectMeta: metav1.ObjectMeta{Name: "app-guid", Namespace: "space-guid"},
			Spec: appsv1alpha1.AppSpec{
				Name:         "my-app",
				DesiredState: appsv1alpha1.StartedState,
			},
		}
	})

	JustBeforeEach(func() {
		c := fake.NewClientBuilder().WithScheme(scheme).WithObjects(app).Build()
		reconciler = &controllers.AppStagingReconciler{Client: c, Scheme: scheme, Stager: stager}
		_, err = reconciler.Reconcile(ctx, ctrl.Request{
			NamespacedName: types.NamespacedName{Name: "app-guid", Namespace: "space-guid"},
		})
	})

	It("stages a started app that was never staged", func() {
		Expect(err).NotTo(HaveOccurred())
		Expect(stager.staged).To(Equal([]string{"app-guid"}))
	})

	When("the app is stopped", func() {
		BeforeEach(func() {
			app.Spec.DesiredState = appsv1alpha1.StoppedState
		})

		It("does nothing", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(stager.staged).To(BeEmpty())
		})
	})

	When("staging was already requested", func() {
		BeforeEach(func() {
			app.Status.PackageState = appsv1alpha1.AppPackagePendingState
		})

		It("does not stage again", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(stager.staged).To(BeEmpty())
		})
	})

	When("the backend refuses the request", func() {
		BeforeEach(func() {
			stager.err = &staging.APIError{Code: staging.StagingErrorCode, Message: "no nats"}
		})

		It("does not requeue", func() {
			Expect(err).NotTo(HaveOccurred())
		})
	})

	When("recording the task fails", func() {
		BeforeEach(func() {
			stager.err = errors.New("conflict")
		})

		It("returns the error", func() {
			Expect(err).To(MatchError("conflict"))
		})
	})

	When("the app is gone", func() {
		It("ignores the request", func() {
			c := fake.NewClientBuilder().WithScheme(scheme).Build()
			r := &controllers.AppStagingReconciler{Client: c, Scheme: scheme, Stager: stager}
			_, err := r.Reconcile(ctx, ctrl.Request{
				NamespacedName: types.NamespacedName{Name: "missing", Namespace: "space-guid"},
			})
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
