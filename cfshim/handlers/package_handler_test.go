package handlers_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"

	"github.com/gorilla/mux"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	appsv1alpha1 "cloudfoundry.org/cf-staging/api/v1alpha1"
	"cloudfoundry.org/cf-staging/cfshim/filters"
	"cloudfoundry.org/cf-staging/cfshim/handlers"
	"cloudfoundry.org/cf-staging/messages"
	"cloudfoundry.org/cf-staging/orchestrator"
)

func bitsPackage(state appsv1alpha1.PackageState) *appsv1alpha1.Package {
	return &appsv1alpha1.Package{
		ObjectMeta: metav1.ObjectMeta{Name: "package-guid", Namespace: "space-guid"},
		Spec: appsv1alpha1.PackageSpec{
			Type:   appsv1alpha1.BitsPackage,
			AppRef: appsv1alpha1.ApplicationReference{Name: "app-guid"},
		},
		Status: appsv1alpha1.PackageStatus{State: state},
	}
}

func decodeBody(rr *httptest.ResponseRecorder) map[string]interface{} {
	var body map[string]interface{}
	ExpectWithOffset(1, json.Unmarshal(rr.Body.Bytes(), &body)).To(Succeed())
	return body
}

func expectError(rr *httptest.ResponseRecorder, status int, title, detail string, code int) {
	ExpectWithOffset(1, rr.Code).To(Equal(status))
	ExpectWithOffset(1, rr.Header().Get("Content-Type")).To(Equal("application/json"))

	var errs handlers.CFAPIErrors
	ExpectWithOffset(1, json.Unmarshal(rr.Body.Bytes(), &errs)).To(Succeed())
	ExpectWithOffset(1, errs.Errors).To(ConsistOf(handlers.CFAPIError{Title: title, Detail: detail, Code: code}))
}

var _ = Describe("PackageHandler", func() {
	var (
		packages  *fakePackages
		uploadDir string
		router    *mux.Router
		rr        *httptest.ResponseRecorder
	)

	BeforeEach(func() {
		packages = &fakePackages{}

		var err error
		uploadDir, err = os.MkdirTemp("", "package-uploads")
		Expect(err).NotTo(HaveOccurred())

		router = mux.NewRouter()
		handler := &handlers.PackageHandler{
			Packages:  packages,
			Access:    adminAccess,
			Logger:    logger,
			UploadDir: uploadDir,
		}
		handler.RegisterRoutes(router)
		rr = httptest.NewRecorder()
	})

	AfterEach(func() {
		os.RemoveAll(uploadDir)
	})

	serve := func(req *http.Request) {
		router.ServeHTTP(rr, req)
	}

	Describe("POST /v3/apps/:guid/packages", func() {
		create := func(body string) {
			serve(httptest.NewRequest("POST", "/v3/apps/app-guid/packages", strings.NewReader(body)))
		}

		It("creates a bits package for the app", func() {
			packages.pkg = bitsPackage(appsv1alpha1.PackageCreatedState)

			create(`{"type": "bits"}`)

			Expect(rr.Code).To(Equal(http.StatusCreated))
			Expect(packages.created.AppGUID).To(Equal("app-guid"))
			Expect(packages.created.Type).To(Equal(messages.BitsType))

			body := decodeBody(rr)
			Expect(body).To(HaveKeyWithValue("guid", "package-guid"))
			Expect(body).To(HaveKeyWithValue("type", "bits"))
			Expect(body).To(HaveKeyWithValue("state", "CREATED"))
			Expect(body).To(HaveKeyWithValue("data", map[string]interface{}{
				"checksum": map[string]interface{}{"type": "sha256", "value": nil},
				"error":    nil,
			}))
			Expect(body["relationships"]).To(Equal(map[string]interface{}{
				"app": map[string]interface{}{"data": map[string]interface{}{"guid": "app-guid"}},
			}))
			Expect(body["links"]).To(HaveKeyWithValue("upload", map[string]interface{}{
				"href": "/v3/packages/package-guid/upload", "method": "POST",
			}))
		})

		It("presents docker packages with their image", func() {
			packages.pkg = &appsv1alpha1.Package{
				ObjectMeta: metav1.ObjectMeta{Name: "docker-guid"},
				Spec: appsv1alpha1.PackageSpec{
					Type:   appsv1alpha1.DockerPackage,
					AppRef: appsv1alpha1.ApplicationReference{Name: "app-guid"},
					URL:    "docker://cloudfoundry/diego-docker-app",
				},
				Status: appsv1alpha1.PackageStatus{State: appsv1alpha1.PackageReadyState},
			}

			create(`{"type": "docker", "url": "docker://cloudfoundry/diego-docker-app"}`)

			Expect(rr.Code).To(Equal(http.StatusCreated))
			body := decodeBody(rr)
			Expect(body).To(HaveKeyWithValue("data", map[string]interface{}{"image": "docker://cloudfoundry/diego-docker-app"}))
			Expect(body["links"]).NotTo(HaveKey("upload"))
		})

		It("rejects invalid messages without creating anything", func() {
			create(`{"type": "zip"}`)

			expectError(rr, http.StatusUnprocessableEntity, "CF-UnprocessableEntity", "The type field needs to be one of 'bits, docker'", 10008)
			Expect(packages.created).To(BeNil())
		})

		It("reports a missing space as unprocessable", func() {
			packages.err = orchestrator.ErrSpaceNotFound

			create(`{"type": "bits"}`)

			expectError(rr, http.StatusUnprocessableEntity, "CF-UnprocessableEntity", "Space not found", 10008)
		})

		It("reports unauthorized callers", func() {
			packages.err = orchestrator.ErrUnauthorized

			create(`{"type": "bits"}`)

			expectError(rr, http.StatusForbidden, "CF-NotAuthorized", "You are not authorized to perform the requested action", 10003)
		})

		It("reports packages the store refused", func() {
			packages.err = &orchestrator.InvalidPackageError{Err: errors.New("name taken")}

			create(`{"type": "bits"}`)

			expectError(rr, http.StatusUnprocessableEntity, "CF-UnprocessableEntity", "invalid package: name taken", 10008)
		})

		It("reports anything else as a server error", func() {
			packages.err = errors.New("etcd unavailable")

			create(`{"type": "bits"}`)

			expectError(rr, http.StatusInternalServerError, "ServerError", "etcd unavailable", 10001)
		})
	})

	Describe("POST /v3/packages/:guid/upload", func() {
		BeforeEach(func() {
			packages.pkg = bitsPackage(appsv1alpha1.PackagePendingState)
		})

		It("accepts a bits_path from the upload proxy", func() {
			req := httptest.NewRequest("POST", "/v3/packages/package-guid/upload",
				strings.NewReader(url.Values{"bits_path": {"/var/vcap/uploads/bits.zip"}}.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

			serve(req)

			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(packages.uploaded.PackageGUID).To(Equal("package-guid"))
			Expect(packages.uploaded.BitsPath).To(Equal("/var/vcap/uploads/bits.zip"))
			Expect(decodeBody(rr)).To(HaveKeyWithValue("state", "PENDING"))
		})

		Context("with a multipart bits file", func() {
			var req *http.Request

			BeforeEach(func() {
				body := &bytes.Buffer{}
				writer := multipart.NewWriter(body)
				part, err := writer.CreateFormFile("bits", "app.zip")
				Expect(err).NotTo(HaveOccurred())
				_, err = part.Write([]byte("PK-zip-bytes"))
				Expect(err).NotTo(HaveOccurred())
				Expect(writer.Close()).To(Succeed())

				req = httptest.NewRequest("POST", "/v3/packages/package-guid/upload", body)
				req.Header.Set("Content-Type", writer.FormDataContentType())
			})

			It("saves the file for the bits job", func() {
				serve(req)

				Expect(rr.Code).To(Equal(http.StatusOK))
				Expect(packages.uploaded.BitsPath).To(HavePrefix(uploadDir))
				Expect(os.ReadFile(packages.uploaded.BitsPath)).To(Equal([]byte("PK-zip-bytes")))
			})

			It("removes the file when the upload is refused", func() {
				packages.err = orchestrator.ErrBitsAlreadyUploaded

				serve(req)

				expectError(rr, http.StatusUnprocessableEntity, "CF-UnprocessableEntity",
					"Bits may be uploaded only once. Create a new package to upload different bits.", 10008)
				Expect(packages.uploaded.BitsPath).NotTo(BeAnExistingFile())
			})
		})

		It("requires bits", func() {
			serve(httptest.NewRequest("POST", "/v3/packages/package-guid/upload", nil))

			expectError(rr, http.StatusUnprocessableEntity, "CF-UnprocessableEntity", "An application zip file must be uploaded.", 10008)
			Expect(packages.uploaded).To(BeNil())
		})

		It("reports missing packages", func() {
			packages.err = orchestrator.ErrPackageNotFound
			req := httptest.NewRequest("POST", "/v3/packages/package-guid/upload",
				strings.NewReader(url.Values{"bits_path": {"/tmp/bits.zip"}}.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

			serve(req)

			expectError(rr, http.StatusNotFound, "CF-ResourceNotFound", "Package not found", 10010)
		})
	})

	Describe("GET /v3/packages/:guid", func() {
		It("shows the package", func() {
			packages.pkg = bitsPackage(appsv1alpha1.PackageReadyState)
			packages.pkg.Status.Checksum = appsv1alpha1.Checksum{Type: appsv1alpha1.SHA256ChecksumType, Value: "abc123"}

			serve(httptest.NewRequest("GET", "/v3/packages/package-guid", nil))

			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(packages.shown).To(Equal("package-guid"))
			body := decodeBody(rr)
			Expect(body).To(HaveKeyWithValue("state", "READY"))
			Expect(body["data"]).To(HaveKeyWithValue("checksum", map[string]interface{}{"type": "sha256", "value": "abc123"}))
		})

		It("returns 404 when the package does not exist", func() {
			serve(httptest.NewRequest("GET", "/v3/packages/missing", nil))

			expectError(rr, http.StatusNotFound, "CF-ResourceNotFound", "Package not found", 10010)
		})
	})

	Describe("GET /v3/packages", func() {
		It("passes filters and pagination through and presents the page", func() {
			packages.page = filters.PackagePage{
				Pagination:   filters.Pagination{Page: 2, PerPage: 1},
				TotalResults: 3,
				TotalPages:   3,
				Resources:    []appsv1alpha1.Package{*bitsPackage(appsv1alpha1.PackageReadyState)},
			}

			serve(httptest.NewRequest("GET", "/v3/packages?types=bits,docker&page=2&per_page=1", nil))

			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(packages.pagination).To(Equal(filters.Pagination{Page: 2, PerPage: 1}))
			Expect(packages.filter).To(Equal(&filters.PackageFilter{
				QueryParameters: map[string][]string{"types": {"bits", "docker"}},
			}))
			Expect(packages.access.Admin).To(BeTrue())

			body := decodeBody(rr)
			Expect(body["resources"]).To(HaveLen(1))
			pagination := body["pagination"].(map[string]interface{})
			Expect(pagination).To(HaveKeyWithValue("total_results", BeNumerically("==", 3)))
			Expect(pagination).To(HaveKeyWithValue("total_pages", BeNumerically("==", 3)))
			Expect(pagination["first"]).To(HaveKeyWithValue("href", "/v3/packages?page=1&per_page=1&types=bits%2Cdocker"))
			Expect(pagination["next"]).To(HaveKeyWithValue("href", "/v3/packages?page=3&per_page=1&types=bits%2Cdocker"))
			Expect(pagination["previous"]).To(HaveKeyWithValue("href", "/v3/packages?page=1&per_page=1&types=bits%2Cdocker"))
		})

		It("presents an empty listing", func() {
			packages.page = filters.PackagePage{Pagination: filters.Pagination{Page: 1, PerPage: 50}, Resources: []appsv1alpha1.Package{}}

			serve(httptest.NewRequest("GET", "/v3/packages", nil))

			Expect(rr.Code).To(Equal(http.StatusOK))
			body := decodeBody(rr)
			Expect(body["resources"]).To(BeEmpty())
			Expect(body["pagination"]).To(HaveKeyWithValue("next", BeNil()))
		})

		It("rejects bad pagination", func() {
			serve(httptest.NewRequest("GET", "/v3/packages?page=0", nil))

			expectError(rr, http.StatusBadRequest, "CF-BadQueryParameter", "Page must be a positive integer", 10005)
		})
	})

	Describe("DELETE /v3/packages/:guid", func() {
		It("deletes the package", func() {
			packages.pkg = bitsPackage(appsv1alpha1.PackageReadyState)

			serve(httptest.NewRequest("DELETE", "/v3/packages/package-guid", nil))

			Expect(rr.Code).To(Equal(http.StatusNoContent))
			Expect(packages.deleted).To(Equal("package-guid"))
		})

		It("returns 404 for a package that is already gone", func() {
			serve(httptest.NewRequest("DELETE", "/v3/packages/package-guid", nil))

			expectError(rr, http.StatusNotFound, "CF-ResourceNotFound", "Package not found", 10010)
		})
	})
})
