package handlers

import (
	"context"
	"io"
	"net/http"
	"os"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"

	appsv1alpha1 "cloudfoundry.org/cf-staging/api/v1alpha1"
	"cloudfoundry.org/cf-staging/authz"
	"cloudfoundry.org/cf-staging/cfshim/filters"
	"cloudfoundry.org/cf-staging/messages"
)

// Define the routes used in the REST endpoints
const (
	PackagesEndpoint       = "/v3/packages"
	GetPackageEndpoint     = PackagesEndpoint + "/{guid}"
	UploadPackageEndpoint  = GetPackageEndpoint + "/upload"
	AppPackagesEndpoint    = "/v3/apps/{guid}/packages"
	maxInMemoryUploadBytes = 32 << 20
)

type PackageRepository interface {
	Create(ctx context.Context, msg *messages.PackageCreateMessage, access authz.Authorizer) (*appsv1alpha1.Package, error)
	Upload(ctx context.Context, msg *messages.PackageUploadMessage, access authz.Authorizer) (*appsv1alpha1.Package, error)
	Delete(ctx context.Context, guid string, access authz.Authorizer) (*appsv1alpha1.Package, error)
	List(ctx context.Context, pagination filters.Pagination, filter filters.Filter, access authz.AccessContext) (filters.PackagePage, error)
	Show(ctx context.Context, guid string, access authz.Authorizer) (*appsv1alpha1.Package, error)
}

type PackageHandler struct {
	Packages PackageRepository
	Access   AccessFunc
	Logger   logr.Logger

	// UploadDir receives multipart uploads until the bits job moves them to the blobstore.
	UploadDir string
}

func (p *PackageHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc(AppPackagesEndpoint, p.CreatePackageHandler).Methods("POST")
	router.HandleFunc(PackagesEndpoint, p.ListPackagesHandler).Methods("GET")
	router.HandleFunc(GetPackageEndpoint, p.GetPackageHandler).Methods("GET")
	router.HandleFunc(GetPackageEndpoint, p.DeletePackageHandler).Methods("DELETE")
	router.HandleFunc(UploadPackageEndpoint, p.UploadPackageHandler).Methods("POST")
}

// POST /v3/apps/:guid/packages
func (p *PackageHandler) CreatePackageHandler(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		returnMessageParseError(w)
		return
	}

	msg := messages.NewPackageCreateMessage(mux.Vars(r)["guid"], body)
	if ok, errs := msg.Validate(); !ok {
		returnUnprocessable(w, errs)
		return
	}

	pkg, err := p.Packages.Create(r.Context(), msg, p.Access(r))
	if err != nil {
		returnOperationError(w, p.Logger, err)
		return
	}
	writeResponse(w, http.StatusCreated, formatPackageToPresenter(pkg))
}

// POST /v3/packages/:guid/upload
// Accepts either a bits_path form field written by an upload proxy, or the bits file itself.
func (p *PackageHandler) UploadPackageHandler(w http.ResponseWriter, r *http.Request) {
	packageGUID := mux.Vars(r)["guid"]

	opts := map[string]string{}
	saved := false
	if err := r.ParseMultipartForm(maxInMemoryUploadBytes); err != nil && err != http.ErrNotMultipart {
		returnMessageParseError(w)
		return
	}
	if path := r.FormValue("bits_path"); path != "" {
		opts["bits_path"] = path
	} else if r.MultipartForm != nil {
		path, err := p.saveUpload(r)
		if err != nil {
			returnOperationError(w, p.Logger, err)
			return
		}
		opts["bits_path"] = path
		saved = path != ""
	}

	msg := messages.NewPackageUploadMessage(packageGUID, opts)
	if ok, errs := msg.Validate(); !ok {
		returnUnprocessable(w, errs)
		return
	}

	pkg, err := p.Packages.Upload(r.Context(), msg, p.Access(r))
	if err != nil {
		if saved {
			os.Remove(opts["bits_path"])
		}
		returnOperationError(w, p.Logger, err)
		return
	}
	writeResponse(w, http.StatusOK, formatPackageToPresenter(pkg))
}

// saveUpload copies the multipart bits file to UploadDir. It returns "" when the form has no
// bits file.
func (p *PackageHandler) saveUpload(r *http.Request) (string, error) {
	file, _, err := r.FormFile("bits")
	if err == http.ErrMissingFile {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer file.Close()

	dst, err := os.CreateTemp(p.UploadDir, "package-bits-*.zip")
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		os.Remove(dst.Name())
		return "", err
	}
	return dst.Name(), nil
}

// GET /v3/packages/:guid
func (p *PackageHandler) GetPackageHandler(w http.ResponseWriter, r *http.Request) {
	pkg, err := p.Packages.Show(r.Context(), mux.Vars(r)["guid"], p.Access(r))
	if err != nil {
		returnOperationError(w, p.Logger, err)
		return
	}
	if pkg == nil {
		returnNotFound(w, "Package")
		return
	}
	writeResponse(w, http.StatusOK, formatPackageToPresenter(pkg))
}

// GET /v3/packages
func (p *PackageHandler) ListPackagesHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	pagination, err := filters.ParsePagination(query)
	if err != nil {
		ReturnFormattedError(w, http.StatusBadRequest, "CF-BadQueryParameter", err.Error(), 10005)
		return
	}

	filterParams := filters.SplitQueryParameters(query)
	delete(filterParams, "page")
	delete(filterParams, "per_page")
	filter := &filters.PackageFilter{QueryParameters: filterParams}

	page, err := p.Packages.List(r.Context(), pagination, filter, p.Access(r))
	if err != nil {
		returnOperationError(w, p.Logger, err)
		return
	}
	writeResponse(w, http.StatusOK, formatPackagePage(page, query))
}

// DELETE /v3/packages/:guid
func (p *PackageHandler) DeletePackageHandler(w http.ResponseWriter, r *http.Request) {
	pkg, err := p.Packages.Delete(r.Context(), mux.Vars(r)["guid"], p.Access(r))
	if err != nil {
		returnOperationError(w, p.Logger, err)
		return
	}
	if pkg == nil {
		returnNotFound(w, "Package")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
