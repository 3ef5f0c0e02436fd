package handlers

import (
	"context"
	"net/http"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"

	appsv1alpha1 "cloudfoundry.org/cf-staging/api/v1alpha1"
	"cloudfoundry.org/cf-staging/authz"
	"cloudfoundry.org/cf-staging/messages"
	"cloudfoundry.org/cf-staging/settings"
)

const (
	StagePackageEndpoint = GetPackageEndpoint + "/droplets"
	DropletsEndpoint     = "/v3/droplets"
	GetDropletEndpoint   = DropletsEndpoint + "/{guid}"
)

type DropletRepository interface {
	Create(ctx context.Context, msg *messages.StagingMessage, access authz.Authorizer) (*appsv1alpha1.Droplet, error)
	Show(ctx context.Context, guid string, access authz.Authorizer) (*appsv1alpha1.Droplet, error)
}

type DropletHandler struct {
	Droplets DropletRepository
	Access   AccessFunc
	Staging  settings.Staging
	Logger   logr.Logger
}

func (d *DropletHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc(StagePackageEndpoint, d.StagePackageHandler).Methods("POST")
	router.HandleFunc(GetDropletEndpoint, d.GetDropletHandler).Methods("GET")
}

// POST /v3/packages/:guid/droplets
func (d *DropletHandler) StagePackageHandler(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		returnMessageParseError(w)
		return
	}

	msg := messages.NewStagingMessage(mux.Vars(r)["guid"], body, d.Staging)
	if ok, errs := msg.Validate(); !ok {
		returnUnprocessable(w, errs)
		return
	}

	droplet, err := d.Droplets.Create(r.Context(), msg, d.Access(r))
	if err != nil {
		returnOperationError(w, d.Logger, err)
		return
	}
	writeResponse(w, http.StatusCreated, formatDropletToPresenter(droplet))
}

// GET /v3/droplets/:guid
func (d *DropletHandler) GetDropletHandler(w http.ResponseWriter, r *http.Request) {
	droplet, err := d.Droplets.Show(r.Context(), mux.Vars(r)["guid"], d.Access(r))
	if err != nil {
		returnOperationError(w, d.Logger, err)
		return
	}
	if droplet == nil {
		returnNotFound(w, "Droplet")
		return
	}
	writeResponse(w, http.StatusOK, formatDropletToPresenter(droplet))
}
