package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Define the routes used in the REST endpoints
const (
	RootEndpoint = "/"
	V3Endpoint   = "/v3"
)

// RootHandler answers the discovery endpoints cf clients call before anything else.
type RootHandler struct {
	ExternalURL string
}

type CFAPIRootResponse struct {
	Links map[string]*CFAPILink `json:"links"`
}

func (h *RootHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc(RootEndpoint, h.HandleRoot).Methods("GET")
	router.HandleFunc(V3Endpoint, h.HandleV3).Methods("GET")
}

func (h *RootHandler) HandleRoot(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, http.StatusOK, CFAPIRootResponse{
		Links: map[string]*CFAPILink{
			"self":                {Href: h.ExternalURL},
			"cloud_controller_v3": {Href: h.ExternalURL + V3Endpoint},
		},
	})
}

func (h *RootHandler) HandleV3(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, http.StatusOK, CFAPIRootResponse{
		Links: map[string]*CFAPILink{
			"self":     {Href: h.ExternalURL + V3Endpoint},
			"packages": {Href: h.ExternalURL + PackagesEndpoint},
			"droplets": {Href: h.ExternalURL + DropletsEndpoint},
		},
	})
}
