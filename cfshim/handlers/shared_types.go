package handlers

import (
	"net/http"

	"cloudfoundry.org/cf-staging/authz"
)

// AccessFunc resolves the caller of a request to what it may see and do.
type AccessFunc func(r *http.Request) authz.AccessContext

type CFAPILink struct {
	Href   string `json:"href"`
	Method string `json:"method,omitempty"`
}

type CFAPIMetadata struct {
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
}

type CFAPIPackageAppRelationships struct {
	App CFAPIPackageAppRelationshipsApp `json:"app"`
}

type CFAPIPackageAppRelationshipsApp struct {
	Data CFAPIPackageAppRelationshipsAppData `json:"data"`
}

type CFAPIPackageAppRelationshipsAppData struct {
	GUID string `json:"guid"`
}

type CFAPIPagination struct {
	TotalResults int        `json:"total_results"`
	TotalPages   int        `json:"total_pages"`
	First        CFAPILink  `json:"first"`
	Last         CFAPILink  `json:"last"`
	Next         *CFAPILink `json:"next"`
	Previous     *CFAPILink `json:"previous"`
}

type CFAPIErrors struct {
	Errors []CFAPIError `json:"errors"`
}

type CFAPIError struct {
	Detail string `json:"detail"`
	Title  string `json:"title"`
	Code   int    `json:"code"`
}
