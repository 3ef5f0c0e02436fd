package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-logr/logr"

	"cloudfoundry.org/cf-staging/orchestrator"
	"cloudfoundry.org/cf-staging/staging"
)

const stagingErrorCode = 170001

func ReturnFormattedError(w http.ResponseWriter, status int, title string, detail string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(CFAPIErrors{
		Errors: []CFAPIError{
			{
				Title:  title,
				Detail: detail,
				Code:   code,
			},
		},
	})
}

func returnNotFound(w http.ResponseWriter, resource string) {
	ReturnFormattedError(w, http.StatusNotFound, "CF-ResourceNotFound", resource+" not found", 10010)
}

func returnUnprocessable(w http.ResponseWriter, errs []string) {
	ReturnFormattedError(w, http.StatusUnprocessableEntity, "CF-UnprocessableEntity", strings.Join(errs, ", "), 10008)
}

// returnOperationError maps an orchestrator or staging error onto a CF v3 error body.
func returnOperationError(w http.ResponseWriter, logger logr.Logger, err error) {
	var (
		invalidPackage *orchestrator.InvalidPackageError
		invalidRequest *orchestrator.InvalidRequestError
		apiErr         *staging.APIError
	)

	switch {
	case errors.Is(err, orchestrator.ErrUnauthorized):
		ReturnFormattedError(w, http.StatusForbidden, "CF-NotAuthorized", "You are not authorized to perform the requested action", 10003)
	case errors.Is(err, orchestrator.ErrPackageNotFound):
		returnNotFound(w, "Package")
	case errors.Is(err, orchestrator.ErrSpaceNotFound):
		returnUnprocessable(w, []string{"Space not found"})
	case errors.Is(err, orchestrator.ErrInvalidPackageType), errors.Is(err, orchestrator.ErrBitsAlreadyUploaded):
		returnUnprocessable(w, []string{err.Error()})
	case errors.As(err, &invalidPackage):
		returnUnprocessable(w, []string{invalidPackage.Error()})
	case errors.As(err, &invalidRequest):
		ReturnFormattedError(w, http.StatusBadRequest, "CF-InvalidRequest", invalidRequest.Reason, 10004)
	case errors.As(err, &apiErr):
		ReturnFormattedError(w, http.StatusBadRequest, "CF-"+apiErr.Code, apiErr.Message, stagingErrorCode)
	default:
		logger.Error(err, "request failed")
		ReturnFormattedError(w, http.StatusInternalServerError, "ServerError", err.Error(), 10001)
	}
}

func returnMessageParseError(w http.ResponseWriter) {
	ReturnFormattedError(w, http.StatusBadRequest, "CF-MessageParseError", "Request invalid due to parse error: invalid request body", 1001)
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

func writeResponse(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
