package restapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cuemby/agentctl/pkg/apierrors"
	"github.com/go-playground/validator/v10"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

type errorBody struct {
	Error  string   `json:"error"`
	Errors []string `json:"errors,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	switch apierrors.KindOf(err) {
	case apierrors.KindValidation:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case apierrors.KindNotFound:
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case apierrors.KindConflict:
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case apierrors.KindNotOwner:
		writeJSON(w, http.StatusForbidden, errorBody{Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

func writeValidationErrors(w http.ResponseWriter, err error) {
	body := errorBody{Error: "validation failed"}
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			body.Errors = append(body.Errors, fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag()))
		}
	} else {
		body.Errors = []string{err.Error()}
	}
	writeJSON(w, http.StatusBadRequest, body)
}
