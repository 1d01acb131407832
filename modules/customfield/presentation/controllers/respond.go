package controllers

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/jacksonlee411/issuefields/internal/routing"
	"github.com/jacksonlee411/issuefields/modules/customfield/domain/fieldtypes"
	"github.com/jacksonlee411/issuefields/modules/customfield/domain/ports"
	"github.com/jacksonlee411/issuefields/modules/customfield/services"
	"github.com/jacksonlee411/issuefields/pkg/httperr"
)

// PrincipalGetter returns the user name of the authenticated caller.
type PrincipalGetter func(ctx context.Context) (name string, ok bool)

const maxBodyBytes = 1 << 20

type validationEnvelope struct {
	Code    string                  `json:"code"`
	Message string                  `json:"message"`
	Errors  []fieldtypes.FieldError `json:"errors"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string, message string) {
	routing.WriteError(w, r, routing.RouteClassInternalAPI, status, code, message)
}

func writeValidation(w http.ResponseWriter, errs []fieldtypes.FieldError) {
	writeJSON(w, http.StatusUnprocessableEntity, validationEnvelope{
		Code:    "field_validation_failed",
		Message: "field validation failed",
		Errors:  errs,
	})
}

// writeServiceError maps service and store errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, message string) {
	if vf, ok := errors.AsType[*services.ValidationFailedError](err); ok {
		writeValidation(w, vf.Errors)
		return
	}
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case httperr.IsBadRequest(err):
		status, code = http.StatusBadRequest, err.Error()
		message = cmp.Or(httperr.Detail(err), message)
	case httperr.IsNotFound(err):
		status, code = http.StatusNotFound, err.Error()
	case httperr.IsConflict(err):
		status, code = http.StatusConflict, err.Error()
	case errors.Is(err, ports.ErrFieldNotFound),
		errors.Is(err, ports.ErrFieldConfigNotFound),
		errors.Is(err, ports.ErrContextNotFound),
		errors.Is(err, ports.ErrOptionNotFound),
		errors.Is(err, ports.ErrIssueNotFound),
		errors.Is(err, ports.ErrProjectNotFound):
		status, code = http.StatusNotFound, err.Error()
	case errors.Is(err, ports.ErrOptionValueConflict),
		errors.Is(err, ports.ErrFieldNameConflict),
		errors.Is(err, ports.ErrIssueKeyConflict):
		status, code = http.StatusConflict, err.Error()
	case errors.Is(err, ports.ErrOptionOrderInvalid):
		status, code = http.StatusBadRequest, err.Error()
	}
	writeError(w, r, status, code, message)
}

func decodeBody(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	return json.Unmarshal(body, dst)
}

func pathInt(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(routing.PathParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

func queryInt(r *http.Request, name string) (int64, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil && id >= 0
}
