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
	cfports "github.com/jacksonlee411/issuefields/modules/customfield/domain/ports"
	"github.com/jacksonlee411/issuefields/modules/issuetypescheme/domain/ports"
	"github.com/jacksonlee411/issuefields/modules/issuetypescheme/domain/types"
	"github.com/jacksonlee411/issuefields/modules/issuetypescheme/services"
	"github.com/jacksonlee411/issuefields/pkg/httperr"
)

// PrincipalGetter returns the user name of the authenticated caller.
type PrincipalGetter func(ctx context.Context) (name string, ok bool)

const maxBodyBytes = 1 << 20

type migrationRequiredEnvelope struct {
	Code    string        `json:"code"`
	Message string        `json:"message"`
	Usages  []types.Usage `json:"usages"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string, message string) {
	routing.WriteError(w, r, routing.RouteClassInternalAPI, status, code, message)
}

func writeServiceError(w http.ResponseWriter, r *http.Request, rc routing.RouteClass, err error, message string) {
	if mr, ok := errors.AsType[*services.MigrationRequiredError](err); ok && rc == routing.RouteClassInternalAPI {
		writeJSON(w, http.StatusConflict, migrationRequiredEnvelope{
			Code:    mr.Error(),
			Message: "issues must be migrated first",
			Usages:  mr.Usages,
		})
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
	case errors.Is(err, ports.ErrIssueTypeNotFound),
		errors.Is(err, ports.ErrSchemeNotFound),
		errors.Is(err, ports.ErrSessionNotFound),
		errors.Is(err, cfports.ErrProjectNotFound),
		errors.Is(err, cfports.ErrIssueNotFound),
		errors.Is(err, cfports.ErrOptionNotFound):
		status, code = http.StatusNotFound, err.Error()
	case errors.Is(err, ports.ErrIssueTypeNameConflict),
		errors.Is(err, ports.ErrSchemeNameConflict),
		errors.Is(err, services.ErrInvalidTransition),
		errors.Is(err, services.ErrMigrationRequired):
		status, code = http.StatusConflict, err.Error()
	}
	routing.WriteError(w, r, rc, status, code, message)
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

func author(p PrincipalGetter, r *http.Request) string {
	if p == nil {
		return ""
	}
	name, _ := p(r.Context())
	return name
}
