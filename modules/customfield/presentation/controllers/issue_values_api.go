package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/jacksonlee411/issuefields/internal/routing"
	"github.com/jacksonlee411/issuefields/modules/customfield/domain/fieldtypes"
	"github.com/jacksonlee411/issuefields/modules/customfield/domain/types"
	"github.com/jacksonlee411/issuefields/modules/customfield/services"
)

// IssueValuesController reads and edits custom field values of issues.
type IssueValuesController struct {
	Fields    services.FieldService
	Principal PrincipalGetter
}

func (c IssueValuesController) Register(r *routing.Router) {
	rc := routing.RouteClassInternalAPI
	r.Handle(rc, http.MethodGet, "/issues/api/issues/{issue_key}/fields/{field_id}", http.HandlerFunc(c.HandleGetValue))
	r.Handle(rc, http.MethodPut, "/issues/api/issues/{issue_key}/fields/{field_id}", http.HandlerFunc(c.HandlePutValue))
	r.Handle(rc, http.MethodGet, "/issues/api/issues/{issue_key}/fields/{field_id}/edit", http.HandlerFunc(c.HandleEditView))
	r.Handle(rc, http.MethodGet, "/issues/api/issues/{issue_key}/changelog", http.HandlerFunc(c.HandleChangeLog))
	r.Handle(routing.RouteClassUI, http.MethodPost, "/secure/EditCustomField.jspa", http.HandlerFunc(c.HandleEditForm))
}

type putValueAPIRequest struct {
	Value json.RawMessage `json:"value"`
}

func (c IssueValuesController) author(r *http.Request) string {
	if c.Principal == nil {
		return ""
	}
	name, _ := c.Principal(r.Context())
	return name
}

func (c IssueValuesController) HandleGetValue(w http.ResponseWriter, r *http.Request) {
	v, err := c.Fields.ValueJSON(r.Context(), routing.PathParam(r, "issue_key"), routing.PathParam(r, "field_id"))
	if err != nil {
		writeServiceError(w, r, err, "get value failed")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (c IssueValuesController) HandlePutValue(w http.ResponseWriter, r *http.Request) {
	var req putValueAPIRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
		return
	}
	if len(req.Value) == 0 {
		req.Value = json.RawMessage("null")
	}
	res, err := c.Fields.UpdateValueJSON(r.Context(), services.UpdateValueJSONRequest{
		IssueKey: routing.PathParam(r, "issue_key"),
		FieldID:  routing.PathParam(r, "field_id"),
		Raw:      req.Value,
		Author:   c.author(r),
	})
	if err != nil {
		writeServiceError(w, r, err, "update value failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (c IssueValuesController) HandleEditView(w http.ResponseWriter, r *http.Request) {
	v, err := c.Fields.EditView(r.Context(), routing.PathParam(r, "issue_key"), routing.PathParam(r, "field_id"))
	if err != nil {
		writeServiceError(w, r, err, "edit view failed")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (c IssueValuesController) HandleChangeLog(w http.ResponseWriter, r *http.Request) {
	key := routing.PathParam(r, "issue_key")
	groups, err := c.Fields.ChangeLog(r.Context(), key)
	if err != nil {
		writeServiceError(w, r, err, "changelog failed")
		return
	}
	if groups == nil {
		groups = make([]types.ChangeGroup, 0)
	}
	writeJSON(w, http.StatusOK, map[string]any{"issue_key": strings.ToUpper(key), "histories": groups})
}

// HandleEditForm applies every customfield_N[:1] value of a submitted issue
// edit form and redirects to the issue, or answers 422 with all field errors
// and saves nothing.
func (c IssueValuesController) HandleEditForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_form", "bad form")
		return
	}
	key := strings.TrimSpace(r.PostForm.Get("issue"))
	if key == "" {
		writeError(w, r, http.StatusBadRequest, "missing_issue", "issue is required")
		return
	}

	ids := formFieldIDs(r.PostForm)
	values := make([]services.FieldParams, 0, len(ids))
	for _, fieldID := range ids {
		values = append(values, services.FieldParams{
			FieldID: fieldID,
			Params:  fieldtypes.ParamsFromForm(r.PostForm, fieldID),
		})
	}
	_, err := c.Fields.UpdateValues(r.Context(), services.UpdateValuesRequest{
		IssueKey: key,
		Values:   values,
		Author:   c.author(r),
	})
	if err != nil {
		if vf, ok := errors.AsType[*services.ValidationFailedError](err); ok {
			writeValidation(w, vf.Errors)
			return
		}
		writeServiceError(w, r, err, "update value failed")
		return
	}
	http.Redirect(w, r, "/browse/"+url.PathEscape(strings.ToUpper(key)), http.StatusFound)
}

func formFieldIDs(form url.Values) []string {
	seen := map[string]bool{}
	var out []string
	for k := range form {
		id := strings.TrimSuffix(k, ":1")
		if _, ok := types.NumericFromFieldID(id); !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
