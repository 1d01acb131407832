package controllers

import (
	"net/http"

	"github.com/jacksonlee411/issuefields/internal/routing"
	"github.com/jacksonlee411/issuefields/modules/issuetypescheme/domain/types"
	"github.com/jacksonlee411/issuefields/modules/issuetypescheme/services"
)

// SchemesController serves the issue type and issue type scheme admin API.
type SchemesController struct {
	Schemes services.SchemeService
}

func (c SchemesController) Register(r *routing.Router) {
	rc := routing.RouteClassInternalAPI
	r.Handle(rc, http.MethodGet, "/admin/api/issue-types", http.HandlerFunc(c.HandleListIssueTypes))
	r.Handle(rc, http.MethodPost, "/admin/api/issue-types", http.HandlerFunc(c.HandleCreateIssueType))
	r.Handle(rc, http.MethodPost, "/admin/api/issue-types/{id}:delete", http.HandlerFunc(c.HandleDeleteIssueType))
	r.Handle(rc, http.MethodGet, "/admin/api/issue-type-schemes", http.HandlerFunc(c.HandleListSchemes))
	r.Handle(rc, http.MethodPost, "/admin/api/issue-type-schemes", http.HandlerFunc(c.HandleCreateScheme))
	r.Handle(rc, http.MethodGet, "/admin/api/issue-type-schemes/{id}", http.HandlerFunc(c.HandleGetScheme))
	r.Handle(rc, http.MethodGet, "/admin/api/projects/{project_id}/issue-type-scheme", http.HandlerFunc(c.HandleProjectScheme))
	for _, action := range []string{"update", "copy", "delete", "associate", "add-issue-type", "reorder", "set-default"} {
		r.Handle(rc, http.MethodPost, "/admin/api/issue-type-schemes/{id}:"+action, c.schemeAction(action))
	}
}

type schemeActionAPIRequest struct {
	types.SchemeOptions
	ProjectIDs  []int64 `json:"project_ids"`
	IssueTypeID string  `json:"issue_type_id"`
	Subtask     bool    `json:"subtask"`
	IconURL     string  `json:"icon_url"`
}

func (c SchemesController) HandleListIssueTypes(w http.ResponseWriter, r *http.Request) {
	all, err := c.Schemes.ListIssueTypes(r.Context())
	if err != nil {
		writeServiceError(w, r, routing.RouteClassInternalAPI, err, "list failed")
		return
	}
	if all == nil {
		all = make([]types.IssueType, 0)
	}
	writeJSON(w, http.StatusOK, map[string]any{"issue_types": all})
}

func (c SchemesController) HandleCreateIssueType(w http.ResponseWriter, r *http.Request) {
	var req services.CreateIssueTypeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
		return
	}
	t, err := c.Schemes.CreateIssueType(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, routing.RouteClassInternalAPI, err, "create failed")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (c SchemesController) HandleDeleteIssueType(w http.ResponseWriter, r *http.Request) {
	if err := c.Schemes.DeleteIssueType(r.Context(), routing.PathParam(r, "id")); err != nil {
		writeServiceError(w, r, routing.RouteClassInternalAPI, err, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c SchemesController) HandleListSchemes(w http.ResponseWriter, r *http.Request) {
	all, err := c.Schemes.ListSchemes(r.Context())
	if err != nil {
		writeServiceError(w, r, routing.RouteClassInternalAPI, err, "list failed")
		return
	}
	if all == nil {
		all = make([]types.Scheme, 0)
	}
	writeJSON(w, http.StatusOK, map[string]any{"schemes": all})
}

func (c SchemesController) HandleCreateScheme(w http.ResponseWriter, r *http.Request) {
	var req types.SchemeOptions
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
		return
	}
	sc, err := c.Schemes.CreateScheme(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, routing.RouteClassInternalAPI, err, "create failed")
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}

func (c SchemesController) HandleGetScheme(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(r, "id")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid_id", "invalid id")
		return
	}
	sc, err := c.Schemes.GetScheme(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, routing.RouteClassInternalAPI, err, "get failed")
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (c SchemesController) HandleProjectScheme(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathInt(r, "project_id")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid_project_id", "invalid project_id")
		return
	}
	sc, err := c.Schemes.SchemeForProject(r.Context(), projectID)
	if err != nil {
		writeServiceError(w, r, routing.RouteClassInternalAPI, err, "get failed")
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (c SchemesController) schemeAction(action string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathInt(r, "id")
		if !ok {
			writeError(w, r, http.StatusBadRequest, "invalid_id", "invalid id")
			return
		}
		var req schemeActionAPIRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
			return
		}

		ctx := r.Context()
		var (
			sc  types.Scheme
			err error
		)
		status := http.StatusOK
		switch action {
		case "update":
			sc, err = c.Schemes.UpdateScheme(ctx, id, req.SchemeOptions)
		case "copy":
			sc, err = c.Schemes.CopyScheme(ctx, id)
			status = http.StatusCreated
		case "delete":
			if err = c.Schemes.DeleteScheme(ctx, id); err == nil {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		case "associate":
			sc, err = c.Schemes.AssociateProjects(ctx, id, req.ProjectIDs)
		case "add-issue-type":
			var t types.IssueType
			sc, t, err = c.Schemes.AddNewIssueTypeToScheme(ctx, services.AddIssueTypeRequest{
				SchemeID: id,
				CreateIssueTypeRequest: services.CreateIssueTypeRequest{
					Name:        req.Name,
					Description: req.Description,
					Subtask:     req.Subtask,
					IconURL:     req.IconURL,
				},
			})
			if err == nil {
				writeJSON(w, http.StatusCreated, map[string]any{"scheme": sc, "issue_type": t})
				return
			}
		case "reorder":
			sc, err = c.Schemes.ReorderOptions(ctx, id, req.IssueTypeIDs)
		case "set-default":
			sc, err = c.Schemes.SetDefault(ctx, id, req.IssueTypeID)
		}
		if err != nil {
			writeServiceError(w, r, routing.RouteClassInternalAPI, err, action+" failed")
			return
		}
		writeJSON(w, status, sc)
	})
}
