package controllers

import (
	"net/http"
	"strings"

	"github.com/jacksonlee411/issuefields/internal/routing"
	"github.com/jacksonlee411/issuefields/modules/customfield/domain/fieldtypes"
	"github.com/jacksonlee411/issuefields/modules/customfield/domain/types"
	"github.com/jacksonlee411/issuefields/modules/customfield/services"
)

// FieldsController serves the custom field admin API.
type FieldsController struct {
	Fields  services.FieldService
	Options services.OptionService
}

func (c FieldsController) Register(r *routing.Router) {
	rc := routing.RouteClassInternalAPI
	r.Handle(rc, http.MethodGet, "/fields/api/field-types", http.HandlerFunc(c.HandleFieldTypes))
	r.Handle(rc, http.MethodGet, "/fields/api/fields", http.HandlerFunc(c.HandleListFields))
	r.Handle(rc, http.MethodPost, "/fields/api/fields", http.HandlerFunc(c.HandleCreateField))
	r.Handle(rc, http.MethodGet, "/fields/api/fields/{field_id}", http.HandlerFunc(c.HandleGetField))
	r.Handle(rc, http.MethodGet, "/fields/api/fields/{field_id}/contexts", http.HandlerFunc(c.HandleListContexts))
	r.Handle(rc, http.MethodPost, "/fields/api/fields/{field_id}/contexts", http.HandlerFunc(c.HandleAddContext))
	r.Handle(rc, http.MethodPost, "/fields/api/fields/{field_id}/contexts/{context_id}:delete", http.HandlerFunc(c.HandleRemoveContext))
	r.Handle(rc, http.MethodPost, "/fields/api/configs/{config_id}", http.HandlerFunc(c.HandleUpdateConfig))
	r.Handle(rc, http.MethodPost, "/fields/api/configs/{config_id}/default", http.HandlerFunc(c.HandleSetDefault))
	r.Handle(rc, http.MethodGet, "/fields/api/configs/{config_id}/options", http.HandlerFunc(c.HandleListOptions))
	r.Handle(rc, http.MethodPost, "/fields/api/configs/{config_id}/options", http.HandlerFunc(c.HandleAddOption))
	r.Handle(rc, http.MethodPost, "/fields/api/configs/{config_id}/options:sort", http.HandlerFunc(c.HandleSortOptions))
	for _, action := range []string{"rename", "disable", "enable", "delete", "move"} {
		r.Handle(rc, http.MethodPost, "/fields/api/options/{option_id}:"+action, c.optionAction(action))
	}
}

type createFieldAPIRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	TypeKey     string `json:"type_key"`
}

type addContextAPIRequest struct {
	Name         string   `json:"name"`
	ProjectIDs   []int64  `json:"project_ids"`
	IssueTypeIDs []string `json:"issue_type_ids"`
}

type updateConfigAPIRequest struct {
	Required       *bool   `json:"required"`
	ValidationExpr *string `json:"validation_expr"`
}

// defaultAPIRequest carries raw values per level, like a form submission.
type defaultAPIRequest struct {
	Values      []string `json:"values"`
	ChildValues []string `json:"child_values"`
}

type addOptionAPIRequest struct {
	Value    string `json:"value"`
	ParentID int64  `json:"parent_id"`
}

type optionActionAPIRequest struct {
	Value     string `json:"value"`
	Position  *int   `json:"position"`
	Direction string `json:"direction"`
}

type sortOptionsAPIRequest struct {
	ParentID int64 `json:"parent_id"`
}

func (c FieldsController) HandleFieldTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"field_types": c.Fields.FieldTypes()})
}

func (c FieldsController) HandleListFields(w http.ResponseWriter, r *http.Request) {
	fields, err := c.Fields.ListFields(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "list failed")
		return
	}
	if fields == nil {
		fields = make([]types.CustomField, 0)
	}
	writeJSON(w, http.StatusOK, map[string]any{"fields": fields})
}

func (c FieldsController) HandleCreateField(w http.ResponseWriter, r *http.Request) {
	var req createFieldAPIRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
		return
	}
	d, err := c.Fields.CreateField(r.Context(), services.CreateFieldRequest{
		Name:        req.Name,
		Description: req.Description,
		TypeKey:     strings.TrimSpace(req.TypeKey),
	})
	if err != nil {
		writeServiceError(w, r, err, "create failed")
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (c FieldsController) HandleGetField(w http.ResponseWriter, r *http.Request) {
	d, err := c.Fields.GetField(r.Context(), routing.PathParam(r, "field_id"))
	if err != nil {
		writeServiceError(w, r, err, "get failed")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (c FieldsController) HandleListContexts(w http.ResponseWriter, r *http.Request) {
	contexts, err := c.Fields.ListContexts(r.Context(), routing.PathParam(r, "field_id"))
	if err != nil {
		writeServiceError(w, r, err, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contexts": contexts})
}

func (c FieldsController) HandleAddContext(w http.ResponseWriter, r *http.Request) {
	var req addContextAPIRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
		return
	}
	d, err := c.Fields.AddContext(r.Context(), services.AddContextRequest{
		FieldID:      routing.PathParam(r, "field_id"),
		Name:         req.Name,
		ProjectIDs:   req.ProjectIDs,
		IssueTypeIDs: req.IssueTypeIDs,
	})
	if err != nil {
		writeServiceError(w, r, err, "add context failed")
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (c FieldsController) HandleRemoveContext(w http.ResponseWriter, r *http.Request) {
	schemeID, ok := pathInt(r, "context_id")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid_context_id", "invalid context_id")
		return
	}
	if err := c.Fields.RemoveContext(r.Context(), routing.PathParam(r, "field_id"), schemeID); err != nil {
		writeServiceError(w, r, err, "remove context failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c FieldsController) HandleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	configID, ok := pathInt(r, "config_id")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid_config_id", "invalid config_id")
		return
	}
	var req updateConfigAPIRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
		return
	}
	cfg, err := c.Fields.UpdateConfig(r.Context(), services.UpdateConfigRequest{
		ConfigID:       configID,
		Required:       req.Required,
		ValidationExpr: req.ValidationExpr,
	})
	if err != nil {
		writeServiceError(w, r, err, "update config failed")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (c FieldsController) HandleSetDefault(w http.ResponseWriter, r *http.Request) {
	configID, ok := pathInt(r, "config_id")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid_config_id", "invalid config_id")
		return
	}
	var req defaultAPIRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
		return
	}
	params := fieldtypes.NewParams()
	for _, v := range req.Values {
		params.Add(types.LevelParent, v)
	}
	for _, v := range req.ChildValues {
		params.Add(types.LevelChild, v)
	}
	cfg, err := c.Fields.SetDefault(r.Context(), configID, params)
	if err != nil {
		writeServiceError(w, r, err, "set default failed")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (c FieldsController) HandleListOptions(w http.ResponseWriter, r *http.Request) {
	configID, ok := pathInt(r, "config_id")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid_config_id", "invalid config_id")
		return
	}
	parentID, ok := queryInt(r, "parent_id")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid_parent_id", "invalid parent_id")
		return
	}
	opts, err := c.Options.ListOptions(r.Context(), configID, parentID)
	if err != nil {
		writeServiceError(w, r, err, "list failed")
		return
	}
	if opts == nil {
		opts = make([]types.Option, 0)
	}
	writeJSON(w, http.StatusOK, map[string]any{"config_id": configID, "parent_id": parentID, "options": opts})
}

func (c FieldsController) HandleAddOption(w http.ResponseWriter, r *http.Request) {
	configID, ok := pathInt(r, "config_id")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid_config_id", "invalid config_id")
		return
	}
	var req addOptionAPIRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
		return
	}
	o, err := c.Options.AddOption(r.Context(), services.AddOptionRequest{ConfigID: configID, ParentID: req.ParentID, Value: req.Value})
	if err != nil {
		writeServiceError(w, r, err, "add option failed")
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (c FieldsController) HandleSortOptions(w http.ResponseWriter, r *http.Request) {
	configID, ok := pathInt(r, "config_id")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid_config_id", "invalid config_id")
		return
	}
	var req sortOptionsAPIRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
		return
	}
	if err := c.Options.SortAlphabetically(r.Context(), configID, req.ParentID); err != nil {
		writeServiceError(w, r, err, "sort failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c FieldsController) optionAction(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		optionID, ok := pathInt(r, "option_id")
		if !ok {
			writeError(w, r, http.StatusBadRequest, "invalid_option_id", "invalid option_id")
			return
		}
		var req optionActionAPIRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
			return
		}

		ctx := r.Context()
		switch action {
		case "rename":
			o, err := c.Options.RenameOption(ctx, optionID, req.Value)
			if err != nil {
				writeServiceError(w, r, err, "rename failed")
				return
			}
			writeJSON(w, http.StatusOK, o)
		case "disable", "enable":
			disable := c.Options.DisableOption
			if action == "enable" {
				disable = c.Options.EnableOption
			}
			o, err := disable(ctx, optionID)
			if err != nil {
				writeServiceError(w, r, err, action+" failed")
				return
			}
			writeJSON(w, http.StatusOK, o)
		case "delete":
			res, err := c.Options.DeleteOption(ctx, optionID)
			if err != nil {
				writeServiceError(w, r, err, "delete failed")
				return
			}
			writeJSON(w, http.StatusOK, res)
		case "move":
			var err error
			switch {
			case req.Position != nil:
				err = c.Options.MoveOption(ctx, optionID, *req.Position)
			case req.Direction == "up":
				err = c.Options.MoveUp(ctx, optionID)
			case req.Direction == "down":
				err = c.Options.MoveDown(ctx, optionID)
			default:
				writeError(w, r, http.StatusBadRequest, "invalid_move", "position or direction is required")
				return
			}
			if err != nil {
				writeServiceError(w, r, err, "move failed")
				return
			}
			w.WriteHeader(http.StatusNoContent)
		}
	}
}
