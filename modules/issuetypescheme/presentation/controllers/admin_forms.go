package controllers

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/jacksonlee411/issuefields/internal/routing"
	"github.com/jacksonlee411/issuefields/modules/issuetypescheme/domain/types"
	"github.com/jacksonlee411/issuefields/modules/issuetypescheme/services"
)

const (
	manageSchemesPath    = "/secure/admin/ManageIssueTypeSchemes!default.jspa"
	configureSchemePath  = "/secure/admin/ConfigureIssueTypeOptionScheme!default.jspa"
	migrateIssueTypePath = "/secure/admin/MigrateIssueTypes!default.jspa"
)

// AdminFormsController accepts the classic admin form posts and answers with
// redirects.
type AdminFormsController struct {
	Schemes   services.SchemeService
	Wizard    services.MigrationWizard
	Principal PrincipalGetter
}

func (c AdminFormsController) Register(r *routing.Router) {
	rc := routing.RouteClassUI
	r.Handle(rc, http.MethodPost, "/secure/admin/AddNewIssueTypeToScheme.jspa", http.HandlerFunc(c.HandleAddIssueType))
	r.Handle(rc, http.MethodPost, "/secure/admin/ConfigureIssueTypeOptionScheme.jspa", http.HandlerFunc(c.HandleConfigureScheme))
}

func formSchemeID(form url.Values) (int64, bool) {
	raw := strings.TrimSpace(form.Get("schemeId"))
	if raw == "" {
		return 0, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil && id > 0
}

func formBool(form url.Values, name string) bool {
	switch strings.ToLower(strings.TrimSpace(form.Get(name))) {
	case "true", "on", "1", "yes":
		return true
	default:
		return false
	}
}

func (c AdminFormsController) HandleAddIssueType(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		routing.WriteError(w, r, routing.RouteClassUI, http.StatusBadRequest, "bad_form", "bad form")
		return
	}
	schemeID, ok := formSchemeID(r.PostForm)
	if !ok || schemeID == 0 {
		routing.WriteError(w, r, routing.RouteClassUI, http.StatusBadRequest, "invalid_scheme_id", "schemeId is required")
		return
	}
	_, _, err := c.Schemes.AddNewIssueTypeToScheme(r.Context(), services.AddIssueTypeRequest{
		SchemeID: schemeID,
		CreateIssueTypeRequest: services.CreateIssueTypeRequest{
			Name:        r.PostForm.Get("name"),
			Description: r.PostForm.Get("description"),
			Subtask:     formBool(r.PostForm, "subtask"),
			IconURL:     r.PostForm.Get("iconurl"),
		},
	})
	if err != nil {
		writeServiceError(w, r, routing.RouteClassUI, err, "could not add the issue type")
		return
	}
	http.Redirect(w, r, configureSchemePath+"?schemeId="+strconv.FormatInt(schemeID, 10), http.StatusFound)
}

// HandleConfigureScheme creates a scheme when schemeId is empty and edits it
// otherwise. An edit that strands issues opens a migration session instead.
func (c AdminFormsController) HandleConfigureScheme(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		routing.WriteError(w, r, routing.RouteClassUI, http.StatusBadRequest, "bad_form", "bad form")
		return
	}
	schemeID, ok := formSchemeID(r.PostForm)
	if !ok {
		routing.WriteError(w, r, routing.RouteClassUI, http.StatusBadRequest, "invalid_scheme_id", "invalid schemeId")
		return
	}
	opts := types.SchemeOptions{
		Name:               r.PostForm.Get("name"),
		Description:        r.PostForm.Get("description"),
		DefaultIssueTypeID: r.PostForm.Get("defaultOption"),
		IssueTypeIDs:       r.PostForm["selectedOptions"],
	}

	ctx := r.Context()
	var err error
	if schemeID == 0 {
		_, err = c.Schemes.CreateScheme(ctx, opts)
	} else {
		_, err = c.Schemes.UpdateScheme(ctx, schemeID, opts)
	}
	if errors.Is(err, services.ErrMigrationRequired) {
		sess, startErr := c.Wizard.Start(ctx, services.StartMigrationRequest{
			Kind:     types.MigrationUpdateOptions,
			SchemeID: schemeID,
			Proposed: &opts,
			Author:   author(c.Principal, r),
		})
		if startErr != nil {
			writeServiceError(w, r, routing.RouteClassUI, startErr, "could not start the migration")
			return
		}
		http.Redirect(w, r, migrateIssueTypePath+"?sessionId="+url.QueryEscape(sess.ID), http.StatusFound)
		return
	}
	if err != nil {
		writeServiceError(w, r, routing.RouteClassUI, err, "could not save the scheme")
		return
	}
	http.Redirect(w, r, manageSchemesPath, http.StatusFound)
}
