package controllers

import (
	"net/http"

	"github.com/jacksonlee411/issuefields/internal/routing"
	"github.com/jacksonlee411/issuefields/modules/issuetypescheme/domain/types"
	"github.com/jacksonlee411/issuefields/modules/issuetypescheme/services"
)

// MigrationsController drives the bulk issue type migration wizard.
type MigrationsController struct {
	Wizard    services.MigrationWizard
	Principal PrincipalGetter
}

func (c MigrationsController) Register(r *routing.Router) {
	rc := routing.RouteClassInternalAPI
	r.Handle(rc, http.MethodPost, "/admin/api/migrations", http.HandlerFunc(c.HandleStart))
	r.Handle(rc, http.MethodGet, "/admin/api/migrations/{id}", http.HandlerFunc(c.HandleGet))
	for _, action := range []string{"targets", "mappings", "next", "back", "execute", "cancel"} {
		r.Handle(rc, http.MethodPost, "/admin/api/migrations/{id}:"+action, c.stepAction(action))
	}
}

type migrationStepAPIRequest struct {
	Targets  []services.TargetChoice `json:"targets"`
	Mappings []types.FieldMapping    `json:"mappings"`
}

func (c MigrationsController) HandleStart(w http.ResponseWriter, r *http.Request) {
	var req services.StartMigrationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
		return
	}
	req.Author = author(c.Principal, r)
	sess, err := c.Wizard.Start(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, routing.RouteClassInternalAPI, err, "start failed")
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (c MigrationsController) HandleGet(w http.ResponseWriter, r *http.Request) {
	sess, err := c.Wizard.Get(r.Context(), routing.PathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, routing.RouteClassInternalAPI, err, "get failed")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (c MigrationsController) stepAction(action string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req migrationStepAPIRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
			return
		}
		ctx, id := r.Context(), routing.PathParam(r, "id")
		var (
			sess types.MigrationSession
			err  error
		)
		switch action {
		case "targets":
			sess, err = c.Wizard.SetTargets(ctx, id, req.Targets)
		case "mappings":
			sess, err = c.Wizard.SetFieldMappings(ctx, id, req.Mappings)
		case "next":
			sess, err = c.Wizard.Next(ctx, id)
		case "back":
			sess, err = c.Wizard.Back(ctx, id)
		case "execute":
			sess, err = c.Wizard.Execute(ctx, id)
		case "cancel":
			sess, err = c.Wizard.Cancel(ctx, id)
		}
		if err != nil {
			writeServiceError(w, r, routing.RouteClassInternalAPI, err, action+" failed")
			return
		}
		writeJSON(w, http.StatusOK, sess)
	})
}
