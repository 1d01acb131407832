package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/jacksonlee411/issuefields/internal/routing"
	"github.com/jacksonlee411/issuefields/pkg/authz"
)

func loadAuthorizer(cfg Config) (*authz.Authorizer, error) {
	return authz.NewAuthorizer(cfg.AuthzModelPath, cfg.AuthzPolicyPath, cfg.AuthzMode)
}

type authorizer interface {
	Authorize(subject string, domain string, object string, action string) (allowed bool, enforced bool, err error)
}

func withAuthz(classifier *routing.Classifier, a authorizer, logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		object, action, shouldCheck := authzRequirementForRoute(r.Method, path)
		if !shouldCheck {
			next.ServeHTTP(w, r)
			return
		}
		rc := classifier.Classify(path)

		roleSlug := authz.RoleAnonymous
		p, signedIn := currentPrincipal(r.Context())
		if signedIn {
			roleSlug = p.RoleSlug
		}

		allowed, enforced, err := a.Authorize(authz.SubjectFromRoleSlug(roleSlug), authz.DomainGlobal, object, action)
		if err != nil {
			logger.Error("authz error", zap.String("object", object), zap.String("action", action), zap.Error(err))
			routing.WriteError(w, r, rc, http.StatusInternalServerError, "authz_error", "authz error")
			return
		}
		if !allowed && !enforced {
			logger.Info("authz shadow deny",
				zap.String("role", roleSlug),
				zap.String("object", object),
				zap.String("action", action),
				zap.String("path", path),
			)
		}
		if enforced && !allowed {
			if !signedIn {
				routing.WriteError(w, r, rc, http.StatusUnauthorized, "unauthorized", "unauthorized")
				return
			}
			routing.WriteError(w, r, rc, http.StatusForbidden, "forbidden", "forbidden")
			return
		}

		next.ServeHTTP(w, r)
	})
}

type authzRule struct {
	prefix string
	object string
	// read is used for GET, write for other methods
	read  string
	write string
}

// authzRules are matched in order on segment prefixes.
var authzRules = []authzRule{
	{prefix: "/fields/api/configs", object: authz.ObjectCustomFieldOptions, read: authz.ActionRead, write: authz.ActionAdmin},
	{prefix: "/fields/api/options", object: authz.ObjectCustomFieldOptions, read: authz.ActionRead, write: authz.ActionAdmin},
	{prefix: "/fields/api", object: authz.ObjectCustomFieldFields, read: authz.ActionRead, write: authz.ActionAdmin},
	{prefix: "/issues/api", object: authz.ObjectIssueValues, read: authz.ActionRead, write: authz.ActionWrite},
	{prefix: "/secure/EditCustomField.jspa", object: authz.ObjectIssueValues, read: authz.ActionRead, write: authz.ActionWrite},
	{prefix: "/admin/api/migrations", object: authz.ObjectAdminMigrations, read: authz.ActionRead, write: authz.ActionAdmin},
	{prefix: "/admin/api", object: authz.ObjectAdminIssueTypeSchemes, read: authz.ActionRead, write: authz.ActionAdmin},
	{prefix: "/secure/admin", object: authz.ObjectAdminIssueTypeSchemes, read: authz.ActionAdmin, write: authz.ActionAdmin},
}

func authzRequirementForRoute(method string, path string) (object string, action string, ok bool) {
	for _, rule := range authzRules {
		if !pathHasPrefixSegment(path, rule.prefix) {
			continue
		}
		switch method {
		case http.MethodGet, http.MethodHead:
			return rule.object, rule.read, true
		default:
			return rule.object, rule.write, true
		}
	}
	return "", "", false
}

func pathHasPrefixSegment(path, prefix string) bool {
	if path == prefix {
		return true
	}
	return len(path) > len(prefix) && path[:len(prefix)+1] == prefix+"/"
}

