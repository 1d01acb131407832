package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/jacksonlee411/issuefields/internal/routing"
	cfports "github.com/jacksonlee411/issuefields/modules/customfield/domain/ports"
	"github.com/jacksonlee411/issuefields/pkg/authz"
)

type Principal struct {
	Name     string
	RoleSlug string
}

type principalContextKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

func currentPrincipal(ctx context.Context) (Principal, bool) {
	v := ctx.Value(principalContextKey{})
	if v == nil {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

// principalName feeds the author of change groups.
func principalName(ctx context.Context) (string, bool) {
	p, ok := currentPrincipal(ctx)
	if !ok || p.Name == "" {
		return "", false
	}
	return p.Name, true
}

// withPrincipalFromHeader trusts the user name set by the fronting proxy.
// Members of adminGroup get the admin role; unknown users stay anonymous.
func withPrincipalFromHeader(classifier *routing.Classifier, header string, adminGroup string, users cfports.UserManager, groups cfports.GroupManager, logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimSpace(r.Header.Get(header))
		if name == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		user, err := users.GetUser(ctx, name)
		if errors.Is(err, cfports.ErrUserNotFound) || (err == nil && !user.Active) {
			next.ServeHTTP(w, r)
			return
		}
		if err != nil {
			logger.Error("principal lookup failed", zap.String("user", name), zap.Error(err))
			routing.WriteError(w, r, classifier.Classify(r.URL.Path), http.StatusInternalServerError, "principal_lookup_error", "principal lookup error")
			return
		}

		role := authz.RoleUser
		admin, err := groups.IsMember(ctx, adminGroup, user.Name)
		if err != nil && !errors.Is(err, cfports.ErrGroupNotFound) {
			logger.Error("group lookup failed", zap.String("user", name), zap.String("group", adminGroup), zap.Error(err))
			routing.WriteError(w, r, classifier.Classify(r.URL.Path), http.StatusInternalServerError, "principal_lookup_error", "principal lookup error")
			return
		}
		if admin {
			role = authz.RoleAdmin
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(ctx, Principal{Name: user.Name, RoleSlug: role})))
	})
}
