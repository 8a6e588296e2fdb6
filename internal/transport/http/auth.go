package http

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"

	"horizon-apply-service/internal/app"
	"horizon-apply-service/internal/domain"
)

// Authenticator turns a bearer token into a domain.User with a freshly
// resolved permission set. Permissions are recomputed per request from the
// token's role claims and the grant table; nothing is cached here, so a
// permission change shows up on the next request.
type Authenticator struct {
	secret     []byte
	grants     app.GrantSource
	superAdmin []string
}

func NewAuthenticator(secret string, grants app.GrantSource, superAdminRoleIDs []string) *Authenticator {
	return &Authenticator{
		secret:     []byte(secret),
		grants:     grants,
		superAdmin: superAdminRoleIDs,
	}
}

// UserFromRequest authenticates via the Authorization header, falling
// back to a "token" query parameter for websocket upgrades where headers
// are awkward to set from browsers.
func (a *Authenticator) UserFromRequest(r *http.Request) (domain.User, error) {
	raw := ""
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		raw = strings.TrimPrefix(header, "Bearer ")
	} else {
		raw = r.URL.Query().Get("token")
	}
	if raw == "" {
		return domain.User{}, fmt.Errorf("%w: missing bearer token", domain.ErrPermission)
	}
	return a.userFromToken(r, raw)
}

func (a *Authenticator) userFromToken(r *http.Request, raw string) (domain.User, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return domain.User{}, fmt.Errorf("%w: invalid or expired token", domain.ErrPermission)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return domain.User{}, fmt.Errorf("%w: invalid token payload", domain.ErrPermission)
	}
	userID, _ := claims["sub"].(string)
	username, _ := claims["username"].(string)
	if userID == "" {
		return domain.User{}, fmt.Errorf("%w: invalid token payload", domain.ErrPermission)
	}

	var roles []string
	if rawRoles, ok := claims["roles"].([]interface{}); ok {
		for _, r := range rawRoles {
			if s, ok := r.(string); ok {
				roles = append(roles, s)
			}
		}
	}

	grants, err := a.grants.RolePermissions(r.Context())
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: load grants: %v", domain.ErrUpstream, err)
	}

	return domain.User{
		ID:          userID,
		Username:    username,
		Roles:       roles,
		Permissions: domain.ResolvePermissions(roles, grants, a.superAdmin),
	}, nil
}
