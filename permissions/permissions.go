// Package permissions holds the access policies as pure predicates.
// Handlers translate a denial into 401 (anonymous) or 403 (authenticated);
// nothing in this package touches the HTTP layer.
package permissions

import (
	"net/http"

	"yamdb/models"
)

// SafeMethod reports whether the request method is read-only.
func SafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func Authenticated(user *models.User) bool {
	return user != nil
}

// IsSuperuser gates user management. Admins are admitted alongside
// superusers so that admin-created accounts remain possible; see DESIGN.md.
func IsSuperuser(user *models.User) bool {
	if user == nil {
		return false
	}
	return user.Role == models.RoleSuperuser || user.Role == models.RoleAdmin
}

// IsAdmin admits the admin role only.
func IsAdmin(user *models.User) bool {
	return user != nil && user.Role == models.RoleAdmin
}

// IsAdminOrReadOnly allows safe methods for everyone and mutation for
// admins and superusers.
func IsAdminOrReadOnly(method string, user *models.User) bool {
	if SafeMethod(method) {
		return true
	}
	if user == nil {
		return false
	}
	return user.Role == models.RoleAdmin || user.Role == models.RoleSuperuser
}

// IsOwnerOrReadOnly allows safe methods for everyone and mutation for the
// entity's author.
func IsOwnerOrReadOnly(method string, user *models.User, authorID int) bool {
	if SafeMethod(method) {
		return true
	}
	return user != nil && user.ID == authorID
}

// AuthenticatedOrReadOnly is the collection-level check for review and
// comment endpoints; role and ownership are enforced per object.
func AuthenticatedOrReadOnly(method string, user *models.User) bool {
	return SafeMethod(method) || user != nil
}

// IsAdminModeratorAuthorOrReadOnly is the object-level check for review and
// comment endpoints.
func IsAdminModeratorAuthorOrReadOnly(method string, user *models.User, authorID int) bool {
	if SafeMethod(method) {
		return true
	}
	if user == nil {
		return false
	}
	switch user.Role {
	case models.RoleModerator, models.RoleAdmin, models.RoleSuperuser:
		return true
	}
	return user.ID == authorID
}
