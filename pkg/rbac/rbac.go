package rbac

const (
	PermissionReadNotification   = "notification:read"
	PermissionUpdateNotification = "notification:update"
	PermissionDeleteNotification = "notification:delete"
	// Cleanup and creating notifications for other users.
	PermissionMaintain = "notification:maintain"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

var rolePermissions = map[string][]string{
	RoleUser: {
		PermissionReadNotification,
		PermissionUpdateNotification,
		PermissionDeleteNotification,
	},
	RoleAdmin: {
		PermissionReadNotification,
		PermissionUpdateNotification,
		PermissionDeleteNotification,
		PermissionMaintain,
	},
}

// NormalizeRole maps an empty or unknown role claim to RoleUser.
func NormalizeRole(role string) string {
	if _, ok := rolePermissions[role]; ok {
		return role
	}
	return RoleUser
}

// HasPermission reports whether role grants permission.
func HasPermission(role, permission string) bool {
	for _, p := range rolePermissions[NormalizeRole(role)] {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission is HasPermission returning a *PermissionDeniedError.
func CheckPermission(userID, role, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			UserID:     userID,
			Role:       NormalizeRole(role),
			Permission: permission,
		}
	}
	return nil
}

type PermissionDeniedError struct {
	UserID     string
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions"
}
