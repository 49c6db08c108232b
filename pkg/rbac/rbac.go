package rbac

import "fmt"

// 权限常量
const (
	PermissionCreateProject     = "project:create"
	PermissionCompleteMilestone = "milestone:complete"
	PermissionDonate            = "escrow:donate"
	PermissionVerify            = "milestone:verify"
	PermissionRefreshRelease    = "release:refresh"
	PermissionEmergencyRelease  = "release:emergency"
	PermissionRepairLedger      = "ledger:repair"
	PermissionPost              = "feed:post"
	PermissionComment           = "feed:comment"
)

// 角色常量
const (
	RoleNGO       = "ngo"
	RoleDonor     = "donor"
	RoleVerifier  = "verifier"
	RoleCommunity = "community"
	RoleAdmin     = "admin"
)

var rolePermissions = map[string][]string{
	RoleNGO: {
		PermissionCreateProject,
		PermissionCompleteMilestone,
		PermissionRefreshRelease,
		PermissionPost,
		PermissionComment,
	},
	RoleDonor: {
		PermissionDonate,
		PermissionComment,
	},
	RoleVerifier: {
		PermissionVerify,
		PermissionRefreshRelease,
		PermissionComment,
	},
	RoleCommunity: {
		PermissionPost,
		PermissionComment,
	},
	RoleAdmin: {
		PermissionCreateProject,
		PermissionCompleteMilestone,
		PermissionDonate,
		PermissionVerify,
		PermissionRefreshRelease,
		PermissionEmergencyRelease,
		PermissionRepairLedger,
		PermissionPost,
		PermissionComment,
	},
}

// ValidRole 角色是否存在
func ValidRole(role string) bool {
	_, ok := rolePermissions[role]
	return ok
}

// HasPermission 检查角色是否有指定权限
func HasPermission(role, permission string) bool {
	for _, p := range rolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission 返回错误而不是布尔值，便于处理
func CheckPermission(userID, role, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			UserID:     userID,
			Role:       role,
			Permission: permission,
		}
	}
	return nil
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	UserID     string
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("role %q lacks permission %q", e.Role, e.Permission)
}

// ValidateActor 校验 payload 中的钱包地址与 token 一致
func ValidateActor(tokenUserID, payloadUserID string) error {
	if payloadUserID != "" && payloadUserID != tokenUserID {
		return &UserIDMismatchError{
			TokenUserID:   tokenUserID,
			PayloadUserID: payloadUserID,
		}
	}
	return nil
}

// UserIDMismatchError 表示 payload 中的用户与 token 不一致
type UserIDMismatchError struct {
	TokenUserID   string
	PayloadUserID string
}

func (e *UserIDMismatchError) Error() string {
	return "user id in payload does not match token"
}
