package rbac

// 权限常量
const (
	PermissionReadEngagement  = "engagement:read"
	PermissionWriteClient     = "client:write"
	PermissionArchiveClient   = "client:archive"
	PermissionWriteProject    = "project:write"
	PermissionWriteTask       = "task:write"
	PermissionGenerateKeyword = "keyword:generate"
	PermissionWriteCompetitor = "competitor:write"
)

// 角色常量
const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// 角色权限映射
var rolePermissions = map[string][]string{
	RoleMember: {
		PermissionReadEngagement,
		PermissionWriteTask,
		PermissionWriteCompetitor,
	},
	RoleOwner: {
		PermissionReadEngagement,
		PermissionWriteClient,
		PermissionArchiveClient,
		PermissionWriteProject,
		PermissionWriteTask,
		PermissionGenerateKeyword,
		PermissionWriteCompetitor,
	},
}

// ValidRole 判断角色是否存在
func ValidRole(role string) bool {
	_, ok := rolePermissions[role]
	return ok
}

// HasPermission 检查角色是否有指定权限
func HasPermission(role string, permission string) bool {
	permissions, ok := rolePermissions[role]
	if !ok {
		return false
	}

	for _, p := range permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission 检查角色是否有指定权限（返回错误而不是布尔值，便于处理）
func CheckPermission(role string, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			Role:       role,
			Permission: permission,
		}
	}
	return nil
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions: " + e.Permission
}

// ValidateAgencyIDInPayload 验证 payload 中的 agency_id 是否与 token 中的 agency_id 匹配
func ValidateAgencyIDInPayload(tokenAgencyID string, payloadAgencyID string) error {
	if payloadAgencyID != "" && payloadAgencyID != tokenAgencyID {
		return &AgencyIDMismatchError{
			TokenAgencyID:   tokenAgencyID,
			PayloadAgencyID: payloadAgencyID,
		}
	}
	return nil
}

// AgencyIDMismatchError 表示 agency_id 不匹配的错误
type AgencyIDMismatchError struct {
	TokenAgencyID   string
	PayloadAgencyID string
}

func (e *AgencyIDMismatchError) Error() string {
	return "agency_id in payload does not match token"
}
