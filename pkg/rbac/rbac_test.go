package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRolePermissions(t *testing.T) {
	tests := []struct {
		role       string
		permission string
		want       bool
	}{
		{RoleOwner, PermissionGenerateKeyword, true},
		{RoleOwner, PermissionArchiveClient, true},
		{RoleMember, PermissionWriteTask, true},
		{RoleMember, PermissionReadEngagement, true},
		{RoleMember, PermissionGenerateKeyword, false},
		{RoleMember, PermissionWriteClient, false},
		{"guest", PermissionReadEngagement, false},
	}
	for _, tt := range tests {
		t.Run(tt.role+"/"+tt.permission, func(t *testing.T) {
			assert.Equal(t, tt.want, HasPermission(tt.role, tt.permission))
			if tt.want {
				assert.NoError(t, CheckPermission(tt.role, tt.permission))
			} else {
				var denied *PermissionDeniedError
				assert.ErrorAs(t, CheckPermission(tt.role, tt.permission), &denied)
			}
		})
	}
}

func TestValidateAgencyIDInPayload(t *testing.T) {
	assert.NoError(t, ValidateAgencyIDInPayload("a-1", "a-1"))
	assert.NoError(t, ValidateAgencyIDInPayload("a-1", ""), "omitted agency defaults to the token's")

	var mismatch *AgencyIDMismatchError
	assert.ErrorAs(t, ValidateAgencyIDInPayload("a-1", "a-2"), &mismatch)
	assert.True(t, ValidRole(RoleMember))
	assert.False(t, ValidRole("root"))
}
