package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"approvalflow/internal/approval/models"
	dErrors "approvalflow/pkg/domain-errors"
	"approvalflow/pkg/requestcontext"
)

func TestRoleAuthorizer(t *testing.T) {
	ctx := context.Background()
	req := &models.Request{ApprovalLevel: "director", ApproverRoles: []models.Role{"director"}}
	a := NewRoleAuthorizer("admin")

	t.Run("approver role", func(t *testing.T) {
		require.NoError(t, a.CanResolve(ctx, requestcontext.Actor{ID: "d1", Roles: []string{"director"}}, req))
	})

	t.Run("override role", func(t *testing.T) {
		require.NoError(t, a.CanResolve(ctx, requestcontext.Actor{ID: "root", Roles: []string{"admin"}}, req))
	})

	t.Run("wrong role is forbidden", func(t *testing.T) {
		err := a.CanResolve(ctx, requestcontext.Actor{ID: "s1", Roles: []string{"supervisor"}}, req)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	t.Run("anonymous actor is unauthorized", func(t *testing.T) {
		err := a.CanResolve(ctx, requestcontext.Actor{}, req)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func TestDirectory(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(map[models.Role][]string{
		"supervisor": {"alice", "sam"},
	})
	level := models.Level{Name: "supervisor", ApproverRoles: []models.Role{"supervisor"}}

	got, err := d.ResolveApprover(ctx, level, "bob")
	require.NoError(t, err)
	assert.Equal(t, "alice", got)

	got, err = d.ResolveApprover(ctx, level, "alice")
	require.NoError(t, err)
	assert.Equal(t, "sam", got, "requester is never assigned their own level")

	got, err = d.ResolveApprover(ctx, models.Level{ApproverRoles: []models.Role{"director"}}, "bob")
	require.NoError(t, err)
	assert.Empty(t, got)

	d.Set("director", "dana")
	assert.Equal(t, []models.Role{"director", "supervisor"}, d.Roles())
}
