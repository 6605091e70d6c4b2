// Package authz holds the collaborators the workflow manager consults before
// a level is resolved and when a new level needs an assignee.
package authz

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"approvalflow/internal/approval/models"
	dErrors "approvalflow/pkg/domain-errors"
	"approvalflow/pkg/requestcontext"
)

// Authorizer decides whether actor may approve or reject req.
type Authorizer interface {
	CanResolve(ctx context.Context, actor requestcontext.Actor, req *models.Request) error
}

// ApproverResolver picks the identity a new level is assigned to. An empty
// result leaves the level unassigned; any holder of an approver role may act.
type ApproverResolver interface {
	ResolveApprover(ctx context.Context, level models.Level, requesterID string) (string, error)
}

// RoleAuthorizer grants resolution to any actor holding one of the roles
// snapshotted on the request, plus the configured override roles.
type RoleAuthorizer struct {
	overrideRoles []string
}

// NewRoleAuthorizer builds an authorizer. overrideRoles (e.g. "admin") may act
// on every level.
func NewRoleAuthorizer(overrideRoles ...string) *RoleAuthorizer {
	return &RoleAuthorizer{overrideRoles: overrideRoles}
}

func (a *RoleAuthorizer) CanResolve(_ context.Context, actor requestcontext.Actor, req *models.Request) error {
	if actor.IsZero() {
		return dErrors.New(dErrors.CodeUnauthorized, "actor identity required")
	}
	if actor.HasAnyRole(a.overrideRoles...) {
		return nil
	}
	if req.Level().HasApproverRole(actor.Roles) {
		return nil
	}
	return dErrors.New(dErrors.CodeForbidden,
		fmt.Sprintf("actor %q holds none of the approver roles for level %q", actor.ID, req.ApprovalLevel))
}

// Directory is a static role -> members map used to pre-assign approvers.
// The first member of the first matching role who is not the requester wins.
type Directory struct {
	mu      sync.RWMutex
	members map[models.Role][]string
}

func NewDirectory(members map[models.Role][]string) *Directory {
	d := &Directory{members: make(map[models.Role][]string, len(members))}
	for role, ids := range members {
		d.members[role] = append([]string(nil), ids...)
	}
	return d
}

// Set replaces the members of role.
func (d *Directory) Set(role models.Role, ids ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members[role] = append([]string(nil), ids...)
}

// Roles lists the roles with members, sorted.
func (d *Directory) Roles() []models.Role {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.Role, 0, len(d.members))
	for role := range d.members {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (d *Directory) ResolveApprover(_ context.Context, level models.Level, requesterID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, role := range level.ApproverRoles {
		for _, id := range d.members[role] {
			if id != requesterID {
				return id, nil
			}
		}
	}
	return "", nil
}

// Unassigned never pre-assigns an approver.
type Unassigned struct{}

func (Unassigned) ResolveApprover(context.Context, models.Level, string) (string, error) {
	return "", nil
}
