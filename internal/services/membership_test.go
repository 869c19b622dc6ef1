package services

import (
	"context"
	"testing"

	"github.com/huangang/taskhub/internal/models"
	"github.com/huangang/taskhub/pkg/response"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddMember_DefaultsToMemberRole(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.user(t, "owner")
	bob := env.user(t, "bob")
	p := env.project(t, owner.ID, models.ProjectVisibilityPrivate)

	member, err := env.members.AddMember(ctx, p.ID, owner.ID, &AddMemberRequest{UserID: bob.ID})
	require.NoError(t, err)
	assert.Equal(t, env.roleID(t, p.ID, models.RoleMember), member.ProjectRoleID)

	var reloaded models.Project
	require.NoError(t, env.db.First(&reloaded, p.ID).Error)
	assert.Equal(t, 2, reloaded.MemberCount)
	assert.Equal(t, int64(1), env.count(t, &models.Notification{}, "user_id = ? AND type = ?", bob.ID, models.NotifyMemberAdded))
}

func TestAddMember_RejectsExistingMember(t *testing.T) {
	env := newTestEnv(t)
	owner := env.user(t, "owner")
	bob := env.user(t, "bob")
	p := env.project(t, owner.ID, models.ProjectVisibilityPrivate)
	env.addAs(t, p.ID, owner.ID, bob.ID, models.RoleMember)

	_, err := env.members.AddMember(context.Background(), p.ID, owner.ID, &AddMemberRequest{UserID: bob.ID})
	requireKind(t, err, response.KindConflict)
	assert.Equal(t, int64(1), env.count(t, &models.ProjectMember{}, "project_id = ? AND user_id = ?", p.ID, bob.ID))
}

func TestAddMember_RequiresAddMemberPermission(t *testing.T) {
	env := newTestEnv(t)
	owner := env.user(t, "owner")
	bob := env.user(t, "bob")
	carol := env.user(t, "carol")
	p := env.project(t, owner.ID, models.ProjectVisibilityPrivate)
	env.addAs(t, p.ID, owner.ID, bob.ID, models.RoleMember)

	_, err := env.members.AddMember(context.Background(), p.ID, bob.ID, &AddMemberRequest{UserID: carol.ID})
	requireKind(t, err, response.KindForbidden)
}

func TestAddMember_OnlyOwnersGrantOwner(t *testing.T) {
	env := newTestEnv(t)
	owner := env.user(t, "owner")
	lead := env.user(t, "lead")
	carol := env.user(t, "carol")
	p := env.project(t, owner.ID, models.ProjectVisibilityPrivate)
	env.addAs(t, p.ID, owner.ID, lead.ID, models.RoleLead)

	ownerRole := env.roleID(t, p.ID, models.RoleOwner)
	_, err := env.members.AddMember(context.Background(), p.ID, lead.ID, &AddMemberRequest{UserID: carol.ID, RoleID: &ownerRole})
	requireKind(t, err, response.KindForbidden)

	_, err = env.members.AddMember(context.Background(), p.ID, owner.ID, &AddMemberRequest{UserID: carol.ID, RoleID: &ownerRole})
	require.NoError(t, err)
	assert.Equal(t, []string{models.RoleOwner}, env.roleNames(t, p.ID, carol.ID))
}

func TestAddMember_SecondLeadConflicts(t *testing.T) {
	env := newTestEnv(t)
	owner := env.user(t, "owner")
	bob := env.user(t, "bob")
	carol := env.user(t, "carol")
	p := env.project(t, owner.ID, models.ProjectVisibilityPrivate)
	env.addAs(t, p.ID, owner.ID, bob.ID, models.RoleLead)

	leadRole := env.roleID(t, p.ID, models.RoleLead)
	_, err := env.members.AddMember(context.Background(), p.ID, owner.ID, &AddMemberRequest{UserID: carol.ID, RoleID: &leadRole})
	requireKind(t, err, response.KindConflict)
	assert.Equal(t, int64(1), env.count(t, &models.ProjectMember{}, "project_id = ? AND project_role_id = ?", p.ID, leadRole))
}

func TestJoinPublic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.user(t, "owner")
	bob := env.user(t, "bob")
	public := env.project(t, owner.ID, models.ProjectVisibilityPublic)
	private := env.project(t, owner.ID, models.ProjectVisibilityPrivate)

	_, err := env.members.JoinPublic(ctx, public.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{models.RoleMember}, env.roleNames(t, public.ID, bob.ID))

	_, err = env.members.JoinPublic(ctx, private.ID, bob.ID)
	requireKind(t, err, response.KindForbidden)
}

func TestRemoveMember_SecondCallIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.user(t, "owner")
	bob := env.user(t, "bob")
	p := env.project(t, owner.ID, models.ProjectVisibilityPrivate)
	env.addAs(t, p.ID, owner.ID, bob.ID, models.RoleMember)

	require.NoError(t, env.members.RemoveMember(ctx, p.ID, bob.ID, owner.ID))
	err := env.members.RemoveMember(ctx, p.ID, bob.ID, owner.ID)
	requireKind(t, err, response.KindNotFound)

	var reloaded models.Project
	require.NoError(t, env.db.First(&reloaded, p.ID).Error)
	assert.Equal(t, 1, reloaded.MemberCount)
}

func TestRemoveMember_CleansUpAssignmentsInvitesAndRequests(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.user(t, "owner")
	lead := env.user(t, "lead")
	p := env.project(t, owner.ID, models.ProjectVisibilityPrivate)
	env.addAs(t, p.ID, owner.ID, lead.ID, models.RoleLead)

	task, err := env.tasks.Create(ctx, p.ID, owner.ID, &CreateTaskRequest{Title: "Ship it", AssigneeIDs: []uint{lead.ID}})
	require.NoError(t, err)
	_, err = env.invites.CreateInvite(ctx, p.ID, lead.ID, &CreateInviteRequest{Email: "guest@example.com"})
	require.NoError(t, err)

	require.NoError(t, env.members.RemoveMember(ctx, p.ID, lead.ID, owner.ID))

	assert.Equal(t, int64(0), env.count(t, &models.TaskAssignee{}, "task_id = ?", task.ID))
	assert.Equal(t, int64(0), env.count(t, &models.Invite{}, "project_id = ? AND is_permanent = ?", p.ID, false))
	assert.Equal(t, int64(1), env.count(t, &models.Invite{}, "project_id = ? AND is_permanent = ?", p.ID, true))
	require.Contains(t, env.search.tasks, task.ID)
	assert.Empty(t, env.search.tasks[task.ID].AssigneeIDs)
}

func TestRemoveMember_OwnerCannotBeRemoved(t *testing.T) {
	env := newTestEnv(t)
	owner := env.user(t, "owner")
	p := env.project(t, owner.ID, models.ProjectVisibilityPrivate)

	err := env.members.RemoveMember(context.Background(), p.ID, owner.ID, owner.ID)
	requireKind(t, err, response.KindBadRequest)
	assert.Equal(t, []string{models.RoleOwner}, env.roleNames(t, p.ID, owner.ID))
}

func TestLeave(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.user(t, "owner")
	bob := env.user(t, "bob")
	p := env.project(t, owner.ID, models.ProjectVisibilityPrivate)
	env.addAs(t, p.ID, owner.ID, bob.ID, models.RoleMember)

	require.NoError(t, env.members.Leave(ctx, p.ID, bob.ID))
	assert.Empty(t, env.roleNames(t, p.ID, bob.ID))

	requireKind(t, env.members.Leave(ctx, p.ID, owner.ID), response.KindBadRequest)
}

func TestUpdateMemberRoles_ReassignsLead(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.user(t, "owner")
	u2 := env.user(t, "u2")
	u3 := env.user(t, "u3")
	p := env.project(t, owner.ID, models.ProjectVisibilityPrivate)
	env.addAs(t, p.ID, owner.ID, u2.ID, models.RoleLead)
	env.addAs(t, p.ID, owner.ID, u3.ID, models.RoleMember)

	err := env.members.UpdateMemberRoles(ctx, p.ID, owner.ID, &UpdateMemberRolesRequest{
		Changes: []RoleChange{{UserID: u3.ID, ProjectRoleID: env.roleID(t, p.ID, models.RoleLead)}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{models.RoleMember}, env.roleNames(t, p.ID, u2.ID))
	assert.Equal(t, []string{models.RoleLead}, env.roleNames(t, p.ID, u3.ID))
	assert.Equal(t, int64(1), env.count(t, &models.ProjectMember{}, "project_id = ? AND project_role_id = ?", p.ID, env.roleID(t, p.ID, models.RoleLead)))
	assert.Equal(t, int64(1), env.count(t, &models.Notification{}, "user_id = ? AND type = ?", u2.ID, models.NotifyRoleChanged))
}

func TestUpdateMemberRoles_TwoLeadsRollsBack(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.user(t, "owner")
	u2 := env.user(t, "u2")
	u3 := env.user(t, "u3")
	u4 := env.user(t, "u4")
	p := env.project(t, owner.ID, models.ProjectVisibilityPrivate)
	env.addAs(t, p.ID, owner.ID, u2.ID, models.RoleMember)
	env.addAs(t, p.ID, owner.ID, u3.ID, models.RoleMember)
	env.addAs(t, p.ID, owner.ID, u4.ID, models.RoleLead)

	lead := env.roleID(t, p.ID, models.RoleLead)
	viewer := env.roleID(t, p.ID, models.RoleViewer)
	err := env.members.UpdateMemberRoles(ctx, p.ID, owner.ID, &UpdateMemberRolesRequest{
		Changes: []RoleChange{
			{UserID: u2.ID, ProjectRoleID: viewer},
			{UserID: u2.ID + 100, ProjectRoleID: viewer},
		},
	})
	requireKind(t, err, response.KindNotFound)

	err = env.members.UpdateMemberRoles(ctx, p.ID, owner.ID, &UpdateMemberRolesRequest{
		Changes: []RoleChange{
			{UserID: u2.ID, ProjectRoleID: viewer},
			{UserID: u3.ID, ProjectRoleID: lead},
			{UserID: u4.ID, ProjectRoleID: viewer},
			{UserID: owner.ID, ProjectRoleID: lead},
		},
	})
	requireKind(t, err, response.KindBadRequest)

	assert.Equal(t, []string{models.RoleMember}, env.roleNames(t, p.ID, u2.ID))
	assert.Equal(t, []string{models.RoleMember}, env.roleNames(t, p.ID, u3.ID))
	assert.Equal(t, []string{models.RoleLead}, env.roleNames(t, p.ID, u4.ID))
	assert.Equal(t, []string{models.RoleOwner}, env.roleNames(t, p.ID, owner.ID))
}

func TestUpdateMemberRoles_DuplicateUserIsBadRequest(t *testing.T) {
	env := newTestEnv(t)
	owner := env.user(t, "owner")
	bob := env.user(t, "bob")
	p := env.project(t, owner.ID, models.ProjectVisibilityPrivate)
	env.addAs(t, p.ID, owner.ID, bob.ID, models.RoleMember)

	viewer := env.roleID(t, p.ID, models.RoleViewer)
	err := env.members.UpdateMemberRoles(context.Background(), p.ID, owner.ID, &UpdateMemberRolesRequest{
		Changes: []RoleChange{{UserID: bob.ID, ProjectRoleID: viewer}, {UserID: bob.ID, ProjectRoleID: viewer}},
	})
	requireKind(t, err, response.KindBadRequest)
}

func TestUpdateMemberRoles_SoleOwnerKeepsOwnership(t *testing.T) {
	env := newTestEnv(t)
	owner := env.user(t, "owner")
	p := env.project(t, owner.ID, models.ProjectVisibilityPrivate)

	err := env.members.UpdateMemberRoles(context.Background(), p.ID, owner.ID, &UpdateMemberRolesRequest{
		Changes: []RoleChange{{UserID: owner.ID, ProjectRoleID: env.roleID(t, p.ID, models.RoleMember)}},
	})
	requireKind(t, err, response.KindBadRequest)
	assert.Equal(t, []string{models.RoleOwner}, env.roleNames(t, p.ID, owner.ID))
}

func TestUpdateMemberRoles_LeadCannotTouchOwner(t *testing.T) {
	env := newTestEnv(t)
	owner := env.user(t, "owner")
	lead := env.user(t, "lead")
	bob := env.user(t, "bob")
	p := env.project(t, owner.ID, models.ProjectVisibilityPrivate)
	env.addAs(t, p.ID, owner.ID, lead.ID, models.RoleLead)
	env.addAs(t, p.ID, owner.ID, bob.ID, models.RoleMember)

	err := env.members.UpdateMemberRoles(context.Background(), p.ID, lead.ID, &UpdateMemberRolesRequest{
		Changes: []RoleChange{{UserID: bob.ID, ProjectRoleID: env.roleID(t, p.ID, models.RoleOwner)}},
	})
	requireKind(t, err, response.KindForbidden)

	err = env.members.UpdateMemberRoles(context.Background(), p.ID, lead.ID, &UpdateMemberRolesRequest{
		Changes: []RoleChange{{UserID: bob.ID, ProjectRoleID: env.roleID(t, p.ID, models.RoleViewer)}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{models.RoleViewer}, env.roleNames(t, p.ID, bob.ID))
}

func TestListMembers_PrivateProjectHidden(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.user(t, "owner")
	bob := env.user(t, "bob")
	outsider := env.user(t, "outsider")
	p := env.project(t, owner.ID, models.ProjectVisibilityPrivate)
	env.addAs(t, p.ID, owner.ID, bob.ID, models.RoleMember)

	views, err := env.members.ListMembers(ctx, p.ID, bob.ID)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, owner.ID, views[0].UserID)
	assert.Equal(t, models.RoleOwner, views[0].RoleName)
	assert.Equal(t, "bob", views[1].Username)

	_, err = env.members.ListMembers(ctx, p.ID, outsider.ID)
	requireKind(t, err, response.KindForbidden)
}
