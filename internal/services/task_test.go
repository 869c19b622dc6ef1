package services

import (
	"context"
	"testing"

	"github.com/huangang/taskhub/internal/models"
	"github.com/huangang/taskhub/pkg/response"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boardColumns(t *testing.T, env *testEnv, projectID uint) []models.Column {
	t.Helper()
	var columns []models.Column
	require.NoError(t, env.db.Where("project_id = ?", projectID).Order("position").Find(&columns).Error)
	return columns
}

func TestCreateTask(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.user(t, "owner")
	bob := env.user(t, "bob")
	outsider := env.user(t, "outsider")
	p := env.project(t, owner.ID, models.ProjectVisibilityPrivate)
	env.addAs(t, p.ID, owner.ID, bob.ID, models.RoleMember)
	todo := boardColumns(t, env, p.ID)[0]

	task, err := env.tasks.Create(ctx, p.ID, owner.ID, &CreateTaskRequest{
		Title:       "  Write docs ",
		ColumnID:    &todo.ID,
		AssigneeIDs: []uint{bob.ID, bob.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, "Write docs", task.Title)
	assert.Equal(t, models.TaskStatusTodo, task.Status)
	assert.Equal(t, 0, task.Position)
	require.Len(t, task.Assignees, 1)
	assert.Equal(t, bob.ID, task.Assignees[0].UserID)
	assert.Equal(t, []uint{bob.ID}, env.search.tasks[task.ID].AssigneeIDs)
	assert.Equal(t, int64(1), env.count(t, &models.Notification{}, "user_id = ? AND type = ?", bob.ID, models.NotifyTaskAssigned))

	second, err := env.tasks.Create(ctx, p.ID, bob.ID, &CreateTaskRequest{Title: "Review", ColumnID: &todo.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Position)

	_, err = env.tasks.Create(ctx, p.ID, owner.ID, &CreateTaskRequest{Title: "x", AssigneeIDs: []uint{outsider.ID}})
	requireKind(t, err, response.KindBadRequest)

	_, err = env.tasks.Create(ctx, p.ID, bob.ID, &CreateTaskRequest{Title: "x", AssigneeIDs: []uint{bob.ID}})
	requireKind(t, err, response.KindForbidden)

	_, err = env.tasks.Create(ctx, p.ID, outsider.ID, &CreateTaskRequest{Title: "x"})
	requireKind(t, err, response.KindForbidden)

	_, err = env.tasks.Create(ctx, p.ID, owner.ID, &CreateTaskRequest{Title: "   "})
	requireKind(t, err, response.KindBadRequest)
}

func TestGetAndListTasks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.user(t, "owner")
	outsider := env.user(t, "outsider")
	p := env.project(t, owner.ID, models.ProjectVisibilityPrivate)

	task, err := env.tasks.Create(ctx, p.ID, owner.ID, &CreateTaskRequest{Title: "alpha", AssigneeIDs: []uint{owner.ID}})
	require.NoError(t, err)
	_, err = env.tasks.Create(ctx, p.ID, owner.ID, &CreateTaskRequest{Title: "beta"})
	require.NoError(t, err)

	got, err := env.tasks.Get(ctx, p.ID, task.ID, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.Title)

	_, err = env.tasks.Get(ctx, p.ID, task.ID, outsider.ID)
	requireKind(t, err, response.KindForbidden)
	_, err = env.tasks.Get(ctx, p.ID, 9999, owner.ID)
	requireKind(t, err, response.KindNotFound)

	all, err := env.tasks.List(ctx, p.ID, owner.ID, &TaskListRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), all.Total)

	mine, err := env.tasks.List(ctx, p.ID, owner.ID, &TaskListRequest{AssigneeID: owner.ID})
	require.NoError(t, err)
	require.Len(t, mine.Items, 1)
	assert.Equal(t, task.ID, mine.Items[0].ID)

	found, err := env.tasks.List(ctx, p.ID, owner.ID, &TaskListRequest{Keyword: "bet"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), found.Total)
}

func TestUpdateTask(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.user(t, "owner")
	viewer := env.user(t, "viewer")
	p := env.project(t, owner.ID, models.ProjectVisibilityPrivate)
	env.addAs(t, p.ID, owner.ID, viewer.ID, models.RoleViewer)

	task, err := env.tasks.Create(ctx, p.ID, owner.ID, &CreateTaskRequest{Title: "draft"})
	require.NoError(t, err)

	status := models.TaskStatusDone
	updated, err := env.tasks.Update(ctx, p.ID, task.ID, owner.ID, &UpdateTaskRequest{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusDone, updated.Status)
	assert.Equal(t, models.TaskStatusDone, env.search.tasks[task.ID].Status)

	_, err = env.tasks.Update(ctx, p.ID, task.ID, viewer.ID, &UpdateTaskRequest{Status: &status})
	requireKind(t, err, response.KindForbidden)
}

func TestMoveTask_ShiftsLaterTasks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.user(t, "owner")
	p := env.project(t, owner.ID, models.ProjectVisibilityPrivate)
	columns := boardColumns(t, env, p.ID)
	todo, doing := columns[0], columns[1]

	a, err := env.tasks.Create(ctx, p.ID, owner.ID, &CreateTaskRequest{Title: "a", ColumnID: &doing.ID})
	require.NoError(t, err)
	b, err := env.tasks.Create(ctx, p.ID, owner.ID, &CreateTaskRequest{Title: "b", ColumnID: &doing.ID})
	require.NoError(t, err)
	c, err := env.tasks.Create(ctx, p.ID, owner.ID, &CreateTaskRequest{Title: "c", ColumnID: &todo.ID})
	require.NoError(t, err)

	zero := 0
	moved, err := env.tasks.Move(ctx, p.ID, c.ID, owner.ID, &MoveTaskRequest{ColumnID: &doing.ID, Position: &zero})
	require.NoError(t, err)
	require.NotNil(t, moved.ColumnID)
	assert.Equal(t, doing.ID, *moved.ColumnID)
	assert.Equal(t, 0, moved.Position)

	var positions []int
	require.NoError(t, env.db.Model(&models.Task{}).Where("id IN ?", []uint{a.ID, b.ID}).Order("id").Pluck("position", &positions).Error)
	assert.Equal(t, []int{1, 2}, positions)

	toEnd, err := env.tasks.Move(ctx, p.ID, a.ID, owner.ID, &MoveTaskRequest{ColumnID: &todo.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, toEnd.Position)

	missing := uint(9999)
	_, err = env.tasks.Move(ctx, p.ID, a.ID, owner.ID, &MoveTaskRequest{ColumnID: &missing})
	requireKind(t, err, response.KindNotFound)
}

func TestAssignAndUnassign(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.user(t, "owner")
	bob := env.user(t, "bob")
	outsider := env.user(t, "outsider")
	p := env.project(t, owner.ID, models.ProjectVisibilityPrivate)
	env.addAs(t, p.ID, owner.ID, bob.ID, models.RoleMember)

	task, err := env.tasks.Create(ctx, p.ID, owner.ID, &CreateTaskRequest{Title: "pair"})
	require.NoError(t, err)

	_, err = env.tasks.Assign(ctx, p.ID, task.ID, owner.ID, &AssignTaskRequest{UserIDs: []uint{bob.ID, outsider.ID}})
	requireKind(t, err, response.KindBadRequest)
	assert.Equal(t, int64(0), env.count(t, &models.TaskAssignee{}, "task_id = ?", task.ID))

	assigned, err := env.tasks.Assign(ctx, p.ID, task.ID, owner.ID, &AssignTaskRequest{UserIDs: []uint{bob.ID, owner.ID}})
	require.NoError(t, err)
	assert.Len(t, assigned.Assignees, 2)

	again, err := env.tasks.Assign(ctx, p.ID, task.ID, owner.ID, &AssignTaskRequest{UserIDs: []uint{bob.ID}})
	require.NoError(t, err)
	assert.Len(t, again.Assignees, 2)
	assert.Equal(t, int64(1), env.count(t, &models.Notification{}, "user_id = ? AND type = ?", bob.ID, models.NotifyTaskAssigned))

	after, err := env.tasks.Unassign(ctx, p.ID, task.ID, bob.ID, owner.ID)
	require.NoError(t, err)
	require.Len(t, after.Assignees, 1)
	assert.Equal(t, owner.ID, after.Assignees[0].UserID)

	_, err = env.tasks.Unassign(ctx, p.ID, task.ID, bob.ID, owner.ID)
	requireKind(t, err, response.KindNotFound)
}

func TestDeleteTask(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.user(t, "owner")
	bob := env.user(t, "bob")
	p := env.project(t, owner.ID, models.ProjectVisibilityPrivate)
	env.addAs(t, p.ID, owner.ID, bob.ID, models.RoleMember)

	task, err := env.tasks.Create(ctx, p.ID, owner.ID, &CreateTaskRequest{Title: "temp", AssigneeIDs: []uint{bob.ID}})
	require.NoError(t, err)

	requireKind(t, env.tasks.Delete(ctx, p.ID, task.ID, bob.ID), response.KindForbidden)
	require.NoError(t, env.tasks.Delete(ctx, p.ID, task.ID, owner.ID))
	assert.Equal(t, int64(0), env.count(t, &models.TaskAssignee{}, "task_id = ?", task.ID))
	assert.Equal(t, []uint{task.ID}, env.search.deletedTasks)
	requireKind(t, env.tasks.Delete(ctx, p.ID, task.ID, owner.ID), response.KindNotFound)
}

func TestColumns(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.user(t, "owner")
	bob := env.user(t, "bob")
	p := env.project(t, owner.ID, models.ProjectVisibilityPrivate)
	env.addAs(t, p.ID, owner.ID, bob.ID, models.RoleMember)

	review, err := env.columns.Create(ctx, p.ID, owner.ID, &ColumnRequest{Name: "Review"})
	require.NoError(t, err)
	assert.Equal(t, 3, review.Position)

	_, err = env.columns.Create(ctx, p.ID, bob.ID, &ColumnRequest{Name: "Nope"})
	requireKind(t, err, response.KindForbidden)

	renamed, err := env.columns.Rename(ctx, p.ID, review.ID, owner.ID, &ColumnRequest{Name: "QA"})
	require.NoError(t, err)
	assert.Equal(t, "QA", renamed.Name)

	columns, err := env.columns.List(ctx, p.ID, bob.ID)
	require.NoError(t, err)
	require.Len(t, columns, 4)

	reordered, err := env.columns.Reorder(ctx, p.ID, owner.ID, &ReorderColumnsRequest{ColumnIDs: []uint{review.ID, columns[0].ID}})
	require.NoError(t, err)
	require.Len(t, reordered, 4)
	assert.Equal(t, review.ID, reordered[0].ID)
	assert.Equal(t, columns[0].ID, reordered[1].ID)
	assert.Equal(t, columns[1].ID, reordered[2].ID)
	assert.Equal(t, columns[2].ID, reordered[3].ID)

	_, err = env.columns.Reorder(ctx, p.ID, owner.ID, &ReorderColumnsRequest{ColumnIDs: []uint{review.ID, 9999}})
	requireKind(t, err, response.KindBadRequest)
}

func TestDeleteColumn_KeepsTasks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.user(t, "owner")
	p := env.project(t, owner.ID, models.ProjectVisibilityPrivate)
	todo := boardColumns(t, env, p.ID)[0]

	task, err := env.tasks.Create(ctx, p.ID, owner.ID, &CreateTaskRequest{Title: "orphan", ColumnID: &todo.ID})
	require.NoError(t, err)

	require.NoError(t, env.columns.Delete(ctx, p.ID, todo.ID, owner.ID))
	requireKind(t, env.columns.Delete(ctx, p.ID, todo.ID, owner.ID), response.KindNotFound)

	var stored models.Task
	require.NoError(t, env.db.First(&stored, task.ID).Error)
	assert.Nil(t, stored.ColumnID)
}
