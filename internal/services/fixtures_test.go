package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/huangang/taskhub/internal/models"
	"github.com/huangang/taskhub/pkg/response"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, models.Migrate(db))
	require.NoError(t, models.Seed(db))
	return db
}

type recordingSearch struct {
	mu              sync.Mutex
	projects        map[uint]*ProjectDocument
	tasks           map[uint]*TaskDocument
	deletedProjects []uint
	deletedTasks    []uint
	fail            error
}

func newRecordingSearch() *recordingSearch {
	return &recordingSearch{projects: map[uint]*ProjectDocument{}, tasks: map[uint]*TaskDocument{}}
}

func (r *recordingSearch) UpsertProject(_ context.Context, doc *ProjectDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.projects[doc.ID] = doc
	return nil
}

func (r *recordingSearch) DeleteProject(_ context.Context, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	delete(r.projects, id)
	r.deletedProjects = append(r.deletedProjects, id)
	return nil
}

func (r *recordingSearch) UpsertTask(_ context.Context, doc *TaskDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.tasks[doc.ID] = doc
	return nil
}

func (r *recordingSearch) DeleteTask(_ context.Context, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	delete(r.tasks, id)
	r.deletedTasks = append(r.deletedTasks, id)
	return nil
}

type sentMail struct {
	to       string
	inviteID uint
	token    string
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *recordingMailer) SendInvite(email string, inviteID uint, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to: email, inviteID: inviteID})
	return nil
}

func (m *recordingMailer) SendPasswordReset(email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to: email, token: token})
	return nil
}

type testEnv struct {
	db       *gorm.DB
	cache    *LookupCache
	perms    *PermissionService
	search   *recordingSearch
	mailer   *recordingMailer
	notify   *NotificationService
	activity *ActivityLogService
	projects *ProjectService
	members  *MembershipService
	roles    *ProjectRoleService
	invites  *InviteService
	access   *AccessRequestService
	tasks    *TaskService
	columns  *ColumnService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := openTestDB(t)
	e := &testEnv{
		db:     db,
		cache:  NewLookupCache(64, time.Minute),
		search: newRecordingSearch(),
		mailer: &recordingMailer{},
	}
	e.perms = NewPermissionService(db, e.cache)
	e.notify = NewNotificationService(db)
	e.activity = NewActivityLogService(db, e.perms)
	e.projects = NewProjectService(db, e.perms, e.search, e.notify, e.activity)
	e.members = NewMembershipService(db, e.perms, e.search, e.notify, e.activity)
	e.roles = NewProjectRoleService(db, e.perms, e.activity)
	e.invites = NewInviteService(db, e.perms, e.notify, e.mailer, e.activity, 24*time.Hour)
	e.access = NewAccessRequestService(db, e.perms, e.notify, e.activity)
	e.tasks = NewTaskService(db, e.perms, e.search, e.notify, e.activity)
	e.columns = NewColumnService(db, e.perms, e.activity)
	return e
}

func (e *testEnv) user(t *testing.T, name string) *models.User {
	t.Helper()
	u := &models.User{
		Username: name,
		Email:    name + "@example.com",
		Role:     models.UserRoleUser,
		AuthType: AuthTypeLocal,
		IsActive: true,
	}
	require.NoError(t, e.db.Create(u).Error)
	return u
}

func (e *testEnv) project(t *testing.T, ownerID uint, visibility string) *models.Project {
	t.Helper()
	p, err := e.projects.Create(context.Background(), ownerID, &CreateProjectRequest{
		Name:       fmt.Sprintf("project-%d-%d", ownerID, time.Now().UnixNano()),
		Visibility: visibility,
	})
	require.NoError(t, err)
	return p
}

func (e *testEnv) roleID(t *testing.T, projectID uint, name string) uint {
	t.Helper()
	var role models.ProjectRole
	require.NoError(t, e.db.Where("project_id = ? AND name = ? AND destroyed = ?", projectID, name, false).First(&role).Error)
	return role.ID
}

// addAs adds userID to the project with the named role, acting as the owner.
func (e *testEnv) addAs(t *testing.T, projectID, ownerID, userID uint, roleName string) {
	t.Helper()
	roleID := e.roleID(t, projectID, roleName)
	_, err := e.members.AddMember(context.Background(), projectID, ownerID, &AddMemberRequest{UserID: userID, RoleID: &roleID})
	require.NoError(t, err)
}

func (e *testEnv) roleNames(t *testing.T, projectID, userID uint) []string {
	t.Helper()
	var names []string
	err := e.db.Model(&models.ProjectRole{}).
		Joins("JOIN project_members ON project_members.project_role_id = project_roles.id").
		Where("project_members.project_id = ? AND project_members.user_id = ?", projectID, userID).
		Order("project_roles.name").
		Pluck("project_roles.name", &names).Error
	require.NoError(t, err)
	return names
}

func (e *testEnv) count(t *testing.T, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(model).Where(query, args...).Count(&n).Error)
	return n
}

func requireKind(t *testing.T, err error, kind string) {
	t.Helper()
	require.Error(t, err)
	require.Equalf(t, kind, response.KindOf(err), "unexpected error: %v", err)
}
