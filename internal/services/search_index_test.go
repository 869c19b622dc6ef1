package services

import (
	"context"
	"testing"
	"time"

	"github.com/huangang/taskhub/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// indexedEnv wires the project and task services to the database-backed index.
func indexedEnv(t *testing.T) (*testEnv, *SearchIndex) {
	t.Helper()
	env := newTestEnv(t)
	index := NewSearchIndex(env.db)
	env.projects = NewProjectService(env.db, env.perms, index, env.notify, env.activity)
	env.members = NewMembershipService(env.db, env.perms, index, env.notify, env.activity)
	env.tasks = NewTaskService(env.db, env.perms, index, env.notify, env.activity)
	return env, index
}

func docTitles(docs []models.SearchDocument) []string {
	titles := make([]string, 0, len(docs))
	for _, d := range docs {
		titles = append(titles, d.Title)
	}
	return titles
}

func TestSearch_RespectsVisibility(t *testing.T) {
	env, index := indexedEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice")
	bob := env.user(t, "bob")

	secret, err := env.projects.Create(ctx, alice.ID, &CreateProjectRequest{Name: "Rocket secret", Visibility: models.ProjectVisibilityPrivate})
	require.NoError(t, err)
	open, err := env.projects.Create(ctx, alice.ID, &CreateProjectRequest{Name: "Rocket open", Visibility: models.ProjectVisibilityPublic})
	require.NoError(t, err)
	_, err = env.tasks.Create(ctx, secret.ID, alice.ID, &CreateTaskRequest{Title: "Rocket fuel"})
	require.NoError(t, err)
	_, err = env.tasks.Create(ctx, open.ID, alice.ID, &CreateTaskRequest{Title: "Rocket paint"})
	require.NoError(t, err)

	docs, err := index.Search(ctx, bob.ID, &SearchRequest{Query: "ROCKET"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Rocket open", "Rocket paint"}, docTitles(docs))

	docs, err = index.Search(ctx, alice.ID, &SearchRequest{Query: "rocket"})
	require.NoError(t, err)
	assert.Len(t, docs, 4)

	docs, err = index.Search(ctx, alice.ID, &SearchRequest{Query: "rocket", Type: models.SearchDocTask})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Rocket fuel", "Rocket paint"}, docTitles(docs))

	_, err = env.members.JoinPublic(ctx, open.ID, bob.ID)
	require.NoError(t, err)
	require.NoError(t, env.projects.Delete(ctx, open.ID, alice.ID))

	docs, err = index.Search(ctx, bob.ID, &SearchRequest{Query: "rocket"})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestSearch_Users(t *testing.T) {
	env, index := indexedEnv(t)
	ctx := context.Background()
	carol := env.user(t, "carol")
	require.NoError(t, index.UpsertUser(ctx, carol))

	docs, err := index.Search(ctx, carol.ID, &SearchRequest{Query: "carol@example", Type: models.SearchDocUser})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, carol.ID, docs[0].DocID)

	require.NoError(t, index.DeleteUser(ctx, carol.ID))
	docs, err = index.Search(ctx, carol.ID, &SearchRequest{Query: "carol"})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestSearchIndex_ApplyUpsertsInPlace(t *testing.T) {
	db := openTestDB(t)
	index := NewSearchIndex(db)
	ctx := context.Background()

	doc := &TaskDocument{ID: 11, ProjectID: 2, Title: "first"}
	require.NoError(t, index.Apply(ctx, &SearchTask{Op: SearchOpUpsert, DocType: models.SearchDocTask, ID: 11, Task: doc}))
	doc.Title = "second"
	require.NoError(t, index.Apply(ctx, &SearchTask{Op: SearchOpUpsert, DocType: models.SearchDocTask, ID: 11, Task: doc}))

	var stored []models.SearchDocument
	require.NoError(t, db.Where("doc_type = ? AND doc_id = ?", models.SearchDocTask, 11).Find(&stored).Error)
	require.Len(t, stored, 1)
	assert.Equal(t, "second", stored[0].Title)

	require.NoError(t, index.Apply(ctx, &SearchTask{Op: SearchOpDelete, DocType: models.SearchDocTask, ID: 11}))
	var count int64
	require.NoError(t, db.Model(&models.SearchDocument{}).Count(&count).Error)
	assert.Zero(t, count)

	assert.Error(t, index.Apply(ctx, &SearchTask{Op: SearchOpUpsert, DocType: models.SearchDocProject}))
}

func TestQueuedSearchSync_ThroughSyncQueue(t *testing.T) {
	db := openTestDB(t)
	index := NewSearchIndex(db)
	queue := NewSyncQueue()
	queue.SetProcessor(index.Apply)
	queued := NewQueuedSearchSync(queue)
	ctx := context.Background()

	require.NoError(t, queued.UpsertProject(ctx, &ProjectDocument{ID: 5, Name: "queued", Visibility: models.ProjectVisibilityPublic}))
	for i := 0; i < 50; i++ {
		require.NoError(t, queued.UpsertTask(ctx, &TaskDocument{ID: 6, ProjectID: 5, Title: "queued task"}))
		require.NoError(t, queued.DeleteTask(ctx, 6))
	}
	require.NoError(t, queue.Close())

	var docs []models.SearchDocument
	require.NoError(t, db.Order("doc_type").Find(&docs).Error)
	require.Len(t, docs, 1)
	assert.Equal(t, models.SearchDocProject, docs[0].DocType)
	assert.Equal(t, "queued", docs[0].Title)
}

func TestFullResync(t *testing.T) {
	env, index := indexedEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice")

	kept := env.project(t, alice.ID, models.ProjectVisibilityPrivate)
	gone := env.project(t, alice.ID, models.ProjectVisibilityPrivate)
	_, err := env.tasks.Create(ctx, kept.ID, alice.ID, &CreateTaskRequest{Title: "kept task"})
	require.NoError(t, err)
	_, err = env.tasks.Create(ctx, gone.ID, alice.ID, &CreateTaskRequest{Title: "gone task"})
	require.NoError(t, err)
	require.NoError(t, env.projects.Delete(ctx, gone.ID, alice.ID))

	require.NoError(t, env.db.Create(&models.SearchDocument{
		DocType: models.SearchDocTask, DocID: 999, ProjectID: kept.ID, Title: "stale", UpdatedAt: time.Now(),
	}).Error)

	result, err := NewSearchSyncService(env.db, index).FullResync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Projects)
	assert.Equal(t, 1, result.Tasks)
	assert.Equal(t, 1, result.Users)

	var count int64
	require.NoError(t, env.db.Model(&models.SearchDocument{}).Where("title = ?", "stale").Count(&count).Error)
	assert.Zero(t, count)
}
