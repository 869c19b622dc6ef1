package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/huangang/taskhub/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskTypeSearchSync_Constant(t *testing.T) {
	if TaskTypeSearchSync != "search:sync" {
		t.Errorf("TaskTypeSearchSync = %q, expected %q", TaskTypeSearchSync, "search:sync")
	}
}

func TestSearchTask_PayloadRoundTrip(t *testing.T) {
	task := &SearchTask{
		Op:      SearchOpUpsert,
		DocType: "task",
		ID:      7,
		Task:    &TaskDocument{ID: 7, ProjectID: 3, Title: "Write docs", AssigneeIDs: []uint{1, 2}},
	}

	at, err := newSearchTask(task)
	require.NoError(t, err)
	assert.Equal(t, TaskTypeSearchSync, at.Type())

	var decoded SearchTask
	require.NoError(t, json.Unmarshal(at.Payload(), &decoded))
	assert.Equal(t, *task.Task, *decoded.Task)
	assert.Nil(t, decoded.Project)
}

func TestSyncQueue_IsAsync(t *testing.T) {
	queue := NewSyncQueue()
	if queue.IsAsync() {
		t.Error("SyncQueue.IsAsync() should return false")
	}
}

func TestSyncQueue_EnqueueWithoutProcessor(t *testing.T) {
	queue := NewSyncQueue()
	err := queue.Enqueue(&SearchTask{Op: SearchOpDelete, DocType: "project", ID: 1})
	if err != nil {
		t.Errorf("Enqueue without processor should not error, got %v", err)
	}
}

func TestSyncQueue_RunsProcessorAndCloseWaits(t *testing.T) {
	queue := NewSyncQueue()

	var mu sync.Mutex
	var seen []uint
	queue.SetProcessor(func(ctx context.Context, task *SearchTask) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, task.ID)
		return nil
	})

	for i := uint(1); i <= 3; i++ {
		require.NoError(t, queue.Enqueue(&SearchTask{Op: SearchOpDelete, DocType: "task", ID: i}))
	}
	require.NoError(t, queue.Close())

	assert.Equal(t, []uint{1, 2, 3}, seen)
}

func TestSyncQueue_PreservesOrder(t *testing.T) {
	queue := NewSyncQueue()

	var mu sync.Mutex
	var ops []string
	queue.SetProcessor(func(ctx context.Context, task *SearchTask) error {
		mu.Lock()
		defer mu.Unlock()
		ops = append(ops, task.Op)
		return nil
	})

	var want []string
	for i := 0; i < 100; i++ {
		require.NoError(t, queue.Enqueue(&SearchTask{Op: SearchOpUpsert, DocType: "task", ID: 1}))
		require.NoError(t, queue.Enqueue(&SearchTask{Op: SearchOpDelete, DocType: "task", ID: 1}))
		want = append(want, SearchOpUpsert, SearchOpDelete)
	}
	require.NoError(t, queue.Close())
	assert.Equal(t, want, ops)

	// Still usable after Close.
	require.NoError(t, queue.Enqueue(&SearchTask{Op: SearchOpUpsert, DocType: "task", ID: 2}))
	require.NoError(t, queue.Close())
	assert.Len(t, ops, 201)
}

func TestSyncQueue_ProcessorErrorIsSwallowed(t *testing.T) {
	queue := NewSyncQueue()
	queue.SetProcessor(func(ctx context.Context, task *SearchTask) error {
		return errors.New("index down")
	})
	assert.NoError(t, queue.Enqueue(&SearchTask{Op: SearchOpDelete, DocType: "task", ID: 1}))
	assert.NoError(t, queue.Close())
}

func TestSearchTask_Validate(t *testing.T) {
	tests := []struct {
		name string
		task SearchTask
		ok   bool
	}{
		{"upsert project", SearchTask{Op: SearchOpUpsert, DocType: models.SearchDocProject, ID: 1, Project: &ProjectDocument{ID: 1}}, true},
		{"upsert task", SearchTask{Op: SearchOpUpsert, DocType: models.SearchDocTask, ID: 2, Task: &TaskDocument{ID: 2}}, true},
		{"delete task", SearchTask{Op: SearchOpDelete, DocType: models.SearchDocTask, ID: 2}, true},
		{"upsert without document", SearchTask{Op: SearchOpUpsert, DocType: models.SearchDocTask, ID: 2}, false},
		{"upsert task carrying project", SearchTask{Op: SearchOpUpsert, DocType: models.SearchDocTask, ID: 2, Project: &ProjectDocument{ID: 2}}, false},
		{"delete without id", SearchTask{Op: SearchOpDelete, DocType: models.SearchDocProject}, false},
		{"unknown doc type", SearchTask{Op: SearchOpDelete, DocType: "user", ID: 1}, false},
		{"unknown op", SearchTask{Op: "touch", DocType: models.SearchDocTask, ID: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestAsyncQueue_IsAsync(t *testing.T) {
	queue := &AsyncQueue{}
	if !queue.IsAsync() {
		t.Error("AsyncQueue.IsAsync() should return true")
	}
}
