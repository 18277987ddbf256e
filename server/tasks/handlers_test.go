package tasks

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/gear6io/icecatalog/pkg/errors"
	"github.com/gear6io/icecatalog/server/catalogstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRemover struct {
	deletedObjects  []string
	deletedPrefixes []string
}

func (f *fakeRemover) DeleteObject(_ context.Context, _ string, uri string) error {
	f.deletedObjects = append(f.deletedObjects, uri)
	return nil
}

func (f *fakeRemover) DeletePrefix(_ context.Context, _ string, prefix string) error {
	f.deletedPrefixes = append(f.deletedPrefixes, prefix)
	return nil
}

func noopCheckpoint(float64) error { return nil }

func taskWith(t *testing.T, queue string, warehouseID string, payload map[string]string) *catalogstore.Task {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	task := &catalogstore.Task{ID: "t1", Queue: queue, Payload: body, ProjectID: "p1", EntityType: "table"}
	if warehouseID != "" {
		task.WarehouseID = &warehouseID
	}
	return task
}

func TestPurgeHandlerDeletesPrefix(t *testing.T) {
	remover := &fakeRemover{}
	h := &PurgeHandler{Objects: remover}

	task := taskWith(t, QueueTabularPurge, "wh-1", map[string]string{
		"tabular_id": "tab-1",
		"location":   "s3://bucket/wh-1/tab-1",
	})
	require.NoError(t, h.Handle(context.Background(), task, noopCheckpoint))
	assert.Equal(t, []string{"s3://bucket/wh-1/tab-1"}, remover.deletedPrefixes)
}

func TestPurgeHandlerRejectsMissingLocation(t *testing.T) {
	h := &PurgeHandler{Objects: &fakeRemover{}}
	task := taskWith(t, QueueTabularPurge, "wh-1", map[string]string{"tabular_id": "tab-1"})
	require.Error(t, h.Handle(context.Background(), task, noopCheckpoint))
}

func TestPurgeHandlerRejectsMissingWarehouse(t *testing.T) {
	h := &PurgeHandler{Objects: &fakeRemover{}}
	task := taskWith(t, QueueTabularPurge, "", map[string]string{"location": "s3://b/x"})
	require.Error(t, h.Handle(context.Background(), task, noopCheckpoint))
}

func TestPurgeHandlerStopsAtCheckpoint(t *testing.T) {
	remover := &fakeRemover{}
	h := &PurgeHandler{Objects: remover}
	task := taskWith(t, QueueTabularPurge, "wh-1", map[string]string{"location": "s3://b/x"})

	stop := func(float64) error { return errors.New(ErrCancelled, "task stop requested") }
	err := h.Handle(context.Background(), task, stop)
	require.Error(t, err)
	assert.Empty(t, remover.deletedPrefixes, "no deletion after a stop signal")
}
