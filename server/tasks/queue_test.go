package tasks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIdempotencyKeyStability(t *testing.T) {
	wh := "wh-1"
	ent := "tab-1"
	a := EnqueueParams{Queue: QueueTabularExpiration, ProjectID: "p1", WarehouseID: &wh, EntityType: "table", EntityID: &ent}
	b := EnqueueParams{Queue: QueueTabularExpiration, ProjectID: "p1", WarehouseID: &wh, EntityType: "table", EntityID: &ent}

	// Same target, same key: two enqueues collapse into one task.
	assert.Equal(t, a.idempotencyKey(), b.idempotencyKey())

	// Payload and schedule do not participate in identity.
	b.Payload = map[string]string{"location": "s3://b/t"}
	b.ScheduledFor = time.Now().Add(time.Hour)
	assert.Equal(t, a.idempotencyKey(), b.idempotencyKey())
}

func TestIdempotencyKeyDiscriminates(t *testing.T) {
	wh := "wh-1"
	ent := "tab-1"
	base := EnqueueParams{Queue: QueueTabularExpiration, ProjectID: "p1", WarehouseID: &wh, EntityType: "table", EntityID: &ent}

	otherQueue := base
	otherQueue.Queue = QueueTabularPurge
	assert.NotEqual(t, base.idempotencyKey(), otherQueue.idempotencyKey())

	otherEntity := base
	ent2 := "tab-2"
	otherEntity.EntityID = &ent2
	assert.NotEqual(t, base.idempotencyKey(), otherEntity.idempotencyKey())

	projectScoped := EnqueueParams{Queue: QueueStatisticsRollup, ProjectID: "p1", EntityType: "project"}
	warehouseScoped := EnqueueParams{Queue: QueueStatisticsRollup, ProjectID: "p1", WarehouseID: &wh, EntityType: "warehouse"}
	assert.NotEqual(t, projectScoped.idempotencyKey(), warehouseScoped.idempotencyKey())
}

func TestBackoffDelayGrowth(t *testing.T) {
	base := 2 * time.Second
	max := 5 * time.Minute

	// Jitter is ±20%, so compare midpoints against generous bounds.
	for attempt, want := range map[int]time.Duration{
		1: 2 * time.Second,
		2: 4 * time.Second,
		3: 8 * time.Second,
		4: 16 * time.Second,
	} {
		got := backoffDelay(attempt, base, max)
		assert.GreaterOrEqual(t, got, want-want/5, "attempt %d", attempt)
		assert.LessOrEqual(t, got, want+want/5, "attempt %d", attempt)
	}
}

func TestBackoffDelayCap(t *testing.T) {
	base := 2 * time.Second
	max := 10 * time.Second
	got := backoffDelay(20, base, max)
	assert.LessOrEqual(t, got, max+max/5)
}
