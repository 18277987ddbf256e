package commit

import (
	"context"
	"fmt"
	"time"

	"github.com/gear6io/icecatalog/pkg/errors"
	"github.com/gear6io/icecatalog/server/authz"
	"github.com/gear6io/icecatalog/server/catalogstore"
	"github.com/gear6io/icecatalog/server/metrics"
	"github.com/gear6io/icecatalog/server/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
)

var (
	ErrCommitConflict     = errors.MustNewCode("commit.conflict")
	ErrContractViolated   = errors.MustNewCode("commit.contract_violated")
	ErrStorageUnavailable = errors.MustNewCode("commit.storage_unavailable")
)

// MetadataWriter writes the serialized metadata document for a tabular
// to object storage using the warehouse's server-side credentials.
// Implemented by the Storage Access Broker.
type MetadataWriter interface {
	WriteMetadataFile(ctx context.Context, warehouseID, location string, body []byte, gzip bool) error
}

// EventPublisher is the fire-and-forget change-event sink.
type EventPublisher interface {
	Publish(ctx context.Context, event Event)
}

// ContractVerifier is the external pre-commit veto hook.
type ContractVerifier interface {
	Verify(ctx context.Context, tabularID string, before, after *model.TableMetadata) (allowed bool, reason string)
}

// TaskEnqueuer schedules deferred work: metadata-log cleanup,
// soft-delete expiration, storage purge.
type TaskEnqueuer interface {
	Enqueue(ctx context.Context, kind string, payload map[string]string, runAfter time.Time) error
}

// Event is one published change notification.
type Event struct {
	ID            string
	Type          string // created | updated | dropped
	EntityType    string
	EntityID      string
	EntityPath    string
	WarehouseID   string
	ProjectID     string
	ActorID       string
	CorrelationID string
	TimestampMs   int64
	Payload       interface{}
}

// Engine is the Commit Engine.
type Engine struct {
	store    *catalogstore.Store
	authz    authz.Authorizer
	writer   MetadataWriter
	events   EventPublisher
	contract ContractVerifier
	tasks    TaskEnqueuer
	log      zerolog.Logger

	metadataLogCap int
}

type Options struct {
	Store          *catalogstore.Store
	Authz          authz.Authorizer
	Writer         MetadataWriter
	Events         EventPublisher
	Contract       ContractVerifier
	Tasks          TaskEnqueuer
	Logger         zerolog.Logger
	MetadataLogCap int // default 100
}

func NewEngine(opts Options) *Engine {
	cap := opts.MetadataLogCap
	if cap <= 0 {
		cap = 100
	}
	return &Engine{
		store: opts.Store, authz: opts.Authz, writer: opts.Writer,
		events: opts.Events, contract: opts.Contract, tasks: opts.Tasks,
		log: opts.Logger, metadataLogCap: cap,
	}
}

// UpdateTableInput is the public contract for updateTable.
type UpdateTableInput struct {
	TabularID    string
	WarehouseID  string
	Requirements []model.Requirement
	Updates      []model.Update
	Principal    authz.Principal
	ActorID      string
	CorrelationID string
}

// UpdateTableOutput carries the committed metadata and its location.
type UpdateTableOutput struct {
	Metadata             *model.TableMetadata
	MetadataFileLocation string
}

// UpdateTable runs the full table commit algorithm: authorize, lock,
// load, check requirements, apply updates, persist, write the metadata
// file, emit events.
func (e *Engine) UpdateTable(ctx context.Context, in UpdateTableInput) (*UpdateTableOutput, error) {
	start := time.Now()

	// Serialization aborts and lock contention are retried with bounded
	// backoff; expected failures (requirement failed, veto,
	// forbidden) surface immediately.
	var out *UpdateTableOutput
	var err error
	backoff := 50 * time.Millisecond
	for attempt := 0; attempt < 3; attempt++ {
		out, err = e.updateTable(ctx, in)
		if err == nil || !catalogstore.IsConflict(err) {
			break
		}
		select {
		case <-ctx.Done():
			err = errors.Wrap(ErrCommitConflict, ctx.Err(), "commit abandoned during conflict retry")
		case <-time.After(backoff):
			backoff *= 2
			continue
		}
		break
	}

	outcome := "success"
	if err != nil {
		outcome = errors.AsError(err).Code.Name()
	}
	metrics.CommitsTotal.WithLabelValues("table", outcome).Inc()
	metrics.CommitDuration.Observe(time.Since(start).Seconds())
	return out, err
}

// warehouseParent names the warehouse as the resolved parent scope for
// a tabular query, so the authorization backend can decide not-found
// visibility when the tabular itself is absent.
func warehouseParent(warehouseID string) *authz.Resource {
	if warehouseID == "" {
		return nil
	}
	return &authz.Resource{Type: authz.EntityWarehouse, ID: warehouseID}
}

// deniedError projects a deny decision onto the error taxonomy: a
// backend that deemed nonexistence safe to reveal yields NotFound, a
// backend failure yields the internal authorization class, everything
// else the uniform Forbidden.
func deniedError(d authz.Decision, verb, id string) error {
	switch d {
	case authz.DenyNotFound:
		return errors.Newf(errors.CommonNotFound, "%q not found", id)
	case authz.DenyInternal:
		return errors.Newf(errors.CommonAuthorizationFailure, "authorization backend could not evaluate %s %q", verb, id)
	default:
		return errors.Newf(errors.CommonForbidden, "not authorized to %s %q", verb, id)
	}
}

// propertyDelta summarizes the property changes a commit proposes so
// attribute-aware authorization rules can match against them: set keys
// carry their new value, removed keys map to "".
func propertyDelta(updates []model.Update) map[string]string {
	var delta map[string]string
	record := func(k, v string) {
		if delta == nil {
			delta = map[string]string{}
		}
		delta[k] = v
	}
	for _, u := range updates {
		switch u.Kind {
		case model.UpdateSetProperties:
			for k, v := range u.Properties {
				record(k, v)
			}
		case model.UpdateRemoveProperties:
			for _, k := range u.PropertyKeys {
				record(k, "")
			}
		}
	}
	return delta
}

func (e *Engine) updateTable(ctx context.Context, in UpdateTableInput) (*UpdateTableOutput, error) {
	decision, err := authz.IsAllowed(ctx, e.authz, authz.Query{
		Principal: in.Principal,
		Action:    authz.ActionCommitTable,
		Resource:  authz.Resource{Type: authz.EntityTable, ID: in.TabularID},
		Parent:    warehouseParent(in.WarehouseID),
		Context:   propertyDelta(in.Updates),
	})
	if err != nil {
		return nil, err
	}
	if decision != authz.Allow {
		return nil, deniedError(decision, "commit table", in.TabularID)
	}

	var out *UpdateTableOutput
	err = e.store.WithTx(ctx, func(tx bun.Tx) error {
		_, lockErr := e.store.LockTabularForUpdate(ctx, tx, in.TabularID)
		exists := true
		if lockErr != nil {
			if !catalogstore.IsNotFound(lockErr) {
				return lockErr
			}
			exists = false
		}

		var pre *model.TableMetadata
		if exists {
			pre, err = e.store.LoadTableMetadataTx(ctx, tx, in.TabularID)
			if err != nil {
				return err
			}
		} else {
			pre = model.EmptyTableMetadata(uuid.NewString(), "", model.FormatVersion2)
		}

		if err := EvaluateRequirements(in.Requirements, pre, exists); err != nil {
			return errors.Wrap(ErrCommitConflict, err, "commit requirement failed")
		}

		nowMs := time.Now().UnixMilli()
		builder := NewTableMetadataBuilder(pre, nowMs)
		for _, u := range in.Updates {
			if err := builder.Apply(u); err != nil {
				return errors.Wrap(ErrCommitConflict, err, "commit update rejected")
			}
		}
		after := builder.Metadata()

		if e.contract != nil {
			if allowed, reason := e.contract.Verify(ctx, in.TabularID, pre, after); !allowed {
				return errors.Newf(ErrContractViolated, "contract verifier vetoed commit: %s", reason)
			}
		}

		version := len(after.MetadataLog) + 1
		location := fmt.Sprintf("%s/metadata/%05d-%s.metadata.json", after.Location, version, uuid.NewString())

		if err := e.store.PersistMetadataDelta(ctx, tx, in.TabularID, pre, after, location, nowMs); err != nil {
			return err
		}

		body, err := marshalMetadata(after)
		if err != nil {
			return errors.Wrap(errors.CommonInternal, err, "failed to marshal committed metadata")
		}
		if e.writer != nil {
			if err := e.writer.WriteMetadataFile(ctx, in.WarehouseID, location, body, false); err != nil {
				return errors.Wrap(ErrStorageUnavailable, err, "failed to write metadata file")
			}
		}

		if len(after.MetadataLog) > e.metadataLogCap && after.Properties["write.metadata.delete-after-commit.enabled"] == "true" {
			if e.tasks != nil {
				_ = e.tasks.Enqueue(ctx, "metadata_log_cleanup", map[string]string{"tabular_id": in.TabularID}, time.Now())
			}
		}

		out = &UpdateTableOutput{Metadata: after, MetadataFileLocation: location}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if e.events != nil {
		e.events.Publish(ctx, Event{
			ID: uuid.NewString(), Type: "updated", EntityType: "table", EntityID: in.TabularID,
			WarehouseID: in.WarehouseID, ActorID: in.ActorID, CorrelationID: in.CorrelationID,
			TimestampMs: time.Now().UnixMilli(),
			Payload:     map[string]interface{}{"requirements": in.Requirements, "updates": in.Updates},
		})
	}

	return out, nil
}

// LoadTable is the read-only path: resolve,
// authorize, assemble via the one-query path. Credential attachment is
// left to the caller (REST handler), which has the access-delegation
// header and can call the Storage Access Broker directly.
func (e *Engine) LoadTable(ctx context.Context, tabularID string, principal authz.Principal) (*model.TableMetadata, error) {
	decision, err := authz.IsAllowed(ctx, e.authz, authz.Query{
		Principal: principal,
		Action:    authz.ActionReadTableMetadata,
		Resource:  authz.Resource{Type: authz.EntityTable, ID: tabularID},
	})
	if err != nil {
		return nil, err
	}
	if decision != authz.Allow {
		return nil, deniedError(decision, "read table", tabularID)
	}
	return e.store.LoadTableMetadata(ctx, tabularID)
}

// DropTableInput is dropTable's contract.
type DropTableInput struct {
	TabularID     string
	WarehouseID   string
	Principal     authz.Principal
	PurgeRequested bool
}

func (e *Engine) DropTable(ctx context.Context, in DropTableInput) error {
	decision, err := authz.IsAllowed(ctx, e.authz, authz.Query{
		Principal: in.Principal,
		Action:    authz.ActionDropTable,
		Resource:  authz.Resource{Type: authz.EntityTable, ID: in.TabularID},
	})
	if err != nil {
		return err
	}
	if decision != authz.Allow {
		return deniedError(decision, "drop table", in.TabularID)
	}

	wh, err := e.store.GetWarehouse(ctx, in.WarehouseID)
	if err != nil {
		return err
	}
	tabular, err := e.store.GetTabular(ctx, in.TabularID)
	if err != nil {
		return err
	}

	if wh.SoftDeleteMode == "soft" && !in.PurgeRequested {
		if err := e.store.SoftDeleteTabular(ctx, in.TabularID, false); err != nil {
			return err
		}
		if e.tasks != nil {
			runAfter := time.Now().Add(time.Duration(wh.SoftDeleteTTLDays) * 24 * time.Hour)
			_ = e.tasks.Enqueue(ctx, "tabular_expiration", map[string]string{
				"tabular_id":   in.TabularID,
				"warehouse_id": in.WarehouseID,
				"location":     tabular.Location,
			}, runAfter)
		}
		return nil
	}

	if err := e.store.HardDeleteTabular(ctx, in.TabularID); err != nil {
		return err
	}
	if in.PurgeRequested && e.tasks != nil {
		_ = e.tasks.Enqueue(ctx, "tabular_purge", map[string]string{
			"tabular_id":   in.TabularID,
			"warehouse_id": in.WarehouseID,
			"location":     tabular.Location,
		}, time.Now())
	}
	return nil
}
