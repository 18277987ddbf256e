package commit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gear6io/icecatalog/pkg/errors"
	"github.com/gear6io/icecatalog/server/authz"
	"github.com/gear6io/icecatalog/server/catalogstore"
	"github.com/gear6io/icecatalog/server/metrics"
	"github.com/gear6io/icecatalog/server/model"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ViewMetadataBuilder mirrors TableMetadataBuilder for views: pure
// in-memory application of the view-applicable update kinds, no I/O.
type ViewMetadataBuilder struct {
	md    *model.ViewMetadata
	nowMs int64
}

func NewViewMetadataBuilder(pre *model.ViewMetadata, nowMs int64) *ViewMetadataBuilder {
	c := *pre
	c.Schemas = append([]model.Schema(nil), pre.Schemas...)
	c.Versions = append([]model.ViewVersion(nil), pre.Versions...)
	c.VersionLog = append([]model.SnapshotLogEntry(nil), pre.VersionLog...)
	c.Properties = make(map[string]string, len(pre.Properties))
	for k, v := range pre.Properties {
		c.Properties[k] = v
	}
	return &ViewMetadataBuilder{md: &c, nowMs: nowMs}
}

func (b *ViewMetadataBuilder) Metadata() *model.ViewMetadata { return b.md }

func (b *ViewMetadataBuilder) Apply(u model.Update) error {
	switch u.Kind {
	case model.UpdateAssignUUID:
		b.md.ViewUUID = u.UUID
		return nil
	case model.UpdateSetLocation:
		b.md.Location = u.Location
		return nil
	case model.UpdateAddSchema:
		if u.Schema == nil {
			return errors.New(ErrInvalidUpdate, "add-schema requires a schema")
		}
		sc := *u.Schema
		for _, existing := range b.md.Schemas {
			if existing.SchemaID == sc.SchemaID {
				sc.SchemaID = b.nextSchemaID()
				break
			}
		}
		b.md.Schemas = append(b.md.Schemas, sc)
		return nil
	case model.UpdateSetProperties:
		for k, v := range u.Properties {
			b.md.Properties[k] = v
		}
		return nil
	case model.UpdateRemoveProperties:
		for _, k := range u.PropertyKeys {
			delete(b.md.Properties, k)
		}
		return nil
	case model.UpdateAddViewVersion:
		return b.applyAddViewVersion(u)
	case model.UpdateSetCurrentViewVersion:
		return b.applySetCurrentViewVersion(u)
	default:
		return errors.Newf(ErrInvalidUpdate, "update %q does not apply to views", u.Kind)
	}
}

func (b *ViewMetadataBuilder) applyAddViewVersion(u model.Update) error {
	if u.ViewVersion == nil {
		return errors.New(ErrInvalidUpdate, "add-view-version requires a version")
	}
	v := *u.ViewVersion
	if b.versionByID(v.VersionID) != nil {
		v.VersionID = b.nextVersionID()
	}
	if v.TimestampMs == 0 {
		v.TimestampMs = b.nowMs
	}
	schemaFound := false
	for _, sc := range b.md.Schemas {
		if sc.SchemaID == v.SchemaID {
			schemaFound = true
			break
		}
	}
	if !schemaFound {
		return errors.Newf(ErrInvalidUpdate, "add-view-version: schema %d does not exist", v.SchemaID)
	}
	b.md.Versions = append(b.md.Versions, v)
	b.md.VersionLog = append(b.md.VersionLog, model.SnapshotLogEntry{TimestampMs: v.TimestampMs, SnapshotID: int64(v.VersionID)})
	return nil
}

func (b *ViewMetadataBuilder) applySetCurrentViewVersion(u model.Update) error {
	id := u.ViewVersionID
	if id == -1 {
		// -1 means "the version just added", matching the table
		// builder's convention for set-current-schema.
		if len(b.md.Versions) == 0 {
			return errors.New(ErrInvalidUpdate, "set-current-view-version: no version has been added")
		}
		b.md.CurrentVersionID = b.md.Versions[len(b.md.Versions)-1].VersionID
		return nil
	}
	if b.versionByID(id) == nil {
		return errors.Newf(ErrInvalidUpdate, "set-current-view-version: version %d does not exist", id)
	}
	b.md.CurrentVersionID = id
	return nil
}

func (b *ViewMetadataBuilder) versionByID(id int) *model.ViewVersion {
	for i := range b.md.Versions {
		if b.md.Versions[i].VersionID == id {
			return &b.md.Versions[i]
		}
	}
	return nil
}

func (b *ViewMetadataBuilder) nextVersionID() int {
	next := 1
	for _, v := range b.md.Versions {
		if v.VersionID >= next {
			next = v.VersionID + 1
		}
	}
	return next
}

func (b *ViewMetadataBuilder) nextSchemaID() int {
	next := 0
	for _, sc := range b.md.Schemas {
		if sc.SchemaID >= next {
			next = sc.SchemaID + 1
		}
	}
	return next
}

// UpdateViewInput is updateView's contract; requirements are limited to
// assert-create since views carry no snapshot machinery to assert on.
type UpdateViewInput struct {
	TabularID     string
	WarehouseID   string
	Requirements  []model.Requirement
	Updates       []model.Update
	Principal     authz.Principal
	ActorID       string
	CorrelationID string
}

type UpdateViewOutput struct {
	Metadata             *model.ViewMetadata
	MetadataFileLocation string
}

// UpdateView runs the commit algorithm for views: same shape as
// UpdateTable, minus the contract verifier (which speaks table
// metadata) and the snapshot-specific requirement kinds.
func (e *Engine) UpdateView(ctx context.Context, in UpdateViewInput) (*UpdateViewOutput, error) {
	start := time.Now()
	out, err := e.updateView(ctx, in)
	backoff := 50 * time.Millisecond
	for attempt := 1; attempt < 3 && err != nil && catalogstore.IsConflict(err); attempt++ {
		select {
		case <-ctx.Done():
			err = errors.Wrap(ErrCommitConflict, ctx.Err(), "commit abandoned during conflict retry")
		case <-time.After(backoff):
			backoff *= 2
			out, err = e.updateView(ctx, in)
		}
	}
	outcome := "success"
	if err != nil {
		outcome = errors.AsError(err).Code.Name()
	}
	metrics.CommitsTotal.WithLabelValues("view", outcome).Inc()
	metrics.CommitDuration.Observe(time.Since(start).Seconds())
	return out, err
}

func (e *Engine) updateView(ctx context.Context, in UpdateViewInput) (*UpdateViewOutput, error) {
	decision, err := authz.IsAllowed(ctx, e.authz, authz.Query{
		Principal: in.Principal,
		Action:    authz.ActionCommitView,
		Resource:  authz.Resource{Type: authz.EntityView, ID: in.TabularID},
		Parent:    warehouseParent(in.WarehouseID),
		Context:   propertyDelta(in.Updates),
	})
	if err != nil {
		return nil, err
	}
	if decision != authz.Allow {
		return nil, deniedError(decision, "commit view", in.TabularID)
	}

	var out *UpdateViewOutput
	err = e.store.WithTx(ctx, func(tx bun.Tx) error {
		_, lockErr := e.store.LockTabularForUpdate(ctx, tx, in.TabularID)
		exists := true
		if lockErr != nil {
			if !catalogstore.IsNotFound(lockErr) {
				return lockErr
			}
			exists = false
		}

		var pre *model.ViewMetadata
		if exists {
			pre, err = e.store.LoadViewMetadataTx(ctx, tx, in.TabularID)
			if err != nil {
				return err
			}
		} else {
			pre = model.EmptyViewMetadata(uuid.NewString(), "")
		}

		for _, r := range in.Requirements {
			switch r.Kind {
			case model.RequireAssertCreate:
				if exists {
					return errors.Wrap(ErrCommitConflict,
						errors.New(ErrRequirementFailed, "assert-create: view already exists"), "commit requirement failed")
				}
			default:
				return errors.Newf(ErrCommitConflict, "requirement %q does not apply to views", r.Kind)
			}
		}

		nowMs := time.Now().UnixMilli()
		builder := NewViewMetadataBuilder(pre, nowMs)
		for _, u := range in.Updates {
			if err := builder.Apply(u); err != nil {
				return errors.Wrap(ErrCommitConflict, err, "commit update rejected")
			}
		}
		after := builder.Metadata()

		version := len(pre.VersionLog) + 1
		location := fmt.Sprintf("%s/metadata/%05d-%s.metadata.json", after.Location, version, uuid.NewString())

		if err := e.store.PersistViewDelta(ctx, tx, in.TabularID, pre, after, location, nowMs); err != nil {
			return err
		}

		body, err := marshalViewMetadata(after)
		if err != nil {
			return errors.Wrap(errors.CommonInternal, err, "failed to marshal committed view metadata")
		}
		if e.writer != nil {
			if err := e.writer.WriteMetadataFile(ctx, in.WarehouseID, location, body, false); err != nil {
				return errors.Wrap(ErrStorageUnavailable, err, "failed to write view metadata file")
			}
		}

		out = &UpdateViewOutput{Metadata: after, MetadataFileLocation: location}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if e.events != nil {
		e.events.Publish(ctx, Event{
			ID: uuid.NewString(), Type: "updated", EntityType: "view", EntityID: in.TabularID,
			WarehouseID: in.WarehouseID, ActorID: in.ActorID, CorrelationID: in.CorrelationID,
			TimestampMs: time.Now().UnixMilli(),
			Payload:     map[string]interface{}{"updates": in.Updates},
		})
	}
	return out, nil
}

// LoadView is the read-only view path, the analogue of LoadTable.
func (e *Engine) LoadView(ctx context.Context, tabularID string, principal authz.Principal) (*model.ViewMetadata, error) {
	decision, err := authz.IsAllowed(ctx, e.authz, authz.Query{
		Principal: principal,
		Action:    authz.ActionReadViewMetadata,
		Resource:  authz.Resource{Type: authz.EntityView, ID: tabularID},
	})
	if err != nil {
		return nil, err
	}
	if decision != authz.Allow {
		return nil, deniedError(decision, "read view", tabularID)
	}
	return e.store.LoadViewMetadata(ctx, tabularID)
}

// DropView mirrors DropTable with the view action vocabulary.
func (e *Engine) DropView(ctx context.Context, in DropTableInput) error {
	decision, err := authz.IsAllowed(ctx, e.authz, authz.Query{
		Principal: in.Principal,
		Action:    authz.ActionDropView,
		Resource:  authz.Resource{Type: authz.EntityView, ID: in.TabularID},
	})
	if err != nil {
		return err
	}
	if decision != authz.Allow {
		return deniedError(decision, "drop view", in.TabularID)
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

// wireViewMetadata is the Iceberg view-metadata.json projection.
type wireViewMetadata struct {
	ViewUUID         string                   `json:"view-uuid"`
	FormatVersion    int                      `json:"format-version"`
	Location         string                   `json:"location"`
	Schemas          []model.Schema           `json:"schemas"`
	Versions         []model.ViewVersion      `json:"versions"`
	CurrentVersionID int                      `json:"current-version-id"`
	VersionLog       []model.SnapshotLogEntry `json:"version-log,omitempty"`
	Properties       map[string]string        `json:"properties,omitempty"`
}

func marshalViewMetadata(md *model.ViewMetadata) ([]byte, error) {
	return json.Marshal(wireViewMetadata{
		ViewUUID:         md.ViewUUID,
		FormatVersion:    1,
		Location:         md.Location,
		Schemas:          md.Schemas,
		Versions:         md.Versions,
		CurrentVersionID: md.CurrentVersionID,
		VersionLog:       md.VersionLog,
		Properties:       md.Properties,
	})
}
