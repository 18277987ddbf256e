package commit

import (
	"context"
	"time"

	"github.com/gear6io/icecatalog/pkg/errors"
	"github.com/gear6io/icecatalog/server/authz"
	"github.com/gear6io/icecatalog/server/catalogstore"
	"github.com/gear6io/icecatalog/server/model"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// CreateTableInput is createTable's contract. Spec §4.2: "createTable
// follows steps 1-13 with an empty starting metadata and a single
// implicit assert-create requirement." The assert-create requirement
// itself is enforced earlier here, by the tabular row's own unique
// constraint on (namespace_id, name, kind): by the time UpdateTable's
// transaction opens, the row already exists, so asking the builder to
// assert its absence would always fail.
type CreateTableInput struct {
	WarehouseID   string
	NamespaceID   string
	NamespaceName string
	Name          string
	Location      string
	Schema        model.Schema
	PartitionSpec *model.PartitionSpec
	SortOrder     *model.SortOrder
	Properties    map[string]string
	Principal     authz.Principal
	ActorID       string
	CorrelationID string
}

func (e *Engine) CreateTable(ctx context.Context, in CreateTableInput) (*UpdateTableOutput, error) {
	decision, err := authz.IsAllowed(ctx, e.authz, authz.Query{
		Principal: in.Principal,
		Action:    authz.ActionCommitTable,
		Resource:  authz.Resource{Type: authz.EntityNamespace, ID: in.NamespaceID},
	})
	if err != nil {
		return nil, err
	}
	if decision != authz.Allow {
		return nil, deniedError(decision, "create a table in namespace", in.NamespaceID)
	}

	tableUUID := uuid.NewString()
	if err := e.store.CheckTableUUIDFree(ctx, in.WarehouseID, tableUUID); err != nil {
		return nil, err
	}

	tabular, err := e.store.CreateTabular(ctx, catalogstore.CreateTabularParams{
		WarehouseID: in.WarehouseID, NamespaceID: in.NamespaceID, NamespaceName: in.NamespaceName,
		Name: in.Name, Kind: catalogstore.KindTable, TableUUID: tableUUID, Location: in.Location,
	})
	if err != nil {
		return nil, err
	}

	updates := []model.Update{
		{Kind: model.UpdateAssignUUID, UUID: tableUUID},
		{Kind: model.UpdateAddSchema, Schema: &in.Schema},
		{Kind: model.UpdateSetCurrentSchema, SchemaID: -1},
	}
	if in.PartitionSpec != nil {
		updates = append(updates,
			model.Update{Kind: model.UpdateAddPartitionSpec, PartitionSpec: in.PartitionSpec},
			model.Update{Kind: model.UpdateSetDefaultSpec, SpecID: -1})
	}
	if in.SortOrder != nil {
		updates = append(updates,
			model.Update{Kind: model.UpdateAddSortOrder, SortOrder: in.SortOrder},
			model.Update{Kind: model.UpdateSetDefaultSortOrder, SortOrderID: -1})
	}
	if len(in.Properties) > 0 {
		updates = append(updates, model.Update{Kind: model.UpdateSetProperties, Properties: in.Properties})
	}

	out, err := e.UpdateTable(ctx, UpdateTableInput{
		TabularID: tabular.ID, WarehouseID: in.WarehouseID,
		Updates: updates, Principal: in.Principal, ActorID: in.ActorID, CorrelationID: in.CorrelationID,
	})
	if err != nil {
		_ = e.store.HardDeleteTabular(ctx, tabular.ID)
		return nil, err
	}
	return out, nil
}

// RegisterTableInput is registerTable's contract: the client already
// wrote a metadata.json to a location it controls (typically after a
// stageTable), so this path skips the metadata-file write and persists
// the supplied metadata as-is.
// Validating that the file actually exists and matches Metadata is the
// REST handler's job, done via the Storage Access Broker before this
// is called, since that read is a plain object-storage GET with no
// catalog-transactional meaning.
type RegisterTableInput struct {
	WarehouseID   string
	NamespaceID   string
	NamespaceName string
	Name          string
	Metadata      *model.TableMetadata
	Principal     authz.Principal
	ActorID       string
	CorrelationID string
}

func (e *Engine) RegisterTable(ctx context.Context, in RegisterTableInput) (*UpdateTableOutput, error) {
	decision, err := authz.IsAllowed(ctx, e.authz, authz.Query{
		Principal: in.Principal,
		Action:    authz.ActionCommitTable,
		Resource:  authz.Resource{Type: authz.EntityNamespace, ID: in.NamespaceID},
	})
	if err != nil {
		return nil, err
	}
	if decision != authz.Allow {
		return nil, deniedError(decision, "register a table in namespace", in.NamespaceID)
	}
	if in.Metadata == nil || in.Metadata.MetadataFileLocation == "" {
		return nil, errors.New(ErrInvalidUpdate, "register-table requires metadata with a metadata-file location already recorded")
	}

	if err := e.store.CheckTableUUIDFree(ctx, in.WarehouseID, in.Metadata.TableUUID); err != nil {
		return nil, err
	}

	tabular, err := e.store.CreateTabular(ctx, catalogstore.CreateTabularParams{
		WarehouseID: in.WarehouseID, NamespaceID: in.NamespaceID, NamespaceName: in.NamespaceName,
		Name: in.Name, Kind: catalogstore.KindTable, TableUUID: in.Metadata.TableUUID, Location: in.Metadata.Location,
	})
	if err != nil {
		return nil, err
	}

	nowMs := time.Now().UnixMilli()
	var out *UpdateTableOutput
	err = e.store.WithTx(ctx, func(tx bun.Tx) error {
		pre, lockErr := e.store.LoadTableMetadataTx(ctx, tx, tabular.ID)
		if lockErr != nil {
			return lockErr
		}
		if err := e.store.PersistMetadataDelta(ctx, tx, tabular.ID, pre, in.Metadata, in.Metadata.MetadataFileLocation, nowMs); err != nil {
			return err
		}
		out = &UpdateTableOutput{Metadata: in.Metadata, MetadataFileLocation: in.Metadata.MetadataFileLocation}
		return nil
	})
	if err != nil {
		_ = e.store.HardDeleteTabular(ctx, tabular.ID)
		return nil, err
	}

	if e.events != nil {
		e.events.Publish(ctx, Event{
			ID: uuid.NewString(), Type: "registered", EntityType: "table", EntityID: tabular.ID,
			WarehouseID: in.WarehouseID, ActorID: in.ActorID, CorrelationID: in.CorrelationID,
			TimestampMs: nowMs,
		})
	}
	return out, nil
}
