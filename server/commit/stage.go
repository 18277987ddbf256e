package commit

import (
	"context"

	"github.com/gear6io/icecatalog/server/authz"
	"github.com/gear6io/icecatalog/server/catalogstore"
	"github.com/gear6io/icecatalog/server/model"
	"github.com/google/uuid"
)

// StageTableInput registers a tabular row with no metadata, awaiting
// its first commit. The staged row
// reserves the name and the location; the first UpdateTable against it
// flips it live.
type StageTableInput struct {
	WarehouseID   string
	NamespaceID   string
	NamespaceName string
	Name          string
	Kind          string // table | view
	Location      string
	Principal     authz.Principal
}

func (e *Engine) StageTable(ctx context.Context, in StageTableInput) (*catalogstore.Tabular, error) {
	action := authz.ActionCommitTable
	if in.Kind == catalogstore.KindView {
		action = authz.ActionCommitView
	}
	decision, err := authz.IsAllowed(ctx, e.authz, authz.Query{
		Principal: in.Principal,
		Action:    action,
		Resource:  authz.Resource{Type: authz.EntityNamespace, ID: in.NamespaceID},
	})
	if err != nil {
		return nil, err
	}
	if decision != authz.Allow {
		return nil, deniedError(decision, "stage a "+in.Kind+" in namespace", in.NamespaceID)
	}

	return e.store.CreateTabular(ctx, catalogstore.CreateTabularParams{
		WarehouseID:   in.WarehouseID,
		NamespaceID:   in.NamespaceID,
		NamespaceName: in.NamespaceName,
		Name:          in.Name,
		Kind:          in.Kind,
		TableUUID:     uuid.NewString(),
		Location:      in.Location,
		Staged:        true,
	})
}

// CreateViewInput is createView's contract: stage the row, then run the
// first view commit with the supplied schema and version.
type CreateViewInput struct {
	WarehouseID   string
	NamespaceID   string
	NamespaceName string
	Name          string
	Location      string
	Schema        model.Schema
	Version       model.ViewVersion
	Properties    map[string]string
	Principal     authz.Principal
	ActorID       string
	CorrelationID string
}

func (e *Engine) CreateView(ctx context.Context, in CreateViewInput) (*UpdateViewOutput, error) {
	tabular, err := e.StageTable(ctx, StageTableInput{
		WarehouseID:   in.WarehouseID,
		NamespaceID:   in.NamespaceID,
		NamespaceName: in.NamespaceName,
		Name:          in.Name,
		Kind:          catalogstore.KindView,
		Location:      in.Location,
		Principal:     in.Principal,
	})
	if err != nil {
		return nil, err
	}

	in.Version.SchemaID = in.Schema.SchemaID
	updates := []model.Update{
		{Kind: model.UpdateAssignUUID, UUID: tabular.TableUUID},
		{Kind: model.UpdateSetLocation, Location: in.Location},
		{Kind: model.UpdateAddSchema, Schema: &in.Schema},
		{Kind: model.UpdateAddViewVersion, ViewVersion: &in.Version},
		{Kind: model.UpdateSetCurrentViewVersion, ViewVersionID: -1},
	}
	if len(in.Properties) > 0 {
		updates = append(updates, model.Update{Kind: model.UpdateSetProperties, Properties: in.Properties})
	}

	out, err := e.UpdateView(ctx, UpdateViewInput{
		TabularID: tabular.ID, WarehouseID: in.WarehouseID,
		Updates: updates, Principal: in.Principal, ActorID: in.ActorID, CorrelationID: in.CorrelationID,
	})
	if err != nil {
		_ = e.store.HardDeleteTabular(ctx, tabular.ID)
		return nil, err
	}
	return out, nil
}
