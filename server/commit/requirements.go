package commit

import (
	"github.com/gear6io/icecatalog/pkg/errors"
	"github.com/gear6io/icecatalog/server/model"
)

var ErrRequirementFailed = errors.MustNewCode("commit.requirement_failed")

// EvaluateRequirements checks each requirement against the pre-image in
// order, aborting on the first failure. exists
// reports whether the tabular already had committed metadata before
// this commit (false for a brand-new createTable/registerTable).
func EvaluateRequirements(reqs []model.Requirement, pre *model.TableMetadata, exists bool) error {
	for _, r := range reqs {
		if err := evaluateOne(r, pre, exists); err != nil {
			return err
		}
	}
	return nil
}

func evaluateOne(r model.Requirement, pre *model.TableMetadata, exists bool) error {
	switch r.Kind {
	case model.RequireAssertCreate:
		if exists {
			return errors.New(ErrRequirementFailed, "assert-create: table already exists")
		}
	case model.RequireAssertTableUUID:
		if pre.TableUUID != r.TableUUID {
			return errors.Newf(ErrRequirementFailed, "assert-table-uuid: expected %q, found %q", r.TableUUID, pre.TableUUID)
		}
	case model.RequireAssertRefSnapshotID:
		ref, ok := pre.Refs[r.Ref]
		if r.SnapshotID == nil {
			if ok {
				return errors.Newf(ErrRequirementFailed, "assert-ref-snapshot-id: ref %q must be absent", r.Ref)
			}
			return nil
		}
		if !ok {
			return errors.Newf(ErrRequirementFailed, "assert-ref-snapshot-id: ref %q does not exist", r.Ref)
		}
		if ref.SnapshotID != *r.SnapshotID {
			return errors.Newf(ErrRequirementFailed, "assert-ref-snapshot-id: ref %q points at %d, expected %d", r.Ref, ref.SnapshotID, *r.SnapshotID)
		}
	case model.RequireAssertLastAssignedFieldID:
		if pre.LastColumnID != r.IntValue {
			return errors.Newf(ErrRequirementFailed, "assert-last-assigned-field-id: expected %d, found %d", r.IntValue, pre.LastColumnID)
		}
	case model.RequireAssertCurrentSchemaID:
		if pre.CurrentSchemaID != r.IntValue {
			return errors.Newf(ErrRequirementFailed, "assert-current-schema-id: expected %d, found %d", r.IntValue, pre.CurrentSchemaID)
		}
	case model.RequireAssertLastAssignedPartitionID:
		if pre.LastPartitionID != r.IntValue {
			return errors.Newf(ErrRequirementFailed, "assert-last-assigned-partition-id: expected %d, found %d", r.IntValue, pre.LastPartitionID)
		}
	case model.RequireAssertDefaultSpecID:
		if pre.DefaultSpecID != r.IntValue {
			return errors.Newf(ErrRequirementFailed, "assert-default-spec-id: expected %d, found %d", r.IntValue, pre.DefaultSpecID)
		}
	case model.RequireAssertDefaultSortOrderID:
		if pre.DefaultSortOrderID != r.IntValue {
			return errors.Newf(ErrRequirementFailed, "assert-default-sort-order-id: expected %d, found %d", r.IntValue, pre.DefaultSortOrderID)
		}
	default:
		return errors.Newf(ErrRequirementFailed, "unrecognized requirement kind %q", r.Kind)
	}
	return nil
}
