package intake

import (
	"context"
	"errors"

	"github.com/DaniloDobras/ois/store"
)

// Lookup resolves referenced rows and locks them for the rest of the
// transaction. *store.Tx implements it.
type Lookup interface {
	LockBucket(ctx context.Context, id int64) (*store.Bucket, error)
	LockPosition(ctx context.Context, id int64) (*store.Position, error)
}

// ResolvedAction is an action whose references all exist. Bucket is nil when
// NewBucket is set; the writer allocates it.
type ResolvedAction struct {
	Index     int
	Bucket    *store.Bucket
	NewBucket bool
	Source    *store.Position
	Target    *store.Position
}

// ValidatedOrder is an order that passed field and reference checks.
type ValidatedOrder struct {
	Priority int64
	Type     OrderType
	Actions  []ResolvedAction
}

// Validate checks req action by action, in order, and stops at the first
// violation: the field check for an action runs before its lookups, and
// lookups run bucket, source, target.
func Validate(ctx context.Context, lookup Lookup, req OrderRequest) (*ValidatedOrder, error) {
	rule, ok := fieldRules[req.OrderType]
	if !ok {
		return nil, invalidOrder("unknown order_type %q", req.OrderType)
	}
	if len(req.Actions) == 0 {
		return nil, invalidOrder("order has no actions")
	}

	v := &ValidatedOrder{
		Priority: req.Priority,
		Type:     req.OrderType,
		Actions:  make([]ResolvedAction, 0, len(req.Actions)),
	}
	for i, a := range req.Actions {
		if err := CheckFields(req.OrderType, i, a); err != nil {
			return nil, err
		}
		ra := ResolvedAction{Index: i, NewBucket: rule.createsBucket}

		if !rule.createsBucket && a.BucketID != nil {
			b, err := lookup.LockBucket(ctx, *a.BucketID)
			if err != nil {
				return nil, lookupError(i, "bucket_id", *a.BucketID, err)
			}
			ra.Bucket = b
		}
		if a.SourcePositionID != nil {
			p, err := lookup.LockPosition(ctx, *a.SourcePositionID)
			if err != nil {
				return nil, lookupError(i, "source_position_id", *a.SourcePositionID, err)
			}
			ra.Source = p
		}
		if a.TargetPositionID != nil {
			p, err := lookup.LockPosition(ctx, *a.TargetPositionID)
			if err != nil {
				return nil, lookupError(i, "target_position_id", *a.TargetPositionID, err)
			}
			ra.Target = p
		}
		v.Actions = append(v.Actions, ra)
	}
	return v, nil
}

func lookupError(action int, field string, id int64, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return notFound(action, field, id, err)
	}
	return persistence("resolve "+field, err)
}
