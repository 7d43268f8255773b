package intake

// fieldRule lists the ids an action must carry for one order type.
// Optional ids that are present must still resolve.
type fieldRule struct {
	bucket bool
	source bool
	target bool
	// createsBucket allocates a fresh bucket per action; any client
	// bucket_id is ignored.
	createsBucket bool
}

var fieldRules = map[OrderType]fieldRule{
	Loading:       {source: true, createsBucket: true},
	Unloading:     {bucket: true, target: true},
	PlaceChanging: {bucket: true, source: true, target: true},
}

// CheckFields verifies that action index of an order of type t carries every
// id its type requires. It does not touch storage.
func CheckFields(t OrderType, index int, a ActionRequest) error {
	rule, ok := fieldRules[t]
	if !ok {
		return invalidOrder("unknown order_type %q", t)
	}
	if rule.bucket && a.BucketID == nil {
		return missingField(index, "bucket_id")
	}
	if rule.source && a.SourcePositionID == nil {
		return missingField(index, "source_position_id")
	}
	if rule.target && a.TargetPositionID == nil {
		return missingField(index, "target_position_id")
	}
	return nil
}
