package intake

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// OrderType selects which action fields are required.
type OrderType string

const (
	Loading       OrderType = "loading"
	Unloading     OrderType = "unloading"
	PlaceChanging OrderType = "place_changing"
)

// ParseOrderType rejects anything outside the three known types.
func ParseOrderType(s string) (OrderType, error) {
	t := OrderType(s)
	if _, ok := fieldRules[t]; !ok {
		return "", invalidOrder("unknown order_type %q", s)
	}
	return t, nil
}

// ActionRequest is one client-supplied bucket action. Which ids must be set
// depends on the order type.
type ActionRequest struct {
	BucketID         *int64 `json:"bucket_id,omitempty"`
	SourcePositionID *int64 `json:"source_position_id,omitempty"`
	TargetPositionID *int64 `json:"target_position_id,omitempty"`
}

// OrderRequest is a typed order submission.
type OrderRequest struct {
	Priority  int64           `json:"priority"`
	OrderType OrderType       `json:"order_type"`
	Actions   []ActionRequest `json:"actions"`
}

type rawOrderRequest struct {
	Priority  *int64           `json:"priority"`
	OrderType *string          `json:"order_type"`
	Actions   *[]ActionRequest `json:"actions"`
}

// DecodeOrderRequest parses a JSON order body. Structural problems (bad JSON,
// unknown fields, missing priority/order_type/actions, unknown order type)
// come back as InvalidOrder; type-specific field checks are left to Validate.
func DecodeOrderRequest(r io.Reader) (OrderRequest, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var raw rawOrderRequest
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return OrderRequest{}, invalidOrder("empty request body")
		}
		e := invalidOrder("malformed order: %v", err)
		e.Err = err
		return OrderRequest{}, e
	}
	if dec.More() {
		return OrderRequest{}, invalidOrder("trailing data after order")
	}

	switch {
	case raw.Priority == nil:
		return OrderRequest{}, invalidOrder("priority is required")
	case raw.OrderType == nil:
		return OrderRequest{}, invalidOrder("order_type is required")
	case raw.Actions == nil:
		return OrderRequest{}, invalidOrder("actions is required")
	}

	t, err := ParseOrderType(*raw.OrderType)
	if err != nil {
		return OrderRequest{}, err
	}
	return OrderRequest{Priority: *raw.Priority, OrderType: t, Actions: *raw.Actions}, nil
}

func (r OrderRequest) String() string {
	return fmt.Sprintf("%s order (priority %d, %d actions)", r.OrderType, r.Priority, len(r.Actions))
}
