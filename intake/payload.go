package intake

import (
	"encoding/json"

	"github.com/DaniloDobras/ois/store"
)

// OrderEvent is the message announced for every committed order. Field order
// and names are part of the consumer contract.
type OrderEvent struct {
	OrderID   int64         `json:"order_id"`
	Priority  int64         `json:"priority"`
	OrderType OrderType     `json:"order_type"`
	Actions   []ActionEvent `json:"actions"`
}

// ActionEvent describes one action. Absent positions encode as null.
type ActionEvent struct {
	BucketID       int64        `json:"bucket_id"`
	SourcePosition *PositionRef `json:"source_position"`
	TargetPosition *PositionRef `json:"target_position"`
}

type PositionRef struct {
	ID int64 `json:"id"`
	X  int64 `json:"x"`
	Y  int64 `json:"y"`
	Z  int64 `json:"z"`
}

func positionRef(p *store.Position) *PositionRef {
	if p == nil {
		return nil
	}
	return &PositionRef{ID: p.ID, X: p.X, Y: p.Y, Z: p.Z}
}

// Encode renders the event in its wire form.
func (e OrderEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}
