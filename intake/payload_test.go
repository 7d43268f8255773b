package intake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderEventWireFormat(t *testing.T) {
	e := OrderEvent{
		OrderID:   12,
		Priority:  1,
		OrderType: Unloading,
		Actions: []ActionEvent{
			{BucketID: 7, TargetPosition: &PositionRef{ID: 3, X: 1, Y: 2, Z: 0}},
			{BucketID: 9, SourcePosition: &PositionRef{ID: 4, X: -1, Y: 0, Z: 2}, TargetPosition: &PositionRef{ID: 5, X: 0, Y: 0, Z: 0}},
		},
	}
	got, err := e.Encode()
	require.NoError(t, err)

	want := `{"order_id":12,"priority":1,"order_type":"unloading","actions":[` +
		`{"bucket_id":7,"source_position":null,"target_position":{"id":3,"x":1,"y":2,"z":0}},` +
		`{"bucket_id":9,"source_position":{"id":4,"x":-1,"y":0,"z":2},"target_position":{"id":5,"x":0,"y":0,"z":0}}]}`
	assert.Equal(t, want, string(got))
}

func TestOrderEventNoActionsEncodesEmptyArray(t *testing.T) {
	got, err := OrderEvent{OrderID: 1, OrderType: Loading, Actions: []ActionEvent{}}.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"order_id":1,"priority":0,"order_type":"loading","actions":[]}`, string(got))
}
