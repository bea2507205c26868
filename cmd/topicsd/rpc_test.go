package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexliu/topics/pkg/core"
)

func TestRPCOpConversion(t *testing.T) {
	idx := 1
	tests := []struct {
		name string
		in   rpcOp
		want core.Op
	}{
		{"create", rpcOp{Type: "create_topic", ParentID: 1, Key: "A", ContentType: "Page", Index: &idx},
			core.CreateTopicOp{ParentID: 1, Key: "A", ContentType: "Page", Index: &idx}},
		{"rename", rpcOp{Type: "rename_topic", TopicID: 2, Key: "B"}, core.RenameTopicOp{TopicID: 2, Key: "B"}},
		{"move", rpcOp{Type: "move_topic", TopicID: 2, NewParentID: 3, NewIndex: &idx},
			core.MoveTopicOp{TopicID: 2, NewParentID: 3, NewIndex: &idx}},
		{"delete", rpcOp{Type: "delete_topic", TopicID: 2, Recursive: true}, core.DeleteTopicOp{TopicID: 2, Recursive: true}},
		{"attributes", rpcOp{Type: "set_attributes", TopicID: 2, Attributes: map[string]string{"k": "v"}, Unset: []string{"x"}},
			core.SetAttributesOp{TopicID: 2, Set: map[string]string{"k": "v"}, Unset: []string{"x"}}},
		{"relationship", rpcOp{Type: "set_relationship", TopicID: 2, Name: "Related", TargetIDs: []int64{4}},
			core.SetRelationshipOp{TopicID: 2, Name: "Related", TargetIDs: []int64{4}}},
		{"rollback", rpcOp{Type: "rollback", TopicID: 2, Version: 10}, core.RollbackOp{TopicID: 2, Version: 10}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.in.toCoreOp()
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRPCOpConversionErrors(t *testing.T) {
	for _, op := range []rpcOp{
		{Type: "create_topic", Key: "A"},
		{Type: "rename_topic"},
		{Type: "move_topic", TopicID: 2},
		{Type: "set_relationship", TopicID: 2},
		{Type: "bogus"},
	} {
		_, err := op.toCoreOp()
		assert.Error(t, err, op.Type)
	}
}
