package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateOps(t *testing.T) {
	g := newTestGraph()

	tests := []struct {
		name string
		ops  []Op
		want error
	}{
		{"invalid parent on create", []Op{CreateTopicOp{ParentID: 99, Key: "X", ContentType: "Page"}}, ErrInvalidParent},
		{"key with separator", []Op{CreateTopicOp{ParentID: 2, Key: "a:b", ContentType: "Page"}}, ErrInvalidKey},
		{"missing content type", []Op{CreateTopicOp{ParentID: 2, Key: "New"}}, ErrInvalidContentType},
		{"duplicate sibling key", []Op{CreateTopicOp{ParentID: 2, Key: "section", ContentType: "Page"}}, ErrDuplicateKey},
		{"index out of range", []Op{CreateTopicOp{ParentID: 2, Key: "New", ContentType: "Page", Index: intPtr(5)}}, ErrInvalidIndex},
		{"duplicate nested child", []Op{CreateTopicOp{ParentID: 2, Key: "New", ContentType: "Page", Children: []CreateTopicOp{
			{Key: "A", ContentType: "Page"},
			{Key: "A", ContentType: "Page"},
		}}}, ErrDuplicateKey},
		{"rename root", []Op{RenameTopicOp{TopicID: 1, Key: "Top"}}, ErrRootImmutable},
		{"rename onto sibling", []Op{RenameTopicOp{TopicID: 5, Key: "Section"}}, ErrDuplicateKey},
		{"move creates cycle", []Op{MoveTopicOp{TopicID: 2, NewParentID: 4}}, ErrCycleDetected},
		{"move into self", []Op{MoveTopicOp{TopicID: 3, NewParentID: 3}}, ErrCycleDetected},
		{"move root", []Op{MoveTopicOp{TopicID: 1, NewParentID: 6}}, ErrRootImmutable},
		{"delete root forbidden", []Op{DeleteTopicOp{TopicID: 1, Recursive: true}}, ErrRootImmutable},
		{"delete with children", []Op{DeleteTopicOp{TopicID: 3}}, ErrHasChildren},
		{"missing topic", []Op{SetAttributesOp{TopicID: 42, Set: map[string]string{"a": "b"}}}, ErrInvalidTopic},
		{"relationship to missing target", []Op{SetRelationshipOp{TopicID: 3, Name: "Related", TargetIDs: []int64{42}}}, ErrInvalidTopic},
		{"rollback zero version", []Op{RollbackOp{TopicID: 3}}, ErrInvalidVersion},
		{"op after delete sees removal", []Op{DeleteTopicOp{TopicID: 3, Recursive: true}, RenameTopicOp{TopicID: 4, Key: "Gone"}}, ErrInvalidTopic},
		{"valid batch", []Op{
			CreateTopicOp{ParentID: 2, Key: "New", ContentType: "Page", Index: intPtr(0)},
			MoveTopicOp{TopicID: 4, NewParentID: 6},
			DeleteTopicOp{TopicID: 3},
			SetAttributesOp{TopicID: 6, Set: map[string]string{"Title": "Configuration"}, Unset: []string{"Old"}},
			SetRelationshipOp{TopicID: 6, Name: "Related", TargetIDs: []int64{2, 4}},
			RollbackOp{TopicID: 6, Version: 3},
		}, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateOps(g, tc.ops)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestValidateOpsDoesNotMutateGraph(t *testing.T) {
	g := newTestGraph()
	err := ValidateOps(g, []Op{MoveTopicOp{TopicID: 4, NewParentID: 6}, DeleteTopicOp{TopicID: 5}})
	assert.NoError(t, err)
	assert.Equal(t, []int64{4}, g.Children[3])
	assert.NotNil(t, g.Topic(5))
}
