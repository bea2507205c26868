package core

// Op represents a mutation that can be applied to the topic graph.
type Op interface {
	isOp()
}

// CreateTopicOp creates a topic under ParentID. Children are created beneath
// the new topic in the same batch.
type CreateTopicOp struct {
	ParentID    int64             `json:"parentId"`
	Key         string            `json:"key"`
	ContentType string            `json:"contentType"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Index       *int              `json:"index,omitempty"`
	Children    []CreateTopicOp   `json:"children,omitempty"`
}

func (CreateTopicOp) isOp() {}

// RenameTopicOp changes a topic key.
type RenameTopicOp struct {
	TopicID int64
	Key     string
}

func (RenameTopicOp) isOp() {}

// MoveTopicOp moves a topic to a new parent/index.
type MoveTopicOp struct {
	TopicID     int64
	NewParentID int64
	NewIndex    *int
}

func (MoveTopicOp) isOp() {}

// DeleteTopicOp removes a topic (optionally with its descendants).
type DeleteTopicOp struct {
	TopicID   int64
	Recursive bool
}

func (DeleteTopicOp) isOp() {}

// SetAttributesOp sets and clears attribute values.
type SetAttributesOp struct {
	TopicID int64
	Set     map[string]string
	Unset   []string
}

func (SetAttributesOp) isOp() {}

// SetRelationshipOp replaces the targets of a named relationship.
type SetRelationshipOp struct {
	TopicID   int64
	Name      string
	TargetIDs []int64
}

func (SetRelationshipOp) isOp() {}

// RollbackOp restores a topic's attributes as they were at Version.
type RollbackOp struct {
	TopicID int64
	Version int64
}

func (RollbackOp) isOp() {}

// OpName returns the wire name of an op.
func OpName(op Op) string {
	switch op.(type) {
	case CreateTopicOp:
		return "create_topic"
	case RenameTopicOp:
		return "rename_topic"
	case MoveTopicOp:
		return "move_topic"
	case DeleteTopicOp:
		return "delete_topic"
	case SetAttributesOp:
		return "set_attributes"
	case SetRelationshipOp:
		return "set_relationship"
	case RollbackOp:
		return "rollback"
	default:
		return "unknown"
	}
}
