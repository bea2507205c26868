package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidParent indicates a parent that does not exist.
	ErrInvalidParent = errors.New("invalid parent")
	// ErrCycleDetected indicates a move that would introduce a cycle.
	ErrCycleDetected = errors.New("cycle detected")
	// ErrRootImmutable indicates an operation touched the root topic.
	ErrRootImmutable = errors.New("root immutable")
	// ErrInvalidTopic indicates the referenced topic does not exist.
	ErrInvalidTopic = errors.New("invalid topic")
	// ErrInvalidIndex indicates a provided index is out of range.
	ErrInvalidIndex = errors.New("invalid index")
	// ErrInvalidKey indicates an empty key or one containing path separators.
	ErrInvalidKey = errors.New("invalid key")
	// ErrDuplicateKey indicates a sibling already uses the key.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrHasChildren indicates a non-recursive delete of a topic with children.
	ErrHasChildren = errors.New("topic has children")
	// ErrInvalidContentType indicates a missing content type.
	ErrInvalidContentType = errors.New("invalid content type")
	// ErrInvalidVersion indicates a rollback target that is not positive.
	ErrInvalidVersion = errors.New("invalid version")
)

// ValidateOps checks a batch against a graph snapshot before hitting storage.
// Ops are simulated in order so later ops see the effect of earlier ones.
func ValidateOps(g *Graph, ops []Op) error {
	state := newGraphState(g)
	for i, op := range ops {
		if err := state.apply(op); err != nil {
			return fmt.Errorf("op %d (%s): %w", i, OpName(op), err)
		}
	}
	return nil
}

// ValidateKey rejects keys that would break UniqueKey or WebPath derivation.
func ValidateKey(key string) error {
	if key == "" || strings.ContainsAny(key, ":/\\ \t\r\n") {
		return ErrInvalidKey
	}
	return nil
}

func validateIndex(idx *int, length int) error {
	if idx == nil {
		return nil
	}
	if *idx < 0 || *idx > length {
		return ErrInvalidIndex
	}
	return nil
}

type stateNode struct {
	key       string
	parent    int64
	hasParent bool
}

type graphState struct {
	rootID   int64
	nodes    map[int64]*stateNode
	children map[int64][]int64
	nextTemp int64
}

func newGraphState(g *Graph) *graphState {
	s := &graphState{
		rootID:   g.RootID,
		nodes:    make(map[int64]*stateNode, len(g.Topics)),
		children: make(map[int64][]int64, len(g.Children)),
		nextTemp: -1,
	}
	for id, t := range g.Topics {
		n := &stateNode{key: t.Key}
		if t.ParentID != nil {
			n.parent, n.hasParent = *t.ParentID, true
		}
		s.nodes[id] = n
	}
	for parent, ids := range g.Children {
		s.children[parent] = append([]int64(nil), ids...)
	}
	return s
}

func (s *graphState) apply(op Op) error {
	switch v := op.(type) {
	case CreateTopicOp:
		return s.create(v.ParentID, v)
	case RenameTopicOp:
		node, err := s.requireTopic(v.TopicID)
		if err != nil {
			return err
		}
		if v.TopicID == s.rootID {
			return ErrRootImmutable
		}
		if err := ValidateKey(v.Key); err != nil {
			return err
		}
		if s.siblingHasKey(node.parent, v.Key, v.TopicID) {
			return ErrDuplicateKey
		}
		node.key = v.Key
	case MoveTopicOp:
		node, err := s.requireTopic(v.TopicID)
		if err != nil {
			return err
		}
		if v.TopicID == s.rootID {
			return ErrRootImmutable
		}
		if _, ok := s.nodes[v.NewParentID]; !ok {
			return ErrInvalidParent
		}
		if s.isDescendant(v.NewParentID, v.TopicID) {
			return ErrCycleDetected
		}
		if err := validateIndex(v.NewIndex, len(s.children[v.NewParentID])); err != nil {
			return err
		}
		if s.siblingHasKey(v.NewParentID, node.key, v.TopicID) {
			return ErrDuplicateKey
		}
		s.detach(v.TopicID)
		node.parent, node.hasParent = v.NewParentID, true
		s.children[v.NewParentID] = append(s.children[v.NewParentID], v.TopicID)
	case DeleteTopicOp:
		if _, err := s.requireTopic(v.TopicID); err != nil {
			return err
		}
		if v.TopicID == s.rootID {
			return ErrRootImmutable
		}
		if len(s.children[v.TopicID]) > 0 && !v.Recursive {
			return ErrHasChildren
		}
		s.remove(v.TopicID)
	case SetAttributesOp:
		if _, err := s.requireTopic(v.TopicID); err != nil {
			return err
		}
		for key := range v.Set {
			if key == "" {
				return fmt.Errorf("empty attribute key: %w", ErrInvalidKey)
			}
		}
	case SetRelationshipOp:
		if _, err := s.requireTopic(v.TopicID); err != nil {
			return err
		}
		if v.Name == "" {
			return fmt.Errorf("empty relationship name: %w", ErrInvalidKey)
		}
		for _, target := range v.TargetIDs {
			if _, ok := s.nodes[target]; !ok {
				return fmt.Errorf("relationship target %d: %w", target, ErrInvalidTopic)
			}
		}
	case RollbackOp:
		if _, err := s.requireTopic(v.TopicID); err != nil {
			return err
		}
		if v.Version <= 0 {
			return ErrInvalidVersion
		}
	default:
		return errors.New("unsupported op")
	}
	return nil
}

func (s *graphState) create(parentID int64, op CreateTopicOp) error {
	if _, ok := s.nodes[parentID]; !ok {
		return ErrInvalidParent
	}
	if err := ValidateKey(op.Key); err != nil {
		return err
	}
	if op.ContentType == "" {
		return ErrInvalidContentType
	}
	if err := validateIndex(op.Index, len(s.children[parentID])); err != nil {
		return err
	}
	if s.siblingHasKey(parentID, op.Key, 0) {
		return ErrDuplicateKey
	}
	id := s.nextTemp
	s.nextTemp--
	s.nodes[id] = &stateNode{key: op.Key, parent: parentID, hasParent: true}
	s.children[parentID] = append(s.children[parentID], id)
	for _, child := range op.Children {
		if err := s.create(id, child); err != nil {
			return fmt.Errorf("child %q: %w", child.Key, err)
		}
	}
	return nil
}

func (s *graphState) requireTopic(id int64) (*stateNode, error) {
	node, ok := s.nodes[id]
	if !ok {
		return nil, ErrInvalidTopic
	}
	return node, nil
}

func (s *graphState) siblingHasKey(parentID int64, key string, except int64) bool {
	for _, id := range s.children[parentID] {
		if id == except {
			continue
		}
		if n := s.nodes[id]; n != nil && strings.EqualFold(n.key, key) {
			return true
		}
	}
	return false
}

func (s *graphState) isDescendant(candidate, ancestor int64) bool {
	seen := map[int64]bool{}
	for !seen[candidate] {
		if candidate == ancestor {
			return true
		}
		seen[candidate] = true
		node, ok := s.nodes[candidate]
		if !ok || !node.hasParent {
			return false
		}
		candidate = node.parent
	}
	return false
}

func (s *graphState) detach(id int64) {
	node := s.nodes[id]
	if node == nil || !node.hasParent {
		return
	}
	children := s.children[node.parent]
	for i, child := range children {
		if child == id {
			s.children[node.parent] = append(children[:i:i], children[i+1:]...)
			break
		}
	}
}

func (s *graphState) remove(id int64) {
	for _, child := range s.children[id] {
		s.remove(child)
	}
	s.detach(id)
	delete(s.children, id)
	delete(s.nodes, id)
}
