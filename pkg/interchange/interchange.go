// Package interchange exports topic subtrees to portable documents and plans
// the ops needed to import them back into a graph.
package interchange

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"strings"

	"github.com/ohler55/ojg/jp"
	"gopkg.in/yaml.v3"

	"github.com/rexliu/topics/pkg/core"
)

// Format selects the document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Strategy controls how imported attributes combine with existing ones.
type Strategy string

const (
	// StrategyMerge only fills attributes the existing topic does not set.
	StrategyMerge Strategy = "merge"
	// StrategyOverwrite replaces existing attribute values.
	StrategyOverwrite Strategy = "overwrite"
)

var (
	// ErrUnknownFormat indicates an unsupported encoding.
	ErrUnknownFormat = errors.New("unknown format")
	// ErrUnknownTopic indicates the export root does not exist.
	ErrUnknownTopic = errors.New("unknown topic")
)

// Document is the portable form of a topic and its descendants.
type Document struct {
	Key         string            `json:"key" yaml:"key"`
	ContentType string            `json:"contentType" yaml:"contentType"`
	Attributes  map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	Children    []Document        `json:"children,omitempty" yaml:"children,omitempty"`
}

// ExportOptions controls the depth of an export.
type ExportOptions struct {
	Recursive bool
}

// ParseFormat maps a name such as "yml" onto a Format.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("%q: %w", name, ErrUnknownFormat)
}

// Export captures the topic with id as a document.
func Export(g *core.Graph, id int64, opts ExportOptions) (Document, error) {
	t := g.Topic(id)
	if t == nil {
		return Document{}, fmt.Errorf("topic %d: %w", id, ErrUnknownTopic)
	}
	return export(g, t, opts), nil
}

func export(g *core.Graph, t *core.Topic, opts ExportOptions) Document {
	doc := Document{
		Key:         t.Key,
		ContentType: t.ContentType,
		Attributes:  maps.Clone(t.Attributes),
	}
	if opts.Recursive {
		for _, child := range g.ChildrenOf(t.ID) {
			doc.Children = append(doc.Children, export(g, child, opts))
		}
	}
	return doc
}

// Encode writes doc in the given format.
func Encode(w io.Writer, doc Document, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	}
	return ErrUnknownFormat
}

// Decode reads a document in the given format.
func Decode(r io.Reader, format Format) (Document, error) {
	var doc Document
	switch format {
	case FormatJSON:
		if err := json.NewDecoder(r).Decode(&doc); err != nil {
			return Document{}, fmt.Errorf("decode json: %w", err)
		}
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
			return Document{}, fmt.Errorf("decode yaml: %w", err)
		}
	default:
		return Document{}, ErrUnknownFormat
	}
	return doc, nil
}

// Select evaluates a JSONPath expression against the document.
func Select(doc Document, path string) ([]any, error) {
	expr, err := jp.ParseString(path)
	if err != nil {
		return nil, fmt.Errorf("invalid jsonpath '%s': %w", path, err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return expr.Get(generic), nil
}

// PlanImport computes the ops that merge doc into the child of parentID with
// the same key, creating it when absent.
func PlanImport(g *core.Graph, parentID int64, doc Document, strategy Strategy) ([]core.Op, error) {
	if g.Topic(parentID) == nil {
		return nil, fmt.Errorf("parent %d: %w", parentID, ErrUnknownTopic)
	}
	if strategy == "" {
		strategy = StrategyMerge
	}
	var ops []core.Op
	planInto(g, parentID, doc, strategy, &ops)
	return ops, nil
}

func planInto(g *core.Graph, parentID int64, doc Document, strategy Strategy, ops *[]core.Op) {
	existing := g.ChildByKey(parentID, doc.Key)
	if existing == nil {
		*ops = append(*ops, createOp(parentID, doc))
		return
	}
	if set := attributeChanges(existing, doc.Attributes, strategy); len(set) > 0 {
		*ops = append(*ops, core.SetAttributesOp{TopicID: existing.ID, Set: set})
	}
	for _, child := range doc.Children {
		planInto(g, existing.ID, child, strategy, ops)
	}
}

func createOp(parentID int64, doc Document) core.CreateTopicOp {
	op := core.CreateTopicOp{
		ParentID:    parentID,
		Key:         doc.Key,
		ContentType: doc.ContentType,
		Attributes:  maps.Clone(doc.Attributes),
	}
	for _, child := range doc.Children {
		op.Children = append(op.Children, createOp(0, child))
	}
	return op
}

func attributeChanges(t *core.Topic, incoming map[string]string, strategy Strategy) map[string]string {
	set := map[string]string{}
	for key, value := range incoming {
		current := t.Attr(key)
		if current == value {
			continue
		}
		if strategy == StrategyMerge && current != "" {
			continue
		}
		set[key] = value
	}
	return set
}
