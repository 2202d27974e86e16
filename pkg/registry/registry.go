// Package registry catalogues the node types a flow can hold, with a JSON
// Schema for each payload variant.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dukex/callflow/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

var ErrNodeTypeNotRegistered = errors.New("node type not registered")

// NodeDescriptor describes one node type for editors and payload checks.
type NodeDescriptor interface {
	ID() models.NodeType
	Name() string
	Description() string
	Category() string
	// Outputs lists the conventional connection labels of the node type.
	Outputs() []string
	Schema() map[string]any
}

// NodeTypeInfo is the serialisable form of a descriptor.
type NodeTypeInfo struct {
	Type        models.NodeType `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Outputs     []string        `json:"outputs"`
	Schema      map[string]any  `json:"schema"`
}

// PayloadError lists every schema violation of a node payload.
type PayloadError struct {
	NodeType models.NodeType
	Errors   []string
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("invalid %s payload: %s", e.NodeType, strings.Join(e.Errors, "; "))
}

type entry struct {
	descriptor NodeDescriptor
	schema     *gojsonschema.Schema
}

type Registry struct {
	logger  *slog.Logger
	mu      sync.RWMutex
	order   []models.NodeType
	entries map[models.NodeType]entry
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:  log.With("module", "registry"),
		entries: make(map[models.NodeType]entry),
	}
}

// RegisterNode compiles the descriptor's schema and adds it to the catalogue,
// replacing any descriptor with the same ID.
func (r *Registry) RegisterNode(d NodeDescriptor) error {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(d.Schema()))
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", d.ID(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[d.ID()]; !exists {
		r.order = append(r.order, d.ID())
	}

	r.entries[d.ID()] = entry{descriptor: d, schema: schema}

	r.logger.Debug("registered node type", "type", d.ID())

	return nil
}

// GetAvailableNodes returns descriptors in registration order.
func (r *Registry) GetAvailableNodes() []NodeDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]NodeDescriptor, 0, len(r.order))
	for _, t := range r.order {
		out = append(out, r.entries[t].descriptor)
	}

	return out
}

// NodeTypes returns the catalogue as data.
func (r *Registry) NodeTypes() []NodeTypeInfo {
	descriptors := r.GetAvailableNodes()

	out := make([]NodeTypeInfo, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, Info(d))
	}

	return out
}

// Get returns the descriptor for t.
func (r *Registry) Get(t models.NodeType) (NodeDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[t]

	return e.descriptor, ok
}

// ValidatePayload checks data against the schema of t.
func (r *Registry) ValidatePayload(t models.NodeType, data map[string]any) error {
	r.mu.RLock()
	e, ok := r.entries[t]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeTypeNotRegistered, t)
	}

	if data == nil {
		data = map[string]any{}
	}

	result, err := e.schema.Validate(gojsonschema.NewGoLoader(data))
	if err != nil {
		return err
	}

	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}

		return &PayloadError{NodeType: t, Errors: errs}
	}

	return nil
}

// ValidateNode checks the node's payload against its type schema.
func (r *Registry) ValidateNode(node *models.FlowNode) error {
	data, err := models.PayloadToMap(node.Payload)
	if err != nil {
		return err
	}

	return r.ValidatePayload(node.Type, data)
}

func Info(d NodeDescriptor) NodeTypeInfo {
	outputs := d.Outputs()
	if outputs == nil {
		outputs = []string{}
	}

	return NodeTypeInfo{
		Type:        d.ID(),
		Name:        d.Name(),
		Description: d.Description(),
		Category:    d.Category(),
		Outputs:     outputs,
		Schema:      d.Schema(),
	}
}
