package sqlbase

import (
	"encoding/json"
	"fmt"

	"github.com/dukex/callflow/pkg/models"
)

// FlowColumns maps listing sort fields to column names. Only these may be
// interpolated into ORDER BY clauses.
var FlowColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"name":       "name",
}

// EncodedFlow holds the JSON columns of a flow row.
type EncodedFlow struct {
	Nodes []byte
	Tags  []byte
}

// EncodeFlow serialises the document parts of flow that are stored as JSON.
func EncodeFlow(flow *models.Flow) (EncodedFlow, error) {
	nodes := flow.Nodes
	if nodes == nil {
		nodes = []*models.FlowNode{}
	}

	nodesJSON, err := json.Marshal(nodes)
	if err != nil {
		return EncodedFlow{}, fmt.Errorf("failed to marshal nodes: %w", err)
	}

	tags := flow.Tags
	if tags == nil {
		tags = []string{}
	}

	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return EncodedFlow{}, fmt.Errorf("failed to marshal tags: %w", err)
	}

	return EncodedFlow{Nodes: nodesJSON, Tags: tagsJSON}, nil
}

// DecodeFlow fills the JSON-stored parts of flow.
func DecodeFlow(flow *models.Flow, enc EncodedFlow) error {
	if err := json.Unmarshal(enc.Nodes, &flow.Nodes); err != nil {
		return fmt.Errorf("failed to unmarshal nodes: %w", err)
	}

	if len(enc.Tags) > 0 {
		if err := json.Unmarshal(enc.Tags, &flow.Tags); err != nil {
			return fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}

	return nil
}

// EncodeNodes serialises a version snapshot.
func EncodeNodes(nodes []*models.FlowNode) ([]byte, error) {
	if nodes == nil {
		nodes = []*models.FlowNode{}
	}

	return json.Marshal(nodes)
}

// DecodeNodes parses a version snapshot.
func DecodeNodes(data []byte) ([]*models.FlowNode, error) {
	var nodes []*models.FlowNode
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal version nodes: %w", err)
	}

	return nodes, nil
}

// VersionOrdinals pairs each version with its position counted from the
// oldest, so storage can restore the newest-first order without relying on
// timestamps.
func VersionOrdinals(versions []*models.FlowVersion) map[string]int {
	out := make(map[string]int, len(versions))
	for i, v := range versions {
		out[v.ID] = len(versions) - 1 - i
	}

	return out
}
