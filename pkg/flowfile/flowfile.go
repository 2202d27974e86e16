// Package flowfile reads and writes flows as YAML or JSON documents.
//
// YAML documents are converted to JSON before decoding so node payloads go
// through the same typed decoding as the HTTP API.
package flowfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dukex/callflow/pkg/models"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

var (
	ErrUnknownFormat = errors.New("unknown flow file format")
	ErrEmptyDocument = errors.New("flow document is empty")
)

// FormatOf picks the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
}

// Load reads the flow stored at path.
func Load(path string) (*models.Flow, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	flow, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return flow, nil
}

// Parse decodes a flow document and fills in what a hand-written file usually
// omits: ID, status, version label and the initial version record.
func Parse(data []byte, format Format) (*models.Flow, error) {
	var body []byte

	switch format {
	case FormatJSON:
		body = data
	case FormatYAML:
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}

		if doc == nil {
			return nil, ErrEmptyDocument
		}

		converted, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to convert YAML document: %w", err)
		}

		body = converted
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}

	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, ErrEmptyDocument
	}

	var flow models.Flow
	if err := json.Unmarshal(body, &flow); err != nil {
		return nil, fmt.Errorf("failed to decode flow: %w", err)
	}

	normalize(&flow)

	return &flow, nil
}

func normalize(flow *models.Flow) {
	now := time.Now().UTC()

	if flow.ID == "" {
		flow.ID = uuid.NewString()
	}

	if flow.Status == "" {
		flow.Status = models.FlowStatusDraft
	}

	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}

	if flow.UpdatedAt.IsZero() {
		flow.UpdatedAt = flow.CreatedAt
	}

	for _, node := range flow.Nodes {
		if node.Label == "" {
			node.Label = string(node.Type)
		}

		for i, c := range node.Connections {
			if c.ID == "" {
				c.ID = fmt.Sprintf("%s-%d", node.ID, i+1)
			}
		}
	}

	if flow.CurrentVersion == "" {
		flow.CurrentVersion = models.InitialVersionLabel
	}

	if len(flow.Versions) == 0 {
		flow.Versions = []*models.FlowVersion{{
			ID:        uuid.NewString(),
			Label:     flow.CurrentVersion,
			CreatedAt: flow.CreatedAt,
			NodeCount: len(flow.Nodes),
			Nodes:     models.CloneNodes(flow.Nodes),
		}}
	}
}

// Encode renders flow in format.
func Encode(flow *models.Flow, format Format) ([]byte, error) {
	data, err := json.MarshalIndent(flow, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode flow: %w", err)
	}

	switch format {
	case FormatJSON:
		return data, nil
	case FormatYAML:
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}

		return yaml.Marshal(doc)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
}

// Write stores flow at path in the format its extension names.
func Write(path string, flow *models.Flow) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}

	data, err := Encode(flow, format)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}
