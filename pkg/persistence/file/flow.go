package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dukex/callflow/pkg/models"
	"github.com/dukex/callflow/pkg/persistence"
)

// FlowRepository handles flow-related file operations.
type FlowRepository struct {
	root string
	mu   sync.RWMutex
}

// NewFlowRepository creates a new flow repository.
func NewFlowRepository(root string) *FlowRepository {
	return &FlowRepository{root: root}
}

func (fr *FlowRepository) dir() string {
	return filepath.Join(fr.root, "flows")
}

func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}

// ListFlows returns paginated and filtered flows with in-memory operations.
func (fr *FlowRepository) ListFlows(ctx context.Context, opts persistence.ListFlowsOptions) (*persistence.FlowListResult, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}

	jsonFiles, err := fs.Glob(os.DirFS(fr.dir()), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list flow files: %w", err)
	}

	flows := make([]*models.Flow, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		flowID := strings.TrimSuffix(file, ".json")

		flow, err := fr.GetByID(ctx, flowID)
		if err != nil {
			return nil, fmt.Errorf("failed to load flow %s: %w", flowID, err)
		}

		if flow != nil {
			flows = append(flows, flow)
		}
	}

	return persistence.ApplyListOptions(flows, opts), nil
}

// GetByID retrieves a flow by its ID from the file system.
func (fr *FlowRepository) GetByID(_ context.Context, flowID string) (*models.Flow, error) {
	if !validID(flowID) {
		return nil, nil
	}

	fr.mu.RLock()
	body, err := os.ReadFile(filepath.Join(fr.dir(), flowID+".json"))
	fr.mu.RUnlock()

	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, persistence.NewFlowError("GetByID", flowID, err)
	}

	var flow models.Flow

	err = json.Unmarshal(body, &flow)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal flow %s: %w", flowID, err)
	}

	return &flow, nil
}

// Save writes the flow document, replacing any previous one. Missing
// timestamps are filled in.
func (fr *FlowRepository) Save(_ context.Context, flow *models.Flow) error {
	if !validID(flow.ID) {
		return persistence.NewFlowError("Save", flow.ID, persistence.ErrInvalidFlowID)
	}

	err := os.MkdirAll(fr.dir(), 0750)
	if err != nil {
		return fmt.Errorf("failed to create flows directory: %w", err)
	}

	now := time.Now().UTC()
	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}

	if flow.UpdatedAt.IsZero() {
		flow.UpdatedAt = now
	}

	data, err := json.MarshalIndent(flow, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal flow %s: %w", flow.ID, err)
	}

	fr.mu.Lock()
	defer fr.mu.Unlock()

	tmp, err := os.CreateTemp(fr.dir(), flow.ID+".*.tmp")
	if err != nil {
		return persistence.NewFlowError("Save", flow.ID, err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return persistence.NewFlowError("Save", flow.ID, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return persistence.NewFlowError("Save", flow.ID, err)
	}

	return os.Rename(tmp.Name(), filepath.Join(fr.dir(), flow.ID+".json"))
}

// Delete removes a flow by its ID.
func (fr *FlowRepository) Delete(_ context.Context, id string) error {
	if !validID(id) {
		return nil
	}

	fr.mu.Lock()
	err := os.Remove(filepath.Join(fr.dir(), id+".json"))
	fr.mu.Unlock()

	if err != nil && os.IsNotExist(err) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to delete flow %s: %w", id, err)
	}

	return nil
}
