// Package models defines the flow graph model: flows, versions, nodes and connections.
package models

import (
	"slices"
	"time"
)

// FlowStatus represents the lifecycle state of a flow.
type FlowStatus string

const (
	FlowStatusDraft     FlowStatus = "draft"     // Editable working copy
	FlowStatusPublished FlowStatus = "published" // Current version minted and live
	FlowStatusTesting   FlowStatus = "testing"   // Being exercised in the preview panel
	FlowStatusArchived  FlowStatus = "archived"  // Retired, kept for history
)

// FlowStatuses lists every valid status.
var FlowStatuses = []FlowStatus{
	FlowStatusDraft,
	FlowStatusPublished,
	FlowStatusTesting,
	FlowStatusArchived,
}

// InitialVersionLabel is the label minted for the node set a flow is created with.
const InitialVersionLabel = "v1.0"

// Flow is a named, versioned conversation script.
type Flow struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"                validate:"required,min=3"`
	Description       string         `json:"description"`
	Status            FlowStatus     `json:"status"              validate:"required"`
	CurrentVersion    string         `json:"current_version"`
	Versions          []*FlowVersion `json:"versions"` // Newest first
	Nodes             []*FlowNode    `json:"nodes"`
	Owner             string         `json:"owner,omitempty"`
	Tags              []string       `json:"tags,omitempty"`
	HasUnsavedChanges bool           `json:"has_unsaved_changes"`
	DraftNotes        string         `json:"draft_notes,omitempty"` // Carried into the next published version
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	PublishedAt       *time.Time     `json:"published_at,omitempty"`
}

// FlowVersion is an immutable snapshot of a flow's node set.
type FlowVersion struct {
	ID        string      `json:"id"`
	Label     string      `json:"label"`
	CreatedAt time.Time   `json:"created_at"`
	Author    string      `json:"author,omitempty"`
	NodeCount int         `json:"node_count"`
	Notes     string      `json:"notes,omitempty"`
	Nodes     []*FlowNode `json:"nodes"`
}

// Clone returns a copy of the flow that shares node and version values with
// the receiver. Nodes and versions are never mutated in place, so sharing is
// safe; callers replace elements instead of editing them.
func (f *Flow) Clone() *Flow {
	if f == nil {
		return nil
	}

	c := *f
	c.Nodes = append([]*FlowNode(nil), f.Nodes...)
	c.Versions = append([]*FlowVersion(nil), f.Versions...)
	c.Tags = append([]string(nil), f.Tags...)

	if f.PublishedAt != nil {
		t := *f.PublishedAt
		c.PublishedAt = &t
	}

	return &c
}

// FindVersion returns the version record with the given ID.
func (f *Flow) FindVersion(versionID string) (*FlowVersion, bool) {
	for _, v := range f.Versions {
		if v.ID == versionID {
			return v, true
		}
	}

	return nil, false
}

// VersionByLabel returns the version record with the given label.
func (f *Flow) VersionByLabel(label string) (*FlowVersion, bool) {
	for _, v := range f.Versions {
		if v.Label == label {
			return v, true
		}
	}

	return nil, false
}

// IsValidStatus reports whether s is one of the known flow statuses.
func IsValidStatus(s FlowStatus) bool {
	return slices.Contains(FlowStatuses, s)
}
