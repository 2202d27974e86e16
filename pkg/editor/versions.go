package editor

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/dukex/callflow/pkg/models"
	"github.com/dukex/callflow/pkg/validation"
)

// PublishOptions describes the version being minted.
type PublishOptions struct {
	Author string
	Notes  string
}

// Save clears the unsaved-changes flag. It overwrites the draft and does not
// mint a version; notes are kept for the next publish.
func (e *Editor) Save(flow *models.Flow, notes string) *models.Flow {
	next := flow.Clone()
	next.HasUnsavedChanges = false
	next.UpdatedAt = e.now()

	if notes != "" {
		next.DraftNotes = notes
	}

	return next
}

// Publish mints a new version from the working node set. It is rejected with a
// *PublishError when validation finds fatal issues.
func (e *Editor) Publish(flow *models.Flow, opts PublishOptions) (*models.Flow, error) {
	result := validation.Validate(flow)
	if !result.OK {
		return nil, &PublishError{Issues: result.Fatal()}
	}

	label := NextVersionLabel(flow.Versions)

	notes := opts.Notes
	if notes == "" {
		notes = flow.DraftNotes
	}

	now := e.now()
	version := &models.FlowVersion{
		ID:        e.newID(),
		Label:     label,
		CreatedAt: now,
		Author:    opts.Author,
		NodeCount: len(flow.Nodes),
		Notes:     notes,
		Nodes:     models.CloneNodes(flow.Nodes),
	}

	next := flow.Clone()
	next.Versions = append([]*models.FlowVersion{version}, flow.Versions...)
	next.CurrentVersion = label
	next.Status = models.FlowStatusPublished
	next.PublishedAt = &now
	next.UpdatedAt = now
	next.HasUnsavedChanges = false
	next.DraftNotes = ""

	return next, nil
}

// Rollback restores the node snapshot of a version as the working set. Later
// versions are kept; the flow returns to draft with unsaved changes.
func (e *Editor) Rollback(flow *models.Flow, versionID string) (*models.Flow, error) {
	version, ok := flow.FindVersion(versionID)
	if !ok {
		return nil, mutationErr("rollback", KindUnknownVersion, "", "version %s does not exist", versionID)
	}

	next := e.touch(flow)
	next.Nodes = models.CloneNodes(version.Nodes)
	next.CurrentVersion = version.Label
	next.Status = models.FlowStatusDraft

	return next, nil
}

// SetStatus moves the flow between draft, testing and archived. Publishing
// only happens through Publish.
func (e *Editor) SetStatus(flow *models.Flow, status models.FlowStatus) (*models.Flow, error) {
	const op = "set_status"

	if !models.IsValidStatus(status) {
		return nil, mutationErr(op, KindInvalidStatus, "", "unknown status %q", status)
	}

	if status == models.FlowStatusPublished && flow.Status != models.FlowStatusPublished {
		return nil, mutationErr(op, KindInvalidStatus, "", "flows are published through publish, not a status change")
	}

	next := flow.Clone()
	next.Status = status
	next.UpdatedAt = e.now()

	return next, nil
}

// NextVersionLabel returns the label following the highest existing one by
// incrementing its minor number: v2.3 becomes v2.4. Labels that do not parse
// as versions are ignored.
func NextVersionLabel(versions []*models.FlowVersion) string {
	var highest *semver.Version

	for _, v := range versions {
		parsed, err := semver.NewVersion(strings.TrimSpace(v.Label))
		if err != nil {
			continue
		}

		if highest == nil || parsed.GreaterThan(highest) {
			highest = parsed
		}
	}

	if highest == nil {
		return models.InitialVersionLabel
	}

	next := highest.IncMinor()

	return fmt.Sprintf("v%d.%d", next.Major(), next.Minor())
}

// CompareLabels orders two version labels; unparsable labels sort first.
func CompareLabels(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)

	switch {
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	default:
		return va.Compare(vb)
	}
}
