// Package conflict detects and resolves field-level divergence between two
// independently updated versions of the same task. Everything here is pure:
// identical inputs always produce identical outputs, and resolving (A,B)
// equals resolving (B,A) with the sides swapped.
package conflict

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"swarmline/internal/domain"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Field names used in conflicts and resolutions.
const (
	FieldStatus       = "status"
	FieldPriority     = "priority"
	FieldTitle        = "title"
	FieldDescription  = "description"
	FieldAssignee     = "assignee"
	FieldProgress     = "progress"
	FieldDependencies = "dependencies"
)

// Conflict is one field both sides changed since the last synchronized
// checkpoint. It is derived per sync round and never stored.
type Conflict struct {
	TaskID          string    `json:"task_id"`
	Field           string    `json:"field"`
	SourceValue     any       `json:"source_value"`
	OtherValue      any       `json:"other_value"`
	SourceUpdatedAt time.Time `json:"source_updated_at"`
	OtherUpdatedAt  time.Time `json:"other_updated_at"`
	Severity        Severity  `json:"severity"`
}

// Detect compares two versions of one task against the last synchronized
// checkpoint. A field conflicts only when both sides changed after the
// checkpoint; when only one side moved, that side wins without a conflict.
func Detect(source, other domain.Task, checkpoint time.Time) []Conflict {
	if source.ID != other.ID {
		return nil
	}
	if !source.UpdatedAt.After(checkpoint) || !other.UpdatedAt.After(checkpoint) {
		return nil
	}
	var out []Conflict
	add := func(field string, sv, ov any, severity Severity) {
		out = append(out, Conflict{
			TaskID:          source.ID,
			Field:           field,
			SourceValue:     sv,
			OtherValue:      ov,
			SourceUpdatedAt: source.UpdatedAt,
			OtherUpdatedAt:  other.UpdatedAt,
			Severity:        severity,
		})
	}
	if source.Status != other.Status {
		add(FieldStatus, source.Status, other.Status, SeverityHigh)
	}
	if source.Priority != other.Priority {
		add(FieldPriority, source.Priority, other.Priority, SeverityHigh)
	}
	if source.Title != other.Title {
		add(FieldTitle, source.Title, other.Title, SeverityLow)
	}
	if source.Description != other.Description {
		add(FieldDescription, source.Description, other.Description, SeverityLow)
	}
	if source.AssignedTo != other.AssignedTo {
		add(FieldAssignee, source.AssignedTo, other.AssignedTo, SeverityMedium)
	}
	if source.Progress != other.Progress {
		add(FieldProgress, source.Progress, other.Progress, SeverityLow)
	}
	if !sameIDSet(source.Dependencies, other.Dependencies) {
		add(FieldDependencies, source.Dependencies, other.Dependencies, SeverityMedium)
	}
	return out
}

// sameIDSet compares dependency lists as sets; ordering differences are not
// a divergence.
func sameIDSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// canonical renders a field value into a stable comparable form, used only
// to break exact timestamp ties deterministically.
func canonical(v any) string {
	switch x := v.(type) {
	case []string:
		s := append([]string(nil), x...)
		sort.Strings(s)
		return strings.Join(s, ",")
	default:
		return fmt.Sprint(v)
	}
}
