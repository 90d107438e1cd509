package conflict

import (
	"fmt"

	"swarmline/internal/domain"
)

// Strategy selects how flagged conflicts are resolved, per sync call.
type Strategy string

const (
	// StrategySourceWins takes the source side for every flagged field.
	StrategySourceWins Strategy = "source-wins"
	// StrategyOtherWins takes the other side for every flagged field.
	StrategyOtherWins Strategy = "other-wins"
	// StrategyMerge resolves per field: later update wins, except priority
	// always keeps the higher urgency.
	StrategyMerge Strategy = "merge"
)

// ParseStrategy validates a strategy name, defaulting empty to merge.
func ParseStrategy(name string) (Strategy, error) {
	switch Strategy(name) {
	case "":
		return StrategyMerge, nil
	case StrategySourceWins, StrategyOtherWins, StrategyMerge:
		return Strategy(name), nil
	}
	return "", fmt.Errorf("unknown conflict strategy %q", name)
}

// Resolution is the resolved value for one conflicted field, consumed
// immediately by the synchronization engine and then discarded.
type Resolution struct {
	TaskID   string   `json:"task_id"`
	Field    string   `json:"field"`
	Value    any      `json:"value"`
	Strategy Strategy `json:"strategy"`
}

// Resolve turns conflicts into resolutions under the given strategy.
func Resolve(conflicts []Conflict, strategy Strategy) []Resolution {
	out := make([]Resolution, 0, len(conflicts))
	for _, c := range conflicts {
		out = append(out, Resolution{
			TaskID:   c.TaskID,
			Field:    c.Field,
			Value:    resolveField(c, strategy),
			Strategy: strategy,
		})
	}
	return out
}

func resolveField(c Conflict, strategy Strategy) any {
	switch strategy {
	case StrategySourceWins:
		return c.SourceValue
	case StrategyOtherWins:
		return c.OtherValue
	}
	// merge
	switch c.Field {
	case FieldPriority:
		// Safety bias: never silently downgrade urgency, regardless of
		// which side is newer.
		sp, sok := c.SourceValue.(domain.Priority)
		op, ook := c.OtherValue.(domain.Priority)
		if sok && ook {
			if sp >= op {
				return sp
			}
			return op
		}
	case FieldAssignee:
		// Observed policy: prefer the non-empty assignee over timestamp
		// precedence, so a claim is not dropped by an unrelated edit.
		sv, _ := c.SourceValue.(string)
		ov, _ := c.OtherValue.(string)
		if sv == "" && ov != "" {
			return ov
		}
		if ov == "" && sv != "" {
			return sv
		}
	}
	return newerValue(c)
}

// newerValue takes the side with the later update; exact ties fall to the
// canonically greater value so that resolution is order-independent.
func newerValue(c Conflict) any {
	if c.SourceUpdatedAt.After(c.OtherUpdatedAt) {
		return c.SourceValue
	}
	if c.OtherUpdatedAt.After(c.SourceUpdatedAt) {
		return c.OtherValue
	}
	if canonical(c.SourceValue) >= canonical(c.OtherValue) {
		return c.SourceValue
	}
	return c.OtherValue
}

// Apply overlays resolved values onto a task and returns the merged copy.
func Apply(base domain.Task, resolutions []Resolution) domain.Task {
	merged := base
	for _, r := range resolutions {
		if r.TaskID != base.ID {
			continue
		}
		switch r.Field {
		case FieldStatus:
			if v, ok := r.Value.(domain.TaskStatus); ok {
				merged.Status = v
			}
		case FieldPriority:
			if v, ok := r.Value.(domain.Priority); ok {
				merged.Priority = v
			}
		case FieldTitle:
			if v, ok := r.Value.(string); ok {
				merged.Title = v
			}
		case FieldDescription:
			if v, ok := r.Value.(string); ok {
				merged.Description = v
			}
		case FieldAssignee:
			if v, ok := r.Value.(string); ok {
				merged.AssignedTo = v
			}
		case FieldProgress:
			if v, ok := r.Value.(int); ok {
				merged.Progress = v
			}
		case FieldDependencies:
			if v, ok := r.Value.([]string); ok {
				merged.Dependencies = v
			}
		}
	}
	return merged
}
