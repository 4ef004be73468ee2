package codex

import (
	"context"
	"errors"
	"fmt"

	"github.com/vanpelt/xurl/internal/logger"
	"github.com/vanpelt/xurl/internal/models"
	"github.com/vanpelt/xurl/internal/provider"
	"github.com/vanpelt/xurl/internal/store"
	"github.com/vanpelt/xurl/internal/xerr"
)

// childIDs lists every agent the parent spawned or addressed, in first-seen
// order.
func (r *rollout) childIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, sp := range r.spawns {
		if !seen[sp.agentID] {
			seen[sp.agentID] = true
			ids = append(ids, sp.agentID)
		}
	}
	for _, id := range r.addressed {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// attachChildren turns the parent's spawn bookkeeping into child links,
// refining status from each child's own rollout when it can be found.
func (s *Store) attachChildren(parent *rollout) {
	for _, id := range parent.childIDs() {
		link := models.ChildLink{
			ID:           id,
			Kind:         models.ChildSubagent,
			Status:       parent.childStatus[id],
			StatusSource: models.StatusSourceParent,
			LastUpdate:   parent.childSeenAt[id],
		}
		if link.Status == "" {
			link.Status = models.StatusUnknown
		}

		child, warn := s.readChildRollout(id)
		switch {
		case child == nil:
			if link.Status == models.StatusUnknown {
				link.Status = models.StatusNotFound
				link.StatusSource = models.StatusSourceInferred
			}
			parent.builder.Warn("%s", warn)
		default:
			link.Path = child.path
			if child.status != "" {
				link.Status = child.status
				link.StatusSource = models.StatusSourceChild
			}
			if conv := child.builder.Build(); conv.UpdatedAt != nil {
				link.LastUpdate = conv.UpdatedAt
			}
			if child.parentThreadID != parent.id {
				parent.builder.Warn("child thread %s does not name %s as its parent", id, parent.id)
			}
		}
		parent.builder.Child(link)
	}
}

// readChildRollout locates and parses a child's rollout. A nil rollout
// comes with the reason as a warning.
func (s *Store) readChildRollout(id string) (*rollout, string) {
	loc, err := s.locate(id)
	if err != nil {
		return nil, fmt.Sprintf("child rollout not found for agent_id=%s", id)
	}
	child, err := parseRollout(id, loc.path, loc.source)
	if err != nil {
		logger.Debugf("codex: failed to read child %s: %v", id, err)
		return nil, fmt.Sprintf("failed to read child rollout for agent_id=%s: %v", id, err)
	}
	return child, ""
}

// ReadChild implements store.Adapter.
func (s *Store) ReadChild(ctx context.Context, parentID, childID string) (*models.SubagentDetail, error) {
	parentID, err := s.desc.ValidateSessionID(parentID)
	if err != nil {
		return nil, err
	}
	childID, err = s.desc.ValidateChildID(childID)
	if err != nil {
		return nil, err
	}

	loc, err := s.locate(parentID)
	if err != nil {
		return nil, err
	}
	parent, err := parseRollout(parentID, loc.path, loc.source)
	if err != nil {
		return nil, err
	}
	lifecycle := parent.lifecycle[childID]

	childLoc, err := s.locate(childID)
	if errors.Is(err, xerr.ErrConversationNotFound) {
		return store.MissingChild(provider.Codex, parentID, childID, lifecycle), nil
	}
	if err != nil {
		return nil, err
	}
	child, err := parseRollout(childID, childLoc.path, childLoc.source)
	if err != nil {
		return nil, err
	}
	conv := child.builder.Build()

	detail := &models.SubagentDetail{
		Provider: string(provider.Codex),
		MainID:   parentID,
		Child: models.ChildLink{
			ID:         childID,
			Kind:       models.ChildSubagent,
			ParentID:   parentID,
			Path:       child.path,
			LastUpdate: conv.UpdatedAt,
		},
		Lifecycle:    lifecycle,
		Excerpt:      store.Excerpt(conv.Messages),
		Conversation: conv,
		Warnings:     append([]string(nil), conv.Warnings...),
	}

	switch {
	case child.status != "":
		detail.Child.Status = child.status
		detail.Child.StatusSource = models.StatusSourceChild
	case parent.childStatus[childID] != "":
		detail.Child.Status = parent.childStatus[childID]
		detail.Child.StatusSource = models.StatusSourceParent
	default:
		detail.Child.Status = models.StatusUnknown
		detail.Child.StatusSource = models.StatusSourceInferred
	}

	if child.parentThreadID == parentID {
		detail.Validated = true
		detail.Relation = append(detail.Relation,
			"codex session_meta parent_thread_id matches the main thread")
	} else {
		detail.Warnings = append(detail.Warnings, fmt.Sprintf(
			"child thread %s names parent %q, not %s", childID, child.parentThreadID, parentID))
	}
	if len(lifecycle) > 0 {
		detail.Relation = append(detail.Relation,
			fmt.Sprintf("main thread records %d lifecycle event(s) for this agent", len(lifecycle)))
	}
	return detail, nil
}
