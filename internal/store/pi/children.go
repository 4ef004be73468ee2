package pi

import (
	"context"
	"fmt"
	"strings"

	"github.com/vanpelt/xurl/internal/jsonl"
	"github.com/vanpelt/xurl/internal/models"
	"github.com/vanpelt/xurl/internal/provider"
	"github.com/vanpelt/xurl/internal/store"
	"github.com/vanpelt/xurl/internal/xerr"
)

// childSession is a session related to a parent, either listed in the
// parent's header or pointing back through parent_session_id.
type childSession struct {
	link     models.ChildLink
	tree     *tree
	listed   bool
	backlink bool
}

func missingSessionWarning(childID string) string {
	return fmt.Sprintf("relation hint references child_session_id=%s but no session file was found", childID)
}

// relatedSessions resolves every child session of parent in one pass over
// the sessions directory.
func (s *Store) relatedSessions(parentID string, parent *tree) []*childSession {
	byID := make(map[string]*childSession)
	var order []string
	add := func(id string) *childSession {
		if c, ok := byID[id]; ok {
			return c
		}
		c := &childSession{link: models.ChildLink{
			ID:           id,
			Kind:         models.ChildSubagent,
			ParentID:     parentID,
			Status:       models.StatusNotFound,
			StatusSource: models.StatusSourceInferred,
		}}
		byID[id] = c
		order = append(order, id)
		return c
	}
	for _, raw := range parent.header.ChildSessionIDs {
		if id, ok := s.desc.NormalizeSessionID(raw); ok && id != parentID {
			add(id).listed = true
		}
	}

	files := make(map[string][]string)
	for _, path := range s.sessionFiles() {
		h := peekHeader(path)
		if h == nil {
			continue
		}
		id, ok := s.desc.NormalizeSessionID(jsonl.String(h, "id"))
		if !ok || id == parentID {
			continue
		}
		files[id] = append(files[id], path)
		if strings.EqualFold(jsonl.String(h, "parent_session_id"), parentID) {
			add(id).backlink = true
		}
	}

	out := make([]*childSession, 0, len(order))
	for _, id := range order {
		c := byID[id]
		if path, _ := store.ChooseLatest(files[id]); path != "" {
			if t, err := parseTree(path); err == nil {
				c.tree = t
				c.link.Path = path
				c.link.Status = t.status()
				c.link.StatusSource = models.StatusSourceChild
				c.link.LastUpdate = t.build(id, SourceSessions, t.latestLeaf()).UpdatedAt
			}
		}
		out = append(out, c)
	}
	return out
}

func (s *Store) childSessions(parentID string, parent *tree) ([]models.ChildLink, []string) {
	var links []models.ChildLink
	var warnings []string
	for _, c := range s.relatedSessions(parentID, parent) {
		links = append(links, c.link)
		if c.tree == nil {
			warnings = append(warnings, missingSessionWarning(c.link.ID))
		}
	}
	return links, warnings
}

// ReadChild implements store.Adapter. childID is either an entry of the
// parent's tree, rendered as the branch ending at that entry, or a child
// session id.
func (s *Store) ReadChild(ctx context.Context, parentID, childID string) (*models.SubagentDetail, error) {
	parentID, err := s.desc.ValidateSessionID(parentID)
	if err != nil {
		return nil, err
	}
	childID, err = s.desc.ValidateChildID(childID)
	if err != nil {
		return nil, err
	}
	parent, loc, err := s.open(parentID)
	if err != nil {
		return nil, err
	}

	if e, ok := parent.byID[childID]; ok {
		return s.entryDetail(parentID, parent, loc, e), nil
	}
	if !provider.IsUUID(childID) {
		return nil, xerr.New(xerr.KindEntryNotFound,
			"entry not found for session_id=%s entry_id=%s", parentID, childID)
	}

	for _, c := range s.relatedSessions(parentID, parent) {
		if c.link.ID != childID {
			continue
		}
		var relation []string
		if c.listed {
			relation = append(relation, "main session header lists the child in childSessionIds")
		}
		if c.backlink {
			relation = append(relation, "child session header records parent_session_id="+parentID)
		}
		if c.tree == nil {
			missing := store.MissingChild(provider.Pi, parentID, childID, nil)
			missing.Relation = relation
			missing.Warnings = append(missing.Warnings, missingSessionWarning(childID))
			return missing, nil
		}
		conv := c.tree.build(childID, SourceSessions, c.tree.latestLeaf())
		conv.ParentID = parentID
		return &models.SubagentDetail{
			Provider:     string(provider.Pi),
			MainID:       parentID,
			Child:        c.link,
			Excerpt:      store.Excerpt(conv.Messages),
			Relation:     relation,
			Validated:    true,
			Conversation: conv,
			Warnings:     append([]string(nil), conv.Warnings...),
		}, nil
	}
	return store.MissingChild(provider.Pi, parentID, childID, nil), nil
}

// entryDetail renders the branch of parent ending at e.
func (s *Store) entryDetail(parentID string, parent *tree, loc *location, e *entry) *models.SubagentDetail {
	conv := parent.build(parentID, SourceSessions, e)
	conv.Warnings = append(append([]string(nil), loc.warnings...), conv.Warnings...)

	var link models.ChildLink
	for _, l := range parent.entryLinks() {
		if l.ID == e.ID {
			link = l
			break
		}
	}
	return &models.SubagentDetail{
		Provider: string(provider.Pi),
		MainID:   parentID,
		Child:    link,
		Excerpt:  store.Excerpt(conv.Messages),
		Relation: []string{
			fmt.Sprintf("entry is on the session tree; branch depth %d", len(parent.branch(e))),
		},
		Validated:    true,
		Conversation: conv,
		Warnings:     conv.Warnings,
	}
}
