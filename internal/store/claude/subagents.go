package claude

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vanpelt/xurl/internal/models"
	"github.com/vanpelt/xurl/internal/provider"
	"github.com/vanpelt/xurl/internal/store"
)

const agentFilePrefix = "agent-"

// subagentDir is where Claude Code writes one transcript per subagent of
// the session stored at mainPath.
func subagentDir(mainPath, sessionID string) string {
	return filepath.Join(filepath.Dir(mainPath), sessionID, "subagents")
}

func agentIDFromFile(name string) string {
	return strings.TrimSuffix(strings.TrimPrefix(name, agentFilePrefix), ".jsonl")
}

func (s *Store) agentFiles(mainPath, sessionID string) []string {
	return store.Walk(subagentDir(mainPath, sessionID), func(_ string, d fs.DirEntry) bool {
		return strings.HasPrefix(d.Name(), agentFilePrefix) && strings.HasSuffix(d.Name(), ".jsonl")
	})
}

// children lists subagents from transcript files and from sidechain
// records embedded in the main log, files first.
func (s *Store) children(main *transcript) []models.ChildLink {
	var links []models.ChildLink
	seen := make(map[string]bool)

	for _, path := range s.agentFiles(main.path, main.id) {
		agentID := agentIDFromFile(filepath.Base(path))
		link := models.ChildLink{
			ID:           agentID,
			Kind:         models.ChildSubagent,
			ParentID:     main.id,
			Path:         path,
			Status:       models.StatusUnknown,
			StatusSource: models.StatusSourceInferred,
		}
		if agent, err := parseTranscript(agentID, path, SourceFilename, allRecords); err == nil {
			link.Status = agent.status()
			link.StatusSource = models.StatusSourceChild
			link.LastUpdate = agent.builder.Build().UpdatedAt
		} else {
			main.builder.Warn("failed to read subagent transcript %s: %v", path, err)
		}
		seen[agentID] = true
		links = append(links, link)
	}

	for _, agentID := range main.inlineAgents {
		if seen[agentID] {
			continue
		}
		seen[agentID] = true
		links = append(links, models.ChildLink{
			ID:           agentID,
			Kind:         models.ChildSubagent,
			ParentID:     main.id,
			Path:         main.path,
			Status:       models.StatusUnknown,
			StatusSource: models.StatusSourceInferred,
			LastUpdate:   main.inlineSeenAt[agentID],
		})
	}

	// Agents only known from Task results in the parent.
	var reported []string
	for agentID := range main.agentStatus {
		if !seen[agentID] {
			reported = append(reported, agentID)
		}
	}
	sort.Strings(reported)
	for _, agentID := range reported {
		main.builder.Warn("subagent %s reported by the main thread has no transcript", agentID)
		links = append(links, models.ChildLink{
			ID:           agentID,
			Kind:         models.ChildSubagent,
			ParentID:     main.id,
			Status:       main.agentStatus[agentID],
			StatusSource: models.StatusSourceParent,
		})
	}

	for i := range links {
		if status, ok := main.agentStatus[links[i].ID]; ok && links[i].StatusSource != models.StatusSourceChild {
			links[i].Status = status
			links[i].StatusSource = models.StatusSourceParent
		}
	}
	return links
}

// ReadChild implements store.Adapter. Claude agent ids are only unique
// within their session, so the parent's location scopes the lookup.
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
	main, err := parseTranscript(parentID, loc.path, loc.source, mainFilter)
	if err != nil {
		return nil, err
	}
	lifecycle := main.lifecycle[childID]

	var agent *transcript
	var relation string
	for _, path := range s.agentFiles(main.path, main.id) {
		if agentIDFromFile(filepath.Base(path)) != childID {
			continue
		}
		agent, err = parseTranscript(childID, path, SourceFilename, allRecords)
		if err != nil {
			return nil, err
		}
		relation = fmt.Sprintf("transcript stored under the main session: %s", path)
		break
	}
	if agent == nil {
		if _, inline := main.inlineSeenAt[childID]; inline {
			agent, err = parseTranscript(childID, main.path, loc.source, agentFilter(childID))
			if err != nil {
				return nil, err
			}
			relation = "sidechain records with this agentId embedded in the main session log"
		}
	}
	if agent == nil {
		missing := store.MissingChild(provider.Claude, parentID, childID, lifecycle)
		if status, ok := main.agentStatus[childID]; ok {
			missing.Child.Status = status
			missing.Child.StatusSource = models.StatusSourceParent
		}
		return missing, nil
	}

	agent.builder.Parent(parentID)
	conv := agent.builder.Build()
	detail := &models.SubagentDetail{
		Provider: string(provider.Claude),
		MainID:   parentID,
		Child: models.ChildLink{
			ID:           childID,
			Kind:         models.ChildSubagent,
			ParentID:     parentID,
			Path:         agent.path,
			Status:       agent.status(),
			StatusSource: models.StatusSourceChild,
			LastUpdate:   conv.UpdatedAt,
		},
		Lifecycle:    lifecycle,
		Excerpt:      store.Excerpt(conv.Messages),
		Relation:     []string{relation},
		Validated:    true,
		Conversation: conv,
		Warnings:     append([]string(nil), conv.Warnings...),
	}
	return detail, nil
}
