// Package store defines the contract every provider adapter implements and
// the helpers they share for scanning directories and building listings.
package store

import (
	"context"
	"fmt"

	"github.com/vanpelt/xurl/internal/models"
	"github.com/vanpelt/xurl/internal/provider"
)

// DefaultLimit is the number of discovery results when none is requested.
const DefaultLimit = 10

// ListOptions narrows a discovery listing.
type ListOptions struct {
	// Keyword filters by case-insensitive substring over message text and
	// titles; empty means no filter
	Keyword string
	Limit   int
}

// Listing is the result of Adapter.List.
type Listing struct {
	Items    []models.Summary
	Warnings []string
}

// Adapter reads one provider's on-disk format.
type Adapter interface {
	Kind() provider.Kind

	// List returns conversation summaries, most recently active first.
	List(ctx context.Context, opts ListOptions) (*Listing, error)

	// Read loads a main conversation including its child links, resolved
	// the way the provider's ChildDiscovery describes.
	Read(ctx context.Context, id string) (*models.Conversation, error)

	// ReadChild loads childID as seen from parentID: either a subagent
	// thread or, for providers with branch entries, the branch path.
	ReadChild(ctx context.Context, parentID, childID string) (*models.SubagentDetail, error)
}

// ExcerptSize is the number of trailing child messages kept in a
// subagent detail.
const ExcerptSize = 20

// Excerpt returns the last ExcerptSize messages.
func Excerpt(msgs []models.Message) []models.Message {
	if len(msgs) <= ExcerptSize {
		return append([]models.Message(nil), msgs...)
	}
	return append([]models.Message(nil), msgs[len(msgs)-ExcerptSize:]...)
}

// MissingChild is the detail reported when a child id cannot be found under
// its parent. It is a result, not an error, so the caller can still render
// the parent-side lifecycle.
func MissingChild(kind provider.Kind, parentID, childID string, lifecycle []models.LifecycleEvent) *models.SubagentDetail {
	return &models.SubagentDetail{
		Provider: string(kind),
		MainID:   parentID,
		Child: models.ChildLink{
			ID:           childID,
			Kind:         models.ChildSubagent,
			ParentID:     parentID,
			Status:       models.StatusNotFound,
			StatusSource: models.StatusSourceInferred,
		},
		Lifecycle: lifecycle,
		Warnings: []string{
			fmt.Sprintf("agent not found for main_session_id=%s agent_id=%s", parentID, childID),
		},
	}
}
