package models

// ListQuery is a parsed discovery request.
type ListQuery struct {
	Keyword       string   `json:"q,omitempty"`
	Limit         int      `json:"limit"`
	IgnoredParams []string `json:"ignoredParams,omitempty"`
}

// ListResult is the outcome of a discovery request.
type ListResult struct {
	Provider string    `json:"provider"`
	Query    ListQuery `json:"query"`
	Items    []Summary `json:"items"`
	Warnings []string  `json:"-"`
}

// SubagentDetail is a child thread seen through its parent.
type SubagentDetail struct {
	Provider     string           `json:"provider"`
	MainID       string           `json:"mainId"`
	Child        ChildLink        `json:"child"`
	Lifecycle    []LifecycleEvent `json:"lifecycle"`
	Excerpt      []Message        `json:"excerpt"`
	Relation     []string         `json:"relation,omitempty"`
	Validated    bool             `json:"validated"`
	Conversation *Conversation    `json:"-"`
	Warnings     []string         `json:"-"`
}
