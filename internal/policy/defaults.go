package policy

import "time"

const (
	AnalysisAgent = "analysis_agent"
	QueryAgent    = "query_agent"
)

// DefaultPolicies is the seed set registered at process start: a read-only
// analysis profile and an external-access query profile.
func DefaultPolicies() []Policy {
	return []Policy{
		{
			AgentID:             AnalysisAgent,
			AllowedTools:        []string{"database_query", "graph_analysis", "data_processor"},
			AllowedOperations:   []Operation{OpRead, OpDatabaseQuery, OpExecute},
			ForbiddenOperations: []Operation{OpWrite, OpDelete, OpDatabaseWrite},
			ApprovalRequirements: map[string]ApprovalLevel{
				"graph_analysis": ApprovalLogging,
			},
			MaxToolCallsPerSession: 100,
			RateLimit:              time.Second,
		},
		{
			AgentID:             QueryAgent,
			AllowedTools:        []string{"web_search", "wikipedia", "news_fetch", "database_query"},
			AllowedOperations:   []Operation{OpRead, OpSearch, OpExternalAPI, OpDatabaseQuery},
			ForbiddenOperations: []Operation{OpWrite, OpDelete, OpDatabaseWrite, OpExecute},
			ApprovalRequirements: map[string]ApprovalLevel{
				"web_search": ApprovalLogging,
				"news_fetch": ApprovalConfirmation,
			},
			MaxToolCallsPerSession: 50,
			RateLimit:              2 * time.Second,
		},
	}
}
