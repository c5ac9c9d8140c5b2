package guard

import (
	"strings"

	"github.com/dagbolade/agency-guard/internal/policy"
)

// keywordRules is matched in order against the lower-cased tool name; the
// first rule with a matching keyword wins.
var keywordRules = []struct {
	op       policy.Operation
	keywords []string
}{
	{policy.OpSearch, []string{"search", "google", "duckduckgo", "bing"}},
	{policy.OpDatabaseQuery, []string{"query", "database", "db", "neo4j"}},
	{policy.OpExternalAPI, []string{"wikipedia", "news", "api", "fetch"}},
	{policy.OpExecute, []string{"analysis", "analyze", "process"}},
	{policy.OpWrite, []string{"write", "create", "insert", "update"}},
	{policy.OpDelete, []string{"delete", "remove"}},
}

// InferOperation guesses the operation of a tool from its name. Names that
// match no keyword are treated as READ.
func InferOperation(toolName string) policy.Operation {
	name := strings.ToLower(toolName)
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(name, kw) {
				return rule.op
			}
		}
	}
	return policy.OpRead
}
