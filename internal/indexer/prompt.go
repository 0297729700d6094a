package indexer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dshills/pycontext-mcp/internal/llm"
	"github.com/dshills/pycontext-mcp/pkg/types"
)

const (
	systemPrompt = ""

	userPromptTemplate = "Code: %s\n\nPlease generate a summary of the code."

	// SummarySchemaName names the structured output requested for summaries
	SummarySchemaName = "code_summary"
)

// summaryReply is the JSON object every summary reply must be
type summaryReply struct {
	Summary string `json:"summary" jsonschema:"description=Summary of the code"`
}

var summarySchema = llm.SchemaFor(SummarySchemaName, summaryReply{})

// BuildPrompt renders the summarization prompt for one unit of source
func BuildPrompt(content string) string {
	return fmt.Sprintf(userPromptTemplate, content)
}

// ParseSummary extracts the summary field from a JSON reply.
// A blank summary is malformed since it cannot be embedded.
func ParseSummary(reply string) (string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(reply)), &raw); err != nil {
		return "", fmt.Errorf("%w: reply is not a JSON object: %v", types.ErrMalformedResponse, err)
	}

	field, ok := raw["summary"]
	if !ok {
		return "", fmt.Errorf("%w: reply has no summary field", types.ErrMalformedResponse)
	}

	var summary string
	if err := json.Unmarshal(field, &summary); err != nil {
		return "", fmt.Errorf("%w: summary is not a string", types.ErrMalformedResponse)
	}
	if strings.TrimSpace(summary) == "" {
		return "", fmt.Errorf("%w: summary is empty", types.ErrMalformedResponse)
	}
	return summary, nil
}
