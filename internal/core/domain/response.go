package domain

// AggregatedBy records how an aggregated answer was produced.
type AggregatedBy string

const (
	AggregatedSingle   AggregatedBy = "single_agent"
	AggregatedMultiple AggregatedBy = "multiple_agents"
	AggregatedFallback AggregatedBy = "fallback"
)

// Source identifies a retrieved document that contributed to an answer.
type Source struct {
	ID       string                 `json:"id"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// AgentResponse is the uniform result of Agent.Process. Answer is meaningful
// when Success is true, Error otherwise.
type AgentResponse struct {
	Success bool        `json:"success"`
	Answer  string      `json:"answer,omitempty"`
	Error   string      `json:"error,omitempty"`
	Agent   string      `json:"agent"`
	Plan    *PlanResult `json:"plan,omitempty"`
	Model   string      `json:"model,omitempty"`
	Sources []Source    `json:"sources,omitempty"`
	SQL     string      `json:"sql,omitempty"`
}

// AggregationResult is an AgentResponse enriched with how it was merged.
type AggregationResult struct {
	AgentResponse
	AggregatedBy   AggregatedBy             `json:"aggregated_by,omitempty"`
	SourceAgents   []string                 `json:"source_agents,omitempty"`
	AgentResponses map[string]AgentResponse `json:"agent_responses,omitempty"`
}

// QueryResponse is the stable envelope returned for every tier.
type QueryResponse struct {
	Success bool     `json:"success"`
	Answer  string   `json:"answer,omitempty"`
	Error   string   `json:"error,omitempty"`
	Tier    Tier     `json:"tier"`
	Sources []Source `json:"sources,omitempty"`
	Model   string   `json:"model,omitempty"`
	Agent   string   `json:"agent,omitempty"`
}
