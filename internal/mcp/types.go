package mcp

// --- Tool Arguments ---

type ListProjectsArgs struct{}

type ListProjectsResult struct {
	Projects []string `json:"projects"`
}

type TopCredArgs struct {
	Project string   `json:"project" jsonschema:"The project whose cred ranking to return,required"`
	Limit   int      `json:"limit,omitempty" jsonschema:"Max number of rows (default 10)"`
	Prefix  []string `json:"prefix,omitempty" jsonschema:"Restrict to nodes under this address prefix, given as a part list (e.g. ['user'])"`
}

type TopCredResult struct {
	Rows []string `json:"rows"` // Formatted strings for the LLM
}

type NodeCredArgs struct {
	Project string   `json:"project" jsonschema:"required"`
	Address []string `json:"address" jsonschema:"The node address as a part list (e.g. ['user', 'alice']),required"`
}

type NodeCredResult struct {
	Description string `json:"description"` // Textual cred history
}

type EdgeFlowsArgs struct {
	Project string `json:"project" jsonschema:"required"`
	Limit   int    `json:"limit,omitempty" jsonschema:"Max number of rows (default 10)"`
}

type EdgeFlowsResult struct {
	Rows []string `json:"rows"`
}

type RunComputeArgs struct {
	Project string `json:"project" jsonschema:"The project to score,required"`
}

type RunComputeResult struct {
	Status    string `json:"status"`
	Intervals int    `json:"intervals"`
}
