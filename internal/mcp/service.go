package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sanonone/kredo/pkg/core"
	"github.com/sanonone/kredo/pkg/engine"
)

type Service struct {
	engine *engine.Engine
}

func NewService(eng *engine.Engine) *Service {
	return &Service{
		engine: eng,
	}
}

// --- Tool Handlers ---

func (s *Service) ListProjects(ctx context.Context, req *mcp.CallToolRequest, args ListProjectsArgs) (*mcp.CallToolResult, ListProjectsResult, error) {
	return nil, ListProjectsResult{Projects: s.engine.ListProjects()}, nil
}

func (s *Service) TopCred(ctx context.Context, req *mcp.CallToolRequest, args TopCredArgs) (*mcp.CallToolResult, TopCredResult, error) {
	limit := args.Limit
	if limit <= 0 {
		limit = 10
	}

	prefix, err := core.NewNodeAddress(args.Prefix...)
	if err != nil {
		return nil, TopCredResult{}, err
	}

	rows, err := s.engine.CredSummary(args.Project, limit, prefix)
	if err != nil {
		return nil, TopCredResult{}, err
	}
	if len(rows) == 0 {
		return nil, TopCredResult{Rows: []string{"No nodes carry cred under that prefix."}}, nil
	}

	out := make([]string, 0, len(rows))
	for i, row := range rows {
		out = append(out, fmt.Sprintf("%d. %s cred=%.3f seed=%.3f", i+1, nodeLabel(row.Description, row.Address), row.Cred, row.SeedFlow))
	}
	return nil, TopCredResult{Rows: out}, nil
}

func (s *Service) NodeCred(ctx context.Context, req *mcp.CallToolRequest, args NodeCredArgs) (*mcp.CallToolResult, NodeCredResult, error) {
	addr, err := core.NewNodeAddress(args.Address...)
	if err != nil {
		return nil, NodeCredResult{}, err
	}

	detail, err := s.engine.NodeCred(args.Project, addr)
	if err != nil {
		return nil, NodeCredResult{}, err
	}

	// Format as a readable description for the LLM
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Cred for %s in project '%s':\n", nodeLabel(detail.Description, detail.Address), args.Project))
	sb.WriteString(fmt.Sprintf("- lifetime cred %.3f (from seed %.3f, from self-loops %.3f)\n",
		detail.Summary.Cred, detail.Summary.SeedFlow, detail.Summary.SyntheticLoopFlow))

	if detail.OverTime == nil {
		sb.WriteString("- per-interval series compressed out of the artifact\n")
	} else {
		for i, c := range detail.OverTime.Cred {
			start := time.UnixMilli(detail.Intervals[i].StartMs).UTC()
			sb.WriteString(fmt.Sprintf("- %s: %.3f\n", start.Format("2006-01-02"), c))
		}
	}

	return nil, NodeCredResult{Description: sb.String()}, nil
}

func (s *Service) EdgeFlows(ctx context.Context, req *mcp.CallToolRequest, args EdgeFlowsArgs) (*mcp.CallToolResult, EdgeFlowsResult, error) {
	limit := args.Limit
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.engine.EdgeFlows(args.Project, limit)
	if err != nil {
		return nil, EdgeFlowsResult{}, err
	}
	if len(rows) == 0 {
		return nil, EdgeFlowsResult{Rows: []string{"No edges carry cred flow."}}, nil
	}

	out := make([]string, 0, len(rows))
	for i, row := range rows {
		out = append(out, fmt.Sprintf("%d. %s: %s --> %s forward=%.3f backward=%.3f",
			i+1, strings.Join(row.Address, "/"), strings.Join(row.Src, "/"), strings.Join(row.Dst, "/"),
			row.ForwardFlow, row.BackwardFlow))
	}
	return nil, EdgeFlowsResult{Rows: out}, nil
}

func (s *Service) RunCompute(ctx context.Context, req *mcp.CallToolRequest, args RunComputeArgs) (*mcp.CallToolResult, RunComputeResult, error) {
	data, err := s.engine.Compute(ctx, args.Project, nil)
	if err != nil {
		return nil, RunComputeResult{}, err
	}
	return nil, RunComputeResult{Status: "computed", Intervals: len(data.Intervals)}, nil
}

// nodeLabel prefers the human description, falling back to the address.
func nodeLabel(description string, address []string) string {
	joined := strings.Join(address, "/")
	if description == "" || description == joined {
		return joined
	}
	return fmt.Sprintf("%s (%s)", description, joined)
}
