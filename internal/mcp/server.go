package mcp

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sanonone/kredo/pkg/engine"
)

func NewMCPServer(eng *engine.Engine) *mcp.Server {
	service := NewService(eng)

	// Create Server instance
	s := mcp.NewServer(&mcp.Implementation{
		Name:    "Kredo Cred Engine",
		Version: "0.1.0",
	}, nil) // Options can be nil for default

	// Register Tools using the Generic AddTool which inspects structs!

	mcp.AddTool(s, &mcp.Tool{
		Name:        "list_projects",
		Description: "List the scored projects registered in the engine.",
	}, service.ListProjects)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "top_cred",
		Description: "Rank the contributors of a project by total cred, optionally restricted to an address prefix (e.g. only 'user' nodes).",
	}, service.TopCred)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "node_cred",
		Description: "Show one node's cred: the lifetime totals and how its cred evolved week by week.",
	}, service.NodeCred)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "edge_flows",
		Description: "Rank the edges of a project by how much cred flows across them, to see which relationships carry the score.",
	}, service.EdgeFlows)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "run_compute",
		Description: "Run a full scoring pass for a project and persist the resulting cred artifact.",
	}, service.RunCompute)

	return s
}
