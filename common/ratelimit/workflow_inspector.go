package ratelimit

// WorkflowTier represents the rate limit tier based on workflow complexity
type WorkflowTier string

const (
	TierSimple   WorkflowTier = "simple"   // no heavy nodes
	TierStandard WorkflowTier = "standard" // 1-2 heavy nodes
	TierHeavy    WorkflowTier = "heavy"    // 3+ heavy nodes
)

// heavyNodeTypes are the node types whose execution cost (outbound calls,
// script interpretation, recursive sub-workflow runs) warrants a stricter
// rate-limit tier than a graph of plain control-flow/data nodes.
var heavyNodeTypes = map[string]bool{
	"invoke_workflow":   true,
	"python_request":    true,
	"start_python":      true,
	"paginate_request":  true,
}

// WorkflowProfile contains analysis of a workflow's complexity
type WorkflowProfile struct {
	Tier          WorkflowTier // Determined tier
	HeavyCount    int          // Number of heavy nodes (see heavyNodeTypes)
	HasHeavyNodes bool         // Whether workflow has any heavy nodes
	TotalNodes    int          // Total node count
}

// InspectWorkflow analyzes a normalized workflow graph and determines its
// complexity tier from the node-type vocabulary of spec §3: nodes is either
// the authored JSON array (graph_json "nodes") or the compiled IR's
// nodeID->Node map.
func InspectWorkflow(workflow map[string]interface{}) WorkflowProfile {
	profile := WorkflowProfile{Tier: TierSimple}

	nodes := workflow["nodes"]

	countNode := func(node map[string]interface{}) {
		profile.TotalNodes++
		nodeType, _ := node["type"].(string)
		if nodeType == "" {
			if data, ok := node["data"].(map[string]interface{}); ok {
				nodeType, _ = data["nodeType"].(string)
			}
		}
		if heavyNodeTypes[nodeType] {
			profile.HeavyCount++
			profile.HasHeavyNodes = true
		}
	}

	if nodesList, ok := nodes.([]interface{}); ok {
		for _, nodeInterface := range nodesList {
			if node, ok := nodeInterface.(map[string]interface{}); ok {
				countNode(node)
			}
		}
	} else if nodesMap, ok := nodes.(map[string]interface{}); ok {
		for _, nodeInterface := range nodesMap {
			if node, ok := nodeInterface.(map[string]interface{}); ok {
				countNode(node)
			}
		}
	}

	profile.Tier = determineTier(profile.HeavyCount)
	return profile
}

// determineTier returns the appropriate tier based on heavy-node count
func determineTier(heavyCount int) WorkflowTier {
	switch {
	case heavyCount == 0:
		return TierSimple
	case heavyCount <= 2:
		return TierStandard
	default: // 3+
		return TierHeavy
	}
}

// String returns a human-readable description of the tier
func (t WorkflowTier) String() string {
	switch t {
	case TierSimple:
		return "simple"
	case TierStandard:
		return "standard"
	case TierHeavy:
		return "heavy"
	default:
		return "unknown"
	}
}
