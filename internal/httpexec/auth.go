package httpexec

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/lyzr/workflowengine/internal/execctx"
	"github.com/lyzr/workflowengine/internal/graph"
)

// AuthEntry is one resolved entry from an `auth` node's authList
// (spec §4.6).
type AuthEntry map[string]any

// AuthDefinitions indexes auth entries by node_id -> entry_name.
type AuthDefinitions map[string]map[string]AuthEntry

// ResolveAuthDefinitions reads every `auth` node's config.authList (or
// synthesizes a single "default" entry from top-level authType/tokenVar/
// headerName fields when authList is absent), matching the reference
// engine's _resolve_auth_definitions.
func ResolveAuthDefinitions(nodes map[string]*graph.Node) AuthDefinitions {
	defs := AuthDefinitions{}
	for id, node := range nodes {
		if node.NodeType != graph.NodeAuth {
			continue
		}
		entries := map[string]AuthEntry{}

		if list, ok := node.Config["authList"].([]any); ok {
			for _, raw := range list {
				entryMap, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				name, _ := entryMap["name"].(string)
				if name == "" {
					name = "default"
				}
				entries[name] = AuthEntry(entryMap)
			}
		} else {
			entry := AuthEntry{}
			if v, ok := node.Config["authType"]; ok {
				entry["authType"] = v
			}
			if v, ok := node.Config["tokenVar"]; ok {
				entry["tokenVar"] = v
			}
			if v, ok := node.Config["headerName"]; ok {
				entry["headerName"] = v
			}
			entries["default"] = entry
		}

		defs[id] = entries
	}
	return defs
}

// AuthHeaders resolves an `authRef` of the form "node_id::entry_name" into
// a header map (typically {"Authorization": "..."}), matching the
// reference engine's _auth_headers.
func AuthHeaders(authRef string, defs AuthDefinitions, c *execctx.Context, resolve execctx.EvalFunc) (map[string]string, error) {
	authRef = strings.TrimSpace(authRef)
	if authRef == "" {
		return nil, nil
	}

	parts := strings.SplitN(authRef, "::", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid authRef %q, expected node_id::entry_name", authRef)
	}
	nodeID, entryName := parts[0], parts[1]

	nodeDefs, ok := defs[nodeID]
	if !ok {
		return nil, fmt.Errorf("unknown auth node %q", nodeID)
	}
	entry, ok := nodeDefs[entryName]
	if !ok {
		return nil, fmt.Errorf("unknown auth entry %q on node %q", entryName, nodeID)
	}

	authType := strings.ToLower(fmt.Sprintf("%v", entry["authType"]))
	tokenVar, _ := entry["tokenVar"].(string)
	if tokenVar == "" {
		tokenVar = "vars.token"
	}
	headerName, _ := entry["headerName"].(string)
	if headerName == "" {
		headerName = "Authorization"
	}

	token, err := resolveVar(tokenVar, c, resolve)
	if err != nil {
		return nil, err
	}
	tokenStr := fmt.Sprintf("%v", token)

	switch authType {
	case "bearer":
		if strings.HasPrefix(strings.ToLower(tokenStr), "bearer ") {
			return map[string]string{headerName: tokenStr}, nil
		}
		return map[string]string{headerName: "Bearer " + tokenStr}, nil
	case "api_key", "apikey", "key":
		return map[string]string{headerName: tokenStr}, nil
	case "basic":
		usernameVar, _ := entry["usernameVar"].(string)
		if usernameVar == "" {
			usernameVar = "vars.username"
		}
		passwordVar, _ := entry["passwordVar"].(string)
		if passwordVar == "" {
			passwordVar = "vars.password"
		}
		username, err := resolveVar(usernameVar, c, resolve)
		if err != nil {
			return nil, err
		}
		password, err := resolveVar(passwordVar, c, resolve)
		if err != nil {
			return nil, err
		}
		creds := fmt.Sprintf("%v:%v", username, password)
		encoded := base64.StdEncoding.EncodeToString([]byte(creds))
		return map[string]string{headerName: "Basic " + encoded}, nil
	default:
		return map[string]string{headerName: tokenStr}, nil
	}
}

func resolveVar(path string, c *execctx.Context, resolve execctx.EvalFunc) (any, error) {
	return execctx.ResolveValue(path, c, resolve)
}
