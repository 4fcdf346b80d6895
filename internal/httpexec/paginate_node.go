package httpexec

import (
	"context"

	"github.com/lyzr/workflowengine/internal/execctx"
	"github.com/lyzr/workflowengine/internal/expr"
)

// ExecutePaginateRequest drives a paginate_request node end-to-end,
// matching the reference engine's _execute_paginate_request, including
// setting last_response to the final page (or a synthesized zero-page
// result) on completion.
func (e *Executor) ExecutePaginateRequest(ctx context.Context, nodeID string, config map[string]any, c *execctx.Context, defs AuthDefinitions, evaluator *expr.Evaluator) (*PaginateResult, error) {
	cfg := DefaultPaginateConfig()
	if v, ok := config["strategy"].(string); ok && v != "" {
		cfg.Strategy = v
	}
	if v := intConfig(config, "maxPages", cfg.MaxPages); v > 0 {
		cfg.MaxPages = v
	}
	if v := intConfig(config, "pageSize", cfg.PageSize); v > 0 {
		cfg.PageSize = v
	}
	if v, ok := config["itemsPath"].(string); ok && v != "" {
		cfg.ItemsPath = v
	}
	if v, ok := config["nextCursorPath"].(string); ok && v != "" {
		cfg.NextCursorPath = v
	}
	if v, ok := config["hasMorePath"].(string); ok && v != "" {
		cfg.HasMorePath = v
	}
	if v, ok := config["cursorParamName"].(string); ok && v != "" {
		cfg.CursorParamName = v
	}
	if v, ok := config["pageParamName"].(string); ok && v != "" {
		cfg.PageParamName = v
	}
	if v, ok := config["pageSizeParamName"].(string); ok && v != "" {
		cfg.PageSizeParamName = v
	}
	if v, ok := config["offsetParamName"].(string); ok && v != "" {
		cfg.OffsetParamName = v
	}
	if v, ok := config["limitParamName"].(string); ok && v != "" {
		cfg.LimitParamName = v
	}

	result, err := Paginate(cfg, func(extraQuery map[string]string, urlOverride string) (*Response, error) {
		return e.NodeRequest(ctx, nodeID, config, c, defs, evaluator, extraQuery, urlOverride)
	})
	if err != nil {
		return nil, err
	}

	if len(result.Pages) > 0 {
		last := result.Pages[len(result.Pages)-1]
		c.System["last_response"] = last
		c.System["last_response_node_id"] = nodeID
	} else {
		synthesized := &Response{StatusCode: result.StatusCode}
		c.System["last_response"] = synthesized
		c.System["last_response_node_id"] = nodeID
	}

	return result, nil
}
