package httpexec

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// PaginateConfig is the resolved configuration of a paginate_request node
// (spec §4.5's pagination strategies).
type PaginateConfig struct {
	Strategy          string // next_url | cursor_param | offset_limit | page_number
	MaxPages          int
	PageSize          int
	ItemsPath         string
	NextCursorPath    string
	HasMorePath       string
	CursorParamName   string
	PageParamName     string
	PageSizeParamName string
	OffsetParamName   string
	LimitParamName    string
}

// DefaultPaginateConfig mirrors the reference engine's _execute_paginate_request defaults.
func DefaultPaginateConfig() PaginateConfig {
	return PaginateConfig{
		Strategy:          "next_url",
		MaxPages:          25,
		PageSize:          100,
		ItemsPath:         "body.items",
		NextCursorPath:    "body.next",
		HasMorePath:       "body.has_more",
		CursorParamName:   "cursor",
		PageParamName:     "page",
		PageSizeParamName: "page_size",
		OffsetParamName:   "offset",
		LimitParamName:    "limit",
	}
}

// PaginateResult is the node_output of a paginate_request node.
type PaginateResult struct {
	StatusCode  int   `json:"status_code"`
	PagesFetched int  `json:"pages_fetched"`
	Items       []any `json:"items"`
	Pages       []*Response `json:"pages"`
}

// RequestFunc issues one paginated request, given the extra query params
// to merge in (and, for the next_url strategy, an explicit URL override).
type RequestFunc func(extraQuery map[string]string, urlOverride string) (*Response, error)

// Paginate drives a bounded page loop against doRequest, following the
// stop conditions the reference engine's _execute_paginate_request
// enforces per strategy.
func Paginate(cfg PaginateConfig, doRequest RequestFunc) (*PaginateResult, error) {
	maxPages := cfg.MaxPages
	if maxPages < 1 {
		maxPages = 1
	}
	pageSize := cfg.PageSize
	if pageSize < 1 {
		pageSize = 1
	}

	var pages []*Response
	var allItems []any
	cursor := ""
	offset := 0
	page := 1
	nextURL := ""

	for i := 0; i < maxPages; i++ {
		var extra map[string]string
		var override string

		switch cfg.Strategy {
		case "cursor_param":
			extra = map[string]string{cfg.PageSizeParamName: fmt.Sprintf("%d", pageSize)}
			if cursor != "" {
				extra[cfg.CursorParamName] = cursor
			}
		case "offset_limit":
			extra = map[string]string{
				cfg.OffsetParamName: fmt.Sprintf("%d", offset),
				cfg.LimitParamName:  fmt.Sprintf("%d", pageSize),
			}
		case "page_number":
			extra = map[string]string{
				cfg.PageParamName:     fmt.Sprintf("%d", page),
				cfg.PageSizeParamName: fmt.Sprintf("%d", pageSize),
			}
		default: // next_url
			override = nextURL
		}

		resp, err := doRequest(extra, override)
		if err != nil {
			return nil, err
		}
		pages = append(pages, resp)

		items := extractItems(bodyGJSON(resp.RawBody, cfg.ItemsPath))
		allItems = append(allItems, items...)

		switch cfg.Strategy {
		case "next_url":
			next := bodyGJSON(resp.RawBody, cfg.NextCursorPath)
			nextStr, isStr := next.(string)
			if !isStr || nextStr == "" {
				goto done
			}
			nextURL = nextStr
		case "cursor_param":
			cursorVal := bodyGJSON(resp.RawBody, cfg.NextCursorPath)
			cursorStr, _ := cursorVal.(string)
			if cursorVal == nil || cursorVal == false || cursorStr == "" {
				goto done
			}
			cursor = cursorStr
		case "offset_limit":
			if len(items) < pageSize {
				goto done
			}
			offset += pageSize
		case "page_number":
			hasMoreVal := bodyGJSON(resp.RawBody, cfg.HasMorePath)
			if !coerceBoolLocal(hasMoreVal) {
				goto done
			}
			page++
		}
	}

done:
	status := 204
	if len(pages) > 0 {
		status = 200
	}
	return &PaginateResult{
		StatusCode:   status,
		PagesFetched: len(pages),
		Items:        allItems,
		Pages:        pages,
	}, nil
}

// bodyGJSON extracts an opaque field from a page's raw JSON body by dotted
// path (spec §11.2), tolerating the node-authoring convention of prefixing
// paths with "body." (a holdover from when extraction went through
// ExecutionContext's vars/nodes/system-rooted ResolvePath).
func bodyGJSON(rawBody []byte, path string) any {
	path = strings.TrimPrefix(path, "body.")
	if len(rawBody) == 0 || path == "" {
		return nil
	}
	result := gjson.GetBytes(rawBody, path)
	if !result.Exists() {
		return nil
	}
	return result.Value()
}

func extractItems(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case nil:
		return nil
	default:
		return []any{t}
	}
}

func coerceBoolLocal(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case nil:
		return false
	case string:
		switch t {
		case "1", "true", "yes", "y", "True", "TRUE":
			return true
		default:
			return false
		}
	default:
		return false
	}
}

// MergeQuery merges extra query parameters into rawURL, overwriting any
// existing parameter of the same name (used both by pagination and by
// invoke-time extra_query merging in the request builder).
func MergeQuery(rawURL string, extra map[string]string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	for k, v := range extra {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
