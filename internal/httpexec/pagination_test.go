package httpexec

import "testing"

func TestPaginate_NextURLStrategyStopsOnEmptyNext(t *testing.T) {
	cfg := DefaultPaginateConfig()
	cfg.Strategy = "next_url"

	bodies := []string{
		`{"items": [1, 2], "next": "https://api.example.com/page2"}`,
		`{"items": [3], "next": ""}`,
	}
	calls := 0
	result, err := Paginate(cfg, func(extra map[string]string, urlOverride string) (*Response, error) {
		resp := &Response{StatusCode: 200, RawBody: []byte(bodies[calls])}
		calls++
		return resp, nil
	})
	if err != nil {
		t.Fatalf("Paginate: %v", err)
	}
	if result.PagesFetched != 2 {
		t.Fatalf("expected 2 pages, got %d", result.PagesFetched)
	}
	if len(result.Items) != 3 {
		t.Fatalf("expected 3 items, got %d: %#v", len(result.Items), result.Items)
	}
}

func TestPaginate_CursorParamStopsOnFalsyCursor(t *testing.T) {
	cfg := DefaultPaginateConfig()
	cfg.Strategy = "cursor_param"

	bodies := []string{
		`{"items": [1], "next": "abc"}`,
		`{"items": [2], "next": false}`,
	}
	calls := 0
	result, err := Paginate(cfg, func(extra map[string]string, urlOverride string) (*Response, error) {
		resp := &Response{StatusCode: 200, RawBody: []byte(bodies[calls])}
		calls++
		return resp, nil
	})
	if err != nil {
		t.Fatalf("Paginate: %v", err)
	}
	if result.PagesFetched != 2 {
		t.Fatalf("expected 2 pages, got %d", result.PagesFetched)
	}
	if len(result.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(result.Items))
	}
}

func TestPaginate_OffsetLimitStopsOnShortPage(t *testing.T) {
	cfg := DefaultPaginateConfig()
	cfg.Strategy = "offset_limit"
	cfg.PageSize = 2

	bodies := []string{
		`{"items": [1, 2]}`,
		`{"items": [3]}`,
	}
	calls := 0
	result, err := Paginate(cfg, func(extra map[string]string, urlOverride string) (*Response, error) {
		resp := &Response{StatusCode: 200, RawBody: []byte(bodies[calls])}
		calls++
		return resp, nil
	})
	if err != nil {
		t.Fatalf("Paginate: %v", err)
	}
	if result.PagesFetched != 2 {
		t.Fatalf("expected 2 pages, got %d", result.PagesFetched)
	}
	if len(result.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(result.Items))
	}
}

func TestPaginate_PageNumberStopsOnFalsyHasMore(t *testing.T) {
	cfg := DefaultPaginateConfig()
	cfg.Strategy = "page_number"

	bodies := []string{
		`{"items": [1], "has_more": true}`,
		`{"items": [2], "has_more": false}`,
	}
	calls := 0
	result, err := Paginate(cfg, func(extra map[string]string, urlOverride string) (*Response, error) {
		resp := &Response{StatusCode: 200, RawBody: []byte(bodies[calls])}
		calls++
		return resp, nil
	})
	if err != nil {
		t.Fatalf("Paginate: %v", err)
	}
	if result.PagesFetched != 2 {
		t.Fatalf("expected 2 pages, got %d", result.PagesFetched)
	}
}

func TestPaginate_RespectsMaxPages(t *testing.T) {
	cfg := DefaultPaginateConfig()
	cfg.Strategy = "next_url"
	cfg.MaxPages = 2

	calls := 0
	result, err := Paginate(cfg, func(extra map[string]string, urlOverride string) (*Response, error) {
		calls++
		return &Response{StatusCode: 200, RawBody: []byte(`{"items": [1], "next": "https://api.example.com/more"}`)}, nil
	})
	if err != nil {
		t.Fatalf("Paginate: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected exactly maxPages=2 requests, got %d", calls)
	}
	if result.PagesFetched != 2 {
		t.Fatalf("expected 2 pages fetched, got %d", result.PagesFetched)
	}
}

func TestBodyGJSON_HandlesBodyPrefixAndMissingPaths(t *testing.T) {
	raw := []byte(`{"items": [1, 2], "meta": {"count": 2}}`)

	if v := bodyGJSON(raw, "body.items"); v == nil {
		t.Fatal("expected body.items to resolve via prefix-trim")
	}
	if v := bodyGJSON(raw, "meta.count"); v != float64(2) {
		t.Fatalf("meta.count = %v", v)
	}
	if v := bodyGJSON(raw, "missing.field"); v != nil {
		t.Fatalf("expected nil for missing field, got %v", v)
	}
	if v := bodyGJSON(nil, "items"); v != nil {
		t.Fatalf("expected nil for empty body, got %v", v)
	}
}

func TestMergeQuery_OverwritesExistingParam(t *testing.T) {
	merged, err := MergeQuery("https://api.example.com/x?page=1&other=keep", map[string]string{"page": "2"})
	if err != nil {
		t.Fatalf("MergeQuery: %v", err)
	}
	if merged != "https://api.example.com/x?other=keep&page=2" {
		t.Fatalf("merged = %q", merged)
	}
}
