package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"marketdash/backend-go/internal/config"
	"marketdash/backend-go/internal/logging"
	"marketdash/backend-go/internal/models"
	"marketdash/backend-go/internal/services"
)

type stubVendor struct{}

func ok(body string) (models.VendorResponse, error) {
	return models.VendorResponse{Success: true, Status: 200, Body: []byte(body)}, nil
}

func (stubVendor) Headlines(_ context.Context, query string, _ int) (models.VendorResponse, error) {
	return ok(`{"data":[{"storyId":"s1","newsItem":{"itemMeta":{"title":[{"$":"` + query + `"}],"versionCreated":{"$":"2019-12-30T10:00:00Z"}}}}]}`)
}

func (stubVendor) Story(context.Context, string) (models.VendorResponse, error) {
	return ok(`{"newsItem":{"contentSet":{"inlineData":[{"$":"body"}]}}}`)
}

func (stubVendor) Fundamentals(_ context.Context, symbol string) (models.VendorResponse, error) {
	return ok(`{"headers":[{"title":"Instrument"}],"data":[["` + symbol + `"]]}`)
}

func (stubVendor) ESG(_ context.Context, symbol string) (models.VendorResponse, error) {
	return ok(`{"headers":[{"title":"Instrument"}],"data":[["` + symbol + `"]]}`)
}

func (stubVendor) History(context.Context, string, models.HistoryQuery) (models.VendorResponse, error) {
	return ok(`[{"headers":[{"name":"DATE"},{"name":"TRDPRC_1"}],"data":[["2019-12-31",3],["2019-12-30",2],["2019-12-27",1]]}]`)
}

type stubSub struct{ symbol string }

var stubDone = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

func (s stubSub) Symbol() string                    { return s.symbol }
func (s stubSub) State() services.SubscriptionState { return services.StateOpen }
func (s stubSub) Snapshot() map[string]any          { return map[string]any{"TRDPRC_1": 3.0} }
func (s stubSub) Close() error                      { return nil }
func (s stubSub) Done() <-chan struct{}             { return stubDone }

type stubStreamer struct{}

func (stubStreamer) Subscribe(symbol string, _ []string) services.Subscription {
	return stubSub{symbol: symbol}
}

type stubHealth struct{ err error }

func (s stubHealth) Health(context.Context) error { return s.err }

func newTestAPI(p config.Profile) *API {
	cfg := config.Config{RequestTimeout: 2 * time.Second, QuoteInterval: time.Second}
	dash := services.NewDispatcher(p, stubVendor{}, stubStreamer{}, logging.Discard())
	return New(cfg, dash, stubHealth{}, services.NewMemoryCache(), logging.Discard())
}

func do(h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestLayout(t *testing.T) {
	api := newTestAPI(config.SummaryProfile())
	rec := do(api.Layout, http.MethodGet, "/api/v1/layout", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got models.LayoutResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Profile != "summary" || len(got.Universe) != 30 || got.MinYear != 2010 || got.QuoteEveryMs != 1000 {
		t.Fatalf("unexpected layout %+v", got)
	}
	if rec := do(api.Layout, http.MethodPost, "/api/v1/layout", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestSelectAndView(t *testing.T) {
	api := newTestAPI(config.ContentProfile())
	rec := do(api.Select, http.MethodPost, "/api/v1/select", `{"symbol":"MSFT.OQ"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var update models.ViewUpdate
	if err := json.Unmarshal(rec.Body.Bytes(), &update); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if update.Symbol != "MSFT.OQ" || len(update.News) != 1 || update.News[0].Text != "L:EN and MSFT.OQ" {
		t.Fatalf("unexpected update %+v", update)
	}

	rec = do(api.View, http.MethodGet, "/api/v1/view", "")
	if !strings.Contains(rec.Body.String(), `"symbol":"MSFT.OQ"`) {
		t.Fatalf("view not applied: %s", rec.Body.String())
	}
}

func TestSelectQueryParams(t *testing.T) {
	api := newTestAPI(config.SummaryProfile())
	rec := do(api.Select, http.MethodPost, "/api/v1/select?symbol=IBM.N&start=2012&end=2013", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"startDate":"2012-01-01"`) {
		t.Fatalf("range not applied: %s", rec.Body.String())
	}
}

func TestSelectErrors(t *testing.T) {
	api := newTestAPI(config.SummaryProfile())
	cases := []struct {
		body string
		want int
	}{
		{`{"symbol":"TSLA.OQ"}`, http.StatusBadRequest},
		{`{"symbol":"GS.N","startYear":2019,"endYear":2011}`, http.StatusBadRequest},
		{`{}`, http.StatusBadRequest},
		{`{bad`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		if rec := do(api.Select, http.MethodPost, "/api/v1/select", tc.body); rec.Code != tc.want {
			t.Fatalf("body %s: expected %d, got %d", tc.body, tc.want, rec.Code)
		}
	}
}

func TestStoryRoutes(t *testing.T) {
	api := newTestAPI(config.ContentProfile())
	if rec := do(api.Story, http.MethodPost, "/api/v1/story", `{"row":0}`); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before selection, got %d", rec.Code)
	}
	do(api.Select, http.MethodPost, "/api/v1/select", `{"symbol":"AAPL.OQ"}`)

	rec := do(api.Story, http.MethodPost, "/api/v1/story?row=0", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var panel models.StoryPanel
	_ = json.Unmarshal(rec.Body.Bytes(), &panel)
	if !panel.Visible || panel.Text != "## L:EN and AAPL.OQ\n\nbody" {
		t.Fatalf("unexpected panel %+v", panel)
	}
	if rec := do(api.Story, http.MethodGet, "/api/v1/story", ""); !strings.Contains(rec.Body.String(), `"visible":true`) {
		t.Fatalf("story not visible: %s", rec.Body.String())
	}
	if rec := do(api.Story, http.MethodDelete, "/api/v1/story", ""); !strings.Contains(rec.Body.String(), `"visible":false`) {
		t.Fatalf("story not hidden: %s", rec.Body.String())
	}
	if rec := do(api.Story, http.MethodPost, "/api/v1/story", `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without row, got %d", rec.Code)
	}
}

func TestStoryDisabled(t *testing.T) {
	api := newTestAPI(config.SummaryProfile())
	do(api.Select, http.MethodPost, "/api/v1/select", `{"symbol":"AAPL.OQ"}`)
	if rec := do(api.Story, http.MethodPost, "/api/v1/story", `{"row":0}`); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestQuotesTick(t *testing.T) {
	api := newTestAPI(config.SummaryProfile())
	rec := do(api.Quotes, http.MethodGet, "/api/v1/quotes", "")
	if !strings.Contains(rec.Body.String(), `"rows":[]`) {
		t.Fatalf("expected empty rows without subscription: %s", rec.Body.String())
	}
	do(api.Select, http.MethodPost, "/api/v1/select", `{"symbol":"AAPL.OQ"}`)
	rec = do(api.Quotes, http.MethodGet, "/api/v1/quotes", "")
	var tick quoteTick
	if err := json.Unmarshal(rec.Body.Bytes(), &tick); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tick.Quote.Symbol != "AAPL.OQ" || len(tick.Quote.Rows) != 4 || tick.Quote.Rows[0].Value1 != 3.0 {
		t.Fatalf("unexpected tick %+v", tick)
	}
}

func TestStreamQuotesSendsTicks(t *testing.T) {
	api := newTestAPI(config.ContentProfile())
	srv := httptest.NewServer(http.HandlerFunc(api.StreamQuotes))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?intervalMs=250", nil)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer res.Body.Close()
	if ct := res.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	sc := bufio.NewScanner(res.Body)
	events := 0
	for sc.Scan() && events < 2 {
		if strings.HasPrefix(sc.Text(), "data: ") {
			events++
		}
	}
	if events < 2 {
		t.Fatalf("expected two ticks, got %d", events)
	}
}

func TestChartPNG(t *testing.T) {
	api := newTestAPI(config.ContentProfile())
	if rec := do(api.ChartPNG, http.MethodGet, "/api/v1/chart.png", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without data, got %d", rec.Code)
	}
	do(api.Select, http.MethodPost, "/api/v1/select", `{"symbol":"AAPL.OQ"}`)
	rec := do(api.ChartPNG, http.MethodGet, "/api/v1/chart.png?w=400&h=300", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("expected png, got %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
}

func TestHealthReportsRDP(t *testing.T) {
	api := newTestAPI(config.ContentProfile())
	api.rdp = stubHealth{err: errors.New("token refused")}
	rec := do(api.Health, http.MethodGet, "/api/v1/health", "")
	var got models.HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Ok || got.DepsStatus["rdp"].Error != "token refused" || got.Deps[0] != "cache:memory" {
		t.Fatalf("unexpected health %+v", got)
	}
}

type storyFailVendor struct {
	stubVendor
	resp models.VendorResponse
	err  error
}

func (v storyFailVendor) Story(context.Context, string) (models.VendorResponse, error) {
	return v.resp, v.err
}

func TestStoryVendorFailures(t *testing.T) {
	cases := []struct {
		name  string
		v     storyFailVendor
		want  int
		retry string
	}{
		{"rate limited", storyFailVendor{resp: models.VendorResponse{Status: 429}}, http.StatusTooManyRequests, "60"},
		{"gateway timeout", storyFailVendor{resp: models.VendorResponse{Status: 504}}, http.StatusGatewayTimeout, ""},
		{"server error", storyFailVendor{resp: models.VendorResponse{Status: 500}}, http.StatusBadGateway, ""},
		{"circuit open", storyFailVendor{err: services.ErrCircuitOpen}, http.StatusServiceUnavailable, ""},
		{"no credentials", storyFailVendor{err: services.ErrNoCredentials}, http.StatusServiceUnavailable, ""},
		{"deadline", storyFailVendor{err: context.DeadlineExceeded}, http.StatusGatewayTimeout, ""},
	}
	for _, tc := range cases {
		cfg := config.Config{RequestTimeout: 2 * time.Second, QuoteInterval: time.Second}
		dash := services.NewDispatcher(config.ContentProfile(), tc.v, stubStreamer{}, logging.Discard())
		api := New(cfg, dash, stubHealth{}, services.NewMemoryCache(), logging.Discard())
		if rec := do(api.Select, http.MethodPost, "/api/v1/select", `{"symbol":"AAPL.OQ"}`); rec.Code != http.StatusOK {
			t.Fatalf("%s: select got %d", tc.name, rec.Code)
		}
		rec := do(api.Story, http.MethodPost, "/api/v1/story?row=0", "")
		if rec.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d: %s", tc.name, tc.want, rec.Code, rec.Body.String())
		}
		if got := rec.Header().Get("Retry-After"); got != tc.retry {
			t.Fatalf("%s: unexpected Retry-After %q", tc.name, got)
		}
	}
}

func TestSelectCanceledByClient(t *testing.T) {
	api := newTestAPI(config.ContentProfile())
	do(api.Select, http.MethodPost, "/api/v1/select", `{"symbol":"AAPL.OQ"}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/select", strings.NewReader(`{"symbol":"MSFT.OQ"}`)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	api.Select(rec, req)
	if rec.Code != http.StatusRequestTimeout {
		t.Fatalf("expected 408, got %d", rec.Code)
	}
	if rec := do(api.View, http.MethodGet, "/api/v1/view", ""); !strings.Contains(rec.Body.String(), `"symbol":"AAPL.OQ"`) {
		t.Fatalf("canceled selection replaced the view: %s", rec.Body.String())
	}
}

func TestStreamQuotesRejectsPost(t *testing.T) {
	api := newTestAPI(config.ContentProfile())
	rec := do(api.StreamQuotes, http.MethodPost, "/api/v1/quotes/stream", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") == "text/event-stream" {
		t.Fatal("stream headers written for a rejected method")
	}
}

func TestWriteUpstreamErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&services.UpstreamError{Status: 429}, http.StatusTooManyRequests},
		{&services.UpstreamError{Status: 404}, http.StatusUnprocessableEntity},
		{&services.UpstreamError{Status: 504}, http.StatusGatewayTimeout},
		{&services.UpstreamError{Status: 500}, http.StatusBadGateway},
		{fmt.Errorf("story: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{services.ErrCircuitOpen, http.StatusServiceUnavailable},
		{fmt.Errorf("story s1: %w", services.ErrNoCredentials), http.StatusServiceUnavailable},
		{context.Canceled, http.StatusRequestTimeout},
		{errors.New("boom"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, tc.err)
		if rec.Code != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, rec.Code)
		}
	}
}
