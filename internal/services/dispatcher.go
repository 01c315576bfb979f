package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"marketdash/backend-go/internal/config"
	"marketdash/backend-go/internal/models"
	"marketdash/backend-go/internal/transform"
)

var (
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrNoSuchRow         = errors.New("no such news row")
	ErrFeatureDisabled   = errors.New("feature disabled for this dashboard")
)

type quoteCell struct {
	label string
	field string
}

var quoteGrid = [][2]quoteCell{
	{{"Last", "TRDPRC_1"}, {"Volume", "ACVOL_1"}},
	{{"Bid", "BID"}, {"Ask", "ASK"}},
	{{"High", "HIGH_1"}, {"Low", "LOW_1"}},
	{{"Open", "OPEN_PRC"}, {"Close", "HST_CLOSE"}},
}

// Dispatcher turns selection events into one combined view update and owns
// the single streaming subscription.
type Dispatcher struct {
	profile  config.Profile
	vendor   Vendor
	streamer Streamer
	log      *slog.Logger
	now      func() time.Time

	gen atomic.Uint64

	// closeWait bounds how long a swap waits for the previous stream to
	// disconnect before the next one dials.
	closeWait time.Duration

	mu    sync.Mutex
	sub   Subscription
	view  models.ViewUpdate
	story models.StoryPanel
}

func NewDispatcher(profile config.Profile, vendor Vendor, streamer Streamer, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		profile:   profile,
		vendor:    vendor,
		streamer:  streamer,
		log:       log,
		now:       time.Now,
		closeWait: 2 * time.Second,
		view:      emptyView(0, ""),
	}
}

func (d *Dispatcher) Profile() config.Profile { return d.profile }

func (d *Dispatcher) Generation() uint64 { return d.gen.Load() }

// Select handles a selection change. The returned update has Stale set when a
// newer selection started before this one finished; stale updates are not
// applied. When ctx ends before the reads finish, the previous view and its
// subscription are restored and ctx.Err() is returned.
func (d *Dispatcher) Select(ctx context.Context, sel models.Selection) (models.ViewUpdate, error) {
	symbol := strings.TrimSpace(sel.Symbol)
	if !d.profile.Contains(symbol) {
		return models.ViewUpdate{}, fmt.Errorf("%w: %q", ErrUnknownInstrument, symbol)
	}
	start, end, err := d.dateRange(sel)
	if err != nil {
		return models.ViewUpdate{}, err
	}

	d.mu.Lock()
	gen := d.gen.Add(1)
	prevView, prevStory := d.view, d.story
	d.swapSubscription(symbol)
	d.story = models.StoryPanel{}
	d.view = emptyView(gen, symbol)
	d.view.Loading = true
	d.mu.Unlock()

	update := d.fetch(ctx, gen, symbol, start, end)

	d.mu.Lock()
	defer d.mu.Unlock()
	if gen != d.gen.Load() {
		update.Stale = true
		d.log.Debug("discarding stale view", "symbol", symbol, "generation", gen, "latest", d.gen.Load())
		return update, nil
	}
	if err := ctx.Err(); err != nil {
		d.log.Info("selection abandoned", "symbol", symbol, "generation", gen, "error", err)
		d.view, d.story = prevView, prevStory
		if prevView.Symbol == "" {
			d.closeSubscription()
		} else {
			d.swapSubscription(prevView.Symbol)
		}
		return models.ViewUpdate{}, err
	}
	d.view = update
	return update, nil
}

func (d *Dispatcher) dateRange(sel models.Selection) (string, string, error) {
	if !d.profile.Features.YearRange {
		return "", "", nil
	}
	sy, ey := sel.StartYear, sel.EndYear
	switch {
	case sy == 0 && ey == 0:
		sy, ey = d.profile.MaxYear, d.profile.MaxYear
	case sy == 0:
		sy = ey
	case ey == 0:
		ey = sy
	}
	if sy < d.profile.MinYear || ey > d.profile.MaxYear {
		return "", "", fmt.Errorf("%w: %d..%d outside %d..%d", transform.ErrInvalidRange, sy, ey, d.profile.MinYear, d.profile.MaxYear)
	}
	return transform.DateRange(sy, ey)
}

// swapSubscription closes the open subscription and opens one for symbol.
// Callers hold d.mu.
func (d *Dispatcher) swapSubscription(symbol string) {
	d.closeSubscription()
	if d.streamer == nil {
		return
	}
	d.sub = d.streamer.Subscribe(symbol, d.profile.StreamFields)
}

// closeSubscription closes the open subscription and waits up to closeWait
// for its connection to end. Callers hold d.mu.
func (d *Dispatcher) closeSubscription() {
	if d.sub == nil {
		return
	}
	old := d.sub
	d.sub = nil
	if err := old.Close(); err != nil {
		d.log.Warn("closing subscription failed", "symbol", old.Symbol(), "error", err)
	}
	timer := time.NewTimer(d.closeWait)
	defer timer.Stop()
	select {
	case <-old.Done():
	case <-timer.C:
		d.log.Warn("previous stream still disconnecting", "symbol", old.Symbol(), "waited", d.closeWait)
	}
}

func (d *Dispatcher) fetch(ctx context.Context, gen uint64, symbol, start, end string) models.ViewUpdate {
	update := emptyView(gen, symbol)
	update.StartDate = start
	update.EndDate = end

	features := d.profile.Features
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		resp := d.read(symbol, "headlines", func() (models.VendorResponse, error) {
			return d.vendor.Headlines(gctx, "L:EN and "+symbol, d.profile.NewsLimit)
		})
		update.News = transform.NewsFromHeadlines(resp)
		return nil
	})
	if features.Ratios {
		g.Go(func() error {
			resp := d.read(symbol, "fundamentals", func() (models.VendorResponse, error) {
				return d.vendor.Fundamentals(gctx, symbol)
			})
			update.Ratios = transform.RowsFromSummary(resp, d.profile.RatioLabels)
			return nil
		})
	}
	if features.ESG {
		g.Go(func() error {
			resp := d.read(symbol, "esg", func() (models.VendorResponse, error) {
				return d.vendor.ESG(gctx, symbol)
			})
			update.ESG = transform.RowsFromSummary(resp, d.profile.ESGLabels)
			return nil
		})
	}
	g.Go(func() error {
		q := models.HistoryQuery{
			Interval: "P1D",
			Fields:   []string{d.profile.PriceField},
			Start:    start,
			End:      end,
		}
		if start == "" {
			q.Count = d.profile.HistoryCount
		}
		resp := d.read(symbol, "history", func() (models.VendorResponse, error) {
			return d.vendor.History(gctx, symbol, q)
		})
		points := transform.PricePoints(resp, d.profile.PriceField)
		update.Chart = transform.BuildChart(points, features.SMAWindows)
		return nil
	})
	_ = g.Wait()

	update.TsISO = d.now().UTC().Format(time.RFC3339)
	return update
}

// read runs one vendor call. Failures are logged and come back as an
// unsuccessful response so the section renders empty.
func (d *Dispatcher) read(symbol, section string, call func() (models.VendorResponse, error)) models.VendorResponse {
	resp, err := call()
	if err != nil {
		d.log.Warn("vendor read failed", "section", section, "symbol", symbol, "error", err)
		return models.VendorResponse{}
	}
	if !resp.Success {
		d.log.Warn("vendor read unsuccessful", "section", section, "symbol", symbol, "status", resp.Status)
	}
	return resp
}

// Quotes renders the current subscription snapshot. Without an open
// subscription the table is empty.
func (d *Dispatcher) Quotes() models.QuoteTable {
	d.mu.Lock()
	sub := d.sub
	d.mu.Unlock()

	table := models.QuoteTable{State: StateClosed.String(), Rows: []models.QuoteRow{}}
	if sub == nil {
		return table
	}
	table.Symbol = sub.Symbol()
	state := sub.State()
	table.State = state.String()
	if state != StateOpen {
		return table
	}

	snap := sub.Snapshot()
	if d.profile.Features.QuoteLayout == config.QuoteLayoutSnapshot {
		table.Fields = snap
		return table
	}
	for _, pair := range quoteGrid {
		table.Rows = append(table.Rows, models.QuoteRow{
			Label1: pair[0].label,
			Value1: snap[pair[0].field],
			Label2: pair[1].label,
			Value2: snap[pair[1].field],
		})
	}
	return table
}

// OpenStory shows the story behind a row of the applied news table. A vendor
// failure is returned as is, and an unsuccessful story response comes back as
// an *UpstreamError carrying the vendor status. The panel is left unchanged
// on error.
func (d *Dispatcher) OpenStory(ctx context.Context, row int) (models.StoryPanel, error) {
	if !d.profile.Features.StoryPanel {
		return models.StoryPanel{}, ErrFeatureDisabled
	}
	d.mu.Lock()
	gen := d.view.Generation
	news := d.view.News
	d.mu.Unlock()
	if row < 0 || row >= len(news) {
		return models.StoryPanel{}, fmt.Errorf("%w: %d", ErrNoSuchRow, row)
	}
	item := news[row]

	body := ""
	if item.StoryID != "" {
		resp, err := d.vendor.Story(ctx, item.StoryID)
		if err != nil {
			d.log.Warn("story fetch failed", "storyId", item.StoryID, "error", err)
			return models.StoryPanel{}, fmt.Errorf("story %s: %w", item.StoryID, err)
		}
		if !resp.Success {
			d.log.Warn("story fetch unsuccessful", "storyId", item.StoryID, "status", resp.Status)
			return models.StoryPanel{}, &UpstreamError{Status: resp.Status, Body: truncate(resp.Body, 200)}
		}
		body = transform.StoryText(resp)
	}
	panel := models.StoryPanel{
		Visible: true,
		Row:     row,
		StoryID: item.StoryID,
		Text:    "## " + item.Text + "\n\n" + body,
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.view.Generation != gen || d.view.Loading {
		return models.StoryPanel{}, fmt.Errorf("%w: selection changed", ErrNoSuchRow)
	}
	d.story = panel
	return panel, nil
}

func (d *Dispatcher) CloseStory() models.StoryPanel {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.story = models.StoryPanel{}
	return d.story
}

func (d *Dispatcher) Story() models.StoryPanel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.story
}

// View returns the most recently applied update, or a loading placeholder
// while a selection is in flight.
func (d *Dispatcher) View() models.ViewUpdate {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.view
}

// Close releases the subscription.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeSubscription()
}

func emptyView(gen uint64, symbol string) models.ViewUpdate {
	return models.ViewUpdate{
		Generation: gen,
		Symbol:     symbol,
		News:       []models.NewsItem{},
		Ratios:     []models.RatioRow{},
		ESG:        []models.RatioRow{},
		Chart:      transform.BuildChart(nil, nil),
	}
}
