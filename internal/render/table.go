package render

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"marketdash/backend-go/internal/models"
)

type TableRenderer struct{}

func NewTableRenderer() *TableRenderer { return &TableRenderer{} }

func (r *TableRenderer) Render(w io.Writer, s Snapshot, opts RenderOptions) error {
	maxWidth := opts.MaxColWidth
	if maxWidth <= 0 {
		maxWidth = 60
	}
	title := s.View.Symbol
	if s.Title != "" {
		title = s.Title + " | " + title
	}
	if s.View.StartDate != "" {
		title += fmt.Sprintf(" (%s to %s)", s.View.StartDate, s.View.EndDate)
	}
	fmt.Fprintln(w, heading(title, opts.Color))

	news := make([]table.Row, 0, len(s.View.News))
	for i, n := range s.View.News {
		news = append(news, table.Row{i, n.Date, n.Text})
	}
	writeSection(w, "News", table.Row{"#", "Date", "Headline"}, news, maxWidth, opts.Color)

	if len(s.View.Ratios) > 0 {
		writeSection(w, "Ratios", table.Row{"Label", "Value"}, ratioRows(s.View.Ratios), maxWidth, opts.Color)
	}
	if len(s.View.ESG) > 0 {
		writeSection(w, "ESG", table.Row{"Label", "Value"}, ratioRows(s.View.ESG), maxWidth, opts.Color)
	}

	series := make([]table.Row, 0, len(s.View.Chart.Data))
	for _, sr := range s.View.Chart.Data {
		first, last := "", ""
		if len(sr.X) > 0 {
			first, last = sr.X[0], sr.X[len(sr.X)-1]
		}
		lastVal := any("")
		if n := len(sr.Y); n > 0 && sr.Y[n-1].Valid {
			lastVal = fmt.Sprintf("%.2f", sr.Y[n-1].Float64)
		}
		series = append(series, table.Row{sr.Name, len(sr.X), first, last, lastVal})
	}
	writeSection(w, "Chart", table.Row{"Series", "Points", "From", "To", "Last"}, series, maxWidth, opts.Color)

	writeSection(w, "Quote ("+s.Quotes.State+")", table.Row{"Field", "Value", "Field", "Value"}, quoteRows(s.Quotes), maxWidth, opts.Color)
	return nil
}

func heading(s string, color bool) string {
	if color {
		return text.Bold.Sprint(strings.ToUpper(s))
	}
	return strings.ToUpper(s)
}

func writeSection(w io.Writer, name string, hdr table.Row, rows []table.Row, maxWidth int, color bool) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, heading(name, color))
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	if color {
		tw.SetStyle(table.StyleColoredDark)
	} else {
		tw.SetStyle(table.StyleLight)
	}
	tw.Style().Options.DrawBorder = false
	tw.Style().Options.SeparateRows = false
	tw.AppendHeader(hdr)
	cfgs := make([]table.ColumnConfig, len(hdr))
	for i := range hdr {
		cfgs[i] = table.ColumnConfig{Number: i + 1, WidthMax: maxWidth}
	}
	tw.SetColumnConfigs(cfgs)
	if len(rows) == 0 {
		empty := make(table.Row, len(hdr))
		empty[0] = "(none)"
		rows = []table.Row{empty}
	}
	tw.AppendRows(rows)
	tw.Render()
}

func ratioRows(rows []models.RatioRow) []table.Row {
	out := make([]table.Row, 0, len(rows))
	for _, r := range rows {
		out = append(out, table.Row{r.Label, r.Value})
	}
	return out
}

// quoteRows flattens the snapshot layout into the same two-pair grid the
// grid layout uses.
func quoteRows(q models.QuoteTable) []table.Row {
	out := make([]table.Row, 0, len(q.Rows))
	for _, r := range q.Rows {
		out = append(out, table.Row{r.Label1, r.Value1, r.Label2, r.Value2})
	}
	if len(q.Fields) == 0 {
		return out
	}
	keys := make([]string, 0, len(q.Fields))
	for k := range q.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i := 0; i < len(keys); i += 2 {
		row := table.Row{keys[i], q.Fields[keys[i]], "", ""}
		if i+1 < len(keys) {
			row[2], row[3] = keys[i+1], q.Fields[keys[i+1]]
		}
		out = append(out, row)
	}
	return out
}
