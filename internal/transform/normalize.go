// Package transform reshapes data platform responses into table and chart
// records. Every function is pure: a failed or malformed response produces an
// empty result, never an error.
package transform

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"marketdash/backend-go/internal/models"
)

type textValue struct {
	Value string `json:"$"`
}

type headlinesPayload struct {
	Data []struct {
		StoryID  string `json:"storyId"`
		NewsItem struct {
			ItemMeta struct {
				Title          []textValue `json:"title"`
				VersionCreated textValue   `json:"versionCreated"`
			} `json:"itemMeta"`
		} `json:"newsItem"`
	} `json:"data"`
}

// NewsFromHeadlines maps a headlines response to news rows in response order.
func NewsFromHeadlines(resp models.VendorResponse) []models.NewsItem {
	out := []models.NewsItem{}
	if !resp.Success || len(resp.Body) == 0 {
		return out
	}
	var payload headlinesPayload
	if err := resp.Decode(&payload); err != nil {
		return out
	}
	for _, hl := range payload.Data {
		meta := hl.NewsItem.ItemMeta
		title := ""
		if len(meta.Title) > 0 {
			title = meta.Title[0].Value
		}
		out = append(out, models.NewsItem{
			Date:    meta.VersionCreated.Value,
			Text:    title,
			StoryID: hl.StoryID,
		})
	}
	return out
}

// LabelledRows pairs headers with values by position and keeps only the
// labels present in allow, in header order. Headers without a matching value
// are skipped.
func LabelledRows(headers []string, values []any, allow []string) []models.RatioRow {
	out := []models.RatioRow{}
	allowed := make(map[string]struct{}, len(allow))
	for _, a := range allow {
		allowed[a] = struct{}{}
	}
	for i, h := range headers {
		if i >= len(values) {
			break
		}
		if _, ok := allowed[h]; !ok {
			continue
		}
		out = append(out, models.RatioRow{Label: h, Value: values[i]})
	}
	return out
}

type summaryHeader struct {
	Title string `json:"title"`
	Name  string `json:"name"`
}

func (h summaryHeader) label() string {
	if h.Title != "" {
		return h.Title
	}
	return h.Name
}

type summaryPayload struct {
	Headers []summaryHeader `json:"headers"`
	Data    [][]any         `json:"data"`
}

// RowsFromSummary decodes a {headers, data} view (fundamentals, ESG scores),
// takes the first data row and filters it through the allow-list.
func RowsFromSummary(resp models.VendorResponse, allow []string) []models.RatioRow {
	if !resp.Success || len(resp.Body) == 0 {
		return []models.RatioRow{}
	}
	payload, err := decodeSummary(resp.Body)
	if err != nil || len(payload.Data) == 0 {
		return []models.RatioRow{}
	}
	headers := make([]string, len(payload.Headers))
	for i, h := range payload.Headers {
		headers[i] = h.label()
	}
	return LabelledRows(headers, payload.Data[0], allow)
}

// PricePoints decodes an interday summaries response into points of the
// given field, sorted ascending by date. Rows with a null price are dropped.
func PricePoints(resp models.VendorResponse, field string) []models.PricePoint {
	out := []models.PricePoint{}
	if !resp.Success || len(resp.Body) == 0 {
		return out
	}

	// The history view answers with a one-element array per universe; a bare
	// object is accepted as well.
	var payloads []summaryPayload
	if err := json.Unmarshal(resp.Body, &payloads); err != nil {
		var single summaryPayload
		if err := json.Unmarshal(resp.Body, &single); err != nil {
			return out
		}
		payloads = []summaryPayload{single}
	}
	if len(payloads) == 0 {
		return out
	}
	p := payloads[0]

	dateCol, priceCol := 0, 1
	if len(p.Headers) > 0 {
		dateCol, priceCol = -1, -1
		for i, h := range p.Headers {
			switch strings.ToUpper(h.label()) {
			case "DATE", "DATE_TIME":
				dateCol = i
			case strings.ToUpper(field):
				priceCol = i
			}
		}
		if dateCol < 0 || priceCol < 0 {
			return out
		}
	}

	for _, row := range p.Data {
		if dateCol >= len(row) || priceCol >= len(row) {
			continue
		}
		ts, ok := row[dateCol].(string)
		if !ok || ts == "" {
			continue
		}
		price, ok := row[priceCol].(float64)
		if !ok {
			continue
		}
		out = append(out, models.PricePoint{Time: ts, Price: price})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

type storyPayload struct {
	NewsItem struct {
		ContentSet struct {
			InlineData []textValue `json:"inlineData"`
			InlineXML  []textValue `json:"inlineXML"`
		} `json:"contentSet"`
	} `json:"newsItem"`
}

// StoryText extracts the story body from a stories response.
func StoryText(resp models.VendorResponse) string {
	if !resp.Success || len(resp.Body) == 0 {
		return ""
	}
	var payload storyPayload
	if err := resp.Decode(&payload); err != nil {
		return ""
	}
	cs := payload.NewsItem.ContentSet
	if len(cs.InlineData) > 0 && cs.InlineData[0].Value != "" {
		return cs.InlineData[0].Value
	}
	if len(cs.InlineXML) > 0 {
		return cs.InlineXML[0].Value
	}
	return ""
}

// decodeSummary keeps integral cells as int64 so table values render without
// a trailing exponent.
func decodeSummary(body []byte) (summaryPayload, error) {
	var p summaryPayload
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return p, err
	}
	for _, row := range p.Data {
		for i, cell := range row {
			n, ok := cell.(json.Number)
			if !ok {
				continue
			}
			if iv, err := n.Int64(); err == nil {
				row[i] = iv
			} else if fv, err := n.Float64(); err == nil {
				row[i] = fv
			}
		}
	}
	return p, nil
}
