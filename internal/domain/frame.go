package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// Canonical frame column names, in canonical order.
const (
	ColOpen     = "open"
	ColHigh     = "high"
	ColLow      = "low"
	ColClose    = "close"
	ColAdjClose = "adj_close"
	ColVolume   = "volume"
)

// FrameColumns is the canonical OHLCV column set.
var FrameColumns = []string{ColOpen, ColHigh, ColLow, ColClose, ColAdjClose, ColVolume}

// MetaAdjCloseSubstituted is set on a frame when adj_close was absent
// upstream and close was copied in its place.
const MetaAdjCloseSubstituted = "adj_close_substituted"

// MetaDroppedBars records how many bars were discarded during normalization.
const MetaDroppedBars = "dropped_bars"

// MetaCurrency is the trading currency the provider reported for the
// series, when it reported one.
const MetaCurrency = "currency"

// Bar is one OHLCV bar keyed by a tz-aware UTC instant.
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	AdjClose  float64
	Volume    float64
}

// Frame is an ordered OHLCV series with a strictly increasing UTC index.
// It is the Go rendition of a tz-aware tabular frame: explicit column
// vectors plus an index vector, serialized as a self-describing envelope so
// the JSON round-trip is lossless including dtypes and timezone.
type Frame struct {
	Index   []time.Time
	Columns []string
	Rows    [][]float64
	Meta    map[string]string
}

// NewFrame returns an empty frame with the canonical columns.
func NewFrame() *Frame {
	cols := make([]string, len(FrameColumns))
	copy(cols, FrameColumns)
	return &Frame{Columns: cols, Meta: map[string]string{}}
}

// Len returns the number of bars.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Index)
}

// AppendBar adds a bar; the timestamp is converted to UTC on ingress.
func (f *Frame) AppendBar(b Bar) {
	f.Index = append(f.Index, b.Timestamp.UTC())
	f.Rows = append(f.Rows, []float64{b.Open, b.High, b.Low, b.Close, b.AdjClose, b.Volume})
}

func (f *Frame) colIndex(name string) int {
	for i, c := range f.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Column returns the named column vector, or nil when absent.
func (f *Frame) Column(name string) []float64 {
	ci := f.colIndex(name)
	if ci < 0 {
		return nil
	}
	out := make([]float64, len(f.Rows))
	for i, row := range f.Rows {
		out[i] = row[ci]
	}
	return out
}

// Bar returns the i-th bar.
func (f *Frame) Bar(i int) Bar {
	row := f.Rows[i]
	return Bar{
		Timestamp: f.Index[i],
		Open:      row[f.colIndex(ColOpen)],
		High:      row[f.colIndex(ColHigh)],
		Low:       row[f.colIndex(ColLow)],
		Close:     row[f.colIndex(ColClose)],
		AdjClose:  row[f.colIndex(ColAdjClose)],
		Volume:    row[f.colIndex(ColVolume)],
	}
}

// columnAliases maps provider spellings to canonical names.
var columnAliases = map[string]string{
	"adj close":      ColAdjClose,
	"adjclose":       ColAdjClose,
	"adjusted_close": ColAdjClose,
	"adjusted close": ColAdjClose,
}

// CanonicalColumnName lowercases, replaces spaces with underscores, and
// resolves known aliases.
func CanonicalColumnName(name string) string {
	n := toSnake(name)
	if alias, ok := columnAliases[n]; ok {
		return alias
	}
	if alias, ok := columnAliases[spaced(n)]; ok {
		return alias
	}
	return n
}

// Normalize enforces the frame invariants in place:
//   - timestamps converted to UTC, index sorted ascending, duplicates
//     collapsed (last wins),
//   - bars violating low <= min(open,close) <= max(open,close) <= high or
//     carrying negative volume are dropped (counted in Meta),
//   - absent adj_close is substituted with close and flagged in Meta.
func (f *Frame) Normalize() {
	if f == nil || len(f.Index) == 0 {
		return
	}
	if f.Meta == nil {
		f.Meta = map[string]string{}
	}

	oi, hi, li, ci := f.colIndex(ColOpen), f.colIndex(ColHigh), f.colIndex(ColLow), f.colIndex(ColClose)
	ai, vi := f.colIndex(ColAdjClose), f.colIndex(ColVolume)

	type pair struct {
		t   time.Time
		row []float64
	}
	pairs := make([]pair, 0, len(f.Index))
	dropped := 0
	for i := range f.Index {
		row := f.Rows[i]
		o, h, l, c := row[oi], row[hi], row[li], row[ci]
		if math.IsNaN(o) || math.IsNaN(h) || math.IsNaN(l) || math.IsNaN(c) {
			// NaN inputs propagate; keep the bar, indicators handle it.
			pairs = append(pairs, pair{f.Index[i].UTC(), row})
			continue
		}
		if l > math.Min(o, c) || h < math.Max(o, c) || (vi >= 0 && row[vi] < 0) {
			dropped++
			continue
		}
		pairs = append(pairs, pair{f.Index[i].UTC(), row})
	}

	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].t.Before(pairs[j].t) })

	// Collapse duplicate timestamps, last wins.
	out := pairs[:0]
	for _, p := range pairs {
		if n := len(out); n > 0 && out[n-1].t.Equal(p.t) {
			out[n-1] = p
			continue
		}
		out = append(out, p)
	}

	f.Index = f.Index[:0]
	f.Rows = f.Rows[:0]
	substituted := false
	for _, p := range out {
		if ai >= 0 && math.IsNaN(p.row[ai]) && !math.IsNaN(p.row[ci]) {
			p.row[ai] = p.row[ci]
			substituted = true
		}
		f.Index = append(f.Index, p.t)
		f.Rows = append(f.Rows, p.row)
	}
	if substituted {
		f.Meta[MetaAdjCloseSubstituted] = "true"
	}
	if dropped > 0 {
		f.Meta[MetaDroppedBars] = fmt.Sprintf("%d", dropped)
	}
}

// Validate checks the invariants without mutating.
func (f *Frame) Validate() error {
	for i := 1; i < len(f.Index); i++ {
		if !f.Index[i].After(f.Index[i-1]) {
			return fmt.Errorf("frame index not strictly increasing at %d", i)
		}
	}
	for i, row := range f.Rows {
		if len(row) != len(f.Columns) {
			return fmt.Errorf("frame row %d has %d cells, want %d", i, len(row), len(f.Columns))
		}
	}
	return nil
}

// Tail returns a frame holding the last n bars (shared backing arrays).
func (f *Frame) Tail(n int) *Frame {
	if f == nil || n <= 0 || f.Len() <= n {
		return f
	}
	start := f.Len() - n
	return &Frame{Index: f.Index[start:], Columns: f.Columns, Rows: f.Rows[start:], Meta: f.Meta}
}

// Summary produces the compact aggregate view of the frame.
func (f *Frame) Summary() *OHLCVSummary {
	if f == nil || f.Len() == 0 {
		return nil
	}
	highs := f.Column(ColHigh)
	lows := f.Column(ColLow)
	vols := f.Column(ColVolume)
	closes := f.Column(ColClose)

	s := &OHLCVSummary{
		Bars:  f.Len(),
		First: f.Index[0],
		Last:  f.Index[f.Len()-1],
	}
	s.PeriodHigh = highs[0]
	s.PeriodLow = lows[0]
	for i := range highs {
		if highs[i] > s.PeriodHigh {
			s.PeriodHigh = highs[i]
		}
		if lows[i] < s.PeriodLow {
			s.PeriodLow = lows[i]
		}
		if !math.IsNaN(vols[i]) {
			s.TotalVolume += int64(vols[i])
		}
	}
	s.LastClose = closes[len(closes)-1]
	return s
}

// frameEnvelope is the self-describing serialized form. Timestamps are
// ISO-8601 strings; their dtype and timezone are recorded so deserialization
// reconstructs an identical tz-aware frame.
type frameEnvelope struct {
	Data struct {
		Index   []string     `json:"index"`
		Columns []string     `json:"columns"`
		Rows    [][]*float64 `json:"rows"`
	} `json:"data"`
	IndexName               string            `json:"index_name"`
	IndexDtype              string            `json:"index_dtype"`
	IndexTimezone           string            `json:"index_timezone,omitempty"`
	ColumnsNames            []string          `json:"columns_names"`
	ColumnsDtype            string            `json:"columns_dtype"`
	ColumnsDtypes           map[string]string `json:"columns_dtypes"`
	ColumnsTimezone         string            `json:"columns_timezone,omitempty"`
	ColumnsContentTimezones map[string]string `json:"columns_content_timezones,omitempty"`
	Meta                    map[string]string `json:"meta,omitempty"`
}

const indexTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func columnDtype(name string) string {
	if name == ColVolume {
		return "int64"
	}
	return "float64"
}

// MarshalJSON serializes the frame as the tabular envelope. NaN cells become
// null so the JSON representation never carries NaN or Infinity.
func (f *Frame) MarshalJSON() ([]byte, error) {
	env := frameEnvelope{}
	env.Data.Index = make([]string, len(f.Index))
	for i, t := range f.Index {
		env.Data.Index[i] = t.UTC().Format(indexTimeLayout)
	}
	env.Data.Columns = f.Columns
	env.Data.Rows = make([][]*float64, len(f.Rows))
	for i, row := range f.Rows {
		cells := make([]*float64, len(row))
		for j := range row {
			if math.IsNaN(row[j]) || math.IsInf(row[j], 0) {
				continue
			}
			v := row[j]
			cells[j] = &v
		}
		env.Data.Rows[i] = cells
	}
	env.IndexName = "date"
	env.IndexDtype = "datetime64[ns, UTC]"
	env.IndexTimezone = "UTC"
	env.ColumnsNames = f.Columns
	env.ColumnsDtype = "object"
	env.ColumnsDtypes = make(map[string]string, len(f.Columns))
	for _, c := range f.Columns {
		env.ColumnsDtypes[c] = columnDtype(c)
	}
	env.Meta = f.Meta
	return json.Marshal(env)
}

// UnmarshalJSON reconstructs a frame from the tabular envelope. Null cells
// become NaN.
func (f *Frame) UnmarshalJSON(data []byte) error {
	var env frameEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	if len(env.Data.Rows) != len(env.Data.Index) {
		return fmt.Errorf("frame envelope: %d rows for %d index values", len(env.Data.Rows), len(env.Data.Index))
	}

	loc := time.UTC
	if env.IndexTimezone != "" && env.IndexTimezone != "UTC" {
		parsed, err := time.LoadLocation(env.IndexTimezone)
		if err != nil {
			return fmt.Errorf("frame envelope: index timezone %q: %w", env.IndexTimezone, err)
		}
		loc = parsed
	}

	f.Columns = env.Data.Columns
	f.Index = make([]time.Time, len(env.Data.Index))
	for i, raw := range env.Data.Index {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return fmt.Errorf("frame envelope: index value %q: %w", raw, err)
		}
		f.Index[i] = t.In(loc).UTC()
	}
	f.Rows = make([][]float64, len(env.Data.Rows))
	for i, cells := range env.Data.Rows {
		row := make([]float64, len(cells))
		for j, cell := range cells {
			if cell == nil {
				row[j] = math.NaN()
				continue
			}
			row[j] = *cell
		}
		f.Rows[i] = row
	}
	f.Meta = env.Meta
	if f.Meta == nil {
		f.Meta = map[string]string{}
	}
	return nil
}
