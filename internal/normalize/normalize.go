// Package normalize converts raw marketplace text into canonical typed values.
//
// Both parse functions are total: every input yields a value that preserves
// the original text verbatim, with Valid=false when no canonical form could
// be derived. Consumers must treat Valid=false as "unknown", never as zero
// or as the current time.
package normalize

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Quantity pairs raw quantity text ("19.8K Views") with its parsed value.
type Quantity struct {
	Raw   string
	Value int64
	Valid bool
}

// Timestamp pairs raw date text ("3mo ago") with a UTC instant truncated to
// the second.
type Timestamp struct {
	Raw   string
	Value time.Time
	Valid bool
}

// Relative-date units. A month is exactly 30 days and a week exactly 7 days;
// the fixed approximation is part of the contract and must not be replaced
// with calendar arithmetic.
const (
	hourUnit  = time.Hour
	dayUnit   = 24 * time.Hour
	weekUnit  = 7 * dayUnit
	monthUnit = 30 * dayUnit
)

type relativeRule struct {
	pattern *regexp.Regexp
	unit    time.Duration
}

// Rules are tried in priority order: months, weeks, days, hours. The first
// pattern that matches anywhere in the text wins, regardless of position.
var relativeRules = []relativeRule{
	{regexp.MustCompile(`(?i)(\d+)\s*(?:months?|mo)\s+ago`), monthUnit},
	{regexp.MustCompile(`(?i)(\d+)\s*(?:weeks?|w)\s+ago`), weekUnit},
	{regexp.MustCompile(`(?i)(\d+)\s*days?\s+ago`), dayUnit},
	{regexp.MustCompile(`(?i)(\d+)\s*hours?\s+ago`), hourUnit},
}

var numberPattern = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

// ParseRelativeTime parses relative-date text such as "3 months ago",
// "3mo ago", "2 weeks ago", "6w ago", "10 days ago" or "5 hours ago"
// against the supplied reference instant. Unrecognized text is not an
// error: the result simply carries Valid=false with Raw intact.
func ParseRelativeTime(raw string, now time.Time) Timestamp {
	ts := Timestamp{Raw: raw}
	for _, rule := range relativeRules {
		m := rule.pattern.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return ts
		}
		ts.Value = now.Add(-time.Duration(n) * rule.unit).UTC().Truncate(time.Second)
		ts.Valid = true
		return ts
	}
	return ts
}

// ParseQuantity parses abbreviated count text such as "19.8K Views" or
// "1,200 Vectors". The first numeric substring is taken (thousands
// separators stripped, at most one decimal point); a case-insensitive K
// anywhere in the text multiplies by 1000, otherwise an M multiplies by
// 1000000. The product is rounded toward zero.
func ParseQuantity(raw string) Quantity {
	q := Quantity{Raw: raw}
	match := numberPattern.FindString(raw)
	if match == "" {
		return q
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", ""), 64)
	if err != nil {
		return q
	}
	multiplier := 1.0
	upper := strings.ToUpper(raw)
	switch {
	case strings.Contains(upper, "K"):
		multiplier = 1_000
	case strings.Contains(upper, "M"):
		multiplier = 1_000_000
	}
	product := math.Trunc(value * multiplier)
	if math.IsNaN(product) || product >= math.MaxInt64 || product <= math.MinInt64 {
		return q
	}
	q.Value = int64(product)
	q.Valid = true
	return q
}

// ISO8601 renders the normalized instant as RFC 3339, or "" when invalid.
func (t Timestamp) ISO8601() string {
	if !t.Valid {
		return ""
	}
	return t.Value.Format(time.RFC3339)
}

type quantityJSON struct {
	Raw        string `json:"raw"`
	Normalized *int64 `json:"normalized"`
}

// MarshalJSON encodes the quantity as {"raw": ..., "normalized": ...} with
// an explicit null when no value was derived.
func (q Quantity) MarshalJSON() ([]byte, error) {
	doc := quantityJSON{Raw: q.Raw}
	if q.Valid {
		v := q.Value
		doc.Normalized = &v
	}
	return json.Marshal(doc)
}

// UnmarshalJSON restores a quantity, mapping null back to Valid=false.
func (q *Quantity) UnmarshalJSON(data []byte) error {
	var doc quantityJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	q.Raw = doc.Raw
	q.Valid = doc.Normalized != nil
	q.Value = 0
	if doc.Normalized != nil {
		q.Value = *doc.Normalized
	}
	return nil
}

type timestampJSON struct {
	Raw        string  `json:"raw"`
	Normalized *string `json:"normalized"`
}

// MarshalJSON encodes the timestamp as {"raw": ..., "normalized": ...} with
// the normalized instant in RFC 3339 UTC, or null when absent.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	doc := timestampJSON{Raw: t.Raw}
	if t.Valid {
		iso := t.ISO8601()
		doc.Normalized = &iso
	}
	return json.Marshal(doc)
}

// UnmarshalJSON restores a timestamp, mapping null or an unparseable
// instant back to Valid=false.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var doc timestampJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	t.Raw = doc.Raw
	t.Valid = false
	t.Value = time.Time{}
	if doc.Normalized == nil {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, *doc.Normalized)
	if err != nil {
		return nil
	}
	t.Value = parsed.UTC()
	t.Valid = true
	return nil
}
