package candle

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadCSV reads candles from a CSV file with the columns
// date,open,high,low,close,volume. Dates are RFC3339 or unix seconds. A
// header row is skipped.
func LoadCSV(path, symbol, timeframe string) ([]Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open candles file: %w", err)
	}
	defer f.Close()
	return ReadCSV(f, symbol, timeframe)
}

func ReadCSV(r io.Reader, symbol, timeframe string) ([]Candle, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var candles []Candle
	line := 0
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read candles csv: %w", err)
		}
		line++
		if len(rec) < 5 {
			return nil, fmt.Errorf("line %d: expected at least 5 columns, got %d", line, len(rec))
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "date") {
			continue
		}

		date, err := parseDate(strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		var vals [5]float64
		for i := 1; i < len(rec) && i <= 5; i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %d: %w", line, i+1, err)
			}
			vals[i-1] = v
		}
		c := Candle{
			Symbol:    symbol,
			Timeframe: timeframe,
			Date:      date,
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		}
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		candles = append(candles, c)
	}
	SortByDate(candles)
	return candles, nil
}

func parseDate(s string) (time.Time, error) {
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid candle date %q", s)
	}
	return t.UTC(), nil
}
