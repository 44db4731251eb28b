package signal

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
)

var headerIndicators = []string{"time", "fhr", "bpm", "uc", "uterine", "uterus", "contractions", "value"}

// ReadCSV читает ряд из CSV с колонками time_sec,value.
// Заголовок определяется автоматически, некорректные строки пропускаются.
func ReadCSV(r io.Reader, name string) (Series, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s CSV: %w", name, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s CSV is empty", name)
	}

	start := 0
	if isHeader(records[0]) {
		start = 1
	}

	series := make(Series, 0, len(records)-start)
	for i := start; i < len(records); i++ {
		if len(records[i]) < 2 {
			log.Printf("[WARN] %s line %d has %d columns, need 2", name, i+1, len(records[i]))
			continue
		}

		timeSec, err := strconv.ParseFloat(strings.TrimSpace(records[i][0]), 64)
		if err != nil {
			log.Printf("[WARN] %s line %d - time error: %v", name, i+1, err)
			continue
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(records[i][1]), 64)
		if err != nil {
			log.Printf("[WARN] %s line %d - value error: %v", name, i+1, err)
			continue
		}

		series = append(series, Sample{TimeSec: timeSec, Value: value})
	}

	if len(series) == 0 {
		return nil, fmt.Errorf("no valid %s records found in CSV", name)
	}
	return series, nil
}

func isHeader(row []string) bool {
	if len(row) == 0 {
		return false
	}

	first := strings.ToLower(strings.TrimSpace(row[0]))
	for _, indicator := range headerIndicators {
		if strings.Contains(first, indicator) {
			return true
		}
	}
	return false
}
