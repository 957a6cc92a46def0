package metrics

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"wgpair/internal/model"
)

// ReadCSV loads samples from a CSV file.
func ReadCSV(path string) ([]RateSample, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return readCSV(file)
}

func readCSV(r io.Reader) ([]RateSample, error) {
	reader := csv.NewReader(r)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	start := 0
	if len(records[0]) > 0 && records[0][0] == "timestamp" {
		start = 1
	}

	items := make([]RateSample, 0, len(records)-start)
	for i := start; i < len(records); i++ {
		rec := records[i]
		if len(rec) < len(header) {
			return nil, fmt.Errorf("invalid record at line %d", i+1)
		}
		ts, err := time.Parse(time.RFC3339Nano, rec[0])
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp at line %d: %w", i+1, err)
		}
		rx, _ := strconv.ParseUint(rec[3], 10, 64)
		tx, _ := strconv.ParseUint(rec[4], 10, 64)
		rate, _ := strconv.ParseFloat(rec[5], 64)
		peak, _ := strconv.ParseFloat(rec[6], 64)
		fallback, _ := strconv.ParseBool(rec[7])
		items = append(items, RateSample{
			Timestamp:     ts,
			Node:          model.Node(rec[1]),
			Interface:     rec[2],
			BytesReceived: rx,
			BytesSent:     tx,
			RateBps:       rate,
			PeakBps:       peak,
			Fallback:      fallback,
		})
	}

	return items, nil
}
