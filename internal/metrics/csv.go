package metrics

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"time"

	"wgpair/internal/model"
)

// RateSample is one stats poll as recorded by the monitor.
type RateSample struct {
	Timestamp     time.Time
	Node          model.Node
	Interface     string
	BytesReceived uint64
	BytesSent     uint64
	RateBps       float64
	PeakBps       float64
	Fallback      bool
}

var header = []string{
	"timestamp",
	"node",
	"interface",
	"bytes_received",
	"bytes_sent",
	"rate_bps",
	"peak_bps",
	"fallback",
}

// WriteCSV writes samples to CSV with a fixed column order.
func WriteCSV(w io.Writer, items []RateSample) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return err
	}
	return writeRecords(writer, items)
}

// AppendCSV appends samples to path, writing the header only when the file
// is new or empty.
func AppendCSV(path string, items []RateSample) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	writer := csv.NewWriter(file)
	if info.Size() == 0 {
		if err := writer.Write(header); err != nil {
			return err
		}
	}
	return writeRecords(writer, items)
}

func writeRecords(writer *csv.Writer, items []RateSample) error {
	for _, s := range items {
		record := []string{
			s.Timestamp.UTC().Format(time.RFC3339Nano),
			s.Node.String(),
			s.Interface,
			strconv.FormatUint(s.BytesReceived, 10),
			strconv.FormatUint(s.BytesSent, 10),
			strconv.FormatFloat(s.RateBps, 'f', 3, 64),
			strconv.FormatFloat(s.PeakBps, 'f', 3, 64),
			strconv.FormatBool(s.Fallback),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
