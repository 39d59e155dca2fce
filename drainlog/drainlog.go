// Package drainlog reads and writes battery drain logs.
//
// A log line is
//
//	2006-01-02 15:04:05.000000, <voltage>, <current mA>, <temperature>
//
// Lines that don't start with a timestamp (such as a header) are skipped.
package drainlog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

const TimeFormat = "2006-01-02 15:04:05.000000"

var ErrEmptyLog = errors.New("drain log has no records")

type Record struct {
	Time        time.Time
	Voltage     float64 // V
	Current     float64 // mA
	Temperature float64 // °C
}

// Line formats the record as a log line without the trailing newline.
func (r Record) Line() string {
	return fmt.Sprintf("%s, %.3f, %.1f, %.1f",
		r.Time.Format(TimeFormat), r.Voltage, r.Current, r.Temperature)
}

type Log []Record

func (l Log) Voltages() []float64 {
	vs := make([]float64, len(l))
	for i, r := range l {
		vs[i] = r.Voltage
	}
	return vs
}

// Seconds returns the time of each record relative to the first record.
func (l Log) Seconds() []float64 {
	ts := make([]float64, len(l))
	for i, r := range l {
		ts[i] = r.Time.Sub(l[0].Time).Seconds()
	}
	return ts
}

// Periods returns the time each record covers, the gap to the previous record.
// The first record covers the same period as the second.
func (l Log) Periods() []time.Duration {
	ps := make([]time.Duration, len(l))
	for i := 1; i < len(l); i++ {
		ps[i] = l[i].Time.Sub(l[i-1].Time)
	}
	if len(l) > 1 {
		ps[0] = ps[1]
	}
	return ps
}

// Read parses a drain log. Malformed lines are an error, header lines are skipped.
func Read(r io.Reader) (Log, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	reader.Comment = '#'

	var l Log
	line := 0
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(fields) == 0 || strings.TrimSpace(fields[0]) == "" {
			continue
		}
		t, err := time.ParseInLocation(TimeFormat, strings.TrimSpace(fields[0]), time.Local)
		if err != nil {
			if line == 1 {
				continue // Header
			}
			return nil, fmt.Errorf("line %d: bad timestamp: %w", line, err)
		}
		if len(fields) < 4 {
			return nil, fmt.Errorf("line %d: expected 4 fields, got %d", line, len(fields))
		}
		values := make([]float64, 3)
		for i := range values {
			values[i], err = strconv.ParseFloat(strings.TrimSpace(fields[i+1]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		}
		l = append(l, Record{
			Time:        t,
			Voltage:     values[0],
			Current:     values[1],
			Temperature: values[2],
		})
	}
	return l, nil
}

func ReadFile(path string) (Log, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return Read(file)
}

// AppendRecord appends a record to the log at path, creating it if needed.
func AppendRecord(path string, r Record) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = file.WriteString(r.Line() + "\n")
	return err
}
