package telemetry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sigurn/crc8"
)

// Serial frames are lines of the form
//
//	$BAT,<timestamp us>,<voltage>,<current mA>,<temperature>,<armed>*<crc>
//
// armed is 1, 0 or - when unknown. crc is the CRC-8 of the text between $ and *
// as two hex digits.

const frameType = "BAT"

var (
	ErrBadFrame    = errors.New("bad telemetry frame")
	ErrBadChecksum = errors.New("bad telemetry frame checksum")
)

var crcTable = crc8.MakeTable(crc8.Params{
	Poly:   0x31, // Polynomial 1 + x^4 + x^5 + x^8
	Init:   0xFF,
	RefIn:  false,
	RefOut: false,
	XorOut: 0x00,
})

func checksum(payload string) byte {
	return crc8.Checksum([]byte(payload), crcTable)
}

func FormatFrame(s Sample) string {
	armed := "-"
	if s.Armed != nil {
		armed = "0"
		if *s.Armed {
			armed = "1"
		}
	}
	payload := fmt.Sprintf("%s,%d,%s,%s,%s,%s", frameType, toMicros(s.Timestamp),
		formatFloat(s.Voltage), formatFloat(s.Current), formatFloat(s.Temperature), armed)
	return fmt.Sprintf("$%s*%02X", payload, checksum(payload))
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func ParseFrame(line string) (Sample, error) {
	line = strings.TrimSpace(line)
	star := strings.LastIndexByte(line, '*')
	if !strings.HasPrefix(line, "$") || star < 0 || len(line)-star != 3 {
		return Sample{}, fmt.Errorf("%w: '%s'", ErrBadFrame, line)
	}
	payload := line[1:star]
	crc, err := strconv.ParseUint(line[star+1:], 16, 8)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: checksum '%s'", ErrBadFrame, line[star+1:])
	}
	if byte(crc) != checksum(payload) {
		return Sample{}, fmt.Errorf("%w: '%s'", ErrBadChecksum, line)
	}

	fields := strings.Split(payload, ",")
	if len(fields) != 6 || fields[0] != frameType {
		return Sample{}, fmt.Errorf("%w: '%s'", ErrBadFrame, line)
	}
	us, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: timestamp: %v", ErrBadFrame, err)
	}
	values := make([]float64, 3)
	for i := range values {
		values[i], err = strconv.ParseFloat(fields[i+2], 64)
		if err != nil {
			return Sample{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
		}
	}
	var armed *bool
	switch fields[5] {
	case "1", "0":
		a := fields[5] == "1"
		armed = &a
	case "-":
	default:
		return Sample{}, fmt.Errorf("%w: armed '%s'", ErrBadFrame, fields[5])
	}

	return Sample{
		Voltage:     values[0],
		Current:     values[1],
		Temperature: values[2],
		Timestamp:   FromMicros(us),
		Armed:       armed,
	}, nil
}
