package critforce

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/BTBurke/critforce/pkg/analysis"
)

// WriteRecording writes one "time load" line per sample, time in seconds and load in kg
func WriteRecording(w io.Writer, times, loads []float64) error {
	if len(times) != len(loads) {
		return analysis.ErrLengthMismatch
	}
	bw := bufio.NewWriter(w)
	for i := range times {
		if _, err := fmt.Fprintf(bw, "%s %s\n", format(times[i]), format(loads[i])); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadRecording reads a recording written by WriteRecording.  Blank lines and lines starting with # are
// skipped.  Columns may be separated by any whitespace or a comma.
func ReadRecording(r io.Reader) (times, loads []float64, err error) {
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.FieldsFunc(text, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
		if len(fields) != 2 {
			return nil, nil, fmt.Errorf("line %d: expected 2 columns, got %d", line, len(fields))
		}
		t, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: bad time %q", line, fields[0])
		}
		f, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: bad load %q", line, fields[1])
		}
		times = append(times, t)
		loads = append(loads, f)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	return times, loads, nil
}

// SaveRecording writes the recording to a new file at path
func SaveRecording(path string, times, loads []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteRecording(f, times, loads); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadRecording reads the recording file at path
func LoadRecording(path string) (times, loads []float64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return ReadRecording(f)
}

func format(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
