// Package scanlog reads recorded 2-D laser scans.
//
// A scan log is a JSON-lines file: one LaserScan object per line. Blank lines
// are skipped.
package scanlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/banshee-data/gridslam/internal/geometry"
)

// ErrMalformedScan is wrapped by Reader.Next for lines that cannot be decoded
// or fail validation.
var ErrMalformedScan = errors.New("malformed scan")

// maxLineBytes bounds a single encoded scan.
const maxLineBytes = 4 * 1024 * 1024

// LaserScan is one sweep of a planar range finder. Angles are in radians,
// ranges in meters, counter-clockwise from the sensor x axis.
type LaserScan struct {
	Seq            uint64    `json:"seq"`
	StampUnixNanos int64     `json:"stamp_unix_nanos"`
	AngleMin       float64   `json:"angle_min"`
	AngleIncrement float64   `json:"angle_increment"`
	RangeMin       float64   `json:"range_min"`
	RangeMax       float64   `json:"range_max"`
	Ranges         []float64 `json:"ranges"`
}

// Validate checks the fields a scan needs to be converted to points.
func (s *LaserScan) Validate() error {
	if len(s.Ranges) == 0 {
		return fmt.Errorf("scan %d has no ranges", s.Seq)
	}
	if math.IsNaN(s.AngleMin) || math.IsInf(s.AngleMin, 0) {
		return fmt.Errorf("scan %d: invalid angle_min %v", s.Seq, s.AngleMin)
	}
	if s.AngleIncrement == 0 || math.IsNaN(s.AngleIncrement) || math.IsInf(s.AngleIncrement, 0) {
		return fmt.Errorf("scan %d: invalid angle_increment %v", s.Seq, s.AngleIncrement)
	}
	if s.RangeMax > 0 && s.RangeMax < s.RangeMin {
		return fmt.Errorf("scan %d: range_max %v below range_min %v", s.Seq, s.RangeMax, s.RangeMin)
	}
	return nil
}

// ToPoints converts the scan to sensor-frame Cartesian points in meters.
// Returns are kept when they are finite, inside the sensor's own
// [RangeMin, RangeMax] window (when set) and inside [minDist, maxDist].
func (s *LaserScan) ToPoints(minDist, maxDist float64) []geometry.Point {
	points := make([]geometry.Point, 0, len(s.Ranges))
	for i, r := range s.Ranges {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			continue
		}
		if r < s.RangeMin || (s.RangeMax > 0 && r > s.RangeMax) {
			continue
		}
		if r < minDist || r > maxDist {
			continue
		}
		sin, cos := math.Sincos(s.AngleMin + float64(i)*s.AngleIncrement)
		points = append(points, geometry.Point{X: r * cos, Y: r * sin})
	}
	return points
}

// Reader decodes scans from a JSON-lines stream.
type Reader struct {
	scanner *bufio.Scanner
	line    int
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &Reader{scanner: sc}
}

// Next returns the next scan. It returns io.EOF after the last scan. A line
// that cannot be decoded yields an error wrapping ErrMalformedScan; the
// caller may keep calling Next to skip it.
func (r *Reader) Next() (*LaserScan, error) {
	for r.scanner.Scan() {
		r.line++
		line := r.scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var scan LaserScan
		if err := json.Unmarshal(line, &scan); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedScan, r.line, err)
		}
		if err := scan.Validate(); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedScan, r.line, err)
		}
		return &scan, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read scan log: %w", err)
	}
	return nil, io.EOF
}

// Line returns the number of lines consumed so far.
func (r *Reader) Line() int { return r.line }

// Writer encodes scans as JSON lines.
type Writer struct {
	enc *json.Encoder
}

// NewWriter returns a Writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: json.NewEncoder(w)}
}

// Write appends one scan.
func (w *Writer) Write(scan *LaserScan) error {
	if err := w.enc.Encode(scan); err != nil {
		return fmt.Errorf("failed to encode scan %d: %w", scan.Seq, err)
	}
	return nil
}
