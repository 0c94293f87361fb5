package gridmap

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"fmt"
)

// gridBlob is the gob payload stored inside a snapshot.
type gridBlob struct {
	Width   int
	Height  int
	LogOdds []float64
}

// SerializeLogOdds compresses the raw log-odds values of m using gob encoding
// and gzip compression.
func SerializeLogOdds(m *LogOddsGridMap) ([]byte, error) {
	cells := m.Cells()
	payload := gridBlob{
		Width:   m.Width(),
		Height:  m.Height(),
		LogOdds: make([]float64, len(cells)),
	}
	for i := range cells {
		payload.LogOdds[i] = cells[i].value
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := gob.NewEncoder(gz).Encode(&payload); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RestoreLogOdds overwrites every cell of m from a blob produced by
// SerializeLogOdds. The blob must describe a grid of the same size.
func RestoreLogOdds(m *LogOddsGridMap, blob []byte) error {
	if len(blob) == 0 {
		return fmt.Errorf("empty grid blob")
	}
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	var payload gridBlob
	if err := gob.NewDecoder(gz).Decode(&payload); err != nil {
		return fmt.Errorf("failed to decode grid cells: %w", err)
	}
	if payload.Width != m.Width() || payload.Height != m.Height() {
		return fmt.Errorf("grid size mismatch: blob %dx%d, map %dx%d",
			payload.Width, payload.Height, m.Width(), m.Height())
	}
	if len(payload.LogOdds) != m.Area() {
		return fmt.Errorf("grid blob holds %d cells, want %d", len(payload.LogOdds), m.Area())
	}

	cells := m.Cells()
	for i, v := range payload.LogOdds {
		cells[i].value = v
	}
	return nil
}
