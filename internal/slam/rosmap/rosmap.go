// Package rosmap exports occupancy grids in the map_server format: a binary
// PGM image plus a YAML metadata file.
package rosmap

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/gridslam/internal/fsutil"
	"github.com/banshee-data/gridslam/internal/geometry"
	"github.com/banshee-data/gridslam/internal/security"
	"github.com/banshee-data/gridslam/internal/slam/gridmap"
)

// Pixel values written for each cell class.
const (
	PixelOccupied byte = 0
	PixelFree     byte = 254
	PixelUnknown  byte = 205
)

// Default thresholds written to the metadata file.
const (
	DefaultOccupiedThresh = 0.65
	DefaultFreeThresh     = 0.196
)

// Metadata is the map_server YAML document.
type Metadata struct {
	Image          string     `yaml:"image"`
	Resolution     float64    `yaml:"resolution"`
	Origin         [3]float64 `yaml:"origin,flow"`
	Negate         int        `yaml:"negate"`
	OccupiedThresh float64    `yaml:"occupied_thresh"`
	FreeThresh     float64    `yaml:"free_thresh"`
}

// MetadataFor describes m with image as the PGM file name. Origin is the
// world position of the lower-left corner of the lower-left pixel; cell
// (x, y) covers [x-0.5, x+0.5) in map coordinates.
func MetadataFor(m *gridmap.LogOddsGridMap, image string) Metadata {
	origin := m.ToWorldCoordinate(geometry.Point{X: -0.5, Y: -0.5})
	return Metadata{
		Image:          image,
		Resolution:     m.Resolution(),
		Origin:         [3]float64{origin.X, origin.Y, 0},
		OccupiedThresh: DefaultOccupiedThresh,
		FreeThresh:     DefaultFreeThresh,
	}
}

// MarshalMetadata encodes md as YAML.
func MarshalMetadata(md Metadata) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(md); err != nil {
		return nil, fmt.Errorf("failed to encode map metadata: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode map metadata: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseMetadata decodes a map_server YAML document.
func ParseMetadata(data []byte) (Metadata, error) {
	var md Metadata
	if err := yaml.Unmarshal(data, &md); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse map metadata: %w", err)
	}
	if md.Image == "" {
		return Metadata{}, fmt.Errorf("map metadata has no image")
	}
	if !(md.Resolution > 0) {
		return Metadata{}, fmt.Errorf("map metadata resolution must be positive, got %v", md.Resolution)
	}
	return md, nil
}

// EncodePGM renders m as a binary (P5) PGM. Image row 0 is the top of the
// map, so grid rows are written from the highest y down.
func EncodePGM(m *gridmap.LogOddsGridMap) []byte {
	w, h := m.Width(), m.Height()
	data := m.ToMapData()

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "P5\n# gridslam occupancy grid, %g m/cell\n%d %d\n255\n", m.Resolution(), w, h)
	row := make([]byte, w)
	for y := h - 1; y >= 0; y-- {
		for x := 0; x < w; x++ {
			row[x] = pixelFor(data[y*w+x])
		}
		buf.Write(row)
	}
	return buf.Bytes()
}

func pixelFor(v byte) byte {
	switch v {
	case gridmap.MapDataOccupied:
		return PixelOccupied
	case gridmap.MapDataFree:
		return PixelFree
	default:
		return PixelUnknown
	}
}

// DecodePGM parses a binary PGM with maxval 255 and returns its size and
// pixels in file order.
func DecodePGM(data []byte) (width, height int, pixels []byte, err error) {
	pos := 0
	next := func() (string, error) {
		for pos < len(data) {
			switch c := data[pos]; {
			case c == '#':
				for pos < len(data) && data[pos] != '\n' {
					pos++
				}
			case c == ' ' || c == '\t' || c == '\r' || c == '\n':
				pos++
			default:
				start := pos
				for pos < len(data) && !isSpace(data[pos]) {
					pos++
				}
				return string(data[start:pos]), nil
			}
		}
		return "", fmt.Errorf("truncated PGM header")
	}

	magic, err := next()
	if err != nil {
		return 0, 0, nil, err
	}
	if magic != "P5" {
		return 0, 0, nil, fmt.Errorf("unsupported PGM magic %q", magic)
	}
	var fields [3]int
	for i := range fields {
		tok, err := next()
		if err != nil {
			return 0, 0, nil, err
		}
		if fields[i], err = strconv.Atoi(tok); err != nil {
			return 0, 0, nil, fmt.Errorf("invalid PGM header field %q: %w", tok, err)
		}
	}
	width, height = fields[0], fields[1]
	if width <= 0 || height <= 0 {
		return 0, 0, nil, fmt.Errorf("invalid PGM size %dx%d", width, height)
	}
	if fields[2] != 255 {
		return 0, 0, nil, fmt.Errorf("unsupported PGM maxval %d", fields[2])
	}
	// Exactly one whitespace byte separates the header from the raster.
	pos++
	avail := max(len(data)-pos, 0)
	// Divide before multiplying so oversized headers cannot overflow.
	if width > avail/height {
		return 0, 0, nil, fmt.Errorf("PGM raster holds %d bytes, too few for %dx%d", avail, width, height)
	}
	return width, height, data[pos : pos+width*height], nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

// Export writes <name>.pgm and <name>.yaml for m into dir and returns the
// YAML path. name must not escape dir.
func Export(fsys fsutil.FileSystem, dir, name string, m *gridmap.LogOddsGridMap) (string, error) {
	if name == "" {
		return "", fmt.Errorf("map name must not be empty")
	}
	imageName := name + ".pgm"
	pgmPath := filepath.Join(dir, imageName)
	yamlPath := filepath.Join(dir, name+".yaml")
	for _, p := range []string{pgmPath, yamlPath} {
		if err := security.ValidatePathWithinDirectory(p, dir); err != nil {
			return "", fmt.Errorf("invalid map name %q: %w", name, err)
		}
	}

	if err := fsys.MkdirAll(filepath.Dir(pgmPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create map directory: %w", err)
	}
	if err := fsys.WriteFile(pgmPath, EncodePGM(m), 0644); err != nil {
		return "", fmt.Errorf("failed to write map image: %w", err)
	}

	md, err := MarshalMetadata(MetadataFor(m, filepath.Base(imageName)))
	if err != nil {
		return "", err
	}
	if err := fsys.WriteFile(yamlPath, md, 0644); err != nil {
		return "", fmt.Errorf("failed to write map metadata: %w", err)
	}
	return yamlPath, nil
}
