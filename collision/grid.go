// Package collision answers walkability queries against per-map
// run-length-encoded tile grids.
package collision

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

const DefaultTileSize = 16

var (
	ErrMalformed  = errors.New("malformed collision grid")
	ErrUnknownMap = errors.New("unknown map")
)

// Grid is immutable after Decode.
type Grid struct {
	tileSize float64
	width    int
	height   int
	offset   float64 // width/2, fractional for odd widths
	values   []int
	ends     []int // ends[i] is the exclusive end index of run i
}

// Decode parses the flat form [width, height, v0, c0, v1, c1, ...].
func Decode(data []int, tileSize float64) (*Grid, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: missing header", ErrMalformed)
	}
	if (len(data)-2)%2 != 0 {
		return nil, fmt.Errorf("%w: odd run data", ErrMalformed)
	}
	width, height := data[0], data[1]
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: size %dx%d", ErrMalformed, width, height)
	}
	if tileSize <= 0 {
		tileSize = DefaultTileSize
	}

	runs := (len(data) - 2) / 2
	g := &Grid{
		tileSize: tileSize,
		width:    width,
		height:   height,
		offset:   float64(width) / 2,
		values:   make([]int, 0, runs),
		ends:     make([]int, 0, runs),
	}
	total := 0
	for i := 2; i < len(data); i += 2 {
		count := data[i+1]
		if count < 0 {
			return nil, fmt.Errorf("%w: negative run at %d", ErrMalformed, i+1)
		}
		if count == 0 {
			continue
		}
		total += count
		g.values = append(g.values, data[i])
		g.ends = append(g.ends, total)
	}
	return g, nil
}

// Encode run-length encodes row-major cells into the flat form.
func Encode(cells []int, width, height int) []int {
	out := []int{width, height}
	for i := 0; i < len(cells); {
		j := i
		for j < len(cells) && cells[j] == cells[i] {
			j++
		}
		out = append(out, cells[i], j-i)
		i = j
	}
	return out
}

func (g *Grid) Width() int        { return g.width }
func (g *Grid) Height() int       { return g.height }
func (g *Grid) TileSize() float64 { return g.tileSize }

// Cells returns the total number of tiles covered by the runs.
func (g *Grid) Cells() int {
	if len(g.ends) == 0 {
		return 0
	}
	return g.ends[len(g.ends)-1]
}

// Index converts a world position to a row-major tile index. Columns are
// not bounds-checked: a column past the right edge continues on the next row.
func (g *Grid) Index(x, y float64) int {
	cx := math.Floor(x/g.tileSize) + g.offset
	cy := math.Floor(y/g.tileSize) + g.offset
	return int(math.Floor(cy*float64(g.width) + cx))
}

// Blocked reports whether the tile under (x, y) is solid.
func (g *Grid) Blocked(x, y float64) bool {
	return g.BlockedIndex(g.Index(x, y))
}

// BlockedIndex looks up a row-major tile index. Negative indices and
// indices past the last run are open.
func (g *Grid) BlockedIndex(idx int) bool {
	if idx < 0 || idx >= g.Cells() {
		return false
	}
	run := sort.Search(len(g.ends), func(i int) bool { return g.ends[i] > idx })
	return g.values[run] != 0
}
