package collision

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Index holds the grids of every loaded map.
type Index struct {
	mu         sync.RWMutex
	grids      map[string]*Grid
	files      map[string]string
	failClosed bool
	log        *zap.Logger
}

// Option configures an Index.
type Option func(*Index)

// WithFailClosed makes unknown maps report blocked.
func WithFailClosed(v bool) Option {
	return func(ix *Index) { ix.failClosed = v }
}

// NewIndex returns an empty, fail-open index unless opts say otherwise.
func NewIndex(log *zap.Logger, opts ...Option) *Index {
	if log == nil {
		log = zap.NewNop()
	}
	ix := &Index{
		grids: make(map[string]*Grid),
		files: make(map[string]string),
		log:   log.Named("collision"),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// MapName strips a trailing .json so asset and map names match.
func MapName(name string) string {
	return strings.TrimSuffix(strings.TrimSpace(name), ".json")
}

// Add registers a decoded grid. path is optional and used by Hash.
func (ix *Index) Add(name string, g *Grid, path string) {
	name = MapName(name)
	ix.mu.Lock()
	ix.grids[name] = g
	if path != "" {
		ix.files[name] = path
	}
	ix.mu.Unlock()
}

func (ix *Index) Grid(name string) (*Grid, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	g, ok := ix.grids[MapName(name)]
	return g, ok
}

// Maps lists the loaded map names.
func (ix *Index) Maps() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	names := make([]string, 0, len(ix.grids))
	for name := range ix.grids {
		names = append(names, name)
	}
	return names
}

// IsBlocked reports whether the world position on mapName is solid.
// Unknown maps are open unless the index is fail-closed.
func (ix *Index) IsBlocked(mapName string, x, y float64) bool {
	g, ok := ix.Grid(mapName)
	if !ok {
		ix.log.Error("collision data not found",
			zap.String("map", mapName), zap.Bool("fail_closed", ix.failClosed))
		return ix.failClosed
	}
	return g.Blocked(x, y)
}

// Hash returns the hex SHA-256 of the map asset as it is on disk now.
func (ix *Index) Hash(mapName string) (string, error) {
	ix.mu.RLock()
	path, ok := ix.files[MapName(mapName)]
	ix.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownMap, mapName)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read map %s: %w", mapName, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
