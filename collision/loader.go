package collision

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

type assetFile struct {
	Collision []int   `json:"collision"`
	TileSize  float64 `json:"tileSize"`
}

// Parse reads either a bare run array or an object with a collision field.
func Parse(raw []byte, defaultTile float64) (*Grid, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty asset", ErrMalformed)
	}

	var data []int
	tile := defaultTile
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	} else {
		var asset assetFile
		if err := json.Unmarshal(raw, &asset); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		data = asset.Collision
		if asset.TileSize > 0 {
			tile = asset.TileSize
		}
	}
	return Decode(data, tile)
}

// LoadDir loads every *.json map in dir. Malformed files are logged and
// skipped so lookups on them fall back to the index policy.
func (ix *Index) LoadDir(dir string, tileSize float64) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read maps dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			ix.log.Error("read map asset", zap.String("path", path), zap.Error(err))
			continue
		}
		g, err := Parse(raw, tileSize)
		if err != nil {
			ix.log.Error("collision data invalid", zap.String("path", path), zap.Error(err))
			continue
		}
		ix.Add(e.Name(), g, path)
		ix.log.Info("map loaded",
			zap.String("map", MapName(e.Name())), zap.Int("width", g.Width()), zap.Int("height", g.Height()))
	}
	return nil
}
