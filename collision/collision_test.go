package collision

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func gridWithBlocked(t *testing.T, idx int) *Grid {
	t.Helper()
	cells := make([]int, 100)
	cells[idx] = 1
	g, err := Decode(Encode(cells, 10, 10), DefaultTileSize)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return g
}

func TestEncode(t *testing.T) {
	cells := make([]int, 100)
	cells[42] = 1
	got := Encode(cells, 10, 10)
	want := []int{10, 10, 0, 42, 1, 1, 0, 57}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Encode() = %v, want %v", got, want)
	}
}

func TestGrid_BlockedIndexBoundary(t *testing.T) {
	g := gridWithBlocked(t, 42)

	tests := []struct {
		idx  int
		want bool
	}{
		{41, false},
		{42, true},
		{43, false},
		{0, false},
		{99, false},
		{100, false},
		{-1, false},
	}
	for _, test := range tests {
		if got := g.BlockedIndex(test.idx); got != test.want {
			t.Errorf("BlockedIndex(%d) = %v, want %v", test.idx, got, test.want)
		}
	}
}

func TestGrid_BlockedWorldPosition(t *testing.T) {
	// 10 wide grid: offset 5, cell 42 is column 2 row 4,
	// so x in [-48, -32) and y in [-16, 0).
	g := gridWithBlocked(t, 42)

	tests := []struct {
		name string
		x, y float64
		want bool
	}{
		{name: "cell 42 low corner", x: -48, y: -16, want: true},
		{name: "cell 42 fractional", x: -32.5, y: -0.25, want: true},
		{name: "cell 41", x: -49, y: -8, want: false},
		{name: "cell 43", x: -32, y: -8, want: false},
		{name: "row below", x: -40, y: 0, want: false},
		{name: "origin", x: 0, y: 0, want: false},
		{name: "far outside", x: 5000, y: 5000, want: false},
		{name: "column past width wraps into next row", x: 7 * 16, y: -2 * 16, want: true},
		{name: "column before zero wraps into previous row", x: -13 * 16, y: 0, want: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := g.Blocked(test.x, test.y); got != test.want {
				t.Fatalf("Blocked(%v, %v) = %v, want %v", test.x, test.y, got, test.want)
			}
		})
	}
}

func TestGrid_OddWidthOffset(t *testing.T) {
	// 5 wide: offset 2.5, so the origin lands on index 2.5*5 + 2.5 = 15.
	cells := make([]int, 25)
	cells[15] = 1
	g, err := Decode(Encode(cells, 5, 5), DefaultTileSize)
	if err != nil {
		t.Fatal(err)
	}
	if got := g.Index(0, 0); got != 15 {
		t.Fatalf("Index(0, 0) = %d, want 15", got)
	}
	if !g.Blocked(0, 0) || g.Blocked(-16, 0) || g.Blocked(16, 0) {
		t.Fatal("odd width grid resolved the wrong tile")
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := map[string][]int{
		"empty":     {},
		"no height": {10},
		"odd runs":  {10, 10, 0},
		"zero size": {0, 10, 0, 1},
		"negative":  {2, 2, 0, -4},
	}
	for name, data := range tests {
		if _, err := Decode(data, 16); !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: Decode() error = %v, want ErrMalformed", name, err)
		}
	}
}

func TestIndex_UnknownMapFailOpenLogged(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	ix := NewIndex(zap.New(core))

	if ix.IsBlocked("nowhere", 0, 0) {
		t.Fatal("IsBlocked(unknown) = true, want fail-open false")
	}
	if logs.FilterMessage("collision data not found").Len() != 1 {
		t.Fatalf("expected one fail-open log entry, got %v", logs.All())
	}
}

func TestIndex_FailClosed(t *testing.T) {
	ix := NewIndex(zaptest.NewLogger(t), WithFailClosed(true))
	if !ix.IsBlocked("nowhere", 0, 0) {
		t.Fatal("IsBlocked(unknown) = false with fail-closed")
	}
}

func TestIndex_LoadDirAndHash(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "main.json"), `{"collision":[10,10,0,42,1,1,0,57],"tileSize":16}`)
	writeFile(t, filepath.Join(dir, "cave.json"), `[4,4,1,16]`)
	writeFile(t, filepath.Join(dir, "broken.json"), `{"collision":"nope"}`)
	writeFile(t, filepath.Join(dir, "notes.txt"), `ignored`)

	ix := NewIndex(zaptest.NewLogger(t))
	if err := ix.LoadDir(dir, DefaultTileSize); err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}

	if !ix.IsBlocked("main.json", -40, -8) {
		t.Error("main: cell 42 should be blocked via .json name")
	}
	if !ix.IsBlocked("cave", 0, 0) {
		t.Error("cave: fully solid map should be blocked")
	}
	if _, ok := ix.Grid("broken"); ok {
		t.Error("broken asset should not be loaded")
	}

	h1, err := ix.Hash("main")
	if err != nil || len(h1) != 64 {
		t.Fatalf("Hash() = %q, %v", h1, err)
	}
	writeFile(t, filepath.Join(dir, "main.json"), `[10,10,0,100]`)
	h2, _ := ix.Hash("main")
	if h1 == h2 {
		t.Error("Hash() should follow the file on disk")
	}
	if _, err := ix.Hash("nowhere"); !errors.Is(err, ErrUnknownMap) {
		t.Errorf("Hash(unknown) error = %v", err)
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}
