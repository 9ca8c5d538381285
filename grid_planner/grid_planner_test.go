package grid_planner

import (
	"reflect"
	"testing"

	"slidecut/contracts"
)

func TestPlanReferenceGrid(t *testing.T) {
	// 1000x700 with 300px tiles and no overlap: 4 columns of widths
	// 300,300,300,100 and 3 rows of heights 300,300,100.
	grid, err := Plan(1000, 700, 300, 0)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if grid.Cols != 4 || grid.Rows != 3 {
		t.Fatalf("got %dx%d grid, want 4 cols x 3 rows", grid.Cols, grid.Rows)
	}
	if got := grid.TileCount(); got != 12 {
		t.Fatalf("got %d tiles, want 12", got)
	}

	wantColWidths := []int{300, 300, 300, 100}
	wantRowHeights := []int{300, 300, 100}
	for r := 0; r < grid.Rows; r++ {
		for c := 0; c < grid.Cols; c++ {
			tile := grid.TileAt(r, c)
			if tile == nil {
				t.Fatalf("TileAt(%d,%d) returned nil", r, c)
			}
			if tile.W != wantColWidths[c] || tile.H != wantRowHeights[r] {
				t.Errorf("tile (%d,%d) is %dx%d, want %dx%d",
					r, c, tile.W, tile.H, wantColWidths[c], wantRowHeights[r])
			}
			if tile.X != c*300 || tile.Y != r*300 {
				t.Errorf("tile (%d,%d) origin (%d,%d), want (%d,%d)",
					r, c, tile.X, tile.Y, c*300, r*300)
			}
		}
	}

	corner := grid.TileAt(2, 3)
	if corner.W != 100 || corner.H != 100 {
		t.Errorf("tile (2,3) is %dx%d, want 100x100", corner.W, corner.H)
	}
}

func TestPlanOverlapGeometry(t *testing.T) {
	grid, err := Plan(10, 4, 4, 2)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if grid.Cols != 5 || grid.Rows != 2 {
		t.Fatalf("got %d cols, %d rows, want 5 and 2", grid.Cols, grid.Rows)
	}
	wantX := []int{0, 2, 4, 6, 8}
	wantW := []int{4, 4, 4, 4, 2}
	for c := 0; c < 5; c++ {
		tile := grid.TileAt(0, c)
		if tile.X != wantX[c] || tile.W != wantW[c] {
			t.Errorf("col %d: origin %d width %d, want %d and %d", c, tile.X, tile.W, wantX[c], wantW[c])
		}
	}
}

func TestPlanCoverage(t *testing.T) {
	cases := []struct {
		name       string
		w, h, t, o int
	}{
		{"no overlap exact fit", 600, 400, 200, 0},
		{"no overlap remainder", 1000, 700, 300, 0},
		{"overlap", 100, 90, 32, 8},
		{"overlap with sliver", 9, 9, 4, 2},
		{"tile larger than plane", 50, 40, 256, 0},
		{"single pixel", 1, 1, 16, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			grid, err := Plan(tc.w, tc.h, tc.t, tc.o)
			if err != nil {
				t.Fatalf("Plan failed: %v", err)
			}

			// Every pixel must be covered by at least one tile and by
			// exactly one core.
			tileHits := make([]int, tc.w*tc.h)
			coreHits := make([]int, tc.w*tc.h)
			for _, tile := range grid.Tiles {
				if tile.W < 1 || tile.H < 1 {
					t.Fatalf("tile (%d,%d) has empty bounds %dx%d", tile.Row, tile.Col, tile.W, tile.H)
				}
				if tile.X+tile.W > tc.w || tile.Y+tile.H > tc.h {
					t.Fatalf("tile (%d,%d) exceeds the plane", tile.Row, tile.Col)
				}
				for y := tile.Y; y < tile.Y+tile.H; y++ {
					for x := tile.X; x < tile.X+tile.W; x++ {
						tileHits[y*tc.w+x]++
					}
				}
				core := CoreBounds(grid, tile)
				for y := core.Min.Y; y < core.Max.Y; y++ {
					for x := core.Min.X; x < core.Max.X; x++ {
						coreHits[y*tc.w+x]++
					}
				}
			}
			for i, n := range tileHits {
				if n < 1 {
					t.Fatalf("pixel %d covered by no tile", i)
				}
				if tc.o == 0 && n != 1 {
					t.Fatalf("pixel %d covered %d times with zero overlap", i, n)
				}
			}
			for i, n := range coreHits {
				if n != 1 {
					t.Fatalf("pixel %d covered by %d cores, want exactly 1", i, n)
				}
			}
		})
	}
}

func TestPlanDeterministic(t *testing.T) {
	a, err := Plan(1234, 987, 256, 32)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	b, err := Plan(1234, 987, 256, 32)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatal("identical inputs produced different grids")
	}
}

func TestPlanRejectsBadInputs(t *testing.T) {
	cases := []struct {
		name       string
		w, h, t, o int
	}{
		{"zero width", 0, 100, 16, 0},
		{"zero height", 100, 0, 16, 0},
		{"zero tile", 100, 100, 0, 0},
		{"negative overlap", 100, 100, 16, -1},
		{"overlap equals tile", 100, 100, 16, 16},
		{"overlap above tile", 100, 100, 16, 20},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Plan(tc.w, tc.h, tc.t, tc.o); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestCoreBounds(t *testing.T) {
	grid, err := Plan(10, 10, 4, 2)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	first := CoreBounds(grid, *grid.TileAt(0, 0))
	if first.Min.X != 0 || first.Min.Y != 0 || first.Max.X != 4 || first.Max.Y != 4 {
		t.Errorf("first core %v, want (0,0)-(4,4)", first)
	}

	inner := CoreBounds(grid, *grid.TileAt(1, 1))
	if inner.Min.X != 4 || inner.Min.Y != 4 {
		t.Errorf("inner core starts at (%d,%d), want (4,4)", inner.Min.X, inner.Min.Y)
	}

	// Width 10, stride 2: the last column starts at x=8 with width 2, all
	// of it inside the previous tile's band, so its core is empty.
	sliver := CoreBounds(grid, contracts.Tile{Row: 0, Col: 4, X: 8, Y: 0, W: 2, H: 4})
	if !sliver.Empty() {
		t.Errorf("sliver core %v, want empty", sliver)
	}
}

func TestTileAtOutOfRange(t *testing.T) {
	grid, err := Plan(100, 100, 50, 0)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if grid.TileAt(-1, 0) != nil || grid.TileAt(0, 2) != nil || grid.TileAt(2, 0) != nil {
		t.Fatal("TileAt outside the grid must return nil")
	}
}
