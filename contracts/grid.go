package contracts

type TileStatus int

const (
	TilePending TileStatus = iota
	TileExtracted
	TileFailed
)

func (s TileStatus) String() string {
	switch s {
	case TileExtracted:
		return "extracted"
	case TileFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Tile is one cell of a grid. Indices and bounds are a pure function of
// the slide geometry and the (tileSize, overlap) pair, so they are stable
// across runs.
type Tile struct {
	Row    int
	Col    int
	X      int
	Y      int
	W      int
	H      int
	Status TileStatus
}

type GridSpec struct {
	Width    int
	Height   int
	TileSize int
	Overlap  int
	Rows     int
	Cols     int
	Level    int
	Tiles    []Tile
}

func (g *GridSpec) TileCount() int {
	return len(g.Tiles)
}

func (g *GridSpec) TileAt(row, col int) *Tile {
	if row < 0 || row >= g.Rows || col < 0 || col >= g.Cols {
		return nil
	}
	return &g.Tiles[row*g.Cols+col]
}

// Coverage is the stain heuristic measured on one extracted tile: how much
// of the cell is opaque and whether red (eosin) outweighs blue background.
type Coverage struct {
	OpaqueRatio  float64
	BlueRedRatio float64
	Tissue       bool
}

// TileReport is the per-tile outcome carried up to the run summary and the
// grid sidecar. Err is set only for failed tiles.
type TileReport struct {
	Tile     Tile
	Coverage Coverage
	Err      error
}
