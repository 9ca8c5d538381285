package slicer

import (
	"os"
	"runtime"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"slidecut/export_writer"
)

// Config carries every knob of a slicing run. YAML keys match the config
// file format; the command line overrides loaded values field by field.
type Config struct {
	TileSize           int      `yaml:"tileSize"`
	Overlap            int      `yaml:"overlap"`
	MinResolutionLevel int      `yaml:"minResolutionLevel"`
	MaxFailedTileRatio float64  `yaml:"maxFailedTileRatio"`
	WorkerCount        int      `yaml:"workerCount"`
	TileWorkers        int      `yaml:"tileWorkers"`
	InputRoot          string   `yaml:"inputRoot"`
	OutputRoot         string   `yaml:"outputRoot"`
	SlideExtensions    []string `yaml:"slideExtensions"`
	ExportFormat       string   `yaml:"exportFormat"`
	JPEGQuality        int      `yaml:"jpegQuality"`
	MapCellWidth       int      `yaml:"mapCellWidth"`
	MapCellHeight      int      `yaml:"mapCellHeight"`
	ReportFile         string   `yaml:"reportFile"`
	LogFile            string   `yaml:"logFile"`
	LogJSON            bool     `yaml:"logJSON"`
}

func DefaultConfig() Config {
	return Config{
		TileSize:           512,
		Overlap:            0,
		MinResolutionLevel: 0,
		MaxFailedTileRatio: 0.1,
		WorkerCount:        0,
		TileWorkers:        4,
		SlideExtensions:    []string{".mrxs", ".svs", ".ndpi", ".tif", ".tiff"},
		ExportFormat:       export_writer.FormatPNG,
		JPEGQuality:        95,
		MapCellWidth:       64,
		MapCellHeight:      64,
		ReportFile:         "report.pdf",
	}
}

// LoadConfig reads a YAML config file over the defaults, so a file needs
// to name only the keys it changes.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	buf, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// Validate normalizes extensions and the export format and rejects
// settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.TileSize < 1 {
		return errors.Newf("tileSize must be positive, got %d", c.TileSize)
	}
	if c.Overlap < 0 || c.Overlap >= c.TileSize {
		return errors.Newf("overlap %d outside [0, %d)", c.Overlap, c.TileSize)
	}
	if c.MinResolutionLevel < 0 {
		return errors.Newf("minResolutionLevel must not be negative, got %d", c.MinResolutionLevel)
	}
	if c.MaxFailedTileRatio < 0 || c.MaxFailedTileRatio > 1 {
		return errors.Newf("maxFailedTileRatio %g outside [0, 1]", c.MaxFailedTileRatio)
	}
	if c.WorkerCount < 0 {
		return errors.Newf("workerCount must not be negative, got %d", c.WorkerCount)
	}
	if c.TileWorkers < 1 {
		return errors.Newf("tileWorkers must be at least 1, got %d", c.TileWorkers)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return errors.Newf("jpegQuality %d outside [1, 100]", c.JPEGQuality)
	}
	if c.MapCellWidth < 1 || c.MapCellHeight < 1 {
		return errors.Newf("map cell %dx%d is empty", c.MapCellWidth, c.MapCellHeight)
	}

	if len(c.SlideExtensions) == 0 {
		return errors.New("slideExtensions must name at least one extension")
	}
	for i, ext := range c.SlideExtensions {
		e := strings.ToLower(strings.TrimSpace(ext))
		if e == "" {
			return errors.Newf("slideExtensions[%d] is empty", i)
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		c.SlideExtensions[i] = e
	}

	f := strings.ToLower(c.ExportFormat)
	if f == "jpg" {
		f = export_writer.FormatJPEG
	}
	if !export_writer.ValidFormat(f) {
		return errors.Newf("exportFormat %q is not one of png, tiff, jpg", c.ExportFormat)
	}
	c.ExportFormat = f
	return nil
}

// slideWorkers is the slide-level parallelism: workerCount, or all cores
// but one when unset.
func (c *Config) slideWorkers() int {
	if c.WorkerCount > 0 {
		return c.WorkerCount
	}
	n := runtime.NumCPU() - 1
	if n < 1 {
		n = 1
	}
	return n
}
