package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/phpdave11/gofpdf"
	"gonum.org/v1/gonum/stat"

	"slidecut/contracts"
	"slidecut/logger"
	"slidecut/utils"
)

// Write renders the run's QA report: a summary page followed by one page
// per slide with its counts, coverage statistics and the overview map.
func Write(path string, summary *contracts.RunSummary) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("slide tiling report", false)

	writeSummaryPage(pdf, summary)
	for i := range summary.Results {
		writeSlidePage(pdf, &summary.Results[i])
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return contracts.NewWrite(err, path)
	}
	if err := pdf.OutputFileAndClose(path); err != nil {
		return contracts.NewWrite(err, path)
	}
	return nil
}

func writeSummaryPage(pdf *gofpdf.Fpdf, s *contracts.RunSummary) {
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, "Slide tiling report", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 6, "Input:  "+s.Root, "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, "Output: "+s.OutputRoot, "", 1, "L", false, 0, "")
	pdf.Ln(4)

	rows := [][2]string{
		{"Folders", fmt.Sprintf("%d", s.FoldersFound)},
		{"Slides", fmt.Sprintf("%d", s.SlidesFound)},
		{"Processed", fmt.Sprintf("%d", s.SlidesProcessed)},
		{"Incomplete", fmt.Sprintf("%d", s.SlidesIncomplete)},
		{"Skipped", fmt.Sprintf("%d", s.SlidesSkipped)},
		{"Tiles extracted", fmt.Sprintf("%d", s.TilesExtracted)},
		{"Tiles failed", fmt.Sprintf("%d", s.TilesFailed)},
		{"Elapsed", s.Elapsed.Round(time.Millisecond).String()},
	}
	pdf.SetFont("Helvetica", "", 11)
	for _, r := range rows {
		pdf.CellFormat(60, 7, r[0], "1", 0, "L", false, 0, "")
		pdf.CellFormat(60, 7, r[1], "1", 1, "R", false, 0, "")
	}

	if size, err := utils.DirSizeMB(s.OutputRoot); err == nil {
		pdf.Ln(2)
		pdf.CellFormat(0, 6, fmt.Sprintf("Output size: %.1f MB", size), "", 1, "L", false, 0, "")
	}

	if len(s.Events) == 0 {
		return
	}
	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(0, 7, fmt.Sprintf("Run log (%d events)", len(s.Events)), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 8)
	shown := len(s.Events)
	if shown > 40 {
		shown = 40
	}
	for _, ev := range s.Events[:shown] {
		pdf.CellFormat(0, 4.5, filepath.Base(ev.Slide)+"  "+ev.Message, "", 1, "L", false, 0, "")
	}
	if rest := len(s.Events) - shown; rest > 0 {
		pdf.CellFormat(0, 4.5, fmt.Sprintf("... and %d more", rest), "", 1, "L", false, 0, "")
	}
}

func writeSlidePage(pdf *gofpdf.Fpdf, r *contracts.SlideResult) {
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 13)
	pdf.CellFormat(0, 8, r.SlideName, "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, 5, r.SlidePath, "", 1, "L", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "", 10)
	line := func(s string) { pdf.CellFormat(0, 5.5, s, "", 1, "L", false, 0, "") }
	line("Outcome: " + r.Outcome.String())
	if r.Err != nil {
		line(fmt.Sprintf("Error: %v", r.Err))
	}
	if r.Outcome == contracts.SlideSkipped {
		return
	}

	levelNote := ""
	if r.LevelSubstituted {
		levelNote = " (substituted, base layer downsampled)"
	}
	line(fmt.Sprintf("Level: %d%s", r.Level, levelNote))
	line(fmt.Sprintf("Grid: %d rows x %d cols", r.Rows, r.Cols))
	line(fmt.Sprintf("Tiles: %d extracted, %d failed, %d write failures",
		r.TilesExtracted, r.TilesFailed, r.WriteFailures))

	if mean, median, tissue, n := coverageStats(r.Reports); n > 0 {
		line(fmt.Sprintf("Coverage: mean %.2f, median %.2f opaque, %d/%d tiles with tissue",
			mean, median, tissue, n))
	}
	if r.MPP > 0 {
		line(fmt.Sprintf("Pixel size: %.3f um/pixel", r.MPP))
	}
	if res, err := utils.TIFFResolution(r.SlidePath); err == nil {
		line(fmt.Sprintf("Resolution: %.0f x %.0f dpi", res.XDPI, res.YDPI))
	}
	if size, err := utils.DirSizeMB(r.OutputDir); err == nil {
		line(fmt.Sprintf("Output size: %.1f MB", size))
	}

	embedMap(pdf, r)
}

// embedMap places the overview map under the facts. gofpdf decodes PNG
// and JPEG natively; TIFF maps are referenced by path instead.
func embedMap(pdf *gofpdf.Fpdf, r *contracts.SlideResult) {
	if r.MapFile == "" {
		return
	}
	var imgType string
	switch strings.ToLower(filepath.Ext(r.MapFile)) {
	case ".png":
		imgType = "PNG"
	case ".jpg", ".jpeg":
		imgType = "JPEG"
	default:
		pdf.SetFont("Helvetica", "I", 9)
		pdf.CellFormat(0, 5, "Map: "+r.MapFile, "", 1, "L", false, 0, "")
		return
	}

	f, err := os.Open(r.MapFile)
	if err != nil {
		logger.Debugf("report: map %s: %v", r.MapFile, err)
		return
	}
	defer f.Close()

	opts := gofpdf.ImageOptions{ImageType: imgType, ReadDpi: false}
	pdf.RegisterImageOptionsReader(r.MapFile, opts, f)
	pdf.Ln(4)
	// height 0 keeps the map's aspect ratio within the printable width
	pdf.ImageOptions(r.MapFile, 15, pdf.GetY(), 180, 0, true, opts, 0, "")
}

// coverageStats aggregates the opaque-ratio distribution over extracted
// tiles. n is the number of tiles that carried pixels.
func coverageStats(reports []contracts.TileReport) (mean, median float64, tissue, n int) {
	var vals []float64
	for _, rep := range reports {
		if rep.Err != nil {
			continue
		}
		vals = append(vals, rep.Coverage.OpaqueRatio)
		if rep.Coverage.Tissue {
			tissue++
		}
	}
	if len(vals) == 0 {
		return 0, 0, 0, 0
	}
	sort.Float64s(vals)
	return stat.Mean(vals, nil), stat.Quantile(0.5, stat.Empirical, vals, nil), tissue, len(vals)
}
