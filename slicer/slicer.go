package slicer

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"slidecut/contracts"
	"slidecut/export_writer"
	"slidecut/files_manager"
	"slidecut/grid_planner"
	"slidecut/logger"
	"slidecut/map_composer"
	"slidecut/slide_source"
	"slidecut/tile_extractor"
)

type RunSummary = contracts.RunSummary
type SlideResult = contracts.SlideResult

// Run slices every slide under cfg.InputRoot into cfg.OutputRoot. Slides
// are processed by a bounded worker pool; one slide failing (unreadable
// file, failed tiles, full disk) never aborts the others. The returned
// summary covers every slide found, in walk order.
func Run(ctx context.Context, cfg Config) (*RunSummary, error) {
	start := time.Now()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := files_manager.CheckDirs(cfg.InputRoot, cfg.OutputRoot); err != nil {
		return nil, err
	}
	folders, skippedDirs, err := files_manager.CollectSlideFolders(cfg.InputRoot, cfg.SlideExtensions)
	if err != nil {
		return nil, err
	}
	for _, d := range skippedDirs {
		logger.Warnf("skipping unreadable directory %s", d)
	}

	type job struct {
		folder contracts.SlideFolder
		slide  string
	}
	var jobs []job
	for _, folder := range folders {
		for _, slide := range folder.Slides {
			jobs = append(jobs, job{folder: folder, slide: slide})
		}
	}
	logger.Infof("found %d slides in %d folders under %s", len(jobs), len(folders), cfg.InputRoot)

	runLog := &contracts.RunLog{}
	results := make([]SlideResult, len(jobs))
	sem := make(chan struct{}, cfg.slideWorkers())
	var wg sync.WaitGroup
	for i, jb := range jobs {
		wg.Add(1)
		go func(i int, jb job) {
			defer wg.Done()
			skip := func() {
				results[i] = SlideResult{
					SlidePath: jb.slide,
					SlideName: slideBaseName(jb.slide),
					Folder:    jb.folder.RelPath,
					Outcome:   contracts.SlideSkipped,
					Err:       ctx.Err(),
				}
			}
			if ctx.Err() != nil {
				skip()
				return
			}
			select {
			case sem <- struct{}{}: // acquire
			case <-ctx.Done():
				skip()
				return
			}
			defer func() { <-sem }() // release
			results[i] = processSlide(ctx, &cfg, jb.folder, jb.slide, runLog)
		}(i, jb)
	}
	wg.Wait()

	summary := &RunSummary{
		Root:         cfg.InputRoot,
		OutputRoot:   cfg.OutputRoot,
		FoldersFound: len(folders),
		SlidesFound:  len(jobs),
		SkippedDirs:  skippedDirs,
		Results:      results,
		Events:       runLog.Events(),
	}
	for i := range results {
		r := &results[i]
		summary.TilesExtracted += r.TilesExtracted
		summary.TilesFailed += r.TilesFailed
		switch r.Outcome {
		case contracts.SlideProcessed:
			summary.SlidesProcessed++
		case contracts.SlideIncomplete:
			summary.SlidesIncomplete++
		default:
			summary.SlidesSkipped++
		}
	}
	summary.Elapsed = time.Since(start)
	return summary, nil
}

func slideBaseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// chooseLevel targets the full-resolution plane. A container missing its
// base layer exposes a best plane that is already downsampled; such slides
// fall back to the configured level, clamped to the available range.
func chooseLevel(info contracts.SlideInfo, fallback int) (int, bool) {
	if len(info.Levels) == 0 {
		return 0, false
	}
	base := info.Levels[0]
	if base.Downsample <= 1+1e-9 && base.Width >= info.Width {
		return 0, false
	}
	lv := fallback
	if lv < 0 {
		lv = 0
	}
	if lv >= len(info.Levels) {
		lv = len(info.Levels) - 1
	}
	return lv, true
}

func processSlide(ctx context.Context, cfg *Config, folder contracts.SlideFolder, slidePath string, runLog *contracts.RunLog) SlideResult {
	start := time.Now()
	res := SlideResult{
		SlidePath: slidePath,
		SlideName: slideBaseName(slidePath),
		Folder:    folder.RelPath,
		Outcome:   contracts.SlideSkipped,
	}
	fail := func(err error) SlideResult {
		res.Err = err
		res.Elapsed = time.Since(start)
		runLog.Warnf(slidePath, "skipped: %v", err)
		logger.Warnf("skipping %s: %v", slidePath, err)
		return res
	}

	s, err := slide_source.Open(slidePath)
	if err != nil {
		return fail(err)
	}
	defer s.Close()
	info := s.Info()
	res.SlideName = info.Name

	res.MPP = info.MPP
	level, substituted := chooseLevel(info, cfg.MinResolutionLevel)
	res.Level = level
	res.LevelSubstituted = substituted
	if substituted {
		runLog.Warnf(slidePath, "base layer is downsampled, using level %d of %d", level, len(info.Levels))
		logger.Warnf("%s: base layer is downsampled, using level %d", info.Name, level)
	}
	plane := info.Levels[level]

	grid, err := grid_planner.Plan(plane.Width, plane.Height, cfg.TileSize, cfg.Overlap)
	if err != nil {
		return fail(err)
	}
	grid.Level = level

	w, err := export_writer.NewWriter(cfg.OutputRoot, folder.RelPath, info.Name, cfg.ExportFormat, cfg.JPEGQuality)
	if err != nil {
		return fail(err)
	}
	res.OutputDir = w.Dir()
	res.Rows, res.Cols = grid.Rows, grid.Cols
	logger.Infof("%s: %dx%d plane, %dx%d grid at level %d",
		info.Name, plane.Width, plane.Height, grid.Rows, grid.Cols, level)

	comp := map_composer.New(grid, cfg.MapCellWidth, cfg.MapCellHeight)
	var failed []contracts.Tile
	for tr := range tile_extractor.Extract(ctx, s, grid, tile_extractor.Options{Workers: cfg.TileWorkers}) {
		tile := tr.Tile
		if tr.Err != nil {
			grid.TileAt(tile.Row, tile.Col).Status = contracts.TileFailed
			comp.MarkFailed(tile)
			failed = append(failed, tile)
			res.Reports = append(res.Reports, contracts.TileReport{Tile: tile, Err: tr.Err})
			runLog.Warnf(slidePath, "tile (%d,%d): %v", tile.Row, tile.Col, tr.Err)
			logger.Debugf("%s: tile (%d,%d) failed: %v", info.Name, tile.Row, tile.Col, tr.Err)
			continue
		}
		if _, err := w.WriteTile(tile.Row, tile.Col, tr.Img); err != nil {
			// The pixels were extracted, so the map can still show them;
			// the manifest records the tile as failed because the tile
			// file consumers rely on is not there.
			tile.Status = contracts.TileFailed
			grid.TileAt(tile.Row, tile.Col).Status = contracts.TileFailed
			comp.AddTile(tile, tr.Img)
			failed = append(failed, tile)
			res.WriteFailures++
			res.Reports = append(res.Reports, contracts.TileReport{Tile: tile, Coverage: tr.Coverage, Err: err})
			runLog.Warnf(slidePath, "tile (%d,%d): %v", tile.Row, tile.Col, err)
			logger.Debugf("%s: tile (%d,%d) write failed: %v", info.Name, tile.Row, tile.Col, err)
			continue
		}
		grid.TileAt(tile.Row, tile.Col).Status = contracts.TileExtracted
		comp.AddTile(tile, tr.Img)
		res.TilesExtracted++
		res.Reports = append(res.Reports, contracts.TileReport{Tile: tile, Coverage: tr.Coverage})
	}
	// The extractor's channel is closed: every tile has been attempted (or
	// the run was canceled), and no goroutine still touches the composer.
	res.TilesFailed = len(failed)
	sort.Slice(res.Reports, func(i, j int) bool {
		a, b := res.Reports[i].Tile, res.Reports[j].Tile
		if a.Row != b.Row {
			return a.Row < b.Row
		}
		return a.Col < b.Col
	})

	var artifactErr error
	record := func(_ string, err error) {
		if err != nil {
			res.WriteFailures++
			runLog.Warnf(slidePath, "%v", err)
			logger.Warnf("%s: %v", info.Name, err)
			if artifactErr == nil {
				artifactErr = err
			}
		}
	}
	record(w.WriteManifest(failed))
	record(w.WriteMap(comp.Image()))
	record(w.WriteGridSidecar(grid, plane.Downsample, res.Reports))
	res.MapFile = w.MapFile()
	res.Err = artifactErr

	attempted := res.TilesExtracted + res.TilesFailed
	ratio := float64(res.TilesFailed) / float64(grid.TileCount())
	switch {
	case artifactErr != nil, attempted < grid.TileCount(), ratio > cfg.MaxFailedTileRatio:
		res.Outcome = contracts.SlideIncomplete
	default:
		res.Outcome = contracts.SlideProcessed
	}
	res.Elapsed = time.Since(start)

	logger.Infof("%s: %d/%d tiles extracted, %d failed, %s in %s",
		info.Name, res.TilesExtracted, grid.TileCount(), res.TilesFailed,
		res.Outcome, res.Elapsed.Round(time.Millisecond))
	return res
}
