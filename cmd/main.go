package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"slidecut/contracts"
	"slidecut/logger"
	"slidecut/report"
	"slidecut/slicer"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	inputRoot := flag.String("input", "", "Input directory containing slide folders")
	outputRoot := flag.String("output", "", "Output directory for tiles and maps")
	tileSize := flag.Int("tile", 0, "Tile size in pixels")
	overlap := flag.Int("overlap", 0, "Tile overlap in pixels")
	workers := flag.Int("workers", 0, "Concurrent slide workers (0 = CPU count - 1)")
	format := flag.String("format", "", "Tile export format: png, tiff or jpg")
	reportFile := flag.String("report", "", "Report file relative to the output root (empty disables)")
	verbose := flag.Bool("v", false, "Verbose (debug) logging")
	logJSON := flag.Bool("log-json", false, "JSON log output")
	flag.Parse()

	cfg := slicer.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = slicer.LoadConfig(*configPath)
		if err != nil {
			fmt.Printf("[ERROR]: %v\n", err)
			os.Exit(1)
		}
	}

	// flags explicitly given on the command line win over file values
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["input"] {
		cfg.InputRoot = *inputRoot
	}
	if set["output"] {
		cfg.OutputRoot = *outputRoot
	}
	if set["tile"] {
		cfg.TileSize = *tileSize
	}
	if set["overlap"] {
		cfg.Overlap = *overlap
	}
	if set["workers"] {
		cfg.WorkerCount = *workers
	}
	if set["format"] {
		cfg.ExportFormat = *format
	}
	if set["report"] {
		cfg.ReportFile = *reportFile
	}
	if set["log-json"] {
		cfg.LogJSON = *logJSON
	}

	if err := logger.Initialize(*verbose, cfg.LogJSON, cfg.LogFile); err != nil {
		fmt.Printf("[ERROR]: %v\n", err)
		os.Exit(1)
	}
	defer logger.Cleanup()

	fmt.Println("inputRoot:", cfg.InputRoot)
	fmt.Println("outputRoot:", cfg.OutputRoot)
	fmt.Println("tileSize:", cfg.TileSize)
	fmt.Println("overlap:", cfg.Overlap)
	fmt.Println("exportFormat:", cfg.ExportFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startTime := time.Now()

	summary, err := slicer.Run(ctx, cfg)
	if err != nil {
		logger.Cleanup()
		fmt.Printf("[ERROR]: %v\n", err)
		os.Exit(1)
	}

	if cfg.ReportFile != "" {
		reportPath := filepath.Join(cfg.OutputRoot, cfg.ReportFile)
		if err := report.Write(reportPath, summary); err != nil {
			logger.Errorf("report not written: %v", err)
		} else {
			fmt.Println("report:", reportPath)
		}
	}

	printSummary(summary)
	fmt.Printf("Total time taken: %s\n", time.Since(startTime).Round(time.Millisecond))
}

func printSummary(s *contracts.RunSummary) {
	fmt.Println("folders:", s.FoldersFound)
	fmt.Println("slides:", s.SlidesFound)
	fmt.Println("processed:", s.SlidesProcessed)
	fmt.Println("incomplete:", s.SlidesIncomplete)
	fmt.Println("skipped:", s.SlidesSkipped)
	fmt.Println("tiles extracted:", s.TilesExtracted)
	fmt.Println("tiles failed:", s.TilesFailed)
}
