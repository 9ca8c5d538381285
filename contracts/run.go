package contracts

import (
	"fmt"
	"sync"
	"time"
)

// SlideFolder groups the slide files discovered in one directory.
type SlideFolder struct {
	Path    string
	RelPath string
	Slides  []string
}

type SlideOutcome int

const (
	SlideProcessed SlideOutcome = iota
	SlideIncomplete
	SlideSkipped
)

func (o SlideOutcome) String() string {
	switch o {
	case SlideIncomplete:
		return "incomplete"
	case SlideSkipped:
		return "skipped"
	default:
		return "processed"
	}
}

type SlideResult struct {
	SlidePath        string
	SlideName        string
	Folder           string
	OutputDir        string
	MapFile          string
	Outcome          SlideOutcome
	Level            int
	LevelSubstituted bool
	MPP              float64
	Rows             int
	Cols             int
	TilesExtracted   int
	TilesFailed      int
	WriteFailures    int
	Reports          []TileReport
	Err              error
	Elapsed          time.Duration
}

type RunSummary struct {
	Root             string
	OutputRoot       string
	FoldersFound     int
	SlidesFound      int
	SlidesProcessed  int
	SlidesIncomplete int
	SlidesSkipped    int
	TilesExtracted   int
	TilesFailed      int
	SkippedDirs      []string
	Results          []SlideResult
	Events           []RunEvent
	Elapsed          time.Duration
}

type RunEvent struct {
	Time    time.Time
	Slide   string
	Message string
}

// RunLog is the append-only event sink shared by slide workers. Workers
// record downgraded per-slide and per-tile failures here; the coordinator
// folds the events into the run summary once all workers are done.
type RunLog struct {
	mu     sync.Mutex
	events []RunEvent
}

func (l *RunLog) Warnf(slide string, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, RunEvent{
		Time:    time.Now(),
		Slide:   slide,
		Message: fmt.Sprintf(format, args...),
	})
}

func (l *RunLog) Events() []RunEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]RunEvent, len(l.events))
	copy(out, l.events)
	return out
}

func (l *RunLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}
