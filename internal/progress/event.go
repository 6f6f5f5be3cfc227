package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/realtime-news-ingest/internal/news"
)

// Stage denotes the run milestone an Event reports.
type Stage string

// Supported stages.
const (
	StageRunStart  Stage = "RUN_START"
	StagePageDone  Stage = "PAGE_DONE"
	StagePageError Stage = "PAGE_ERROR"
	StageRunDone   Stage = "RUN_DONE"
)

// Event captures one step of an ingestion run.
type Event struct {
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Page is the 1-based page number for page events.
	Page int
	// Articles is the number of records on the page.
	Articles int
	Inserted int
	Updated  int
	Failed   int
	// ErrorKind classifies PAGE_ERROR events.
	ErrorKind news.ErrorKind
	// Dur is the page latency or, for RUN_DONE, the run wall time.
	Dur time.Duration
	// Note carries low-volume context such as error text. It must not contain
	// credentials.
	Note string
	// Summary is set on RUN_DONE.
	Summary *news.Summary
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart:
	case StagePageDone, StagePageError:
		if e.Page <= 0 {
			return fmt.Errorf("%s requires a page number", e.Stage)
		}
	case StageRunDone:
		if e.Summary == nil {
			return errors.New("run done requires a summary")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Articles < 0 || e.Inserted < 0 || e.Updated < 0 || e.Failed < 0 {
		return errors.New("counters must be >= 0")
	}
	return nil
}

// RunDone builds the terminal event for summary.
func RunDone(summary news.Summary) Event {
	s := summary
	return Event{
		RunID:    summary.RunID,
		TS:       summary.CompletedAt,
		Stage:    StageRunDone,
		Inserted: summary.Inserted,
		Updated:  summary.Updated,
		Dur:      summary.Duration(),
		Note:     summary.LastError,
		Summary:  &s,
	}
}
