package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/segmentio/ksuid"
	"golang.org/x/sync/semaphore"
)

// EventKind marks batch progress notifications.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventDone      EventKind = "done"
)

// Event is one progress notification from a batch run.
type Event struct {
	Kind          EventKind `json:"kind"`
	RunID         string    `json:"run_id"`
	ChapterNumber int       `json:"chapter_number,omitempty"`
	Error         string    `json:"error,omitempty"`
	Result        *Result   `json:"result,omitempty"`
}

// RunStatus summarizes a finished or in-flight batch run.
type RunStatus struct {
	RunID      string    `json:"run_id"`
	Adaptation string    `json:"adaptation_id"`
	Total      int       `json:"total"`
	Completed  int       `json:"completed"`
	Failed     int       `json:"failed"`
	Fallbacks  int       `json:"fallbacks"`
	StartedAt  time.Time `json:"started_at"`
	Results    []Result  `json:"results,omitempty"`
}

// GenerateAll runs every chapter of the adaptation through the pipeline with
// bounded concurrency. Chapters fail independently; one chapter's error never
// aborts the others. Cancelling ctx stops new work from being issued while
// in-flight calls run to completion or their own timeout. Progress events are
// delivered to onEvent (if non-nil) from multiple goroutines.
func (p *Pipeline) GenerateAll(ctx context.Context, adaptationID string, onEvent func(Event)) (RunStatus, error) {
	chapters, err := p.Store.ListChapters(ctx, adaptationID)
	if err != nil {
		return RunStatus{}, err
	}

	status := RunStatus{
		RunID:      ksuid.New().String(),
		Adaptation: adaptationID,
		Total:      len(chapters),
		StartedAt:  time.Now(),
	}
	emit := func(e Event) {
		e.RunID = status.RunID
		if onEvent != nil {
			onEvent(e)
		}
	}
	log.Info("starting batch prompt generation", "run", status.RunID, "adaptation", adaptationID, "chapters", len(chapters))

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = semaphore.NewWeighted(int64(p.Config.MaxConcurrent))
	)
	for _, chapter := range chapters {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context cancelled: stop issuing new chapters.
			break
		}
		wg.Add(1)
		go func(number int) {
			defer wg.Done()
			defer sem.Release(1)

			emit(Event{Kind: EventStarted, ChapterNumber: number})
			result, err := p.GeneratePrompt(ctx, adaptationID, number)

			mu.Lock()
			if err != nil {
				status.Failed++
				mu.Unlock()
				log.Error("chapter prompt generation failed", "run", status.RunID, "chapter", number, "error", err)
				emit(Event{Kind: EventFailed, ChapterNumber: number, Error: err.Error()})
				return
			}
			status.Completed++
			if result.Fallback {
				status.Fallbacks++
			}
			status.Results = append(status.Results, result)
			mu.Unlock()
			emit(Event{Kind: EventCompleted, ChapterNumber: number, Result: &result})
		}(chapter.ChapterNumber)
	}
	wg.Wait()

	sort.Slice(status.Results, func(i, j int) bool {
		return status.Results[i].ChapterNumber < status.Results[j].ChapterNumber
	})
	emit(Event{Kind: EventDone})
	log.Info("batch prompt generation finished", "run", status.RunID,
		"completed", status.Completed, "failed", status.Failed, "fallbacks", status.Fallbacks)
	return status, ctx.Err()
}
