package orchestrator

import "github.com/local/docmill/internal/jobs"

// progressFor computes a main job's progress. The scale never moves backwards
// while the job runs: 0 queued, 5 while splitting, 10 once pages are fanned
// out, then up to 80 as pages complete, 100 on completion. Failed pages do
// not advance the bar; only successful conversions count. The direct
// (unsplit) path sits at 50 until the single conversion finishes.
func progressFor(main jobs.Job, completed, failed int) int {
	switch main.Status {
	case jobs.StatusQueued:
		return 0
	case jobs.StatusCompleted:
		return 100
	case jobs.StatusFailed, jobs.StatusCancelled:
		return main.Progress
	}

	if main.TotalPages != nil && *main.TotalPages > 0 {
		total := *main.TotalPages
		if completed > total {
			completed = total
		}
		return 10 + (70*completed)/total
	}
	if main.Children.SplitJobID != "" {
		// Split in flight, page count not known yet.
		return 5
	}
	return 50
}
