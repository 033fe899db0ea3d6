package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/local/docmill/internal/jobs"
)

func TestProgressFor(t *testing.T) {
	total := 4
	cases := []struct {
		name      string
		job       jobs.Job
		completed int
		failed    int
		want      int
	}{
		{"queued", jobs.Job{Status: jobs.StatusQueued}, 0, 0, 0},
		{"direct processing", jobs.Job{Status: jobs.StatusProcessing}, 0, 0, 50},
		{"splitting", jobs.Job{Status: jobs.StatusProcessing, Children: jobs.ChildJobs{SplitJobID: "s"}}, 0, 0, 5},
		{"fanned out, none done", jobs.Job{Status: jobs.StatusProcessing, TotalPages: &total}, 0, 0, 10},
		{"two pages completed", jobs.Job{Status: jobs.StatusProcessing, TotalPages: &total}, 2, 0, 45},
		{"failures do not advance the bar", jobs.Job{Status: jobs.StatusProcessing, TotalPages: &total}, 1, 1, 27},
		{"all but one failed", jobs.Job{Status: jobs.StatusProcessing, TotalPages: &total}, 3, 1, 62},
		{"every page completed", jobs.Job{Status: jobs.StatusProcessing, TotalPages: &total}, 4, 0, 80},
		{"completed", jobs.Job{Status: jobs.StatusCompleted, TotalPages: &total}, 4, 0, 100},
		{"failed keeps last value", jobs.Job{Status: jobs.StatusFailed, Progress: 37}, 0, 0, 37},
		{"counters never overshoot", jobs.Job{Status: jobs.StatusProcessing, TotalPages: &total}, 9, 0, 80},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, progressFor(tc.job, tc.completed, tc.failed))
		})
	}
}

// Progress must never move backwards while pages land one by one.
func TestProgressMonotonicUnderFanIn(t *testing.T) {
	total := 7
	main := jobs.Job{Status: jobs.StatusProcessing, TotalPages: &total}
	prev := 10
	for done := 0; done <= total; done++ {
		got := progressFor(main, done, 0)
		assert.GreaterOrEqual(t, got, prev, "progress regressed at %d pages", done)
		prev = got
	}
	assert.Equal(t, 80, prev)
}
