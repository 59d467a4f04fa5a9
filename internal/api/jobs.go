package api

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/awaistahir/moonhunter/internal/app"
	"github.com/awaistahir/moonhunter/internal/engine"
)

type JobState string

const (
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// finished jobs are kept this long for polling
const jobRetention = time.Hour

// Job is a background scan. It is the scan's progress sink.
type Job struct {
	mu sync.Mutex

	id        string
	scene     string
	state     JobState
	progress  engine.Progress
	result    *engine.ScanResult
	err       string
	warning   string
	started   time.Time
	finished  time.Time
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

// JobView is the JSON form of a job
type JobView struct {
	ID         string             `json:"id"`
	Scene      string             `json:"scene"`
	State      JobState           `json:"state"`
	Percent    int                `json:"percent"`
	Day        int                `json:"day"`
	TotalDays  int                `json:"total_days"`
	Result     *engine.ScanResult `json:"result,omitempty"`
	Error      string             `json:"error,omitempty"`
	Warning    string             `json:"warning,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
}

func (j *Job) ReportProgress(p engine.Progress) {
	j.mu.Lock()
	j.progress = p
	j.mu.Unlock()
}

func (j *Job) CancelRequested() bool {
	return j.cancelled.Load()
}

// Cancel asks the scan to stop at its next checkpoint
func (j *Job) Cancel() {
	j.cancelled.Store(true)
	if j.cancel != nil {
		j.cancel()
	}
}

func (j *Job) View() JobView {
	j.mu.Lock()
	defer j.mu.Unlock()
	v := JobView{
		ID:        j.id,
		Scene:     j.scene,
		State:     j.state,
		Percent:   j.progress.Percent,
		Day:       j.progress.Day,
		TotalDays: j.progress.TotalDays,
		Result:    j.result,
		Error:     j.err,
		Warning:   j.warning,
		StartedAt: j.started,
	}
	if !j.finished.IsZero() {
		f := j.finished
		v.FinishedAt = &f
	}
	return v
}

func (j *Job) finish(result engine.ScanResult, err error, warning string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.finished = time.Now()
	j.warning = warning
	switch {
	case err != nil:
		j.state = JobFailed
		j.err = err.Error()
	case result.Cancelled:
		j.state = JobCancelled
		j.result = &result
	default:
		j.state = JobCompleted
		j.progress.Percent = 100
		j.result = &result
	}
}

func (j *Job) done(now time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state != JobRunning && now.Sub(j.finished) > jobRetention
}

// Jobs tracks background scans by id
type Jobs struct {
	mu   sync.Mutex
	jobs map[string]*Job
	wg   sync.WaitGroup
}

func NewJobs() *Jobs {
	return &Jobs{jobs: make(map[string]*Job)}
}

// Start runs scan in the background. onDone runs after the scan and returns
// a warning to attach to the job, typically a persistence failure.
func (js *Jobs) Start(ctx context.Context, scene string, scan app.ScanFunc, onDone func(engine.ScanResult, error) string) *Job {
	ctx, cancel := context.WithCancel(ctx)
	job := &Job{
		id:      uuid.NewString(),
		scene:   scene,
		state:   JobRunning,
		started: time.Now(),
		cancel:  cancel,
	}

	js.mu.Lock()
	js.prune(job.started)
	js.jobs[job.id] = job
	js.mu.Unlock()

	js.wg.Add(1)
	go func() {
		defer js.wg.Done()
		defer cancel()
		result, err := scan(ctx, job)
		var warning string
		if onDone != nil {
			warning = onDone(result, err)
		}
		job.finish(result, err, warning)
	}()
	return job
}

func (js *Jobs) Get(id string) (*Job, bool) {
	js.mu.Lock()
	defer js.mu.Unlock()
	j, ok := js.jobs[id]
	return j, ok
}

// CancelAll stops every running scan
func (js *Jobs) CancelAll() {
	js.mu.Lock()
	defer js.mu.Unlock()
	for _, j := range js.jobs {
		j.Cancel()
	}
}

// Wait blocks until every background scan has returned
func (js *Jobs) Wait() {
	js.wg.Wait()
}

func (js *Jobs) prune(now time.Time) {
	for id, j := range js.jobs {
		if j.done(now) {
			delete(js.jobs, id)
		}
	}
}
