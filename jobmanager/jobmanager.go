// Package jobmanager runs periodic housekeeping jobs, such as the status summary, on a gocron
// scheduler.
package jobmanager

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/janvangent1/CHrocodile/logging"
)

// DefaultJobTimeout bounds a single run of a job.
const DefaultJobTimeout = 15 * time.Second

// JobConfig names a job and when it runs. Schedule is either a Go duration such as "1m" or a
// five-field cron expression.
type JobConfig struct {
	Name     string
	Schedule string
	Timeout  time.Duration
}

// Jobmanager owns a scheduler and the jobs added to it.
type Jobmanager struct {
	scheduler gocron.Scheduler
	logger    logging.Logger

	mu           sync.Mutex
	namesToUUIDs map[string]uuid.UUID
}

// New returns a stopped job manager.
func New(logger logging.Logger) (*Jobmanager, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Jobmanager{
		scheduler:    scheduler,
		logger:       logger.Sublogger("job_manager"),
		namesToUUIDs: make(map[string]uuid.UUID),
	}, nil
}

// AddJob schedules fn under jc. A run still going when the next one is due delays it instead of
// overlapping.
func (jm *Jobmanager) AddJob(jc JobConfig, fn func(ctx context.Context) error) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	if _, ok := jm.namesToUUIDs[jc.Name]; ok {
		return errors.Errorf("job %q already exists", jc.Name)
	}

	var jobType gocron.JobDefinition
	if d, err := time.ParseDuration(jc.Schedule); err == nil {
		if d <= 0 {
			return errors.Errorf("job %q: interval must be positive, got %s", jc.Name, d)
		}
		jobType = gocron.DurationJob(d)
	} else {
		jobType = gocron.CronJob(jc.Schedule, false)
	}
	timeout := jc.Timeout
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}

	run := func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			jm.logger.Warnw("job failed", "job", jc.Name, "error", err)
			return
		}
		jm.logger.Debugw("job succeeded", "job", jc.Name)
	}
	j, err := jm.scheduler.NewJob(
		jobType,
		gocron.NewTask(run),
		gocron.WithName(jc.Name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return errors.Wrapf(err, "job %q", jc.Name)
	}
	jm.logger.Debugw("created job", "job", jc.Name, "schedule", jc.Schedule, "id", j.ID())
	jm.namesToUUIDs[jc.Name] = j.ID()
	return nil
}

// Jobs returns the names of the scheduled jobs, sorted.
func (jm *Jobmanager) Jobs() []string {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	names := lo.Keys(jm.namesToUUIDs)
	slices.Sort(names)
	return names
}

// Start starts running jobs.
func (jm *Jobmanager) Start() {
	jm.scheduler.Start()
}

// Shutdown stops the scheduler and waits for running jobs.
func (jm *Jobmanager) Shutdown() error {
	jm.logger.Info("shutting down")
	return jm.scheduler.Shutdown()
}
