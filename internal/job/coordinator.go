// Package job contains the conversion pipeline's core: per-user admission
// control and the coordinator that drives a job through fetch, convert,
// deliver, and cleanup. Each admitted job runs on its own goroutine; the
// admission registry is the only shared mutable state.
package job

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/resobot/api/internal/model"
	"github.com/resobot/api/internal/tempstore"
	"github.com/resobot/api/internal/transcode"
)

var (
	// ErrAlreadyProcessing rejects a second job from a user whose previous
	// job has not terminated. No state is created for the rejected job.
	ErrAlreadyProcessing = errors.New("a video is already being processed for this user")

	// ErrQuotaExceeded rejects a job that would exceed the user's daily
	// conversion allowance.
	ErrQuotaExceeded = errors.New("daily conversion limit reached")
)

// Fetcher materializes the remote source as a local artifact.
type Fetcher interface {
	Fetch(ctx context.Context, src model.SourceDescriptor) (*tempstore.Artifact, error)
}

// Converter produces one output artifact per (input, profile) pair.
type Converter interface {
	Convert(ctx context.Context, inputPath string, profile model.ResolutionProfile, limit time.Duration) (*tempstore.Artifact, error)
}

// SourceProber inspects the fetched source. Probe failures only cost the
// enriched progress detail, never the job.
type SourceProber interface {
	Probe(ctx context.Context, path string) (transcode.ProbeResult, error)
}

// Delivery hands a finished artifact to the outbound transport. The
// artifact is released immediately after this call returns, whatever the
// outcome, so implementations must not retain the path.
type Delivery interface {
	SendResult(ctx context.Context, chatID int64, path string, label model.ResolutionLabel) error
}

// Deps wires a coordinator. Events, Quota and Prober are optional.
type Deps struct {
	Registry     *Registry
	Quota        *Quota
	Fetcher      Fetcher
	Converter    Converter
	Prober       SourceProber
	Store        *tempstore.Store
	Delivery     Delivery
	Events       EventSink
	ConvertLimit time.Duration
	// Retention controls how long a terminated job stays queryable.
	Retention time.Duration
}

// Coordinator admits and runs conversion jobs.
type Coordinator struct {
	registry     *Registry
	quota        *Quota
	fetcher      Fetcher
	converter    Converter
	prober       SourceProber
	store        *tempstore.Store
	delivery     Delivery
	events       EventSink
	convertLimit time.Duration
	retention    time.Duration

	mu   sync.RWMutex
	jobs map[string]*model.Job
	wg   sync.WaitGroup
}

// New builds a coordinator from deps.
func New(deps Deps) *Coordinator {
	events := deps.Events
	if events == nil {
		events = NopSink{}
	}
	retention := deps.Retention
	if retention == 0 {
		retention = 10 * time.Minute
	}
	return &Coordinator{
		registry:     deps.Registry,
		quota:        deps.Quota,
		fetcher:      deps.Fetcher,
		converter:    deps.Converter,
		prober:       deps.Prober,
		store:        deps.Store,
		delivery:     deps.Delivery,
		events:       events,
		convertLimit: deps.ConvertLimit,
		retention:    retention,
	}
}

// Submit admits and starts a job for the user. The second job from a user
// whose first is still in flight is rejected synchronously with
// ErrAlreadyProcessing, never queued. Unknown resolution labels are a
// caller error and are rejected before admission.
func (c *Coordinator) Submit(userID, chatID int64, src model.SourceDescriptor, labels []model.ResolutionLabel) (model.Job, error) {
	profiles, err := model.LookupProfiles(labels)
	if err != nil {
		return model.Job{}, err
	}
	if len(profiles) == 0 {
		return model.Job{}, errors.New("no resolutions requested")
	}

	if !c.registry.TryAdmit(userID) {
		return model.Job{}, ErrAlreadyProcessing
	}
	if _, ok, err := c.quota.Allow(context.Background(), userID, len(profiles)); err != nil {
		// Quota storage being down must not take the pipeline with it.
		log.Printf("quota check for user %d failed, allowing: %v", userID, err)
	} else if !ok {
		c.registry.Release(userID)
		return model.Job{}, ErrQuotaExceeded
	}

	jb := &model.Job{
		ID:          uuid.New().String(),
		UserID:      userID,
		ChatID:      chatID,
		Source:      src,
		Resolutions: append([]model.ResolutionLabel(nil), labels...),
		Phase:       model.JobPhaseAdmitted,
		CreatedAt:   time.Now(),
	}
	c.mu.Lock()
	if c.jobs == nil {
		c.jobs = make(map[string]*model.Job)
	}
	c.jobs[jb.ID] = jb
	c.mu.Unlock()

	// Snapshot before the run goroutine starts mutating the shared struct.
	snapshot := *jb
	c.wg.Add(1)
	go c.run(context.Background(), jb, profiles)
	return snapshot, nil
}

// Job returns a snapshot of a known job.
func (c *Coordinator) Job(id string) (model.Job, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	jb, ok := c.jobs[id]
	if !ok {
		return model.Job{}, false
	}
	return *jb, true
}

// Active reports how many users have a job in flight.
func (c *Coordinator) Active() int {
	return c.registry.Active()
}

// Wait blocks until every started job has terminated. Used by shutdown
// and tests.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// run drives one job through the pipeline. Finalization is deferred so the
// admission slot and every still-owned artifact are freed on every exit
// path, including panics from collaborators.
func (c *Coordinator) run(ctx context.Context, jb *model.Job, profiles []model.ResolutionProfile) {
	defer c.wg.Done()
	total := len(profiles)
	var owned []*tempstore.Artifact

	defer func() {
		if r := recover(); r != nil {
			log.Printf("job %s: recovered: %v", jb.ID, r)
			c.update(jb, func(j *model.Job) {
				if j.Error == "" {
					j.Error = fmt.Sprintf("internal fault: %v", r)
				}
			})
		}
		c.finalize(jb, owned, total)
	}()

	c.update(jb, func(j *model.Job) { j.Phase = model.JobPhaseFetching })
	c.publish(jb, model.ProgressEvent{Phase: model.JobPhaseFetching, Total: total, Detail: "downloading source"})

	source, err := c.fetcher.Fetch(ctx, jb.Source)
	if err != nil {
		// Nothing was converted; the whole job aborts.
		log.Printf("job %s: fetch: %v", jb.ID, err)
		c.update(jb, func(j *model.Job) { j.Error = err.Error() })
		c.publish(jb, model.ProgressEvent{Phase: model.JobPhaseFetching, Total: total, Err: err.Error()})
		return
	}
	owned = append(owned, source)

	if c.prober != nil {
		if info, err := c.prober.Probe(ctx, source.Path); err != nil {
			log.Printf("job %s: probe: %v", jb.ID, err)
		} else {
			log.Printf("job %s: source %dx%d, %.1fs", jb.ID, info.Width, info.Height, info.Duration)
			c.update(jb, func(j *model.Job) {
				j.SourceInfo = &model.MediaInfo{
					Duration: info.Duration,
					Width:    info.Width,
					Height:   info.Height,
				}
			})
			c.publish(jb, model.ProgressEvent{
				Phase: model.JobPhaseFetching, Total: total,
				Detail: fmt.Sprintf("source %dx%d, %.1fs", info.Width, info.Height, info.Duration),
			})
		}
	}

	for i, profile := range profiles {
		c.update(jb, func(j *model.Job) {
			j.Phase = model.JobPhaseConverting
			j.Current = i
		})
		c.publish(jb, model.ProgressEvent{
			Phase: model.JobPhaseConverting, Label: profile.Label,
			Index: i + 1, Total: total,
		})

		out, err := c.converter.Convert(ctx, source.Path, profile, c.convertLimit)
		if err != nil {
			// One bad resolution never aborts the remaining ones.
			log.Printf("job %s: convert %s: %v", jb.ID, profile.Label, err)
			c.publish(jb, model.ProgressEvent{
				Phase: model.JobPhaseConverting, Label: profile.Label,
				Index: i + 1, Total: total, Err: err.Error(),
			})
			continue
		}
		owned = append(owned, out)

		c.update(jb, func(j *model.Job) {
			j.Phase = model.JobPhaseDelivering
			j.SuccessCount++ // the conversion succeeded whatever delivery does
		})
		c.publish(jb, model.ProgressEvent{
			Phase: model.JobPhaseDelivering, Label: profile.Label,
			Index: i + 1, Total: total,
		})

		if err := c.delivery.SendResult(ctx, jb.ChatID, out.Path, profile.Label); err != nil {
			log.Printf("job %s: deliver %s: %v", jb.ID, profile.Label, err)
			c.publish(jb, model.ProgressEvent{
				Phase: model.JobPhaseDelivering, Label: profile.Label,
				Index: i + 1, Total: total, Err: err.Error(),
			})
		}

		// The artifact must never outlive the delivery call.
		c.store.Release(out)
		owned = owned[:len(owned)-1]
	}
}

// finalize releases every artifact the job still owns, frees the admission
// slot, charges quota, and emits the final summary. It runs on every exit
// path.
func (c *Coordinator) finalize(jb *model.Job, owned []*tempstore.Artifact, total int) {
	c.update(jb, func(j *model.Job) { j.Phase = model.JobPhaseFinalizing })
	for _, a := range owned {
		c.store.Release(a)
	}
	c.registry.Release(jb.UserID)

	snapshot, _ := c.Job(jb.ID)
	if err := c.quota.Charge(context.Background(), jb.UserID, snapshot.SuccessCount); err != nil {
		log.Printf("job %s: charge quota: %v", jb.ID, err)
	}

	now := time.Now()
	c.update(jb, func(j *model.Job) {
		j.Phase = model.JobPhaseTerminated
		j.CompletedAt = &now
	})
	c.publish(jb, model.ProgressEvent{
		Phase: model.JobPhaseTerminated, Total: total,
		Final: true, SuccessCount: snapshot.SuccessCount, Err: snapshot.Error,
	})
	log.Printf("job %s: terminated, %d/%d resolutions succeeded", jb.ID, snapshot.SuccessCount, total)

	time.AfterFunc(c.retention, func() {
		c.mu.Lock()
		delete(c.jobs, jb.ID)
		c.mu.Unlock()
	})
}

func (c *Coordinator) update(jb *model.Job, mutate func(*model.Job)) {
	c.mu.Lock()
	mutate(jb)
	c.mu.Unlock()
}

func (c *Coordinator) publish(jb *model.Job, ev model.ProgressEvent) {
	ev.JobID = jb.ID
	ev.UserID = jb.UserID
	ev.ChatID = jb.ChatID
	c.events.Publish(ev)
}
