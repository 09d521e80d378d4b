package job

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/resobot/api/internal/model"
	"github.com/resobot/api/internal/tempstore"
	"github.com/resobot/api/internal/transcode"
)

type stubFetcher struct {
	store *tempstore.Store
	err   error
	calls int
}

func (s *stubFetcher) Fetch(_ context.Context, _ model.SourceDescriptor) (*tempstore.Artifact, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	art, err := s.store.Allocate(".mp4")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(art.Path, []byte("source"), 0o644); err != nil {
		return nil, err
	}
	return art, nil
}

type stubConverter struct {
	store   *tempstore.Store
	failFor map[model.ResolutionLabel]error
	gate    chan struct{} // when set, Convert blocks until closed
	entered chan struct{} // when set, receives a signal as Convert starts
}

func (s *stubConverter) Convert(_ context.Context, _ string, p model.ResolutionProfile, _ time.Duration) (*tempstore.Artifact, error) {
	if s.entered != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
	}
	if s.gate != nil {
		<-s.gate
	}
	if err, ok := s.failFor[p.Label]; ok {
		return nil, err
	}
	art, err := s.store.Allocate("_" + string(p.Label) + ".mp4")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(art.Path, []byte("converted "+string(p.Label)), 0o644); err != nil {
		return nil, err
	}
	return art, nil
}

type stubProber struct{ err error }

func (s *stubProber) Probe(_ context.Context, _ string) (transcode.ProbeResult, error) {
	if s.err != nil {
		return transcode.ProbeResult{}, s.err
	}
	return transcode.ProbeResult{Duration: 42.5, Width: 1920, Height: 1080}, nil
}

type recordingDelivery struct {
	mu      sync.Mutex
	labels  []model.ResolutionLabel
	failFor map[model.ResolutionLabel]error
	panicOn model.ResolutionLabel
}

func (d *recordingDelivery) SendResult(_ context.Context, _ int64, path string, label model.ResolutionLabel) error {
	if d.panicOn != "" && label == d.panicOn {
		panic("delivery blew up")
	}
	if _, err := os.Stat(path); err != nil {
		return errors.New("artifact missing at delivery time")
	}
	d.mu.Lock()
	d.labels = append(d.labels, label)
	d.mu.Unlock()
	if err, ok := d.failFor[label]; ok {
		return err
	}
	return nil
}

func (d *recordingDelivery) delivered() []model.ResolutionLabel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.ResolutionLabel(nil), d.labels...)
}

type collectSink struct {
	mu     sync.Mutex
	events []model.ProgressEvent
}

func (s *collectSink) Publish(ev model.ProgressEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *collectSink) final(t *testing.T) model.ProgressEvent {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.Final {
			return ev
		}
	}
	t.Fatal("no final event emitted")
	return model.ProgressEvent{}
}

type fixture struct {
	coord    *Coordinator
	store    *tempstore.Store
	fetcher  *stubFetcher
	conv     *stubConverter
	delivery *recordingDelivery
	sink     *collectSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := tempstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("tempstore.New: %v", err)
	}
	f := &fixture{
		store:    store,
		fetcher:  &stubFetcher{store: store},
		conv:     &stubConverter{store: store},
		delivery: &recordingDelivery{},
		sink:     &collectSink{},
	}
	f.coord = New(Deps{
		Registry:     NewRegistry(),
		Fetcher:      f.fetcher,
		Converter:    f.conv,
		Prober:       &stubProber{},
		Store:        store,
		Delivery:     f.delivery,
		Events:       f.sink,
		ConvertLimit: 10 * time.Second,
		Retention:    time.Hour,
	})
	return f
}

func submit(t *testing.T, f *fixture, labels ...model.ResolutionLabel) model.Job {
	t.Helper()
	src := model.SourceDescriptor{FileID: "file-1", FileName: "clip.mp4", Size: 30 << 20}
	jb, err := f.coord.Submit(1001, 2002, src, labels)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return jb
}

func TestEndToEnd(t *testing.T) {
	f := newFixture(t)

	jb := submit(t, f, model.Resolution144p, model.Resolution720p)
	f.coord.Wait()

	final := f.sink.final(t)
	if final.SuccessCount != 2 {
		t.Errorf("expected successCount=2, got %d", final.SuccessCount)
	}
	if final.Total != 2 {
		t.Errorf("expected total=2, got %d", final.Total)
	}

	got := f.delivery.delivered()
	want := []model.ResolutionLabel{model.Resolution144p, model.Resolution720p}
	if len(got) != len(want) {
		t.Fatalf("expected %d deliveries, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delivery %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	if f.store.Count() != 0 {
		t.Errorf("artifacts leaked: %d live", f.store.Count())
	}
	if f.coord.Active() != 0 {
		t.Error("admission slot not released")
	}

	snapshot, ok := f.coord.Job(jb.ID)
	if !ok {
		t.Fatal("terminated job should remain queryable within retention")
	}
	if snapshot.Phase != model.JobPhaseTerminated {
		t.Errorf("expected terminated phase, got %s", snapshot.Phase)
	}
	if !snapshot.Succeeded() {
		t.Error("job with successes should report success")
	}
	if snapshot.SourceInfo == nil || snapshot.SourceInfo.Width != 1920 {
		t.Errorf("probe result missing from snapshot: %+v", snapshot.SourceInfo)
	}

	probed := false
	f.sink.mu.Lock()
	for _, ev := range f.sink.events {
		if ev.Phase == model.JobPhaseFetching && strings.Contains(ev.Detail, "1920x1080") {
			probed = true
		}
	}
	f.sink.mu.Unlock()
	if !probed {
		t.Error("probe detail missing from fetch events")
	}
}

func TestProbeFailureDoesNotAbortJob(t *testing.T) {
	f := newFixture(t)
	f.coord.prober = &stubProber{err: errors.New("no video stream")}

	submit(t, f, model.Resolution360p)
	f.coord.Wait()

	if f.sink.final(t).SuccessCount != 1 {
		t.Errorf("probe failure must not cost the job, got %d successes", f.sink.final(t).SuccessCount)
	}
}

func TestPartialFailureTolerance(t *testing.T) {
	f := newFixture(t)
	f.conv.failFor = map[model.ResolutionLabel]error{
		model.Resolution720p: errors.New("engine failed: bad input"),
	}

	submit(t, f, model.Resolution144p, model.Resolution720p)
	f.coord.Wait()

	final := f.sink.final(t)
	if final.SuccessCount != 1 {
		t.Errorf("expected successCount=1, got %d", final.SuccessCount)
	}
	got := f.delivery.delivered()
	if len(got) != 1 || got[0] != model.Resolution144p {
		t.Errorf("expected only 144p delivered, got %v", got)
	}
	if f.store.Count() != 0 {
		t.Errorf("artifacts leaked: %d live", f.store.Count())
	}
}

func TestOrderPreservedAcrossFailure(t *testing.T) {
	f := newFixture(t)
	f.conv.failFor = map[model.ResolutionLabel]error{
		model.Resolution144p: errors.New("transcode timed out"),
	}

	submit(t, f, model.Resolution720p, model.Resolution144p, model.Resolution480p)
	f.coord.Wait()

	got := f.delivery.delivered()
	want := []model.ResolutionLabel{model.Resolution720p, model.Resolution480p}
	if len(got) != len(want) {
		t.Fatalf("expected deliveries %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delivery %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if f.sink.final(t).SuccessCount != 2 {
		t.Errorf("expected 2 successes, got %d", f.sink.final(t).SuccessCount)
	}
}

func TestFetchFailureAbortsWholeJob(t *testing.T) {
	f := newFixture(t)
	f.fetcher.err = errors.New("download failed: connection reset")

	submit(t, f, model.Resolution360p, model.Resolution480p)
	f.coord.Wait()

	final := f.sink.final(t)
	if final.SuccessCount != 0 {
		t.Errorf("expected 0 successes, got %d", final.SuccessCount)
	}
	if len(f.delivery.delivered()) != 0 {
		t.Errorf("no deliveries expected, got %v", f.delivery.delivered())
	}
	if f.store.Count() != 0 {
		t.Errorf("artifacts leaked: %d live", f.store.Count())
	}
	if f.coord.Active() != 0 {
		t.Error("admission slot not released after fetch failure")
	}
}

func TestSecondJobRejectedWhileFirstInFlight(t *testing.T) {
	f := newFixture(t)
	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	f.conv.gate = gate
	f.conv.entered = entered

	submit(t, f, model.Resolution360p)
	<-entered // first job has fetched its source and is converting

	src := model.SourceDescriptor{FileID: "file-2", Size: 1 << 20}
	_, err := f.coord.Submit(1001, 2002, src, []model.ResolutionLabel{model.Resolution360p})
	if !errors.Is(err, ErrAlreadyProcessing) {
		t.Fatalf("expected ErrAlreadyProcessing, got %v", err)
	}
	// A rejected admission creates no temp state beyond the running job's
	// single fetched source.
	if f.store.Count() != 1 {
		t.Errorf("rejected job allocated artifacts: %d live", f.store.Count())
	}

	close(gate)
	f.coord.Wait()

	// After termination the user may submit again.
	if _, err := f.coord.Submit(1001, 2002, src, []model.ResolutionLabel{model.Resolution360p}); err != nil {
		t.Fatalf("resubmit after termination: %v", err)
	}
	f.coord.Wait()
}

func TestSubmitSnapshotStableWhileJobRuns(t *testing.T) {
	f := newFixture(t)

	// The returned value must be a pre-start snapshot: reading it while the
	// run goroutine advances the job must not observe (or race with) its
	// mutations. The race detector guards the latter half.
	src := model.SourceDescriptor{FileID: "file-1", FileName: "clip.mp4", Size: 30 << 20}
	for i := 0; i < 50; i++ {
		jb, err := f.coord.Submit(int64(5000+i), 2002, src, []model.ResolutionLabel{model.Resolution144p})
		if err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
		if jb.Phase != model.JobPhaseAdmitted {
			t.Errorf("submit %d: snapshot phase %s, want %s", i, jb.Phase, model.JobPhaseAdmitted)
		}
		if jb.SuccessCount != 0 || jb.CompletedAt != nil || jb.Error != "" {
			t.Errorf("submit %d: snapshot already carries run-time state: %+v", i, jb)
		}
	}
	f.coord.Wait()
}

func TestDeliveryErrorKeepsSuccessCount(t *testing.T) {
	f := newFixture(t)
	f.delivery.failFor = map[model.ResolutionLabel]error{
		model.Resolution480p: errors.New("send failed"),
	}

	submit(t, f, model.Resolution480p)
	f.coord.Wait()

	final := f.sink.final(t)
	if final.SuccessCount != 1 {
		t.Errorf("delivery failure must not revert the success count, got %d", final.SuccessCount)
	}
	if f.store.Count() != 0 {
		t.Errorf("artifact outlived delivery: %d live", f.store.Count())
	}
}

func TestPanicInCollaboratorStillFinalizes(t *testing.T) {
	f := newFixture(t)
	f.delivery.panicOn = model.Resolution360p

	submit(t, f, model.Resolution360p)
	f.coord.Wait()

	if f.store.Count() != 0 {
		t.Errorf("artifacts leaked after panic: %d live", f.store.Count())
	}
	if f.coord.Active() != 0 {
		t.Error("admission slot not released after panic")
	}
	final := f.sink.final(t)
	if !final.Final {
		t.Error("final event missing after panic")
	}
}

func TestUnknownLabelRejectedBeforeAdmission(t *testing.T) {
	f := newFixture(t)

	src := model.SourceDescriptor{FileID: "file-1", Size: 1 << 20}
	_, err := f.coord.Submit(1001, 2002, src, []model.ResolutionLabel{"1080p"})
	if !errors.Is(err, model.ErrUnknownResolution) {
		t.Fatalf("expected ErrUnknownResolution, got %v", err)
	}
	// The failed submit must not have consumed the admission slot.
	if _, err := f.coord.Submit(1001, 2002, src, []model.ResolutionLabel{model.Resolution144p}); err != nil {
		t.Fatalf("valid submit after rejected labels: %v", err)
	}
	f.coord.Wait()
}

func TestEmptyLabelsRejected(t *testing.T) {
	f := newFixture(t)
	src := model.SourceDescriptor{FileID: "file-1", Size: 1 << 20}
	if _, err := f.coord.Submit(1001, 2002, src, nil); err == nil {
		t.Fatal("expected error for empty resolution list")
	}
}
