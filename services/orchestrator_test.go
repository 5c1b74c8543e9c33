package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nordlys/erasure/models"
	"github.com/nordlys/erasure/providers"
	"github.com/nordlys/erasure/utils"
)

// fakeChatTransport serves a fixed message list and applies marker writes to
// it, so consecutive Run calls observe the markers the previous pass wrote.
type fakeChatTransport struct {
	messages []models.Message
	listErr  error
	failAdd  map[string]bool
}

func (f *fakeChatTransport) ListMessages(ctx context.Context, channel string, from, to time.Time) ([]models.Message, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]models.Message, len(f.messages))
	for i, msg := range f.messages {
		out[i] = msg
		out[i].Markers = append([]string(nil), msg.Markers...)
	}
	return out, nil
}

func (f *fakeChatTransport) AddMarker(ctx context.Context, ref models.MessageRef, marker string) error {
	if f.failAdd[marker] {
		return errors.New("rate limited")
	}
	for i := range f.messages {
		if f.messages[i].Ref == ref && !f.messages[i].HasMarker(marker) {
			f.messages[i].Markers = append(f.messages[i].Markers, marker)
		}
	}
	return nil
}

func (f *fakeChatTransport) RemoveMarker(ctx context.Context, ref models.MessageRef, marker string) error {
	for i := range f.messages {
		if f.messages[i].Ref != ref {
			continue
		}
		kept := f.messages[i].Markers[:0]
		for _, m := range f.messages[i].Markers {
			if m != marker {
				kept = append(kept, m)
			}
		}
		f.messages[i].Markers = kept
	}
	return nil
}

type fakeLedger struct {
	rows      map[string]*models.DeletionRequest
	updateErr error
	creates   int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{rows: map[string]*models.DeletionRequest{}}
}

func (f *fakeLedger) GetOrCreate(ctx context.Context, row *models.DeletionRequest) (*models.DeletionRequest, bool, error) {
	if existing, ok := f.rows[row.SourceMessageRef]; ok {
		return existing, false, nil
	}
	f.rows[row.SourceMessageRef] = row
	f.creates++
	return row, true, nil
}

func (f *fakeLedger) BatchGet(ctx context.Context, refs []string) (map[string]*models.DeletionRequest, error) {
	result := make(map[string]*models.DeletionRequest)
	for _, ref := range refs {
		if row, ok := f.rows[ref]; ok {
			result[ref] = row
		}
	}
	return result, nil
}

func (f *fakeLedger) Update(ctx context.Context, row *models.DeletionRequest) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.rows[row.SourceMessageRef] = row
	return nil
}

type fakeProvider struct {
	name        string
	createState providers.RequestState
	pollState   providers.RequestState
	createErr   error
	pollErr     error
	created     []providers.Subject
	polls       int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) CreateRequest(ctx context.Context, subject providers.Subject) (string, providers.RequestState, error) {
	if f.createErr != nil {
		return "", "", f.createErr
	}
	f.created = append(f.created, subject)
	return fmt.Sprintf("%s-%d", f.name, len(f.created)), f.createState, nil
}

func (f *fakeProvider) Poll(ctx context.Context, handle string) (providers.RequestState, error) {
	f.polls++
	if f.pollErr != nil {
		return "", f.pollErr
	}
	return f.pollState, nil
}

type fakePurger struct {
	err    error
	purged []string
}

func (f *fakePurger) Purge(ctx context.Context, subjectID string) error {
	if f.err != nil {
		return f.err
	}
	f.purged = append(f.purged, subjectID)
	return nil
}

type orchestratorFixture struct {
	transport   *fakeChatTransport
	ledger      *fakeLedger
	activity    *fakeActivity
	gdpr        *fakeProvider
	attribution *fakeProvider
	mediation   *fakeProvider
	warehouse   *fakePurger
	liveState   *fakePurger
	orch        *Orchestrator
}

func newFixture(messages []models.Message) *orchestratorFixture {
	f := &orchestratorFixture{
		transport: &fakeChatTransport{messages: messages},
		ledger:    newFakeLedger(),
		activity: &fakeActivity{
			devices: map[string][]string{
				"691872cb4d709d02d9143763": {"device-aa", "device-bb"},
			},
		},
		gdpr:        &fakeProvider{name: models.ProviderGDPR, createState: providers.StatePending, pollState: providers.StateCompleted},
		attribution: &fakeProvider{name: models.ProviderAttribution, createState: providers.StatePending, pollState: providers.StateCompleted},
		mediation:   &fakeProvider{name: models.ProviderMediation, createState: providers.StateCompleted, pollState: providers.StateCompleted},
		warehouse:   &fakePurger{},
		liveState:   &fakePurger{},
	}
	f.orch = CreateOrchestrator(OrchestratorDeps{
		Transport: f.transport,
		Ledger:    f.ledger,
		Activity:  f.activity,
		Providers: map[string]providers.DeletionProvider{
			models.ProviderGDPR:        f.gdpr,
			models.ProviderAttribution: f.attribution,
			models.ProviderMediation:   f.mediation,
		},
		WarehousePurger:  f.warehouse,
		LiveStatePurger:  f.liveState,
		InactivityWindow: 14 * 24 * time.Hour,
		Clock:            func() time.Time { return time.Date(2023, 9, 1, 12, 0, 0, 0, time.UTC) },
	})
	return f
}

func (f *orchestratorFixture) run(t *testing.T) *models.PassReport {
	t.Helper()
	report, err := f.orch.Run(context.Background(),
		"privacy-requests",
		time.Date(2023, 8, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 9, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}
	return report
}

func requestMessage(ts string) models.Message {
	return models.Message{
		Ref:    models.MessageRef{Channel: "C01PRIVACY", Timestamp: ts},
		Text:   "pls delete this user userId: 691872cb4d709d02d9143763 ticket 4435",
		SentAt: time.Date(2023, 8, 27, 9, 10, 0, 0, time.UTC),
	}
}

func TestOrchestrator_FullLifecycle(t *testing.T) {
	f := newFixture([]models.Message{requestMessage("1693127400.000100")})
	ref := f.transport.messages[0].Ref.Key()

	// Pass 1: the row is created, async providers go pending, the
	// synchronous mediation batch completes immediately.
	report := f.run(t)
	if report.Created != 1 {
		t.Fatalf("pass 1 Created = %d, want 1", report.Created)
	}
	row := f.ledger.rows[ref]
	if row == nil {
		t.Fatal("pass 1 did not create a ledger row")
	}
	if row.SubjectID != "691872cb4d709d02d9143763" || row.TicketID != "4435" {
		t.Errorf("row parsed as subject=%q ticket=%q", row.SubjectID, row.TicketID)
	}
	if got := row.GDPRStatus; got != models.StatusPending {
		t.Errorf("pass 1 gdpr status = %q, want pending", got)
	}
	if got := row.MediationStatus; got != models.StatusCompleted {
		t.Errorf("pass 1 mediation status = %q, want completed", got)
	}
	if len(f.mediation.created) != 1 || len(f.mediation.created[0].DeviceIDs) != 2 {
		t.Errorf("mediation create = %+v, want one subject with two device ids", f.mediation.created)
	}
	if !f.transport.messages[0].HasMarker(models.MarkerInProgress) {
		t.Error("pass 1 did not add in_progress marker")
	}
	if len(f.warehouse.purged) != 0 {
		t.Error("pass 1 ran the warehouse purge before providers completed")
	}

	// Pass 2: polls complete the async providers, purges run, the row goes
	// fully completed. The message shows platform_done this pass; the
	// terminal marker waits for the next one.
	report = f.run(t)
	if report.Created != 0 {
		t.Errorf("pass 2 Created = %d, want 0", report.Created)
	}
	if report.Polled != 2 {
		t.Errorf("pass 2 Polled = %d, want 2", report.Polled)
	}
	if report.PurgesRun != 2 {
		t.Errorf("pass 2 PurgesRun = %d, want 2", report.PurgesRun)
	}
	if report.Completed != 1 {
		t.Errorf("pass 2 Completed = %d, want 1", report.Completed)
	}
	if !row.IsFullyCompleted {
		t.Error("pass 2 did not fully complete the row")
	}
	msg := &f.transport.messages[0]
	if !msg.HasMarker(models.MarkerPlatformDone) {
		t.Error("pass 2 did not add platform_done")
	}
	if msg.HasMarker(models.MarkerFullyDone) {
		t.Error("pass 2 added fully_done prematurely")
	}

	// Pass 3: marker projection collapses to the terminal marker.
	f.run(t)
	if !msg.HasMarker(models.MarkerFullyDone) {
		t.Error("pass 3 did not add fully_done")
	}
	if msg.HasMarker(models.MarkerInProgress) || msg.HasMarker(models.MarkerPlatformDone) {
		t.Errorf("pass 3 left intermediate markers: %v", msg.Markers)
	}

	// Pass 4: terminal messages are no longer candidates.
	report = f.run(t)
	if report.Candidates != 0 {
		t.Errorf("pass 4 Candidates = %d, want 0", report.Candidates)
	}
	if f.gdpr.polls != 1 || len(f.gdpr.created) != 1 {
		t.Errorf("gdpr calls = %d creates / %d polls, want 1 / 1", len(f.gdpr.created), f.gdpr.polls)
	}
}

func TestOrchestrator_IdempotentCreation(t *testing.T) {
	f := newFixture([]models.Message{requestMessage("1693127400.000100")})
	// async providers stay pending so the row never completes, and marker
	// writes fail so the message re-enters the new set on every pass
	f.gdpr.pollState = providers.StatePending
	f.attribution.pollState = providers.StatePending
	f.transport.failAdd = map[string]bool{models.MarkerInProgress: true}

	report := f.run(t)
	if report.Created != 1 || report.MarkerErrors != 1 {
		t.Fatalf("pass 1 Created = %d MarkerErrors = %d, want 1 and 1", report.Created, report.MarkerErrors)
	}

	report = f.run(t)
	if report.Created != 0 {
		t.Errorf("pass 2 Created = %d, want 0", report.Created)
	}
	if f.ledger.creates != 1 {
		t.Errorf("ledger creates = %d, want 1", f.ledger.creates)
	}
	if len(f.gdpr.created) != 1 {
		t.Errorf("gdpr creates = %d, want 1", len(f.gdpr.created))
	}

	// once the marker write recovers, the projection heals
	f.transport.failAdd = nil
	f.run(t)
	if !f.transport.messages[0].HasMarker(models.MarkerInProgress) {
		t.Error("marker projection did not heal after transport recovered")
	}
}

func TestOrchestrator_DefersRecentlyActiveSubject(t *testing.T) {
	f := newFixture([]models.Message{requestMessage("1693127400.000100")})
	f.activity.lastActivity = map[string]time.Time{
		"691872cb4d709d02d9143763": time.Date(2023, 8, 30, 0, 0, 0, 0, time.UTC),
	}

	report := f.run(t)
	if report.Deferred != 1 {
		t.Errorf("Deferred = %d, want 1", report.Deferred)
	}
	if report.Created != 0 || len(f.ledger.rows) != 0 {
		t.Error("deferred subject must not get a ledger row")
	}
	if len(f.gdpr.created) != 0 {
		t.Error("deferred subject must not reach any provider")
	}
	if f.transport.messages[0].HasMarker(models.MarkerInProgress) {
		t.Error("deferred message must stay unmarked")
	}
}

func TestOrchestrator_ProviderFailureIsNotFatal(t *testing.T) {
	f := newFixture([]models.Message{requestMessage("1693127400.000100")})
	f.gdpr.createErr = errors.New("upstream 503")

	report := f.run(t)
	if report.ProviderErrors != 1 {
		t.Errorf("ProviderErrors = %d, want 1", report.ProviderErrors)
	}
	row := f.ledger.rows[f.transport.messages[0].Ref.Key()]
	if row.GDPRStatus != models.StatusNotStarted {
		t.Errorf("gdpr status after failed create = %q, want not_started", row.GDPRStatus)
	}
	// the other providers still advanced this pass
	if row.AttributionStatus != models.StatusPending {
		t.Errorf("attribution status = %q, want pending", row.AttributionStatus)
	}
	if row.MediationStatus != models.StatusCompleted {
		t.Errorf("mediation status = %q, want completed", row.MediationStatus)
	}

	// next pass retries the create instead of polling a phantom handle
	f.gdpr.createErr = nil
	f.run(t)
	if len(f.gdpr.created) != 1 {
		t.Errorf("gdpr creates = %d, want 1", len(f.gdpr.created))
	}
	if row.GDPRStatus != models.StatusPending {
		t.Errorf("gdpr status after retry = %q, want pending", row.GDPRStatus)
	}
}

func TestOrchestrator_ScanFailureAbortsPass(t *testing.T) {
	f := newFixture(nil)
	f.transport.listErr = errors.New("channel_not_found")

	_, err := f.orch.Run(context.Background(),
		"privacy-requests",
		time.Date(2023, 8, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 9, 1, 0, 0, 0, 0, time.UTC))
	if err == nil {
		t.Fatal("Run() expected error when the scan fails")
	}
}

func TestOrchestrator_LedgerWriteFailureAbortsPass(t *testing.T) {
	f := newFixture([]models.Message{requestMessage("1693127400.000100")})
	f.ledger.updateErr = &utils.LedgerWriteError{Op: "update", Err: errors.New("connection reset")}

	_, err := f.orch.Run(context.Background(),
		"privacy-requests",
		time.Date(2023, 8, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 9, 1, 0, 0, 0, 0, time.UTC))
	if err == nil {
		t.Fatal("Run() expected error on ledger write failure")
	}
	if !utils.IsLedgerWriteError(err) {
		t.Errorf("Run() error = %v, want a ledger write error", err)
	}
}

func TestOrchestrator_PurgeFailureRetriesNextPass(t *testing.T) {
	f := newFixture([]models.Message{requestMessage("1693127400.000100")})
	f.warehouse.err = errors.New("deadlock detected")

	f.run(t) // create, providers pending
	report := f.run(t) // providers complete, warehouse purge fails
	if report.Completed != 0 {
		t.Errorf("Completed = %d with a failed purge, want 0", report.Completed)
	}
	row := f.ledger.rows[f.transport.messages[0].Ref.Key()]
	if row.WarehousePurgeStatus != models.StatusNotStarted {
		t.Errorf("warehouse purge status = %q, want not_started", row.WarehousePurgeStatus)
	}
	if row.LiveStatePurgeStatus != models.StatusCompleted {
		t.Errorf("live-state purge status = %q, want completed", row.LiveStatePurgeStatus)
	}
	if row.IsFullyCompleted {
		t.Error("row must not be fully completed with a failed purge")
	}

	f.warehouse.err = nil
	report = f.run(t)
	if report.Completed != 1 {
		t.Errorf("Completed after purge retry = %d, want 1", report.Completed)
	}
	if len(f.liveState.purged) != 1 {
		t.Errorf("live-state purges = %d, want 1 (no re-run of a completed purge)", len(f.liveState.purged))
	}
}

func TestOrchestrator_SkipsInFlightMessageWithoutRow(t *testing.T) {
	msg := requestMessage("1693127400.000100")
	msg.Markers = []string{models.MarkerInProgress}
	f := newFixture([]models.Message{msg})

	report := f.run(t)
	if report.InFlight != 1 {
		t.Errorf("InFlight = %d, want 1", report.InFlight)
	}
	if len(f.gdpr.created) != 0 || len(f.ledger.rows) != 0 {
		t.Error("orphaned in-flight message must not trigger any work")
	}
}

func TestOrchestrator_ParseFailureIsCounted(t *testing.T) {
	bad := models.Message{
		Ref:    models.MessageRef{Channel: "C01PRIVACY", Timestamp: "1693127400.000200"},
		Text:   "please delete user data, ticket soon",
		SentAt: time.Date(2023, 8, 27, 9, 15, 0, 0, time.UTC),
	}
	f := newFixture([]models.Message{requestMessage("1693127400.000100"), bad})

	report := f.run(t)
	if report.ParseFailures != 1 {
		t.Errorf("ParseFailures = %d, want 1", report.ParseFailures)
	}
	if report.Created != 1 {
		t.Errorf("Created = %d, want 1 (the parseable message)", report.Created)
	}
}
