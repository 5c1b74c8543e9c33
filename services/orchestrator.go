package services

import (
	"context"
	"fmt"
	"time"

	"github.com/nordlys/erasure/models"
	"github.com/nordlys/erasure/providers"
	"github.com/nordlys/erasure/transport"
	"github.com/nordlys/erasure/utils"
)

// Ledger is the orchestrator's view of the deletion-request table.
type Ledger interface {
	GetOrCreate(ctx context.Context, row *models.DeletionRequest) (*models.DeletionRequest, bool, error)
	BatchGet(ctx context.Context, refs []string) (map[string]*models.DeletionRequest, error)
	Update(ctx context.Context, row *models.DeletionRequest) error
}

// Orchestrator drives one reconciliation pass over a date window. It holds no
// state of its own between passes; everything is re-derived from messages,
// markers and the ledger, so repeated and re-scheduled invocations converge
// on the same terminal state.
type Orchestrator struct {
	transport       transport.MessageTransport
	ledger          Ledger
	activity        ActivityReader
	gate            *EligibilityGate
	classifier      *Classifier
	parser          *Parser
	markers         *MarkerSynchronizer
	providers       map[string]providers.DeletionProvider
	warehousePurger SubjectPurger
	liveStatePurger SubjectPurger
	logger          *utils.Logger
	clock           func() time.Time
}

type OrchestratorDeps struct {
	Transport       transport.MessageTransport
	Ledger          Ledger
	Activity        ActivityReader
	Providers       map[string]providers.DeletionProvider
	WarehousePurger SubjectPurger
	LiveStatePurger SubjectPurger
	InactivityWindow time.Duration
	Clock           func() time.Time
}

func CreateOrchestrator(deps OrchestratorDeps) *Orchestrator {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Orchestrator{
		transport:       deps.Transport,
		ledger:          deps.Ledger,
		activity:        deps.Activity,
		gate:            CreateEligibilityGate(deps.Activity, deps.InactivityWindow),
		classifier:      CreateClassifier(),
		parser:          CreateParser(),
		markers:         CreateMarkerSynchronizer(deps.Transport),
		providers:       deps.Providers,
		warehousePurger: deps.WarehousePurger,
		liveStatePurger: deps.LiveStatePurger,
		logger:          utils.NewLogger("orchestrator"),
		clock:           clock,
	}
}

type parsedMessage struct {
	msg models.Message
	req *ParsedRequest
}

// Run executes one pass: scan the window, split candidates into new and
// in-flight, drive both sets, and report. Only a transport scan failure, a
// batched store lookup failure or a LedgerWriteError abort the pass; per-row
// trouble is counted and retried on the next scheduled invocation.
func (o *Orchestrator) Run(ctx context.Context, channel string, from, to time.Time) (*models.PassReport, error) {
	refDate := o.clock()
	ctx = utils.WithPassID(ctx, fmt.Sprintf("pass-%d", refDate.UnixNano()))
	report := &models.PassReport{}

	o.logger.Info(ctx, "starting pass", map[string]interface{}{
		"channel": channel,
		"from":    from.Format("2006-01-02"),
		"to":      to.Format("2006-01-02"),
	})

	messages, err := o.transport.ListMessages(ctx, channel, from, to)
	if err != nil {
		return report, fmt.Errorf("failed to list messages: %w", err)
	}
	report.Scanned = len(messages)

	classified := o.classifier.Classify(messages)
	report.Candidates = len(classified.New) + len(classified.InFlight)
	report.NewRequests = len(classified.New)
	report.InFlight = len(classified.InFlight)

	// parse new candidates; a message without a subject id is skipped for good
	var parsed []parsedMessage
	for _, msg := range classified.New {
		req, err := o.parser.Parse(msg)
		if err != nil {
			report.ParseFailures++
			o.logger.Warn(ctx, "skipping unparseable message", map[string]interface{}{
				"error":   err.Error(),
				"message": msg.Ref.Key(),
			})
			continue
		}
		parsed = append(parsed, parsedMessage{msg: msg, req: req})
	}

	// the pass's batched lookups all happen up front: activity dates for the
	// gate, existing ledger rows for the in-flight set, then device ids for
	// every subject that still needs the mediation batch
	eligible, err := o.gate.Check(ctx, subjectIDsOf(parsed), refDate)
	if err != nil {
		return report, fmt.Errorf("failed to check eligibility: %w", err)
	}

	inFlightRefs := make([]string, 0, len(classified.InFlight))
	for _, msg := range classified.InFlight {
		inFlightRefs = append(inFlightRefs, msg.Ref.Key())
	}
	rows, err := o.ledger.BatchGet(ctx, inFlightRefs)
	if err != nil {
		return report, fmt.Errorf("failed to load in-flight ledger rows: %w", err)
	}

	devices, err := o.activity.DeviceIdentifiers(ctx, o.deviceLookupSubjects(parsed, eligible, rows))
	if err != nil {
		return report, fmt.Errorf("failed to resolve device identifiers: %w", err)
	}

	// Phase 1: new requests
	for _, pm := range parsed {
		if !eligible[pm.req.SubjectID] {
			report.Deferred++
			o.logger.Info(ctx, "deferring recently active subject", map[string]interface{}{
				"subject_id": pm.req.SubjectID,
				"message":    pm.msg.Ref.Key(),
			})
			continue
		}

		row := &models.DeletionRequest{
			SubjectID:            pm.req.SubjectID,
			TicketID:             pm.req.TicketID,
			RequestDate:          pm.req.RequestDate,
			SourceMessageRef:     pm.msg.Ref.Key(),
			GDPRStatus:           models.StatusNotStarted,
			AttributionStatus:    models.StatusNotStarted,
			MediationStatus:      models.StatusNotStarted,
			WarehousePurgeStatus: models.StatusNotStarted,
			LiveStatePurgeStatus: models.StatusNotStarted,
		}

		row, created, err := o.ledger.GetOrCreate(ctx, row)
		if err != nil {
			return report, err
		}
		if created {
			report.Created++
		}

		if err := o.processRow(ctx, row, pm.msg, devices, report); err != nil {
			return report, err
		}
	}

	// Phase 2: in-flight requests
	for _, msg := range classified.InFlight {
		row, ok := rows[msg.Ref.Key()]
		if !ok {
			// marker without a ledger row; the ledger is authoritative, so
			// leave the message alone and flag it for a human
			o.logger.Warn(ctx, "in-flight message has no ledger row", map[string]interface{}{
				"message": msg.Ref.Key(),
			})
			continue
		}

		if err := o.processRow(ctx, row, msg, devices, report); err != nil {
			return report, err
		}
	}

	o.logger.Info(ctx, "pass finished", map[string]interface{}{
		"scanned":         report.Scanned,
		"candidates":      report.Candidates,
		"created":         report.Created,
		"deferred":        report.Deferred,
		"parse_failures":  report.ParseFailures,
		"polled":          report.Polled,
		"provider_errors": report.ProviderErrors,
		"purges_run":      report.PurgesRun,
		"completed":       report.Completed,
		"marker_errors":   report.MarkerErrors,
	})

	return report, nil
}

// processRow advances a single request as far as this pass can take it:
// outstanding provider creates and polls, ledger update, marker sync, then
// outstanding purges once all providers are done. Markers are synced before
// the purges run so the message walks through platform_done before fully_done
// rather than jumping straight to the terminal marker.
func (o *Orchestrator) processRow(ctx context.Context, row *models.DeletionRequest, msg models.Message, devices map[string][]string, report *models.PassReport) error {
	ctx = utils.WithSubjectID(ctx, row.SubjectID)

	if row.IsFullyCompleted {
		// read-only ballast; just heal the marker projection if a previous
		// marker write was lost
		report.MarkerErrors += o.markers.Sync(ctx, row, &msg)
		return nil
	}

	o.advanceProviders(ctx, row, devices, report)

	if err := o.ledger.Update(ctx, row); err != nil {
		return err
	}

	report.MarkerErrors += o.markers.Sync(ctx, row, &msg)

	if row.AllProvidersCompleted() {
		o.runPurges(ctx, row, report)
		row.RecomputeCompletion()
		if err := o.ledger.Update(ctx, row); err != nil {
			return err
		}
		if row.IsFullyCompleted {
			report.Completed++
		}
	}

	return nil
}

// advanceProviders issues whatever each provider still needs: a create if no
// handle was ever stored, a poll if the request is pending. Completed
// providers are left alone. A provider failure only skips that provider for
// this pass.
func (o *Orchestrator) advanceProviders(ctx context.Context, row *models.DeletionRequest, devices map[string][]string, report *models.PassReport) {
	for _, name := range models.ProviderNames {
		provider, ok := o.providers[name]
		if !ok {
			continue
		}
		if row.ProviderStatus(name) == models.StatusCompleted {
			continue
		}

		if row.ProviderRequestID(name) == "" {
			subject := providers.Subject{
				ID:        row.SubjectID,
				DeviceIDs: devices[row.SubjectID],
			}
			handle, state, err := provider.CreateRequest(ctx, subject)
			if err != nil {
				report.ProviderErrors++
				o.logger.Warn(ctx, "provider create failed", map[string]interface{}{
					"error":    err.Error(),
					"provider": name,
				})
				continue
			}
			row.SetProviderStatus(name, mapProviderState(state), handle)
			continue
		}

		state, err := provider.Poll(ctx, row.ProviderRequestID(name))
		report.Polled++
		if err != nil {
			report.ProviderErrors++
			o.logger.Warn(ctx, "provider poll failed", map[string]interface{}{
				"error":    err.Error(),
				"provider": name,
			})
			continue
		}
		if state == providers.StateCompleted {
			row.SetProviderStatus(name, models.StatusCompleted, "")
		}
	}
}

// runPurges executes the two in-house purges that are still outstanding. A
// purge failure leaves its flag at not_started for the next pass.
func (o *Orchestrator) runPurges(ctx context.Context, row *models.DeletionRequest, report *models.PassReport) {
	if row.WarehousePurgeStatus != models.StatusCompleted {
		report.PurgesRun++
		if err := o.warehousePurger.Purge(ctx, row.SubjectID); err != nil {
			o.logger.Warn(ctx, "warehouse purge failed", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			row.WarehousePurgeStatus = models.StatusCompleted
		}
	}

	if row.LiveStatePurgeStatus != models.StatusCompleted {
		report.PurgesRun++
		if err := o.liveStatePurger.Purge(ctx, row.SubjectID); err != nil {
			o.logger.Warn(ctx, "live-state purge failed", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			row.LiveStatePurgeStatus = models.StatusCompleted
		}
	}
}

// deviceLookupSubjects collects every subject that still needs the mediation
// batch this pass, across both phases, so device ids are fetched in a single
// round-trip.
func (o *Orchestrator) deviceLookupSubjects(parsed []parsedMessage, eligible map[string]bool, rows map[string]*models.DeletionRequest) []string {
	seen := map[string]bool{}
	var subjects []string

	for _, pm := range parsed {
		if eligible[pm.req.SubjectID] && !seen[pm.req.SubjectID] {
			seen[pm.req.SubjectID] = true
			subjects = append(subjects, pm.req.SubjectID)
		}
	}
	for _, row := range rows {
		if row.MediationRequestID == "" && !row.IsFullyCompleted && !seen[row.SubjectID] {
			seen[row.SubjectID] = true
			subjects = append(subjects, row.SubjectID)
		}
	}

	return subjects
}

func subjectIDsOf(parsed []parsedMessage) []string {
	seen := map[string]bool{}
	var ids []string
	for _, pm := range parsed {
		if !seen[pm.req.SubjectID] {
			seen[pm.req.SubjectID] = true
			ids = append(ids, pm.req.SubjectID)
		}
	}
	return ids
}

func mapProviderState(state providers.RequestState) models.RequestStatus {
	if state == providers.StateCompleted {
		return models.StatusCompleted
	}
	return models.StatusPending
}
