package models

import (
	"time"
)

type RequestStatus string

const (
	StatusNotStarted RequestStatus = "not_started"
	StatusPending    RequestStatus = "pending"
	StatusCompleted  RequestStatus = "completed"
)

// Provider names used as keys throughout the orchestrator. The set is fixed
// at design time; adding a provider means adding a column pair below.
const (
	ProviderGDPR        = "gdpr"
	ProviderAttribution = "attribution"
	ProviderMediation   = "mediation"
)

// ProviderNames lists the external deletion providers in processing order.
var ProviderNames = []string{ProviderGDPR, ProviderAttribution, ProviderMediation}

var statusRank = map[RequestStatus]int{
	StatusNotStarted: 0,
	StatusPending:    1,
	StatusCompleted:  2,
}

// DeletionRequest is one ledger row per subject+ticket. Rows are created at
// most once per SourceMessageRef and are never deleted; a fully completed row
// stays as audit trail.
type DeletionRequest struct {
	ID               string    `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	SubjectID        string    `json:"subject_id" gorm:"not null;index"`
	TicketID         string    `json:"ticket_id"`
	RequestDate      time.Time `json:"request_date" gorm:"type:date"`
	SourceMessageRef string    `json:"source_message_ref" gorm:"not null;uniqueIndex"`

	GDPRStatus           RequestStatus `json:"gdpr_status" gorm:"not null;default:'not_started'"`
	GDPRRequestID        string        `json:"gdpr_request_id"`
	AttributionStatus    RequestStatus `json:"attribution_status" gorm:"not null;default:'not_started'"`
	AttributionRequestID string        `json:"attribution_request_id"`
	MediationStatus      RequestStatus `json:"mediation_status" gorm:"not null;default:'not_started'"`
	MediationRequestID   string        `json:"mediation_request_id"`

	WarehousePurgeStatus RequestStatus `json:"warehouse_purge_status" gorm:"not null;default:'not_started'"`
	LiveStatePurgeStatus RequestStatus `json:"live_state_purge_status" gorm:"not null;default:'not_started'"`

	IsFullyCompleted bool      `json:"is_fully_completed" gorm:"not null;default:false"`
	InsertedAt       time.Time `json:"inserted_at" gorm:"autoCreateTime"`
	UpdatedAt        time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (DeletionRequest) TableName() string {
	return "deletion_requests"
}

func (r *DeletionRequest) ProviderStatus(provider string) RequestStatus {
	switch provider {
	case ProviderGDPR:
		return r.GDPRStatus
	case ProviderAttribution:
		return r.AttributionStatus
	case ProviderMediation:
		return r.MediationStatus
	}
	return StatusNotStarted
}

func (r *DeletionRequest) ProviderRequestID(provider string) string {
	switch provider {
	case ProviderGDPR:
		return r.GDPRRequestID
	case ProviderAttribution:
		return r.AttributionRequestID
	case ProviderMediation:
		return r.MediationRequestID
	}
	return ""
}

// SetProviderStatus advances a provider status. Backward transitions are
// dropped: not_started → pending → completed only ever moves forward, so a
// stale caller can never regress a row.
func (r *DeletionRequest) SetProviderStatus(provider string, status RequestStatus, requestID string) bool {
	if statusRank[status] <= statusRank[r.ProviderStatus(provider)] {
		return false
	}
	switch provider {
	case ProviderGDPR:
		r.GDPRStatus = status
		if requestID != "" {
			r.GDPRRequestID = requestID
		}
	case ProviderAttribution:
		r.AttributionStatus = status
		if requestID != "" {
			r.AttributionRequestID = requestID
		}
	case ProviderMediation:
		r.MediationStatus = status
		if requestID != "" {
			r.MediationRequestID = requestID
		}
	default:
		return false
	}
	return true
}

// AllProvidersCompleted reports whether the three external deletion
// providers have finished, independently of the purge flags.
func (r *DeletionRequest) AllProvidersCompleted() bool {
	return r.GDPRStatus == StatusCompleted &&
		r.AttributionStatus == StatusCompleted &&
		r.MediationStatus == StatusCompleted
}

// RecomputeCompletion derives IsFullyCompleted from the five status fields.
// It is the only way the flag changes.
func (r *DeletionRequest) RecomputeCompletion() {
	r.IsFullyCompleted = r.AllProvidersCompleted() &&
		r.WarehousePurgeStatus == StatusCompleted &&
		r.LiveStatePurgeStatus == StatusCompleted
}
