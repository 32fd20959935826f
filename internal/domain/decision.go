package domain

import (
	"fmt"
	"time"
)

// Status is the lifecycle position of a sanction decision.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
	StatusReturned  Status = "returned"
	StatusApproved  Status = "approved"
	StatusNotified  Status = "notified"
	StatusPaid      Status = "paid"
	StatusAppealed  Status = "appealed"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusDraft, StatusSubmitted, StatusReturned, StatusApproved, StatusNotified,
	StatusAppealed, StatusOverdue, StatusPaid, StatusCancelled,
}

// ParseStatus converts a raw string into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.IsValid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusReturned, StatusApproved, StatusNotified,
		StatusPaid, StatusAppealed, StatusOverdue, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusCancelled
}

// Editable reports whether case content may still be changed.
func (s Status) Editable() bool {
	return s == StatusDraft || s == StatusReturned
}

// Exportable reports whether a fiscal export may be produced in status s.
// Cancelled decisions carry no receivable and are never exported.
func (s Status) Exportable() bool {
	switch s {
	case StatusApproved, StatusNotified, StatusAppealed, StatusOverdue, StatusPaid:
		return true
	default:
		return false
	}
}

// NotificationMethod is the legal channel used to serve the decision on the obligor.
type NotificationMethod string

const (
	MethodPersonalService NotificationMethod = "personal_service"
	MethodRegisteredMail  NotificationMethod = "registered_mail"
	MethodEmail           NotificationMethod = "email"
)

func (m NotificationMethod) IsValid() bool {
	switch m {
	case MethodPersonalService, MethodRegisteredMail, MethodEmail:
		return true
	default:
		return false
	}
}

// Obligor is the person held responsible for paying the fine.
type Obligor struct {
	Name       string `json:"name"`
	FatherName string `json:"fatherName,omitempty"`
	AFM        string `json:"afm"`
	DOY        string `json:"doy,omitempty"`
	Address    string `json:"address,omitempty"`
}

// Snapshot is the calculation output frozen onto a decision.
// Amounts are in cents.
type Snapshot struct {
	BaseAmount           int64   `json:"baseAmount"`
	CustomAmount         *int64  `json:"customAmount,omitempty"`
	CalculatedAmount     int64   `json:"calculatedAmount"`
	FinalAmount          int64   `json:"finalAmount"`
	Multiplier           float64 `json:"multiplier"`
	RecidivismCount      int     `json:"recidivismCount"`
	AmountState          int64   `json:"amountState"`
	AmountRegion         int64   `json:"amountRegion"`
	LegalBasis           string  `json:"legalBasis"`
	CanTriggerSuspension bool    `json:"canTriggerSuspension"`
}

// CalculationResult is the value produced by the fine calculator. It is not
// persisted by itself; creating a decision freezes its Snapshot.
type CalculationResult struct {
	ViolationCode string   `json:"violationCode"`
	StructureID   string   `json:"structureId"`
	Category      Category `json:"category"`
	Snapshot

	MinFine int64 `json:"minFine"`
	MaxFine int64 `json:"maxFine"`

	StateBudgetCode  string `json:"stateBudgetCode"`
	RegionBudgetCode string `json:"regionBudgetCode"`

	PaymentDeadlineDays int `json:"paymentDeadlineDays"`
	AppealDeadlineDays  int `json:"appealDeadlineDays"`
}

// Deadlines are the calendar dates computed when a decision is notified.
type Deadlines struct {
	Payment time.Time `json:"paymentDeadline"`
	Appeal  time.Time `json:"appealDeadline"`
}

// SanctionDecision is the aggregate root of the sanction workflow.
type SanctionDecision struct {
	ID            string   `json:"id"`
	StructureID   string   `json:"structureId"`
	ViolationCode string   `json:"violationCode"`
	Category      Category `json:"category"`

	Snapshot Snapshot `json:"calculation"`

	Justification     string  `json:"justification"`
	InspectionFinding string  `json:"inspectionFinding,omitempty"`
	Obligor           Obligor `json:"obligor"`

	DrafterID          string             `json:"drafterId"`
	ApproverID         string             `json:"approverId,omitempty"`
	ProtocolNumber     string             `json:"protocolNumber,omitempty"`
	ApprovedAt         *time.Time         `json:"approvedAt,omitempty"`
	ReturnComments     string             `json:"returnComments,omitempty"`
	NotificationMethod NotificationMethod `json:"notificationMethod,omitempty"`
	NotifiedAt         *time.Time         `json:"notifiedAt,omitempty"`
	PaymentDeadline    *time.Time         `json:"paymentDeadline,omitempty"`
	AppealDeadline     *time.Time         `json:"appealDeadline,omitempty"`

	Status   Status `json:"status"`
	Exported bool   `json:"exported"`
	Version  int64  `json:"version"`

	CreatedAt       time.Time `json:"createdAt"`
	StatusChangedAt time.Time `json:"statusChangedAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// DecisionFilter narrows decision listings.
type DecisionFilter struct {
	Status      Status
	StructureID string
	Limit       int
}

// DecisionView is the read model served to list and detail views.
type DecisionView struct {
	ID              string     `json:"id"`
	StructureID     string     `json:"structureId"`
	StructureName   string     `json:"structureName"`
	ViolationCode   string     `json:"violationCode"`
	FinalAmount     int64      `json:"finalAmount"`
	AmountState     int64      `json:"amountState"`
	AmountRegion    int64      `json:"amountRegion"`
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"createdAt"`
	ProtocolNumber  string     `json:"protocolNumber,omitempty"`
	Obligor         Obligor    `json:"obligor"`
	PaymentDeadline *time.Time `json:"paymentDeadline,omitempty"`
	AppealDeadline  *time.Time `json:"appealDeadline,omitempty"`
	ReturnComments  string     `json:"returnComments,omitempty"`
	Exported        bool       `json:"exported"`
	Version         int64      `json:"version"`
}

// View projects the decision into its read model.
func (d *SanctionDecision) View(structureName string) *DecisionView {
	return &DecisionView{
		ID:              d.ID,
		StructureID:     d.StructureID,
		StructureName:   structureName,
		ViolationCode:   d.ViolationCode,
		FinalAmount:     d.Snapshot.FinalAmount,
		AmountState:     d.Snapshot.AmountState,
		AmountRegion:    d.Snapshot.AmountRegion,
		Status:          d.Status,
		CreatedAt:       d.CreatedAt,
		ProtocolNumber:  d.ProtocolNumber,
		Obligor:         d.Obligor,
		PaymentDeadline: d.PaymentDeadline,
		AppealDeadline:  d.AppealDeadline,
		ReturnComments:  d.ReturnComments,
		Exported:        d.Exported,
		Version:         d.Version,
	}
}

// ExportRecord is the immutable fiscal projection of an approved decision.
type ExportRecord struct {
	ID               string    `json:"id"`
	DecisionID       string    `json:"decisionId"`
	ProtocolNumber   string    `json:"protocolNumber"`
	ApprovedAt       time.Time `json:"approvedAt"`
	Status           Status    `json:"status"`
	ObligorName      string    `json:"obligorName"`
	ObligorAFM       string    `json:"obligorAfm"`
	ObligorDOY       string    `json:"obligorDoy,omitempty"`
	ObligorAddress   string    `json:"obligorAddress,omitempty"`
	AmountState      int64     `json:"amountState"`
	StateBudgetCode  string    `json:"stateBudgetCode"`
	AmountRegion     int64     `json:"amountRegion"`
	RegionBudgetCode string    `json:"regionBudgetCode"`
	LegalBasis       string    `json:"legalBasis"`
	GeneratedAt      time.Time `json:"generatedAt"`
}
