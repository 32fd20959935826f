// Package sanction implements the sanction decision workflow: calculation,
// drafting, approval, notification and settlement of fines.
package sanction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/sanctiond/internal/bus"
	"github.com/opensource-finance/sanctiond/internal/calculator"
	"github.com/opensource-finance/sanctiond/internal/deadline"
	"github.com/opensource-finance/sanctiond/internal/domain"
	"github.com/opensource-finance/sanctiond/internal/metrics"
)

// Store persists decisions and their exports.
type Store interface {
	CreateDecision(ctx context.Context, d *domain.SanctionDecision) error
	GetDecision(ctx context.Context, id string) (*domain.SanctionDecision, error)
	ListDecisions(ctx context.Context, filter domain.DecisionFilter) ([]*domain.SanctionDecision, error)
	UpdateDecision(ctx context.Context, d *domain.SanctionDecision, expectedStatus domain.Status, expectedVersion int64) error
	NextProtocolNumber(ctx context.Context, year int) (int64, error)
	RecordExport(ctx context.Context, rec *domain.ExportRecord, expectedStatus domain.Status) error
	ListExports(ctx context.Context, decisionID string) ([]*domain.ExportRecord, error)
}

// cacheInvalidator is implemented by recidivism counters that cache counts.
type cacheInvalidator interface {
	Invalidate(ctx context.Context, structureID string, category domain.Category) error
}

// Deps are the collaborators of a Service. Bus and Metrics are optional.
type Deps struct {
	Store      Store
	Structures domain.StructureDirectory
	Rules      domain.RuleCatalog
	Recidivism domain.RecidivismCounter
	Calculator *calculator.Calculator
	Deadlines  *deadline.Resolver
	Bus        domain.EventBus
	Metrics    *metrics.Metrics

	// Now overrides the clock.
	Now func() time.Time
}

// Service runs decision operations. Every transition reads the decision,
// validates it against the state machine and writes it back guarded by the
// status and version it read, so concurrent callers never both succeed.
type Service struct {
	store      Store
	structures domain.StructureDirectory
	rules      domain.RuleCatalog
	recidivism domain.RecidivismCounter
	calc       *calculator.Calculator
	deadlines  *deadline.Resolver
	bus        domain.EventBus
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewService creates a service.
func NewService(d Deps) (*Service, error) {
	switch {
	case d.Store == nil:
		return nil, errors.New("sanction: store is required")
	case d.Structures == nil:
		return nil, errors.New("sanction: structure directory is required")
	case d.Rules == nil:
		return nil, errors.New("sanction: rule catalog is required")
	case d.Recidivism == nil:
		return nil, errors.New("sanction: recidivism counter is required")
	case d.Calculator == nil:
		return nil, errors.New("sanction: calculator is required")
	case d.Deadlines == nil:
		return nil, errors.New("sanction: deadline resolver is required")
	}

	now := d.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		store:      d.Store,
		structures: d.Structures,
		rules:      d.Rules,
		recidivism: d.Recidivism,
		calc:       d.Calculator,
		deadlines:  d.Deadlines,
		bus:        d.Bus,
		metrics:    d.Metrics,
		now:        now,
	}, nil
}

// CalculateRequest identifies what to calculate.
type CalculateRequest struct {
	ViolationCode string `json:"violationCode"`
	StructureID   string `json:"structureId"`
	CustomAmount  *int64 `json:"customAmount,omitempty"`
}

// Calculate resolves the rule, structure and prior-sanction count, then runs the calculator.
func (s *Service) Calculate(ctx context.Context, req CalculateRequest) (*domain.CalculationResult, error) {
	_, result, err := s.resolve(ctx, req)
	return result, err
}

func (s *Service) resolve(ctx context.Context, req CalculateRequest) (*domain.Structure, *domain.CalculationResult, error) {
	verr := &domain.ValidationError{}
	if req.ViolationCode == "" {
		verr.Add("violationCode", "required")
	}
	if req.StructureID == "" {
		verr.Add("structureId", "required")
	}
	if err := verr.OrNil(); err != nil {
		return nil, nil, err
	}

	structure, err := s.structures.GetStructure(ctx, req.StructureID)
	if err != nil {
		return nil, nil, err
	}
	result, err := s.calculate(ctx, req.ViolationCode, structure, req.CustomAmount)
	if err != nil {
		return nil, nil, err
	}
	return structure, result, nil
}

func (s *Service) calculate(ctx context.Context, code string, structure *domain.Structure, custom *int64) (*domain.CalculationResult, error) {
	rule, err := s.rules.Applicable(code, structure)
	if err != nil {
		return nil, err
	}

	count, err := s.recidivism.CountPriorSanctions(ctx, structure.ID, rule.Category)
	if err != nil {
		return nil, err
	}

	result, err := s.calc.Calculate(calculator.Input{
		Rule:            rule,
		StructureID:     structure.ID,
		RecidivismCount: count,
		CustomAmount:    custom,
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveFine(result.FinalAmount)
	return result, nil
}

// CreateRequest carries a new draft.
type CreateRequest struct {
	CalculateRequest
	Justification     string          `json:"justification"`
	InspectionFinding string          `json:"inspectionFinding,omitempty"`
	Obligor           *domain.Obligor `json:"obligor,omitempty"`
}

// Create calculates the fine and stores a new draft decision.
// Obligor name and AFM default to the structure representative.
func (s *Service) Create(ctx context.Context, actor domain.Actor, req CreateRequest) (*domain.SanctionDecision, error) {
	if err := actor.Require(string(OpCreate), domain.RoleDrafter); err != nil {
		s.metrics.IncTransition(string(OpCreate), outcome(err))
		return nil, err
	}

	structure, calc, err := s.resolve(ctx, req.CalculateRequest)
	if err != nil {
		s.metrics.IncTransition(string(OpCreate), outcome(err))
		return nil, err
	}

	var obligor domain.Obligor
	if req.Obligor != nil {
		obligor = *req.Obligor
	}
	if obligor.Name == "" {
		obligor.Name = structure.RepresentativeName
	}
	if obligor.AFM == "" {
		obligor.AFM = structure.RepresentativeAFM
	}

	now := s.now()
	d := &domain.SanctionDecision{
		ID:                uuid.New().String(),
		StructureID:       structure.ID,
		ViolationCode:     calc.ViolationCode,
		Category:          calc.Category,
		Snapshot:          calc.Snapshot,
		Justification:     req.Justification,
		InspectionFinding: req.InspectionFinding,
		Obligor:           obligor,
		DrafterID:         actor.ID,
		Status:            domain.StatusDraft,
		Version:           1,
		CreatedAt:         now,
		StatusChangedAt:   now,
		UpdatedAt:         now,
	}

	if err := s.store.CreateDecision(ctx, d); err != nil {
		s.metrics.IncTransition(string(OpCreate), outcome(err))
		return nil, fmt.Errorf("failed to create decision: %w", err)
	}

	s.metrics.IncTransition(string(OpCreate), "ok")
	s.publish(ctx, domain.TopicDecisionCreated, OpCreate, actor.ID, d, structure.Name)
	slog.Info("decision created",
		"decision_id", d.ID,
		"structure_id", d.StructureID,
		"violation_code", d.ViolationCode,
		"final_amount", d.Snapshot.FinalAmount,
	)
	return d, nil
}

// UpdateRequest carries draft edits. Nil fields are left unchanged.
type UpdateRequest struct {
	// ExpectedVersion rejects the update with Conflict when the decision changed since it was read.
	ExpectedVersion *int64 `json:"expectedVersion,omitempty"`

	Justification     *string         `json:"justification,omitempty"`
	InspectionFinding *string         `json:"inspectionFinding,omitempty"`
	Obligor           *domain.Obligor `json:"obligor,omitempty"`

	// CustomAmount replaces the operator-chosen amount; ResetAmount drops it.
	// Either one, or Recalculate, re-runs the calculator.
	CustomAmount *int64 `json:"customAmount,omitempty"`
	ResetAmount  bool   `json:"resetAmount,omitempty"`
	Recalculate  bool   `json:"recalculate,omitempty"`
}

// Update edits a draft or returned decision.
func (s *Service) Update(ctx context.Context, actor domain.Actor, id string, req UpdateRequest) (*domain.SanctionDecision, error) {
	if err := actor.Require(string(OpUpdate), domain.RoleDrafter); err != nil {
		s.metrics.IncTransition(string(OpUpdate), outcome(err))
		return nil, err
	}

	return s.transition(ctx, id, OpUpdate, actor, func(d *domain.SanctionDecision, now time.Time) error {
		if !d.Status.Editable() {
			return &domain.InvalidStateError{Current: d.Status, Operation: string(OpUpdate)}
		}
		if req.ExpectedVersion != nil && *req.ExpectedVersion != d.Version {
			return fmt.Errorf("%w: decision is at version %d, not %d", domain.ErrConflict, d.Version, *req.ExpectedVersion)
		}

		if req.Justification != nil {
			d.Justification = *req.Justification
		}
		if req.InspectionFinding != nil {
			d.InspectionFinding = *req.InspectionFinding
		}
		if req.Obligor != nil {
			d.Obligor = *req.Obligor
		}

		if req.CustomAmount != nil || req.ResetAmount || req.Recalculate {
			custom := d.Snapshot.CustomAmount
			switch {
			case req.ResetAmount:
				custom = nil
			case req.CustomAmount != nil:
				custom = req.CustomAmount
			}

			structure, err := s.structures.GetStructure(ctx, d.StructureID)
			if err != nil {
				return err
			}
			calc, err := s.calculate(ctx, d.ViolationCode, structure, custom)
			if err != nil {
				return err
			}
			d.Category = calc.Category
			d.Snapshot = calc.Snapshot
		}
		return nil
	})
}

var afmPattern = regexp.MustCompile(`^[0-9]{9}$`)

// Submit sends a draft or returned decision for approval. Every missing or
// invalid field is reported in a single ValidationError.
func (s *Service) Submit(ctx context.Context, actor domain.Actor, id string) (*domain.SanctionDecision, error) {
	if err := actor.Require(string(OpSubmit), domain.RoleDrafter); err != nil {
		s.metrics.IncTransition(string(OpSubmit), outcome(err))
		return nil, err
	}

	return s.transition(ctx, id, OpSubmit, actor, func(d *domain.SanctionDecision, now time.Time) error {
		next, err := Next(OpSubmit, d.Status)
		if err != nil {
			return err
		}
		if err := validateForSubmit(d); err != nil {
			return err
		}
		d.Status = next
		d.ReturnComments = ""
		return nil
	})
}

func validateForSubmit(d *domain.SanctionDecision) error {
	verr := &domain.ValidationError{}
	if strings.TrimSpace(d.Justification) == "" {
		verr.Add("justification", "required")
	}
	if strings.TrimSpace(d.Obligor.Name) == "" {
		verr.Add("obligor.name", "required")
	}
	switch {
	case d.Obligor.AFM == "":
		verr.Add("obligor.afm", "required")
	case !afmPattern.MatchString(d.Obligor.AFM):
		verr.Add("obligor.afm", "must be 9 digits")
	}
	return verr.OrNil()
}

// Approve approves a submitted decision and assigns its protocol number.
func (s *Service) Approve(ctx context.Context, actor domain.Actor, id string) (*domain.SanctionDecision, error) {
	if err := actor.Require(string(OpApprove), domain.RoleApprover); err != nil {
		s.metrics.IncTransition(string(OpApprove), outcome(err))
		return nil, err
	}

	d, err := s.transition(ctx, id, OpApprove, actor, func(d *domain.SanctionDecision, now time.Time) error {
		next, err := Next(OpApprove, d.Status)
		if err != nil {
			return err
		}

		year := now.In(s.deadlines.Location()).Year()
		n, err := s.store.NextProtocolNumber(ctx, year)
		if err != nil {
			return err
		}

		approvedAt := now
		d.Status = next
		d.ProtocolNumber = fmt.Sprintf("%d/%06d", year, n)
		d.ApproverID = actor.ID
		d.ApprovedAt = &approvedAt
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateRecidivism(ctx, d)
	return d, nil
}

// Return sends a submitted decision back to its drafter with comments.
func (s *Service) Return(ctx context.Context, actor domain.Actor, id, comments string) (*domain.SanctionDecision, error) {
	if err := actor.Require(string(OpReturn), domain.RoleApprover); err != nil {
		s.metrics.IncTransition(string(OpReturn), outcome(err))
		return nil, err
	}

	return s.transition(ctx, id, OpReturn, actor, func(d *domain.SanctionDecision, now time.Time) error {
		next, err := Next(OpReturn, d.Status)
		if err != nil {
			return err
		}
		if strings.TrimSpace(comments) == "" {
			verr := &domain.ValidationError{}
			verr.Add("comments", "required")
			return verr
		}
		d.Status = next
		d.ReturnComments = comments
		return nil
	})
}

// Notify records service of an approved decision and fixes its deadlines.
// A zero notifiedAt means now. An explicit notifiedAt must lie between the
// approval and now.
func (s *Service) Notify(ctx context.Context, actor domain.Actor, id string, method domain.NotificationMethod, notifiedAt time.Time) (*domain.SanctionDecision, error) {
	if err := actor.Require(string(OpNotify)); err != nil {
		s.metrics.IncTransition(string(OpNotify), outcome(err))
		return nil, err
	}

	return s.transition(ctx, id, OpNotify, actor, func(d *domain.SanctionDecision, now time.Time) error {
		next, err := Next(OpNotify, d.Status)
		if err != nil {
			return err
		}

		at := notifiedAt
		if at.IsZero() {
			at = now
		}
		if err := checkNotifiedAt(at, d.ApprovedAt, now); err != nil {
			return err
		}
		deadlines, err := s.deadlines.Resolve(method, at)
		if err != nil {
			return err
		}

		d.Status = next
		d.NotificationMethod = method
		d.NotifiedAt = &at
		d.PaymentDeadline = &deadlines.Payment
		d.AppealDeadline = &deadlines.Appeal
		return nil
	})
}

func checkNotifiedAt(at time.Time, approvedAt *time.Time, now time.Time) error {
	verr := &domain.ValidationError{}
	switch {
	case at.After(now):
		verr.Add("notifiedAt", "must not be in the future")
	case approvedAt != nil && at.Before(*approvedAt):
		verr.Add("notifiedAt", "must not precede the approval")
	}
	return verr.OrNil()
}

// RecordPayment settles a notified decision. outcome is paid, appealed or cancelled.
func (s *Service) RecordPayment(ctx context.Context, actor domain.Actor, id string, result domain.Status) (*domain.SanctionDecision, error) {
	op, ok := paymentOperation(result)
	if !ok {
		verr := &domain.ValidationError{}
		verr.Add("outcome", fmt.Sprintf("must be one of paid, appealed, cancelled, got %q", result))
		return nil, verr
	}
	if err := actor.Require(string(op)); err != nil {
		s.metrics.IncTransition(string(op), outcome(err))
		return nil, err
	}

	d, err := s.transition(ctx, id, op, actor, func(d *domain.SanctionDecision, now time.Time) error {
		next, err := Next(op, d.Status)
		if err != nil {
			return err
		}
		d.Status = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	if op == OpCancel {
		s.invalidateRecidivism(ctx, d)
	}
	return d, nil
}

// MarkOverdue moves a notified decision past its payment deadline to overdue.
// It reports whether the decision changed. Decisions that are already
// overdue, appealed, paid, cancelled or not yet due are left alone; decisions
// that were never notified are rejected.
func (s *Service) MarkOverdue(ctx context.Context, id string, asOf time.Time) (*domain.SanctionDecision, bool, error) {
	changed := false
	d, err := s.transition(ctx, id, OpMarkOverdue, domain.SystemActor, func(d *domain.SanctionDecision, now time.Time) error {
		switch d.Status {
		case domain.StatusOverdue, domain.StatusAppealed, domain.StatusPaid, domain.StatusCancelled:
			return errNoop
		case domain.StatusNotified:
			if d.PaymentDeadline == nil || !s.deadlines.IsOverdue(*d.PaymentDeadline, asOf) {
				return errNoop
			}
		}

		next, err := Next(OpMarkOverdue, d.Status)
		if err != nil {
			return err
		}
		d.Status = next
		changed = true
		return nil
	})
	return d, changed, err
}

// Export writes a fiscal export record for a decision that is approved or later.
// Each call writes a new immutable record.
func (s *Service) Export(ctx context.Context, actor domain.Actor, id string) (*domain.ExportRecord, error) {
	if err := actor.Require(string(OpExport)); err != nil {
		s.metrics.IncTransition(string(OpExport), outcome(err))
		return nil, err
	}

	d, err := s.getDecision(ctx, id)
	if err != nil {
		return nil, err
	}
	if !d.Status.Exportable() {
		err := &domain.InvalidStateError{Current: d.Status, Operation: string(OpExport)}
		s.metrics.IncTransition(string(OpExport), outcome(err))
		return nil, err
	}

	policy := s.calc.Policy()
	rec := &domain.ExportRecord{
		ID:               uuid.New().String(),
		DecisionID:       d.ID,
		ProtocolNumber:   d.ProtocolNumber,
		Status:           d.Status,
		ObligorName:      d.Obligor.Name,
		ObligorAFM:       d.Obligor.AFM,
		ObligorDOY:       d.Obligor.DOY,
		ObligorAddress:   d.Obligor.Address,
		AmountState:      d.Snapshot.AmountState,
		StateBudgetCode:  policy.StateBudgetCode,
		AmountRegion:     d.Snapshot.AmountRegion,
		RegionBudgetCode: policy.RegionBudgetCode,
		LegalBasis:       d.Snapshot.LegalBasis,
		GeneratedAt:      s.now(),
	}
	if d.ApprovedAt != nil {
		rec.ApprovedAt = *d.ApprovedAt
	}

	if err := s.store.RecordExport(ctx, rec, d.Status); err != nil {
		s.metrics.IncTransition(string(OpExport), outcome(err))
		if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to record export: %w", err)
	}

	s.metrics.IncTransition(string(OpExport), "ok")
	s.metrics.IncExport()
	if s.bus != nil {
		if err := bus.PublishJSON(ctx, s.bus, domain.TopicExportGenerated, rec); err != nil {
			slog.Warn("failed to publish export", "decision_id", d.ID, "export_id", rec.ID, "error", err)
		}
	}
	slog.Info("export generated",
		"decision_id", d.ID,
		"export_id", rec.ID,
		"protocol_number", rec.ProtocolNumber,
		"actor", actor.ID,
	)
	return rec, nil
}

// Exports lists the export records of a decision, oldest first.
func (s *Service) Exports(ctx context.Context, id string) ([]*domain.ExportRecord, error) {
	if _, err := s.getDecision(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListExports(ctx, id)
}

// Get returns a decision.
func (s *Service) Get(ctx context.Context, id string) (*domain.SanctionDecision, error) {
	return s.getDecision(ctx, id)
}

// View returns the read model of a decision.
func (s *Service) View(ctx context.Context, id string) (*domain.DecisionView, error) {
	d, err := s.getDecision(ctx, id)
	if err != nil {
		return nil, err
	}
	return d.View(s.structureName(ctx, d.StructureID)), nil
}

// List returns read models of the decisions matching filter, newest first.
func (s *Service) List(ctx context.Context, filter domain.DecisionFilter) ([]*domain.DecisionView, error) {
	decisions, err := s.store.ListDecisions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}

	names := make(map[string]string)
	views := make([]*domain.DecisionView, 0, len(decisions))
	for _, d := range decisions {
		name, ok := names[d.StructureID]
		if !ok {
			name = s.structureName(ctx, d.StructureID)
			names[d.StructureID] = name
		}
		views = append(views, d.View(name))
	}
	return views, nil
}

// errNoop stops a transition without writing.
var errNoop = errors.New("no transition")

// transition reads decision id, lets apply mutate a copy and writes the copy
// back guarded by the status and version that were read.
func (s *Service) transition(ctx context.Context, id string, op Operation, actor domain.Actor, apply func(d *domain.SanctionDecision, now time.Time) error) (*domain.SanctionDecision, error) {
	cur, err := s.getDecision(ctx, id)
	if err != nil {
		s.metrics.IncTransition(string(op), outcome(err))
		return nil, err
	}

	next := *cur
	now := s.now()
	if err := apply(&next, now); err != nil {
		if errors.Is(err, errNoop) {
			s.metrics.IncTransition(string(op), "noop")
			return cur, nil
		}
		s.metrics.IncTransition(string(op), outcome(err))
		return nil, err
	}

	next.UpdatedAt = now
	if next.Status != cur.Status {
		next.StatusChangedAt = now
	}

	if err := s.store.UpdateDecision(ctx, &next, cur.Status, cur.Version); err != nil {
		s.metrics.IncTransition(string(op), outcome(err))
		if errors.Is(err, domain.ErrConflict) {
			slog.Info("decision changed concurrently",
				"decision_id", id,
				"operation", op,
				"status", cur.Status,
				"version", cur.Version,
			)
			return nil, err
		}
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to %s decision: %w", op, err)
	}

	s.metrics.IncTransition(string(op), "ok")

	topic := domain.DecisionTopic(next.Status)
	if op == OpUpdate {
		topic = domain.TopicDecisionUpdated
	}
	s.publish(ctx, topic, op, actor.ID, &next, s.structureName(ctx, next.StructureID))

	slog.Info("decision transitioned",
		"decision_id", id,
		"operation", op,
		"from", cur.Status,
		"status", next.Status,
		"version", next.Version,
		"actor", actor.ID,
	)
	return &next, nil
}

func (s *Service) getDecision(ctx context.Context, id string) (*domain.SanctionDecision, error) {
	if id == "" {
		verr := &domain.ValidationError{}
		verr.Add("id", "required")
		return nil, verr
	}
	d, err := s.store.GetDecision(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("decision %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load decision: %w", err)
	}
	return d, nil
}

func (s *Service) structureName(ctx context.Context, id string) string {
	structure, err := s.structures.GetStructure(ctx, id)
	if err != nil {
		slog.Debug("structure lookup failed", "structure_id", id, "error", err)
		return ""
	}
	return structure.Name
}

func (s *Service) publish(ctx context.Context, topic string, op Operation, actorID string, d *domain.SanctionDecision, structureName string) {
	if s.bus == nil {
		return
	}
	event := domain.DecisionEvent{
		Operation: string(op),
		ActorID:   actorID,
		Decision:  d.View(structureName),
	}
	if err := bus.PublishJSON(ctx, s.bus, topic, event); err != nil {
		slog.Warn("failed to publish decision event", "decision_id", d.ID, "topic", topic, "error", err)
	}
}

func (s *Service) invalidateRecidivism(ctx context.Context, d *domain.SanctionDecision) {
	inv, ok := s.recidivism.(cacheInvalidator)
	if !ok {
		return
	}
	if err := inv.Invalidate(ctx, d.StructureID, d.Category); err != nil {
		slog.Warn("failed to invalidate recidivism count", "structure_id", d.StructureID, "category", d.Category, "error", err)
	}
}

// outcome classifies an error for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrAmountOutOfRange):
		return "validation"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrRuleNotFound):
		return "not_found"
	default:
		return "error"
	}
}
