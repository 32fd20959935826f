package sanction

import "github.com/opensource-finance/sanctiond/internal/domain"

// Operation names a decision operation. It appears in InvalidState errors,
// lifecycle events and metrics.
type Operation string

const (
	OpCreate      Operation = "create"
	OpUpdate      Operation = "update"
	OpSubmit      Operation = "submit"
	OpApprove     Operation = "approve"
	OpReturn      Operation = "return"
	OpNotify      Operation = "notify"
	OpPay         Operation = "pay"
	OpAppeal      Operation = "appeal"
	OpCancel      Operation = "cancel"
	OpMarkOverdue Operation = "mark_overdue"
	OpExport      Operation = "export"
)

// transitions lists, per operation, the status each permitted source status moves to.
// Any pair not listed is rejected. paid and cancelled have no outgoing edges.
var transitions = map[Operation]map[domain.Status]domain.Status{
	OpSubmit: {
		domain.StatusDraft:    domain.StatusSubmitted,
		domain.StatusReturned: domain.StatusSubmitted,
	},
	OpApprove: {
		domain.StatusSubmitted: domain.StatusApproved,
	},
	OpReturn: {
		domain.StatusSubmitted: domain.StatusReturned,
	},
	OpNotify: {
		domain.StatusApproved: domain.StatusNotified,
	},
	OpPay: {
		domain.StatusNotified: domain.StatusPaid,
		domain.StatusAppealed: domain.StatusPaid,
		domain.StatusOverdue:  domain.StatusPaid,
	},
	OpAppeal: {
		domain.StatusNotified: domain.StatusAppealed,
	},
	OpCancel: {
		domain.StatusNotified: domain.StatusCancelled,
		domain.StatusAppealed: domain.StatusCancelled,
		domain.StatusOverdue:  domain.StatusCancelled,
	},
	OpMarkOverdue: {
		domain.StatusNotified: domain.StatusOverdue,
	},
}

// Next returns the status op moves a decision in status from to.
func Next(op Operation, from domain.Status) (domain.Status, error) {
	if to, ok := transitions[op][from]; ok {
		return to, nil
	}
	return "", &domain.InvalidStateError{Current: from, Operation: string(op)}
}

// Permitted reports whether op may run on a decision in status s.
// Update and export are permitted without changing status.
func Permitted(op Operation, s domain.Status) bool {
	switch op {
	case OpUpdate:
		return s.Editable()
	case OpExport:
		return s.Exportable()
	default:
		_, ok := transitions[op][s]
		return ok
	}
}

// AllowedOperations lists the operations permitted in status s, in lifecycle order.
func AllowedOperations(s domain.Status) []Operation {
	all := []Operation{OpUpdate, OpSubmit, OpApprove, OpReturn, OpNotify, OpPay, OpAppeal, OpCancel, OpMarkOverdue, OpExport}
	var out []Operation
	for _, op := range all {
		if Permitted(op, s) {
			out = append(out, op)
		}
	}
	return out
}

// paymentOperation maps a payment outcome to its operation.
func paymentOperation(outcome domain.Status) (Operation, bool) {
	switch outcome {
	case domain.StatusPaid:
		return OpPay, true
	case domain.StatusAppealed:
		return OpAppeal, true
	case domain.StatusCancelled:
		return OpCancel, true
	default:
		return "", false
	}
}
