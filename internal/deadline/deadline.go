// Package deadline computes payment and appeal deadlines for notified decisions.
package deadline

import (
	"fmt"
	"time"
	_ "time/tzdata" // deadlines must resolve in minimal containers without zoneinfo

	"github.com/opensource-finance/sanctiond/internal/domain"
)

// Resolver maps a notification method and date to calendar deadlines.
// Offsets are calendar days counted from the notification's calendar date in
// the policy time zone; a deadline is midnight at the start of its date.
type Resolver struct {
	cfg domain.DeadlineConfig
	loc *time.Location
}

// NewResolver validates cfg and loads its time zone.
func NewResolver(cfg domain.DeadlineConfig) (*Resolver, error) {
	loc := time.UTC
	if cfg.TimeZone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.TimeZone)
		if err != nil {
			return nil, fmt.Errorf("failed to load time zone %q: %w", cfg.TimeZone, err)
		}
	}

	for _, m := range []domain.NotificationMethod{domain.MethodPersonalService, domain.MethodRegisteredMail, domain.MethodEmail} {
		off, _ := cfg.Offsets(m)
		if off.PaymentDays <= 0 || off.AppealDays <= 0 {
			return nil, fmt.Errorf("deadline offsets for %s must be positive, got %d/%d", m, off.PaymentDays, off.AppealDays)
		}
	}

	return &Resolver{cfg: cfg, loc: loc}, nil
}

// Location returns the policy time zone.
func (r *Resolver) Location() *time.Location {
	return r.loc
}

// Resolve returns both deadlines computed independently from notifiedAt.
func (r *Resolver) Resolve(method domain.NotificationMethod, notifiedAt time.Time) (domain.Deadlines, error) {
	off, ok := r.cfg.Offsets(method)
	if !ok {
		verr := &domain.ValidationError{}
		verr.Add("method", fmt.Sprintf("unknown notification method %q", method))
		return domain.Deadlines{}, verr
	}

	anchor := r.Date(notifiedAt)
	return domain.Deadlines{
		Payment: anchor.AddDate(0, 0, off.PaymentDays),
		Appeal:  anchor.AddDate(0, 0, off.AppealDays),
	}, nil
}

// IsOverdue reports whether the calendar date of asOf is after the deadline's date.
// Payment on the deadline date itself is on time.
func (r *Resolver) IsOverdue(paymentDeadline, asOf time.Time) bool {
	return r.Date(asOf).After(r.Date(paymentDeadline))
}

// Date truncates t to midnight of its calendar date in the policy time zone.
func (r *Resolver) Date(t time.Time) time.Time {
	y, m, d := t.In(r.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, r.loc)
}
