package deadline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/sanctiond/internal/domain"
)

func newResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := NewResolver(domain.DefaultDeadlines())
	require.NoError(t, err)
	return r
}

func day(r *Resolver, t time.Time) string {
	return t.In(r.Location()).Format("2006-01-02")
}

func TestResolveRegisteredMail(t *testing.T) {
	r := newResolver(t)
	notifiedAt := time.Date(2025, 1, 10, 9, 0, 0, 0, r.Location())

	d, err := r.Resolve(domain.MethodRegisteredMail, notifiedAt)
	require.NoError(t, err)

	assert.Equal(t, "2025-02-09", day(r, d.Payment))
	assert.Equal(t, "2025-01-25", day(r, d.Appeal))
	assert.Equal(t, 0, d.Payment.In(r.Location()).Hour())
}

func TestResolveMethods(t *testing.T) {
	r := newResolver(t)
	notifiedAt := time.Date(2025, 3, 1, 12, 0, 0, 0, r.Location())

	tests := []struct {
		method  domain.NotificationMethod
		payment string
		appeal  string
	}{
		{domain.MethodPersonalService, "2025-03-26", "2025-03-11"},
		{domain.MethodRegisteredMail, "2025-03-31", "2025-03-16"},
		{domain.MethodEmail, "2025-03-26", "2025-03-11"},
	}

	for _, tt := range tests {
		t.Run(string(tt.method), func(t *testing.T) {
			d, err := r.Resolve(tt.method, notifiedAt)
			require.NoError(t, err)
			assert.Equal(t, tt.payment, day(r, d.Payment))
			assert.Equal(t, tt.appeal, day(r, d.Appeal))
		})
	}
}

func TestResolveUsesPolicyCalendarDate(t *testing.T) {
	r := newResolver(t)

	// 22:30 UTC on the 10th is already the 11th in Athens
	notifiedAt := time.Date(2025, 1, 10, 22, 30, 0, 0, time.UTC)
	d, err := r.Resolve(domain.MethodRegisteredMail, notifiedAt)
	require.NoError(t, err)

	assert.Equal(t, "2025-02-10", day(r, d.Payment))
	assert.Equal(t, "2025-01-26", day(r, d.Appeal))
}

func TestResolveAcrossDaylightSaving(t *testing.T) {
	r := newResolver(t)

	// Europe/Athens switches to summer time on 2025-03-30
	notifiedAt := time.Date(2025, 3, 20, 10, 0, 0, 0, r.Location())
	d, err := r.Resolve(domain.MethodRegisteredMail, notifiedAt)
	require.NoError(t, err)

	local := d.Payment.In(r.Location())
	assert.Equal(t, "2025-04-19", local.Format("2006-01-02"))
	assert.Equal(t, 0, local.Hour())
}

func TestResolveUnknownMethod(t *testing.T) {
	r := newResolver(t)

	_, err := r.Resolve("carrier_pigeon", time.Now())
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestIsOverdue(t *testing.T) {
	r := newResolver(t)
	deadline := time.Date(2025, 2, 9, 0, 0, 0, 0, r.Location())

	tests := []struct {
		name string
		asOf time.Time
		want bool
	}{
		{"day before", time.Date(2025, 2, 8, 23, 59, 0, 0, r.Location()), false},
		{"deadline day morning", time.Date(2025, 2, 9, 0, 1, 0, 0, r.Location()), false},
		{"deadline day evening", time.Date(2025, 2, 9, 23, 59, 0, 0, r.Location()), false},
		{"next day", time.Date(2025, 2, 10, 0, 0, 0, 0, r.Location()), true},
		{"next day in UTC terms", time.Date(2025, 2, 9, 22, 30, 0, 0, time.UTC), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.IsOverdue(deadline, tt.asOf))
		})
	}
}

func TestNewResolverValidation(t *testing.T) {
	cfg := domain.DefaultDeadlines()
	cfg.TimeZone = "Mars/Olympus_Mons"
	_, err := NewResolver(cfg)
	assert.Error(t, err)

	cfg = domain.DefaultDeadlines()
	cfg.Email = domain.DeadlineOffsets{}
	_, err = NewResolver(cfg)
	assert.Error(t, err)

	cfg = domain.DefaultDeadlines()
	cfg.TimeZone = ""
	r, err := NewResolver(cfg)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, r.Location())
}
