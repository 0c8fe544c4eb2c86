package admission

import (
	"context"
	"sync"

	"github.com/rhuss/quotagate/pkg/quota"
)

type reservationKey struct{}

// Reservation records what an admitted request was charged so it can be
// reconciled after the handler returns.
type Reservation struct {
	decisions []*quota.Decision
	estimate  int64

	mu       sync.Mutex
	actual   int64
	reported bool
}

func newReservation(out *quota.Outcome, estimate int64) *Reservation {
	return &Reservation{decisions: out.Decisions, estimate: estimate}
}

// Decisions returns the admitted per-dimension decisions.
func (r *Reservation) Decisions() []*quota.Decision {
	return r.decisions
}

// Estimate returns the cost charged up front for consumption dimensions.
func (r *Reservation) Estimate() int64 {
	return r.estimate
}

// Actual returns the measured cost and whether one was reported.
func (r *Reservation) Actual() (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.actual, r.reported
}

func (r *Reservation) report(units int64) {
	r.mu.Lock()
	r.actual = units
	r.reported = true
	r.mu.Unlock()
}

// ReservationFromContext returns the request's reservation, or nil.
func ReservationFromContext(ctx context.Context) *Reservation {
	r, _ := ctx.Value(reservationKey{}).(*Reservation)
	return r
}

func contextWithReservation(ctx context.Context, r *Reservation) context.Context {
	return context.WithValue(ctx, reservationKey{}, r)
}

// ReportCost registers the measured consumption of the current request.
// The last report wins. It returns false when the request carries no
// reservation or units is negative.
func ReportCost(ctx context.Context, units int64) bool {
	r := ReservationFromContext(ctx)
	if r == nil || units < 0 {
		return false
	}
	r.report(units)
	return true
}
