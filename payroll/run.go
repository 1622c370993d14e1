package payroll

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// ProratedLine is one salary component scaled to the period. Annual keeps the
// un-prorated base for audit.
type ProratedLine struct {
	Name    string          `json:"name"`
	Code    string          `json:"code"`
	Formula string          `json:"formula,omitempty"`
	Annual  decimal.Decimal `json:"annual_amount"`
	Monthly decimal.Decimal `json:"monthly_amount"`
}

// Proration is the attendance basis of one run item. Factor is rounded to 4
// places for display; amounts are computed from PaidDays and TotalDays directly.
type Proration struct {
	TotalDays int             `json:"total_days"`
	PaidDays  decimal.Decimal `json:"paid_days"`
	Factor    decimal.Decimal `json:"proration_factor"`
}

type ItemDetails struct {
	Earnings   []ProratedLine `json:"earnings"`
	Deductions []ProratedLine `json:"deductions"`
	Benefits   []ProratedLine `json:"benefits"`
	Attendance Proration      `json:"attendance"`
}

// RunItem is one employee's pay for the period.
type RunItem struct {
	EmployeeID           generic.EmployeeID `json:"employee_id"`
	SalarySnapshotID     string             `json:"salary_snapshot_id"`
	AttendanceSnapshotID string             `json:"attendance_snapshot_id"`
	GrossEarnings        decimal.Decimal    `json:"gross_earnings"`
	TotalDeductions      decimal.Decimal    `json:"total_deductions"`
	NetPay               decimal.Decimal    `json:"net_pay"`
	Details              ItemDetails        `json:"details"`
}

func (it RunItem) clone() RunItem {
	it.Details.Earnings = slices.Clone(it.Details.Earnings)
	it.Details.Deductions = slices.Clone(it.Details.Deductions)
	it.Details.Benefits = slices.Clone(it.Details.Benefits)
	return it
}

// RunSnapshot is a payroll run for one (tenant, period, version). It is
// locked on creation and has no mutating methods; a rerun is a new snapshot.
type RunSnapshot struct {
	id        string
	tenantID  generic.TenantID
	period    generic.Period
	version   int
	items     []RunItem
	locked    bool
	createdAt time.Time
}

func (r *RunSnapshot) ID() string                 { return r.id }
func (r *RunSnapshot) TenantID() generic.TenantID { return r.tenantID }
func (r *RunSnapshot) Period() generic.Period     { return r.period }
func (r *RunSnapshot) Version() int               { return r.version }
func (r *RunSnapshot) Locked() bool               { return r.locked }
func (r *RunSnapshot) CreatedAt() time.Time       { return r.createdAt }

// Items returns a deep copy of the run items.
func (r *RunSnapshot) Items() []RunItem {
	out := make([]RunItem, len(r.items))
	for i, it := range r.items {
		out[i] = it.clone()
	}
	return out
}

// Item returns the run item of one employee.
func (r *RunSnapshot) Item(employeeID generic.EmployeeID) (RunItem, bool) {
	for _, it := range r.items {
		if it.EmployeeID == employeeID {
			return it.clone(), true
		}
	}
	return RunItem{}, false
}

// Totals sums gross, deductions and net over all items.
func (r *RunSnapshot) Totals() (gross, deductions, net decimal.Decimal) {
	for _, it := range r.items {
		gross = gross.Add(it.GrossEarnings)
		deductions = deductions.Add(it.TotalDeductions)
		net = net.Add(it.NetPay)
	}
	return gross, deductions, net
}

type runJSON struct {
	ID        string           `json:"id"`
	TenantID  generic.TenantID `json:"tenant_id"`
	Period    generic.Period   `json:"period"`
	Version   int              `json:"version"`
	Items     []RunItem        `json:"items"`
	Locked    bool             `json:"locked"`
	CreatedAt time.Time        `json:"created_at"`
}

func (r *RunSnapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(runJSON{
		ID:        r.id,
		TenantID:  r.tenantID,
		Period:    r.period,
		Version:   r.version,
		Items:     r.items,
		Locked:    r.locked,
		CreatedAt: r.createdAt,
	})
}

func (r *RunSnapshot) UnmarshalJSON(b []byte) error {
	var j runJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	*r = RunSnapshot{
		id:        j.ID,
		tenantID:  j.TenantID,
		period:    j.Period,
		version:   j.Version,
		items:     j.Items,
		locked:    j.Locked,
		createdAt: j.CreatedAt,
	}
	return nil
}
