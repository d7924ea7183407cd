/**
 * @description
 * This file defines the core domain models for the finance service. These structs
 * represent the main entities and data transfer objects (DTOs) used throughout the
 * service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Monetary values use `decimal.Decimal` so that aggregation (cash balance, burn,
 *   grant utilization) never loses precision to floating-point drift. Display
 *   rounding is a client concern.
 * - Calendar dates (transaction date, grant deadline, headcount start date) are
 *   plain `YYYY-MM-DD` strings with no time component; ISO ordering makes them
 *   directly comparable.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction types.
const (
	TransactionInflow  = "INFLOW"
	TransactionOutflow = "OUTFLOW"
)

// Payment modes. Mode is a free-form enumeration; these are the well-known values.
const (
	ModeUPI             = "UPI"
	ModeCreditCard      = "Credit Card"
	ModeAccountTransfer = "Account Transfer"
	ModeOther           = "Other"
)

// Instrument vocabulary for investor capital.
var InvestorInstruments = []string{"iSAFE", "Equity", "Grant", "Convertible Note", "CCD"}

// User represents an account holder of the tracker. The credential hash is never
// serialized and is stripped from every read path.
type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	Email        string    `json:"email,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	IsFirstLogin bool      `json:"is_first_login"`
	Permissions  []string  `json:"permissions"`
}

// HasPermission reports whether the user's stored permission set contains the
// given capability. Permissions are authoritative data on the record; they are
// derived from the role once at creation time and never re-derived on read.
func (u *User) HasPermission(capability string) bool {
	for _, p := range u.Permissions {
		if p == capability {
			return true
		}
	}
	return false
}

// Transaction is a single financial event in the ledger. Transactions are never
// updated in place; they are created and, at most, deleted.
type Transaction struct {
	ID          uuid.UUID       `json:"id"`
	Date        string          `json:"date"` // YYYY-MM-DD
	Type        string          `json:"type"` // INFLOW | OUTFLOW
	CategoryID  uuid.UUID       `json:"category_id"`
	Vendor      string          `json:"vendor,omitempty"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Mode        string          `json:"mode"`
	ProjectTag  string          `json:"project_tag,omitempty"`
	GrantID     *uuid.UUID      `json:"grant_id,omitempty"`
	UserID      uuid.UUID       `json:"user_id"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ChartOfAccount is a category taxonomy node. Static reference data from the
// ordinary user's point of view, though extensible through the API.
type ChartOfAccount struct {
	ID          uuid.UUID `json:"id"`
	Category    string    `json:"category"`
	Subcategory string    `json:"subcategory,omitempty"`
	Notes       string    `json:"notes,omitempty"`
}

// Grant tracks sanctioned external funding. AmountUtilized is derived: the system
// adds the amount of every transaction linked to the grant, and users never set
// it directly.
type Grant struct {
	ID              uuid.UUID       `json:"id"`
	Name            string          `json:"name"`
	TotalSanctioned decimal.Decimal `json:"total_sanctioned"`
	AmountReceived  decimal.Decimal `json:"amount_received"`
	AmountUtilized  decimal.Decimal `json:"amount_utilized"`
	Deadline        string          `json:"deadline,omitempty"` // YYYY-MM-DD
	Notes           string          `json:"notes,omitempty"`
}

// InvestorCapital records capital received from an investor. Creating one always
// creates exactly one paired INFLOW transaction against the Capital category.
type InvestorCapital struct {
	ID           uuid.UUID       `json:"id"`
	InvestorName string          `json:"investor_name"`
	DateReceived string          `json:"date_received"` // YYYY-MM-DD
	Amount       decimal.Decimal `json:"amount"`
	Instrument   string          `json:"instrument"`
	UsageNotes   string          `json:"usage_notes,omitempty"`
}

// Headcount is one person on payroll. Independent of the transaction ledger.
type Headcount struct {
	ID                uuid.UUID       `json:"id"`
	Name              string          `json:"name"`
	Role              string          `json:"role"`
	CTCMonthly        decimal.Decimal `json:"ctc_monthly"`
	StartDate         string          `json:"start_date"` // YYYY-MM-DD
	AllocationPercent int             `json:"allocation_percent"`
	Notes             string          `json:"notes,omitempty"`
}

// DashboardMetrics is the metrics engine output.
type DashboardMetrics struct {
	CurrentCashBalance    decimal.Decimal `json:"current_cash_balance"`
	MonthlyBurn           decimal.Decimal `json:"monthly_burn"`
	RunwayMonths          decimal.Decimal `json:"runway_months"`
	TotalOutflowLastMonth decimal.Decimal `json:"total_outflow_last_month"`
}

// CategoryTotal is one (name, value) pair of the category breakdown. The
// breakdown is an unordered set of these.
type CategoryTotal struct {
	Name  string          `json:"name"`
	Value decimal.Decimal `json:"value"`
}

// CreateTransactionRequest is the DTO for logging a transaction, whether the
// entry comes from the UI or from the agent's logTransaction tool.
type CreateTransactionRequest struct {
	Date        string          `json:"date"`
	Type        string          `json:"type"`
	CategoryID  uuid.UUID       `json:"category_id"`
	Vendor      string          `json:"vendor,omitempty"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Mode        string          `json:"mode"`
	ProjectTag  string          `json:"project_tag,omitempty"`
	GrantID     *uuid.UUID      `json:"grant_id,omitempty"`
}

// CreateUserRequest is the DTO for admin user creation. AccessLevel selects
// between the read-only and read-write permission sets for roles that support
// both (see PermissionsFor).
type CreateUserRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	AccessLevel string `json:"access_level,omitempty"`
}

// CreateGrantRequest is the DTO for registering a grant.
type CreateGrantRequest struct {
	Name            string          `json:"name"`
	TotalSanctioned decimal.Decimal `json:"total_sanctioned"`
	AmountReceived  decimal.Decimal `json:"amount_received"`
	Deadline        string          `json:"deadline,omitempty"`
	Notes           string          `json:"notes,omitempty"`
}

// CreateInvestorRequest is the DTO for recording investor capital.
type CreateInvestorRequest struct {
	InvestorName string          `json:"investor_name"`
	DateReceived string          `json:"date_received"`
	Amount       decimal.Decimal `json:"amount"`
	Instrument   string          `json:"instrument"`
	UsageNotes   string          `json:"usage_notes,omitempty"`
}

// CreateHeadcountRequest is the DTO for adding a person to payroll.
type CreateHeadcountRequest struct {
	Name              string          `json:"name"`
	Role              string          `json:"role"`
	CTCMonthly        decimal.Decimal `json:"ctc_monthly"`
	StartDate         string          `json:"start_date"`
	AllocationPercent int             `json:"allocation_percent"`
	Notes             string          `json:"notes,omitempty"`
}
