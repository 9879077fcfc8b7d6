package generic

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// EMPLOYEE - Directory record used for routing and eligibility
// =============================================================================

type EmploymentStatus string

const (
	EmploymentPermanent EmploymentStatus = "Permanent"
	EmploymentProbation EmploymentStatus = "Probation"
	EmploymentNotice    EmploymentStatus = "Notice"
)

type VisaType string

const (
	VisaNone       VisaType = ""
	VisaEmployment VisaType = "Employment"
	VisaResidence  VisaType = "Residence"
	VisaVisit      VisaType = "Visit"
)

type Employee struct {
	ID          EmployeeID
	UserID      UserID
	Name        string
	Email       string
	Department  string
	Designation string
	Role        OrgRole
	// ManagerID is the employee this person reports to.
	ManagerID EmployeeID

	EmploymentStatus EmploymentStatus
	Salary           decimal.Decimal
	VisaType         VisaType
	VisaExpiry       *time.Time

	CreatedAt time.Time
}

// Canonicalize derives Role from the free-text department and designation.
// Directory implementations call it on every record they hand out.
func (e *Employee) Canonicalize() {
	e.Role = CanonicalRole(e.Department, e.Designation)
}

// Ref returns the identity used for AssignedTo.
func (e *Employee) Ref() string {
	return string(e.ID)
}

// =============================================================================
// DIRECTORY - Employee lookups needed by routing and actor resolution
// =============================================================================

// Directory returns (nil, nil) for single-record lookups that find nothing.
type Directory interface {
	GetEmployee(ctx context.Context, id EmployeeID) (*Employee, error)
	FindByUserID(ctx context.Context, userID UserID) (*Employee, error)
	FindByEmail(ctx context.Context, email string) (*Employee, error)
	FindByRole(ctx context.Context, role OrgRole) ([]Employee, error)
	// GetReportee returns the reporting manager of the given employee.
	GetReportee(ctx context.Context, id EmployeeID) (*Employee, error)
}
