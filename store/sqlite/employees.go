package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"github.com/warp/hr-workflow/generic"
)

// =============================================================================
// EMPLOYEE DIRECTORY (generic.Directory interface)
// =============================================================================

const employeeColumns = `id, user_id, name, email, department, designation, org_role, manager_id,
	employment_status, salary, visa_type, visa_expiry, created_at`

// SaveEmployee inserts or updates an employee. The org role is derived
// from department and designation on every write.
func (s *Store) SaveEmployee(ctx context.Context, emp *generic.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	emp.Canonicalize()
	if emp.CreatedAt.IsZero() {
		emp.CreatedAt = time.Now()
	}
	var visaExpiry sql.NullString
	if emp.VisaExpiry != nil {
		visaExpiry = nullString(emp.VisaExpiry.Format("2006-01-02"))
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (`+employeeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			name = excluded.name,
			email = excluded.email,
			department = excluded.department,
			designation = excluded.designation,
			org_role = excluded.org_role,
			manager_id = excluded.manager_id,
			employment_status = excluded.employment_status,
			salary = excluded.salary,
			visa_type = excluded.visa_type,
			visa_expiry = excluded.visa_expiry`,
		string(emp.ID), nullString(string(emp.UserID)), emp.Name, nullString(emp.Email),
		nullString(emp.Department), nullString(emp.Designation), nullString(string(emp.Role)),
		nullString(string(emp.ManagerID)), nullString(string(emp.EmploymentStatus)),
		emp.Salary.String(), nullString(string(emp.VisaType)), visaExpiry, formatTime(emp.CreatedAt),
	)
	return errors.Wrapf(err, "save employee %s", emp.ID)
}

func (s *Store) GetEmployee(ctx context.Context, id generic.EmployeeID) (*generic.Employee, error) {
	return s.findOne(ctx, "id = ?", string(id))
}

func (s *Store) FindByUserID(ctx context.Context, userID generic.UserID) (*generic.Employee, error) {
	if userID == "" {
		return nil, nil
	}
	return s.findOne(ctx, "user_id = ?", string(userID))
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*generic.Employee, error) {
	if email == "" {
		return nil, nil
	}
	return s.findOne(ctx, "email = ? COLLATE NOCASE", email)
}

func (s *Store) FindByRole(ctx context.Context, role generic.OrgRole) ([]generic.Employee, error) {
	if role == generic.OrgRoleNone {
		return nil, nil
	}
	return s.findMany(ctx, "WHERE org_role = ? ORDER BY id", string(role))
}

func (s *Store) GetReportee(ctx context.Context, id generic.EmployeeID) (*generic.Employee, error) {
	emp, err := s.GetEmployee(ctx, id)
	if err != nil || emp == nil || emp.ManagerID == "" || emp.ManagerID == emp.ID {
		return nil, err
	}
	return s.GetEmployee(ctx, emp.ManagerID)
}

func (s *Store) ListEmployees(ctx context.Context) ([]generic.Employee, error) {
	return s.findMany(ctx, "ORDER BY name, id")
}

func (s *Store) DeleteEmployee(ctx context.Context, id generic.EmployeeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM employees WHERE id = ?", string(id))
	if err != nil {
		return errors.Wrapf(err, "delete employee %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(generic.ErrEmployeeNotFound, "employee %s", id)
	}
	return nil
}

func (s *Store) findOne(ctx context.Context, where string, args ...any) (*generic.Employee, error) {
	emps, err := s.findMany(ctx, "WHERE "+where+" ORDER BY id LIMIT 1", args...)
	if err != nil || len(emps) == 0 {
		return nil, err
	}
	return &emps[0], nil
}

func (s *Store) findMany(ctx context.Context, tail string, args ...any) ([]generic.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+employeeColumns+" FROM employees "+tail, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []generic.Employee
	for rows.Next() {
		emp, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, emp)
	}
	return out, rows.Err()
}

func scanEmployee(rows *sql.Rows) (generic.Employee, error) {
	var emp generic.Employee
	var id, name, salary, createdAt string
	var userID, email, department, designation, role, managerID, status, visaType, visaExpiry sql.NullString
	if err := rows.Scan(&id, &userID, &name, &email, &department, &designation, &role, &managerID,
		&status, &salary, &visaType, &visaExpiry, &createdAt); err != nil {
		return emp, err
	}
	emp.ID = generic.EmployeeID(id)
	emp.UserID = generic.UserID(userID.String)
	emp.Name = name
	emp.Email = email.String
	emp.Department = department.String
	emp.Designation = designation.String
	emp.ManagerID = generic.EmployeeID(managerID.String)
	emp.EmploymentStatus = generic.EmploymentStatus(status.String)
	emp.VisaType = generic.VisaType(visaType.String)
	emp.CreatedAt = parseTime(createdAt)
	if d, err := decimal.NewFromString(salary); err == nil {
		emp.Salary = d
	}
	if visaExpiry.Valid {
		if t, err := time.Parse("2006-01-02", visaExpiry.String); err == nil {
			emp.VisaExpiry = &t
		}
	}
	emp.Canonicalize()
	return emp, nil
}
