package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/warp/hr-workflow/generic"
)

// =============================================================================
// MEMORY DIRECTORY - Employee lookups
// =============================================================================

type Directory struct {
	mu        sync.RWMutex
	employees map[generic.EmployeeID]generic.Employee
}

func NewDirectory(employees ...generic.Employee) *Directory {
	d := &Directory{employees: make(map[generic.EmployeeID]generic.Employee)}
	for _, emp := range employees {
		d.Put(emp)
	}
	return d
}

// Put adds or replaces an employee, canonicalizing its role.
func (d *Directory) Put(emp generic.Employee) {
	emp.Canonicalize()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.employees[emp.ID] = emp
}

func (d *Directory) GetEmployee(_ context.Context, id generic.EmployeeID) (*generic.Employee, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	emp, ok := d.employees[id]
	if !ok {
		return nil, nil
	}
	return &emp, nil
}

func (d *Directory) FindByUserID(_ context.Context, userID generic.UserID) (*generic.Employee, error) {
	if userID == "" {
		return nil, nil
	}
	return d.find(func(emp generic.Employee) bool { return emp.UserID == userID }), nil
}

func (d *Directory) FindByEmail(_ context.Context, email string) (*generic.Employee, error) {
	if email == "" {
		return nil, nil
	}
	return d.find(func(emp generic.Employee) bool { return strings.EqualFold(emp.Email, email) }), nil
}

func (d *Directory) FindByRole(_ context.Context, role generic.OrgRole) ([]generic.Employee, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var result []generic.Employee
	for _, emp := range d.employees {
		if role != generic.OrgRoleNone && emp.Role == role {
			result = append(result, emp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (d *Directory) GetReportee(ctx context.Context, id generic.EmployeeID) (*generic.Employee, error) {
	emp, _ := d.GetEmployee(ctx, id)
	if emp == nil || emp.ManagerID == "" || emp.ManagerID == emp.ID {
		return nil, nil
	}
	return d.GetEmployee(ctx, emp.ManagerID)
}

// SaveEmployee is Put with the signature shared by the SQLite directory.
func (d *Directory) SaveEmployee(_ context.Context, emp *generic.Employee) error {
	emp.Canonicalize()
	d.Put(*emp)
	return nil
}

func (d *Directory) DeleteEmployee(_ context.Context, id generic.EmployeeID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.employees[id]; !ok {
		return errors.Wrapf(generic.ErrEmployeeNotFound, "employee %s", id)
	}
	delete(d.employees, id)
	return nil
}

// Reset removes every employee.
func (d *Directory) Reset(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.employees = make(map[generic.EmployeeID]generic.Employee)
	return nil
}

// ListEmployees returns all employees ordered by id.
func (d *Directory) ListEmployees(_ context.Context) ([]generic.Employee, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	result := make([]generic.Employee, 0, len(d.employees))
	for _, emp := range d.employees {
		result = append(result, emp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (d *Directory) find(match func(generic.Employee) bool) *generic.Employee {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.employees))
	for id := range d.employees {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	for _, id := range ids {
		emp := d.employees[generic.EmployeeID(id)]
		if match(emp) {
			return &emp
		}
	}
	return nil
}
