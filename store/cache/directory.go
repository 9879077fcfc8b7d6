// Package cache puts a short-lived in-memory cache in front of a
// generic.Directory. Routing looks up the same managers and role holders
// on every transition; a remote directory pays a round trip for each.
package cache

import (
	"context"
	"strings"
	"time"

	goCache "github.com/patrickmn/go-cache"

	"github.com/warp/hr-workflow/generic"
)

// DefaultTTL is how long a lookup result is served from memory.
const DefaultTTL = 30 * time.Second

// DefaultCleanupInterval is how often expired items are removed.
const DefaultCleanupInterval = 5 * time.Minute

const (
	prefixEmployee = "emp:"
	prefixUser     = "user:"
	prefixEmail    = "email:"
	prefixRole     = "role:"
	prefixReportee = "reportee:"
)

// Directory caches lookups, including misses.
type Directory struct {
	next  generic.Directory
	cache *goCache.Cache
	ttl   time.Duration
}

var _ generic.Directory = (*Directory)(nil)

// NewDirectory wraps next. A non-positive ttl uses DefaultTTL.
func NewDirectory(next generic.Directory, ttl time.Duration) *Directory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Directory{
		next:  next,
		cache: goCache.New(ttl, DefaultCleanupInterval),
		ttl:   ttl,
	}
}

func (d *Directory) GetEmployee(ctx context.Context, id generic.EmployeeID) (*generic.Employee, error) {
	return d.one(prefixEmployee+string(id), func() (*generic.Employee, error) {
		return d.next.GetEmployee(ctx, id)
	})
}

func (d *Directory) FindByUserID(ctx context.Context, userID generic.UserID) (*generic.Employee, error) {
	return d.one(prefixUser+string(userID), func() (*generic.Employee, error) {
		return d.next.FindByUserID(ctx, userID)
	})
}

func (d *Directory) FindByEmail(ctx context.Context, email string) (*generic.Employee, error) {
	return d.one(prefixEmail+strings.ToLower(email), func() (*generic.Employee, error) {
		return d.next.FindByEmail(ctx, email)
	})
}

func (d *Directory) GetReportee(ctx context.Context, id generic.EmployeeID) (*generic.Employee, error) {
	return d.one(prefixReportee+string(id), func() (*generic.Employee, error) {
		return d.next.GetReportee(ctx, id)
	})
}

func (d *Directory) FindByRole(ctx context.Context, role generic.OrgRole) ([]generic.Employee, error) {
	key := prefixRole + string(role)
	if v, ok := d.cache.Get(key); ok {
		return cloneEmployees(v.([]generic.Employee)), nil
	}
	emps, err := d.next.FindByRole(ctx, role)
	if err != nil {
		return nil, err
	}
	d.cache.Set(key, cloneEmployees(emps), d.ttl)
	return emps, nil
}

// Invalidate drops every cached entry. Call it after the directory changes.
func (d *Directory) Invalidate() {
	d.cache.Flush()
}

// Len reports the number of cached entries, expired ones included.
func (d *Directory) Len() int {
	return d.cache.ItemCount()
}

func (d *Directory) one(key string, load func() (*generic.Employee, error)) (*generic.Employee, error) {
	if v, ok := d.cache.Get(key); ok {
		emp, _ := v.(*generic.Employee)
		if emp == nil {
			return nil, nil
		}
		cp := *emp
		return &cp, nil
	}
	emp, err := load()
	if err != nil {
		return nil, err
	}
	var stored *generic.Employee
	if emp != nil {
		cp := *emp
		stored = &cp
	}
	d.cache.Set(key, stored, d.ttl)
	return emp, nil
}

func cloneEmployees(in []generic.Employee) []generic.Employee {
	if in == nil {
		return nil
	}
	out := make([]generic.Employee, len(in))
	copy(out, in)
	return out
}
