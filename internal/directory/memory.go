package directory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and local runs without
// Postgres.
type MemoryStore struct {
	mu        sync.RWMutex
	nextID    int64
	buildings map[int64]*Building
	companies map[int64]*Company
	users     map[int64]*User
	creates   int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buildings: make(map[int64]*Building),
		companies: make(map[int64]*Company),
		users:     make(map[int64]*User),
	}
}

// AddBuilding seeds a building and returns its id.
func (m *MemoryStore) AddBuilding(name, address string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.buildings[m.nextID] = &Building{ID: m.nextID, Name: name, Address: address}
	return m.nextID
}

// AddCompany seeds a company inside buildingID and returns its id.
func (m *MemoryStore) AddCompany(buildingID int64, name, address string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.companies[m.nextID] = &Company{ID: m.nextID, Name: name, Address: address, BuildingID: buildingID}
	return m.nextID
}

// Creates reports how many users were persisted through Create.
func (m *MemoryStore) Creates() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creates
}

func (m *MemoryStore) Buildings(context.Context) BuildingStore { return memBuildings{m} }
func (m *MemoryStore) Companies(context.Context) CompanyStore  { return memCompanies{m} }
func (m *MemoryStore) Users(context.Context) UserStore         { return memUsers{m} }

type memBuildings struct{ m *MemoryStore }

func (s memBuildings) Find(_ context.Context, id int64) (*Building, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	b, ok := s.m.buildings[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s memBuildings) FindByName(_ context.Context, name string) (*Building, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	for _, b := range s.m.buildings {
		if b.Name == name {
			cp := *b
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s memBuildings) SearchByName(_ context.Context, keyword string) ([]*Building, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	needle := strings.ToLower(keyword)
	var out []*Building
	for _, b := range s.m.buildings {
		if strings.Contains(strings.ToLower(b.Name), needle) {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type memCompanies struct{ m *MemoryStore }

func (s memCompanies) FindByName(_ context.Context, name string) (*Company, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	for _, c := range s.m.companies {
		if c.Name == name {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s memCompanies) ListByBuilding(_ context.Context, buildingID int64) ([]*Company, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var out []*Company
	for _, c := range s.m.companies {
		if c.BuildingID == buildingID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type memUsers struct{ m *MemoryStore }

func (s memUsers) Create(_ context.Context, u *User) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if u.ID == 0 {
		s.m.nextID++
		u.ID = s.m.nextID
	}
	u.CreatedAt = time.Now().UTC()
	cp := *u
	cp.Building, cp.Company = nil, nil
	s.m.users[u.ID] = &cp
	s.m.creates++
	return nil
}

func (s memUsers) Find(_ context.Context, id int64) (*User, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	u, ok := s.m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.m.hydrate(u), nil
}

func (s memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	for _, u := range s.m.users {
		if u.Email == email {
			return s.m.hydrate(u), nil
		}
	}
	return nil, ErrNotFound
}

func (s memUsers) ExistsByEmail(_ context.Context, email string) (bool, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	for _, u := range s.m.users {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (s memUsers) ExistsByPhone(_ context.Context, phone string) (bool, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	for _, u := range s.m.users {
		if u.PhoneNumber == phone {
			return true, nil
		}
	}
	return false, nil
}

// hydrate must be called with mu held.
func (m *MemoryStore) hydrate(u *User) *User {
	cp := *u
	if b, ok := m.buildings[u.BuildingID]; ok {
		bc := *b
		cp.Building = &bc
	}
	if c, ok := m.companies[u.CompanyID]; ok {
		cc := *c
		cp.Company = &cc
	}
	return &cp
}
