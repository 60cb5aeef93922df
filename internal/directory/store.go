package directory

import "context"

// Store describes persistence operations for the tenant directory.
type Store interface {
	Buildings(ctx context.Context) BuildingStore
	Companies(ctx context.Context) CompanyStore
	Users(ctx context.Context) UserStore
}

// BuildingStore manages buildings.
type BuildingStore interface {
	Find(ctx context.Context, id int64) (*Building, error)
	FindByName(ctx context.Context, name string) (*Building, error)
	SearchByName(ctx context.Context, keyword string) ([]*Building, error)
}

// CompanyStore manages companies.
type CompanyStore interface {
	FindByName(ctx context.Context, name string) (*Company, error)
	ListByBuilding(ctx context.Context, buildingID int64) ([]*Company, error)
}

// UserStore manages users.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id int64) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByPhone(ctx context.Context, phone string) (bool, error)
}
