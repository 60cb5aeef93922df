package directory

import (
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a lookup matches no row.
var ErrNotFound = errors.New("directory: not found")

// Building is read-mostly reference data.
type Building struct {
	ID      int64
	Name    string
	Address string
}

// Company is an office tenant located in a building.
type Company struct {
	ID         int64
	Name       string
	Address    string
	BuildingID int64
}

// User is a registered tenant employee.
type User struct {
	ID           int64
	Email        string
	PhoneNumber  string
	PasswordHash string
	Name         string
	BuildingID   int64
	CompanyID    int64
	CreatedAt    time.Time

	// Populated by lookups that join the building and company rows.
	Building *Building
	Company  *Company
}
