package account

import "time"

// CompanySummary is the office view of a company.
type CompanySummary struct {
	ID         int64  `json:"id"`
	OfficeName string `json:"officeName"`
	OfficeNum  string `json:"officeNum"`
}

// BuildingSummary is the public view of a building.
type BuildingSummary struct {
	ID              int64  `json:"id"`
	BuildingName    string `json:"buildingName"`
	BuildingAddress string `json:"buildingAddress"`
}

// BuildingWithCompanies is one directory search hit.
type BuildingWithCompanies struct {
	BuildingSummary
	Offices []CompanySummary `json:"offices"`
}

// SignUpRequest carries the registration form.
type SignUpRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	Name         string `json:"name"`
	PhoneNumber  string `json:"phoneNumber"`
	BuildingName string `json:"buildingName"`
	CompanyName  string `json:"companyName"`
}

// LoginResult is the profile returned after a successful login.
type LoginResult struct {
	ID          int64           `json:"id"`
	Email       string          `json:"email"`
	Name        string          `json:"name"`
	PhoneNumber string          `json:"phoneNumber"`
	Building    BuildingSummary `json:"building"`
	Office      CompanySummary  `json:"office"`
	Token       string          `json:"token"`
	ExpiresAt   time.Time       `json:"expiresAt"`
}
