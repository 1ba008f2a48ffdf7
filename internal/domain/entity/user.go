package entity

import "time"

// Department is the organisational unit a user belongs to
type Department string

const (
	DepartmentEngineering Department = "engineering"
	DepartmentProduct     Department = "product"
	DepartmentDesign      Department = "design"
	DepartmentMarketing   Department = "marketing"
	DepartmentSales       Department = "sales"
	DepartmentHR          Department = "hr"
	DepartmentFinance     Department = "finance"
	DepartmentOperations  Department = "operations"
)

var validDepartments = map[Department]bool{
	DepartmentEngineering: true,
	DepartmentProduct:     true,
	DepartmentDesign:      true,
	DepartmentMarketing:   true,
	DepartmentSales:       true,
	DepartmentHR:          true,
	DepartmentFinance:     true,
	DepartmentOperations:  true,
}

// IsValid reports whether d is a known department
func (d Department) IsValid() bool {
	return validDepartments[d]
}

// User is a directory entry. ID is the identity provider's user id, the same
// value callers carry as Caller.UserID and assignments store as developer_id.
type User struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Email         string     `json:"email,omitempty"`
	Role          Role       `json:"role"`
	Department    Department `json:"department,omitempty"`
	LastContactAt *time.Time `json:"last_contact_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// UserFilter narrows user listings. Query matches name or email,
// case-insensitively.
type UserFilter struct {
	Role       Role
	Department Department
	Query      string
}

// UserPage is one page of users with the unpaged total
type UserPage struct {
	Items []*User `json:"items"`
	Total int     `json:"total"`
	Skip  int     `json:"skip"`
	Limit int     `json:"limit"`
}
