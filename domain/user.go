package domain

// Roles understood by the API.
const (
	RoleOwner    = "owner"
	RoleEmployee = "employee"
)

type User struct {
	ID         int64  `json:"id" db:"id"`
	Username   string `json:"username" db:"username"`
	Email      string `json:"email" db:"email"`
	Password   string `json:"password,omitempty" db:"password"`
	Role       string `json:"role" db:"role"`
	PharmacyID *int64 `json:"pharmacy_id,omitempty" db:"pharmacy_id"`
	CreatedAt  string `json:"created_at,omitempty" db:"created_at"`
}
