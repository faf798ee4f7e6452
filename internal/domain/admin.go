package domain

// Admin is an operator allowed to use the management API.
// Admins come from the forms configuration file; there is no admin table.
type Admin struct {
	Username     string `yaml:"username" json:"username" validate:"required"`
	PasswordHash string `yaml:"password_hash" json:"-" validate:"required"`
	Role         string `yaml:"role" json:"role"`
}

const RoleAdmin = "admin"
