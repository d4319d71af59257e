package dto

import "strings"

// Credentials only carries the fields a login or registration may set.
type Credentials struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Identifier returns the login name; username is accepted as an alias of email.
func (c Credentials) Identifier() string {
	if email := strings.TrimSpace(c.Email); email != "" {
		return email
	}
	return strings.TrimSpace(c.Username)
}
