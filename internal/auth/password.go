package auth

import (
	"regexp"

	"golang.org/x/crypto/bcrypt"
)

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

	// compared against when the account does not exist so both failure
	// paths cost one bcrypt comparison
	dummyHash, _ = bcrypt.GenerateFromPassword([]byte("iptracker-dummy-password"), bcrypt.DefaultCost)
)

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func BurnPasswordCheck(password string) {
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

func IsValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}
