package database

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"iptracker/internal/domain"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailInUse   = errors.New("email already in use")
)

func (s *Store) FindUserByEmail(ctx context.Context, email string) (domain.User, error) {
	var user domain.User

	db, err := s.conn(ctx)
	if err != nil {
		return user, persistenceError("find user", err)
	}

	err = db.Where("email = ?", normaliseEmail(email)).First(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return user, ErrUserNotFound
	case err != nil:
		return user, persistenceError("find user", err)
	}
	return user, nil
}

// CreateUser stores a new account. The first account ever created becomes
// an admin, everyone after that a regular user.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (domain.User, error) {
	user := domain.User{
		Email:    normaliseEmail(email),
		Password: passwordHash,
		Role:     domain.RoleUser,
	}

	db, err := s.conn(ctx)
	if err != nil {
		return user, persistenceError("create user", err)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		var existing domain.User
		err := tx.Select("id").Where("email = ?", user.Email).Take(&existing).Error
		if err == nil {
			return ErrEmailInUse
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var count int64
		if err := tx.Model(&domain.User{}).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			user.Role = domain.RoleAdmin
		}

		return tx.Create(&user).Error
	})

	switch {
	case errors.Is(err, ErrEmailInUse):
		return user, ErrEmailInUse
	case err != nil:
		return user, persistenceError("create user", err)
	}
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, id uint) (domain.User, error) {
	var user domain.User

	db, err := s.conn(ctx)
	if err != nil {
		return user, persistenceError("get user", err)
	}

	err = db.First(&user, id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return user, ErrUserNotFound
	case err != nil:
		return user, persistenceError("get user", err)
	}
	return user, nil
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
