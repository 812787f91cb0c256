package repository

import (
	"context"
	"sync"

	"github.com/ManuelReschke/subsync/app/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MemoryUserRepository is an in-process UserRepository with the same
// uniqueness rules as the SQL schema. It backs tests and local runs without
// a database.
type MemoryUserRepository struct {
	mu      sync.Mutex
	byID    map[string]*models.User
	byEmail map[string]string
}

// NewMemoryUserRepository creates an empty in-memory user repository
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		byID:    make(map[string]*models.User),
		byEmail: make(map[string]string),
	}
}

func (r *MemoryUserRepository) GetByID(_ context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *MemoryUserRepository) GetByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byEmail[models.NormalizeEmail(email)]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *MemoryUserRepository) CreateIfAbsent(_ context.Context, user *models.User) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := models.NormalizeEmail(user.Email)
	if _, ok := r.byEmail[email]; ok {
		return false, nil
	}
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.Email = email
	cp := *user
	r.byID[user.ID] = &cp
	r.byEmail[email] = user.ID
	return true, nil
}

// Count returns the number of stored users.
func (r *MemoryUserRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}
