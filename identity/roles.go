// Package identity beantwortet roleOf(userID) für die Autorisierung im Workflow.
package identity

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"

	"journal-desk/models"
	"journal-desk/storage"
)

// RoleProvider liefert die Rolle eines Nutzers.
type RoleProvider interface {
	RoleOf(ctx context.Context, userID uint) (models.Role, error)
}

// StoreRoles liest Rollen aus der Personentabelle.
type StoreRoles struct {
	store *storage.Store
}

// NewStoreRoles erstellt einen RoleProvider über den Store.
func NewStoreRoles(store *storage.Store) *StoreRoles {
	return &StoreRoles{store: store}
}

// RoleOf liefert RoleSystem für den System-Akteur, sonst die gespeicherte Rolle.
func (r *StoreRoles) RoleOf(ctx context.Context, userID uint) (models.Role, error) {
	if userID == models.SystemActorID {
		return models.RoleSystem, nil
	}
	p, err := r.store.GetPerson(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("role of user %d: %w", userID, err)
	}
	return p.Role, nil
}

// CachedRoles hält Rollen für eine begrenzte Zeit im Speicher.
type CachedRoles struct {
	next  RoleProvider
	cache *cache.Cache
}

// NewCachedRoles legt einen Cache mit ttl vor next.
func NewCachedRoles(next RoleProvider, ttl time.Duration) *CachedRoles {
	return &CachedRoles{next: next, cache: cache.New(ttl, ttl*2)}
}

// RoleOf liefert die Rolle aus dem Cache oder fragt next.
func (c *CachedRoles) RoleOf(ctx context.Context, userID uint) (models.Role, error) {
	key := strconv.FormatUint(uint64(userID), 10)
	if cached, found := c.cache.Get(key); found {
		return cached.(models.Role), nil
	}
	role, err := c.next.RoleOf(ctx, userID)
	if err != nil {
		return "", err
	}
	c.cache.Set(key, role, cache.DefaultExpiration)
	return role, nil
}

// Invalidate entfernt einen Nutzer aus dem Cache, z. B. nach Rollenwechsel.
func (c *CachedRoles) Invalidate(userID uint) {
	c.cache.Delete(strconv.FormatUint(uint64(userID), 10))
}

// Static ist ein fester RoleProvider für Tests und Werkzeuge.
type Static map[uint]models.Role

// RoleOf liefert die hinterlegte Rolle; unbekannte Nutzer sind Autoren.
func (s Static) RoleOf(_ context.Context, userID uint) (models.Role, error) {
	if userID == models.SystemActorID {
		return models.RoleSystem, nil
	}
	if r, ok := s[userID]; ok {
		return r, nil
	}
	return models.RoleAuthor, nil
}
