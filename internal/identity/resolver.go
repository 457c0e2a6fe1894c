package identity

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/ipvault/internal/auth"
	"gorm.io/gorm"
)

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("identity: invalid identity")

const defaultProvider = "default"

// ResolverConfig describes the dependencies required for identity resolution.
type ResolverConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Resolver turns verified session claims into canonical users.
type Resolver struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewResolver constructs the identity resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("identity: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Resolver{
		db:  cfg.Database,
		now: clock,
	}, nil
}

// Resolve returns the canonical user for the claims, recording the provider login the first
// time it is seen and refreshing the stored email afterwards.
func (r *Resolver) Resolve(claims auth.SessionClaims) (User, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return User{}, ErrInvalidIdentity
	}
	email := normalize(claims.UserEmail)

	cacheKey := provider + ":" + subject
	if cached, ok := r.cache.Load(cacheKey); ok {
		if user, ok := cached.(User); ok && (email == "" || email == user.Email) {
			return user, nil
		}
	}

	var record Record
	err := r.db.
		Where("provider = ? AND subject = ?", provider, subject).
		First(&record).
		Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		record = Record{
			Provider:   provider,
			Subject:    subject,
			UserID:     subject,
			Email:      email,
			LastSeenAt: r.now(),
		}
		if err := r.db.Create(&record).Error; err != nil {
			return User{}, err
		}
	case err != nil:
		return User{}, err
	default:
		updates := map[string]any{"last_seen_at": r.now()}
		if email != "" && email != record.Email {
			updates["user_email"] = email
			record.Email = email
		}
		if err := r.db.Model(&Record{}).
			Where("provider = ? AND subject = ?", provider, subject).
			Updates(updates).
			Error; err != nil {
			return User{}, err
		}
	}

	user := User{ID: record.UserID, Email: record.Email}
	r.cache.Store(cacheKey, user)
	return user, nil
}

func deriveProviderSubject(claims auth.SessionClaims) (string, string) {
	provider := defaultProvider
	subject := normalize(claims.Subject)

	raw := normalize(claims.UserID)
	if raw != "" {
		if strings.Contains(raw, ":") {
			segments := strings.SplitN(raw, ":", 2)
			if normalize(segments[0]) != "" && normalize(segments[1]) != "" {
				provider = normalize(segments[0])
				subject = normalize(segments[1])
			}
		} else if subject == "" {
			subject = raw
		}
	}

	if subject == "" {
		subject = normalize(claims.UserEmail)
	}

	return provider, subject
}
