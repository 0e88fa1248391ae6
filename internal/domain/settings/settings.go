// Package settings provides the store-wide configuration editable by admins.
package settings

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Key names a persisted setting.
type Key string

const (
	KeyStoreName             Key = "store_name"
	KeyCurrency              Key = "currency"
	KeyAdminEmail            Key = "admin_email"
	KeyDefaultShippingCost   Key = "default_shipping_cost"
	KeyFreeShippingThreshold Key = "free_shipping_threshold"
	KeyReturnWindowDays      Key = "return_window_days"
)

var (
	// ErrUnknownKey is returned when updating a key that is not recognised.
	ErrUnknownKey = errors.New("unknown setting")
	// ErrInvalidValue is returned when a value does not parse for its key.
	ErrInvalidValue = errors.New("invalid setting value")
)

// Store is the typed view over all settings.
type Store struct {
	StoreName           string
	Currency            string
	AdminEmail          string
	DefaultShippingCost decimal.Decimal
	// FreeShippingThreshold of zero disables free shipping by subtotal.
	FreeShippingThreshold decimal.Decimal
	// ReturnWindowDays of zero means returns are accepted at any time.
	ReturnWindowDays int
}

// Defaults returns the values used for keys missing from the repository.
func Defaults() Store {
	return Store{
		StoreName:           "Storefront",
		Currency:            "EGP",
		DefaultShippingCost: decimal.NewFromInt(50),
		ReturnWindowDays:    14,
	}
}

// Repository persists raw setting values.
type Repository interface {
	All(ctx context.Context) (map[Key]string, error)
	Set(ctx context.Context, key Key, value string) error
}

// Bus broadcasts invalidations to other instances.
type Bus interface {
	Publish(ctx context.Context, key Key) error
	Subscribe(ctx context.Context, fn func(Key)) error
}

// Service caches settings until Invalidate is called.
type Service struct {
	repo     Repository
	bus      Bus
	defaults Store

	mu     sync.RWMutex
	cached *Store
	// gen is bumped by Invalidate so a load that raced it is not cached.
	gen uint64
}

// NewService creates a Service. bus may be nil for single-instance setups.
func NewService(repo Repository, bus Bus, defaults Store) *Service {
	return &Service{repo: repo, bus: bus, defaults: defaults}
}

// Get returns the cached settings, loading them on first use.
func (s *Service) Get(ctx context.Context) (Store, error) {
	s.mu.RLock()
	if s.cached != nil {
		st := *s.cached
		s.mu.RUnlock()
		return st, nil
	}
	gen := s.gen
	s.mu.RUnlock()

	raw, err := s.repo.All(ctx)
	if err != nil {
		return Store{}, errors.Wrap(err, "load settings")
	}
	st := s.defaults
	for k, v := range raw {
		if err := st.set(k, v); err != nil {
			return Store{}, errors.Wrapf(err, "setting %s", k)
		}
	}

	s.mu.Lock()
	if s.gen == gen {
		s.cached = &st
	}
	s.mu.Unlock()
	return st, nil
}

// Invalidate drops the local cache.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.gen++
	s.mu.Unlock()
}

// Update validates and stores a value, invalidates the local cache and
// notifies other instances.
func (s *Service) Update(ctx context.Context, key Key, value string) error {
	value = strings.TrimSpace(value)
	var check Store
	if err := check.set(key, value); err != nil {
		return err
	}
	if err := s.repo.Set(ctx, key, value); err != nil {
		return errors.Wrap(err, "store setting")
	}
	s.Invalidate()
	if s.bus != nil {
		if err := s.bus.Publish(ctx, key); err != nil {
			return errors.Wrap(err, "publish invalidation")
		}
	}
	return nil
}

// Listen invalidates the cache whenever another instance publishes a change.
// It blocks until ctx is done.
func (s *Service) Listen(ctx context.Context) error {
	if s.bus == nil {
		<-ctx.Done()
		return nil
	}
	return s.bus.Subscribe(ctx, func(Key) { s.Invalidate() })
}

func (st *Store) set(key Key, value string) error {
	switch key {
	case KeyStoreName:
		st.StoreName = value
	case KeyAdminEmail:
		st.AdminEmail = value
	case KeyCurrency:
		if len(value) != 3 {
			return errors.Wrapf(ErrInvalidValue, "currency %q", value)
		}
		st.Currency = strings.ToUpper(value)
	case KeyDefaultShippingCost, KeyFreeShippingThreshold:
		v, err := decimal.NewFromString(value)
		if err != nil || v.IsNegative() {
			return errors.Wrapf(ErrInvalidValue, "amount %q", value)
		}
		if key == KeyDefaultShippingCost {
			st.DefaultShippingCost = v
		} else {
			st.FreeShippingThreshold = v
		}
	case KeyReturnWindowDays:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return errors.Wrapf(ErrInvalidValue, "days %q", value)
		}
		st.ReturnWindowDays = n
	default:
		return errors.Wrapf(ErrUnknownKey, "%q", key)
	}
	return nil
}
