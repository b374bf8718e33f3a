package mock

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"gps-relay/internal/database/postgres/repositories"
	"gps-relay/internal/models"
)

type ProviderStore interface {
	Register(ctx context.Context, name string, at time.Time) (bool, error)
	Unregister(ctx context.Context, name string) error
	SaveFix(ctx context.Context, name string, fix models.LocationFix, wall time.Time) error
}

// StoreSink persists the registration and latest fix of each provider.
type StoreSink struct {
	store   ProviderStore
	timeout time.Duration
	logger  zerolog.Logger
}

func NewStoreSink(store ProviderStore, logger zerolog.Logger) *StoreSink {
	return &StoreSink{
		store:   store,
		timeout: 5 * time.Second,
		logger:  logger,
	}
}

func (s *StoreSink) RegisterProvider(name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	claimed, err := s.store.Register(ctx, name, time.Now())
	if err != nil {
		return sinkErr(OpRegister, name, err)
	}
	if !claimed {
		return sinkErr(OpRegister, name, ErrAlreadyRegistered)
	}
	return nil
}

func (s *StoreSink) UnregisterProvider(name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.store.Unregister(ctx, name); err != nil {
		return sinkErr(OpUnregister, name, translateStoreErr(err))
	}
	return nil
}

func (s *StoreSink) Push(name string, fix models.LocationFix, wall time.Time, elapsed time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.store.SaveFix(ctx, name, fix, wall); err != nil {
		return sinkErr(OpPush, name, translateStoreErr(err))
	}
	return nil
}

func translateStoreErr(err error) error {
	if errors.Is(err, repositories.ErrProviderNotRegistered) {
		return ErrNotRegistered
	}
	return err
}

var (
	_ Sink          = (*StoreSink)(nil)
	_ ProviderStore = (*repositories.ProviderRepository)(nil)
)
