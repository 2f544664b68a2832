package utils

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/lexdesk/claims_backend/config"
)

var (
	ErrLockNotReady    = errors.New("service not ready (redis lock not initialized)")
	ErrLockNotObtained = errors.New("lock is held by another process")
)

// SplitAndTrim splits a comma separated list and drops blank items.
func SplitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// UniqueSlice keeps the first occurrence of each element, preserving order.
func UniqueSlice[T comparable](items []T) []T {
	seen := make(map[T]struct{}, len(items))
	out := make([]T, 0, len(items))
	for _, it := range items {
		if _, dup := seen[it]; dup {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}

// DereferencePtr returns *ptr, or the zero value when ptr is nil.
func DereferencePtr[T any](ptr *T) T {
	if ptr == nil {
		var zero T
		return zero
	}
	return *ptr
}

// NilIfEmpty maps the zero value to nil, for nullable columns.
func NilIfEmpty[T comparable](v T) *T {
	var zero T
	if v == zero {
		return nil
	}
	return &v
}

// WithLock runs fn while holding the redis lock "lock:<name>". The lock is
// released when fn returns.
func WithLock(ctx context.Context, locker *redislock.Client, name string, ttl time.Duration, fn func(ctx context.Context) error) error {
	if locker == nil {
		return ErrLockNotReady
	}
	lock, err := locker.Obtain(ctx, "lock:"+name, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return fmt.Errorf("%w: %s", ErrLockNotObtained, name)
	} else if err != nil {
		return err
	}
	defer func() {
		if releaseErr := lock.Release(context.WithoutCancel(ctx)); releaseErr != nil && !errors.Is(releaseErr, redislock.ErrLockNotHeld) {
			config.LogError(config.GetLogger(), "utils", "WithLock", "release lock", name, releaseErr)
		}
	}()
	return fn(ctx)
}
