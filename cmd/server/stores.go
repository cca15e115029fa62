package main

import (
	"context"
	"fmt"

	"github.com/tyemirov/rbacauth/internal/authkit"
	"github.com/tyemirov/rbacauth/internal/authkitpg"
	"github.com/tyemirov/rbacauth/internal/authkitredis"
	"go.uber.org/zap"
)

type purgingRefreshStore interface {
	authkit.RefreshTokenStore
	authkit.ExpiredTokenPurger
}

type storeSet struct {
	users         authkit.UserStore
	refreshTokens authkit.RefreshTokenStore
	purger        authkit.ExpiredTokenPurger
	closers       []func()
}

func (stores *storeSet) close() {
	for index := len(stores.closers) - 1; index >= 0; index-- {
		stores.closers[index]()
	}
}

var openPgxRefreshStore = func(ctx context.Context, databaseURL string) (purgingRefreshStore, func(), error) {
	store, closeFn, err := authkitpg.Open(ctx, databaseURL)
	if err != nil {
		return nil, nil, err
	}
	return store, closeFn, nil
}

var openRedisRefreshStore = func(ctx context.Context, redisURL string) (purgingRefreshStore, func(), error) {
	store, closeFn, err := authkitredis.Open(ctx, redisURL, authkitredis.Options{})
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = closeFn() }, nil
}

// openStores connects the user store and the configured refresh token backend.
func openStores(ctx context.Context, appConfig AppConfig, logger *zap.Logger) (*storeSet, error) {
	database, err := authkit.OpenDatabase(ctx, appConfig.DatabaseURL)
	if err != nil {
		return nil, err
	}
	stores := &storeSet{
		users:   authkit.NewDatabaseUserStore(database),
		closers: []func(){func() { _ = database.Close() }},
	}

	var refreshStore purgingRefreshStore
	switch appConfig.RefreshStore {
	case refreshStorePgx:
		pgxStore, closeFn, openErr := openPgxRefreshStore(ctx, appConfig.DatabaseURL)
		if openErr != nil {
			stores.close()
			return nil, openErr
		}
		stores.closers = append(stores.closers, closeFn)
		refreshStore = pgxStore
	case refreshStoreRedis:
		redisStore, closeFn, openErr := openRedisRefreshStore(ctx, appConfig.RedisURL)
		if openErr != nil {
			stores.close()
			return nil, openErr
		}
		stores.closers = append(stores.closers, closeFn)
		refreshStore = redisStore
	case refreshStoreDatabase:
		refreshStore = authkit.NewDatabaseRefreshTokenStore(database)
	default:
		stores.close()
		return nil, fmt.Errorf("%s: %q", configCodeUnsupportedRefreshStore, appConfig.RefreshStore)
	}
	stores.refreshTokens = refreshStore
	stores.purger = refreshStore

	logger.Info("stores ready",
		zap.String("user_store", database.Driver()),
		zap.String("refresh_store", appConfig.RefreshStore))
	return stores, nil
}
