//go:build integration

package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"presence/internal/attendance/store"
	"presence/pkg/testutil/containers"
)

func TestRedisSessionStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	rc := containers.GetManager().GetRedis(t)
	suite.Run(t, &SessionStoreContractSuite{
		reset: func() sessionStore {
			if err := rc.FlushAll(context.Background()); err != nil {
				t.Fatalf("flush: %v", err)
			}
			return store.NewRedis(rc.Client, store.WithMaxTxRetries(64))
		},
	})
}
