package store_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	"presence/internal/attendance/store"
	"presence/pkg/platform/sentinel"
)

func errorsIsConflict(err error) bool {
	return errors.Is(err, sentinel.ErrConflict)
}

func TestInMemorySessionStore(t *testing.T) {
	suite.Run(t, &SessionStoreContractSuite{
		reset: func() sessionStore { return store.NewInMemory() },
	})
}
