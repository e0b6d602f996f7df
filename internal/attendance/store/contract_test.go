package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/suite"

	"presence/internal/attendance/models"
	id "presence/pkg/domain"
	"presence/pkg/platform/sentinel"
)

type sessionStore interface {
	PutIfAbsent(ctx context.Context, session *models.Session) error
	Import(ctx context.Context, sessions ...*models.Session) error
	UpdateIfOpen(ctx context.Context, session *models.Session) error
	QueryByEmployeeAndDay(ctx context.Context, employeeID id.EmployeeID, day id.DayKey) ([]*models.Session, error)
	ListOpenByDay(ctx context.Context, day id.DayKey) ([]*models.Session, error)
	DeleteIfOpen(ctx context.Context, sessionID id.SessionID) error
}

// SessionStoreContractSuite runs the same behavioural checks against every
// session store. reset must return an empty store.
type SessionStoreContractSuite struct {
	suite.Suite
	reset func() sessionStore
	store sessionStore
	ctx   context.Context
}

const day = id.DayKey("2026-10-18")

var morning = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

func openSession(employeeID id.EmployeeID, at time.Time) *models.Session {
	return &models.Session{
		ID:                 id.NewSessionID(),
		EmployeeID:         employeeID,
		DayKey:             day,
		CheckInTime:        at,
		VerificationMethod: models.VerificationFace,
		Device:             "Chrome on Android 13",
	}
}

func (s *SessionStoreContractSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.reset()
}

func (s *SessionStoreContractSuite) TestPutIfAbsent() {
	first := openSession("SRM001", morning)
	s.Require().NoError(s.store.PutIfAbsent(s.ctx, first))

	s.Run("second open session for the same day conflicts", func() {
		err := s.store.PutIfAbsent(s.ctx, openSession("SRM001", morning.Add(time.Minute)))
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("other employees are unaffected", func() {
		s.NoError(s.store.PutIfAbsent(s.ctx, openSession("SRM002", morning)))
	})

	s.Run("after checkout a new session may open", func() {
		closed := *first
		out := morning.Add(4 * time.Hour)
		closed.CheckOutTime = &out
		s.Require().NoError(s.store.UpdateIfOpen(s.ctx, &closed))
		s.NoError(s.store.PutIfAbsent(s.ctx, openSession("SRM001", morning.Add(5*time.Hour))))
	})
}

func (s *SessionStoreContractSuite) TestConcurrentPutIfAbsent() {
	const workers = 16
	var (
		wg        sync.WaitGroup
		ok        atomic.Int32
		conflicts atomic.Int32
		other     atomic.Int32
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.PutIfAbsent(s.ctx, openSession("SRM001", morning))
			switch {
			case err == nil:
				ok.Add(1)
			case errorsIsConflict(err):
				conflicts.Add(1)
			default:
				other.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), ok.Load())
	s.Equal(int32(workers-1), conflicts.Load())
	s.Zero(other.Load())

	open, err := s.store.ListOpenByDay(s.ctx, day)
	s.Require().NoError(err)
	s.Len(open, 1)
}

func (s *SessionStoreContractSuite) TestUpdateIfOpen() {
	session := openSession("SRM001", morning)
	s.Require().NoError(s.store.PutIfAbsent(s.ctx, session))

	out := morning.Add(8 * time.Hour)
	closed := *session
	closed.CheckOutTime = &out
	closed.CheckOutLocation = &models.Location{Latitude: -6.2, Longitude: 106.8}
	s.Require().NoError(s.store.UpdateIfOpen(s.ctx, &closed))

	s.Run("closed session cannot be updated again", func() {
		s.ErrorIs(s.store.UpdateIfOpen(s.ctx, &closed), sentinel.ErrConflict)
	})

	s.Run("unknown session", func() {
		s.ErrorIs(s.store.UpdateIfOpen(s.ctx, openSession("SRM001", morning)), sentinel.ErrNotFound)
	})

	s.Run("stored values round-trip", func() {
		sessions, err := s.store.QueryByEmployeeAndDay(s.ctx, "SRM001", day)
		s.Require().NoError(err)
		s.Require().Len(sessions, 1)
		got := sessions[0]
		s.Equal(session.ID, got.ID)
		s.Require().NotNil(got.CheckOutTime)
		s.True(out.Equal(*got.CheckOutTime))
		s.Require().NotNil(got.CheckOutLocation)
		s.InDelta(-6.2, got.CheckOutLocation.Latitude, 1e-9)
		s.Equal("Chrome on Android 13", got.Device)
	})
}

func (s *SessionStoreContractSuite) TestDeleteIfOpen() {
	legacy := []*models.Session{
		openSession("SRM004", morning),
		openSession("SRM004", morning.Add(3*time.Minute)),
	}
	s.Require().NoError(s.store.Import(s.ctx, legacy...))

	s.Require().NoError(s.store.DeleteIfOpen(s.ctx, legacy[0].ID))
	s.ErrorIs(s.store.DeleteIfOpen(s.ctx, legacy[0].ID), sentinel.ErrNotFound)

	remaining, err := s.store.QueryByEmployeeAndDay(s.ctx, "SRM004", day)
	s.Require().NoError(err)
	s.Require().Len(remaining, 1)
	s.Equal(legacy[1].ID, remaining[0].ID)

	closed := *legacy[1]
	out := morning.Add(time.Hour)
	closed.CheckOutTime = &out
	s.Require().NoError(s.store.UpdateIfOpen(s.ctx, &closed))
	s.ErrorIs(s.store.DeleteIfOpen(s.ctx, closed.ID), sentinel.ErrConflict)
}

func (s *SessionStoreContractSuite) TestListOpenByDay() {
	s.Require().NoError(s.store.Import(s.ctx,
		openSession("SRM002", morning.Add(7*time.Minute)),
		openSession("SRM001", morning),
		openSession("SRM002", morning),
	))
	other := openSession("SRM001", morning.AddDate(0, 0, -1))
	other.DayKey = day.Previous()
	s.Require().NoError(s.store.Import(s.ctx, other))

	open, err := s.store.ListOpenByDay(s.ctx, day)
	s.Require().NoError(err)
	s.Require().Len(open, 3)
	s.Equal(id.EmployeeID("SRM001"), open[0].EmployeeID)
	s.Equal(id.EmployeeID("SRM002"), open[1].EmployeeID)
	s.True(open[1].CheckInTime.Before(open[2].CheckInTime))
}
