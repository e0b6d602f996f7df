package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	dirmodels "presence/internal/directory/models"
	dirstore "presence/internal/directory/store"
	"presence/internal/identity/index"
	"presence/internal/identity/metrics"
	"presence/internal/identity/models"
	"presence/internal/identity/service/mocks"
	id "presence/pkg/domain"
	dErrors "presence/pkg/domain-errors"
	audit "presence/pkg/platform/audit"
	"presence/pkg/platform/audit/publisher"
	auditmemory "presence/pkg/platform/audit/store/memory"
	"presence/pkg/platform/sentinel"
)

var (
	faceA = models.Sample("face-a")
	faceB = models.Sample("face-b")
)

// unavailableIndex fails every delete the way an index outage would.
type unavailableIndex struct {
	*index.InMemory
}

func (unavailableIndex) BatchDelete(context.Context, []id.BindingID) (int, error) {
	return 0, sentinel.ErrUnavailable
}

// countingIndex records how many pages a call walks.
type countingIndex struct {
	*index.InMemory
	pages int
}

func (c *countingIndex) ListPage(ctx context.Context, cursor string) (*models.Page, error) {
	c.pages++
	return c.InMemory.ListPage(ctx, cursor)
}

type ServiceSuite struct {
	suite.Suite
	ctx       context.Context
	directory *dirstore.InMemory
	index     *index.InMemory
	auditLog  *auditmemory.InMemoryStore
	metrics   *metrics.Metrics
	service   *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.directory = dirstore.NewInMemory()
	s.index = index.NewInMemory()
	s.auditLog = auditmemory.NewInMemoryStore()
	s.metrics = metrics.NewWithRegisterer(prometheus.NewRegistry())
	s.service = New(s.directory, s.index,
		WithAuditPublisher(publisher.NewPublisher(s.auditLog)),
		WithMetrics(s.metrics),
	)
	s.seed("SRM001", dirmodels.StatusActive, "")
	s.seed("SRM004", dirmodels.StatusActive, "")
	s.seed("SRM009", dirmodels.StatusInactive, "")
}

func (s *ServiceSuite) seed(employeeID id.EmployeeID, status dirmodels.Status, binding id.BindingID) {
	s.Require().NoError(s.directory.Upsert(s.ctx, dirmodels.Employee{
		ID:                employeeID,
		Status:            status,
		IdentityBindingID: binding,
	}))
}

func (s *ServiceSuite) mirrorOf(employeeID id.EmployeeID) id.BindingID {
	employee, err := s.directory.GetEmployee(s.ctx, employeeID)
	s.Require().NoError(err)
	return employee.IdentityBindingID
}

func (s *ServiceSuite) TestRegister() {
	s.Run("enrolls and mirrors the binding", func() {
		bindingID, err := s.service.Register(s.ctx, "SRM001", faceA)
		s.Require().NoError(err)
		s.False(bindingID.IsNil())
		s.Equal(bindingID, s.mirrorOf("SRM001"))
		s.Equal(1, s.index.Len())
		s.Len(s.auditLog.ListByAction(audit.EventIdentityRegistered), 1)
	})

	s.Run("second registration is rejected without enrolling", func() {
		_, err := s.service.Register(s.ctx, "SRM001", faceB)
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyRegistered))
		s.Equal(1, s.index.Len())
	})

	s.Run("unmirrored binding in the index still blocks registration", func() {
		s.index.Seed(faceA, models.Entry{BindingID: "legacy-1", ExternalID: "SRM004"})
		_, err := s.service.Register(s.ctx, "SRM004", faceA)
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyRegistered))
		s.Equal(2, s.index.Len())
	})

	s.Run("inactive employee is forbidden", func() {
		_, err := s.service.Register(s.ctx, "SRM009", faceA)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("unknown employee is not found", func() {
		_, err := s.service.Register(s.ctx, "NOPE", faceA)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("empty sample is a bad request", func() {
		_, err := s.service.Register(s.ctx, "SRM001", nil)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *ServiceSuite) TestRegister_LosingMirrorRaceDeletesFreshEnrollment() {
	ctrl := gomock.NewController(s.T())
	directory := mocks.NewMockDirectory(ctrl)
	svc := New(directory, s.index, WithAuditPublisher(publisher.NewPublisher(s.auditLog)))

	directory.EXPECT().GetEmployee(gomock.Any(), id.EmployeeID("SRM001")).
		Return(&dirmodels.Employee{ID: "SRM001", Status: dirmodels.StatusActive}, nil)
	directory.EXPECT().SetIdentityBindingIfEmpty(gomock.Any(), id.EmployeeID("SRM001"), gomock.Any()).
		Return(sentinel.ErrConflict)

	_, err := svc.Register(s.ctx, "SRM001", faceA)
	s.True(dErrors.HasCode(err, dErrors.CodeAlreadyRegistered))
	s.Equal(0, s.index.Len())
	s.Len(s.auditLog.ListByAction(audit.EventIdentityCompensated), 1)
}

func (s *ServiceSuite) TestVerify() {
	bindingID, err := s.service.Register(s.ctx, "SRM001", faceA)
	s.Require().NoError(err)

	s.Run("matching sample", func() {
		result, err := s.service.Verify(s.ctx, faceA, "SRM001")
		s.Require().NoError(err)
		s.True(result.Matched)
		s.Equal(bindingID, result.BindingID)
	})

	s.Run("different face is a negative result, not an error", func() {
		result, err := s.service.Verify(s.ctx, faceB, "SRM001")
		s.Require().NoError(err)
		s.False(result.Matched)
	})

	s.Run("employee without binding is not found", func() {
		_, err := s.service.Verify(s.ctx, faceA, "SRM004")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("unknown employee is not found", func() {
		_, err := s.service.Verify(s.ctx, faceA, "NOPE")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestVerify_StaleMirrorFallsBackToScan() {
	s.index.Seed(faceA, models.Entry{BindingID: "live-1", ExternalID: "SRM004"})
	s.seed("SRM004", dirmodels.StatusActive, "deleted-1")

	result, err := s.service.Verify(s.ctx, faceA, "SRM004")
	s.Require().NoError(err)
	s.True(result.Matched)
	s.Equal(id.BindingID("live-1"), result.BindingID)
}

func (s *ServiceSuite) TestVerify_LiveMirrorNeverScans() {
	idx := &countingIndex{InMemory: index.NewInMemory(index.WithPageSize(10))}
	for i := range 50 {
		employeeID := id.EmployeeID(fmt.Sprintf("E%05d", i))
		bindingID := id.BindingID(fmt.Sprintf("b-%05d", i))
		idx.Seed(faceA, models.Entry{BindingID: bindingID, ExternalID: employeeID.String()})
		s.seed(employeeID, dirmodels.StatusActive, bindingID)
	}
	svc := New(s.directory, idx)

	result, err := svc.Verify(s.ctx, faceB, "E00001")
	s.Require().NoError(err)
	s.False(result.Matched)
	s.Equal(id.BindingID("b-00001"), result.BindingID)
	s.Zero(idx.pages, "a rejected face is settled by the mirrored binding alone")

	result, err = svc.Verify(s.ctx, faceA, "E00001")
	s.Require().NoError(err)
	s.True(result.Matched)
	s.Zero(idx.pages)
}

func (s *ServiceSuite) TestReset() {
	s.Run("removes every duplicate and clears the mirror", func() {
		s.index.Seed(faceA,
			models.Entry{BindingID: "dup-1", ExternalID: "SRM004"},
			models.Entry{BindingID: "dup-2", ExternalID: "SRM004"},
			models.Entry{BindingID: "dup-3", ExternalID: "SRM004"},
			models.Entry{BindingID: "other", ExternalID: "SRM001"},
		)
		s.seed("SRM004", dirmodels.StatusActive, "dup-2")

		removed, err := s.service.Reset(s.ctx, "SRM004")
		s.Require().NoError(err)
		s.Equal(3, removed)
		s.Equal(1, s.index.Len())
		s.True(s.mirrorOf("SRM004").IsNil())
		s.Len(s.auditLog.ListByAction(audit.EventIdentityReset), 1)
	})

	s.Run("second reset is a no-op", func() {
		removed, err := s.service.Reset(s.ctx, "SRM004")
		s.Require().NoError(err)
		s.Equal(0, removed)
		s.Len(s.auditLog.ListByAction(audit.EventIdentityReset), 1)
	})

	s.Run("employee can register again after reset", func() {
		_, err := s.service.Register(s.ctx, "SRM004", faceB)
		s.Require().NoError(err)
	})
}

func (s *ServiceSuite) TestReset_IndexOutageKeepsMirror() {
	s.index.Seed(faceA, models.Entry{BindingID: "b-1", ExternalID: "SRM004"})
	s.seed("SRM004", dirmodels.StatusActive, "b-1")

	failing := unavailableIndex{InMemory: s.index}
	svc := New(s.directory, failing, WithPurger(index.NewPurger(failing,
		index.WithMaxRetries(1),
		index.WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	)))

	removed, err := svc.Reset(s.ctx, "SRM004")
	s.True(dErrors.HasCode(err, dErrors.CodeExternalService))
	s.Equal(0, removed)
	s.Equal(id.BindingID("b-1"), s.mirrorOf("SRM004"))
}
