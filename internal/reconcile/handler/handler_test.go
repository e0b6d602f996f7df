package handler

import (
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"presence/internal/reconcile"
	"presence/internal/reconcile/handler/mocks"
	id "presence/pkg/domain"
	dErrors "presence/pkg/domain-errors"
	"presence/pkg/testutil"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Engine
type ReconcileHandlerSuite struct {
	suite.Suite
	engine *mocks.MockEngine
	router chi.Router
}

func TestReconcileHandlerSuite(t *testing.T) {
	suite.Run(t, new(ReconcileHandlerSuite))
}

func (s *ReconcileHandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.engine = mocks.NewMockEngine(ctrl)
	s.router = chi.NewRouter()
	New(s.engine, time.FixedZone("WIB", 7*60*60), nil).Register(s.router)
}

func (s *ReconcileHandlerSuite) TestGhosts() {
	s.Run("defaults to audit", func() {
		s.engine.EXPECT().FindAndPurgeGhostBindings(gomock.Any(), reconcile.ModeAudit).
			Return(&reconcile.GhostReport{Mode: reconcile.ModeAudit, ScannedBindings: 3}, nil)

		rr := testutil.DoRequest(s.router, testutil.WithAdmin(
			testutil.NewRequest(s.T(), http.MethodPost, "/admin/reconcile/ghosts")))

		testutil.AssertStatusOK(s.T(), rr)
		testutil.AssertJSONContains(s.T(), rr, "mode", "audit")
		testutil.AssertJSONContains(s.T(), rr, "scanned_bindings", float64(3))
	})

	s.Run("enforce", func() {
		s.engine.EXPECT().FindAndPurgeGhostBindings(gomock.Any(), reconcile.ModeEnforce).
			Return(&reconcile.GhostReport{Mode: reconcile.ModeEnforce, Deleted: 2}, nil)

		rr := testutil.DoRequest(s.router,
			testutil.NewRequest(s.T(), http.MethodPost, "/admin/reconcile/ghosts?mode=enforce"))

		testutil.AssertStatusOK(s.T(), rr)
		testutil.AssertJSONContains(s.T(), rr, "deleted", float64(2))
	})

	s.Run("unknown mode is rejected", func() {
		rr := testutil.DoRequest(s.router,
			testutil.NewRequest(s.T(), http.MethodPost, "/admin/reconcile/ghosts?mode=yolo"))

		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})

	s.Run("index outage", func() {
		s.engine.EXPECT().FindAndPurgeGhostBindings(gomock.Any(), reconcile.ModeAudit).
			Return(nil, dErrors.New(dErrors.CodeExternalService, "identity index scan failed"))

		rr := testutil.DoRequest(s.router,
			testutil.NewRequest(s.T(), http.MethodPost, "/admin/reconcile/ghosts"))

		testutil.AssertStatusAndError(s.T(), rr, http.StatusServiceUnavailable, "external_service")
	})
}

func (s *ReconcileHandlerSuite) TestSessions() {
	s.Run("explicit day", func() {
		s.engine.EXPECT().FindAndResolveDuplicateOpenSessions(gomock.Any(), id.DayKey("2026-10-17"), reconcile.ModeEnforce).
			Return(&reconcile.DuplicateReport{Day: "2026-10-17", Mode: reconcile.ModeEnforce, Deleted: 2}, nil)

		rr := testutil.DoRequest(s.router,
			testutil.NewRequest(s.T(), http.MethodPost, "/admin/reconcile/sessions?day=2026-10-17&mode=enforce"))

		testutil.AssertStatusOK(s.T(), rr)
		testutil.AssertJSONContains(s.T(), rr, "day", "2026-10-17")
	})

	s.Run("day defaults to today in the attendance zone", func() {
		s.engine.EXPECT().FindAndResolveDuplicateOpenSessions(gomock.Any(), id.DayKey("2026-10-18"), reconcile.ModeAudit).
			Return(&reconcile.DuplicateReport{Day: "2026-10-18", Mode: reconcile.ModeAudit}, nil)

		req := testutil.NewRequest(s.T(), http.MethodPost, "/admin/reconcile/sessions")
		rr := testutil.DoRequest(s.router, testutil.WithTime(req, time.Date(2026, 10, 17, 18, 0, 0, 0, time.UTC)))

		testutil.AssertStatusOK(s.T(), rr)
	})

	s.Run("malformed day", func() {
		rr := testutil.DoRequest(s.router,
			testutil.NewRequest(s.T(), http.MethodPost, "/admin/reconcile/sessions?day=17-10-2026"))

		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_input")
	})
}
