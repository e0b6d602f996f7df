package index

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"

	"presence/internal/identity/models"
	id "presence/pkg/domain"
	"presence/pkg/platform/sentinel"
)

type MemoryIndexSuite struct {
	suite.Suite
	ctx   context.Context
	index *InMemory
}

func TestMemoryIndexSuite(t *testing.T) {
	suite.Run(t, new(MemoryIndexSuite))
}

func sequentialIDs() func() id.BindingID {
	n := 0
	return func() id.BindingID {
		n++
		return id.BindingID(fmt.Sprintf("b-%03d", n))
	}
}

func (s *MemoryIndexSuite) SetupTest() {
	s.ctx = context.Background()
	s.index = NewInMemory(WithPageSize(2), WithMaxBatchSize(3), WithIDGenerator(sequentialIDs()))
}

func (s *MemoryIndexSuite) TestVerify() {
	bindingID, err := s.index.Enroll(s.ctx, models.Sample("face-A"), "SRM001")
	s.Require().NoError(err)

	s.Run("same sample matches with full confidence", func() {
		m, err := s.index.Verify1to1(s.ctx, models.Sample("face-A"), bindingID)
		s.Require().NoError(err)
		s.True(m.Matched)
		s.Equal(1.0, m.Confidence)
	})

	s.Run("different sample does not match", func() {
		m, err := s.index.Verify1to1(s.ctx, models.Sample("face-B"), bindingID)
		s.Require().NoError(err)
		s.False(m.Matched)
	})

	s.Run("unknown binding is not found", func() {
		_, err := s.index.Verify1to1(s.ctx, models.Sample("face-A"), "missing")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *MemoryIndexSuite) TestPagination() {
	for _, emp := range []id.EmployeeID{"E1", "E2", "E3", "E4", "E5"} {
		_, err := s.index.Enroll(s.ctx, models.Sample("x"), emp)
		s.Require().NoError(err)
	}

	var pages [][]models.Entry
	cursor := ""
	for {
		page, err := s.index.ListPage(s.ctx, cursor)
		s.Require().NoError(err)
		pages = append(pages, page.Entries)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	s.Len(pages, 3)
	s.Len(pages[0], 2)
	s.Len(pages[2], 1)
	s.Equal("E5", pages[2][0].ExternalID)
}

func (s *MemoryIndexSuite) TestExactPageBoundaryEndsWithoutCursor() {
	for _, emp := range []id.EmployeeID{"E1", "E2"} {
		_, err := s.index.Enroll(s.ctx, models.Sample("x"), emp)
		s.Require().NoError(err)
	}
	page, err := s.index.ListPage(s.ctx, "")
	s.Require().NoError(err)
	s.Len(page.Entries, 2)
	s.Empty(page.NextCursor)
}

func (s *MemoryIndexSuite) TestBatchDelete() {
	s.index.Seed(models.Sample("x"),
		models.Entry{BindingID: "b-1", ExternalID: "E1"},
		models.Entry{BindingID: "b-2", ExternalID: "E1"},
	)

	s.Run("rejects oversized batch", func() {
		_, err := s.index.BatchDelete(s.ctx, []id.BindingID{"a", "b", "c", "d"})
		s.True(errors.Is(err, sentinel.ErrInvalidState))
		s.Equal(2, s.index.Len())
	})

	s.Run("counts only existing bindings", func() {
		deleted, err := s.index.BatchDelete(s.ctx, []id.BindingID{"b-1", "b-2", "b-9"})
		s.Require().NoError(err)
		s.Equal(2, deleted)
		s.Equal(0, s.index.Len())
	})
}
