package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
)

// DomainErrorsSuite tests the domain error primitives used at every trust boundary.
type DomainErrorsSuite struct {
	suite.Suite
}

func TestDomainErrorsSuite(t *testing.T) {
	suite.Run(t, new(DomainErrorsSuite))
}

func (s *DomainErrorsSuite) TestErrorInterface() {
	s.Run("returns message when present", func() {
		err := &Error{Code: CodeConflict, Message: "cannot accept from state resolved"}
		s.Equal("cannot accept from state resolved", err.Error())
	})

	s.Run("returns code when message is empty", func() {
		err := &Error{Code: CodeNotFound}
		s.Equal("not_found", err.Error())
	})
}

func (s *DomainErrorsSuite) TestIsMatching() {
	s.Run("matches by code only", func() {
		err := New(CodeConflict, "one")
		s.True(errors.Is(err, &Error{Code: CodeConflict}))
	})

	s.Run("does not match different codes", func() {
		err := New(CodeConflict, "one")
		s.False(errors.Is(err, &Error{Code: CodeInternal}))
	})
}

func (s *DomainErrorsSuite) TestWrap() {
	s.Run("preserves existing domain code", func() {
		inner := New(CodeBadRequest, "necessary cannot be changed")
		wrapped := Wrap(inner, CodeInternal, "settings update failed")
		s.True(HasCode(wrapped, CodeBadRequest))
		s.Equal("settings update failed", wrapped.Error())
	})

	s.Run("applies code to plain errors", func() {
		inner := errors.New("redis down")
		wrapped := Wrap(inner, CodeUnavailable, "storage unavailable")
		s.True(HasCode(wrapped, CodeUnavailable))
		s.ErrorIs(wrapped, inner)
	})
}

func (s *DomainErrorsSuite) TestCodeOf() {
	s.Equal(CodeConflict, CodeOf(fmt.Errorf("handler: %w", New(CodeConflict, "x"))))
	s.Equal(CodeInternal, CodeOf(errors.New("plain")))
}
