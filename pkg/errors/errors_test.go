package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/citeresolve/pkg/errors"
)

func TestNew_FieldsAreSetCorrectly(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		code    errors.ErrorCode
		message string
	}{
		{"internal error", errors.ErrCodeInternal, "unexpected failure"},
		{"malformed", errors.ErrCodeMalformedCitation, "citation has no title"},
		{"checkpoint", errors.ErrCodeCheckpointFailed, "redis write failed"},
		{"rate limit", errors.CodeRateLimit, "too many requests"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ae := errors.New(tc.code, tc.message)

			require.NotNil(t, ae)
			assert.Equal(t, tc.code, ae.Code)
			assert.Equal(t, tc.message, ae.Message)
			assert.Empty(t, ae.Detail)
			assert.Nil(t, ae.Cause)
			assert.NotEmpty(t, ae.Stack)
		})
	}
}

func TestNewf_FormatsMessage(t *testing.T) {
	ae := errors.Newf(errors.ErrCodeUnknownSource, "unknown source %q", "scopus")
	assert.Equal(t, `unknown source "scopus"`, ae.Message)
}

func TestWrap_NilErrReturnsNil(t *testing.T) {
	t.Parallel()
	assert.Nil(t, errors.Wrap(nil, errors.ErrCodeInternal, "should not matter"))
	assert.Nil(t, errors.Wrapf(nil, errors.ErrCodeInternal, "%d", 1))
}

func TestWrap_CauseChainIsPreserved(t *testing.T) {
	t.Parallel()

	cause := stderrors.New("connection refused")
	ae := errors.Wrap(cause, errors.ErrCodeSourceUnavailable, "crossref request failed")

	require.NotNil(t, ae)
	assert.Equal(t, cause, ae.Cause)
	assert.Equal(t, cause, stderrors.Unwrap(ae))
	assert.True(t, stderrors.Is(ae, cause))
}

func TestWrap_PreservesOriginalCodeWhenCodeUnknown(t *testing.T) {
	t.Parallel()

	inner := errors.New(errors.ErrCodeCitationNotFound, "no citation")
	outer := errors.Wrap(inner, errors.CodeUnknown, "handler")
	assert.Equal(t, errors.ErrCodeCitationNotFound, outer.Code)
}

func TestWrap_OverridesCodeWhenExplicit(t *testing.T) {
	t.Parallel()

	inner := errors.New(errors.ErrCodeCacheError, "redis down")
	outer := errors.Wrap(inner, errors.ErrCodeCheckpointFailed, "checkpoint")
	assert.Equal(t, errors.ErrCodeCheckpointFailed, outer.Code)
	assert.True(t, errors.IsCode(outer, errors.ErrCodeCacheError))
}

func TestError_Format(t *testing.T) {
	t.Parallel()

	ae := errors.New(errors.ErrCodeSourceUnavailable, "source unavailable")
	assert.Equal(t, "[RESOLUTION_001] source unavailable", ae.Error())

	withDetail := ae.WithDetail("source=openalex")
	assert.Equal(t, "[RESOLUTION_001] source unavailable: source=openalex", withDetail.Error())

	wrapped := errors.Wrap(stderrors.New("timeout"), errors.ErrCodeTimeout, "chain deadline")
	assert.Equal(t, "[COMMON_009] chain deadline: timeout", wrapped.Error())
}

func TestWithDetail_DoesNotMutateOriginal(t *testing.T) {
	t.Parallel()

	orig := errors.New(errors.ErrCodeInternal, "boom")
	clone := orig.WithDetail("key=abc")
	assert.Empty(t, orig.Detail)
	assert.Equal(t, "key=abc", clone.Detail)

	var nilErr *errors.AppError
	assert.Nil(t, nilErr.WithDetail("x"))
	assert.Nil(t, nilErr.WithCause(stderrors.New("x")))
}

func TestIsCode(t *testing.T) {
	t.Parallel()

	base := errors.New(errors.ErrCodeSourceUnavailable, "down")
	chain := fmt.Errorf("adapter: %w", errors.Wrap(base, errors.ErrCodeExternalService, "crossref"))

	assert.True(t, errors.IsCode(chain, errors.ErrCodeSourceUnavailable))
	assert.True(t, errors.IsCode(chain, errors.ErrCodeExternalService))
	assert.False(t, errors.IsCode(chain, errors.ErrCodeTimeout))
	assert.False(t, errors.IsCode(nil, errors.ErrCodeInternal))
	assert.False(t, errors.IsCode(stderrors.New("plain"), errors.ErrCodeInternal))
}

func TestGetCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, errors.CodeOK, errors.GetCode(nil))
	assert.Equal(t, errors.CodeUnknown, errors.GetCode(stderrors.New("plain")))
	assert.Equal(t, errors.ErrCodeRunLocked,
		errors.GetCode(fmt.Errorf("cli: %w", errors.New(errors.ErrCodeRunLocked, "locked"))))
}

func TestClassificationHelpers(t *testing.T) {
	cases := []struct {
		name string
		err  error
		fn   func(error) bool
		want bool
	}{
		{"not found generic", errors.ErrNotFound("citation", "doi:10.1/x"), errors.IsNotFound, true},
		{"not found citation", errors.New(errors.ErrCodeCitationNotFound, "x"), errors.IsNotFound, true},
		{"not found wrapped", errors.Wrap(errors.ErrNotFound("c", "1"), errors.ErrCodeInternal, "w"), errors.IsNotFound, true},
		{"not found nil", nil, errors.IsNotFound, false},
		{"validation", errors.NewValidationError("year", "must be positive"), errors.IsValidation, true},
		{"validation malformed", errors.New(errors.ErrCodeMalformedCitation, "x"), errors.IsValidation, true},
		{"conflict", errors.New(errors.ErrCodeRunLocked, "x"), errors.IsConflict, true},
		{"timeout", errors.New(errors.ErrCodeTimeout, "x"), errors.IsTimeout, true},
		{"unavailable", errors.New(errors.ErrCodeSourceUnavailable, "x"), errors.IsUnavailable, true},
		{"unavailable plain", fmt.Errorf("plain"), errors.IsUnavailable, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.fn(tc.err))
		})
	}
}

func TestNewValidationError_CarriesField(t *testing.T) {
	ae := errors.NewValidationError("confident_threshold", "must exceed plausible threshold")
	assert.Equal(t, errors.ErrCodeValidation, ae.Code)
	assert.Equal(t, "field=confident_threshold", ae.Detail)
}

func TestStdlibPassthroughs(t *testing.T) {
	root := stderrors.New("root")
	ae := errors.Wrap(root, errors.ErrCodeDatabaseError, "insert")

	var target *errors.AppError
	require.True(t, errors.As(fmt.Errorf("repo: %w", ae), &target))
	assert.Equal(t, errors.ErrCodeDatabaseError, target.Code)
	assert.True(t, errors.Is(ae, root))
	assert.Equal(t, root, errors.Unwrap(ae))

	joined := errors.Join(root, ae)
	assert.True(t, errors.Is(joined, root))
}
