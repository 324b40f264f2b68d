package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/arbor/internal/apperr"
)

func TestOperationFor(t *testing.T) {
	tests := []struct {
		method   string
		hasQuery bool
		hasMore  bool
		want     Operation
	}{
		{"GET", false, false, OpRead},
		{"GET", false, true, OpRead},
		{"GET", true, true, OpRead},
		{"GET", true, false, OpFind},
		{"get", true, false, OpFind},
		{"POST", false, false, OpCreate},
		{"POST", true, false, OpCreate},
		{"PUT", false, false, OpUpdate},
		{"PATCH", false, false, OpUpdate},
		{"DELETE", false, false, OpDelete},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			got, err := OperationFor(tt.method, tt.hasQuery, tt.hasMore)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOperationForUnsupportedVerb(t *testing.T) {
	for _, m := range []string{"OPTIONS", "HEAD", "TRACE", ""} {
		_, err := OperationFor(m, false, false)
		require.Error(t, err, m)
		assert.True(t, apperr.IsKind(err, apperr.KindBadRequest), m)
	}
}

func TestEventNames(t *testing.T) {
	assert.Equal(t, "before-read", EventName(PhaseBefore, OpRead))
	assert.Equal(t, "after-delete", EventName(PhaseAfter, OpDelete))
	assert.Equal(t, []Phase{PhaseBefore, PhaseOn, PhaseAfter}, Phases())

	cat := Catalogue()
	assert.Len(t, cat, 15)
	assert.Equal(t, "before-create", cat[0])
	assert.Contains(t, cat, "on-find")
}

func TestParseEventName(t *testing.T) {
	ph, op, ok := ParseEventName("on-update")
	require.True(t, ok)
	assert.Equal(t, PhaseOn, ph)
	assert.Equal(t, OpUpdate, op)

	for _, bad := range []string{"update", "during-read", "on-fetch", ""} {
		_, _, ok := ParseEventName(bad)
		assert.False(t, ok, bad)
	}
}

func TestOperationPredicates(t *testing.T) {
	assert.True(t, OpCreate.Mutating())
	assert.False(t, OpFind.Mutating())
	assert.True(t, OpFind.Valid())
	assert.False(t, Operation("list").Valid())
}

func TestCanonicalName(t *testing.T) {
	assert.Equal(t, "arbor/v1/api/users/on-read", CanonicalName("arbor", "v1", "api", "Users", "on-read"))
	assert.Equal(t, "v2/x", CanonicalName("", "v2", "", "/x/"))
	assert.Equal(t, "", CanonicalName("", ""))
}
