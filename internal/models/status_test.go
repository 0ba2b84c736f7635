package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to TaskStatus
		want     bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusCompleted, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusPending, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusPending, false},
	}

	for _, tc := range cases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			require.Equal(t, tc.want, CanTransition(tc.from, tc.to))
		})
	}
}

func TestValidateTransition(t *testing.T) {
	require.NoError(t, ValidateTransition(StatusPending, StatusPending))
	require.NoError(t, ValidateTransition(StatusPending, StatusFailed))
	require.ErrorIs(t, ValidateTransition(StatusCompleted, StatusProcessing), ErrInvalidTransition)
}

func TestLanguageByCode(t *testing.T) {
	lang, ok := LanguageByCode("ms")
	require.True(t, ok)
	require.Equal(t, "Malay", lang.Name)

	_, ok = LanguageByCode("fr")
	require.False(t, ok)
}
