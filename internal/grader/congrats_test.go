package grader

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCongratsDrawsFromPools(t *testing.T) {
	for _, locale := range []string{"en", "fr"} {
		for i := 0; i < 50; i++ {
			msg := congrats(locale)
			require.NotEmpty(t, msg)

			opener := false
			for _, o := range congratsOpeners[locale] {
				if strings.HasPrefix(msg, o) {
					opener = true
				}
			}
			require.True(t, opener, "%s: %q", locale, msg)

			closer := false
			for _, c := range congratsClosers[locale] {
				if strings.HasSuffix(msg, c) {
					closer = true
				}
			}
			require.True(t, closer, "%s: %q", locale, msg)
		}
	}
}

func TestCongratsUnknownLocaleFallsBackToEnglish(t *testing.T) {
	msg := congrats("eo")
	found := false
	for _, o := range congratsOpeners["en"] {
		if strings.HasPrefix(msg, o) {
			found = true
		}
	}
	require.True(t, found, "%q", msg)
}
