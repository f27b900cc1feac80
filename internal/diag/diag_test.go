package diag

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/language"
)

func TestErrorsIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("create: %w", NoGpuDevice("/dev/dri"))

	assert.True(t, errors.Is(err, ErrNoGpuDevice))
	assert.False(t, errors.Is(err, ErrNoDisplaySession))
	assert.False(t, errors.Is(err, ErrNvidiaToolkitMissing))

	var de *Error
	if assert.True(t, errors.As(err, &de)) {
		assert.Equal(t, "/dev/dri", de.Path)
	}
}

func TestRuntimeUnreachableUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := RuntimeUnreachable("/run/user/1000/podman/podman.sock", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrRuntimeUnreachable)
	assert.Contains(t, err.Error(), "podman.sock")
}

func TestMatch(t *testing.T) {
	tests := []struct {
		locale string
		want   language.Tag
	}{
		{"pl_PL.UTF-8", language.Polish},
		{"pl", language.Polish},
		{"en_US.UTF-8", language.English},
		{"de_DE.UTF-8", language.English},
		{"C", language.English},
		{"POSIX", language.English},
		{"", language.English},
		{"sr_RS@latin", language.English},
	}
	for _, tt := range tests {
		t.Run(tt.locale, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.locale))
		})
	}
}

func TestLanguagePrecedence(t *testing.T) {
	t.Setenv("LANG", "en_US.UTF-8")
	t.Setenv("LC_MESSAGES", "")
	t.Setenv("LC_ALL", "pl_PL.UTF-8")
	assert.Equal(t, language.Polish, Language())

	t.Setenv("LC_ALL", "")
	assert.Equal(t, language.English, Language())
}

func TestDescribe(t *testing.T) {
	t.Run("localized fatal condition", func(t *testing.T) {
		out := Describe(NoGpuDevice("/dev/dri"), language.Polish)
		assert.Contains(t, out, "Błąd")
		assert.Contains(t, out, "Brak sterowników GPU")
		assert.Contains(t, out, "[/dev/dri]")
	})

	t.Run("hint for unreachable daemon", func(t *testing.T) {
		out := Describe(RuntimeUnreachable("/run/podman.sock", errors.New("dial unix: no such file")), language.English)
		assert.Contains(t, out, "systemctl --user enable --now podman.socket")
		assert.Contains(t, out, "no such file")
	})

	t.Run("wrapped condition still recognized", func(t *testing.T) {
		out := Describe(fmt.Errorf("run: %w", NoDisplaySession()), language.English)
		assert.Contains(t, out, "No graphical session")
	})

	t.Run("plain error passes through", func(t *testing.T) {
		out := Describe(errors.New("image pull failed"), language.English)
		assert.Equal(t, "Error: image pull failed", out)
	})

	t.Run("unsupported language falls back to English", func(t *testing.T) {
		out := Describe(NoDisplaySession(), language.German)
		assert.Contains(t, out, "No graphical session")
	})

	t.Run("nil", func(t *testing.T) {
		assert.Empty(t, Describe(nil, language.English))
	})
}
