package diag

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/language"
)

var (
	supported = []language.Tag{language.English, language.Polish}
	matcher   = language.NewMatcher(supported)
)

// Language picks the diagnosis language from LC_ALL, LC_MESSAGES and LANG,
// in POSIX precedence order. Unknown or unset locales fall back to English.
func Language() language.Tag {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := os.Getenv(key); v != "" {
			return Match(v)
		}
	}
	return language.English
}

// Match maps a POSIX locale string ("pl_PL.UTF-8") to a supported language.
func Match(locale string) language.Tag {
	locale, _, _ = strings.Cut(locale, ".")
	locale, _, _ = strings.Cut(locale, "@")
	locale = strings.ReplaceAll(locale, "_", "-")
	if locale == "" || locale == "C" || locale == "POSIX" {
		return language.English
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return language.English
	}
	_, idx, conf := matcher.Match(tag)
	if conf == language.No {
		return language.English
	}
	return supported[idx]
}

type message struct {
	summary string
	hint    string
}

var messages = map[language.Tag]map[Kind]message{
	language.English: {
		KindNoGpuDevice: {
			summary: "No GPU drivers found (no graphics device node)",
			hint:    "install the Mesa or vendor drivers so that /dev/dri exists",
		},
		KindNoDisplaySession: {
			summary: "No graphical session found (X11/Wayland)",
			hint:    "run from inside a desktop session so DISPLAY or WAYLAND_DISPLAY is set",
		},
		KindNvidiaToolkitMissing: {
			summary: "NVIDIA GPU detected, but its container integration is missing",
			hint:    "install nvidia-container-toolkit and make sure it is on PATH",
		},
		KindRuntimeUnreachable: {
			summary: "The Podman daemon is not reachable",
			hint:    "start it with: systemctl --user enable --now podman.socket",
		},
		KindInvalidIdentity: {
			summary: "Cannot resolve the calling user's uid/gid",
			hint:    "run as a regular user with a valid passwd entry",
		},
	},
	language.Polish: {
		KindNoGpuDevice: {
			summary: "Brak sterowników GPU (brak /dev/dri)",
			hint:    "zainstaluj sterowniki Mesa lub producenta, aby istniało /dev/dri",
		},
		KindNoDisplaySession: {
			summary: "Nie znaleziono sesji graficznej (X11/Wayland)",
			hint:    "uruchom z sesji graficznej, w której ustawiono DISPLAY lub WAYLAND_DISPLAY",
		},
		KindNvidiaToolkitMissing: {
			summary: "NVIDIA wykryte, ale brak sterowników (nvidia-container-toolkit)",
			hint:    "zainstaluj nvidia-container-toolkit i upewnij się, że jest w PATH",
		},
		KindRuntimeUnreachable: {
			summary: "Demon Podmana jest nieosiągalny",
			hint:    "uruchom go poleceniem: systemctl --user enable --now podman.socket",
		},
		KindInvalidIdentity: {
			summary: "Nie można ustalić uid/gid bieżącego użytkownika",
			hint:    "uruchom jako zwykły użytkownik z poprawnym wpisem w passwd",
		},
	},
}

var errorLabel = map[language.Tag]string{
	language.English: "Error",
	language.Polish:  "Błąd",
}

// Describe renders err for the operator. Fatal host conditions get a
// localized summary and hint; anything else is printed as is.
func Describe(err error, lang language.Tag) string {
	if err == nil {
		return ""
	}
	if _, ok := messages[lang]; !ok {
		lang = language.English
	}

	var de *Error
	if !errors.As(err, &de) {
		return fmt.Sprintf("%s: %v", errorLabel[lang], err)
	}

	var m message
	switch de.Kind {
	case KindNoGpuDevice, KindNoDisplaySession, KindNvidiaToolkitMissing,
		KindRuntimeUnreachable, KindInvalidIdentity:
		m = messages[lang][de.Kind]
	default:
		return fmt.Sprintf("%s: %v", errorLabel[lang], err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s", errorLabel[lang], m.summary)
	if de.Path != "" {
		fmt.Fprintf(&sb, " [%s]", de.Path)
	}
	if de.Err != nil {
		fmt.Fprintf(&sb, "\n  %v", de.Err)
	}
	fmt.Fprintf(&sb, "\n  → %s", m.hint)
	return sb.String()
}
