package mount

import (
	"os"
	"path/filepath"
	"testing"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	homeDir, err := os.UserHomeDir()
	require.NoError(t, err)
	games := filepath.Join(homeDir, "Games")

	tests := []struct {
		name     string
		spec     string
		want     *Mount
		errMatch string
	}{
		{
			name: "tilde path mirrors into the session read-only",
			spec: "~/Games",
			want: &Mount{Source: games, Target: games, ReadOnly: true},
		},
		{
			name: "tilde path with rw flag",
			spec: "~/Games:rw",
			want: &Mount{Source: games, Target: games, ReadOnly: false},
		},
		{
			name: "explicit target",
			spec: "/mnt/library:/home/steam/Library",
			want: &Mount{Source: "/mnt/library", Target: "/home/steam/Library", ReadOnly: true},
		},
		{
			name: "explicit target rw",
			spec: "/mnt/library:/home/steam/Library:rw",
			want: &Mount{Source: "/mnt/library", Target: "/home/steam/Library", ReadOnly: false},
		},
		{
			name: "target is cleaned",
			spec: "/mnt/library:/home/steam//Library/:ro",
			want: &Mount{Source: "/mnt/library", Target: "/home/steam/Library", ReadOnly: true},
		},
		{name: "empty spec", spec: "", errMatch: "cannot be empty"},
		{name: "invalid mode", spec: "/mnt/a:/b:maybe", errMatch: "invalid mode"},
		{name: "too many colons", spec: "/mnt/a:/b:ro:x", errMatch: "too many colons"},
		{name: "relative target", spec: "/mnt/a:Library", errMatch: "must be absolute"},
		{name: "tilde target is not expanded", spec: "/mnt/a:~/Library", errMatch: "must be absolute"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.spec)
			if tt.errMatch != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMatch)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOCI(t *testing.T) {
	ro := (&Mount{Source: "/mnt/a", Target: "/home/steam/a", ReadOnly: true}).OCI()
	assert.Equal(t, specs.Mount{
		Destination: "/home/steam/a",
		Type:        "bind",
		Source:      "/mnt/a",
		Options:     []string{"rbind", "ro"},
	}, ro)

	rw := (&Mount{Source: "/mnt/a", Target: "/home/steam/a"}).OCI()
	assert.Equal(t, []string{"rbind", "rw"}, rw.Options)
}

func TestParseAll(t *testing.T) {
	tmp := t.TempDir()
	secret := filepath.Join(tmp, "secret")
	library := filepath.Join(tmp, "library")
	require.NoError(t, os.MkdirAll(secret, 0755))
	require.NoError(t, os.MkdirAll(library, 0755))

	v, err := NewValidator([]string{secret}, []string{"/home/steam"})
	require.NoError(t, err)

	t.Run("preserves order", func(t *testing.T) {
		got, err := ParseAll([]string{library + ":/srv/lib:rw", "/mnt/b"}, v)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "/srv/lib", got[0].Destination)
		assert.Equal(t, "/mnt/b", got[1].Destination)
	})

	t.Run("blocked source fails the batch", func(t *testing.T) {
		_, err := ParseAll([]string{library, secret + "/keys"}, v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mount validation failed")
	})

	t.Run("parse error names the input", func(t *testing.T) {
		_, err := ParseAll([]string{"/a:/b:bogus"}, v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "/a:/b:bogus")
	})

	t.Run("nil validator skips validation", func(t *testing.T) {
		got, err := ParseAll([]string{secret}, nil)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("empty input", func(t *testing.T) {
		got, err := ParseAll(nil, v)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestExpandPath(t *testing.T) {
	homeDir, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := expandPath("~/.steam")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(homeDir, ".steam"), got)

	got, err = expandPath("/etc/../etc/hosts")
	require.NoError(t, err)
	assert.Equal(t, "/etc/hosts", got)

	_, err = expandPath("")
	assert.Error(t, err)
}
