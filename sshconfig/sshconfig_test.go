package sshconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const clocksConfig = `Host sundial
  HostName sundial.columbia.edu
Host horologe
  HostName horologe.cerias.purdue.edu
  Port 18097
Host tock
  HostName tock.nap.com.ar
  Port 7777
Host *
  Port 22
`

func TestResolveClocks(t *testing.T) {
	testCases := []struct {
		alias    string
		hostname string
		port     int
	}{
		{"sundial", "sundial.columbia.edu", 22},
		{"horologe", "horologe.cerias.purdue.edu", 18097},
		{"tock", "tock.nap.com.ar", 7777},
		{"unknown", "unknown", 22},
		{"root@tock", "tock.nap.com.ar", 7777},
	}
	for _, tc := range testCases {
		t.Run(tc.alias, func(t *testing.T) {
			hc := ResolveFrom(tc.alias, strings.NewReader(clocksConfig))
			assert.Equal(t, tc.hostname, hc.Hostname)
			assert.Equal(t, tc.port, hc.Port)
		})
	}
}

func TestResolveFirstWriteWins(t *testing.T) {
	system := "Host example\n  HostName system.example.com\n  Port 2022\n"
	user := "Host example\n  HostName user.example.com\n"

	t.Run("user file prepended shadows system per keyword", func(t *testing.T) {
		hc := ResolveFrom("example", strings.NewReader(user), strings.NewReader(system))
		assert.Equal(t, "user.example.com", hc.Hostname)
		// the user file is silent on Port so the system value is used
		assert.Equal(t, 2022, hc.Port)
	})

	t.Run("system file first dominates", func(t *testing.T) {
		hc := ResolveFrom("example", strings.NewReader(system), strings.NewReader(user))
		assert.Equal(t, "system.example.com", hc.Hostname)
		assert.Equal(t, 2022, hc.Port)
	})

	t.Run("later section never overwrites within one file", func(t *testing.T) {
		content := "Host example\n  HostName first.example.com\nHost *\n  HostName second.example.com\n"
		hc := ResolveFrom("example", strings.NewReader(content))
		assert.Equal(t, "first.example.com", hc.Hostname)
	})
}

func TestResolveUserStripping(t *testing.T) {
	t.Run("user@host resolves identically to host", func(t *testing.T) {
		plain := ResolveFrom("tock", strings.NewReader(clocksConfig))
		withUser := ResolveFrom("root@tock", strings.NewReader(clocksConfig))
		assert.Equal(t, plain, withUser)
	})

	t.Run("last @ wins", func(t *testing.T) {
		hc := ResolveFrom("user@extra@tock", strings.NewReader(clocksConfig))
		assert.Equal(t, "tock.nap.com.ar", hc.Hostname)
	})

	t.Run("empty after stripping returns the alias verbatim", func(t *testing.T) {
		hc := ResolveFrom("root@", strings.NewReader(clocksConfig))
		assert.Equal(t, "root@", hc.Hostname)
		assert.Equal(t, DefaultPort, hc.Port)
	})
}

func TestResolveDefaults(t *testing.T) {
	t.Run("no sources at all", func(t *testing.T) {
		hc := ResolveFrom("example.com")
		assert.Equal(t, "example.com", hc.Hostname)
		assert.Equal(t, DefaultPort, hc.Port)
	})

	t.Run("matching section without hostname keeps the alias", func(t *testing.T) {
		hc := ResolveFrom("example", strings.NewReader("Host example\n  Port 2200\n"))
		assert.Equal(t, "example", hc.Hostname)
		assert.Equal(t, 2200, hc.Port)
	})
}

func TestResolveMalformedPort(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{"non-numeric", "Host example\n  Port twentytwo\n"},
		{"out of range", "Host example\n  Port 70000\n"},
		{"negative", "Host example\n  Port -1\n"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			hc := ResolveFrom("example", strings.NewReader(tc.content))
			assert.Equal(t, DefaultPort, hc.Port)
		})
	}
}

func TestResolveMissingFile(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "config")
	require.NoError(t, os.WriteFile(present, []byte(clocksConfig), 0o600))

	r := NewResolver(filepath.Join(dir, "nonexistent"), present)
	hc := r.Resolve("tock")
	assert.Equal(t, "tock.nap.com.ar", hc.Hostname)
	assert.Equal(t, 7777, hc.Port)
}

func TestTokenizeRow(t *testing.T) {
	testCases := []struct {
		name  string
		row   string
		key   string
		value string
		ok    bool
	}{
		{"plain", "HostName example.com", "hostname", "example.com", true},
		{"equals separator", "HostName=example.com", "hostname", "example.com", true},
		{"equals with spaces", "HostName = example.com", "hostname", "example.com", true},
		{"indented", "\t  Port 22", "port", "22", true},
		{"case folding", "HOSTNAME example.com", "hostname", "example.com", true},
		{"quoted value", `HostName "bell labs"`, "hostname", "bell labs", true},
		{"quoted value ends at last quote", `HostName "a "b" c"`, "hostname", `a "b" c`, true},
		{"empty", "", "", "", false},
		{"blank", "   \t ", "", "", false},
		{"comment", "# HostName example.com", "", "", false},
		{"indented comment", "   # comment", "", "", false},
		{"keyword only", "HostName", "", "", false},
		{"trailing whitespace", "Port 22   ", "port", "22", true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			key, value, ok := tokenizeRow(tc.row)
			require.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.key, key)
			assert.Equal(t, tc.value, value)
		})
	}
}

func TestPatternMatch(t *testing.T) {
	testCases := []struct {
		value   string
		pattern string
		want    bool
	}{
		{"sundial", "*", true},
		{"sundial", "sun*", true},
		{"sundial", "sund", false},
		{"sundial", "sundial", true},
		{"sundial", "s?ndial", true},
		{"sundial", "s?ndial?", false},
		{"sundial", "[st]undial", true},
		{"sundial", "[xyz]undial", false},
		{"sundial", "SUNDIAL", false},
		{"host.example.com", "*.example.com", true},
		{"host.example.org", "*.example.com", false},
	}
	for _, tc := range testCases {
		t.Run(tc.pattern, func(t *testing.T) {
			assert.Equal(t, tc.want, match(tc.value, tc.pattern))
		})
	}
}

func TestPatternMatchAll(t *testing.T) {
	t.Run("any pattern in the list may match", func(t *testing.T) {
		assert.True(t, matchAll("tock", []string{"tick", "tock"}))
	})
	t.Run("negation wins over a positive match", func(t *testing.T) {
		assert.False(t, matchAll("tock", []string{"*", "!tock"}))
	})
	t.Run("negation alone is not a match", func(t *testing.T) {
		assert.False(t, matchAll("tick", []string{"!tock"}))
	})
}
