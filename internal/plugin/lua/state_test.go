package lua

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

func TestSandboxExcludesUnsafeLibraries(t *testing.T) {
	t.Parallel()

	s := NewState()
	defer s.Close()

	for _, name := range []string{"io", "os", "debug", "require", "dofile", "loadfile"} {
		assert.Equal(t, lua.LNil, s.L.GetGlobal(name), "global %q should be absent", name)
	}
	// Safe libraries stay available.
	for _, name := range []string{"string", "table", "math", "pairs", "tostring"} {
		assert.NotEqual(t, lua.LNil, s.L.GetGlobal(name), "global %q should be present", name)
	}
}

func TestDoFileAndCall(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "main.lua")
	require.NoError(t, os.WriteFile(path, []byte(`
		function add(a, b)
			return a + b, "done"
		end
	`), 0o644))

	s := NewState()
	defer s.Close()

	require.NoError(t, s.DoFile(path))
	assert.True(t, s.HasGlobalFunc("add"))
	assert.False(t, s.HasGlobalFunc("missing"))

	results, err := s.Call("add", lua.LNumber(2), lua.LNumber(3))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, lua.LNumber(5), results[0])
	assert.Equal(t, lua.LString("done"), results[1])
}

func TestCallErrorsSurface(t *testing.T) {
	t.Parallel()

	s := NewState()
	defer s.Close()

	require.NoError(t, s.L.DoString(`function boom() error("broken handler") end`))

	_, err := s.Call("boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken handler")

	_, err = s.Call("not_defined")
	require.Error(t, err)
}

func TestRegisterModule(t *testing.T) {
	t.Parallel()

	s := NewState()
	defer s.Close()

	var got string
	s.RegisterModule("host", map[string]lua.LGFunction{
		"echo": func(L *lua.LState) int {
			got = L.CheckString(1)
			L.Push(lua.LString("ok"))
			return 1
		},
	})

	require.NoError(t, s.L.DoString(`result = host.echo("hello")`))
	assert.Equal(t, "hello", got)
	assert.Equal(t, lua.LString("ok"), s.L.GetGlobal("result"))
}

func TestClosedStateRejectsCalls(t *testing.T) {
	t.Parallel()

	s := NewState()
	s.Close()
	s.Close() // idempotent

	_, err := s.Call("anything")
	assert.ErrorIs(t, err, ErrStateClosed)
	assert.ErrorIs(t, s.DoFile("nope.lua"), ErrStateClosed)
}
