package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootHasCommands(t *testing.T) {
	root := buildRoot()
	for _, name := range []string{"serve", "status", "start", "stop", "watch"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestHelpMentionsClawpanel(t *testing.T) {
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--help"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "clawpanel")
}

func TestFlagsBind(t *testing.T) {
	root := buildRoot()
	watch, _, err := root.Find([]string{"watch"})
	require.NoError(t, err)
	require.NoError(t, watch.ParseFlags([]string{"--interval=2s", "--count=4", "--api-url=http://x/api"}))
	v, err := watch.Flags().GetDuration("interval")
	require.NoError(t, err)
	assert.Equal(t, "2s", v.String())

	start, _, err := root.Find([]string{"start"})
	require.NoError(t, err)
	f := start.Flags().Lookup("api-timeout")
	require.NotNil(t, f)
	assert.Equal(t, "1m0s", f.DefValue)
}

func TestPrintJSON(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printJSON(&out, map[string]int{"a": 1}))
	assert.Equal(t, "{\n  \"a\": 1\n}\n", out.String())
	assert.Error(t, printJSON(&out, make(chan int)))
}
