package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadQuestion(t *testing.T) {
	var prompt bytes.Buffer
	q, err := readQuestion(strings.NewReader("How did girls score?\nignored\n"), &prompt)
	require.NoError(t, err)
	assert.Equal(t, "How did girls score?", q)
	assert.Equal(t, "Enter your question: ", prompt.String())

	q, err = readQuestion(strings.NewReader(""), &prompt)
	require.NoError(t, err)
	assert.Empty(t, q)
}

func TestConfirm(t *testing.T) {
	cases := map[string]bool{
		"y\n":     true,
		" YES \n": true,
		"n\n":     false,
		"":        false,
		"maybe\n": false,
	}
	for input, want := range cases {
		var prompt bytes.Buffer
		ok, err := confirm(strings.NewReader(input), &prompt, "Continue? ")
		require.NoError(t, err)
		assert.Equal(t, want, ok, "input %q", input)
	}
}

func TestCommandsRegistered(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"ask", "serve", "ingest", "bootstrap", "clear"})

	flag := ingestCmd.Flags().Lookup("export")
	require.NotNil(t, flag)
	assert.Equal(t, "true", flag.DefValue)
}
