package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommands(t *testing.T) {
	root := newRootCommand()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"peek", "replay", "archive", "stats"}, names)

	limit := root.PersistentFlags().Lookup("limit")
	if assert.NotNil(t, limit) {
		assert.Equal(t, "0", limit.DefValue)
	}
}
