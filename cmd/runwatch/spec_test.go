package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSpecYAML(t *testing.T) {
	spec, err := parseSpec([]byte(`
title: compare
prompt: say hi
targets:
  - backend: openai
    model: gpt-4o
    label: GPT
  - item_id: claude
    backend: anthropic
`))
	require.NoError(t, err)
	assert.Equal(t, "compare", spec.Title)
	require.Len(t, spec.Targets, 2)
	assert.Equal(t, "gpt-4o", spec.Targets[0].Model)
	assert.Equal(t, "claude", spec.Targets[1].ItemID)
}

func TestParseSpecJSON(t *testing.T) {
	spec, err := parseSpec([]byte(`{"targets":[{"backend":"a","item_id":"x"}],"metadata":{"k":"v"}}`))
	require.NoError(t, err)
	assert.Equal(t, "x", spec.Targets[0].ItemID)
	assert.Equal(t, "v", spec.Metadata["k"])
}

func TestParseSpecInvalid(t *testing.T) {
	_, err := parseSpec([]byte(`targets: []`))
	assert.ErrorContains(t, err, "invalid spec")

	_, err = parseSpec([]byte(`targets: [`))
	assert.ErrorContains(t, err, "parse spec")
}

func TestLoadSpecFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spec.yaml")
	require.NoError(t, os.WriteFile(path, []byte("targets:\n  - backend: a\n"), 0o644))

	spec, err := loadSpec(path)
	require.NoError(t, err)
	assert.Len(t, spec.Targets, 1)

	_, err = loadSpec(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
