package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTOTPCommand(t *testing.T) {
	cmd := totpCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"JBSWY3DPEHPK3PXP"})

	require.NoError(t, cmd.Execute())
	code := strings.TrimSpace(out.String())
	assert.Len(t, code, 6)
}

func TestTOTPCommandRejectsBadSecret(t *testing.T) {
	cmd := totpCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"not-base32!"})
	assert.Error(t, cmd.Execute())
}

func TestReadStory(t *testing.T) {
	t.Cleanup(func() { story, storyFile = "", "" })

	story, storyFile = "", ""
	_, err := readStory()
	assert.Error(t, err)

	p := filepath.Join(t.TempDir(), "story.md")
	require.NoError(t, os.WriteFile(p, []byte("As a user I can log in."), 0o644))
	storyFile = p
	got, err := readStory()
	require.NoError(t, err)
	assert.Equal(t, "As a user I can log in.", got)

	story = "inline wins"
	got, err = readStory()
	require.NoError(t, err)
	assert.Equal(t, "inline wins", got)
}
