package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/v0xg/storyrun/internal/storage"
)

func TestSanitize(t *testing.T) {
	assert.Equal(t, "add_a_new_study", Sanitize("Add a new Study!"))
	assert.Equal(t, "manage_studies_page", Sanitize("--Manage - Studies page--"))
	assert.Equal(t, "", Sanitize("?!"))
	assert.Len(t, Sanitize(strings.Repeat("a", 150)), 100)
}

func TestName(t *testing.T) {
	assert.Equal(t, "test_login_flow_step03_failure_could_not_resolve.png",
		Name("Login flow", 3, KindFailure, "Could not resolve", "png"))
	assert.Equal(t, "test_login_flow_step12_verify.jpg",
		Name("Login flow", 12, KindVerify, "", "jpg"))
}

func TestWriterUsesStepFromContext(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)
	w := NewWriter(store, "screenshots")

	ctx := WithStep(context.Background(), "Add study", 2)
	loc, err := w.Screenshot(ctx, KindScreenshot, "after add", "png", []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "screenshots", "test_add_study_step02_screenshot_after_add.png"), loc)

	data, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.Equal(t, "img", string(data))
}

func TestStepFromDefault(t *testing.T) {
	assert.Equal(t, Step{Test: "unknown"}, StepFrom(context.Background()))
}
