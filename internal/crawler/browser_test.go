package crawler

import (
	"testing"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/v0xg/storyrun/internal/guard"
	"github.com/v0xg/storyrun/internal/locator"
	"go.uber.org/zap"
)

var _ locator.Page = (*Page)(nil)

func TestCheckPopupIgnoresAllowedAndOwnTargets(t *testing.T) {
	g, err := guard.New("https://app.example", nil)
	require.NoError(t, err)
	// No Rod connection: any input that reached PageFromTarget would panic.
	b := &Browser{guard: g, logger: zap.NewNop()}

	for _, info := range []*proto.TargetTargetInfo{
		nil,
		{Type: "page", URL: "https://evil.example/"},
		{Type: "service_worker", URL: "https://evil.example/", OpenerID: "x"},
		{Type: "page", URL: "about:blank", OpenerID: "x"},
		{Type: "page", URL: "https://secure.login.gov/", OpenerID: "x"},
		{Type: "page", URL: "https://app.example/popup", OpenerID: "x"},
	} {
		assert.NotPanics(t, func() { b.checkPopup(info) })
	}
}
