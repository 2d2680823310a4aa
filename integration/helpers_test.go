//go:build integration || benchmark

package integration

import (
	"testing"

	"github.com/emergingrobotics/go-vkil/pkg/config"
	"github.com/emergingrobotics/go-vkil/pkg/logging"
	"github.com/emergingrobotics/go-vkil/pkg/message"
	"github.com/emergingrobotics/go-vkil/pkg/session"
	"github.com/emergingrobotics/go-vkil/pkg/vkil"
	"github.com/emergingrobotics/go-vkil/pkg/vksim"
)

const blocking = message.OptBlocking

func newSimAPI(t testing.TB) (*vkil.API, *vksim.Card) {
	t.Helper()
	card := vksim.New()
	cfg := config.Default()
	cfg.Timeouts.ResponseMS = 1000

	api, err := vkil.New(cfg,
		vkil.WithTransportOpener(card.Opener()),
		vkil.WithSessionResolver(session.StaticResolver{Session: session.Session{DevicePath: "sim0"}}),
		vkil.WithLogger(logging.Discard()))
	if err != nil {
		t.Fatalf("Failed to create API: %v", err)
	}
	return api, card
}

func openContext(t testing.TB, api *vkil.API, role message.Role, queue uint8) *vkil.Context {
	t.Helper()
	c, err := api.Init(nil)
	if err != nil {
		t.Fatalf("Failed to create local context: %v", err)
	}
	c.Role = role
	c.QueueID = queue
	if _, err := api.Init(c); err != nil {
		t.Fatalf("Failed to create %s component: %v", role, err)
	}
	return c
}
