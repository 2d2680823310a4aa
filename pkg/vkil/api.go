// Package vkil is the host side interface to a video accelerator card.
//
// A component context is created in two calls to Init: the first allocates
// the local context, the second creates the component on the card. The
// buffer verbs then move descriptors between host and card:
//
//	api, _ := vkil.New(cfg)
//	ctx, _ := api.Init(nil)
//	ctx.Role = message.RoleEncoder
//	ctx, err := api.Init(ctx)
//	...
//	err = api.TransferBuffer(ctx, surface, message.CmdUpload|message.OptBlocking)
//	err = api.ProcessBuffer(ctx, surface, message.CmdRun|message.OptBlocking)
//	err = api.Deinit(ctx)
package vkil

import (
	"fmt"
	"log/slog"

	"github.com/emergingrobotics/go-vkil/pkg/backend"
	"github.com/emergingrobotics/go-vkil/pkg/config"
	"github.com/emergingrobotics/go-vkil/pkg/logging"
	"github.com/emergingrobotics/go-vkil/pkg/session"
)

// API issues requests for every context it creates. Contexts on the same
// card share one device channel.
type API struct {
	cfg      *config.Config
	log      *logging.Logger
	opener   backend.Opener
	resolver session.Resolver
	pool     *backend.Pool
}

// Option configures an API
type Option func(*API)

// WithTransportOpener replaces the character device opener, typically with
// a simulated card
func WithTransportOpener(o backend.Opener) Option {
	return func(a *API) {
		a.opener = o
	}
}

// WithSessionResolver replaces the session table lookup
func WithSessionResolver(r session.Resolver) Option {
	return func(a *API) {
		a.resolver = r
	}
}

// WithLogger replaces the logger built from the configuration
func WithLogger(l *logging.Logger) Option {
	return func(a *API) {
		a.log = l
	}
}

// New creates an API. A nil cfg uses the defaults.
func New(cfg *config.Config, opts ...Option) (*API, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &API{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}

	if a.log == nil {
		l, err := cfg.NewLogger()
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
		a.log = l
	}
	if a.resolver == nil {
		a.resolver = session.NewTableResolver(cfg)
	}

	a.pool = backend.NewPool(a.opener, backend.Options{
		Timeout:       cfg.ResponseTimeout(),
		ProbeInterval: cfg.ProbeInterval(),
		Logger:        a.log,
	})
	return a, nil
}

// Config returns the configuration the API was created with
func (a *API) Config() *config.Config {
	return a.cfg
}

// ProcessingPriority returns the priority applications should attach to
// their work. The frame protocol carries no priority of its own.
func (a *API) ProcessingPriority() uint32 {
	return a.cfg.ProcessingPriority
}

// Logger returns the module logger
func (a *API) Logger() *logging.Logger {
	return a.log
}

// OpenDevices returns how many device channels are open
func (a *API) OpenDevices() int {
	return a.pool.Len()
}

// Close drops the process's session table entry. Contexts must be
// deinitialized first.
func (a *API) Close() error {
	if n := a.pool.Len(); n > 0 {
		a.log.For(logging.ModuleGeneric).Warn("closing with open devices", "count", n)
	}
	if r, ok := a.resolver.(interface{ Release() error }); ok {
		if err := r.Release(); err != nil {
			return fmt.Errorf("failed to release session: %w", err)
		}
	}
	return nil
}

func (a *API) contextLogger(c *Context) *slog.Logger {
	return a.log.For(roleModule(c.Role)).With("queue", c.QueueID)
}
