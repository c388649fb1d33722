package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"robottelo/internal/client"
	"robottelo/internal/client/memory"
	"robottelo/internal/fixture"
	"robottelo/internal/fixtures"
	"robottelo/internal/plan"
	"robottelo/internal/rendezvous"
	"robottelo/internal/settings"
	"robottelo/internal/sharedfunc"
	"robottelo/pkg/logging"
)

const (
	// envPrefix is the prefix of settings environment overrides.
	envPrefix = "ROBOTTELO_"
	// defaultSettingsPath is read when --settings is not given, if present.
	defaultSettingsPath = "conf/settings.yaml"
	localSettingsName   = "settings.local.yaml"

	backendMemory = "memory"
	backendREST   = "rest"

	memoryReadAttempts = 3
)

// loadSettings merges the settings layers and validates them. The settings
// are returned together with the error so callers can still show them.
func loadSettings() (*settings.Settings, *settings.Report, error) {
	path := settingsPath
	primary := settings.File(path)
	if path == "" {
		path = defaultSettingsPath
		primary = settings.OptionalFile(path)
	}
	overrides, err := settings.ParseAssignments(settingsOverrides)
	if err != nil {
		return nil, nil, err
	}

	s, err := settings.Load(
		primary,
		settings.OptionalFile(filepath.Join(filepath.Dir(path), localSettingsName)),
		settings.Env(envPrefix),
		settings.Overrides(overrides),
	)
	if err != nil {
		return nil, nil, err
	}
	report, err := s.Configure(settings.DefaultCatalog())
	return s, report, err
}

// registryOptions selects how fixtures reach the server.
type registryOptions struct {
	backend string
	// parties is the number of workers entering shared fixtures.
	// Values below 1 mean one.
	parties int
	files   []*plan.File
	// server is used by the memory backend. Created when nil.
	server *memory.Server
}

// harness is what a run needs besides its cases.
type harness struct {
	registry *fixture.Registry
	// rendezvous backs the shared fixtures. The runner reports idle
	// workers to it.
	rendezvous *rendezvous.Factory
	close      func() error
}

// buildHarness installs the domain fixtures and the plan fixtures. Plan
// fixtures live in a child registry so they can require domain fixtures.
func buildHarness(s *settings.Settings, opts registryOptions) (*harness, error) {
	connect, err := connector(s, opts)
	if err != nil {
		return nil, err
	}
	storage, err := sharedStorage(s)
	if err != nil {
		return nil, err
	}
	closeStorage := func() error { return nil }
	if storage != nil {
		closeStorage = storage.Close
	}
	factory := rendezvousFactory(s, opts.parties, storage)

	root := fixture.NewRegistry("robottelo")
	if err := fixtures.Register(root, fixtures.Options{Connect: connect, Rendezvous: factory.Get, SharedStorage: storage}); err != nil {
		closeStorage()
		return nil, err
	}
	reg := fixture.NewRegistry("plans", root)
	if err := plan.Register(reg, opts.files); err != nil {
		closeStorage()
		return nil, err
	}
	return &harness{registry: reg, rendezvous: factory, close: closeStorage}, nil
}

func connector(s *settings.Settings, opts registryOptions) (fixtures.Connector, error) {
	switch opts.backend {
	case "", backendREST:
		return fixtures.Connect, nil
	case backendMemory:
		mem := opts.server
		if mem == nil {
			mem = memory.New()
		}
		hostname := s.Server().Hostname
		if hostname == "" {
			hostname = "memory"
		}
		// The REST backend retries reads in its transport; the memory
		// backend gets the same behaviour from the client decorator.
		c := client.WithRetry(mem, memoryReadAttempts, 10*time.Millisecond)
		return func(context.Context, *settings.Settings) (*client.Server, error) {
			return &client.Server{Hostname: hostname, Client: c, Executor: mem}, nil
		}, nil
	}
	return nil, fmt.Errorf("invalid backend %q, must be %q or %q", opts.backend, backendMemory, backendREST)
}

// sharedStorage opens the shared_function storage. It is nil when sharing
// is disabled.
func sharedStorage(s *settings.Settings) (sharedfunc.Storage, error) {
	cfg := s.SharedFunction()
	if !cfg.Enabled {
		return nil, nil
	}
	storage, err := sharedfunc.NewStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open shared_function storage: %w", err)
	}
	logging.Debug("SharedFunction", "Using %s shared storage with scope %s", cfg.Storage, cfg.Scope)
	return storage, nil
}

// rendezvousFactory meets workers of separate processes in storage when it
// is set, and in process otherwise.
func rendezvousFactory(s *settings.Settings, parties int, storage sharedfunc.Storage) *rendezvous.Factory {
	if parties < 1 {
		parties = 1
	}
	timeout := time.Duration(s.SharedFunction().ShareTimeout) * time.Second
	if timeout <= 0 {
		timeout = time.Hour
	}
	if storage != nil {
		logging.Debug("Rendezvous", "Using shared storage for %d parties", parties)
	}
	return rendezvous.NewFactory(parties, timeout, storage)
}

// loadPlans reads plan files from path. An empty path yields no plans.
func loadPlans(path string) ([]*plan.File, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("plans path %s does not exist", path)
	}
	return plan.Load(path)
}
