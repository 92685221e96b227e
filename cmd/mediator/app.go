package main

import (
	"fmt"
	"strconv"

	"github.com/aimediator/mediator/internal/config"
	"github.com/aimediator/mediator/internal/consult"
	"github.com/aimediator/mediator/internal/mediation"
	"github.com/aimediator/mediator/internal/storage"
	"github.com/aimediator/mediator/internal/storage/factory"
	"github.com/aimediator/mediator/internal/telemetry"
	"github.com/aimediator/mediator/internal/types"
)

// app bundles the collaborators a command needs.
type app struct {
	store      storage.Store
	dispatcher *consult.Dispatcher
	svc        *mediation.Service
}

var current *app

// openApp opens the configured store and provider once per process.
func openApp() (*app, error) {
	if current != nil {
		return current, nil
	}
	ss := config.GetStorageSettings()
	store, err := factory.New(rootCtx, ss.Backend, factory.Options{Path: ss.Path, DSN: ss.DSN})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	store = telemetry.WrapStore(store)

	cs := config.GetConsultSettings()
	provider, err := consult.NewProvider(consult.Options{
		Provider:   cs.Provider,
		Model:      cs.Model,
		APIKey:     cs.APIKey,
		MaxTokens:  cs.MaxTokens,
		MaxRetries: cs.MaxRetries,
		DryRun:     cs.DryRun,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	logger.Debug("app opened", "backend", ss.Backend, "provider", provider.Name())

	dispatcher := consult.NewDispatcher(provider, store, logger)
	current = &app{
		store:      store,
		dispatcher: dispatcher,
		svc:        mediation.New(store, dispatcher, mediation.WithLogger(logger)),
	}
	return current, nil
}

// closeApp waits for outstanding consultations and closes the store.
func closeApp() {
	if current == nil {
		return
	}
	current.dispatcher.Wait()
	if err := current.store.Close(); err != nil {
		logger.Warn("close storage", "error", err)
	}
	current = nil
}

func parseGroupID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid group id %q", s)
	}
	return id, nil
}

func parseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid user id %q", s)
	}
	return id, nil
}

// parseMediationID accepts "<group> <token>" or a single joint key.
func parseMediationID(args []string) (types.MediationID, []string, error) {
	if len(args) == 0 {
		return types.MediationID{}, nil, fmt.Errorf("missing mediation id")
	}
	if id, err := types.ParseJointKey(args[0]); err == nil {
		return id, args[1:], nil
	}
	if len(args) < 2 {
		return types.MediationID{}, nil, fmt.Errorf("expected <group> <token> or a joint key, got %q", args[0])
	}
	groupID, err := parseGroupID(args[0])
	if err != nil {
		return types.MediationID{}, nil, err
	}
	id := types.MediationID{GroupID: groupID, Token: args[1]}
	if err := id.Validate(); err != nil {
		return types.MediationID{}, nil, err
	}
	return id, args[2:], nil
}
