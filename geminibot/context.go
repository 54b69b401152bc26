package geminibot

import (
	"context"
	"fmt"
	"log/slog"
)

const (
	// personaSeedFormat is the user turn injected after the default
	// template when a persona override is set via /forget.
	personaSeedFormat = "Forget what I said earlier! You are %s"

	// personaSeedAck is the model turn acknowledging the persona seed.
	personaSeedAck = "Ok!"
)

// ContextManager assembles the turn list sent to the Gemini API for a
// given scope, and commits completed exchanges back to the store.
//
// A request is always: seed turns (the default template, or the
// persona-expanded template if the scope has a persona override),
// followed by the scope's stored history, followed by the new user turn.
type ContextManager struct {
	store    Store
	template []Turn
	logger   *slog.Logger
}

func NewContextManager(
	store Store,
	template []Turn,
	logger *slog.Logger,
) *ContextManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextManager{
		store:    store,
		template: template,
		logger:   logger.With(loggerNameKey, "context_manager"),
	}
}

// seedTurns returns the turns that conceptually begin every conversation
// in the scope. These are never persisted per-scope; only the persona
// string is.
func (c *ContextManager) seedTurns(persona string) []Turn {
	seed := make([]Turn, 0, len(c.template)+2)
	seed = append(seed, c.template...)
	if persona != "" {
		seed = append(
			seed,
			NewTextTurn(RoleUser, fmt.Sprintf(personaSeedFormat, persona)),
			NewTextTurn(RoleModel, personaSeedAck),
		)
	}
	return seed
}

// BuildRequest returns the full turn sequence to send to the generation
// API for the scope: seed turns, stored history, then the new user turn.
func (c *ContextManager) BuildRequest(
	ctx context.Context,
	scope string,
	userTurn Turn,
) ([]Turn, error) {
	session, err := c.store.GetSession(ctx, scope)
	if err != nil {
		return nil, err
	}

	var persona string
	var history []ChatTurn
	if session != nil {
		persona = session.Persona
		history = session.Turns
	}

	turns := c.seedTurns(persona)
	for _, h := range history {
		turns = append(turns, NewTextTurn(Role(h.Role), h.Content))
	}
	turns = append(turns, userTurn)

	c.logger.DebugContext(
		ctx,
		"built request",
		"scope", scope,
		"seed_turns", len(turns)-len(history)-1,
		"history_turns", len(history),
	)
	return turns, nil
}

// Commit appends a completed exchange to the scope's stored history.
// Exchanges whose user turn carried inline media are not persisted: the
// API cannot recall media across requests, so replaying such a turn from
// history would corrupt future context.
func (c *ContextManager) Commit(
	ctx context.Context,
	scope string,
	userTurn Turn,
	modelTurn Turn,
) error {
	if userTurn.HasMedia() {
		c.logger.DebugContext(
			ctx,
			"skipping history commit for media exchange",
			"scope", scope,
		)
		return nil
	}
	return c.store.AppendTurns(ctx, scope, userTurn, modelTurn)
}

// Reset deletes the scope's stored history. If persona is non-empty, it
// is recorded as the scope's template override for future requests.
func (c *ContextManager) Reset(
	ctx context.Context,
	scope string,
	persona string,
) error {
	if err := c.store.DeleteSession(ctx, scope); err != nil {
		return err
	}
	if persona == "" {
		return nil
	}
	return c.store.SetPersona(ctx, scope, persona)
}
