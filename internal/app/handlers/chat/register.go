package chat

import (
	"log/slog"

	"neighborhub/internal/app/commands"
	"neighborhub/internal/app/outbox"
	"neighborhub/internal/app/policies"
	"neighborhub/internal/app/queries"
	"neighborhub/internal/app/uow"
)

// Dependencies are shared by every chat handler.
type Dependencies struct {
	UoWFactory     uow.UoWFactory
	Outbox         outbox.Outbox
	Encoder        outbox.EventEncoder
	Storage        policies.MediaStorage
	MaxUploadBytes int64
	// Transactional makes a failed preview update fail the send.
	Transactional bool
	IDGenerator   func() string
	Logger        *slog.Logger
}

// Register binds the chat commands and queries to their handlers.
func Register(cmdBus *commands.InMemoryBus, queryBus *queries.InMemoryBus, deps Dependencies) {
	if deps.Encoder == nil {
		deps.Encoder = outbox.JSONEventEncoder{}
	}
	commands.RegisterHandler(cmdBus, StartConversationCommand{}.Key(), &StartConversationHandler{
		UoWFactory:  deps.UoWFactory,
		Outbox:      deps.Outbox,
		Encoder:     deps.Encoder,
		IDGenerator: deps.IDGenerator,
		Logger:      deps.Logger,
	})
	commands.RegisterHandler(cmdBus, SendMessageCommand{}.Key(), &SendMessageHandler{
		UoWFactory:    deps.UoWFactory,
		Outbox:        deps.Outbox,
		Encoder:       deps.Encoder,
		IDGenerator:   deps.IDGenerator,
		Transactional: deps.Transactional,
		Logger:        deps.Logger,
	})
	commands.RegisterHandler(cmdBus, MarkReadCommand{}.Key(), &MarkReadHandler{
		UoWFactory: deps.UoWFactory,
		Logger:     deps.Logger,
	})
	commands.RegisterHandler(cmdBus, UploadMediaCommand{}.Key(), &UploadMediaHandler{
		UoWFactory: deps.UoWFactory,
		Storage:    deps.Storage,
		MaxBytes:   deps.MaxUploadBytes,
		Logger:     deps.Logger,
	})

	queries.RegisterHandler(queryBus, ListConversationsQuery{}.Key(), &ListConversationsHandler{UoWFactory: deps.UoWFactory})
	queries.RegisterHandler(queryBus, ListMessagesQuery{}.Key(), &ListMessagesHandler{UoWFactory: deps.UoWFactory})
	queries.RegisterHandler(queryBus, ListAllConversationsQuery{}.Key(), &ListAllConversationsHandler{UoWFactory: deps.UoWFactory})
}
