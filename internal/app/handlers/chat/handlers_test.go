package chat

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neighborhub/internal/app/commands"
	"neighborhub/internal/app/dto"
	"neighborhub/internal/app/middleware"
	"neighborhub/internal/app/queries"
	"neighborhub/internal/app/uow"
	domainchat "neighborhub/internal/domain/chat"
	domainuser "neighborhub/internal/domain/user"
	"neighborhub/internal/infra/storage/memory"
)

type fixture struct {
	commands commands.Bus
	queries  queries.Bus
	outbox   *memory.Outbox
	messages *memory.MessageRepository
	storage  *fakeStorage
}

type fakeStorage struct {
	mu   sync.Mutex
	keys []string
	body []byte
}

func (s *fakeStorage) Upload(ctx context.Context, key string, reader io.Reader, contentType string) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	s.body = data
	return "/uploads/" + key, nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	users := memory.NewUserRepository()
	for _, u := range []struct{ id, name string }{{"alice", "Alice"}, {"bob", "Bob"}, {"carol", "Carol"}} {
		user, err := domainuser.NewUser(domainuser.CreateParams{
			ID:           domainuser.ID(u.id),
			Email:        u.id + "@example.com",
			Name:         u.name,
			PasswordHash: "hash",
		})
		require.NoError(t, err)
		require.NoError(t, users.Save(context.Background(), user))
	}
	factory := memory.NewFactory(users)
	box := memory.NewOutbox()
	storage := &fakeStorage{}

	var seq int
	var seqMu sync.Mutex
	ids := func() string {
		seqMu.Lock()
		defer seqMu.Unlock()
		seq++
		return fmt.Sprintf("%024d", seq)
	}

	cmdBus := commands.NewInMemoryBus()
	commands.RegisterHandler(cmdBus, StartConversationCommand{}.Key(), &StartConversationHandler{UoWFactory: factory, Outbox: box, IDGenerator: ids})
	commands.RegisterHandler(cmdBus, SendMessageCommand{}.Key(), &SendMessageHandler{UoWFactory: factory, Outbox: box, IDGenerator: ids, Transactional: true})
	commands.RegisterHandler(cmdBus, MarkReadCommand{}.Key(), &MarkReadHandler{UoWFactory: factory})
	commands.RegisterHandler(cmdBus, UploadMediaCommand{}.Key(), &UploadMediaHandler{UoWFactory: factory, Storage: storage, MaxBytes: 16})

	qBus := queries.NewInMemoryBus()
	queries.RegisterHandler(qBus, ListConversationsQuery{}.Key(), &ListConversationsHandler{UoWFactory: factory})
	queries.RegisterHandler(qBus, ListMessagesQuery{}.Key(), &ListMessagesHandler{UoWFactory: factory})
	queries.RegisterHandler(qBus, ListAllConversationsQuery{}.Key(), &ListAllConversationsHandler{UoWFactory: factory})

	return &fixture{
		commands: middleware.ChainCommands(cmdBus,
			middleware.Validation(middleware.SelfValidator{}),
			middleware.Idempotency(memory.NewIdempotencyStore(), nil),
			middleware.Transaction(factory, nil),
			middleware.OutboxFlush(box, nil),
		),
		queries: middleware.ChainQueries(qBus,
			middleware.QueryValidation(middleware.SelfValidator{}),
			middleware.QueryAuthorization(middleware.RoleAuthorizer{}),
		),
		outbox:   box,
		messages: factory.MessagesRepo.(*memory.MessageRepository),
		storage:  storage,
	}
}

func (f *fixture) start(t *testing.T, requester, other string) string {
	t.Helper()
	res, err := commands.Dispatch[StartConversationCommand, *dto.StartConversationResult](context.Background(), f.commands, StartConversationCommand{RequesterID: requester, OtherID: other})
	require.NoError(t, err)
	return res.ChatID
}

func (f *fixture) send(t *testing.T, convID, sender, text string, at time.Time) *dto.SendMessageResult {
	t.Helper()
	res, err := commands.Dispatch[SendMessageCommand, *dto.SendMessageResult](context.Background(), f.commands, SendMessageCommand{ConversationID: convID, SenderID: sender, Text: text, Now: at})
	require.NoError(t, err)
	return res
}

func TestStartConversationIsFindOrCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := commands.Dispatch[StartConversationCommand, *dto.StartConversationResult](ctx, f.commands, StartConversationCommand{RequesterID: "alice", OtherID: "bob"})
	require.NoError(t, err)
	assert.True(t, first.Created)
	require.Len(t, first.Chat.Participants, 2)
	assert.Equal(t, "Alice", first.Chat.Participants[0].Name)
	assert.Nil(t, first.Chat.ItemID)

	second, err := commands.Dispatch[StartConversationCommand, *dto.StartConversationResult](ctx, f.commands, StartConversationCommand{RequesterID: "bob", OtherID: "alice"})
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.ChatID, second.ChatID)

	scoped, err := commands.Dispatch[StartConversationCommand, *dto.StartConversationResult](ctx, f.commands, StartConversationCommand{RequesterID: "alice", OtherID: "bob", ItemID: "item-1"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ChatID, scoped.ChatID)
	require.NotNil(t, scoped.Chat.ItemID)
	assert.Equal(t, "item-1", *scoped.Chat.ItemID)

	assert.Equal(t, 2, f.outbox.Flushed())
}

func TestStartConversationConcurrentCallsShareID(t *testing.T) {
	f := newFixture(t)
	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			requester, other := "alice", "bob"
			if i%2 == 1 {
				requester, other = other, requester
			}
			res, err := commands.Dispatch[StartConversationCommand, *dto.StartConversationResult](context.Background(), f.commands, StartConversationCommand{RequesterID: requester, OtherID: other})
			if assert.NoError(t, err) {
				ids[i] = res.ChatID
			}
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestStartConversationValidation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name    string
		cmd     StartConversationCommand
		wantErr error
	}{
		{name: "missing other", cmd: StartConversationCommand{RequesterID: "alice"}, wantErr: domainchat.ErrParticipantRequired},
		{name: "self", cmd: StartConversationCommand{RequesterID: "alice", OtherID: "alice"}, wantErr: domainchat.ErrSelfConversation},
		{name: "both refs", cmd: StartConversationCommand{RequesterID: "alice", OtherID: "bob", ItemID: "i", ServiceID: "s"}, wantErr: domainchat.ErrScopeConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := commands.Dispatch[StartConversationCommand, *dto.StartConversationResult](context.Background(), f.commands, tt.cmd)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSendMessageUpdatesPreviewAndUnread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.start(t, "alice", "bob")

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	res := f.send(t, convID, "alice", "Hello", at)
	assert.Equal(t, "bob", res.Message.Receiver)
	assert.False(t, res.Message.Read)
	assert.Equal(t, "Hello", res.Chat.LastMessage)
	assert.Equal(t, at, res.Chat.UpdatedAt)

	bobList, err := queries.Ask[ListConversationsQuery, []dto.Conversation](ctx, f.queries, ListConversationsQuery{ViewerID: "bob"})
	require.NoError(t, err)
	require.Len(t, bobList, 1)
	assert.Equal(t, 1, bobList[0].Unread)
	assert.Equal(t, "Hello", bobList[0].LastMessage)

	aliceList, err := queries.Ask[ListConversationsQuery, []dto.Conversation](ctx, f.queries, ListConversationsQuery{ViewerID: "alice"})
	require.NoError(t, err)
	require.Len(t, aliceList, 1)
	assert.Equal(t, 0, aliceList[0].Unread)
}

func TestSendMediaOnlyUsesPlaceholder(t *testing.T) {
	f := newFixture(t)
	convID := f.start(t, "alice", "bob")
	res, err := commands.Dispatch[SendMessageCommand, *dto.SendMessageResult](context.Background(), f.commands, SendMessageCommand{ConversationID: convID, SenderID: "bob", Media: "/uploads/x.png"})
	require.NoError(t, err)
	assert.Equal(t, domainchat.MediaPlaceholder, res.Chat.LastMessage)
	assert.Equal(t, "alice", res.Message.Receiver)
}

func TestSendMessageErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.start(t, "alice", "bob")

	_, err := commands.Dispatch[SendMessageCommand, *dto.SendMessageResult](ctx, f.commands, SendMessageCommand{ConversationID: convID, SenderID: "alice", Text: "   "})
	assert.ErrorIs(t, err, domainchat.ErrEmptyMessage)

	_, err = commands.Dispatch[SendMessageCommand, *dto.SendMessageResult](ctx, f.commands, SendMessageCommand{ConversationID: "missing", SenderID: "alice", Text: "hi"})
	assert.ErrorIs(t, err, domainchat.ErrConversationNotFound)

	_, err = commands.Dispatch[SendMessageCommand, *dto.SendMessageResult](ctx, f.commands, SendMessageCommand{ConversationID: convID, SenderID: "carol", Text: "hi"})
	assert.ErrorIs(t, err, domainchat.ErrNotParticipant)
}

func TestSendMessageIdempotencyKeyReplays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.start(t, "alice", "bob")

	cmd := SendMessageCommand{ConversationID: convID, SenderID: "alice", Text: "once", IdempotencyKeyV: "k-1"}
	first, err := commands.Dispatch[SendMessageCommand, *dto.SendMessageResult](ctx, f.commands, cmd)
	require.NoError(t, err)
	second, err := commands.Dispatch[SendMessageCommand, *dto.SendMessageResult](ctx, f.commands, cmd)
	require.NoError(t, err)
	assert.Equal(t, first.Message.ID, second.Message.ID)

	msgs, err := queries.Ask[ListMessagesQuery, []dto.Message](ctx, f.queries, ListMessagesQuery{ConversationID: convID, ViewerID: "alice"})
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestSendMessageIdempotencyKeyIsPerConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	withBob := f.start(t, "alice", "bob")
	withCarol := f.start(t, "alice", "carol")

	first, err := commands.Dispatch[SendMessageCommand, *dto.SendMessageResult](ctx, f.commands, SendMessageCommand{ConversationID: withBob, SenderID: "alice", Text: "to bob", IdempotencyKeyV: "k-1"})
	require.NoError(t, err)
	second, err := commands.Dispatch[SendMessageCommand, *dto.SendMessageResult](ctx, f.commands, SendMessageCommand{ConversationID: withCarol, SenderID: "alice", Text: "to carol", IdempotencyKeyV: "k-1"})
	require.NoError(t, err)
	assert.NotEqual(t, first.Message.ID, second.Message.ID)
	assert.Equal(t, withCarol, second.Message.ChatID)
	assert.Equal(t, "to carol", second.Message.Text)

	msgs, err := queries.Ask[ListMessagesQuery, []dto.Message](ctx, f.queries, ListMessagesQuery{ConversationID: withCarol, ViewerID: "carol"})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "to carol", msgs[0].Text)
}

func TestSendMessageKeepsSurroundingWhitespace(t *testing.T) {
	f := newFixture(t)
	convID := f.start(t, "alice", "bob")
	res := f.send(t, convID, "alice", "  two spaces in\n", time.Time{})
	assert.Equal(t, "  two spaces in\n", res.Message.Text)
}

func TestStartConversationKeepsPairsApart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	leaked := f.start(t, "alice", "x|bob")
	f.send(t, leaked, "alice", "secret for x", time.Time{})

	res, err := commands.Dispatch[StartConversationCommand, *dto.StartConversationResult](ctx, f.commands, StartConversationCommand{RequesterID: "bob", OtherID: "alice|x"})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.NotEqual(t, leaked, res.ChatID)
	assert.Empty(t, res.Chat.LastMessage)
	require.Len(t, res.Chat.Participants, 2)
	ids := []string{res.Chat.Participants[0].ID, res.Chat.Participants[1].ID}
	assert.ElementsMatch(t, []string{"bob", "alice|x"}, ids)
}

func TestListConversationsUnreadPerConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	withBob := f.start(t, "alice", "bob")
	withCarol := f.start(t, "alice", "carol")
	bobCarol := f.start(t, "bob", "carol")

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		f.send(t, withBob, "bob", fmt.Sprintf("b%d", i), base.Add(time.Duration(i)*time.Second))
	}
	f.send(t, withBob, "alice", "reply", base.Add(5*time.Second))
	f.send(t, withCarol, "carol", "c0", base.Add(6*time.Second))
	f.send(t, bobCarol, "bob", "not for alice", base.Add(7*time.Second))
	f.send(t, bobCarol, "bob", "still not", base.Add(8*time.Second))

	item, err := commands.Dispatch[StartConversationCommand, *dto.StartConversationResult](ctx, f.commands, StartConversationCommand{RequesterID: "bob", OtherID: "alice", ItemID: "item-7"})
	require.NoError(t, err)

	list, err := queries.Ask[ListConversationsQuery, []dto.Conversation](ctx, f.queries, ListConversationsQuery{ViewerID: "alice"})
	require.NoError(t, err)
	require.Len(t, list, 3)
	unread := map[string]int{}
	for _, conv := range list {
		unread[conv.ID] = conv.Unread
	}
	assert.Equal(t, map[string]int{withBob: 3, withCarol: 1, item.ChatID: 0}, unread)

	carolList, err := queries.Ask[ListConversationsQuery, []dto.Conversation](ctx, f.queries, ListConversationsQuery{ViewerID: "carol"})
	require.NoError(t, err)
	carolUnread := map[string]int{}
	for _, conv := range carolList {
		carolUnread[conv.ID] = conv.Unread
	}
	assert.Equal(t, map[string]int{withCarol: 0, bobCarol: 2}, carolUnread)
}

func TestListMessagesOrderingAndAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.start(t, "alice", "bob")
	same := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f.send(t, convID, "alice", "m1", same)
	f.send(t, convID, "bob", "m2", same)
	f.send(t, convID, "alice", "m3", same.Add(time.Second))

	msgs, err := queries.Ask[ListMessagesQuery, []dto.Message](ctx, f.queries, ListMessagesQuery{ConversationID: convID, ViewerID: "bob"})
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"m1", "m2", "m3"}, []string{msgs[0].Text, msgs[1].Text, msgs[2].Text})

	_, err = queries.Ask[ListMessagesQuery, []dto.Message](ctx, f.queries, ListMessagesQuery{ConversationID: convID, ViewerID: "carol"})
	assert.ErrorIs(t, err, domainchat.ErrNotParticipant)

	adminView, err := queries.Ask[ListMessagesQuery, []dto.Message](ctx, f.queries, ListMessagesQuery{ConversationID: convID, ViewerID: "carol", ViewerRoles: []domainuser.Role{domainuser.RoleAdmin}})
	require.NoError(t, err)
	assert.Len(t, adminView, 3)

	_, err = queries.Ask[ListMessagesQuery, []dto.Message](ctx, f.queries, ListMessagesQuery{ConversationID: "nope", ViewerID: "bob"})
	assert.ErrorIs(t, err, domainchat.ErrConversationNotFound)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.start(t, "alice", "bob")
	f.send(t, convID, "alice", "one", time.Time{})
	f.send(t, convID, "alice", "two", time.Time{})
	f.send(t, convID, "bob", "reply", time.Time{})

	res, err := commands.Dispatch[MarkReadCommand, *dto.MarkReadResult](ctx, f.commands, MarkReadCommand{ConversationID: convID, ViewerID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, "Marked as read", res.Message)
	assert.Equal(t, 2, res.Updated)

	again, err := commands.Dispatch[MarkReadCommand, *dto.MarkReadResult](ctx, f.commands, MarkReadCommand{ConversationID: convID, ViewerID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, 0, again.Updated)

	// alice's unread reply is untouched
	counts, err := f.messages.UnreadCounts(ctx, "alice", []domainchat.ConversationID{domainchat.ConversationID(convID)})
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domainchat.ConversationID(convID)])

	_, err = commands.Dispatch[MarkReadCommand, *dto.MarkReadResult](ctx, f.commands, MarkReadCommand{ConversationID: convID, ViewerID: "carol"})
	assert.ErrorIs(t, err, domainchat.ErrNotParticipant)
}

func TestListConversationsNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	older := f.start(t, "alice", "bob")
	newer := f.start(t, "alice", "carol")
	base := time.Now().UTC()
	f.send(t, newer, "carol", "hey", base)
	f.send(t, older, "bob", "later", base.Add(time.Minute))

	list, err := queries.Ask[ListConversationsQuery, []dto.Conversation](ctx, f.queries, ListConversationsQuery{ViewerID: "alice"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, older, list[0].ID)
	assert.Equal(t, newer, list[1].ID)

	empty, err := queries.Ask[ListConversationsQuery, []dto.Conversation](ctx, f.queries, ListConversationsQuery{ViewerID: "nobody"})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestListAllRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t, "alice", "bob")

	_, err := queries.Ask[ListAllConversationsQuery, []dto.Conversation](ctx, f.queries, ListAllConversationsQuery{ActorID: "alice", Roles: []domainuser.Role{domainuser.RoleBuyer}})
	assert.ErrorIs(t, err, middleware.ErrForbidden)

	all, err := queries.Ask[ListAllConversationsQuery, []dto.Conversation](ctx, f.queries, ListAllConversationsQuery{ActorID: "root", Roles: []domainuser.Role{domainuser.RoleAdmin}})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 0, all[0].Unread)
}

func TestUploadMedia(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.start(t, "alice", "bob")

	res, err := commands.Dispatch[UploadMediaCommand, *dto.UploadResult](ctx, f.commands, UploadMediaCommand{
		ConversationID: convID, UploaderID: "alice", Filename: "Photo.PNG", Size: 3, Reader: bytes.NewReader([]byte("abc")),
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.URL, "/uploads/chat/"+convID+"/"))
	assert.True(t, strings.HasSuffix(res.URL, ".png"))
	assert.Equal(t, []byte("abc"), f.storage.body)

	_, err = commands.Dispatch[UploadMediaCommand, *dto.UploadResult](ctx, f.commands, UploadMediaCommand{ConversationID: convID, UploaderID: "alice"})
	assert.ErrorIs(t, err, domainchat.ErrMediaRequired)

	_, err = commands.Dispatch[UploadMediaCommand, *dto.UploadResult](ctx, f.commands, UploadMediaCommand{
		ConversationID: convID, UploaderID: "alice", Filename: "big.bin", Size: 17, Reader: bytes.NewReader(make([]byte, 17)),
	})
	assert.ErrorIs(t, err, domainchat.ErrMediaTooLarge)

	before := len(f.storage.keys)
	_, err = commands.Dispatch[UploadMediaCommand, *dto.UploadResult](ctx, f.commands, UploadMediaCommand{
		ConversationID: convID, UploaderID: "alice", Filename: "liar.bin", Size: 3, Reader: bytes.NewReader(make([]byte, 17)),
	})
	assert.ErrorIs(t, err, domainchat.ErrMediaTooLarge)
	assert.Len(t, f.storage.keys, before)

	_, err = commands.Dispatch[UploadMediaCommand, *dto.UploadResult](ctx, f.commands, UploadMediaCommand{
		ConversationID: convID, UploaderID: "carol", Filename: "x.png", Size: 1, Reader: bytes.NewReader([]byte("x")),
	})
	assert.ErrorIs(t, err, domainchat.ErrNotParticipant)
}

func TestMediaObjectKeyShape(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	key := MediaObjectKey("abc", "../../evil.JPG", at)
	assert.Regexp(t, `^chat/abc/1700000000123-\d{9}\.jpg$`, key)
	assert.Regexp(t, `^chat/abc/1700000000123-\d{9}$`, MediaObjectKey("abc", "noext", at))
}

// conflictingFactory makes FindOrCreate lose the first conflicts races.
type conflictingFactory struct {
	uow.UoWFactory
	mu        sync.Mutex
	conflicts int
	begins    int
}

func (f *conflictingFactory) Begin(ctx context.Context, opts uow.TxOptions) (uow.UnitOfWork, error) {
	unit, err := f.UoWFactory.Begin(ctx, opts)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.begins++
	f.mu.Unlock()
	return conflictingUnit{UnitOfWork: unit, f: f}, nil
}

type conflictingUnit struct {
	uow.UnitOfWork
	f *conflictingFactory
}

func (u conflictingUnit) Conversations() domainchat.ConversationRepository {
	return conflictingRepo{ConversationRepository: u.UnitOfWork.Conversations(), f: u.f}
}

type conflictingRepo struct {
	domainchat.ConversationRepository
	f *conflictingFactory
}

func (r conflictingRepo) FindOrCreate(ctx context.Context, candidate *domainchat.Conversation) (*domainchat.Conversation, bool, error) {
	r.f.mu.Lock()
	lose := r.f.conflicts > 0
	if lose {
		r.f.conflicts--
	}
	r.f.mu.Unlock()
	if lose {
		return nil, false, fmt.Errorf("upsert: %w", uow.ErrConflict)
	}
	return r.ConversationRepository.FindOrCreate(ctx, candidate)
}

func TestStartConversationRetriesLostRace(t *testing.T) {
	ctx := context.Background()
	factory := &conflictingFactory{UoWFactory: memory.NewFactory(memory.NewUserRepository()), conflicts: 1}
	h := &StartConversationHandler{UoWFactory: factory, Outbox: memory.NewOutbox()}

	res, err := h.Handle(ctx, StartConversationCommand{RequesterID: "alice", OtherID: "bob"})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, 2, factory.begins)

	again, err := h.Handle(ctx, StartConversationCommand{RequesterID: "bob", OtherID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, res.ChatID, again.ChatID)

	factory.conflicts = maxStartAttempts
	_, err = h.Handle(ctx, StartConversationCommand{RequesterID: "alice", OtherID: "carol"})
	assert.ErrorIs(t, err, uow.ErrConflict)
}
