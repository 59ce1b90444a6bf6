package mongo

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	domainchat "neighborhub/internal/domain/chat"
)

func TestConversationDocumentKeepsScopeNullable(t *testing.T) {
	id := primitive.NewObjectID().Hex()
	conv, err := domainchat.Start(domainchat.StartParams{
		ID:        domainchat.ConversationID(id),
		Requester: "u2",
		Other:     "u1",
		Scope:     domainchat.Scope{ItemID: "item-9"},
	})
	require.NoError(t, err)

	doc, err := newConversationDocument(conv)
	require.NoError(t, err)
	assert.Equal(t, conv.Key(), doc.PairKey)
	assert.Equal(t, []string{"u1", "u2"}, doc.Participants)
	require.NotNil(t, doc.ItemID)
	assert.Nil(t, doc.ServiceID)

	back := doc.toAggregate()
	assert.Equal(t, conv.ID, back.ID)
	assert.Equal(t, conv.Scope, back.Scope)
}

func TestDocumentsRejectNonObjectIDs(t *testing.T) {
	_, err := newConversationDocument(&domainchat.Conversation{ID: "not-hex"})
	assert.Error(t, err)
	_, err = newMessageDocument(&domainchat.Message{ID: "nope", ConversationID: domainchat.ConversationID(primitive.NewObjectID().Hex())})
	assert.Error(t, err)
}

// The tests below need a replica-set MongoDB; set MONGO_TEST_URI to run them.
func liveFactory(t *testing.T) Factory {
	t.Helper()
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}
	client, err := New(uri, fmt.Sprintf("neighborhub_test_%d", time.Now().UnixNano()))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, client.EnsureIndexes(ctx))
	t.Cleanup(func() {
		_ = client.DB.Drop(ctx)
		_ = client.Disconnect(ctx)
	})
	return NewFactory(client.DB, false)
}

func TestLiveFindOrCreateIsAtomic(t *testing.T) {
	f := liveFactory(t)
	ctx := context.Background()

	const racers = 8
	ids := make([]domainchat.ConversationID, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			candidate, err := domainchat.Start(domainchat.StartParams{
				ID:        domainchat.ConversationID(primitive.NewObjectID().Hex()),
				Requester: "a",
				Other:     "b",
			})
			if !assert.NoError(t, err) {
				return
			}
			conv, _, err := f.ConversationsRepo.FindOrCreate(ctx, candidate)
			if assert.NoError(t, err) {
				ids[i] = conv.ID
			}
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestLiveUnreadAggregationAndMarkRead(t *testing.T) {
	f := liveFactory(t)
	ctx := context.Background()

	conv, err := domainchat.Start(domainchat.StartParams{
		ID:        domainchat.ConversationID(primitive.NewObjectID().Hex()),
		Requester: "a",
		Other:     "b",
	})
	require.NoError(t, err)
	conv, _, err = f.ConversationsRepo.FindOrCreate(ctx, conv)
	require.NoError(t, err)

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 3; i++ {
		msg, err := conv.Post(domainchat.MessageID(primitive.NewObjectID().Hex()), "a", domainchat.Content{Text: fmt.Sprint(i)}, base)
		require.NoError(t, err)
		require.NoError(t, f.MessagesRepo.Append(ctx, msg))
	}
	require.NoError(t, f.ConversationsRepo.Touch(ctx, conv))

	counts, err := f.MessagesRepo.UnreadCounts(ctx, "b", []domainchat.ConversationID{conv.ID})
	require.NoError(t, err)
	assert.Equal(t, 3, counts[conv.ID])

	msgs, err := f.MessagesRepo.ListByConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "0", msgs[0].Content.Text)
	assert.Equal(t, "2", msgs[2].Content.Text)

	n, err := f.MessagesRepo.MarkRead(ctx, conv.ID, "b")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = f.MessagesRepo.MarkRead(ctx, conv.ID, "b")
	require.NoError(t, err)
	assert.Zero(t, n)

	listed, err := f.ConversationsRepo.ListByParticipant(ctx, "b")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "2", listed[0].LastMessage)
}
