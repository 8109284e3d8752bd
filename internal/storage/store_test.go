package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mytesting "ripple-messenger/internal/testing"
)

func bootstrap(t *testing.T) *Store {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	s, err := NewStore(context.Background(), logger.Sugar(), TestConfig, ConnectionTimeout(5*time.Second))
	if err != nil {
		t.Skipf("test database is not reachable: %v", err)
	}

	return s
}

func createTestUser(t *testing.T, s *Store) *User {
	name := mytesting.RandString()
	id, err := s.UpsertUser(context.Background(), "subject-"+name, name+"@example.com", name, nil, nil)
	require.NoError(t, err)

	u, err := s.UserByID(context.Background(), id)
	require.NoError(t, err)

	return u
}

func createDM(t *testing.T, s *Store, a, b *User) uuid.UUID {
	id, err := s.CreateConversation(context.Background(), a.ID, false, nil, nil, []uuid.UUID{b.ID})
	require.NoError(t, err)
	return id
}

func sendText(t *testing.T, s *Store, senderID, conversationID uuid.UUID, text string) uuid.UUID {
	id, err := s.SendMessage(context.Background(), senderID, SendMessageParams{
		ConversationID: conversationID,
		Content:        &text,
		MessageType:    MessageTypeText,
	})
	require.NoError(t, err)
	return id
}

func viewFor(t *testing.T, views []ConversationView, id uuid.UUID) ConversationView {
	for _, v := range views {
		if v.ID == id {
			return v
		}
	}
	t.Fatalf("conversation (%s) not found among %d views", id, len(views))
	return ConversationView{}
}

func TestUpsertUserIdempotent(t *testing.T) {
	s := bootstrap(t)

	name := mytesting.RandString()
	first, err := s.UpsertUser(context.Background(), "subject-"+name, name+"@example.com", name, nil, nil)
	require.NoError(t, err)

	second, err := s.UpsertUser(context.Background(), "subject-"+name, name+"@example.com", name, nil, nil)
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestUpsertUserRefreshesProfile(t *testing.T) {
	s := bootstrap(t)

	name := mytesting.RandString()
	subject := "subject-" + name
	_, err := s.UpsertUser(context.Background(), subject, name+"@example.com", name, nil, nil)
	require.NoError(t, err)

	fullName := "Renamed " + name
	id, err := s.UpsertUser(context.Background(), subject, name+"@example.com", name, &fullName, nil)
	require.NoError(t, err)

	u, err := s.UserByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, u.FullName)
	require.Equal(t, fullName, *u.FullName)
	require.Equal(t, StatusOnline, u.Status)
}

func TestUpdateStatusUnknownUser(t *testing.T) {
	s := bootstrap(t)

	err := s.UpdateStatus(context.Background(), uuid.New(), StatusAway)
	require.Equal(t, ErrUserNotExist, err)
}

func TestSearchUsersExcludesCaller(t *testing.T) {
	s := bootstrap(t)

	caller := createTestUser(t, s)

	found, err := s.SearchUsers(context.Background(), caller.ID, caller.Username)
	require.NoError(t, err)
	for _, u := range found {
		require.NotEqual(t, caller.ID, u.ID)
	}
}

func TestFriendRequestDuplicate(t *testing.T) {
	s := bootstrap(t)

	sender := createTestUser(t, s)
	receiver := createTestUser(t, s)

	_, err := s.CreateFriendRequest(context.Background(), sender.ID, receiver.ID)
	require.NoError(t, err)

	_, err = s.CreateFriendRequest(context.Background(), sender.ID, receiver.ID)
	require.Equal(t, ErrRequestExists, err)
}

func TestFriendRequestReversePending(t *testing.T) {
	s := bootstrap(t)

	a := createTestUser(t, s)
	b := createTestUser(t, s)

	_, err := s.CreateFriendRequest(context.Background(), a.ID, b.ID)
	require.NoError(t, err)

	_, err = s.CreateFriendRequest(context.Background(), b.ID, a.ID)
	require.Equal(t, ErrReversePending, err)
}

func TestFriendRequestUnknownReceiver(t *testing.T) {
	s := bootstrap(t)

	sender := createTestUser(t, s)

	_, err := s.CreateFriendRequest(context.Background(), sender.ID, uuid.New())
	require.Equal(t, ErrUserNotExist, err)
}

func TestRespondNotReceiver(t *testing.T) {
	s := bootstrap(t)

	sender := createTestUser(t, s)
	receiver := createTestUser(t, s)
	outsider := createTestUser(t, s)

	requestID, err := s.CreateFriendRequest(context.Background(), sender.ID, receiver.ID)
	require.NoError(t, err)

	_, err = s.RespondToFriendRequest(context.Background(), outsider.ID, requestID, true)
	require.Equal(t, ErrNotRequestReceiver, err)
}

func TestRespondTwice(t *testing.T) {
	s := bootstrap(t)

	sender := createTestUser(t, s)
	receiver := createTestUser(t, s)

	requestID, err := s.CreateFriendRequest(context.Background(), sender.ID, receiver.ID)
	require.NoError(t, err)

	_, err = s.RespondToFriendRequest(context.Background(), receiver.ID, requestID, false)
	require.NoError(t, err)

	_, err = s.RespondToFriendRequest(context.Background(), receiver.ID, requestID, true)
	require.Equal(t, ErrRequestProcessed, err)
}

func TestFriendshipScenario(t *testing.T) {
	s := bootstrap(t)
	ctx := context.Background()

	sender := createTestUser(t, s)
	receiver := createTestUser(t, s)

	requestID, err := s.CreateFriendRequest(ctx, sender.ID, receiver.ID)
	require.NoError(t, err)

	pending, err := s.PendingFriendRequests(ctx, receiver.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, requestID, pending[0].ID)
	require.NotNil(t, pending[0].Sender)
	require.Equal(t, sender.Username, pending[0].Sender.Username)

	senderID, err := s.RespondToFriendRequest(ctx, receiver.ID, requestID, true)
	require.NoError(t, err)
	require.Equal(t, sender.ID, senderID)

	// both directions of the edge must be visible
	friendsOfSender, err := s.Friends(ctx, sender.ID)
	require.NoError(t, err)
	require.Len(t, friendsOfSender, 1)
	require.Equal(t, receiver.ID, friendsOfSender[0].ID)

	friendsOfReceiver, err := s.Friends(ctx, receiver.ID)
	require.NoError(t, err)
	require.Len(t, friendsOfReceiver, 1)
	require.Equal(t, sender.ID, friendsOfReceiver[0].ID)

	_, err = s.CreateFriendRequest(ctx, sender.ID, receiver.ID)
	require.Equal(t, ErrAlreadyFriends, err)

	require.NoError(t, s.RemoveFriend(ctx, sender.ID, receiver.ID))

	friendsOfSender, err = s.Friends(ctx, sender.ID)
	require.NoError(t, err)
	require.Empty(t, friendsOfSender)

	// removing again is a no-op
	require.NoError(t, s.RemoveFriend(ctx, sender.ID, receiver.ID))
}

func TestFriendRequestCreatesNotification(t *testing.T) {
	s := bootstrap(t)

	sender := createTestUser(t, s)
	receiver := createTestUser(t, s)

	_, err := s.CreateFriendRequest(context.Background(), sender.ID, receiver.ID)
	require.NoError(t, err)

	count, err := s.UnreadNotificationCount(context.Background(), receiver.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestCreateDirectConversationIdempotent(t *testing.T) {
	s := bootstrap(t)
	ctx := context.Background()

	a := createTestUser(t, s)
	b := createTestUser(t, s)

	first, err := s.CreateConversation(ctx, a.ID, false, nil, nil, []uuid.UUID{b.ID})
	require.NoError(t, err)

	// the same pair from either side resolves to the same conversation
	second, err := s.CreateConversation(ctx, b.ID, false, nil, nil, []uuid.UUID{a.ID})
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestGroupConversationsNotDeduplicated(t *testing.T) {
	s := bootstrap(t)
	ctx := context.Background()

	a := createTestUser(t, s)
	b := createTestUser(t, s)
	name := mytesting.RandString()

	first, err := s.CreateConversation(ctx, a.ID, true, &name, nil, []uuid.UUID{b.ID})
	require.NoError(t, err)

	second, err := s.CreateConversation(ctx, a.ID, true, &name, nil, []uuid.UUID{b.ID})
	require.NoError(t, err)

	require.NotEqual(t, first, second)
}

func TestCreateConversationUnknownMember(t *testing.T) {
	s := bootstrap(t)

	a := createTestUser(t, s)

	_, err := s.CreateConversation(context.Background(), a.ID, false, nil, nil, []uuid.UUID{uuid.New()})
	require.Equal(t, ErrUserNotExist, err)
}

func TestDirectConversationDisplayFields(t *testing.T) {
	s := bootstrap(t)
	ctx := context.Background()

	a := createTestUser(t, s)
	b := createTestUser(t, s)
	conversationID := createDM(t, s, a, b)

	views, err := s.ConversationsFor(ctx, a.ID)
	require.NoError(t, err)
	v := viewFor(t, views, conversationID)
	require.Equal(t, b.Username, v.DisplayName)
	require.Len(t, v.Members, 2)

	views, err = s.ConversationsFor(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, a.Username, viewFor(t, views, conversationID).DisplayName)
}

func TestConversationByIDRequiresMembership(t *testing.T) {
	s := bootstrap(t)

	a := createTestUser(t, s)
	b := createTestUser(t, s)
	outsider := createTestUser(t, s)
	conversationID := createDM(t, s, a, b)

	_, err := s.ConversationByID(context.Background(), outsider.ID, conversationID)
	require.Equal(t, ErrNotMember, err)
}

func TestAddMembersRequiresGroup(t *testing.T) {
	s := bootstrap(t)

	a := createTestUser(t, s)
	b := createTestUser(t, s)
	c := createTestUser(t, s)
	conversationID := createDM(t, s, a, b)

	err := s.AddMembers(context.Background(), a.ID, conversationID, []uuid.UUID{c.ID})
	require.Equal(t, ErrNotGroup, err)
}

func TestAddMembersRequiresAdmin(t *testing.T) {
	s := bootstrap(t)
	ctx := context.Background()

	a := createTestUser(t, s)
	b := createTestUser(t, s)
	c := createTestUser(t, s)
	name := mytesting.RandString()

	conversationID, err := s.CreateConversation(ctx, a.ID, true, &name, nil, []uuid.UUID{b.ID})
	require.NoError(t, err)

	err = s.AddMembers(ctx, b.ID, conversationID, []uuid.UUID{c.ID})
	require.Equal(t, ErrNotAdmin, err)

	require.NoError(t, s.AddMembers(ctx, a.ID, conversationID, []uuid.UUID{c.ID}))

	view, err := s.ConversationByID(ctx, c.ID, conversationID)
	require.NoError(t, err)
	require.Len(t, view.Members, 3)

	// adding an existing member again is a no-op
	require.NoError(t, s.AddMembers(ctx, a.ID, conversationID, []uuid.UUID{c.ID}))
}

func TestLeaveConversationIdempotent(t *testing.T) {
	s := bootstrap(t)
	ctx := context.Background()

	a := createTestUser(t, s)
	b := createTestUser(t, s)
	conversationID := createDM(t, s, a, b)

	require.NoError(t, s.LeaveConversation(ctx, b.ID, conversationID))
	require.NoError(t, s.LeaveConversation(ctx, b.ID, conversationID))

	_, err := s.ConversationByID(ctx, b.ID, conversationID)
	require.Equal(t, ErrNotMember, err)
}

func TestSendMessageRequiresMembership(t *testing.T) {
	s := bootstrap(t)

	a := createTestUser(t, s)
	b := createTestUser(t, s)
	outsider := createTestUser(t, s)
	conversationID := createDM(t, s, a, b)

	text := "hello"
	_, err := s.SendMessage(context.Background(), outsider.ID, SendMessageParams{
		ConversationID: conversationID,
		Content:        &text,
		MessageType:    MessageTypeText,
	})
	require.Equal(t, ErrNotMember, err)
}

func TestMessagesAscendingOrder(t *testing.T) {
	s := bootstrap(t)
	ctx := context.Background()

	a := createTestUser(t, s)
	b := createTestUser(t, s)
	conversationID := createDM(t, s, a, b)

	sendText(t, s, a.ID, conversationID, "one")
	sendText(t, s, b.ID, conversationID, "two")
	sendText(t, s, a.ID, conversationID, "three")

	messages, err := s.MessagesFor(ctx, a.ID, conversationID, 0)
	require.NoError(t, err)
	require.Len(t, messages, 3)

	require.Equal(t, "one", *messages[0].Content)
	require.Equal(t, "two", *messages[1].Content)
	require.Equal(t, "three", *messages[2].Content)
	for i := 1; i < len(messages); i++ {
		require.False(t, messages[i].SentAt.Before(messages[i-1].SentAt))
	}

	// senders are resolved alongside each message
	require.NotNil(t, messages[0].Sender)
	require.Equal(t, a.Username, messages[0].Sender.Username)
}

func TestMessagesLimit(t *testing.T) {
	s := bootstrap(t)
	ctx := context.Background()

	a := createTestUser(t, s)
	b := createTestUser(t, s)
	conversationID := createDM(t, s, a, b)

	sendText(t, s, a.ID, conversationID, "one")
	sendText(t, s, a.ID, conversationID, "two")
	sendText(t, s, a.ID, conversationID, "three")

	// the limit keeps the newest messages, still ascending
	messages, err := s.MessagesFor(ctx, a.ID, conversationID, 2)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, "two", *messages[0].Content)
	require.Equal(t, "three", *messages[1].Content)
}

func TestReplyResolved(t *testing.T) {
	s := bootstrap(t)
	ctx := context.Background()

	a := createTestUser(t, s)
	b := createTestUser(t, s)
	conversationID := createDM(t, s, a, b)

	originalID := sendText(t, s, a.ID, conversationID, "original")

	text := "reply"
	_, err := s.SendMessage(ctx, b.ID, SendMessageParams{
		ConversationID: conversationID,
		Content:        &text,
		MessageType:    MessageTypeText,
		ReplyToID:      &originalID,
	})
	require.NoError(t, err)

	messages, err := s.MessagesFor(ctx, a.ID, conversationID, 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.NotNil(t, messages[1].ReplyTo)
	require.Equal(t, originalID, messages[1].ReplyTo.ID)
	require.Equal(t, "original", *messages[1].ReplyTo.Content)
	require.NotNil(t, messages[1].ReplyTo.Sender)
	require.Equal(t, a.Username, messages[1].ReplyTo.Sender.Username)
}

func TestReplyToUnknownMessage(t *testing.T) {
	s := bootstrap(t)

	a := createTestUser(t, s)
	b := createTestUser(t, s)
	conversationID := createDM(t, s, a, b)

	text := "reply"
	unknown := uuid.New()
	_, err := s.SendMessage(context.Background(), a.ID, SendMessageParams{
		ConversationID: conversationID,
		Content:        &text,
		MessageType:    MessageTypeText,
		ReplyToID:      &unknown,
	})
	require.Equal(t, ErrMessageNotExist, err)
}

func TestEditMessageOnlySender(t *testing.T) {
	s := bootstrap(t)
	ctx := context.Background()

	a := createTestUser(t, s)
	b := createTestUser(t, s)
	conversationID := createDM(t, s, a, b)

	messageID := sendText(t, s, a.ID, conversationID, "draft")

	_, err := s.EditMessage(ctx, b.ID, messageID, "hijacked")
	require.Equal(t, ErrNotMessageSender, err)

	returnedConversation, err := s.EditMessage(ctx, a.ID, messageID, "final")
	require.NoError(t, err)
	require.Equal(t, conversationID, returnedConversation)

	messages, err := s.MessagesFor(ctx, a.ID, conversationID, 0)
	require.NoError(t, err)
	require.Equal(t, "final", *messages[0].Content)
	require.NotNil(t, messages[0].EditedAt)
}

func TestDeleteMessageTombstone(t *testing.T) {
	s := bootstrap(t)
	ctx := context.Background()

	a := createTestUser(t, s)
	b := createTestUser(t, s)
	conversationID := createDM(t, s, a, b)

	messageID := sendText(t, s, a.ID, conversationID, "secret")

	_, err := s.DeleteMessage(ctx, b.ID, messageID)
	require.Equal(t, ErrNotMessageSender, err)

	_, err = s.DeleteMessage(ctx, a.ID, messageID)
	require.NoError(t, err)

	// the row survives as a tombstone so ordering and replies stay intact
	messages, err := s.MessagesFor(ctx, a.ID, conversationID, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, Tombstone, *messages[0].Content)
	require.NotNil(t, messages[0].DeletedAt)
}

func TestForwardMessage(t *testing.T) {
	s := bootstrap(t)
	ctx := context.Background()

	a := createTestUser(t, s)
	b := createTestUser(t, s)
	c := createTestUser(t, s)
	source := createDM(t, s, a, b)
	target := createDM(t, s, a, c)

	messageID := sendText(t, s, a.ID, source, "worth sharing")

	forwardedID, err := s.ForwardMessage(ctx, a.ID, messageID, target)
	require.NoError(t, err)
	require.NotEqual(t, messageID, forwardedID)

	messages, err := s.MessagesFor(ctx, c.ID, target, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, "worth sharing", *messages[0].Content)
	require.NotNil(t, messages[0].ForwardedFrom)
	require.Equal(t, messageID, *messages[0].ForwardedFrom)
}

func TestForwardMessageRequiresTargetMembership(t *testing.T) {
	s := bootstrap(t)

	a := createTestUser(t, s)
	b := createTestUser(t, s)
	c := createTestUser(t, s)
	source := createDM(t, s, a, b)
	foreign := createDM(t, s, b, c)

	messageID := sendText(t, s, a.ID, source, "hello")

	_, err := s.ForwardMessage(context.Background(), a.ID, messageID, foreign)
	require.Equal(t, ErrNotMember, err)
}

func TestToggleReaction(t *testing.T) {
	s := bootstrap(t)
	ctx := context.Background()

	a := createTestUser(t, s)
	b := createTestUser(t, s)
	conversationID := createDM(t, s, a, b)
	messageID := sendText(t, s, a.ID, conversationID, "react to this")

	added, returnedConversation, err := s.ToggleReaction(ctx, b.ID, messageID, "👍")
	require.NoError(t, err)
	require.True(t, added)
	require.Equal(t, conversationID, returnedConversation)

	messages, err := s.MessagesFor(ctx, a.ID, conversationID, 0)
	require.NoError(t, err)
	require.Len(t, messages[0].Reactions, 1)
	require.Equal(t, "👍", messages[0].Reactions[0].Emoji)

	// same user, same emoji toggles it off
	added, _, err = s.ToggleReaction(ctx, b.ID, messageID, "👍")
	require.NoError(t, err)
	require.False(t, added)

	messages, err = s.MessagesFor(ctx, a.ID, conversationID, 0)
	require.NoError(t, err)
	require.Empty(t, messages[0].Reactions)

	// a different emoji from the same user is a separate reaction
	added, _, err = s.ToggleReaction(ctx, b.ID, messageID, "❤️")
	require.NoError(t, err)
	require.True(t, added)
}

func TestUnreadCount(t *testing.T) {
	s := bootstrap(t)
	ctx := context.Background()

	a := createTestUser(t, s)
	b := createTestUser(t, s)
	conversationID := createDM(t, s, a, b)

	first := sendText(t, s, a.ID, conversationID, "one")
	second := sendText(t, s, a.ID, conversationID, "two")

	views, err := s.ConversationsFor(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), viewFor(t, views, conversationID).UnreadCount)

	// own messages never count as unread
	views, err = s.ConversationsFor(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), viewFor(t, views, conversationID).UnreadCount)

	require.NoError(t, s.MarkRead(ctx, b.ID, conversationID, first))

	views, err = s.ConversationsFor(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), viewFor(t, views, conversationID).UnreadCount)

	require.NoError(t, s.MarkRead(ctx, b.ID, conversationID, second))

	views, err = s.ConversationsFor(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), viewFor(t, views, conversationID).UnreadCount)
}

func TestMarkReadUnknownMessage(t *testing.T) {
	s := bootstrap(t)

	a := createTestUser(t, s)
	b := createTestUser(t, s)
	conversationID := createDM(t, s, a, b)

	err := s.MarkRead(context.Background(), b.ID, conversationID, uuid.New())
	require.Equal(t, ErrMessageNotExist, err)
}

func TestLastMessageInConversationList(t *testing.T) {
	s := bootstrap(t)
	ctx := context.Background()

	a := createTestUser(t, s)
	b := createTestUser(t, s)
	conversationID := createDM(t, s, a, b)

	sendText(t, s, a.ID, conversationID, "old")
	latest := sendText(t, s, a.ID, conversationID, "new")

	views, err := s.ConversationsFor(ctx, b.ID)
	require.NoError(t, err)
	v := viewFor(t, views, conversationID)
	require.NotNil(t, v.LastMessage)
	require.Equal(t, latest, v.LastMessage.ID)
	require.Equal(t, "new", *v.LastMessage.Content)
}

func TestMessageNotificationFanOut(t *testing.T) {
	s := bootstrap(t)
	ctx := context.Background()

	a := createTestUser(t, s)
	b := createTestUser(t, s)
	conversationID := createDM(t, s, a, b)

	sendText(t, s, a.ID, conversationID, "ping")

	count, err := s.UnreadNotificationCount(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	// the sender does not get notified about their own message
	count, err = s.UnreadNotificationCount(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), count)
}

func TestTypingIndicators(t *testing.T) {
	s := bootstrap(t)
	ctx := context.Background()

	a := createTestUser(t, s)
	b := createTestUser(t, s)
	conversationID := createDM(t, s, a, b)

	require.NoError(t, s.SetTyping(ctx, a.ID, conversationID, true))

	indicators, err := s.TypingFor(ctx, b.ID, conversationID)
	require.NoError(t, err)
	require.Len(t, indicators, 1)
	require.Equal(t, a.ID, indicators[0].UserID)
	require.NotNil(t, indicators[0].User)
	require.Equal(t, a.Username, indicators[0].User.Username)

	// the caller's own indicator is filtered out
	indicators, err = s.TypingFor(ctx, a.ID, conversationID)
	require.NoError(t, err)
	require.Empty(t, indicators)

	require.NoError(t, s.SetTyping(ctx, a.ID, conversationID, false))

	indicators, err = s.TypingFor(ctx, b.ID, conversationID)
	require.NoError(t, err)
	require.Empty(t, indicators)
}

func TestSetTypingUnknownConversation(t *testing.T) {
	s := bootstrap(t)

	a := createTestUser(t, s)

	err := s.SetTyping(context.Background(), a.ID, uuid.New(), true)
	require.Equal(t, ErrConversationNotExist, err)
}
