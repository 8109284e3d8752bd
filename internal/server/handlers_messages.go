package server

import (
	"io/ioutil"
	"net/http"

	"github.com/google/uuid"

	"ripple-messenger/internal/realtime"
	"ripple-messenger/internal/storage"
)

// messageEvent is the payload shape for all message-level change events
type messageEvent struct {
	MessageID      uuid.UUID `json:"messageId"`
	ConversationID uuid.UUID `json:"conversationId"`
}

func (h *handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	user := h.mutationCaller(w, r)
	if user == nil {
		return
	}

	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Can not read request body", http.StatusBadRequest)
		return
	}

	p := h.parsers.messagesPool.Get()
	defer h.parsers.messagesPool.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		http.Error(w, "Malformed JSON", http.StatusBadRequest)
		return
	}

	conversationID, msg := uuidField(v, "conversationId")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	messageType := storage.MessageTypeText
	if t := optionalStringField(v, "messageType"); t != nil {
		messageType = *t
	}
	switch messageType {
	case storage.MessageTypeText, storage.MessageTypeImage, storage.MessageTypeFile, storage.MessageTypeVoice:
	default:
		http.Error(w, "Field \"messageType\" must be one of \"text\", \"image\", \"file\", \"voice\"", http.StatusBadRequest)
		return
	}

	content := optionalStringField(v, "content")
	if messageType == storage.MessageTypeText && content == nil {
		http.Error(w, "Missing Field \"content\"", http.StatusBadRequest)
		return
	}

	fileSize, msg := optionalInt64Field(v, "fileSize")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	replyToID, msg := optionalUUIDField(v, "replyToId")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	params := storage.SendMessageParams{
		ConversationID: conversationID,
		Content:        content,
		MessageType:    messageType,
		FileURL:        optionalStringField(v, "fileUrl"),
		FileName:       optionalStringField(v, "fileName"),
		FileSize:       fileSize,
		ReplyToID:      replyToID,
	}

	id, err := h.store.SendMessage(r.Context(), user.ID, params)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.hub.Publish(realtime.NewEvent(realtime.ConversationTopic(conversationID), "message.created",
		messageEvent{id, conversationID}))

	h.writeID(w, id)
}

func (h *handler) getMessages(w http.ResponseWriter, r *http.Request) {
	user := h.queryCaller(w, r, "[]")
	if user == nil {
		return
	}

	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Can not read request body", http.StatusBadRequest)
		return
	}

	p := h.parsers.messagesPool.Get()
	defer h.parsers.messagesPool.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		http.Error(w, "Malformed JSON", http.StatusBadRequest)
		return
	}

	conversationID, msg := uuidField(v, "conversationId")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	var limit int
	n, msg := optionalInt64Field(v, "limit")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}
	if n != nil {
		limit = int(*n)
	}

	messages, err := h.store.MessagesFor(r.Context(), user.ID, conversationID, limit)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if messages == nil {
		messages = []storage.MessageView{}
	}

	h.writeJSON(w, http.StatusOK, messages)
}

func (h *handler) editMessage(w http.ResponseWriter, r *http.Request) {
	user := h.mutationCaller(w, r)
	if user == nil {
		return
	}

	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Can not read request body", http.StatusBadRequest)
		return
	}

	p := h.parsers.messagesPool.Get()
	defer h.parsers.messagesPool.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		http.Error(w, "Malformed JSON", http.StatusBadRequest)
		return
	}

	messageID, msg := uuidField(v, "messageId")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	content, msg := stringField(v, "content")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	conversationID, err := h.store.EditMessage(r.Context(), user.ID, messageID, content)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.hub.Publish(realtime.NewEvent(realtime.ConversationTopic(conversationID), "message.updated",
		messageEvent{messageID, conversationID}))

	w.WriteHeader(http.StatusOK)
}

func (h *handler) deleteMessage(w http.ResponseWriter, r *http.Request) {
	user := h.mutationCaller(w, r)
	if user == nil {
		return
	}

	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Can not read request body", http.StatusBadRequest)
		return
	}

	p := h.parsers.messagesPool.Get()
	defer h.parsers.messagesPool.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		http.Error(w, "Malformed JSON", http.StatusBadRequest)
		return
	}

	messageID, msg := uuidField(v, "messageId")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	conversationID, err := h.store.DeleteMessage(r.Context(), user.ID, messageID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.hub.Publish(realtime.NewEvent(realtime.ConversationTopic(conversationID), "message.deleted",
		messageEvent{messageID, conversationID}))

	w.WriteHeader(http.StatusOK)
}

func (h *handler) forwardMessage(w http.ResponseWriter, r *http.Request) {
	user := h.mutationCaller(w, r)
	if user == nil {
		return
	}

	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Can not read request body", http.StatusBadRequest)
		return
	}

	p := h.parsers.messagesPool.Get()
	defer h.parsers.messagesPool.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		http.Error(w, "Malformed JSON", http.StatusBadRequest)
		return
	}

	messageID, msg := uuidField(v, "messageId")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	conversationID, msg := uuidField(v, "conversationId")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	id, err := h.store.ForwardMessage(r.Context(), user.ID, messageID, conversationID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.hub.Publish(realtime.NewEvent(realtime.ConversationTopic(conversationID), "message.created",
		messageEvent{id, conversationID}))

	h.writeID(w, id)
}

func (h *handler) toggleReaction(w http.ResponseWriter, r *http.Request) {
	user := h.mutationCaller(w, r)
	if user == nil {
		return
	}

	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Can not read request body", http.StatusBadRequest)
		return
	}

	p := h.parsers.messagesPool.Get()
	defer h.parsers.messagesPool.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		http.Error(w, "Malformed JSON", http.StatusBadRequest)
		return
	}

	messageID, msg := uuidField(v, "messageId")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	emoji, msg := stringField(v, "emoji")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	added, conversationID, err := h.store.ToggleReaction(r.Context(), user.ID, messageID, emoji)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.hub.Publish(realtime.NewEvent(realtime.ConversationTopic(conversationID), "reaction.toggled", struct {
		MessageID      uuid.UUID `json:"messageId"`
		ConversationID uuid.UUID `json:"conversationId"`
		UserID         uuid.UUID `json:"userId"`
		Emoji          string    `json:"emoji"`
		Added          bool      `json:"added"`
	}{messageID, conversationID, user.ID, emoji, added}))

	h.writeJSON(w, http.StatusOK, struct {
		Added bool `json:"added"`
	}{added})
}

func (h *handler) markRead(w http.ResponseWriter, r *http.Request) {
	user := h.mutationCaller(w, r)
	if user == nil {
		return
	}

	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Can not read request body", http.StatusBadRequest)
		return
	}

	p := h.parsers.messagesPool.Get()
	defer h.parsers.messagesPool.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		http.Error(w, "Malformed JSON", http.StatusBadRequest)
		return
	}

	conversationID, msg := uuidField(v, "conversationId")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	messageID, msg := uuidField(v, "messageId")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	if err = h.store.MarkRead(r.Context(), user.ID, conversationID, messageID); err != nil {
		h.writeStoreError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *handler) setTyping(w http.ResponseWriter, r *http.Request) {
	user := h.mutationCaller(w, r)
	if user == nil {
		return
	}

	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Can not read request body", http.StatusBadRequest)
		return
	}

	p := h.parsers.messagesPool.Get()
	defer h.parsers.messagesPool.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		http.Error(w, "Malformed JSON", http.StatusBadRequest)
		return
	}

	conversationID, msg := uuidField(v, "conversationId")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	isTyping, msg := boolField(v, "isTyping")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	if err = h.store.SetTyping(r.Context(), user.ID, conversationID, isTyping); err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.hub.Publish(realtime.NewEvent(realtime.ConversationTopic(conversationID), "typing.changed", struct {
		ConversationID uuid.UUID `json:"conversationId"`
		UserID         uuid.UUID `json:"userId"`
		IsTyping       bool      `json:"isTyping"`
	}{conversationID, user.ID, isTyping}))

	w.WriteHeader(http.StatusOK)
}

func (h *handler) getTyping(w http.ResponseWriter, r *http.Request) {
	user := h.queryCaller(w, r, "[]")
	if user == nil {
		return
	}

	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Can not read request body", http.StatusBadRequest)
		return
	}

	p := h.parsers.messagesPool.Get()
	defer h.parsers.messagesPool.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		http.Error(w, "Malformed JSON", http.StatusBadRequest)
		return
	}

	conversationID, msg := uuidField(v, "conversationId")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	indicators, err := h.store.TypingFor(r.Context(), user.ID, conversationID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if indicators == nil {
		indicators = []storage.TypingIndicator{}
	}

	h.writeJSON(w, http.StatusOK, indicators)
}

func (h *handler) unreadNotifications(w http.ResponseWriter, r *http.Request) {
	user := h.queryCaller(w, r, `{"count":0}`)
	if user == nil {
		return
	}

	count, err := h.store.UnreadNotificationCount(r.Context(), user.ID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, struct {
		Count int64 `json:"count"`
	}{count})
}
