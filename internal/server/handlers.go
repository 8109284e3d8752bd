package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"ripple-messenger/internal/realtime"
	"ripple-messenger/internal/storage"
)

// TODO limit reading from body

type parsers struct {
	usersPool         fastjson.ParserPool
	friendsPool       fastjson.ParserPool
	conversationsPool fastjson.ParserPool
	messagesPool      fastjson.ParserPool
}

type handler struct {
	logger  *zap.SugaredLogger
	store   *storage.Store
	hub     *realtime.Hub
	parsers parsers
}

var errUnauthenticated = errors.New("unauthenticated")

// caller resolves the bearer identity from context to its user record
func (h *handler) caller(r *http.Request) (*storage.User, error) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		return nil, errUnauthenticated
	}

	user, err := h.store.UserBySubject(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotExist) {
			return nil, errUnauthenticated
		}
		return nil, err
	}

	return user, nil
}

// mutationCaller resolves the caller for a mutation; an unresolvable identity
// is a hard 401. Returns nil once the response has been written.
func (h *handler) mutationCaller(w http.ResponseWriter, r *http.Request) *storage.User {
	user, err := h.caller(r)
	if err != nil {
		if errors.Is(err, errUnauthenticated) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return nil
		}
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return nil
	}
	return user
}

// queryCaller resolves the caller for a read; an unresolvable identity
// degrades to the provided empty payload instead of an error. Returns nil
// once the response has been written.
func (h *handler) queryCaller(w http.ResponseWriter, r *http.Request, empty string) *storage.User {
	user, err := h.caller(r)
	if err != nil {
		if errors.Is(err, errUnauthenticated) {
			h.writeRaw(w, http.StatusOK, []byte(empty))
			return nil
		}
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return nil
	}
	return user
}

func (h *handler) writeRaw(w http.ResponseWriter, status int, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		h.logger.Errorf("writing marshaled data to ResponseWriter: %v", err)
	}
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.writeRaw(w, status, data)
}

// writeID returns a created entity id
func (h *handler) writeID(w http.ResponseWriter, id uuid.UUID) {
	h.writeRaw(w, http.StatusCreated, []byte(`{"id":"`+id.String()+`"}`))
}

// storeErrorStatus maps the storage sentinel errors onto HTTP statuses
func storeErrorStatus(err error) int {
	switch {
	case errors.Is(err, storage.ErrUserNotExist),
		errors.Is(err, storage.ErrRequestNotExist),
		errors.Is(err, storage.ErrConversationNotExist),
		errors.Is(err, storage.ErrMessageNotExist):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrNotRequestReceiver),
		errors.Is(err, storage.ErrNotMember),
		errors.Is(err, storage.ErrNotAdmin),
		errors.Is(err, storage.ErrNotMessageSender):
		return http.StatusForbidden
	case errors.Is(err, storage.ErrRequestExists),
		errors.Is(err, storage.ErrReversePending),
		errors.Is(err, storage.ErrAlreadyFriends),
		errors.Is(err, storage.ErrRequestProcessed):
		return http.StatusConflict
	case errors.Is(err, storage.ErrNotGroup):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) writeStoreError(w http.ResponseWriter, err error) {
	status := storeErrorStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(err)
		http.Error(w, http.StatusText(status), status)
		return
	}
	http.Error(w, err.Error(), status)
}

// Field extraction helpers. Each returns the 400 response text when the
// field is absent or ill-typed; an empty message means success.

func uuidField(v *fastjson.Value, field string) (uuid.UUID, string) {
	if !v.Exists(field) {
		return uuid.Nil, "Missing Field \"" + field + "\""
	}

	sb := v.GetStringBytes(field)
	if sb == nil {
		return uuid.Nil, "Field \"" + field + "\" must be a string"
	}

	id, err := uuid.ParseBytes(sb)
	if err != nil {
		return uuid.Nil, "Field \"" + field + "\" must be a valid id"
	}

	return id, ""
}

func optionalUUIDField(v *fastjson.Value, field string) (*uuid.UUID, string) {
	if !v.Exists(field) || v.Get(field).Type() == fastjson.TypeNull {
		return nil, ""
	}

	id, msg := uuidField(v, field)
	if msg != "" {
		return nil, msg
	}
	return &id, ""
}

func stringField(v *fastjson.Value, field string) (string, string) {
	if !v.Exists(field) {
		return "", "Missing Field \"" + field + "\""
	}

	sb := v.GetStringBytes(field)
	if len(sb) == 0 {
		return "", "Field \"" + field + "\" must be a string and have non-zero length"
	}

	return string(sb), ""
}

func optionalStringField(v *fastjson.Value, field string) *string {
	sb := v.GetStringBytes(field)
	if sb == nil {
		return nil
	}
	s := string(sb)
	return &s
}

func boolField(v *fastjson.Value, field string) (bool, string) {
	if !v.Exists(field) {
		return false, "Missing Field \"" + field + "\""
	}

	b, err := v.Get(field).Bool()
	if err != nil {
		return false, "Field \"" + field + "\" must be a boolean"
	}

	return b, ""
}

func optionalInt64Field(v *fastjson.Value, field string) (*int64, string) {
	if !v.Exists(field) || v.Get(field).Type() == fastjson.TypeNull {
		return nil, ""
	}

	n, err := v.Get(field).Int64()
	if err != nil {
		return nil, "Field \"" + field + "\" must be a 64-bit integer value"
	}

	return &n, ""
}

func uuidListField(v *fastjson.Value, field string) ([]uuid.UUID, string) {
	if !v.Exists(field) {
		return nil, "Missing Field \"" + field + "\""
	}

	values, err := v.Get(field).Array()
	if err != nil {
		return nil, "Field \"" + field + "\" must be an array"
	}

	ids := make([]uuid.UUID, 0, len(values))
	for _, item := range values {
		sb, err := item.StringBytes()
		if err != nil {
			return nil, "Each item in \"" + field + "\" array field must be a string id"
		}
		id, err := uuid.ParseBytes(sb)
		if err != nil {
			return nil, "Each item in \"" + field + "\" array field must be a valid id"
		}
		ids = append(ids, id)
	}

	return ids, ""
}
