package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mkarlsson/chatrelay/pkg/auth"
	"github.com/mkarlsson/chatrelay/pkg/model"
	"github.com/mkarlsson/chatrelay/pkg/protocol"
	"github.com/mkarlsson/chatrelay/pkg/store"
)

// fakeNotifier records realtime pushes and lets tests mark users online.
type fakeNotifier struct {
	online map[int64]bool
	pushes []push
}

type push struct {
	userID int64
	event  string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{online: make(map[int64]bool)}
}

func (f *fakeNotifier) NotifyUser(userID int64, event string, _ any) bool {
	f.pushes = append(f.pushes, push{userID: userID, event: event})
	return f.online[userID]
}

func (f *fakeNotifier) IsUserOnline(userID int64) bool {
	return f.online[userID]
}

func newTestAPI(t *testing.T) (*API, *store.MemoryStore, *fakeNotifier) {
	t.Helper()
	st := store.NewMemory()
	notifier := newFakeNotifier()
	a := New(store.NewMemoryFactory(st), auth.New(st, 0), notifier)
	return a, st, notifier
}

func doJSON(t *testing.T, h http.Handler, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
	return v
}

// registerAndLogin creates an account through the API and returns its token
// and user id.
func registerAndLogin(t *testing.T, h http.Handler, email, name string) (string, int64) {
	t.Helper()
	w := doJSON(t, h, http.MethodPost, "/api/register", "", registerRequest{
		Email:    email,
		Name:     name,
		Password: "hunter2hunter2",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d, body %s", email, w.Code, w.Body.String())
	}

	w = doJSON(t, h, http.MethodPost, "/api/login", "", loginRequest{
		Email:    email,
		Password: "hunter2hunter2",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login %s: status %d, body %s", email, w.Code, w.Body.String())
	}
	resp := decodeBody[loginResponse](t, w)
	if resp.Token == "" {
		t.Fatalf("login %s: empty token", email)
	}
	return resp.Token, resp.User.ID
}

func TestRegisterValidation(t *testing.T) {
	a, _, _ := newTestAPI(t)
	h := a.Handler()

	tests := map[string]registerRequest{
		"missing password": {Email: "a@example.com", Name: "Alice"},
		"invalid email":    {Email: "not-an-email", Name: "Alice", Password: "pw123456"},
		"empty name":       {Email: "a@example.com", Name: "", Password: "pw123456"},
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			w := doJSON(t, h, http.MethodPost, "/api/register", "", req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	a, _, _ := newTestAPI(t)
	h := a.Handler()
	registerAndLogin(t, h, "a@example.com", "Alice")

	w := doJSON(t, h, http.MethodPost, "/api/register", "", registerRequest{
		Email:    "a@example.com",
		Name:     "Alice Again",
		Password: "pw123456",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("duplicate register status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	a, _, _ := newTestAPI(t)
	h := a.Handler()
	registerAndLogin(t, h, "a@example.com", "Alice")

	w := doJSON(t, h, http.MethodPost, "/api/login", "", loginRequest{
		Email:    "a@example.com",
		Password: "wrong-password",
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad password status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	w = doJSON(t, h, http.MethodPost, "/api/login", "", loginRequest{
		Email:    "nobody@example.com",
		Password: "whatever123",
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unknown user status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAuthedRoutesRequireToken(t *testing.T) {
	a, _, _ := newTestAPI(t)
	h := a.Handler()

	for _, target := range []string{"/api/me", "/api/users", "/api/conversations"} {
		w := doJSON(t, h, http.MethodGet, target, "", nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("GET %s without token: status = %d, want %d", target, w.Code, http.StatusUnauthorized)
		}
	}

	w := doJSON(t, h, http.MethodGet, "/api/me", "bogus-token", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bogus token status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestMeReflectsPresence(t *testing.T) {
	a, _, notifier := newTestAPI(t)
	h := a.Handler()
	token, userID := registerAndLogin(t, h, "a@example.com", "Alice")

	w := doJSON(t, h, http.MethodGet, "/api/me", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("me status = %d", w.Code)
	}
	if got := decodeBody[userResponse](t, w); got.IsOnline {
		t.Errorf("expected offline before any socket attaches")
	}

	notifier.online[userID] = true
	w = doJSON(t, h, http.MethodGet, "/api/me", token, nil)
	if got := decodeBody[userResponse](t, w); !got.IsOnline {
		t.Errorf("expected online after presence flips")
	}
}

func TestCreateConversationAddsCreatorAndNotifies(t *testing.T) {
	a, _, notifier := newTestAPI(t)
	h := a.Handler()
	tokenA, idA := registerAndLogin(t, h, "a@example.com", "Alice")
	_, idB := registerAndLogin(t, h, "b@example.com", "Bob")

	// Creator omitted from the participant list on purpose.
	w := doJSON(t, h, http.MethodPost, "/api/conversations", tokenA, createConversationRequest{
		Participants: []int64{idB},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create conversation status = %d, body %s", w.Code, w.Body.String())
	}
	conv := decodeBody[conversationResponse](t, w)
	if diff := cmp.Diff([]int64{idB, idA}, conv.Participants); diff != "" {
		t.Errorf("participants mismatch (-want +got):\n%s", diff)
	}
	if conv.IsGroup {
		t.Errorf("two-party conversation flagged as group")
	}

	wantPushes := []push{{userID: idB, event: protocol.EventNewConversation}}
	if diff := cmp.Diff(wantPushes, notifier.pushes, cmp.AllowUnexported(push{})); diff != "" {
		t.Errorf("pushes mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateGroupConversation(t *testing.T) {
	a, st, notifier := newTestAPI(t)
	h := a.Handler()
	tokenA, idA := registerAndLogin(t, h, "a@example.com", "Alice")
	_, idB := registerAndLogin(t, h, "b@example.com", "Bob")
	_, idC := registerAndLogin(t, h, "c@example.com", "Carol")

	w := doJSON(t, h, http.MethodPost, "/api/conversations", tokenA, createConversationRequest{
		Participants: []int64{idA, idB, idC},
		GroupName:    "weekend plans",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create group status = %d, body %s", w.Code, w.Body.String())
	}
	conv := decodeBody[conversationResponse](t, w)
	if !conv.IsGroup || conv.GroupName != "weekend plans" {
		t.Errorf("group fields = (%v, %q)", conv.IsGroup, conv.GroupName)
	}

	stored, err := st.GetConversation(conv.ID)
	if err != nil || stored == nil {
		t.Fatalf("stored conversation: %v, err %v", stored, err)
	}
	if stored.GroupAdmin != idA {
		t.Errorf("group admin = %d, want creator %d", stored.GroupAdmin, idA)
	}

	if len(notifier.pushes) != 2 {
		t.Errorf("pushes = %d, want one per other participant", len(notifier.pushes))
	}
}

func TestListConversationsScopedToCaller(t *testing.T) {
	a, _, _ := newTestAPI(t)
	h := a.Handler()
	tokenA, idA := registerAndLogin(t, h, "a@example.com", "Alice")
	tokenB, idB := registerAndLogin(t, h, "b@example.com", "Bob")
	tokenC, _ := registerAndLogin(t, h, "c@example.com", "Carol")

	w := doJSON(t, h, http.MethodPost, "/api/conversations", tokenA, createConversationRequest{
		Participants: []int64{idA, idB},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create conversation status = %d", w.Code)
	}

	for _, tc := range []struct {
		token string
		want  int
	}{
		{tokenA, 1},
		{tokenB, 1},
		{tokenC, 0},
	} {
		w := doJSON(t, h, http.MethodGet, "/api/conversations", tc.token, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("list status = %d", w.Code)
		}
		if got := decodeBody[[]conversationResponse](t, w); len(got) != tc.want {
			t.Errorf("conversation count = %d, want %d", len(got), tc.want)
		}
	}
}

func TestListMessagesAuthorization(t *testing.T) {
	a, st, _ := newTestAPI(t)
	h := a.Handler()
	tokenA, idA := registerAndLogin(t, h, "a@example.com", "Alice")
	_, idB := registerAndLogin(t, h, "b@example.com", "Bob")
	tokenC, _ := registerAndLogin(t, h, "c@example.com", "Carol")

	conv := &model.Conversation{Participants: []int64{idA, idB}}
	if err := st.CreateConversation(conv); err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	for i := 0; i < 3; i++ {
		msg := &model.Message{
			ConversationID: conv.ID,
			SenderID:       idA,
			Type:           model.TypeText,
			Text:           fmt.Sprintf("message %d", i),
		}
		if err := st.CreateMessage(msg); err != nil {
			t.Fatalf("seed message: %v", err)
		}
	}

	w := doJSON(t, h, http.MethodGet, fmt.Sprintf("/api/conversations/%d/messages", conv.ID), tokenA, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("participant status = %d", w.Code)
	}
	if got := decodeBody[[]model.Message](t, w); len(got) != 3 {
		t.Errorf("message count = %d, want 3", len(got))
	}

	w = doJSON(t, h, http.MethodGet, fmt.Sprintf("/api/conversations/%d/messages", conv.ID), tokenC, nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("outsider status = %d, want %d", w.Code, http.StatusForbidden)
	}

	w = doJSON(t, h, http.MethodGet, "/api/conversations/9999/messages", tokenA, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing conversation status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestListMessagesPagination(t *testing.T) {
	a, st, _ := newTestAPI(t)
	h := a.Handler()
	tokenA, idA := registerAndLogin(t, h, "a@example.com", "Alice")
	_, idB := registerAndLogin(t, h, "b@example.com", "Bob")

	conv := &model.Conversation{Participants: []int64{idA, idB}}
	if err := st.CreateConversation(conv); err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	for i := 0; i < 5; i++ {
		msg := &model.Message{
			ConversationID: conv.ID,
			SenderID:       idA,
			Type:           model.TypeText,
			Text:           fmt.Sprintf("message %d", i),
		}
		if err := st.CreateMessage(msg); err != nil {
			t.Fatalf("seed message: %v", err)
		}
	}

	target := fmt.Sprintf("/api/conversations/%d/messages?limit=2&offset=1", conv.ID)
	w := doJSON(t, h, http.MethodGet, target, tokenA, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("paginated status = %d", w.Code)
	}
	got := decodeBody[[]model.Message](t, w)
	if len(got) != 2 {
		t.Fatalf("page size = %d, want 2", len(got))
	}
	if got[0].Text != "message 1" || got[1].Text != "message 2" {
		t.Errorf("page contents = %q, %q", got[0].Text, got[1].Text)
	}
}
