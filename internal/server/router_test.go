package server

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"channel-emulator/internal/auth"
	"channel-emulator/internal/endpoint"
	"channel-emulator/internal/hub"
	"channel-emulator/internal/store"
	"channel-emulator/internal/token"
)

type testEnv struct {
	router *gin.Engine
	store  *store.Store
	ep     endpoint.Endpoint
	token  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.New()
	tokens := token.NewCache()
	endpoints := endpoint.NewRegistry()
	tokenCfg := auth.TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}

	ep := endpoints.Register(endpoint.Endpoint{Name: "test-bot", ServiceURL: "http://localhost:3978/api/messages"})
	tok, err := auth.CreateEndpointToken(ep.ID, tokenCfg)
	if err != nil {
		t.Fatalf("CreateEndpointToken: %v", err)
	}

	r := NewRouter(Deps{
		Store:       st,
		Tokens:      tokens,
		Endpoints:   endpoints,
		TokenConfig: tokenCfg,
		Hub:         hub.New(),
	})
	return &testEnv{router: r, store: st, ep: ep, token: tok}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, authToken string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return resp
}

func TestConversationEndToEnd(t *testing.T) {
	env := newTestEnv(t)

	// create
	w := env.do(t, http.MethodPost, "/v3/conversations", map[string]any{}, env.token)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	created := decode(t, w)
	convID, _ := created["id"].(string)
	if convID == "" {
		t.Fatalf("expected conversation id, got %v", created)
	}
	if created["expires_in"] == nil {
		t.Fatalf("expected expires_in, got %v", created)
	}

	// post activity
	w = env.do(t, http.MethodPost, "/v3/conversations/"+convID+"/activities",
		map[string]any{"type": "message", "text": "hi", "from": map[string]string{"id": "bot"}}, env.token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	posted := decode(t, w)
	if posted["id"] == "" || posted["id"] == nil {
		t.Fatalf("expected generated activity id, got %v", posted)
	}

	// read with watermark 0
	w = env.do(t, http.MethodGet, "/v3/conversations/"+convID+"/activities?watermark=0", nil, env.token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	page := decode(t, w)
	acts, _ := page["activities"].([]any)
	if len(acts) != 1 {
		t.Fatalf("expected 1 activity, got %v", page)
	}
	first, _ := acts[0].(map[string]any)
	if first["text"] != "hi" {
		t.Fatalf("expected text hi, got %v", first)
	}
	if page["watermark"] != "1" {
		t.Fatalf("expected watermark 1, got %v", page["watermark"])
	}
}

func TestReplyRouteRecordsReplyTo(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v3/conversations", map[string]any{}, env.token)
	convID := decode(t, w)["id"].(string)

	w = env.do(t, http.MethodPost, "/v3/conversations/"+convID+"/activities",
		map[string]any{"type": "message", "text": "question"}, env.token)
	firstID := decode(t, w)["id"].(string)

	w = env.do(t, http.MethodPost, "/v3/conversations/"+convID+"/activities/"+firstID,
		map[string]any{"type": "message", "text": "answer"}, env.token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/v3/conversations/"+convID+"/activities?watermark=1", nil, env.token)
	page := decode(t, w)
	acts, _ := page["activities"].([]any)
	if len(acts) != 1 {
		t.Fatalf("expected 1 activity past watermark 1, got %v", page)
	}
	reply, _ := acts[0].(map[string]any)
	if reply["replyToId"] != firstID {
		t.Fatalf("expected replyToId %q, got %v", firstID, reply["replyToId"])
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v3/conversations", map[string]any{}, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if env.store.ConversationCount() != 0 {
		t.Fatalf("unauthorized request must not touch the store")
	}

	w = env.do(t, http.MethodPost, "/v3/conversations", map[string]any{}, "not-a-token")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if env.store.ConversationCount() != 0 {
		t.Fatalf("unauthorized request must not touch the store")
	}
}

func TestPostActivityUnknownConversation(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v3/conversations/nope/activities",
		map[string]any{"type": "message", "text": "hi"}, env.token)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestDirectLineConversationFlow(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v3/directline/conversations", map[string]any{}, env.token)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	created := decode(t, w)
	convID, _ := created["conversationId"].(string)
	dlToken, _ := created["token"].(string)
	if convID == "" || dlToken == "" {
		t.Fatalf("expected conversationId and token, got %v", created)
	}

	// endpoint token is not conversation-scoped and must be rejected here
	w = env.do(t, http.MethodPost, "/v3/directline/conversations/"+convID+"/activities",
		map[string]any{"type": "message", "text": "hello bot", "from": map[string]string{"id": "user1"}}, env.token)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with endpoint token, got %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/v3/directline/conversations/"+convID+"/activities",
		map[string]any{"type": "message", "text": "hello bot", "from": map[string]string{"id": "user1"}}, dlToken)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/v3/directline/conversations/"+convID+"/activities?watermark=0", nil, dlToken)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	page := decode(t, w)
	acts, _ := page["activities"].([]any)
	if len(acts) != 1 {
		t.Fatalf("expected 1 activity, got %v", page)
	}
}

func TestBotStateRoutes(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v3/botstate/emulator/conversations/conv-1",
		map[string]any{"counter": 1}, env.token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/v3/botstate/emulator/conversations/conv-1", nil, env.token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	rec := decode(t, w)
	data, _ := rec["data"].(map[string]any)
	if data["counter"] != float64(1) {
		t.Fatalf("expected counter 1, got %v", rec)
	}

	w = env.do(t, http.MethodDelete, "/v3/botstate/emulator/conversations/conv-1", nil, env.token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/v3/botstate/emulator/conversations/conv-1", nil, env.token)
	rec = decode(t, w)
	if rec["eTag"] != "*" {
		t.Fatalf("expected wildcard eTag after delete, got %v", rec)
	}
}

func TestBotStateUserWipe(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodPost, "/v3/botstate/emulator/users/u1", map[string]any{"x": 1}, env.token)
	env.do(t, http.MethodPost, "/v3/botstate/emulator/conversations/c1/users/u1", map[string]any{"y": 2}, env.token)
	env.do(t, http.MethodPost, "/v3/botstate/emulator/conversations/c1", map[string]any{"z": 3}, env.token)

	w := env.do(t, http.MethodDelete, "/v3/botstate/emulator/users/u1", nil, env.token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/v3/botstate/emulator/users/u1", nil, env.token)
	if rec := decode(t, w); rec["eTag"] != "*" {
		t.Fatalf("expected user data gone, got %v", rec)
	}
	w = env.do(t, http.MethodGet, "/v3/botstate/emulator/conversations/c1/users/u1", nil, env.token)
	if rec := decode(t, w); rec["eTag"] != "*" {
		t.Fatalf("expected private conversation data gone, got %v", rec)
	}
	w = env.do(t, http.MethodGet, "/v3/botstate/emulator/conversations/c1", nil, env.token)
	rec := decode(t, w)
	data, _ := rec["data"].(map[string]any)
	if data["z"] != float64(3) {
		t.Fatalf("conversation data must survive a user wipe, got %v", rec)
	}
}

func TestEndConversation(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v3/conversations", map[string]any{}, env.token)
	convID := decode(t, w)["id"].(string)

	w = env.do(t, http.MethodDelete, "/emulator/v1/conversations/"+convID, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/v3/conversations/"+convID+"/activities", nil, env.token)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after teardown, got %d", w.Code)
	}

	w = env.do(t, http.MethodDelete, "/emulator/v1/conversations/"+convID, nil, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second teardown, got %d", w.Code)
	}
}

func TestAttachmentRoutes(t *testing.T) {
	env := newTestEnv(t)

	content := []byte("attachment-bytes")
	req := httptest.NewRequest(http.MethodPost, "/v3/attachments", bytes.NewReader(content))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Authorization", "Bearer "+env.token)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	uploaded := decode(t, w)
	id, _ := uploaded["id"].(string)
	if id == "" {
		t.Fatalf("expected attachment id")
	}

	w2 := env.do(t, http.MethodGet, "/v3/attachments/"+id, nil, env.token)
	if w2.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w2.Code)
	}
	if !bytes.Equal(w2.Body.Bytes(), content) {
		t.Fatalf("attachment not byte-identical")
	}

	w2 = env.do(t, http.MethodGet, "/v3/attachments/missing", nil, env.token)
	if w2.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w2.Code)
	}
}

func TestUserTokenRoutes(t *testing.T) {
	env := newTestEnv(t)

	// no token yet
	w := env.do(t, http.MethodGet, "/api/usertoken/GetToken?userId=u1&connectionName=graph", nil, env.token)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	// sign-out with no entry succeeds
	w = env.do(t, http.MethodDelete, "/api/usertoken/SignOut?userId=u1&connectionName=graph", nil, env.token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for no-op sign-out, got %d", w.Code)
	}

	// issue, then fetch
	w = env.do(t, http.MethodPost, "/api/usertoken/IssueToken",
		map[string]any{"userId": "u1", "connectionName": "graph"}, env.token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/api/usertoken/GetToken?userId=u1&connectionName=graph", nil, env.token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	got := decode(t, w)
	if got["token"] == "" || got["token"] == nil {
		t.Fatalf("expected token, got %v", got)
	}

	// sign out and the token is gone
	w = env.do(t, http.MethodDelete, "/api/usertoken/SignOut?userId=u1&connectionName=graph", nil, env.token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	w = env.do(t, http.MethodGet, "/api/usertoken/GetToken?userId=u1&connectionName=graph", nil, env.token)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after sign-out, got %d", w.Code)
	}
}

func writeBotProfile(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bot.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	return path
}

func (e *testEnv) recentBots(t *testing.T) []any {
	t.Helper()
	w := e.do(t, http.MethodGet, "/emulator/v1/bots", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	list, _ := decode(t, w)["bots"].([]any)
	return list
}

func (e *testEnv) waitRecentBots(t *testing.T, n int) []any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if list := e.recentBots(t); len(list) == n {
			return list
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("never saw %d recent bots, last %v", n, e.recentBots(t))
	return nil
}

func TestLoadBotProfile(t *testing.T) {
	env := newTestEnv(t)
	path := writeBotProfile(t, `name: echo-bot
endpoints:
  - name: production
    serviceUrl: http://localhost:3978/api/messages
`)

	before := len(decode(t, env.do(t, http.MethodGet, "/emulator/v1/endpoints", nil, ""))["endpoints"].([]any))

	w := env.do(t, http.MethodPost, "/emulator/v1/bots", map[string]any{"path": path}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if decode(t, w)["name"] != "echo-bot" {
		t.Fatalf("unexpected body %s", w.Body.String())
	}

	bots := env.recentBots(t)
	if len(bots) != 1 {
		t.Fatalf("expected 1 recent bot, got %v", bots)
	}
	entry, _ := bots[0].(map[string]any)
	if entry["displayName"] != "echo-bot" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if _, leak := entry["secret"]; leak {
		t.Fatalf("recent bots must not expose secrets")
	}

	after := len(decode(t, env.do(t, http.MethodGet, "/emulator/v1/endpoints", nil, ""))["endpoints"].([]any))
	if after != before+1 {
		t.Fatalf("expected the profile endpoint registered, before=%d after=%d", before, after)
	}
}

func TestLoadBotProfileMissingFile(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/emulator/v1/bots",
		map[string]any{"path": filepath.Join(t.TempDir(), "nope.yaml")}, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestLoadGuardedBotProfile(t *testing.T) {
	env := newTestEnv(t)
	sum := sha256.Sum256([]byte("hunter2"))
	path := writeBotProfile(t, `name: guarded-bot
secretHash: `+hex.EncodeToString(sum[:])+`
endpoints:
  - name: production
    serviceUrl: http://localhost:3978/api/messages
`)

	w := env.do(t, http.MethodPost, "/emulator/v1/bots", map[string]any{"path": path}, "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for guarded profile, got %d: %s", w.Code, w.Body.String())
	}

	// wrong secret re-prompts
	w = env.do(t, http.MethodPost, "/emulator/v1/bots/secret", map[string]any{"input": "wrong"}, "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if len(env.recentBots(t)) != 0 {
		t.Fatalf("wrong secret must not load the bot")
	}

	w = env.do(t, http.MethodPost, "/emulator/v1/bots/secret", map[string]any{"input": "hunter2"}, "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	bots := env.waitRecentBots(t, 1)
	entry, _ := bots[0].(map[string]any)
	if entry["displayName"] != "guarded-bot" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestDismissGuardedBotProfile(t *testing.T) {
	env := newTestEnv(t)
	sum := sha256.Sum256([]byte("hunter2"))
	path := writeBotProfile(t, `name: guarded-bot
secretHash: `+hex.EncodeToString(sum[:])+`
endpoints: []
`)

	w := env.do(t, http.MethodPost, "/emulator/v1/bots/secret", map[string]any{"input": "x"}, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 with no prompt outstanding, got %d", w.Code)
	}

	env.do(t, http.MethodPost, "/emulator/v1/bots", map[string]any{"path": path}, "")

	// empty answer dismisses the load
	w = env.do(t, http.MethodPost, "/emulator/v1/bots/secret", map[string]any{"input": ""}, "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/emulator/v1/bots/secret", map[string]any{"input": "hunter2"}, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after dismissal, got %d", w.Code)
	}
	if len(env.recentBots(t)) != 0 {
		t.Fatalf("dismissed load must not record the bot")
	}
}

func (e *testEnv) flowState(t *testing.T) string {
	t.Helper()
	w := e.do(t, http.MethodGet, "/emulator/v1/authflow", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	state, _ := decode(t, w)["state"].(string)
	return state
}

func (e *testEnv) waitFlowState(t *testing.T, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.flowState(t) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("flow never reached state %q, last %q", want, e.flowState(t))
}

func TestAuthflowOverControlPlane(t *testing.T) {
	env := newTestEnv(t)

	if got := env.flowState(t); got != "idle" {
		t.Fatalf("expected idle before start, got %q", got)
	}

	w := env.do(t, http.MethodPost, "/emulator/v1/authflow", map[string]any{}, "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	env.waitFlowState(t, "inProgress")

	// a malformed key re-prompts instead of ending the flow
	w = env.do(t, http.MethodPost, "/emulator/v1/authflow/resolve",
		map[string]any{"input": "not-a-guid"}, "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if got := env.flowState(t); got == "ended" {
		t.Fatalf("invalid key must not end the flow")
	}

	w = env.do(t, http.MethodPost, "/emulator/v1/authflow/resolve",
		map[string]any{"input": "3f2b8c9a-1d4e-4f6a-9b0c-2e7d5a8f1c3b"}, "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	env.waitFlowState(t, "ended")
}

func TestAuthflowCancel(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/emulator/v1/authflow/cancel", nil, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 with no flow, got %d", w.Code)
	}

	env.do(t, http.MethodPost, "/emulator/v1/authflow", map[string]any{"prompt": "key?"}, "")
	env.waitFlowState(t, "inProgress")

	w = env.do(t, http.MethodPost, "/emulator/v1/authflow/cancel", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	env.waitFlowState(t, "canceled")
}

func TestControlPlaneEndpointRegistration(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/emulator/v1/endpoints",
		map[string]any{"name": "second-bot", "serviceUrl": "http://localhost:4000/api/messages"}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	created := decode(t, w)
	epToken, _ := created["token"].(string)
	if epToken == "" {
		t.Fatalf("expected endpoint token, got %v", created)
	}

	// the minted token authenticates connector routes
	w = env.do(t, http.MethodPost, "/v3/conversations", map[string]any{}, epToken)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 with minted token, got %d", w.Code)
	}
}
