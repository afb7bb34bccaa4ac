package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"relaychat/internal/app/chat"
	"relaychat/internal/app/directory"
	"relaychat/internal/app/protocol"
	"relaychat/internal/app/store"
	"relaychat/internal/app/user"
	"relaychat/internal/configs"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/pow"
)

const testPassword = "secret123"

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type fakeStorage struct {
	lastKey string
}

func (f *fakeStorage) PresignUpload(_ context.Context, key, _ string, _ int64, _ time.Duration) (string, error) {
	f.lastKey = key
	return "https://bucket.example/" + key + "?sig=up", nil
}

func (f *fakeStorage) PresignDownload(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://bucket.example/" + key + "?sig=down", nil
}

func (f *fakeStorage) Delete(context.Context, string) error { return nil }

func (f *fakeStorage) ObjectMetadata(context.Context, string) (map[string]string, error) {
	return map[string]string{}, nil
}

type testEnv struct {
	srv  *httptest.Server
	deps *AppDeps
}

func newTestEnv(t *testing.T, powDifficulty int) *testEnv {
	t.Helper()

	st := store.NewMemory()
	dir := directory.New(st, nil, bcrypt.MinCost)
	hub := chat.NewHub(st, dir, chat.Config{SubscribeNewIdentities: true}, 0)
	go hub.Run()

	powManager := pow.NewManager(powDifficulty)

	deps := &AppDeps{
		Config: &configs.AppConfig{
			Environment:   configs.EnvDevelopment,
			JWTSecret:     "test-secret",
			PowDifficulty: powDifficulty,
		},
		Hub:       hub,
		Directory: dir,
		PoW:       powManager,
	}

	srv := httptest.NewServer(Router(deps))
	t.Cleanup(func() {
		srv.Close()
		hub.Stop()
		powManager.Stop()
	})

	return &testEnv{srv: srv, deps: deps}
}

func (e *testEnv) call(t *testing.T, method, path, token string, body any, header http.Header) (*http.Response, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}

	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	for k, vs := range header {
		req.Header[k] = vs
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()

	var env envelope
	if res.Header.Get("Content-Type") == "application/json" {
		if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return res, env
}

func (e *testEnv) register(t *testing.T, name string) AuthResult {
	t.Helper()

	_, env := e.call(t, http.MethodPost, "/api/auth/register", "", CredentialsInput{Username: name, Password: testPassword}, nil)
	if env.Code != 0 {
		t.Fatalf("register %s: code %d (%s)", name, env.Code, env.Message)
	}

	var out AuthResult
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatal(err)
	}
	return out
}

func (e *testEnv) dial(t *testing.T, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	u := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	conn, res, err := websocket.DefaultDialer.Dial(u, nil)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, res, err
}

// readUntil returns the first event of type want, skipping others.
func readUntil(t *testing.T, conn *websocket.Conn, want protocol.EventType) protocol.Envelope {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		var env protocol.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatal(err)
		}
		if env.Type == want {
			return env
		}
	}
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, 0)

	res, env := e.call(t, http.MethodGet, "/health", "", nil, nil)
	if res.StatusCode != http.StatusOK || env.Code != 0 {
		t.Fatalf("health = %d / %d", res.StatusCode, env.Code)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	e := newTestEnv(t, 0)

	auth := e.register(t, "alice")
	if auth.Token == "" || auth.User.Username != "alice" {
		t.Fatalf("register returned %+v", auth)
	}

	_, env := e.call(t, http.MethodPost, "/api/auth/register", "", CredentialsInput{Username: "alice", Password: testPassword}, nil)
	if env.Code != errs.ErrUserAlreadyExists {
		t.Errorf("duplicate register code = %d", env.Code)
	}

	_, env = e.call(t, http.MethodPost, "/api/auth/login", "", CredentialsInput{Username: "alice", Password: "not-the-password"}, nil)
	if env.Code != errs.ErrInvalidCredentials {
		t.Errorf("bad login code = %d", env.Code)
	}

	_, env = e.call(t, http.MethodPost, "/api/auth/login", auth.Token, CredentialsInput{Username: "alice", Password: testPassword}, nil)
	if env.Code != errs.ErrAlreadyLoggedIn {
		t.Errorf("login with token code = %d", env.Code)
	}

	_, env = e.call(t, http.MethodPost, "/api/auth/login", "", CredentialsInput{Username: "alice", Password: testPassword}, nil)
	if env.Code != 0 {
		t.Errorf("login code = %d (%s)", env.Code, env.Message)
	}
}

func TestRegisterRequiresProofOfWork(t *testing.T) {
	e := newTestEnv(t, 1)
	creds := CredentialsInput{Username: "alice", Password: testPassword}

	_, env := e.call(t, http.MethodPost, "/api/auth/register", "", creds, nil)
	if env.Code != errs.ErrPowChallengeRequired {
		t.Fatalf("ungated register code = %d", env.Code)
	}

	_, env = e.call(t, http.MethodGet, "/api/pow/challenge", "", nil, nil)
	var challenge struct {
		Nonce      string `json:"nonce"`
		Difficulty int    `json:"difficulty"`
	}
	if err := json.Unmarshal(env.Data, &challenge); err != nil || challenge.Difficulty != 1 {
		t.Fatalf("challenge = %+v, %v", challenge, err)
	}

	_, env = e.call(t, http.MethodPost, "/api/pow/verify", "", PowVerifyInput{
		Nonce:   challenge.Nonce,
		Counter: pow.Solve(challenge.Nonce, challenge.Difficulty),
	}, nil)
	var proof struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &proof); err != nil || proof.Token == "" {
		t.Fatalf("verify code = %d, %v", env.Code, err)
	}

	header := http.Header{pow.TokenHeaderKey: []string{proof.Token}}
	if _, env = e.call(t, http.MethodPost, "/api/auth/register", "", creds, header); env.Code != 0 {
		t.Fatalf("gated register code = %d (%s)", env.Code, env.Message)
	}

	creds.Username = "bob"
	if _, env = e.call(t, http.MethodPost, "/api/auth/register", "", creds, header); env.Code != errs.ErrPowChallengeRequired {
		t.Errorf("reused proof code = %d", env.Code)
	}
}

func TestWebSocketRequiresIdentity(t *testing.T) {
	e := newTestEnv(t, 0)

	_, res, err := e.dial(t, "")
	if err == nil {
		t.Fatal("handshake without token succeeded")
	}
	if res == nil || res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("response = %v", res)
	}

	_, res, err = e.dial(t, "garbage")
	if err == nil || res == nil || res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("invalid token: err=%v res=%v", err, res)
	}
}

func TestWebSocketSendsSnapshot(t *testing.T) {
	e := newTestEnv(t, 0)
	e.register(t, "bob")
	alice := e.register(t, "alice")

	conn, _, err := e.dial(t, alice.Token)
	if err != nil {
		t.Fatal(err)
	}

	env := readUntil(t, conn, protocol.EventAuthSuccess)
	p, err := protocol.Decode[protocol.AuthSuccessPayload](env)
	if err != nil {
		t.Fatal(err)
	}

	if p.User.Username != "alice" {
		t.Errorf("user = %+v", p.User)
	}
	want := []string{"general", "spam", "alice_bob"}
	if strings.Join(p.Rooms, ",") != strings.Join(want, ",") {
		t.Errorf("rooms = %v, want %v", p.Rooms, want)
	}
	if len(p.AllUsers) != 2 {
		t.Errorf("all users = %+v", p.AllUsers)
	}
}

func TestRESTProfileUpdateReachesLiveSessions(t *testing.T) {
	e := newTestEnv(t, 0)
	alice := e.register(t, "alice")
	bob := e.register(t, "bob")

	conn, _, err := e.dial(t, bob.Token)
	if err != nil {
		t.Fatal(err)
	}
	readUntil(t, conn, protocol.EventAuthSuccess)

	_, env := e.call(t, http.MethodPost, "/api/user/profile", alice.Token, UpdateProfileInput{
		Email:  "alice@example.com",
		Avatar: "https://img.example/alice.png",
	}, nil)
	if env.Code != 0 {
		t.Fatalf("update code = %d (%s)", env.Code, env.Message)
	}

	p, err := protocol.Decode[user.Profile](readUntil(t, conn, protocol.EventUserUpdated))
	if err != nil {
		t.Fatal(err)
	}
	if p.Username != "alice" || p.Avatar != "https://img.example/alice.png" {
		t.Errorf("user-updated = %+v", p)
	}

	_, env = e.call(t, http.MethodGet, "/api/user/profile", alice.Token, nil, nil)
	var account user.Account
	if err := json.Unmarshal(env.Data, &account); err != nil || account.Email != "alice@example.com" {
		t.Errorf("profile = %+v, %v", account, err)
	}
}

func TestPresignRequiresStorage(t *testing.T) {
	e := newTestEnv(t, 0)
	alice := e.register(t, "alice")

	res, env := e.call(t, http.MethodPost, "/api/user/avatar/presign", alice.Token, PresignUploadInput{
		FileName: "me.png", MimeType: "image/png", FileSize: 1024,
	}, nil)
	if env.Code != errs.ErrFileStorageFailed || res.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("code = %d status = %d", env.Code, res.StatusCode)
	}
}

func TestPresignRoomUploadAndDownload(t *testing.T) {
	e := newTestEnv(t, 0)
	fake := &fakeStorage{}
	e.deps.Storage = fake

	alice := e.register(t, "alice")
	carol := e.register(t, "carol")

	_, env := e.call(t, http.MethodPost, "/api/file/presign-upload", alice.Token, PresignUploadInput{
		Room: "alice_bob", FileName: "cat.JPG", MimeType: "image/jpeg", FileSize: 2048,
	}, nil)
	if env.Code != 0 {
		t.Fatalf("upload code = %d (%s)", env.Code, env.Message)
	}
	var out PresignUploadResult
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.FileKey, "rooms/alice_bob/") || !strings.HasSuffix(out.FileKey, ".jpg") {
		t.Errorf("file key = %q", out.FileKey)
	}

	_, env = e.call(t, http.MethodPost, "/api/file/presign-upload", carol.Token, PresignUploadInput{
		Room: "alice_bob", FileName: "cat.jpg", MimeType: "image/jpeg", FileSize: 2048,
	}, nil)
	if env.Code != errs.ErrRoomNotJoined {
		t.Errorf("outsider upload code = %d", env.Code)
	}

	res, _ := e.call(t, http.MethodGet, out.PublicURL, alice.Token, nil, nil)
	if res.StatusCode != http.StatusFound || !strings.Contains(res.Header.Get("Location"), "sig=down") {
		t.Errorf("download = %d %q", res.StatusCode, res.Header.Get("Location"))
	}

	_, env = e.call(t, http.MethodGet, out.PublicURL, carol.Token, nil, nil)
	if env.Code != errs.ErrUnauthorized {
		t.Errorf("outsider download code = %d", env.Code)
	}

	_, env = e.call(t, http.MethodPost, "/api/file/presign-upload", alice.Token, PresignUploadInput{
		Room: "general", FileName: "notes.txt", MimeType: "text/plain", FileSize: 10,
	}, nil)
	if env.Code != errs.ErrFileTypeInvalid {
		t.Errorf("text upload code = %d", env.Code)
	}
}

func TestCanAccessRoom(t *testing.T) {
	cases := []struct {
		user, room string
		want       bool
	}{
		{"alice", "general", true},
		{"alice", "spam", true},
		{"alice", "alice_bob", true},
		{"bob", "alice_bob", true},
		{"carol", "alice_bob", false},
		{"bob", "bob_alice", false},
		{"alice", "random", false},
	}

	for _, c := range cases {
		if got := canAccessRoom(c.user, c.room); got != c.want {
			t.Errorf("canAccessRoom(%q, %q) = %v, want %v", c.user, c.room, got, c.want)
		}
	}
}
