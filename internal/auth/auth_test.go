package auth

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"testing/synctest"
	"time"

	apperrors "github.com/BradyMeighan/WhoopGPT/internal/errors"
	"github.com/BradyMeighan/WhoopGPT/internal/kv"
	"github.com/BradyMeighan/WhoopGPT/internal/models"
	"github.com/BradyMeighan/WhoopGPT/internal/secret"
	"github.com/BradyMeighan/WhoopGPT/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAuthURL = "https://whoopgpt.example.com/auth"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCipher(t *testing.T) *secret.Cipher {
	t.Helper()
	c, err := secret.NewCipherFromSecret("test-encryption-key")
	require.NoError(t, err)
	return c
}

func testCredStore(t *testing.T) (*CredentialStore, *kv.Memory) {
	t.Helper()
	handles := kv.NewMemory()
	return NewCredentialStore(handles, testCipher(t), testLogger()), handles
}

func testSessions(t *testing.T) *session.Manager {
	t.Helper()
	return session.NewManager(kv.NewMemory(), []byte("test-session-key"), false, testLogger())
}

// fakeExchanger records calls and returns canned results.
type fakeExchanger struct {
	exchangeCode string
	refreshToken string
	cred         *models.Credential
	err          error
}

func (f *fakeExchanger) AuthorizeURL(state string) string {
	return "https://upstream.example.com/oauth/oauth2/auth?state=" + url.QueryEscape(state)
}

func (f *fakeExchanger) Exchange(_ context.Context, code string) (*models.Credential, error) {
	f.exchangeCode = code
	return f.cred, f.err
}

func (f *fakeExchanger) Refresh(_ context.Context, refreshToken string) (*models.Credential, error) {
	f.refreshToken = refreshToken
	return f.cred, f.err
}

func credential(access string) *models.Credential {
	return &models.Credential{
		AccessToken:  access,
		RefreshToken: "refresh-" + access,
		TokenType:    "bearer",
		ExpiresIn:    3600,
	}
}

// --- StateRegistry ---

func TestStateRegistry_SingleUse(t *testing.T) {
	r := NewStateRegistry(kv.NewMemory())
	token, err := r.Issue()
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9a-f]{32}$`, token)

	assert.True(t, r.Consume(token))
	assert.False(t, r.Consume(token), "second consume must fail")
}

func TestStateRegistry_UnknownAndEmpty(t *testing.T) {
	r := NewStateRegistry(kv.NewMemory())
	assert.False(t, r.Consume(""))
	assert.False(t, r.Consume("0123456789abcdef0123456789abcdef"))
}

func TestStateRegistry_TokensAreUnique(t *testing.T) {
	r := NewStateRegistry(kv.NewMemory())
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := r.Issue()
		require.NoError(t, err)
		assert.False(t, seen[token])
		seen[token] = true
	}
}

func TestStateRegistry_ExpiresWithoutSweep(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		r := NewStateRegistry(kv.NewMemory())
		fresh, err := r.Issue()
		require.NoError(t, err)
		stale, err := r.Issue()
		require.NoError(t, err)

		time.Sleep(csrfExpiry - time.Second)
		assert.True(t, r.Consume(fresh))

		time.Sleep(time.Second)
		assert.False(t, r.Consume(stale))
	})
}

// --- CredentialStore ---

func TestCredentialStore_HandleRoundTrip(t *testing.T) {
	cs, handles := testCredStore(t)
	in := credential("access-1")

	handle, err := cs.PutHandle(in)
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9a-f]{32}$`, handle)

	raw, err := handles.Get(handle)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "access-1", "credential must be sealed at rest")

	out, err := cs.GetByHandle(handle)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestCredentialStore_HandlesAreUnique(t *testing.T) {
	cs, _ := testCredStore(t)
	h1, err := cs.PutHandle(credential("a"))
	require.NoError(t, err)
	h2, err := cs.PutHandle(credential("a"))
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestCredentialStore_UnknownHandle(t *testing.T) {
	cs, _ := testCredStore(t)
	_, err := cs.GetByHandle("nope")
	assert.ErrorIs(t, err, apperrors.ErrNoCredential)

	_, err = cs.GetByHandle("")
	assert.ErrorIs(t, err, apperrors.ErrNoCredential)
}

func TestCredentialStore_HandleExpiresWithoutSweep(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		cs, _ := testCredStore(t)
		handle, err := cs.PutHandle(credential("a"))
		require.NoError(t, err)

		time.Sleep(HandleTTL - time.Minute)
		_, err = cs.GetByHandle(handle)
		require.NoError(t, err)

		time.Sleep(time.Minute)
		_, err = cs.GetByHandle(handle)
		assert.ErrorIs(t, err, apperrors.ErrNoCredential)
	})
}

func TestCredentialStore_ReplaceHandleRestartsRetention(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		cs, _ := testCredStore(t)
		handle, err := cs.PutHandle(credential("old"))
		require.NoError(t, err)

		time.Sleep(6 * 24 * time.Hour)
		require.NoError(t, cs.ReplaceHandle(handle, credential("new")))

		time.Sleep(3 * 24 * time.Hour)
		got, err := cs.GetByHandle(handle)
		require.NoError(t, err)
		assert.Equal(t, "new", got.AccessToken)
	})
}

func TestCredentialStore_CorruptHandleBlob(t *testing.T) {
	cs, handles := testCredStore(t)
	require.NoError(t, handles.Put("h", []byte("00:zz"), time.Now().Add(time.Hour)))

	_, err := cs.GetByHandle("h")
	assert.True(t, apperrors.IsDecryption(err))
}

func TestCredentialStore_DeleteHandle(t *testing.T) {
	cs, _ := testCredStore(t)
	handle, err := cs.PutHandle(credential("a"))
	require.NoError(t, err)
	require.NoError(t, cs.DeleteHandle(handle))

	_, err = cs.GetByHandle(handle)
	assert.ErrorIs(t, err, apperrors.ErrNoCredential)
}

func TestCredentialStore_SessionRoundTrip(t *testing.T) {
	cs, _ := testCredStore(t)
	sess := session.New()
	in := credential("sess-access")

	require.NoError(t, cs.PutSession(sess, in))
	assert.NotContains(t, sess.Get(sessionTokenKey), "sess-access")

	out, err := cs.GetSession(sess)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestCredentialStore_SessionMissingOrCorrupt(t *testing.T) {
	cs, _ := testCredStore(t)

	_, err := cs.GetSession(nil)
	assert.ErrorIs(t, err, apperrors.ErrNoCredential)

	sess := session.New()
	_, err = cs.GetSession(sess)
	assert.ErrorIs(t, err, apperrors.ErrNoCredential)

	sess.Set(sessionTokenKey, "garbage")
	_, err = cs.GetSession(sess)
	assert.True(t, apperrors.IsDecryption(err))
}

func TestCredentialStore_ResolvePrecedence(t *testing.T) {
	cs, _ := testCredStore(t)
	handle, err := cs.PutHandle(credential("from-handle"))
	require.NoError(t, err)

	sess := session.New()
	require.NoError(t, cs.PutSession(sess, credential("from-session")))

	cred, src, err := cs.Resolve(handle, sess)
	require.NoError(t, err)
	assert.Equal(t, SourceHandle, src)
	assert.Equal(t, "from-handle", cred.AccessToken)

	cred, src, err = cs.Resolve("", sess)
	require.NoError(t, err)
	assert.Equal(t, SourceSession, src)
	assert.Equal(t, "from-session", cred.AccessToken)

	cred, src, err = cs.Resolve("unknown-handle", sess)
	require.NoError(t, err)
	assert.Equal(t, SourceSession, src, "unresolvable handle falls back to session")
	assert.Equal(t, "from-session", cred.AccessToken)
}

func TestCredentialStore_ResolveNothing(t *testing.T) {
	cs, _ := testCredStore(t)

	_, src, err := cs.Resolve("", nil)
	assert.ErrorIs(t, err, apperrors.ErrNoCredential)
	assert.Equal(t, SourceNone, src)

	sess := session.New()
	sess.Set(sessionTokenKey, "corrupt")
	_, _, err = cs.Resolve("missing", sess)
	assert.ErrorIs(t, err, apperrors.ErrNoCredential)
}

func TestCredentialStore_ResolveRejectsEmptyAccessToken(t *testing.T) {
	cs, _ := testCredStore(t)
	handle, err := cs.PutHandle(&models.Credential{RefreshToken: "only-refresh"})
	require.NoError(t, err)

	_, _, err = cs.Resolve(handle, nil)
	assert.ErrorIs(t, err, apperrors.ErrNoCredential)
}

func TestSource_String(t *testing.T) {
	assert.Equal(t, "handle", SourceHandle.String())
	assert.Equal(t, "session", SourceSession.String())
	assert.Equal(t, "none", SourceNone.String())
}

// --- Gate ---

// gated wraps a handler that echoes the resolved access token and source.
func gated(cs *CredentialStore, sessions *session.Manager) http.Handler {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cred := RequestCredential(r.Context())
		_ = json.NewEncoder(w).Encode(map[string]string{
			"access_token": cred.AccessToken,
			"source":       RequestSource(r.Context()).String(),
			"handle":       RequestHandle(r.Context()),
		})
	})

	return sessions.Middleware(Gate(cs, testAuthURL, testLogger())(inner))
}

// sessionCookie saves a session holding cred and returns its cookie.
func sessionCookie(t *testing.T, cs *CredentialStore, sessions *session.Manager, cred *models.Credential) *http.Cookie {
	t.Helper()
	sess := session.New()
	require.NoError(t, cs.PutSession(sess, cred))
	rec := httptest.NewRecorder()
	require.NoError(t, sessions.Save(rec, sess))
	return rec.Result().Cookies()[0]
}

func decodeChallenge(t *testing.T, rec *httptest.ResponseRecorder) Challenge {
	t.Helper()
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var c Challenge
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	return c
}

func TestGate_NoCredential(t *testing.T) {
	cs, _ := testCredStore(t)
	h := gated(cs, testSessions(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/recovery", nil))

	c := decodeChallenge(t, rec)
	assert.Equal(t, "not authenticated", c.Error)
	assert.True(t, c.AuthRequired)
	assert.Equal(t, testAuthURL, c.AuthURL)
}

func TestGate_ExpiredHandleNoSession(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		cs, _ := testCredStore(t)
		handle, err := cs.PutHandle(credential("a"))
		require.NoError(t, err)
		time.Sleep(HandleTTL)

		rec := httptest.NewRecorder()
		gated(cs, testSessions(t)).ServeHTTP(rec, httptest.NewRequest("GET", "/api/recovery?token_id="+handle, nil))

		c := decodeChallenge(t, rec)
		assert.True(t, c.AuthRequired)
	})
}

func TestGate_ValidHandle(t *testing.T) {
	cs, _ := testCredStore(t)
	handle, err := cs.PutHandle(credential("handle-token"))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	gated(cs, testSessions(t)).ServeHTTP(rec, httptest.NewRequest("GET", "/api/recovery?token_id="+handle, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "handle-token", body["access_token"])
	assert.Equal(t, "handle", body["source"])
	assert.Equal(t, handle, body["handle"])
}

func TestGate_SessionCookie(t *testing.T) {
	cs, _ := testCredStore(t)
	sessions := testSessions(t)
	cookie := sessionCookie(t, cs, sessions, credential("session-token"))

	req := httptest.NewRequest("GET", "/api/sleep", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	gated(cs, sessions).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "session-token", body["access_token"])
	assert.Equal(t, "session", body["source"])
	assert.Equal(t, "", body["handle"])
}

func TestGate_HandleWinsOverSession(t *testing.T) {
	cs, _ := testCredStore(t)
	sessions := testSessions(t)
	cookie := sessionCookie(t, cs, sessions, credential("session-token"))
	handle, err := cs.PutHandle(credential("handle-token"))
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/sleep?token_id="+handle, nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	gated(cs, sessions).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "handle-token")
}

// --- HandleAuth ---

func TestHandleAuth_RedirectsWithState(t *testing.T) {
	states := NewStateRegistry(kv.NewMemory())
	h := HandleAuth(states, &fakeExchanger{}, testLogger())

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("GET", "/auth", nil))

	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)
	assert.True(t, states.Consume(state), "redirect state must be registered")
}

func TestHandleAuth_MethodNotAllowed(t *testing.T) {
	h := HandleAuth(NewStateRegistry(kv.NewMemory()), &fakeExchanger{}, testLogger())
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("POST", "/auth", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// --- HandleCallback ---

type callbackEnv struct {
	states   *StateRegistry
	creds    *CredentialStore
	sessions *session.Manager
	oauth    *fakeExchanger
	handler  http.Handler
}

func newCallbackEnv(t *testing.T) *callbackEnv {
	t.Helper()
	env := &callbackEnv{
		states:   NewStateRegistry(kv.NewMemory()),
		sessions: testSessions(t),
		oauth:    &fakeExchanger{cred: credential("fresh-access")},
	}
	env.creds, _ = testCredStore(t)
	env.handler = env.sessions.Middleware(HandleCallback(env.states, env.oauth, env.creds, env.sessions, testLogger()))
	return env
}

func TestHandleCallback_InvalidState(t *testing.T) {
	env := newCallbackEnv(t)

	for _, target := range []string{"/callback?code=abc", "/callback?code=abc&state=bogus"} {
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, httptest.NewRequest("GET", target, nil))
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Body.String(), "State validation failed")
	}
	assert.Empty(t, env.oauth.exchangeCode)
}

func TestHandleCallback_StateIsSingleUse(t *testing.T) {
	env := newCallbackEnv(t)
	state, err := env.states.Issue()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest("GET", "/callback?code=abc&state="+state, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest("GET", "/callback?code=abc&state="+state, nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleCallback_MissingCode(t *testing.T) {
	env := newCallbackEnv(t)
	state, err := env.states.Issue()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest("GET", "/callback?state="+state, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Authorization code is missing")
}

func TestHandleCallback_UpstreamDenied(t *testing.T) {
	env := newCallbackEnv(t)
	state, err := env.states.Issue()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest("GET", "/callback?error=access_denied&error_description=user+said+no&state="+state, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "user said no")
}

func TestHandleCallback_ExchangeFailureEscapesDetail(t *testing.T) {
	env := newCallbackEnv(t)
	env.oauth.cred = nil
	env.oauth.err = &apperrors.UpstreamAuthError{Status: 400, Body: `<script>alert("x")</script>`}
	state, err := env.states.Issue()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest("GET", "/callback?code=abc&state="+state, nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Error obtaining access token")
	assert.NotContains(t, rec.Body.String(), "<script>")
	assert.Contains(t, rec.Body.String(), "&lt;script&gt;")
	assert.Empty(t, rec.Result().Cookies())
}

func TestHandleCallback_Success(t *testing.T) {
	env := newCallbackEnv(t)
	state, err := env.states.Issue()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest("GET", "/callback?code=the-code&state="+state, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "the-code", env.oauth.exchangeCode)
	assert.Contains(t, rec.Body.String(), "Successfully connected to WHOOP!")

	// The page shows a handle that resolves to the credential.
	m := regexp.MustCompile(`<code>([0-9a-f]{32})</code>`).FindStringSubmatch(rec.Body.String())
	require.Len(t, m, 2)
	cred, err := env.creds.GetByHandle(m[1])
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", cred.AccessToken)

	// The session cookie resolves to the same credential.
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, session.CookieName, cookies[0].Name)

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(cookies[0])
	sessCred, err := env.creds.GetSession(env.sessions.Load(req))
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", sessCred.AccessToken)
}

// --- HandleRefresh ---

func refreshRequest(ctx context.Context, target string) *http.Request {
	return httptest.NewRequest("POST", target, nil).WithContext(ctx)
}

func TestHandleRefresh_HandleSource(t *testing.T) {
	cs, _ := testCredStore(t)
	handle, err := cs.PutHandle(credential("old"))
	require.NoError(t, err)

	oauth := &fakeExchanger{cred: &models.Credential{AccessToken: "new", ExpiresIn: 7200}}
	h := HandleRefresh(oauth, cs, testSessions(t), testAuthURL, testLogger())

	ctx := WithCredential(t.Context(), credential("old"), SourceHandle, handle)
	rec := httptest.NewRecorder()
	h(rec, refreshRequest(ctx, "/refresh?token_id="+handle))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "refresh-old", oauth.refreshToken)

	var resp refreshResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, handle, resp.TokenID)
	assert.Equal(t, int64(7200), resp.ExpiresIn)

	got, err := cs.GetByHandle(handle)
	require.NoError(t, err)
	assert.Equal(t, "new", got.AccessToken)
	assert.Equal(t, "refresh-old", got.RefreshToken, "refresh token carried over when upstream omits it")
}

func TestHandleRefresh_SessionSource(t *testing.T) {
	cs, _ := testCredStore(t)
	sessions := testSessions(t)
	sess := session.New()
	require.NoError(t, cs.PutSession(sess, credential("old")))

	oauth := &fakeExchanger{cred: credential("new")}
	h := HandleRefresh(oauth, cs, sessions, testAuthURL, testLogger())

	ctx := session.NewContext(t.Context(), sess)
	ctx = WithCredential(ctx, credential("old"), SourceSession, "")
	rec := httptest.NewRecorder()
	h(rec, refreshRequest(ctx, "/refresh"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "token_id")
	require.Len(t, rec.Result().Cookies(), 1)

	got, err := cs.GetSession(sess)
	require.NoError(t, err)
	assert.Equal(t, "new", got.AccessToken)
}

func TestHandleRefresh_NoRefreshToken(t *testing.T) {
	cs, _ := testCredStore(t)
	h := HandleRefresh(&fakeExchanger{}, cs, testSessions(t), testAuthURL, testLogger())

	ctx := WithCredential(t.Context(), &models.Credential{AccessToken: "a"}, SourceSession, "")
	rec := httptest.NewRecorder()
	h(rec, refreshRequest(ctx, "/refresh"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRefresh_UpstreamRejects(t *testing.T) {
	cs, _ := testCredStore(t)
	oauth := &fakeExchanger{err: &apperrors.UpstreamAuthError{Status: 400, Body: `{"error":"invalid_grant"}`}}
	h := HandleRefresh(oauth, cs, testSessions(t), testAuthURL, testLogger())

	ctx := WithCredential(t.Context(), credential("a"), SourceSession, "")
	rec := httptest.NewRecorder()
	h(rec, refreshRequest(ctx, "/refresh"))

	c := decodeChallenge(t, rec)
	assert.Equal(t, "authentication error", c.Error)
}

func TestHandleRefresh_UpstreamUnavailable(t *testing.T) {
	cs, _ := testCredStore(t)
	oauth := &fakeExchanger{err: &apperrors.UpstreamAuthError{Status: 503, Body: "down"}}
	h := HandleRefresh(oauth, cs, testSessions(t), testAuthURL, testLogger())

	ctx := WithCredential(t.Context(), credential("a"), SourceSession, "")
	rec := httptest.NewRecorder()
	h(rec, refreshRequest(ctx, "/refresh"))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotContains(t, rec.Body.String(), "down")
}

func TestHandleRefresh_NotGated(t *testing.T) {
	cs, _ := testCredStore(t)
	h := HandleRefresh(&fakeExchanger{}, cs, testSessions(t), testAuthURL, testLogger())

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("POST", "/refresh", nil))
	decodeChallenge(t, rec)

	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest("GET", "/refresh", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// --- HandleLogout ---

func TestHandleLogout(t *testing.T) {
	cs, _ := testCredStore(t)
	sessions := testSessions(t)
	cookie := sessionCookie(t, cs, sessions, credential("s"))
	handle, err := cs.PutHandle(credential("h"))
	require.NoError(t, err)

	h := sessions.Middleware(HandleLogout(cs, sessions, testLogger()))
	req := httptest.NewRequest("GET", "/logout?token_id="+handle, nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Logged out successfully", rec.Body.String())

	_, err = cs.GetByHandle(handle)
	assert.ErrorIs(t, err, apperrors.ErrNoCredential)

	// The old cookie no longer resolves.
	req = httptest.NewRequest("GET", "/", nil)
	req.AddCookie(cookie)
	_, err = cs.GetSession(sessions.Load(req))
	assert.ErrorIs(t, err, apperrors.ErrNoCredential)

	cleared := rec.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.True(t, strings.EqualFold(cleared[0].Name, session.CookieName))
}

func TestHandleLogout_NoSession(t *testing.T) {
	cs, _ := testCredStore(t)
	sessions := testSessions(t)
	h := sessions.Middleware(HandleLogout(cs, sessions, testLogger()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/logout", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
}
