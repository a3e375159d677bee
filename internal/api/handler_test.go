//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluia/leadmagnet/internal/domain"
	"github.com/fluia/leadmagnet/internal/identity"
	"github.com/fluia/leadmagnet/internal/script"
	"github.com/fluia/leadmagnet/internal/session"
	"github.com/fluia/leadmagnet/internal/store"
	"github.com/fluia/leadmagnet/internal/validation"
	"github.com/fluia/leadmagnet/internal/webhook"
)

const testDoc = `
first_key: empresa_actividad
keys:
  q01: empresa_actividad
  q02: email_contacto
questions:
  - id: q01
    text: "¿A qué os dedicáis?"
    input: {type: textarea, required: true}
  - id: q02
    text: "¿A qué email te escribimos?"
    input: {type: email, required: true}
`

type remoteFunc func(ctx context.Context, p domain.WebhookPayload) (domain.Reply, error)

func (f remoteFunc) Send(ctx context.Context, p domain.WebhookPayload) (domain.Reply, error) {
	return f(ctx, p)
}

func emailQuestion() domain.Reply {
	return domain.Reply{Kind: domain.ReplyAdvance, Next: &domain.Question{
		ID:    "q02",
		Text:  "¿A qué email te escribimos?",
		Input: domain.Input{Type: domain.InputEmail, Required: true},
	}}
}

type fixture struct {
	srv   *httptest.Server
	mgr   *session.Manager
	repo  *store.MemoryStore
	calls atomic.Int32
}

func newFixture(t *testing.T, variant session.Variant, remote session.Remote) *fixture {
	t.Helper()
	sc, err := script.Parse([]byte(testDoc))
	require.NoError(t, err)

	f := &fixture{repo: store.NewMemory(store.Options{})}
	counting := remoteFunc(func(ctx context.Context, p domain.WebhookPayload) (domain.Reply, error) {
		f.calls.Add(1)
		return remote.Send(ctx, p)
	})
	f.mgr, err = session.NewManager(session.Options{
		Variant: variant,
		Script:  sc,
		Remote:  counting,
		Store:   f.repo,
	})
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(identity.Middleware())
	NewHandler(f.mgr, f.repo, Config{}, nil).RegisterRoutes(r, nil)
	f.srv = httptest.NewServer(r)
	t.Cleanup(func() {
		f.srv.Close()
		f.mgr.Close()
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any, header ...string) (*http.Response, sessionResponse) {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(data))
	} else {
		reader = strings.NewReader("")
	}
	req, err := http.NewRequest(method, f.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out sessionResponse
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (f *fixture) create(t *testing.T) string {
	t.Helper()
	resp, out := f.do(t, http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, out.Session.SessionID)
	return out.Session.SessionID
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err         error
		status      int
		withSession bool
	}{
		{&validation.Error{Message: "invalid"}, http.StatusUnprocessableEntity, true},
		{session.ErrNotFound, http.StatusNotFound, false},
		{session.ErrBusy, http.StatusConflict, false},
		{session.ErrNotStarted, http.StatusConflict, false},
		{fmt.Errorf("submit: %w", webhook.ErrTransport), http.StatusBadGateway, true},
		{fmt.Errorf("submit: %w", webhook.ErrTimeout), http.StatusBadGateway, true},
		{fmt.Errorf("submit: %w", webhook.ErrProtocol), http.StatusBadGateway, true},
		{context.Canceled, statusClientClosedRequest, false},
		{errors.New("boom"), http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, withSession := statusFor(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.withSession, withSession)
		})
	}
}

func TestCreateSetsCookie(t *testing.T) {
	f := newFixture(t, session.VariantScripted, remoteFunc(nil))

	resp, out := f.do(t, http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	assert.Equal(t, 0, out.Session.Step)
	assert.False(t, out.Session.HasStarted)
	assert.Equal(t, "q01", out.Session.CurrentQuestion.ID)
	assert.Equal(t, "scripted", out.Variant)
	assert.Nil(t, out.Completion)

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == identity.SessionCookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, out.Session.SessionID, cookie.Value)
}

func TestCurrent(t *testing.T) {
	f := newFixture(t, session.VariantScripted, remoteFunc(nil))
	id := f.create(t)

	resp, out := f.do(t, http.MethodGet, "/api/sessions/current", nil, identity.SessionHeaderName, id)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, out.Session.SessionID)

	resp, out = f.do(t, http.MethodGet, "/api/sessions/current", nil, identity.SessionHeaderName, "gone")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEqual(t, "gone", out.Session.SessionID)

	resp, _ = f.do(t, http.MethodGet, "/api/sessions/current", nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestScriptedFlowToCompletion(t *testing.T) {
	f := newFixture(t, session.VariantScripted, remoteFunc(func(context.Context, domain.WebhookPayload) (domain.Reply, error) {
		return emailQuestion(), nil
	}))
	id := f.create(t)
	base := "/api/sessions/" + id

	resp, _ := f.do(t, http.MethodPost, base+"/answer", map[string]any{"answer": "Acme"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "answer before start")

	resp, out := f.do(t, http.MethodPost, base+"/privacy", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, out.Session.PrivacyAccepted)

	resp, out = f.do(t, http.MethodPost, base+"/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, out.Session.HasStarted)
	assert.Equal(t, 50, out.Session.Progress)

	resp, out = f.do(t, http.MethodPost, base+"/answer", map[string]any{"answer": "  "})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "Este campo es obligatorio", out.Session.Error)
	assert.Zero(t, f.calls.Load())

	resp, out = f.do(t, http.MethodDelete, base+"/error", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, out.Session.Error)

	resp, out = f.do(t, http.MethodPost, base+"/answer", map[string]any{"answer": "Acme"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, out.Session.Step)
	assert.Equal(t, "q02", out.Session.CurrentQuestion.ID)

	resp, out = f.do(t, http.MethodPost, base+"/answer", map[string]any{"answer": "not-an-email"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "Por favor, introduce un email válido", out.Session.Error)

	resp, out = f.do(t, http.MethodPost, base+"/answer", map[string]any{"answer": "ana@acme.es"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, out.Session.IsFinished)
	assert.Equal(t, 100, out.Session.Progress)
	require.NotNil(t, out.Completion)
	assert.Equal(t, Completion{Company: "Acme", Email: "ana@acme.es"}, *out.Completion)

	resp, _ = f.do(t, http.MethodPost, base+"/answer", map[string]any{"answer": "again"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "answer after finish")
}

func TestGoBack(t *testing.T) {
	f := newFixture(t, session.VariantScripted, remoteFunc(func(context.Context, domain.WebhookPayload) (domain.Reply, error) {
		return emailQuestion(), nil
	}))
	id := f.create(t)
	base := "/api/sessions/" + id

	f.do(t, http.MethodPost, base+"/start", nil)
	resp, out := f.do(t, http.MethodPost, base+"/back", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, out.Session.Step)

	f.do(t, http.MethodPost, base+"/answer", map[string]any{"answer": "Acme"})
	resp, out = f.do(t, http.MethodPost, base+"/back", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, out.Session.Step)
	assert.Equal(t, "q01", out.Session.CurrentQuestion.ID)
}

func TestServerVariantStallIsBadGateway(t *testing.T) {
	f := newFixture(t, session.VariantServer, remoteFunc(func(context.Context, domain.WebhookPayload) (domain.Reply, error) {
		return domain.Reply{}, fmt.Errorf("post: %w", webhook.ErrTransport)
	}))
	id := f.create(t)
	base := "/api/sessions/" + id
	f.do(t, http.MethodPost, base+"/start", nil)

	resp, out := f.do(t, http.MethodPost, base+"/answer", map[string]any{"answer": "Acme"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, 1, out.Session.Step)
	assert.False(t, out.Session.IsLoading)
	assert.NotEmpty(t, out.Session.Error)
	assert.NotEmpty(t, out.Error)
}

func TestAnswerRequestValidation(t *testing.T) {
	f := newFixture(t, session.VariantScripted, remoteFunc(nil))
	id := f.create(t)

	resp, _ := f.do(t, http.MethodPost, "/api/sessions/"+id+"/answer", map[string]any{"other": 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/api/sessions/"+id+"/answer", strings.NewReader("{"))
	require.NoError(t, err)
	raw, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestUnknownAndInvalidIDs(t *testing.T) {
	f := newFixture(t, session.VariantScripted, remoteFunc(nil))

	resp, _ := f.do(t, http.MethodGet, "/api/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/sessions/bad.id/start", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestResetAndList(t *testing.T) {
	f := newFixture(t, session.VariantScripted, remoteFunc(nil))
	id := f.create(t)

	resp, out := f.do(t, http.MethodPost, "/api/sessions/"+id+"/reset", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	newID := out.Session.SessionID
	assert.NotEqual(t, id, newID)

	resp, _ = f.do(t, http.MethodGet, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, out = f.do(t, http.MethodGet, "/api/sessions/"+newID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, newID, out.Session.SessionID)

	listResp, err := f.srv.Client().Get(f.srv.URL + "/api/sessions")
	require.NoError(t, err)
	defer listResp.Body.Close()
	var list struct {
		Sessions []string `json:"sessions"`
		Live     int      `json:"live"`
	}
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&list))
	assert.Equal(t, []string{newID}, list.Sessions)
	assert.Equal(t, 1, list.Live)
}

func TestRestoresFromStoreAfterEviction(t *testing.T) {
	f := newFixture(t, session.VariantScripted, remoteFunc(nil))
	id := f.create(t)
	f.do(t, http.MethodPost, "/api/sessions/"+id+"/start", nil)

	require.True(t, f.mgr.Evict(id))

	resp, out := f.do(t, http.MethodGet, "/api/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, out.Session.HasStarted)
}

func TestWatchStreamsSnapshots(t *testing.T) {
	f := newFixture(t, session.VariantScripted, remoteFunc(nil))
	id := f.create(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/sessions/" + id + "/watch"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var first sessionResponse
	require.NoError(t, wsjson.Read(ctx, conn, &first))
	assert.Equal(t, id, first.Session.SessionID)
	assert.False(t, first.Session.PrivacyAccepted)

	f.do(t, http.MethodPost, "/api/sessions/"+id+"/privacy", nil)

	var next sessionResponse
	require.NoError(t, wsjson.Read(ctx, conn, &next))
	assert.True(t, next.Session.PrivacyAccepted)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
}
