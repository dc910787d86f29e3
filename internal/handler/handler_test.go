package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/stylist-engine/internal/llm"
	"github.com/capitalize-ai/stylist-engine/internal/middleware"
	"github.com/capitalize-ai/stylist-engine/internal/model"
	"github.com/capitalize-ai/stylist-engine/internal/pipeline"
	"github.com/capitalize-ai/stylist-engine/internal/profile"
	"github.com/capitalize-ai/stylist-engine/internal/service"
	"github.com/capitalize-ai/stylist-engine/internal/session"
	"github.com/capitalize-ai/stylist-engine/internal/store/memory"
	"github.com/capitalize-ai/stylist-engine/pkg/logger"
)

type gatedAssistant struct {
	gate chan struct{}
}

func (a *gatedAssistant) Stream(ctx context.Context, req llm.AssistantRequest, onToken llm.StreamCallback) (*llm.CompletionResponse, error) {
	if a.gate != nil {
		<-a.gate
	}
	_ = onToken("Happy to help!", 0)
	return &llm.CompletionResponse{Content: "Happy to help!"}, nil
}

type noopRunner struct{}

func (noopRunner) Run(ctx context.Context, req pipeline.Request, obs pipeline.Observer) pipeline.Outcome {
	return pipeline.Outcome{Run: model.PipelineRun{Phase: model.PhaseFailed}}
}

type fixture struct {
	svc    *service.SessionService
	router http.Handler
}

func newFixture(t *testing.T, assistant session.Assistant) *fixture {
	t.Helper()
	log := logger.NewNop()

	svc := service.NewSessionService(
		profile.NewStore(model.UserProfile{UserID: "user-1", Name: "Maya"}),
		session.Dependencies{
			Threads:   memory.NewThreadStore(),
			Assistant: assistant,
			Pipeline:  noopRunner{},
		},
		log,
	)
	t.Cleanup(svc.Shutdown)

	sessions := NewSessionHandler(svc, log)
	messages := NewMessageHandler(svc, log)
	stream := NewStreamHandler(svc, log)
	stream.heartbeat = 50 * time.Millisecond

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenant := r.Header.Get("X-Test-Tenant")
			if tenant == "" {
				tenant = "tenant-a"
			}
			next.ServeHTTP(w, r.WithContext(middleware.WithIdentity(r.Context(), tenant, "user-1")))
		})
	})
	r.Post("/api/v1/sessions", sessions.Create)
	r.Route("/api/v1/sessions/{id}", func(r chi.Router) {
		r.Get("/", sessions.Get)
		r.Delete("/", sessions.Delete)
		r.Post("/new", sessions.StartNew)
		r.Get("/timeline", sessions.Timeline)
		r.Post("/messages", messages.Submit)
		r.Get("/stream", stream.Stream)
	})
	r.Get("/api/v1/admin/sessions", sessions.Stats)

	return &fixture{svc: svc, router: r}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) createSession(t *testing.T) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/sessions", "")
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp model.CreateSessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, model.StateIdle, resp.State.State)
	assert.Equal(t, "/api/v1/sessions/"+resp.Session.ID, rec.Header().Get("Location"))
	return resp.Session.ID
}

func TestSessionHandler_Lifecycle(t *testing.T) {
	f := newFixture(t, &gatedAssistant{})
	id := f.createSession(t)

	rec := f.do(t, http.MethodGet, "/api/v1/sessions/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/timeline", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var timeline model.TimelineResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&timeline))
	require.Len(t, timeline.Messages, 1)
	assert.Contains(t, timeline.Messages[0].Content, "Hi Maya!")

	rec = f.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/new", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/v1/sessions/"+id, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionHandler_Stats(t *testing.T) {
	f := newFixture(t, &gatedAssistant{})
	f.createSession(t)
	f.createSession(t)

	rec := f.do(t, http.MethodGet, "/api/v1/admin/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats SessionStats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, 2, stats.Active)
}

func TestSessionHandler_InvalidAndForeignIDs(t *testing.T) {
	f := newFixture(t, &gatedAssistant{})
	id := f.createSession(t)

	rec := f.do(t, http.MethodGet, "/api/v1/sessions/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/sessions/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+id, nil)
	req.Header.Set("X-Test-Tenant", "tenant-b")
	out := httptest.NewRecorder()
	f.router.ServeHTTP(out, req)
	assert.Equal(t, http.StatusNotFound, out.Code)
}

func TestMessageHandler_Submit(t *testing.T) {
	assistant := &gatedAssistant{gate: make(chan struct{})}
	f := newFixture(t, assistant)
	id := f.createSession(t)
	path := "/api/v1/sessions/" + id + "/messages"

	rec := f.do(t, http.MethodPost, path, `{"content":"what should I wear tonight?"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var accepted SubmitResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&accepted))
	assert.Equal(t, model.StateAwaitingReply, accepted.State.State)

	rec = f.do(t, http.MethodPost, path, `{"content":"hello?"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	var busy SubmitResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&busy))
	assert.Equal(t, session.ErrBusy.Error(), busy.Error)

	close(assistant.gate)
	sess, err := f.svc.Get(context.Background(), "tenant-a", id)
	require.NoError(t, err)
	sess.Wait()

	rec = f.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/timeline", "")
	var timeline model.TimelineResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&timeline))
	assert.Equal(t, model.StateIdle, timeline.State.State)
	require.Len(t, timeline.Messages, 2)
	assert.Equal(t, "Happy to help!", timeline.Messages[1].Content)
}

func TestMessageHandler_BadRequests(t *testing.T) {
	f := newFixture(t, &gatedAssistant{})
	id := f.createSession(t)
	path := "/api/v1/sessions/" + id + "/messages"

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, path, `{"content":"   "}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, path, `not json`).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/v1/sessions/"+uuid.NewString()+"/messages", `{"content":"hi"}`).Code)
}

func readEvent(t *testing.T, sc *bufio.Scanner) (string, string) {
	t.Helper()
	var event, data string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && event != "":
			return event, data
		}
	}
	require.NoError(t, sc.Err())
	t.Fatal("stream ended")
	return "", ""
}

func TestStreamHandler_SnapshotsAndHeartbeat(t *testing.T) {
	f := newFixture(t, &gatedAssistant{})
	id := f.createSession(t)

	srv := httptest.NewServer(f.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/sessions/"+id+"/stream", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	sc := bufio.NewScanner(resp.Body)

	event, data := readEvent(t, sc)
	require.Equal(t, "snapshot", event)
	var snap model.TimelineResponse
	require.NoError(t, json.Unmarshal([]byte(data), &snap))
	assert.Equal(t, id, snap.State.SessionID)

	rec := f.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/messages", `{"content":"hi"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	sawUser := false
	for i := 0; i < 20 && !sawUser; i++ {
		event, data = readEvent(t, sc)
		if event != "snapshot" {
			continue
		}
		require.NoError(t, json.Unmarshal([]byte(data), &snap))
		for _, m := range snap.Messages {
			if m.Role == model.RoleUser && m.Content == "hi" {
				sawUser = true
			}
		}
	}
	assert.True(t, sawUser)

	sawHeartbeat := false
	for i := 0; i < 20 && !sawHeartbeat; i++ {
		event, _ = readEvent(t, sc)
		sawHeartbeat = event == "heartbeat"
	}
	assert.True(t, sawHeartbeat)
}

func TestHealthHandler(t *testing.T) {
	h := NewHealthHandler(nil)

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	NewHealthHandler(downChecker{}).Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type downChecker struct{}

func (downChecker) IsConnected() bool { return false }
