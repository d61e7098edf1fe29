package controller

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/ikkim/storecover-backend/config"
	"github.com/ikkim/storecover-backend/internal/app/model"
	"github.com/ikkim/storecover-backend/internal/app/service"
	apperrors "github.com/ikkim/storecover-backend/internal/errors"
	ws "github.com/ikkim/storecover-backend/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const roster = "codice;mq;nome\nS1;100;Alfa\nS2;500;Beta\n"

var testImportConfig = config.ImportConfig{
	MaxUploadBytes:    1024,
	AllowedExtensions: []string{".csv", ".xlsx"},
}

func setupImportControllerTest(t *testing.T, caller testCaller) (*gin.Engine, *testEnv, *ws.Hub) {
	env := setupControllerEnv(t)
	hub := ws.NewHub()
	ctrl := NewImportController(env.queue, hub, testImportConfig, []string{"http://localhost:5173"})

	router := newTestRouter(caller)
	router.POST("/imports", ctrl.UploadFile)
	router.GET("/imports", ctrl.ListJobs)
	router.GET("/imports/ws", ctrl.Events)
	router.GET("/imports/:id", ctrl.GetJob)
	router.DELETE("/imports/:id", ctrl.DeleteJob)
	return router, env, hub
}

func upload(t *testing.T, router *gin.Engine, filename, content string) *httptest.ResponseRecorder {
	t.Helper()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/imports", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestImportController_UploadRunsImport(t *testing.T) {
	router, env, _ := setupImportControllerTest(t, brokerCaller)

	done := make(chan service.JobEvent, 4)
	env.queue.Subscribe(func(ev service.JobEvent) {
		if ev.Type == service.JobEventCompleted || ev.Type == service.JobEventFailed {
			done <- ev
		}
	})
	env.queue.Start(context.Background())

	w := upload(t, router, "roster.csv", roster)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	job := decodeBody(t, w)["job"].(map[string]interface{})
	jobID := job["job_id"].(string)
	assert.Equal(t, "roster.csv", job["filename"])
	assert.Nil(t, job["content"])

	select {
	case ev := <-done:
		assert.Equal(t, service.JobEventCompleted, ev.Type)
		assert.Equal(t, jobID, ev.Job.JobID)
	case <-time.After(5 * time.Second):
		t.Fatal("import did not finish")
	}

	w = doJSON(t, router, http.MethodGet, "/imports/"+jobID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	fetched := decodeBody(t, w)["job"].(map[string]interface{})
	assert.Equal(t, string(model.ImportJobCompleted), fetched["status"])
	assert.Equal(t, float64(service.ProgressDone), fetched["progress"])

	w = doJSON(t, router, http.MethodGet, "/imports", nil)
	assert.Equal(t, float64(1), decodeBody(t, w)["count"])

	store, err := env.lifecycle.GetStore("S2")
	require.NoError(t, err)
	assert.Equal(t, model.StoreStatusActive, store.Status)
}

func TestImportController_UploadRejections(t *testing.T) {
	router, env, _ := setupImportControllerTest(t, brokerCaller)

	tests := []struct {
		name     string
		filename string
		content  string
		status   int
		code     string
	}{
		{"no file", "", "", http.StatusBadRequest, apperrors.ValidationRequired},
		{"wrong extension", "roster.txt", roster, http.StatusBadRequest, apperrors.UploadInvalidFileType},
		{"too large", "roster.csv", strings.Repeat("x", 2048), http.StatusRequestEntityTooLarge, apperrors.UploadFileTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := upload(t, router, tt.filename, tt.content)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decodeBody(t, w)["error"])
		})
	}

	jobs, err := env.queue.GetAllJobs()
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestImportController_StoreManagerCannotImport(t *testing.T) {
	manager := brokerCaller
	manager.role = model.RoleStoreManager
	router, _, _ := setupImportControllerTest(t, manager)

	w := upload(t, router, "roster.csv", roster)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, apperrors.AuthzForbidden, decodeBody(t, w)["error"])
}

func TestImportController_DeleteJob(t *testing.T) {
	router, _, _ := setupImportControllerTest(t, brokerCaller)

	// the worker is not started, so the job stays queued
	w := upload(t, router, "roster.csv", roster)
	require.Equal(t, http.StatusAccepted, w.Code)
	jobID := decodeBody(t, w)["job"].(map[string]interface{})["job_id"].(string)

	w = doJSON(t, router, http.MethodDelete, "/imports/"+jobID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/imports/"+jobID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, apperrors.ImportJobNotFound, decodeBody(t, w)["error"])

	w = doJSON(t, router, http.MethodDelete, "/imports/"+jobID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestImportController_EventsWebSocket(t *testing.T) {
	router, _, hub := setupImportControllerTest(t, brokerCaller)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/imports/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ConnectedClients() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Broadcast(service.JobEvent{
		Type: service.JobEventQueued,
		Job:  model.ImportJobView{JobID: "job-1", Filename: "roster.csv"},
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev service.JobEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, service.JobEventQueued, ev.Type)
	assert.Equal(t, "job-1", ev.Job.JobID)
}

func TestImportController_EventsRejectsUnknownOrigin(t *testing.T) {
	router, _, hub := setupImportControllerTest(t, brokerCaller)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/imports/ws"

	header := http.Header{}
	header.Set("Origin", "https://evil.example.com")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
