package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gitblog/internal/codec"
	"gitblog/internal/http/middleware"
	"gitblog/internal/logging"
	"gitblog/internal/model"
	"gitblog/internal/service"
	serviceMocks "gitblog/internal/service/mocks"
	"gitblog/internal/storage"
	storeMocks "gitblog/internal/storage/mocks"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, resp *http.Response) errorPayload {
	t.Helper()
	var body errorPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

// multipartBody builds a multipart request body from text fields and named file parts.
func multipartBody(t *testing.T, fields map[string]string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	for name, content := range files {
		part, err := writer.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name       string
		listErr    error
		wantStatus int
	}{
		{name: "healthy", wantStatus: http.StatusOK},
		{name: "posts directory not created yet", listErr: storage.ErrNotFound, wantStatus: http.StatusOK},
		{name: "store unreachable", listErr: errors.New("dial tcp: timeout"), wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mStore := new(storeMocks.MockStorage)
			mStore.On("List", mock.Anything, "posts").Return(nil, tt.listErr).Once()

			app := fiber.New()
			app.Get("/health", HealthCheck(mStore))

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			if tt.wantStatus == http.StatusOK {
				var body map[string]string
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.Equal(t, "healthy", body["status"])
			} else {
				assert.Equal(t, "SERVICE_UNAVAILABLE", decodeError(t, resp).Code)
			}
			mStore.AssertExpectations(t)
		})
	}
}

func TestLivenessProbe(t *testing.T) {
	app := fiber.New()
	app.Get("/healthz", LivenessProbe())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListPosts(t *testing.T) {
	mockSvc := new(serviceMocks.MockPostService)
	app := fiber.New()
	app.Get("/posts", ListPosts(mockSvc, logging.Nop()))

	t.Run("success", func(t *testing.T) {
		created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
		mockSvc.On("List", mock.Anything).Return([]model.Post{
			{ID: "p1", Title: "Hello", CreatedAt: created, Files: []model.AttachedFile{}, ContentFiles: []model.MediaRecord{}},
		}, nil).Once()

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/posts", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var result listPostsResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		assert.True(t, result.Success)
		require.Len(t, result.Data, 1)
		assert.Equal(t, "Hello", result.Data[0].Title)
		mockSvc.AssertExpectations(t)
	})

	t.Run("empty store lists an empty array", func(t *testing.T) {
		mockSvc.On("List", mock.Anything).Return([]model.Post{}, nil).Once()

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/posts", nil))
		require.NoError(t, err)
		raw, _ := io.ReadAll(resp.Body)
		assert.JSONEq(t, `{"success":true,"data":[]}`, string(raw))
	})

	t.Run("service error", func(t *testing.T) {
		mockSvc.On("List", mock.Anything).Return(nil, errors.New("rate limited")).Once()

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/posts", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

		body := decodeError(t, resp)
		assert.False(t, body.Success)
		assert.Equal(t, "INTERNAL_ERROR", body.Code)
		assert.Equal(t, "internal server error", body.Error)
		mockSvc.AssertExpectations(t)
	})
}

func TestGetPost(t *testing.T) {
	mockSvc := new(serviceMocks.MockPostService)
	app := fiber.New()
	app.Get("/posts/:id", GetPost(mockSvc, logging.Nop()))

	t.Run("success", func(t *testing.T) {
		mockSvc.On("Get", mock.Anything, "p1").Return(&model.Post{ID: "p1", Title: "Hello"}, nil).Once()

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/posts/p1", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var result postResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		assert.Equal(t, "p1", result.Data.ID)
		mockSvc.AssertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		mockSvc.On("Get", mock.Anything, "gone").Return(nil, fmt.Errorf("%w: gone", service.ErrNotFound)).Once()

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/posts/gone", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "NOT_FOUND", decodeError(t, resp).Code)
		mockSvc.AssertExpectations(t)
	})
}

func TestGetPostDocument(t *testing.T) {
	mockSvc := new(serviceMocks.MockPostService)
	app := fiber.New()
	app.Get("/posts/:id/document", GetPostDocument(mockSvc, logging.Nop()))

	post := &model.Post{
		ID:      "p1",
		Content: `hello <img src="https://raw.example.com/content/a.png"/>`,
		ContentFiles: []model.MediaRecord{
			{ID: "A", Name: "a.png", URL: "https://raw.example.com/content/a.png", Type: model.MediaImage, Status: model.StatusUploaded},
		},
	}
	mockSvc.On("Get", mock.Anything, "p1").Return(post, nil).Once()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/posts/p1/document", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	want, err := json.Marshal(documentResponse{Success: true, Data: codec.Decode(post.Content, post.ContentFiles)})
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, string(want), string(raw))
	mockSvc.AssertExpectations(t)
}

func TestCreatePost(t *testing.T) {
	mockSvc := new(serviceMocks.MockPostService)
	app := fiber.New()
	app.Post("/posts", CreatePost(mockSvc, logging.Nop()))

	t.Run("success", func(t *testing.T) {
		body, ct := multipartBody(t, map[string]string{
			"title":        "Hello",
			"content":      `<img src="X"/>hi`,
			"contentFiles": `[{"id":"X","name":"a.png","url":"data:image/png;base64,cG5n","type":"image","status":"DRAFT"}]`,
		}, map[string]string{"cover.jpg": "jpeg-bytes"})

		mockSvc.On("Create", mock.Anything, mock.MatchedBy(func(in service.CreatePostInput) bool {
			return in.Title == "Hello" &&
				in.Content == `<img src="X"/>hi` &&
				len(in.Files) == 1 && in.Files[0].Name == "cover.jpg" && string(in.Files[0].Data) == "jpeg-bytes" &&
				len(in.ContentFiles) == 1 && in.ContentFiles[0].ID == "X" && in.ContentFiles[0].Status == model.StatusDraft
		})).Return(&service.CreatePostResult{PostID: "p1", Filename: "p1.json"}, nil).Once()

		req := httptest.NewRequest(http.MethodPost, "/posts", body)
		req.Header.Set("Content-Type", ct)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)

		raw, _ := io.ReadAll(resp.Body)
		assert.JSONEq(t, `{"success":true,"filename":"p1.json","postId":"p1"}`, string(raw))
		mockSvc.AssertExpectations(t)
	})

	t.Run("document is encoded when content is empty", func(t *testing.T) {
		doc := codec.Document{Content: []codec.Node{
			{Type: codec.NodeParagraph, Content: []codec.Node{{Type: codec.NodeText, Text: "from editor"}}},
			{Type: codec.NodeImage, ID: "Y"},
		}}
		rawDoc, err := json.Marshal(doc)
		require.NoError(t, err)
		body, ct := multipartBody(t, map[string]string{"title": "Doc", "document": string(rawDoc)}, nil)

		mockSvc.On("Create", mock.Anything, mock.MatchedBy(func(in service.CreatePostInput) bool {
			return in.Title == "Doc" && in.Content == codec.Encode(doc)
		})).Return(&service.CreatePostResult{PostID: "p2", Filename: "p2.json"}, nil).Once()

		req := httptest.NewRequest(http.MethodPost, "/posts", body)
		req.Header.Set("Content-Type", ct)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})

	t.Run("malformed contentFiles", func(t *testing.T) {
		body, ct := multipartBody(t, map[string]string{"title": "t", "content": "c", "contentFiles": "[{"}, nil)

		req := httptest.NewRequest(http.MethodPost, "/posts", body)
		req.Header.Set("Content-Type", ct)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "INVALID_CONTENT_FILES", decodeError(t, resp).Code)
	})

	t.Run("missing title is rejected before the service", func(t *testing.T) {
		body, ct := multipartBody(t, map[string]string{"content": "c"}, nil)

		req := httptest.NewRequest(http.MethodPost, "/posts", body)
		req.Header.Set("Content-Type", ct)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		res := decodeError(t, resp)
		assert.Equal(t, "VALIDATION_ERROR", res.Code)
		assert.Contains(t, res.Error, "title required")
	})

	t.Run("service validation error", func(t *testing.T) {
		body, ct := multipartBody(t, map[string]string{
			"title":        "t",
			"content":      `<img src="X"/>`,
			"contentFiles": `[{"id":"X","name":"a.png","url":"data:image/png;base64,%%%"}]`,
		}, nil)
		mockSvc.On("Create", mock.Anything, mock.MatchedBy(func(in service.CreatePostInput) bool {
			return in.Title == "t"
		})).Return(nil, fmt.Errorf("%w: contentFiles[0]: invalid base64 payload", service.ErrValidation)).Once()

		req := httptest.NewRequest(http.MethodPost, "/posts", body)
		req.Header.Set("Content-Type", ct)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		res := decodeError(t, resp)
		assert.Equal(t, "VALIDATION_ERROR", res.Code)
		assert.Contains(t, res.Error, "invalid base64 payload")
		mockSvc.AssertExpectations(t)
	})

	t.Run("urlencoded form without files", func(t *testing.T) {
		mockSvc.On("Create", mock.Anything, mock.MatchedBy(func(in service.CreatePostInput) bool {
			return in.Title == "plain" && in.Content == "text" && len(in.Files) == 0
		})).Return(&service.CreatePostResult{PostID: "p3", Filename: "p3.json"}, nil).Once()

		req := httptest.NewRequest(http.MethodPost, "/posts", strings.NewReader("title=plain&content=text"))
		req.Header.Set("Content-Type", fiber.MIMEApplicationForm)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})
}

func TestUpdatePost(t *testing.T) {
	mockSvc := new(serviceMocks.MockPostService)
	app := fiber.New()
	app.Put("/posts/:id", UpdatePost(mockSvc, logging.Nop()))

	t.Run("success", func(t *testing.T) {
		body, ct := multipartBody(t, map[string]string{
			"title":         "t2",
			"content":       "c2",
			"filesToDelete": `[{"id":"f1","name":"a.png","url":"https://raw.example.com/images/f1.png"}]`,
		}, nil)
		mockSvc.On("Update", mock.Anything, mock.MatchedBy(func(in service.UpdatePostInput) bool {
			return in.ID == "p1" && in.Title == "t2" &&
				len(in.FilesToDelete) == 1 && in.FilesToDelete[0].ID == "f1"
		})).Return(&model.Post{ID: "p1"}, nil).Once()

		req := httptest.NewRequest(http.MethodPut, "/posts/p1", body)
		req.Header.Set("Content-Type", ct)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		raw, _ := io.ReadAll(resp.Body)
		assert.JSONEq(t, `{"success":true,"message":"Post updated successfully"}`, string(raw))
		mockSvc.AssertExpectations(t)
	})

	t.Run("filesToDelete entry without id or url", func(t *testing.T) {
		body, ct := multipartBody(t, map[string]string{"title": "t", "content": "c", "filesToDelete": `[{"name":"a.png"}]`}, nil)

		req := httptest.NewRequest(http.MethodPut, "/posts/p1", body)
		req.Header.Set("Content-Type", ct)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "VALIDATION_ERROR", decodeError(t, resp).Code)
	})

	t.Run("malformed filesToDelete", func(t *testing.T) {
		body, ct := multipartBody(t, map[string]string{"title": "t", "content": "c", "filesToDelete": "nope"}, nil)

		req := httptest.NewRequest(http.MethodPut, "/posts/p1", body)
		req.Header.Set("Content-Type", ct)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "INVALID_FILES_TO_DELETE", decodeError(t, resp).Code)
	})

	t.Run("concurrent writer", func(t *testing.T) {
		body, ct := multipartBody(t, map[string]string{"title": "t", "content": "c"}, nil)
		mockSvc.On("Update", mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("write post: %w", storage.ErrConflict)).Once()

		req := httptest.NewRequest(http.MethodPut, "/posts/p1", body)
		req.Header.Set("Content-Type", ct)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "CONFLICT", decodeError(t, resp).Code)
		mockSvc.AssertExpectations(t)
	})
}

func TestDeletePost(t *testing.T) {
	tests := []struct {
		name       string
		svcErr     error
		wantStatus int
		wantCode   string
	}{
		{name: "success", wantStatus: http.StatusOK},
		{name: "not found", svcErr: fmt.Errorf("%w: p1", service.ErrNotFound), wantStatus: http.StatusNotFound, wantCode: "NOT_FOUND"},
		{name: "invalid id", svcErr: service.ErrIDRequired, wantStatus: http.StatusBadRequest, wantCode: "INVALID_ID"},
		{name: "timeout", svcErr: fmt.Errorf("%w: context deadline exceeded", service.ErrTimeout), wantStatus: http.StatusGatewayTimeout, wantCode: "TIMEOUT"},
		{name: "index failure", svcErr: errors.New("update index: conflict"), wantStatus: http.StatusInternalServerError, wantCode: "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockSvc := new(serviceMocks.MockPostService)
			mockSvc.On("Delete", mock.Anything, "p1").Return(tt.svcErr).Once()

			app := fiber.New()
			app.Delete("/posts/:id", DeletePost(mockSvc, logging.Nop()))

			resp, err := app.Test(httptest.NewRequest(http.MethodDelete, "/posts/p1", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			if tt.wantCode == "" {
				raw, _ := io.ReadAll(resp.Body)
				assert.JSONEq(t, `{"success":true,"message":"Post deleted successfully"}`, string(raw))
			} else {
				assert.Equal(t, tt.wantCode, decodeError(t, resp).Code)
			}
			mockSvc.AssertExpectations(t)
		})
	}
}

func TestCleanOrphanedFiles(t *testing.T) {
	t.Run("deletes and reports partial failures", func(t *testing.T) {
		mc := new(serviceMocks.MockCleaner)
		mc.On("CleanOrphanedFiles", mock.Anything, service.CleanupOptions{}).Return(&service.CleanupResult{
			Deleted: []string{"images/y.png"},
			Orphans: []string{"images/x.png", "images/y.png"},
			Errors:  []service.PartialError{{File: "images/x.png", Error: "denied"}},
		}, nil).Once()

		app := fiber.New()
		app.Delete("/files/clean-orphaned-files", CleanOrphanedFiles(mc, logging.Nop()))

		resp, err := app.Test(httptest.NewRequest(http.MethodDelete, "/files/clean-orphaned-files", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var res cleanupResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
		assert.True(t, res.Success)
		assert.Equal(t, "Cleanup completed. Deleted 1 files.", res.Message)
		assert.Equal(t, []string{"images/y.png"}, res.Deleted)
		assert.Equal(t, 1, res.DeletedCount)
		assert.Equal(t, 1, res.ErrorCount)
		mc.AssertExpectations(t)
	})

	t.Run("dry run", func(t *testing.T) {
		mc := new(serviceMocks.MockCleaner)
		mc.On("CleanOrphanedFiles", mock.Anything, service.CleanupOptions{DryRun: true}).Return(&service.CleanupResult{
			Orphans: []string{"content/stale.mp4"},
			DryRun:  true,
		}, nil).Once()

		app := fiber.New()
		app.Delete("/files/clean-orphaned-files", CleanOrphanedFiles(mc, logging.Nop()))

		resp, err := app.Test(httptest.NewRequest(http.MethodDelete, "/files/clean-orphaned-files?dryRun=true", nil))
		require.NoError(t, err)

		raw, _ := io.ReadAll(resp.Body)
		assert.JSONEq(t, `{
			"success": true,
			"message": "Dry run completed. Found 1 orphaned files.",
			"dryRun": true,
			"deleted": [],
			"deletedCount": 0,
			"orphans": ["content/stale.mp4"],
			"errors": [],
			"errorCount": 0
		}`, string(raw))
		mc.AssertExpectations(t)
	})

	t.Run("safety guard surfaces as an error", func(t *testing.T) {
		mc := new(serviceMocks.MockCleaner)
		mc.On("CleanOrphanedFiles", mock.Anything, service.CleanupOptions{}).Return(nil, service.ErrUnsafeCleanup).Once()

		app := fiber.New()
		app.Use(middleware.RequestID())
		app.Delete("/files/clean-orphaned-files", CleanOrphanedFiles(mc, logging.Nop()))

		req := httptest.NewRequest(http.MethodDelete, "/files/clean-orphaned-files", nil)
		req.Header.Set(middleware.RequestIDHeader, "rid-42")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

		body := decodeError(t, resp)
		assert.False(t, body.Success)
		assert.Equal(t, "UNSAFE_CLEANUP", body.Code)
		assert.Equal(t, service.ErrUnsafeCleanup.Error(), body.Error)
		assert.Equal(t, "rid-42", body.RequestID)
	})
}

func TestRouting(t *testing.T) {
	app := fiber.New(fiber.Config{
		ErrorHandler: ErrorHandler(),
	})

	mockSvc := new(serviceMocks.MockPostService)
	mStore := new(storeMocks.MockStorage)
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "routing_probe_total", Help: "probe"}))
	RegisterRoutes(app, Dependencies{
		Store:    mStore,
		Posts:    mockSvc,
		Cleaner:  new(serviceMocks.MockCleaner),
		Gatherer: reg,
	})

	t.Run("list route", func(t *testing.T) {
		mockSvc.On("List", mock.Anything).Return([]model.Post{}, nil).Once()
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/posts", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("metrics route", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		raw, _ := io.ReadAll(resp.Body)
		assert.Contains(t, string(raw), "routing_probe_total")
	})

	t.Run("not found route", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/non-existent", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "NOT_FOUND", decodeError(t, resp).Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		// Health endpoint only allows GET
		resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/health", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
		assert.Equal(t, "METHOD_NOT_ALLOWED", decodeError(t, resp).Code)
	})
}
