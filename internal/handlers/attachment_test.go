package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"realtime-service/internal/middleware"
	"realtime-service/internal/mocks"
	"realtime-service/internal/models"
	"realtime-service/internal/repositories"
	"realtime-service/internal/snowflake"
)

func newTestGenerator(t *testing.T) *snowflake.Generator {
	t.Helper()
	gen, err := snowflake.NewGenerator(1)
	require.NoError(t, err)
	return gen
}

func setupAttachmentRouter(t *testing.T, handler *AttachmentHandler) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, int64(1))
		c.Next()
	})
	r.POST("/servers/:server_id/channels/:channel_id/attachments", handler.InitUpload)
	r.POST("/attachments/:id/complete", handler.CompleteUpload)
	r.GET("/attachments/:id/download", handler.GetDownloadURL)
	r.DELETE("/attachments/:id", handler.Delete)
	return r
}

func TestInitUploadSuccess(t *testing.T) {
	attRepo := new(mocks.AttachmentRepositoryMock)
	memberRepo := new(mocks.MemberRepositoryMock)
	store := new(mocks.ObjectStorageMock)
	handler := NewAttachmentHandler(attRepo, memberRepo, store, newTestGenerator(t), zap.NewNop().Sugar())
	router := setupAttachmentRouter(t, handler)

	memberRepo.On("IsMember", mock.Anything, int64(10), int64(1)).Return(true, nil).Once()
	attRepo.On("Create", mock.Anything, mock.MatchedBy(func(att *models.Attachment) bool {
		return att.ServerID == 10 && att.ChannelID == 7 && att.UploaderID == 1 &&
			att.Status == models.AttachmentPending && att.ObjectKey != ""
	})).Return(nil).Once()
	store.On("GenerateUploadURL", mock.Anything, mock.Anything, "image/png", int64(1024)).
		Return("https://minio.local/presigned-put", nil).Once()

	body, _ := json.Marshal(initUploadRequest{Filename: "cat.png", ContentType: "image/png", SizeBytes: 1024})
	req := httptest.NewRequest(http.MethodPost, "/servers/10/channels/7/attachments", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "https://minio.local/presigned-put", resp["upload_url"])

	attRepo.AssertExpectations(t)
	memberRepo.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestInitUploadRejectsNonMember(t *testing.T) {
	attRepo := new(mocks.AttachmentRepositoryMock)
	memberRepo := new(mocks.MemberRepositoryMock)
	handler := NewAttachmentHandler(attRepo, memberRepo, new(mocks.ObjectStorageMock), newTestGenerator(t), zap.NewNop().Sugar())
	router := setupAttachmentRouter(t, handler)

	memberRepo.On("IsMember", mock.Anything, int64(10), int64(1)).Return(false, nil).Once()

	body, _ := json.Marshal(initUploadRequest{Filename: "cat.png", ContentType: "image/png", SizeBytes: 1024})
	req := httptest.NewRequest(http.MethodPost, "/servers/10/channels/7/attachments", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	attRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestInitUploadRejectsOversize(t *testing.T) {
	handler := NewAttachmentHandler(new(mocks.AttachmentRepositoryMock), new(mocks.MemberRepositoryMock), new(mocks.ObjectStorageMock), newTestGenerator(t), zap.NewNop().Sugar())
	router := setupAttachmentRouter(t, handler)

	body, _ := json.Marshal(initUploadRequest{Filename: "huge.bin", ContentType: "application/octet-stream", SizeBytes: maxAttachmentBytes + 1})
	req := httptest.NewRequest(http.MethodPost, "/servers/10/channels/7/attachments", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompleteUploadEmitsUploadedEvent(t *testing.T) {
	attRepo := new(mocks.AttachmentRepositoryMock)
	handler := NewAttachmentHandler(attRepo, new(mocks.MemberRepositoryMock), new(mocks.ObjectStorageMock), newTestGenerator(t), zap.NewNop().Sugar())
	router := setupAttachmentRouter(t, handler)

	att := &models.Attachment{ID: 55, ServerID: 10, ChannelID: 7, UploaderID: 1, ObjectKey: "srv/10/x/cat.png", Status: models.AttachmentPending}
	attRepo.On("FindByID", mock.Anything, int64(55)).Return(att, nil).Once()
	attRepo.On("CompleteUpload", mock.Anything, int64(55), int64(1), mock.MatchedBy(func(ev *models.OutboxEvent) bool {
		meta := ev.Meta()
		return ev.EventType == models.EventAttachmentUploaded &&
			ev.AggregateType == "server" && ev.AggregateID == "10" &&
			meta.ServerID == "10" && meta.ChannelID == "7"
	})).Return(nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/attachments/55/complete", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	attRepo.AssertExpectations(t)
}

func TestCompleteUploadWrongUploader(t *testing.T) {
	attRepo := new(mocks.AttachmentRepositoryMock)
	handler := NewAttachmentHandler(attRepo, new(mocks.MemberRepositoryMock), new(mocks.ObjectStorageMock), newTestGenerator(t), zap.NewNop().Sugar())
	router := setupAttachmentRouter(t, handler)

	att := &models.Attachment{ID: 55, ServerID: 10, UploaderID: 2, Status: models.AttachmentPending}
	attRepo.On("FindByID", mock.Anything, int64(55)).Return(att, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/attachments/55/complete", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	attRepo.AssertNotCalled(t, "CompleteUpload", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCompleteUploadAlreadyUploadedConflicts(t *testing.T) {
	attRepo := new(mocks.AttachmentRepositoryMock)
	handler := NewAttachmentHandler(attRepo, new(mocks.MemberRepositoryMock), new(mocks.ObjectStorageMock), newTestGenerator(t), zap.NewNop().Sugar())
	router := setupAttachmentRouter(t, handler)

	att := &models.Attachment{ID: 55, ServerID: 10, UploaderID: 1, Status: models.AttachmentUploaded}
	attRepo.On("FindByID", mock.Anything, int64(55)).Return(att, nil).Once()
	attRepo.On("CompleteUpload", mock.Anything, int64(55), int64(1), mock.Anything).
		Return(repositories.ErrInvalidTransition).Once()

	req := httptest.NewRequest(http.MethodPost, "/attachments/55/complete", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetDownloadURLScanned(t *testing.T) {
	attRepo := new(mocks.AttachmentRepositoryMock)
	memberRepo := new(mocks.MemberRepositoryMock)
	store := new(mocks.ObjectStorageMock)
	handler := NewAttachmentHandler(attRepo, memberRepo, store, newTestGenerator(t), zap.NewNop().Sugar())
	router := setupAttachmentRouter(t, handler)

	att := &models.Attachment{ID: 55, ServerID: 10, ObjectKey: "srv/10/x/cat.png", Status: models.AttachmentScanned}
	attRepo.On("FindByID", mock.Anything, int64(55)).Return(att, nil).Once()
	memberRepo.On("IsMember", mock.Anything, int64(10), int64(1)).Return(true, nil).Once()
	store.On("GenerateDownloadURL", mock.Anything, "srv/10/x/cat.png").
		Return("https://minio.local/presigned-get", nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/attachments/55/download", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "https://minio.local/presigned-get", resp["download_url"])
}

func TestGetDownloadURLBlockedIsUnavailable(t *testing.T) {
	attRepo := new(mocks.AttachmentRepositoryMock)
	memberRepo := new(mocks.MemberRepositoryMock)
	store := new(mocks.ObjectStorageMock)
	handler := NewAttachmentHandler(attRepo, memberRepo, store, newTestGenerator(t), zap.NewNop().Sugar())
	router := setupAttachmentRouter(t, handler)

	att := &models.Attachment{ID: 55, ServerID: 10, Status: models.AttachmentBlocked}
	attRepo.On("FindByID", mock.Anything, int64(55)).Return(att, nil).Once()
	memberRepo.On("IsMember", mock.Anything, int64(10), int64(1)).Return(true, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/attachments/55/download", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	store.AssertNotCalled(t, "GenerateDownloadURL", mock.Anything, mock.Anything)
}

func TestGetDownloadURLUnscannedConflicts(t *testing.T) {
	attRepo := new(mocks.AttachmentRepositoryMock)
	memberRepo := new(mocks.MemberRepositoryMock)
	handler := NewAttachmentHandler(attRepo, memberRepo, new(mocks.ObjectStorageMock), newTestGenerator(t), zap.NewNop().Sugar())
	router := setupAttachmentRouter(t, handler)

	att := &models.Attachment{ID: 55, ServerID: 10, Status: models.AttachmentScanning}
	attRepo.On("FindByID", mock.Anything, int64(55)).Return(att, nil).Once()
	memberRepo.On("IsMember", mock.Anything, int64(10), int64(1)).Return(true, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/attachments/55/download", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "cat.png", sanitizeFilename("cat.png"))
	assert.Equal(t, "passwd", sanitizeFilename("../../etc/passwd"))
	assert.Equal(t, "evil.exe", sanitizeFilename("..\\windows\\evil.exe"))
	assert.Equal(t, "sp_ced_name.txt", sanitizeFilename("sp ced name.txt"))
	assert.Equal(t, "file", sanitizeFilename(""))
}
