package mocks

import (
	"context"
	"io"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"realtime-service/internal/models"
	"realtime-service/internal/presence"
	"realtime-service/internal/scanner"
)

type AttachmentRepositoryMock struct {
	mock.Mock
}

func (m *AttachmentRepositoryMock) Create(ctx context.Context, att *models.Attachment) error {
	args := m.Called(ctx, att)
	return args.Error(0)
}

func (m *AttachmentRepositoryMock) FindByID(ctx context.Context, id int64) (*models.Attachment, error) {
	args := m.Called(ctx, id)
	var att *models.Attachment
	if val := args.Get(0); val != nil {
		att = val.(*models.Attachment)
	}
	return att, args.Error(1)
}

func (m *AttachmentRepositoryMock) CompleteUpload(ctx context.Context, id int64, uploaderID int64, event *models.OutboxEvent) error {
	args := m.Called(ctx, id, uploaderID, event)
	return args.Error(0)
}

func (m *AttachmentRepositoryMock) ClaimForScan(ctx context.Context, limit int) ([]models.Attachment, error) {
	args := m.Called(ctx, limit)
	var atts []models.Attachment
	if val := args.Get(0); val != nil {
		atts = val.([]models.Attachment)
	}
	return atts, args.Error(1)
}

func (m *AttachmentRepositoryMock) RevertStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

func (m *AttachmentRepositoryMock) ReleaseToUploaded(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *AttachmentRepositoryMock) FinishScan(ctx context.Context, id int64, status models.AttachmentStatus, event *models.OutboxEvent) error {
	args := m.Called(ctx, id, status, event)
	return args.Error(0)
}

func (m *AttachmentRepositoryMock) SoftDelete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, msg *models.Message, attachmentIDs []int64, event *models.OutboxEvent) error {
	args := m.Called(ctx, msg, attachmentIDs, event)
	return args.Error(0)
}

func (m *MessageRepositoryMock) ListChannelMessages(ctx context.Context, channelID int64, beforeID int64, limit int) ([]models.Message, error) {
	args := m.Called(ctx, channelID, beforeID, limit)
	var list []models.Message
	if val := args.Get(0); val != nil {
		list = val.([]models.Message)
	}
	return list, args.Error(1)
}

type MemberRepositoryMock struct {
	mock.Mock
}

func (m *MemberRepositoryMock) ListServerIDs(ctx context.Context, userID int64) ([]int64, error) {
	args := m.Called(ctx, userID)
	var ids []int64
	if val := args.Get(0); val != nil {
		ids = val.([]int64)
	}
	return ids, args.Error(1)
}

func (m *MemberRepositoryMock) ListUserIDsByServer(ctx context.Context, serverID int64) ([]int64, error) {
	args := m.Called(ctx, serverID)
	var ids []int64
	if val := args.Get(0); val != nil {
		ids = val.([]int64)
	}
	return ids, args.Error(1)
}

func (m *MemberRepositoryMock) IsMember(ctx context.Context, serverID int64, userID int64) (bool, error) {
	args := m.Called(ctx, serverID, userID)
	return args.Bool(0), args.Error(1)
}

type OutboxRepositoryMock struct {
	mock.Mock
}

func (m *OutboxRepositoryMock) Append(ctx context.Context, tx sqlx.ExtContext, event *models.OutboxEvent) error {
	args := m.Called(ctx, tx, event)
	return args.Error(0)
}

func (m *OutboxRepositoryMock) Drain(ctx context.Context, limit int, publish func(event *models.OutboxEvent) error) (int, error) {
	args := m.Called(ctx, limit, publish)
	return args.Int(0), args.Error(1)
}

type ObjectStorageMock struct {
	mock.Mock
}

func (m *ObjectStorageMock) GenerateUploadURL(ctx context.Context, key, contentType string, sizeBytes int64) (string, error) {
	args := m.Called(ctx, key, contentType, sizeBytes)
	return args.String(0), args.Error(1)
}

func (m *ObjectStorageMock) GenerateDownloadURL(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *ObjectStorageMock) GetObjectStream(ctx context.Context, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, key)
	var rc io.ReadCloser
	if val := args.Get(0); val != nil {
		rc = val.(io.ReadCloser)
	}
	return rc, args.Error(1)
}

func (m *ObjectStorageMock) DeleteObject(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

type ScannerMock struct {
	mock.Mock
}

func (m *ScannerMock) Scan(ctx context.Context, r io.Reader) (scanner.Result, error) {
	args := m.Called(ctx, r)
	var res scanner.Result
	if val := args.Get(0); val != nil {
		res = val.(scanner.Result)
	}
	return res, args.Error(1)
}

type PresenceStoreMock struct {
	mock.Mock
}

func (m *PresenceStoreMock) SetOnline(ctx context.Context, userID string, serverIDs []string) error {
	args := m.Called(ctx, userID, serverIDs)
	return args.Error(0)
}

func (m *PresenceStoreMock) SetStatus(ctx context.Context, userID string, status presence.Status) error {
	args := m.Called(ctx, userID, status)
	return args.Error(0)
}

func (m *PresenceStoreMock) SetOffline(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *PresenceStoreMock) Refresh(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *PresenceStoreMock) GetPresence(ctx context.Context, userID string) (presence.Status, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(presence.Status), args.Error(1)
}

func (m *PresenceStoreMock) GetOnlineMembers(ctx context.Context, userIDs []string) ([]string, error) {
	args := m.Called(ctx, userIDs)
	var ids []string
	if val := args.Get(0); val != nil {
		ids = val.([]string)
	}
	return ids, args.Error(1)
}

type TypingStoreMock struct {
	mock.Mock
}

func (m *TypingStoreMock) SetTyping(ctx context.Context, channelID, userID string) error {
	args := m.Called(ctx, channelID, userID)
	return args.Error(0)
}

func (m *TypingStoreMock) GetTyping(ctx context.Context, channelID string) ([]string, error) {
	args := m.Called(ctx, channelID)
	var ids []string
	if val := args.Get(0); val != nil {
		ids = val.([]string)
	}
	return ids, args.Error(1)
}
