package scanner_test

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"realtime-service/internal/mocks"
	"realtime-service/internal/models"
	"realtime-service/internal/scanner"
	"realtime-service/internal/snowflake"
)

func newPipeline(t *testing.T, repo *mocks.AttachmentRepositoryMock, store *mocks.ObjectStorageMock, sc *mocks.ScannerMock) *scanner.Pipeline {
	t.Helper()
	gen, err := snowflake.NewGenerator(1)
	require.NoError(t, err)
	return scanner.NewPipeline(repo, store, sc, gen, zap.NewNop().Sugar(), time.Second, 10, 2*time.Minute)
}

func claimedAttachment() models.Attachment {
	return models.Attachment{
		ID:        55,
		ServerID:  10,
		ChannelID: 7,
		ObjectKey: "srv/10/x/cat.png",
		Status:    models.AttachmentScanning,
	}
}

func TestCycleCleanVerdict(t *testing.T) {
	repo := new(mocks.AttachmentRepositoryMock)
	store := new(mocks.ObjectStorageMock)
	sc := new(mocks.ScannerMock)

	repo.On("RevertStuck", mock.Anything, 2*time.Minute).Return(int64(0), nil).Once()
	repo.On("ClaimForScan", mock.Anything, 10).Return([]models.Attachment{claimedAttachment()}, nil).Once()
	store.On("GetObjectStream", mock.Anything, "srv/10/x/cat.png").
		Return(io.NopCloser(strings.NewReader("bytes")), nil).Once()
	sc.On("Scan", mock.Anything, mock.Anything).Return(scanner.Result{Clean: true}, nil).Once()
	repo.On("FinishScan", mock.Anything, int64(55), models.AttachmentScanned,
		mock.MatchedBy(func(ev *models.OutboxEvent) bool {
			return ev != nil && ev.EventType == models.EventAttachmentScanned && ev.AggregateID == "10"
		})).Return(nil).Once()

	require.NoError(t, newPipeline(t, repo, store, sc).Cycle(context.Background()))

	repo.AssertExpectations(t)
	store.AssertExpectations(t)
	sc.AssertExpectations(t)
}

func TestCycleInfectedVerdictDeletesObject(t *testing.T) {
	repo := new(mocks.AttachmentRepositoryMock)
	store := new(mocks.ObjectStorageMock)
	sc := new(mocks.ScannerMock)

	repo.On("RevertStuck", mock.Anything, mock.Anything).Return(int64(0), nil).Once()
	repo.On("ClaimForScan", mock.Anything, 10).Return([]models.Attachment{claimedAttachment()}, nil).Once()
	store.On("GetObjectStream", mock.Anything, mock.Anything).
		Return(io.NopCloser(strings.NewReader("bytes")), nil).Once()
	sc.On("Scan", mock.Anything, mock.Anything).
		Return(scanner.Result{Clean: false, Signature: "Eicar-Test-Signature"}, nil).Once()
	store.On("DeleteObject", mock.Anything, "srv/10/x/cat.png").Return(nil).Once()
	repo.On("FinishScan", mock.Anything, int64(55), models.AttachmentBlocked,
		mock.MatchedBy(func(ev *models.OutboxEvent) bool {
			return ev != nil && ev.EventType == models.EventAttachmentBlocked
		})).Return(nil).Once()

	require.NoError(t, newPipeline(t, repo, store, sc).Cycle(context.Background()))

	repo.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestCycleScanErrorReleasesClaim(t *testing.T) {
	repo := new(mocks.AttachmentRepositoryMock)
	store := new(mocks.ObjectStorageMock)
	sc := new(mocks.ScannerMock)

	repo.On("RevertStuck", mock.Anything, mock.Anything).Return(int64(0), nil).Once()
	repo.On("ClaimForScan", mock.Anything, 10).Return([]models.Attachment{claimedAttachment()}, nil).Once()
	store.On("GetObjectStream", mock.Anything, mock.Anything).
		Return(io.NopCloser(strings.NewReader("bytes")), nil).Once()
	sc.On("Scan", mock.Anything, mock.Anything).Return(scanner.Result{}, io.ErrUnexpectedEOF).Once()
	repo.On("ReleaseToUploaded", mock.Anything, int64(55)).Return(nil).Once()

	require.NoError(t, newPipeline(t, repo, store, sc).Cycle(context.Background()))

	// A failed scan must never be mistaken for an infection.
	repo.AssertNotCalled(t, "FinishScan", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	repo.AssertExpectations(t)
}

func TestCycleStreamErrorReleasesClaim(t *testing.T) {
	repo := new(mocks.AttachmentRepositoryMock)
	store := new(mocks.ObjectStorageMock)
	sc := new(mocks.ScannerMock)

	repo.On("RevertStuck", mock.Anything, mock.Anything).Return(int64(0), nil).Once()
	repo.On("ClaimForScan", mock.Anything, 10).Return([]models.Attachment{claimedAttachment()}, nil).Once()
	store.On("GetObjectStream", mock.Anything, mock.Anything).
		Return(nil, io.ErrUnexpectedEOF).Once()
	repo.On("ReleaseToUploaded", mock.Anything, int64(55)).Return(nil).Once()

	require.NoError(t, newPipeline(t, repo, store, sc).Cycle(context.Background()))

	sc.AssertNotCalled(t, "Scan", mock.Anything, mock.Anything)
	repo.AssertExpectations(t)
}

func TestCycleRevertsStuckBeforeClaiming(t *testing.T) {
	repo := new(mocks.AttachmentRepositoryMock)
	store := new(mocks.ObjectStorageMock)
	sc := new(mocks.ScannerMock)

	var order []string
	repo.On("RevertStuck", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		order = append(order, "revert")
	}).Return(int64(2), nil).Once()
	repo.On("ClaimForScan", mock.Anything, 10).Run(func(mock.Arguments) {
		order = append(order, "claim")
	}).Return([]models.Attachment{}, nil).Once()

	require.NoError(t, newPipeline(t, repo, store, sc).Cycle(context.Background()))
	require.Equal(t, []string{"revert", "claim"}, order)
}
