package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"press_sync/internal/domain"
	"press_sync/internal/service/mocks"
)

type QueueServiceTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	tasks  *mocks.MockTaskStore
	syncer *mocks.MockSyncRunner

	service *QueueService
	cfg     QueueConfig
}

func (s *QueueServiceTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.tasks = mocks.NewMockTaskStore(s.ctrl)
	s.syncer = mocks.NewMockSyncRunner(s.ctrl)

	s.cfg = QueueConfig{
		MaxTasksPerTick: 10,
		MaxRetries:      3,
		InitialBackoff:  time.Minute,
		MaxBackoff:      time.Hour,
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	s.service = NewQueueService(s.tasks, s.syncer, logger, s.cfg)
}

func (s *QueueServiceTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestQueueServiceTestSuite(t *testing.T) {
	suite.Run(t, new(QueueServiceTestSuite))
}

func syncTask(id int64, retryCount int, payload domain.SyncTaskPayload) *domain.Task {
	data, _ := json.Marshal(payload)
	return &domain.Task{
		ID:         id,
		Queue:      "sync",
		TaskType:   domain.TaskTypeContentSync,
		Payload:    data,
		RetryCount: retryCount,
		MaxRetries: 3,
	}
}

func (s *QueueServiceTestSuite) TestEnqueueSync() {
	ctx := context.Background()

	s.tasks.EXPECT().Enqueue(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, task *domain.Task) (int64, error) {
			s.Equal("sync", task.Queue)
			s.Equal(domain.TaskTypeContentSync, task.TaskType)
			s.Equal(3, task.MaxRetries)
			s.Equal(5, task.Priority)

			var payload domain.SyncTaskPayload
			s.Require().NoError(json.Unmarshal(task.Payload, &payload))
			s.Equal("pressroom-1", payload.SourceID)
			return 42, nil
		},
	)

	id, err := s.service.EnqueueSync(ctx, "sync", domain.SyncTaskPayload{SourceID: "pressroom-1"}, 5)

	s.NoError(err)
	s.Equal(int64(42), id)
}

func (s *QueueServiceTestSuite) TestProcessQueue_RunsUntilEmpty() {
	ctx := context.Background()

	s.tasks.EXPECT().ClaimNext(ctx, "sync").Return(syncTask(1, 0, domain.SyncTaskPayload{SourceID: "pressroom-1"}), nil)
	s.tasks.EXPECT().ClaimNext(ctx, "sync").Return(syncTask(2, 0, domain.SyncTaskPayload{SourceID: "pressroom-2"}), nil)
	s.tasks.EXPECT().ClaimNext(ctx, "sync").Return(nil, nil)

	s.syncer.EXPECT().Sync(ctx, domain.SyncOptions{SourceID: "pressroom-1"}).Return(&domain.SyncRun{Success: true}, nil)
	s.syncer.EXPECT().Sync(ctx, domain.SyncOptions{SourceID: "pressroom-2"}).Return(&domain.SyncRun{Success: true}, nil)

	s.tasks.EXPECT().Complete(ctx, int64(1)).Return(nil)
	s.tasks.EXPECT().Complete(ctx, int64(2)).Return(nil)

	result, err := s.service.ProcessQueue(ctx, "sync")

	s.NoError(err)
	s.Equal(2, result.Processed)
	s.Equal(0, result.Failed)
}

func (s *QueueServiceTestSuite) TestProcessQueue_RespectsTickBudget() {
	ctx := context.Background()
	s.cfg.MaxTasksPerTick = 1
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	service := NewQueueService(s.tasks, s.syncer, logger, s.cfg)

	s.tasks.EXPECT().ClaimNext(ctx, "sync").Return(syncTask(1, 0, domain.SyncTaskPayload{SourceID: "pressroom-1"}), nil)
	s.syncer.EXPECT().Sync(ctx, gomock.Any()).Return(&domain.SyncRun{Success: true}, nil)
	s.tasks.EXPECT().Complete(ctx, int64(1)).Return(nil)

	result, err := service.ProcessQueue(ctx, "sync")

	s.NoError(err)
	s.Equal(1, result.Processed)
}

func (s *QueueServiceTestSuite) TestProcessQueue_FailedTaskRescheduledWithBackoff() {
	ctx := context.Background()
	before := time.Now()

	s.tasks.EXPECT().ClaimNext(ctx, "sync").Return(syncTask(1, 1, domain.SyncTaskPayload{SourceID: "pressroom-1"}), nil)
	s.tasks.EXPECT().ClaimNext(ctx, "sync").Return(nil, nil)

	s.syncer.EXPECT().Sync(ctx, gomock.Any()).Return(nil, errors.New("database unavailable"))

	// Second attempt: backoff doubles once, task stays retryable.
	s.tasks.EXPECT().Fail(ctx, int64(1), gomock.Any(), gomock.Any(), false).DoAndReturn(
		func(_ context.Context, _ int64, errMsg string, retryAt time.Time, _ bool) error {
			s.Contains(errMsg, "database unavailable")
			s.WithinDuration(before.Add(2*time.Minute), retryAt, 5*time.Second)
			return nil
		},
	)

	result, err := s.service.ProcessQueue(ctx, "sync")

	s.NoError(err)
	s.Equal(0, result.Processed)
	s.Equal(1, result.Failed)
	s.Len(result.Errors, 1)
}

func (s *QueueServiceTestSuite) TestProcessQueue_ExhaustedRetriesAreTerminal() {
	ctx := context.Background()

	s.tasks.EXPECT().ClaimNext(ctx, "sync").Return(syncTask(1, 2, domain.SyncTaskPayload{SourceID: "pressroom-1"}), nil)
	s.tasks.EXPECT().ClaimNext(ctx, "sync").Return(nil, nil)

	s.syncer.EXPECT().Sync(ctx, gomock.Any()).Return(nil, errors.New("database unavailable"))

	s.tasks.EXPECT().Fail(ctx, int64(1), gomock.Any(), gomock.Any(), true).Return(nil)

	result, err := s.service.ProcessQueue(ctx, "sync")

	s.NoError(err)
	s.Equal(1, result.Failed)
}

func (s *QueueServiceTestSuite) TestProcessQueue_SkippedLockedIsNotAFailure() {
	ctx := context.Background()

	s.tasks.EXPECT().ClaimNext(ctx, "sync").Return(syncTask(1, 0, domain.SyncTaskPayload{SourceID: "pressroom-1"}), nil)
	s.tasks.EXPECT().ClaimNext(ctx, "sync").Return(nil, nil)

	s.syncer.EXPECT().Sync(ctx, gomock.Any()).Return(&domain.SyncRun{Success: false, SkippedLocked: true}, nil)

	s.tasks.EXPECT().Complete(ctx, int64(1)).Return(nil)

	result, err := s.service.ProcessQueue(ctx, "sync")

	s.NoError(err)
	s.Equal(1, result.Processed)
	s.Equal(0, result.Failed)
}

func (s *QueueServiceTestSuite) TestProcessQueue_UnsuccessfulRunFailsTask() {
	ctx := context.Background()

	s.tasks.EXPECT().ClaimNext(ctx, "sync").Return(syncTask(1, 0, domain.SyncTaskPayload{SourceID: "pressroom-1"}), nil)
	s.tasks.EXPECT().ClaimNext(ctx, "sync").Return(nil, nil)

	s.syncer.EXPECT().Sync(ctx, gomock.Any()).Return(&domain.SyncRun{
		Success: false,
		Errors:  []string{"resolve source account: account not found"},
	}, nil)

	s.tasks.EXPECT().Fail(ctx, int64(1), gomock.Any(), gomock.Any(), false).Return(nil)

	result, err := s.service.ProcessQueue(ctx, "sync")

	s.NoError(err)
	s.Equal(1, result.Failed)
}

func (s *QueueServiceTestSuite) TestProcessQueue_MalformedPayloadFailsTask() {
	ctx := context.Background()

	task := &domain.Task{
		ID:         1,
		Queue:      "sync",
		TaskType:   domain.TaskTypeContentSync,
		Payload:    json.RawMessage(`{not json`),
		MaxRetries: 3,
	}

	s.tasks.EXPECT().ClaimNext(ctx, "sync").Return(task, nil)
	s.tasks.EXPECT().ClaimNext(ctx, "sync").Return(nil, nil)

	s.tasks.EXPECT().Fail(ctx, int64(1), gomock.Any(), gomock.Any(), false).Return(nil)

	result, err := s.service.ProcessQueue(ctx, "sync")

	s.NoError(err)
	s.Equal(1, result.Failed)
	s.Contains(result.Errors[0], "decode payload")
}

func (s *QueueServiceTestSuite) TestProcessQueue_UnknownTaskType() {
	ctx := context.Background()

	task := &domain.Task{
		ID:         1,
		Queue:      "sync",
		TaskType:   "reindex",
		Payload:    json.RawMessage(`{}`),
		MaxRetries: 3,
	}

	s.tasks.EXPECT().ClaimNext(ctx, "sync").Return(task, nil)
	s.tasks.EXPECT().ClaimNext(ctx, "sync").Return(nil, nil)

	s.tasks.EXPECT().Fail(ctx, int64(1), gomock.Any(), gomock.Any(), false).Return(nil)

	result, err := s.service.ProcessQueue(ctx, "sync")

	s.NoError(err)
	s.Contains(result.Errors[0], "unknown task type")
}

func (s *QueueServiceTestSuite) TestProcessQueue_ClaimErrorStopsPass() {
	ctx := context.Background()

	s.tasks.EXPECT().ClaimNext(ctx, "sync").Return(nil, errors.New("connection refused"))

	result, err := s.service.ProcessQueue(ctx, "sync")

	s.Error(err)
	s.Equal(0, result.Processed)
	s.Contains(err.Error(), "claim task")
}

func (s *QueueServiceTestSuite) TestGetQueueHealth() {
	ctx := context.Background()

	s.tasks.EXPECT().Health(ctx, "sync").Return(&domain.QueueHealth{
		Queue:   "sync",
		Status:  "ok",
		Pending: 3,
	}, nil)

	health, err := s.service.GetQueueHealth(ctx, "sync")

	s.NoError(err)
	s.Equal("sync", health.Queue)
	s.Equal(3, health.Pending)
}

func TestBackoff(t *testing.T) {
	q := &QueueService{cfg: QueueConfig{
		InitialBackoff: time.Minute,
		MaxBackoff:     10 * time.Minute,
	}}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{4, 8 * time.Minute},
		{5, 10 * time.Minute}, // capped
		{8, 10 * time.Minute},
	}

	for _, tc := range cases {
		if got := q.backoff(tc.attempt); got != tc.want {
			t.Errorf("backoff(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}
