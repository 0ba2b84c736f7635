package upload

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/topasiaedu/transcribe-upload/internal/models"
	"github.com/topasiaedu/transcribe-upload/internal/storage"
)

type batchFixture struct {
	store    *storage.MemoryStore
	objects  *fakeObjects
	sink     *fakeSink
	notifier *fakeNotifier
	service  *Service
}

func newBatchFixture(t *testing.T) *batchFixture {
	t.Helper()
	f := &batchFixture{
		store:    storage.NewMemoryStore(),
		objects:  newFakeObjects(),
		sink:     &fakeSink{},
		notifier: &fakeNotifier{},
	}
	uploader := newTestUploader(t, f.objects, f.store, Options{})
	f.service = NewService(NewRecorder(f.store), uploader, f.sink, f.notifier, nil, nil)
	return f
}

func textFile(name string) models.MediaFile {
	data := []byte("agenda: budget review, hiring plan")
	return models.MediaFile{Name: name, Size: int64(len(data)), ContentType: "text/plain", Content: bytes.NewReader(data)}
}

func TestService_UploadBatchIsolatesFailures(t *testing.T) {
	f := newBatchFixture(t)
	ctx := context.Background()

	result := f.service.UploadBatch(ctx, []models.MediaFile{
		mediaFile("lecture.mp4", payload(25)),
		textFile("notes.txt"),
		mediaFile("talk.mp3", payload(8)),
	}, BatchOptions{Language: "en"})

	require.Len(t, result.Files, 3)
	require.Equal(t, 2, result.Succeeded())
	require.Equal(t, 1, result.Failed())

	lecture := result.Files[0]
	require.NoError(t, lecture.Err)
	require.True(t, lecture.WasChunked)
	require.Equal(t, 3, lecture.TotalChunks)
	require.Len(t, lecture.Chunks, 3)
	require.True(t, lecture.Notified)

	notes := result.Files[1]
	require.Equal(t, KindValidation, KindOf(notes.Err))
	require.Empty(t, notes.TaskID)

	talk := result.Files[2]
	require.NoError(t, talk.Err)
	require.False(t, talk.WasChunked)
	require.Equal(t, 1, talk.TotalChunks)

	tasks, err := f.store.ListTasks(ctx, nil)
	require.NoError(t, err)
	require.Len(t, tasks, 2, "no task is created for a file that fails validation")

	rows, err := f.store.ListChunks(ctx, lecture.TaskID)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	require.Equal(t, map[string]int{"lecture.mp4": 100, "talk.mp3": 100}, result.Progress)
	require.Equal(t, []string{lecture.TaskID, talk.TaskID}, f.notifier.notified)

	var lecturePercents []int
	for _, c := range f.sink.calls {
		if c.TaskID == lecture.TaskID {
			lecturePercents = append(lecturePercents, c.Percent)
		}
	}
	require.Equal(t, []int{0, 33, 67, 100}, lecturePercents)

	err = result.Err()
	require.Error(t, err)
	require.Contains(t, err.Error(), "notes.txt")
}

func TestService_ChunkFailureLeavesTaskWithoutRows(t *testing.T) {
	f := newBatchFixture(t)
	f.objects.failOn = func(key string, _ int) error {
		if strings.HasPrefix(key, "medias/lecture_") && strings.Contains(key, "chunk003") {
			return errStorageDown
		}
		return nil
	}
	ctx := context.Background()

	result := f.service.UploadBatch(ctx, []models.MediaFile{
		mediaFile("lecture.mp4", payload(25)),
		mediaFile("talk.mp3", payload(8)),
	}, BatchOptions{})

	failed := result.Files[0]
	require.Equal(t, KindChunkUpload, KindOf(failed.Err))
	require.NotEmpty(t, failed.TaskID)
	require.Equal(t, 67, result.Progress["lecture.mp4"])

	rows, err := f.store.ListChunks(ctx, failed.TaskID)
	require.NoError(t, err)
	require.Empty(t, rows)

	task, err := f.store.GetTask(ctx, failed.TaskID)
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, task.Status)

	require.NoError(t, result.Files[1].Err)
	require.Equal(t, []string{result.Files[1].TaskID}, f.notifier.notified)
}

func TestService_TaskCreationFailureSkipsFile(t *testing.T) {
	tasks := &TaskStoreMock{}
	tasks.On("InsertTask", mock.Anything, mock.MatchedBy(func(task *models.TranscriptionTask) bool {
		return task.FileName == "a.mp3"
	})).Return(nil, errStorageDown).Once()
	tasks.On("InsertTask", mock.Anything, mock.MatchedBy(func(task *models.TranscriptionTask) bool {
		return task.FileName == "b.mp3"
	})).Return(&models.TranscriptionTask{ID: "task-b"}, nil).Once()

	objects := newFakeObjects()
	chunks := &ChunkStoreMock{}
	chunks.On("InsertChunks", mock.Anything, mock.Anything).Return(echoReversed, nil).Once()

	service := NewService(NewRecorder(tasks), newTestUploader(t, objects, chunks, Options{}), nil, nil, nil, nil)
	result := service.UploadBatch(context.Background(), []models.MediaFile{
		mediaFile("a.mp3", payload(4)),
		mediaFile("b.mp3", payload(4)),
	}, BatchOptions{})

	require.Equal(t, KindTaskCreation, KindOf(result.Files[0].Err))
	require.NoError(t, result.Files[1].Err)
	require.Equal(t, "task-b", result.Files[1].TaskID)
	require.Len(t, objects.Puts(), 1, "a file whose task could not be created is never uploaded")
	tasks.AssertExpectations(t)
}

func TestService_CancellationStopsBatch(t *testing.T) {
	f := newBatchFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.objects.onPut = func(string) { cancel() }

	result := f.service.UploadBatch(ctx, []models.MediaFile{
		mediaFile("lecture.mp4", payload(25)),
		mediaFile("talk.mp3", payload(8)),
	}, BatchOptions{})

	require.Equal(t, KindCanceled, KindOf(result.Files[0].Err))
	require.Equal(t, KindCanceled, KindOf(result.Files[1].Err))
	require.Empty(t, result.Files[1].TaskID)
	require.Len(t, f.objects.Puts(), 1)
	require.Empty(t, f.notifier.notified)

	tasks, err := f.store.ListTasks(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
}

func TestService_PerFileLanguageAndFolder(t *testing.T) {
	f := newBatchFixture(t)
	ctx := context.Background()
	created, err := f.store.InsertFolder(ctx, nil)
	require.NoError(t, err)
	folder := created.ID

	var seen []string
	result := f.service.UploadBatch(ctx, []models.MediaFile{
		mediaFile("a.mp3", payload(4)),
		mediaFile("b.mp3", payload(4)),
	}, BatchOptions{
		FolderID:      &folder,
		Language:      "en",
		FileLanguages: map[int]string{1: "ms"},
		OnProgress: func(fileName, taskID string, percent int) {
			seen = append(seen, fileName)
		},
	})
	require.NoError(t, result.Err())
	require.Equal(t, []string{"a.mp3", "b.mp3"}, seen)

	a, err := f.store.GetTask(ctx, result.Files[0].TaskID)
	require.NoError(t, err)
	require.Equal(t, "en", a.Language)
	require.Equal(t, folder, *a.FolderID)

	b, err := f.store.GetTask(ctx, result.Files[1].TaskID)
	require.NoError(t, err)
	require.Equal(t, "ms", b.Language)
}

func TestService_NotifierFailureDoesNotFailFile(t *testing.T) {
	f := newBatchFixture(t)
	f.notifier.err = errStorageDown

	result := f.service.UploadBatch(context.Background(), []models.MediaFile{mediaFile("a.mp3", payload(4))}, BatchOptions{})
	require.NoError(t, result.Err())
	require.False(t, result.Files[0].Notified)
}

func TestService_EmptyFileReportsEmptyReason(t *testing.T) {
	f := newBatchFixture(t)
	result := f.service.UploadBatch(context.Background(), []models.MediaFile{mediaFile("silence.mp3", nil)}, BatchOptions{})

	require.Equal(t, KindValidation, KindOf(result.Files[0].Err))
	require.Equal(t, "file is empty", ReasonOf(result.Files[0].Err))
}

func TestService_RejectedTaskInputIsValidation(t *testing.T) {
	f := newBatchFixture(t)
	longFolder := strings.Repeat("f", 65)

	result := f.service.UploadBatch(context.Background(), []models.MediaFile{
		mediaFile("talk.mp3", payload(4)),
		mediaFile(strings.Repeat("n", 252)+".mp3", payload(4)),
	}, BatchOptions{Language: "fr"})

	for _, fr := range result.Files {
		require.Equal(t, KindValidation, KindOf(fr.Err))
		require.ErrorIs(t, fr.Err, models.ErrInvalidArgument)
		require.Equal(t, "file details are invalid", ReasonOf(fr.Err))
		require.Empty(t, fr.TaskID)
	}

	result = f.service.UploadBatch(context.Background(), []models.MediaFile{mediaFile("talk.mp3", payload(4))},
		BatchOptions{FolderID: &longFolder})
	require.Equal(t, KindValidation, KindOf(result.Files[0].Err))

	unknown := "no-such-folder"
	result = f.service.UploadBatch(context.Background(), []models.MediaFile{mediaFile("talk.mp3", payload(4))},
		BatchOptions{FolderID: &unknown})
	require.Equal(t, KindValidation, KindOf(result.Files[0].Err), "a missing folder is bad input, not a store outage")

	tasks, err := f.store.ListTasks(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, tasks)
	require.Empty(t, f.objects.Puts())
}
