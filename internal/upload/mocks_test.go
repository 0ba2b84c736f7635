package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/topasiaedu/transcribe-upload/internal/models"
)

type TaskStoreMock struct {
	mock.Mock
}

func (m *TaskStoreMock) InsertTask(ctx context.Context, task *models.TranscriptionTask) (*models.TranscriptionTask, error) {
	args := m.Called(ctx, task)
	if v := args.Get(0); v != nil {
		return v.(*models.TranscriptionTask), args.Error(1)
	}
	return nil, args.Error(1)
}

type ChunkStoreMock struct {
	mock.Mock
}

func (m *ChunkStoreMock) InsertChunks(ctx context.Context, files []*models.TranscriptionFile) ([]*models.TranscriptionFile, error) {
	args := m.Called(ctx, files)
	switch v := args.Get(0).(type) {
	case func([]*models.TranscriptionFile) []*models.TranscriptionFile:
		return v(files), args.Error(1)
	case []*models.TranscriptionFile:
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}

// echoReversed assigns IDs to the inserted rows and returns them in reverse
// order so callers must sort.
func echoReversed(in []*models.TranscriptionFile) []*models.TranscriptionFile {
	out := make([]*models.TranscriptionFile, len(in))
	for i, f := range in {
		cp := *f
		cp.ID = fmt.Sprintf("row-%d", f.ChunkIndex)
		out[len(in)-1-i] = &cp
	}
	return out
}

var errStorageDown = errors.New("storage unavailable")

// fakeObjects records every put and fails the puts selected by failOn.
type fakeObjects struct {
	mu     sync.Mutex
	puts   []string
	data   map[string][]byte
	calls  map[string]int
	failOn func(key string, attempt int) error
	onPut  func(key string)
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{data: map[string][]byte{}, calls: map[string]int{}}
}

func (f *fakeObjects) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	f.mu.Lock()
	f.calls[key]++
	attempt := f.calls[key]
	f.mu.Unlock()

	if f.failOn != nil {
		if err := f.failOn(key, attempt); err != nil {
			return err
		}
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(b)) != size {
		return errors.New("short body")
	}

	f.mu.Lock()
	f.puts = append(f.puts, key)
	f.data[key] = b
	f.mu.Unlock()
	if f.onPut != nil {
		f.onPut(key)
	}
	return nil
}

func (f *fakeObjects) PublicURL(key string) string {
	return "https://cdn.test/" + key
}

func (f *fakeObjects) Puts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.puts...)
}

type progressCall struct {
	TaskID   string
	FileName string
	Percent  int
}

type fakeSink struct {
	mu    sync.Mutex
	calls []progressCall
	err   error
}

func (s *fakeSink) SetProgress(ctx context.Context, taskID, fileName string, percent int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, progressCall{TaskID: taskID, FileName: fileName, Percent: percent})
	return s.err
}

type fakeNotifier struct {
	notified []string
	err      error
}

func (n *fakeNotifier) NotifyUploaded(ctx context.Context, taskID string) error {
	n.notified = append(n.notified, taskID)
	return n.err
}
