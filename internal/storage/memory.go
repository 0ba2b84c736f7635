package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/topasiaedu/transcribe-upload/internal/models"
)

// MemoryStore is an in-process task and chunk store, used for dry runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	folders map[string]*models.TranscriptionFolder
	tasks   map[string]*models.TranscriptionTask
	chunks  map[string][]*models.TranscriptionFile
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		folders: make(map[string]*models.TranscriptionFolder),
		tasks:   make(map[string]*models.TranscriptionTask),
		chunks:  make(map[string][]*models.TranscriptionFile),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) InsertTask(ctx context.Context, task *models.TranscriptionTask) (*models.TranscriptionTask, error) {
	if task == nil {
		return nil, models.ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if task.FolderID != nil {
		if _, ok := m.folders[*task.FolderID]; !ok {
			return nil, fmt.Errorf("%w: folder %s does not exist", models.ErrInvalidArgument, *task.FolderID)
		}
	}

	cp := *task
	cp.ID = uuid.New().String()
	cp.CreatedAt = m.now()
	m.tasks[cp.ID] = &cp

	out := cp
	return &out, nil
}

func (m *MemoryStore) InsertChunks(ctx context.Context, files []*models.TranscriptionFile) ([]*models.TranscriptionFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	type chunkKey struct {
		taskID string
		index  int
	}
	seen := make(map[chunkKey]bool, len(files))
	for _, f := range files {
		if _, ok := m.tasks[f.TranscriptionTaskID]; !ok {
			return nil, fmt.Errorf("task %s: %w", f.TranscriptionTaskID, models.ErrNotFound)
		}
		key := chunkKey{f.TranscriptionTaskID, f.ChunkIndex}
		if seen[key] {
			return nil, fmt.Errorf("%w: chunk %d of task %s given twice", models.ErrConflict, f.ChunkIndex, f.TranscriptionTaskID)
		}
		seen[key] = true
		for _, existing := range m.chunks[f.TranscriptionTaskID] {
			if existing.ChunkIndex == f.ChunkIndex {
				return nil, fmt.Errorf("%w: chunk %d of task %s already exists", models.ErrConflict, f.ChunkIndex, f.TranscriptionTaskID)
			}
		}
	}

	now := m.now()
	created := make([]*models.TranscriptionFile, 0, len(files))
	for _, f := range files {
		cp := *f
		cp.ID = uuid.New().String()
		cp.CreatedAt = now
		m.chunks[cp.TranscriptionTaskID] = append(m.chunks[cp.TranscriptionTaskID], &cp)
		out := cp
		created = append(created, &out)
	}
	return created, nil
}

func (m *MemoryStore) GetTask(ctx context.Context, id string) (*models.TranscriptionTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) ListTasks(ctx context.Context, folderID *string) ([]*models.TranscriptionTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.TranscriptionTask
	for _, t := range m.tasks {
		if folderID != nil && (t.FolderID == nil || *t.FolderID != *folderID) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ListChunks(ctx context.Context, taskID string) ([]*models.TranscriptionFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := m.chunks[taskID]
	out := make([]*models.TranscriptionFile, 0, len(rows))
	for _, f := range rows {
		cp := *f
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id string, to models.TaskStatus, resultURL *string) (*models.TranscriptionTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if err := models.ValidateTransition(t.Status, to); err != nil {
		return nil, err
	}
	t.Status = to
	if resultURL != nil {
		t.ResultURL = resultURL
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) DeleteTask(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tasks[id]; !ok {
		return models.ErrNotFound
	}
	delete(m.tasks, id)
	delete(m.chunks, id)
	return nil
}

func (m *MemoryStore) ListOrphanedTasks(ctx context.Context, cutoff time.Time) ([]*models.TranscriptionTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.TranscriptionTask
	for id, t := range m.tasks {
		if t.Status == models.StatusPending && t.CreatedAt.Before(cutoff) && len(m.chunks[id]) == 0 {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) FailOrphanedTask(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok || t.Status != models.StatusPending || len(m.chunks[id]) > 0 {
		return false, nil
	}
	t.Status = models.StatusFailed
	return true, nil
}

func (m *MemoryStore) InsertFolder(ctx context.Context, name *string) (*models.TranscriptionFolder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	folder := &models.TranscriptionFolder{ID: uuid.New().String(), Name: name, CreatedAt: m.now()}
	m.folders[folder.ID] = folder
	cp := *folder
	return &cp, nil
}

func (m *MemoryStore) ListFolders(ctx context.Context) ([]*models.TranscriptionFolder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.TranscriptionFolder, 0, len(m.folders))
	for _, f := range m.folders {
		cp := *f
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) RenameFolder(ctx context.Context, id string, name *string) (*models.TranscriptionFolder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.folders[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	f.Name = name
	cp := *f
	return &cp, nil
}

// DeleteFolder removes a folder and detaches its tasks.
func (m *MemoryStore) DeleteFolder(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.folders[id]; !ok {
		return models.ErrNotFound
	}
	delete(m.folders, id)
	for _, t := range m.tasks {
		if t.FolderID != nil && *t.FolderID == id {
			t.FolderID = nil
		}
	}
	return nil
}

// MemoryObjects is an in-process object store. It also serves its objects
// over HTTP at PublicURL so chunk URLs can be fetched like real storage.
type MemoryObjects struct {
	mu      sync.RWMutex
	objects map[string][]byte
	baseURL string
}

func NewMemoryObjects(baseURL string) *MemoryObjects {
	return &MemoryObjects{objects: make(map[string][]byte), baseURL: baseURL}
}

// SetBaseURL changes the URL prefix returned by PublicURL, e.g. once an
// httptest server wrapping the store has started.
func (o *MemoryObjects) SetBaseURL(baseURL string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.baseURL = baseURL
}

func (o *MemoryObjects) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read object body: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("object %s: read %d bytes, expected %d", key, len(data), size)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[key] = data
	return nil
}

func (o *MemoryObjects) PublicURL(key string) string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return publicURL(o.baseURL, key)
}

func (o *MemoryObjects) KeyFromURL(u string) (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return keyFromURL(o.baseURL, u)
}

func (o *MemoryObjects) Delete(ctx context.Context, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.objects, key)
	return nil
}

// Object returns a copy of the stored bytes for key.
func (o *MemoryObjects) Object(key string) ([]byte, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	data, ok := o.objects[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Keys returns every stored key in lexical order.
func (o *MemoryObjects) Keys() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	keys := make([]string, 0, len(o.objects))
	for k := range o.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ServeHTTP serves GET /{key}.
func (o *MemoryObjects) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	data, ok := o.Object(strings.TrimPrefix(r.URL.Path, "/"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}
