package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// MemoryStore keeps objects in process. It backs local runs without cloud
// credentials and tests.
type MemoryStore struct {
	bucket string

	mu      sync.Mutex
	objects map[string]memoryObject
}

type memoryObject struct {
	contentType string
	data        []byte
}

func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{bucket: bucket, objects: make(map[string]memoryObject)}
}

func (m *MemoryStore) Put(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	m.mu.Lock()
	m.objects[name] = memoryObject{contentType: contentType, data: data}
	m.mu.Unlock()
	return m.URL(name), nil
}

func (m *MemoryStore) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	m.mu.Lock()
	obj, ok := m.objects[name]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *MemoryStore) URL(name string) string {
	return PublicURL(m.bucket, "", name)
}

// Names lists stored objects in sorted order.
func (m *MemoryStore) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.objects))
	for name := range m.objects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ContentType reports the content type an object was stored with.
func (m *MemoryStore) ContentType(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.objects[name].contentType
}

var _ Store = (*MemoryStore)(nil)
