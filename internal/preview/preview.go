// Package preview owns the locally served copies of selected images that
// the page renders before anything is sent to the analysis service.
package preview

import (
	"sync"
	"time"

	"go-analysis-console/pkg/models"

	"github.com/google/uuid"
)

// Handle is the ownership token for one live preview. The zero value
// means "no preview".
type Handle struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

func (h Handle) IsZero() bool { return h.Token == "" }

// Resource is what a handle resolves to while it is live.
type Resource struct {
	Name        string
	ContentType string
	Data        []byte
	CreatedAt   time.Time
}

// Manager allocates and revokes preview handles. It is safe for
// concurrent use because previews are read by HTTP handlers.
type Manager struct {
	mu        sync.RWMutex
	prefix    string
	resources map[string]Resource
}

// NewManager serves previews under urlPrefix, e.g. "/preview/".
func NewManager(urlPrefix string) *Manager {
	return &Manager{
		prefix:    urlPrefix,
		resources: make(map[string]Resource),
	}
}

// Acquire registers a new preview for file.
func (m *Manager) Acquire(file *models.ImageFile) Handle {
	token := uuid.NewString()
	m.mu.Lock()
	m.resources[token] = Resource{
		Name:        file.Name,
		ContentType: file.ContentType,
		Data:        file.Data,
		CreatedAt:   time.Now(),
	}
	m.mu.Unlock()
	return Handle{Token: token, URL: m.prefix + token}
}

// Release revokes h. Releasing a zero or already released handle is a no-op.
func (m *Manager) Release(h Handle) {
	if h.IsZero() {
		return
	}
	m.mu.Lock()
	delete(m.resources, h.Token)
	m.mu.Unlock()
}

// Replace releases prev before acquiring a preview for file.
func (m *Manager) Replace(prev Handle, file *models.ImageFile) Handle {
	m.Release(prev)
	return m.Acquire(file)
}

// Open resolves a token to its resource.
func (m *Manager) Open(token string) (Resource, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.resources[token]
	return r, ok
}

// Live reports how many previews are currently held.
func (m *Manager) Live() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.resources)
}
