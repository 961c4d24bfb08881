package storage

import "sync"

// MemorySlot keeps a slot in process memory. Failures can be injected to
// exercise persistence error paths.
type MemorySlot struct {
	mu       sync.Mutex
	name     string
	data     []byte
	ReadErr  error
	WriteErr error
}

// NewMemorySlot returns an empty slot called name.
func NewMemorySlot(name string) *MemorySlot {
	return &MemorySlot{name: name}
}

func (m *MemorySlot) Name() string { return m.name }

func (m *MemorySlot) Read() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	if m.data == nil {
		return nil, nil
	}
	return append([]byte(nil), m.data...), nil
}

func (m *MemorySlot) Write(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.data = append([]byte(nil), data...)
	return nil
}

func (m *MemorySlot) Delete() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.data = nil
	return nil
}

// SetRaw overwrites the stored bytes, bypassing encoding.
func (m *MemorySlot) SetRaw(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = data
}
