package ingest

import (
	"context"
	"errors"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"

	"cardtracker/models"
	"cardtracker/processor"
	"cardtracker/storage"
	"cardtracker/vision"
)

// memRecords is an in-memory RecordStore with injectable failures.
type memRecords struct {
	mu        sync.Mutex
	cards     map[string]*models.Card
	created   []string
	createErr error
	attachErr error
	mergeErr  error
	deleteErr error
	onAttach  func()
}

func newMemRecords() *memRecords {
	return &memRecords{cards: map[string]*models.Card{}}
}

func (m *memRecords) CreatePlaceholder(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return "", m.createErr
	}
	oid := bson.NewObjectID()
	m.cards[oid.Hex()] = &models.Card{ID: oid, Status: models.CardPending}
	m.created = append(m.created, oid.Hex())
	return oid.Hex(), nil
}

func (m *memRecords) AttachImage(ctx context.Context, id string, ref models.ImageRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.onAttach != nil {
		m.onAttach()
	}
	if m.attachErr != nil {
		return m.attachErr
	}
	c, ok := m.cards[id]
	if !ok {
		return errors.New("no such card")
	}
	c.ImagePath, c.ImageURL, c.Status = ref.Path, ref.URL, models.CardReady
	return nil
}

func (m *memRecords) MergeMetadata(ctx context.Context, id string, md models.CardMetadata, notes string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mergeErr != nil {
		return m.mergeErr
	}
	c, ok := m.cards[id]
	if !ok {
		return errors.New("no such card")
	}
	c.CardMetadata = md
	if notes != "" {
		c.Notes = &notes
	}
	return nil
}

func (m *memRecords) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.cards, id)
	return nil
}

func (m *memRecords) get(id string) (*models.Card, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[id]
	if !ok {
		return nil, false
	}
	cp := *c
	return &cp, true
}

func (m *memRecords) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cards)
}

type extractorFunc func(ctx context.Context, image []byte) vision.Extraction

func (f extractorFunc) Extract(ctx context.Context, image []byte) vision.Extraction {
	return f(ctx, image)
}

type failingNormalizer struct{ err error }

func (f failingNormalizer) Normalize([]byte) (*processor.NormalizedImage, error) {
	return nil, f.err
}

// flakyStorage wraps a real backend and can fail individual operations.
type flakyStorage struct {
	storage.Backend
	saveErr   error
	deleteErr error
}

func (f *flakyStorage) Save(ctx context.Context, data []byte, fileName, cardID string) (string, error) {
	if f.saveErr != nil {
		return "", f.saveErr
	}
	return f.Backend.Save(ctx, data, fileName, cardID)
}

func (f *flakyStorage) Delete(ctx context.Context, relPath string) (bool, error) {
	if f.deleteErr != nil {
		return false, f.deleteErr
	}
	return f.Backend.Delete(ctx, relPath)
}
