package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"kidsklassiks/pkg/schema"
)

// Memory is an in-memory Store for tests and local development. Reads are
// safe under concurrent use; FailReads forces ErrUnavailable so callers can
// exercise the degraded path.
type Memory struct {
	mu          sync.RWMutex
	books       map[string]schema.Book
	adaptations map[string]schema.Adaptation
	chapters    map[string]schema.Chapter

	FailReads bool
}

func NewMemory() *Memory {
	return &Memory{
		books:       make(map[string]schema.Book),
		adaptations: make(map[string]schema.Adaptation),
		chapters:    make(map[string]schema.Chapter),
	}
}

func (m *Memory) PutBook(b schema.Book) { m.mu.Lock(); m.books[b.ID] = b; m.mu.Unlock() }

func (m *Memory) PutAdaptation(a schema.Adaptation) {
	m.mu.Lock()
	m.adaptations[a.ID] = a
	m.mu.Unlock()
}

func (m *Memory) PutChapter(c schema.Chapter) { m.mu.Lock(); m.chapters[c.ID] = c; m.mu.Unlock() }

func (m *Memory) GetBook(_ context.Context, id string) (schema.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailReads {
		return schema.Book{}, fmt.Errorf("%w: book %s", ErrUnavailable, id)
	}
	b, ok := m.books[id]
	if !ok {
		return schema.Book{}, fmt.Errorf("%w: book %s", ErrNotFound, id)
	}
	return b, nil
}

func (m *Memory) GetAdaptation(_ context.Context, id string) (schema.Adaptation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailReads {
		return schema.Adaptation{}, fmt.Errorf("%w: adaptation %s", ErrUnavailable, id)
	}
	a, ok := m.adaptations[id]
	if !ok {
		return schema.Adaptation{}, fmt.Errorf("%w: adaptation %s", ErrNotFound, id)
	}
	return a, nil
}

func (m *Memory) GetChapter(_ context.Context, adaptationID string, number int) (schema.Chapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.chapters {
		if c.AdaptationID == adaptationID && c.ChapterNumber == number {
			return c, nil
		}
	}
	return schema.Chapter{}, fmt.Errorf("%w: chapter %s/%d", ErrNotFound, adaptationID, number)
}

func (m *Memory) ListChapters(_ context.Context, adaptationID string) ([]schema.Chapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []schema.Chapter
	for _, c := range m.chapters {
		if c.AdaptationID == adaptationID {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b schema.Chapter) int { return a.ChapterNumber - b.ChapterNumber })
	return out, nil
}

func (m *Memory) SetCharacterReference(_ context.Context, bookID string, raw []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[bookID]
	if !ok {
		return fmt.Errorf("%w: book %s", ErrNotFound, bookID)
	}
	b.CharacterReference = raw
	m.books[bookID] = b
	return nil
}

func (m *Memory) SetChapterPrompt(_ context.Context, chapterID, prompt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chapters[chapterID]
	if !ok {
		return fmt.Errorf("%w: chapter %s", ErrNotFound, chapterID)
	}
	c.ImagePrompt = prompt
	m.chapters[chapterID] = c
	return nil
}

func (m *Memory) SetChapterImage(_ context.Context, chapterID, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chapters[chapterID]
	if !ok {
		return fmt.Errorf("%w: chapter %s", ErrNotFound, chapterID)
	}
	c.ImageURL = url
	m.chapters[chapterID] = c
	return nil
}
