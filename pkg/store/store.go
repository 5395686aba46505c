// Package store holds the read path into Book/Adaptation state plus the
// write-back of generated prompts and image locations. The consistency
// pipeline only ever reads; a missing record is reported with ErrNotFound and
// an unreachable backend with ErrUnavailable so callers can degrade instead
// of failing the whole generation.
package store

import (
	"context"
	"errors"

	"kidsklassiks/pkg/schema"
)

var (
	ErrNotFound    = errors.New("store: not found")
	ErrUnavailable = errors.New("store: unavailable")
)

type Store interface {
	GetBook(ctx context.Context, id string) (schema.Book, error)
	GetAdaptation(ctx context.Context, id string) (schema.Adaptation, error)
	GetChapter(ctx context.Context, adaptationID string, number int) (schema.Chapter, error)
	ListChapters(ctx context.Context, adaptationID string) ([]schema.Chapter, error)

	// SetCharacterReference stores the raw analysis payload on a book.
	SetCharacterReference(ctx context.Context, bookID string, raw []byte) error

	// SetChapterPrompt and SetChapterImage write pipeline results back.
	SetChapterPrompt(ctx context.Context, chapterID, prompt string) error
	SetChapterImage(ctx context.Context, chapterID, url string) error
}
