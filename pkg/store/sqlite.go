package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"kidsklassiks/pkg/schema"
)

// SQLite persists books, adaptations, and chapters in a single database file.
type SQLite struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS books (
	id                  TEXT PRIMARY KEY,
	title               TEXT NOT NULL,
	author              TEXT NOT NULL DEFAULT '',
	character_reference TEXT
);
CREATE TABLE IF NOT EXISTS adaptations (
	id                         TEXT PRIMARY KEY,
	book_id                    TEXT NOT NULL REFERENCES books(id),
	target_age_group           TEXT NOT NULL DEFAULT '6-8',
	transformation_style       TEXT NOT NULL DEFAULT 'Simple & Direct',
	overall_theme_tone         TEXT NOT NULL DEFAULT '',
	key_characters_to_preserve TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS chapters (
	id               TEXT PRIMARY KEY,
	adaptation_id    TEXT NOT NULL REFERENCES adaptations(id),
	chapter_number   INTEGER NOT NULL,
	original_text    TEXT NOT NULL DEFAULT '',
	transformed_text TEXT NOT NULL DEFAULT '',
	image_prompt     TEXT NOT NULL DEFAULT '',
	image_url        TEXT NOT NULL DEFAULT '',
	UNIQUE (adaptation_id, chapter_number)
);
`

// OpenSQLite opens (creating if needed) the database at path and ensures the
// schema exists.
func OpenSQLite(path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) GetBook(ctx context.Context, id string) (schema.Book, error) {
	var b schema.Book
	var ref sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, author, character_reference FROM books WHERE id = ?`, id,
	).Scan(&b.ID, &b.Title, &b.Author, &ref)
	if err != nil {
		return schema.Book{}, wrapRowErr("book", id, err)
	}
	if ref.Valid && ref.String != "" {
		b.CharacterReference = []byte(ref.String)
	}
	return b, nil
}

func (s *SQLite) GetAdaptation(ctx context.Context, id string) (schema.Adaptation, error) {
	var a schema.Adaptation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, book_id, target_age_group, transformation_style, overall_theme_tone, key_characters_to_preserve
		 FROM adaptations WHERE id = ?`, id,
	).Scan(&a.ID, &a.BookID, &a.TargetAgeGroup, &a.TransformationStyle, &a.OverallThemeTone, &a.KeyCharactersToPreserve)
	if err != nil {
		return schema.Adaptation{}, wrapRowErr("adaptation", id, err)
	}
	return a, nil
}

func (s *SQLite) GetChapter(ctx context.Context, adaptationID string, number int) (schema.Chapter, error) {
	var c schema.Chapter
	err := s.db.QueryRowContext(ctx,
		`SELECT id, adaptation_id, chapter_number, original_text, transformed_text, image_prompt, image_url
		 FROM chapters WHERE adaptation_id = ? AND chapter_number = ?`, adaptationID, number,
	).Scan(&c.ID, &c.AdaptationID, &c.ChapterNumber, &c.OriginalText, &c.TransformedText, &c.ImagePrompt, &c.ImageURL)
	if err != nil {
		return schema.Chapter{}, wrapRowErr("chapter", fmt.Sprintf("%s/%d", adaptationID, number), err)
	}
	return c, nil
}

func (s *SQLite) ListChapters(ctx context.Context, adaptationID string) ([]schema.Chapter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, adaptation_id, chapter_number, original_text, transformed_text, image_prompt, image_url
		 FROM chapters WHERE adaptation_id = ? ORDER BY chapter_number`, adaptationID)
	if err != nil {
		return nil, fmt.Errorf("%w: list chapters: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var out []schema.Chapter
	for rows.Next() {
		var c schema.Chapter
		if err := rows.Scan(&c.ID, &c.AdaptationID, &c.ChapterNumber, &c.OriginalText, &c.TransformedText, &c.ImagePrompt, &c.ImageURL); err != nil {
			return nil, fmt.Errorf("%w: scan chapter: %v", ErrUnavailable, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLite) SetCharacterReference(ctx context.Context, bookID string, raw []byte) error {
	return s.exec(ctx, "book", bookID,
		`UPDATE books SET character_reference = ? WHERE id = ?`, string(raw), bookID)
}

func (s *SQLite) SetChapterPrompt(ctx context.Context, chapterID, prompt string) error {
	return s.exec(ctx, "chapter", chapterID,
		`UPDATE chapters SET image_prompt = ? WHERE id = ?`, prompt, chapterID)
}

func (s *SQLite) SetChapterImage(ctx context.Context, chapterID, url string) error {
	return s.exec(ctx, "chapter", chapterID,
		`UPDATE chapters SET image_url = ? WHERE id = ?`, url, chapterID)
}

// Seed helpers used by cmd and tests.

func (s *SQLite) PutBook(ctx context.Context, b schema.Book) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO books (id, title, author, character_reference) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title, author = excluded.author,
		 character_reference = excluded.character_reference`,
		b.ID, b.Title, b.Author, nullable(string(b.CharacterReference)))
	return err
}

func (s *SQLite) PutAdaptation(ctx context.Context, a schema.Adaptation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO adaptations (id, book_id, target_age_group, transformation_style, overall_theme_tone, key_characters_to_preserve)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET target_age_group = excluded.target_age_group,
		 transformation_style = excluded.transformation_style,
		 overall_theme_tone = excluded.overall_theme_tone,
		 key_characters_to_preserve = excluded.key_characters_to_preserve`,
		a.ID, a.BookID, a.TargetAgeGroup, a.TransformationStyle, a.OverallThemeTone, a.KeyCharactersToPreserve)
	return err
}

func (s *SQLite) PutChapter(ctx context.Context, c schema.Chapter) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chapters (id, adaptation_id, chapter_number, original_text, transformed_text, image_prompt, image_url)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET original_text = excluded.original_text,
		 transformed_text = excluded.transformed_text,
		 image_prompt = excluded.image_prompt, image_url = excluded.image_url`,
		c.ID, c.AdaptationID, c.ChapterNumber, c.OriginalText, c.TransformedText, c.ImagePrompt, c.ImageURL)
	return err
}

func (s *SQLite) exec(ctx context.Context, kind, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: update %s %s: %v", ErrUnavailable, kind, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	return nil
}

func wrapRowErr(kind, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	return fmt.Errorf("%w: get %s %s: %v", ErrUnavailable, kind, id, err)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
