package registry

import (
	"context"

	"github.com/charmbracelet/log"

	"kidsklassiks/pkg/schema"
	"kidsklassiks/pkg/store"
)

// Reader loads the two character sources for an adaptation and reconciles
// them. Every failure mode (missing records, unreachable store, malformed
// analysis JSON) degrades to an empty registry with a logged warning;
// generation proceeds without a consistency guide rather than failing.
type Reader struct {
	Store store.Store
}

func NewReader(s store.Store) *Reader {
	return &Reader{Store: s}
}

// ForAdaptation returns the reconciled entries for one adaptation.
func (r *Reader) ForAdaptation(ctx context.Context, adaptationID string) []Entry {
	adaptation, err := r.Store.GetAdaptation(ctx, adaptationID)
	if err != nil {
		log.Warn("character registry unavailable, skipping consistency guide", "adaptation", adaptationID, "error", err)
		return nil
	}

	var analysis *schema.CharacterAnalysis
	book, err := r.Store.GetBook(ctx, adaptation.BookID)
	if err != nil {
		log.Warn("book lookup failed, reconciling from preserve list only", "adaptation", adaptationID, "book", adaptation.BookID, "error", err)
	} else if len(book.CharacterReference) > 0 {
		var ok bool
		analysis, ok = schema.ParseCharacterAnalysis(book.CharacterReference)
		if !ok {
			log.Warn("malformed character reference, treating as absent", "book", adaptation.BookID)
		}
	}

	entries := Reconcile(analysis, adaptation.KeyCharactersToPreserve)
	log.Debug("character registry reconciled", "adaptation", adaptationID, "entries", len(entries))
	return entries
}
