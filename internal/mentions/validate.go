package mentions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"logbook/api/internal/doctree"
)

// MissingFilesMessage is the single message shown on the content field when file mentions point
// at attachments that are gone.
const MissingFilesMessage = "One or more mentioned files are missing"

var ErrMissingFiles = errors.New("mentioned files are missing")

// FileState describes a file a mention points at.
type FileState struct {
	// EntryID owns the file; empty when no such file is known.
	EntryID string
	// Present reports whether the file content is stored.
	Present bool
}

// FileChecker looks files up for validation.
type FileChecker interface {
	CheckFile(ctx context.Context, fileID string) (FileState, error)
}

// MissingFilesError lists the file mentions of an entry that have nothing behind them.
type MissingFilesError struct {
	EntryID string
	FileIDs []string
}

func (e *MissingFilesError) Error() string {
	return fmt.Sprintf("entry %s: %s: %s", e.EntryID, ErrMissingFiles, strings.Join(e.FileIDs, ", "))
}

func (e *MissingFilesError) Unwrap() error {
	return ErrMissingFiles
}

// FieldErrors reports the failure against the content field.
func (e *MissingFilesError) FieldErrors() map[string]string {
	return map[string]string{"content": MissingFilesMessage}
}

const checkConcurrency = 8

// ValidateFiles checks the File mentions that belong to entryID. A mention of a file owned by
// another entry is not this entry's concern; a mention of an unknown file, or of a file of this
// entry whose content is gone, is missing. Checker failures abort validation.
func ValidateFiles(ctx context.Context, checker FileChecker, entryID string, refs []doctree.Mentionable) error {
	files := Unique(ByType(refs, doctree.EntityFile))
	if len(files) == 0 {
		return nil
	}

	missing := make([]bool, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(checkConcurrency)
	for i, ref := range files {
		g.Go(func() error {
			state, err := checker.CheckFile(gctx, ref.ID)
			if err != nil {
				return fmt.Errorf("check file %s: %w", ref.ID, err)
			}
			switch {
			case state.EntryID == "":
				missing[i] = true
			case state.EntryID == entryID:
				missing[i] = !state.Present
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var ids []string
	for i, ref := range files {
		if missing[i] {
			ids = append(ids, ref.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return &MissingFilesError{EntryID: entryID, FileIDs: ids}
}
