package agents

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/boat-builder/mediapod"
	"github.com/boat-builder/mediapod/tools"
)

// generateFile runs generate against a new file in dir and returns its path.
// The file is removed again when generation fails.
func generateFile(dir, pattern string, generate func(w io.Writer) error) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create downloads dir: %w", err)
	}
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create output file: %w", err)
	}
	path := f.Name()
	err = generate(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// uploadGenerated pushes a generated file to the collection and narrates it.
func uploadGenerated(ctx context.Context, task *mediapod.Task, catalog tools.MediaCatalog, collectionID, path string, mediaType tools.MediaType) (tools.Media, error) {
	if err := task.Action(fmt.Sprintf("Generated %s saved at <i>%s</i>", mediaType, path)); err != nil {
		return tools.Media{}, err
	}
	if err := task.PushUpdate(ctx); err != nil {
		return tools.Media{}, err
	}
	media, err := catalog.Upload(ctx, tools.UploadRequest{
		CollectionID: collectionID,
		Source:       path,
		SourceType:   tools.SourceLocalFile,
		MediaType:    mediaType,
		Name:         filepath.Base(path),
	})
	if err != nil {
		return tools.Media{}, err
	}
	media.MediaType = mediaType
	return media, nil
}
