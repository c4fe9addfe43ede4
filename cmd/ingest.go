package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"notebook/internal/models"
)

const pollInterval = 500 * time.Millisecond

// runIngest uploads the given PDF files and waits for each index build
// to reach a terminal status.
func runIngest(a *app, paths []string) error {
	if len(paths) == 0 {
		return fmt.Errorf("usage: notebook ingest <file.pdf> [file.pdf ...]")
	}

	ctx := context.Background()
	var docs []models.Document

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %v", path, err)
		}

		doc, err := a.engine.Upload(ctx, filepath.Base(path), data)
		if err != nil {
			return fmt.Errorf("failed to upload %s: %v", path, err)
		}
		docs = append(docs, doc)
	}

	bar := getProgressBar(len(docs), "Indexing documents...")

	failed := 0
	for _, doc := range docs {
		final, err := waitForDocument(ctx, a, doc.ID)
		if err != nil {
			return err
		}
		bar.Add(1)

		if final.Status == models.StatusFailed {
			failed++
			color.Red("\n✗ %s: %s", final.Filename, final.ErrorMessage)
		}
	}
	bar.Finish()

	if failed > 0 {
		color.Yellow("\n%d of %d documents failed to index", failed, len(docs))
	} else {
		color.Green("\n✓ Indexed %d document(s)", len(docs))
	}
	return nil
}

func waitForDocument(ctx context.Context, a *app, id string) (models.Document, error) {
	for {
		doc, err := a.engine.Get(ctx, id)
		if err != nil {
			return models.Document{}, err
		}
		if doc.Status == models.StatusReady || doc.Status == models.StatusFailed {
			return doc, nil
		}
		time.Sleep(pollInterval)
	}
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("docs"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}
