package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"

	"notebook/internal/models"
	cfgPkg "notebook/pkg/config"
)

// runChat is an interactive loop over all ready documents in the
// catalog. Each answered question feeds the next one as history.
func runChat(a *app, config *cfgPkg.Config) error {
	ctx := context.Background()

	docs, err := a.engine.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list documents: %v", err)
	}

	var selected []string
	for _, doc := range docs {
		if doc.Status == models.StatusReady {
			selected = append(selected, doc.ID)
		}
	}
	if len(selected) == 0 {
		return fmt.Errorf("no indexed documents; run 'notebook ingest' first")
	}

	color.Cyan("Chatting with %d document(s) (type 'exit' to quit)", len(selected))
	for _, doc := range docs {
		if doc.Status == models.StatusReady {
			fmt.Printf("  - %s (%d chunks)\n", doc.Filename, doc.ChunkCount)
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	var history []models.ConversationTurn

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if strings.ToLower(question) == "exit" {
			break
		}

		spinner := getSpinner("Searching documents...")
		answer, passages, err := a.engine.Ask(ctx, selected, question, history)
		spinner.Finish()
		fmt.Print("\r")

		if err != nil {
			color.Red("Error: %v\n", err)
			continue
		}

		assistantPrompt("Assistant: ")
		fmt.Printf("%s\n", answer)

		if len(passages) > 0 {
			color.HiBlack("  (%d passages from %d document(s))",
				len(passages), countDocuments(passages))
		}

		history = append(history, models.ConversationTurn{
			Question: question,
			Answer:   answer,
		})
		if max := config.Query.HistoryTurns; max > 0 && len(history) > max {
			history = history[len(history)-max:]
		}
	}

	return scanner.Err()
}

func countDocuments(passages []models.RetrievedPassage) int {
	seen := make(map[string]bool)
	for _, p := range passages {
		seen[p.DocumentID] = true
	}
	return len(seen)
}
