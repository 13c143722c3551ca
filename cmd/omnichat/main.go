package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/justarandomnameduh/omnichat/internal/backend"
	"github.com/justarandomnameduh/omnichat/internal/chat"
	"github.com/justarandomnameduh/omnichat/internal/config"
	"github.com/justarandomnameduh/omnichat/internal/tui"
)

func main() {
	backendURL := flag.String("backend", "", "backend URL (overrides OMNICHAT_BACKEND_URL)")
	logFile := flag.String("log", "", "log file path (overrides OMNICHAT_LOG_FILE)")
	oneshot := flag.String("oneshot", "", "send one prompt without the TUI and print the reply")
	model := flag.String("model", "", "model to load before a oneshot prompt")
	images := flag.String("image", "", "comma-separated image paths for a oneshot prompt")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *backendURL != "" {
		cfg.BackendURL = *backendURL
	}
	if *logFile != "" {
		cfg.LogFile = *logFile
	}

	client := backend.NewClient(cfg.BackendURL, cfg.RequestTimeout, cfg.UploadTimeout)

	if *oneshot != "" {
		if err := runOneshot(client, cfg, *oneshot, *model, *images); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// The terminal belongs to the TUI, so logs go to a file.
	if f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
		defer f.Close()
		log.SetOutput(f)
	} else {
		fmt.Fprintf(os.Stderr, "WARN: cannot open log file %s: %v\n", cfg.LogFile, err)
		log.SetOutput(io.Discard)
	}

	log.Printf("INFO: starting omnichat (backend %s)", cfg.BackendURL)

	orc := chat.New(client, cfg)
	orc.Start()
	defer orc.Close()

	p := tea.NewProgram(tui.New(orc, cfg), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runOneshot exercises the backend without the TUI: optionally load a
// model, upload any images, generate once, print the reply.
func runOneshot(client *backend.Client, cfg *config.Config, text, model, images string) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.StreamTimeout)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}

	if model != "" {
		if err := client.SwitchModel(ctx, model); err != nil {
			return fmt.Errorf("failed to load model %s: %w", model, err)
		}
	} else if !health.ModelLoaded {
		return fmt.Errorf("no model loaded on the backend; pass -model")
	}

	var paths []string
	for _, img := range strings.Split(images, ",") {
		img = strings.TrimSpace(img)
		if img == "" {
			continue
		}
		saved, err := client.Upload(ctx, img)
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", img, err)
		}
		paths = append(paths, saved.Path)
	}

	reply, err := client.Generate(ctx, &backend.GenerateRequest{
		Text:       text,
		ImagePaths: paths,
	})
	if err != nil {
		return err
	}
	fmt.Println(reply)
	return nil
}
