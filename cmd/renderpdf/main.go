package main

// Render one registry message body to PDF with the production renderer:
//   go run ./cmd/renderpdf -in message.html -title "Message 102" -out ./out/message.pdf

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"meetingapp-backend/internal/pdf/gs"
	"meetingapp-backend/internal/pdf/pagecount"
	"meetingapp-backend/internal/pdf/render"
	"meetingapp-backend/internal/shared/config"
)

func main() {
	cfg := config.Load()

	inPath := flag.String("in", "-", "HTML or base64 file with the message body, or - for stdin")
	outPath := flag.String("out", "./out/message.pdf", "output path for the generated PDF")
	title := flag.String("title", "", "heading printed above an HTML fragment")
	timeout := flag.Duration("timeout", cfg.RenderTimeout, "render timeout")
	flag.Parse()

	body, err := readInput(*inPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read input failed: %v\n", err)
		os.Exit(1)
	}

	renderer := render.NewRodRenderer(cfg.ChromeBin, *timeout)
	defer renderer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout+10*time.Second)
	defer cancel()

	if err := renderer.Render(ctx, body, *outPath, *title); err != nil {
		fmt.Fprintf(os.Stderr, "render failed: %v\n", err)
		os.Exit(1)
	}

	pages, err := pagecount.Default(gs.New(gs.Locate(cfg.GhostscriptBin))).Count(ctx, *outPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "page count failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("OK: wrote %s (%d pages)\n", *outPath, pages)
}

func readInput(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	return string(data), err
}
