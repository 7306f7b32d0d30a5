package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/example/cane-check/internal/config"
	"github.com/example/cane-check/internal/controller"
	"github.com/example/cane-check/internal/logging"
	"github.com/example/cane-check/internal/predictor"
	"github.com/example/cane-check/internal/preview"
)

const help = `commands:
  open <path>   select an image as if picked in a file dialog
  drop <path>   drag a file over the drop target and drop it
  submit        send the selected image for classification
  status        show the current state
  quit          exit`

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func mainImpl() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	client := predictor.New(cfg.PredictionEndpoint, cfg.PredictTimeout, logger)
	ctrl := controller.New(client, preview.NewMemoryStore(), controller.Options{
		PreviewTTL: cfg.PreviewTTL,
		Logger:     logger,
	})
	ctx := context.Background()
	defer ctrl.Close(ctx)

	rl, err := readline.New("> ")
	if err != nil {
		return err
	}
	defer func() {
		_ = rl.Close()
	}()

	fmt.Println("Sugarcane Disease Detector, prediction service at " + client.Endpoint())
	fmt.Println(help)
	for {
		line, err := rl.Readline()
		if err != nil { // io.EOF or interrupt
			break
		}
		cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
		arg = strings.TrimSpace(arg)

		switch cmd {
		case "":
		case "open", "drop":
			if arg == "" {
				fmt.Println("usage: " + cmd + " <path>")
				continue
			}
			file, err := readFile(arg)
			if err != nil {
				fmt.Println(err)
				continue
			}
			var snap controller.Snapshot
			if cmd == "drop" {
				ctrl.SetDragActive(true)
				snap = ctrl.Drop(ctx, file)
			} else {
				file.Source = controller.SourcePicker
				snap = ctrl.SelectFile(ctx, file)
			}
			fmt.Print(Render(snap))
		case "submit":
			snap, done, ok := ctrl.SubmitAsync(ctx)
			fmt.Print(Render(snap))
			if ok {
				fmt.Print(Render(<-done))
			}
		case "status":
			fmt.Print(Render(ctrl.Snapshot()))
		case "quit", "exit":
			return nil
		default:
			fmt.Println(help)
		}
	}
	logger.Debug("console closed", zap.String("endpoint", client.Endpoint()))
	return nil
}

// readFile loads path and derives its declared type from the content, the
// way a browser fills in File.type.
func readFile(path string) (controller.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return controller.File{}, err
	}
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return controller.File{}, err
	}
	name := path
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		name = path[i+1:]
	}
	return controller.File{Name: name, MIMEType: mtype.String(), Data: data}, nil
}
