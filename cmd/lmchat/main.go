// Command lmchat is a terminal client for the chat server. Replies are printed as they stream in.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dndchat/lmchat/internal/client"
	"github.com/peterh/liner"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("[Error]"), err)
		os.Exit(1)
	}
}

func run() error {
	defaultServer := os.Getenv("LMCHAT_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:2345"
	}

	server := flag.String("server", defaultServer, "chat server url")
	model := flag.String("model", "", "model to use, the persona's model when empty")
	persona := flag.String("persona", "", "persona to select on start")
	useWS := flag.Bool("ws", false, "stream replies over a WebSocket")
	verbose := flag.Bool("v", false, "log diagnostics to stderr")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	c, err := client.New(*server, client.WithLogger(logger))
	if err != nil {
		return err
	}

	r := &repl{
		client: c,
		model:  *model,
		useWS:  *useWS,
		out:    os.Stdout,
	}

	ctx := context.Background()
	if *persona != "" {
		if err := r.selectPersona(ctx, *persona); err != nil {
			return err
		}
	} else if err := r.syncModel(ctx); err != nil {
		return fmt.Errorf("cannot reach %s: %w", *server, err)
	}

	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	line.SetCompleter(completeCommand)
	defer line.Close()

	historyFile := ""
	if dir, err := os.UserConfigDir(); err == nil {
		historyFile = filepath.Join(dir, "lmchat", "chat_history")
		if f, err := os.Open(historyFile); err == nil {
			_, _ = line.ReadHistory(f)
			f.Close()
		}
	}
	defer func() {
		if historyFile == "" {
			return
		}
		if err := os.MkdirAll(filepath.Dir(historyFile), 0755); err != nil {
			return
		}
		f, err := os.OpenFile(historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return
		}
		defer f.Close()
		_, _ = line.WriteHistory(f)
	}()

	return r.loop(ctx, line)
}
