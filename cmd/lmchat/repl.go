package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/dndchat/lmchat/internal/client"
	"github.com/dndchat/lmchat/internal/frame"
	"github.com/dndchat/lmchat/internal/models"
	"github.com/peterh/liner"
)

// maxAttachBytes bounds what /attach reads into a single turn.
const maxAttachBytes = 1 << 20

var commands = []string{
	"/attach", "/custom", "/delpersona", "/help", "/history", "/model", "/models", "/newpersona",
	"/persona", "/personas", "/quit",
}

const helpText = `/models              list the models the server can run
/model <id>          use another model
/personas            list personas
/persona <name>      talk to another persona
/newpersona <name> <model> <prompt>
                     create or replace a persona
/delpersona <name>   delete a persona
/custom <prompt>     use a one-off system prompt, /custom alone to stop
/history             show the conversation so far
/attach <path>       send a file with the next message
/quit                leave`

// prompter is the part of *liner.State the loop needs.
type prompter interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

type repl struct {
	client *client.Client
	model  string
	useWS  bool
	out    io.Writer

	attachments []models.FileUpload

	mu     sync.Mutex
	cancel context.CancelFunc
}

func (r *repl) loop(ctx context.Context, line prompter) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)
	go func() {
		for range sigs {
			r.cancelTurn()
		}
	}()

	for {
		input, err := line.Prompt(promptStyle.Render("you> "))
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			fmt.Fprintln(r.out)
			return nil
		}
		if err != nil {
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			quit, err := r.command(ctx, input)
			if err != nil {
				fmt.Fprintln(r.out, errorStyle.Render("[Error]"), err)
			}
			if quit {
				return nil
			}
			continue
		}

		r.turn(ctx, input)
	}
}

// cancelTurn stops the reply being streamed, if any.
func (r *repl) cancelTurn() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

func (r *repl) turn(ctx context.Context, input string) {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer r.cancelTurn()

	req := models.SubmitRequest{Model: r.model, ChatInput: input, FileUploads: r.attachments}
	r.attachments = nil

	reply := r.client.Reply
	if r.useWS {
		reply = r.client.ReplyWS
	}

	p := &printer{w: r.out}
	_, err := reply(ctx, req, p.update)
	p.end()
	if err == nil {
		return
	}

	if ctx.Err() != nil {
		fmt.Fprintln(r.out, dimStyle.Render("[Cancelled]"))
		return
	}
	fmt.Fprintln(r.out, errorStyle.Render(client.FailureNotice))
}

// printer writes the part of every update the terminal has not shown yet.
type printer struct {
	w       io.Writer
	role    string
	printed int
}

func (p *printer) update(u frame.Update) {
	if u.Role != p.role {
		if p.role != "" {
			fmt.Fprintln(p.w)
		}
		fmt.Fprint(p.w, roleStyle(u.Role).Render(u.Role+">")+" ")
		p.role = u.Role
	}
	if len(u.Text) > p.printed {
		fmt.Fprint(p.w, u.Text[p.printed:])
		p.printed = len(u.Text)
	}
}

func (p *printer) end() {
	if p.role != "" {
		fmt.Fprintln(p.w)
	}
}

// command runs a slash command and reports whether the loop should end.
func (r *repl) command(ctx context.Context, input string) (bool, error) {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return true, nil

	case "/help":
		fmt.Fprintln(r.out, dimStyle.Render(helpText))

	case "/models":
		ids, err := r.client.Models(ctx)
		if err != nil {
			return false, err
		}
		for _, id := range ids {
			marker := "  "
			if id == r.model {
				marker = "* "
			}
			fmt.Fprintln(r.out, marker+id)
		}

	case "/model":
		if arg == "" {
			fmt.Fprintln(r.out, r.model)
			return false, nil
		}
		r.model = arg
		fmt.Fprintln(r.out, dimStyle.Render("Using model "+arg))

	case "/personas":
		personas, err := r.client.Personas(ctx)
		if err != nil {
			return false, err
		}
		names := make([]string, 0, len(personas))
		for name := range personas {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			fmt.Fprintf(r.out, "%s %s\n", assistantStyle.Render(name), dimStyle.Render("("+personas[name].Model+")"))
		}

	case "/persona":
		if arg == "" {
			return false, errors.New("usage: /persona <name>")
		}
		return false, r.selectPersona(ctx, arg)

	case "/newpersona":
		parts := strings.SplitN(arg, " ", 3)
		if len(parts) < 3 || strings.TrimSpace(parts[2]) == "" {
			return false, errors.New("usage: /newpersona <name> <model> <prompt>")
		}
		p := models.Persona{Name: parts[0], DefaultModel: parts[1], SystemPrompt: strings.TrimSpace(parts[2])}
		if err := r.client.UpsertPersona(ctx, p); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, dimStyle.Render("Saved persona "+p.Name))

	case "/delpersona":
		if arg == "" {
			return false, errors.New("usage: /delpersona <name>")
		}
		err := r.client.DeletePersona(ctx, arg)
		if client.IsNotFound(err) {
			return false, fmt.Errorf("no persona named %q", arg)
		}
		if err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, dimStyle.Render("Deleted persona "+arg))

	case "/custom":
		s, err := r.client.SetCustomMode(ctx, r.model, arg)
		if err != nil {
			return false, err
		}
		if s.Model != "" {
			r.model = s.Model
		}
		fmt.Fprintln(r.out, dimStyle.Render("Talking to "+s.Persona))

	case "/history":
		h, err := r.client.History(ctx)
		if err != nil {
			return false, err
		}
		for _, e := range h.Entries {
			label := h.Persona
			if e.Sender == models.SenderUser {
				label = "you"
			}
			style := assistantStyle
			if e.Sender == models.SenderUser {
				style = userStyle
			}
			fmt.Fprintf(r.out, "%s %s\n", style.Render(label+">"), e.Content)
		}

	case "/attach":
		if arg == "" {
			return false, errors.New("usage: /attach <path>")
		}
		f, err := readAttachment(arg)
		if err != nil {
			return false, err
		}
		r.attachments = append(r.attachments, f)
		fmt.Fprintln(r.out, dimStyle.Render(fmt.Sprintf("Attached %s (%s)", f.Filename, f.Type)))

	default:
		return false, fmt.Errorf("unknown command %s, try /help", name)
	}
	return false, nil
}

func (r *repl) selectPersona(ctx context.Context, name string) error {
	details, err := r.client.SelectPersona(ctx, name)
	if client.IsNotFound(err) {
		return fmt.Errorf("no persona named %q", name)
	}
	if err != nil {
		return err
	}
	if details.Model != "" {
		r.model = details.Model
	}
	fmt.Fprintln(r.out, dimStyle.Render(fmt.Sprintf("Talking to %s on %s", name, r.model)))
	return nil
}

// syncModel picks up the active persona's model unless one was given on the command line.
func (r *repl) syncModel(ctx context.Context) error {
	s, err := r.client.Session(ctx)
	if err != nil {
		return err
	}
	if r.model == "" {
		r.model = s.Model
	}
	fmt.Fprintln(r.out, dimStyle.Render(fmt.Sprintf("Talking to %s on %s, /help for commands", s.Persona, r.model)))
	return nil
}

// readAttachment loads a file for a turn. Text stays as is, anything else becomes a data URL.
func readAttachment(path string) (models.FileUpload, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.FileUpload{}, err
	}
	defer f.Close()

	b, err := io.ReadAll(io.LimitReader(f, maxAttachBytes+1))
	if err != nil {
		return models.FileUpload{}, err
	}
	if len(b) > maxAttachBytes {
		return models.FileUpload{}, fmt.Errorf("%s is larger than %d bytes", path, maxAttachBytes)
	}

	typ := mime.TypeByExtension(filepath.Ext(path))
	if typ == "" {
		typ = http.DetectContentType(b)
	}
	typ, _, _ = strings.Cut(typ, ";")

	up := models.FileUpload{Filename: filepath.Base(path), Type: typ, Content: string(b)}
	if !up.IsText() || !utf8.Valid(b) {
		up.Content = "data:" + typ + ";base64," + base64.StdEncoding.EncodeToString(b)
	}
	return up, nil
}

func completeCommand(line string) []string {
	if !strings.HasPrefix(line, "/") || strings.Contains(line, " ") {
		return nil
	}
	var out []string
	for _, c := range commands {
		if strings.HasPrefix(c, line) {
			out = append(out, c)
		}
	}
	return out
}
