package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/capitalize-ai/stylist-engine/internal/llm"
	"github.com/capitalize-ai/stylist-engine/internal/model"
	"github.com/capitalize-ai/stylist-engine/internal/pipeline"
	"github.com/capitalize-ai/stylist-engine/internal/profile"
	"github.com/capitalize-ai/stylist-engine/internal/session"
	"github.com/capitalize-ai/stylist-engine/internal/store/memory"
	"github.com/capitalize-ai/stylist-engine/internal/stylist"
	"github.com/capitalize-ai/stylist-engine/pkg/logger"
)

var (
	youLabel     = color.New(color.FgGreen, color.Bold).SprintFunc()
	stylistLabel = color.New(color.FgCyan, color.Bold).SprintFunc()
	resultStyle  = color.New(color.FgMagenta).SprintFunc()
	noticeStyle  = color.New(color.FgYellow).SprintFunc()
	faint        = color.New(color.Faint).SprintFunc()
)

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log := logger.NewNop()
	if verbose {
		dev, err := logger.NewDevelopment()
		if err != nil {
			return err
		}
		log = dev
	}

	sess, err := buildSession(ctx, log)
	if err != nil {
		return err
	}
	defer sess.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, faint("Type your message and press Enter. /new starts over, exit quits."))
	fmt.Fprintln(out)

	printer := newTimelinePrinter(out)
	printer.print(sess.Timeline())

	input := make(chan string)
	go func() {
		defer close(input)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			input <- scanner.Text()
		}
	}()

	for {
		fmt.Fprint(out, youLabel("You: "))

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-input:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "/new":
			sess.StartNew()
			printer.reset()
			printer.print(sess.Timeline())
			continue
		case "/state":
			st := sess.State()
			fmt.Fprintf(out, "%s state=%s thread=%s\n", faint("·"), st.State, st.ThreadID)
			continue
		}

		if err := sess.Submit(ctx, line); err != nil {
			fmt.Fprintln(out, noticeStyle("! "+err.Error()))
			continue
		}
		printer.markSeen(line)

		followTurn(ctx, sess, out)
		printer.print(sess.Timeline())
	}
}

// followTurn prints progress labels until the session is done with the turn.
func followTurn(ctx context.Context, sess *session.Session, out io.Writer) {
	updates, cancel := sess.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		sess.Wait()
		close(done)
	}()

	lastLabel := ""
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-updates:
			if label := sess.State().Label; label != "" && label != lastLabel {
				fmt.Fprintln(out, faint("  "+label))
				lastLabel = label
			}
		}
	}
}

func buildSession(ctx context.Context, log *logger.Logger) (*session.Session, error) {
	profilesFile := profilesArg
	if profilesFile == "" {
		profilesFile = cfg.ProfilesFile
	}
	catalogFile := catalogArg
	if catalogFile == "" {
		catalogFile = cfg.CatalogFile
	}

	profiles, err := profile.LoadFile(profilesFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, noticeStyle("no profiles loaded: "+err.Error()))
		profiles = profile.NewStore()
	}
	p, err := profiles.Get(ctx, userID)
	if err != nil {
		p = model.UserProfile{UserID: userID}
	}

	catalog, err := stylist.LoadCatalog(catalogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	client, err := llm.Resolve(llm.Provider(cfg.DefaultLLM), cfg.AnthropicAPIKey, cfg.OpenAIAPIKey)
	if err != nil {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY or OPENAI_API_KEY", err)
	}

	threads := memory.NewThreadStore()
	orchestrator := pipeline.NewOrchestrator(pipeline.Dependencies{
		Curator:  catalog,
		Remixer:  catalog,
		Wardrobe: catalog,
		Images:   catalog,
		Writer:   threads,
	}, pipeline.Config{ImageConcurrency: cfg.ImageConcurrency}, log)

	return session.New(uuid.NewString(), p, session.Dependencies{
		Threads:   threads,
		Assistant: llm.NewAssistant(client, cfg.AssistantModel, cfg.AssistantMaxTokens),
		Pipeline:  orchestrator,
	}, log, session.WithHistoryLimit(cfg.HistoryLimit)), nil
}
