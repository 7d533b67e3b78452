package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/landtalk/internal/backend"
	"github.com/vovakirdan/landtalk/internal/config"
	"github.com/vovakirdan/landtalk/internal/log"
	"github.com/vovakirdan/landtalk/internal/msgsync"
)

func newChatCmd(flags *rootFlags) *cobra.Command {
	var url, email, password string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Run the terminal messaging client",
		RunE: func(cmd *cobra.Command, args []string) error {
			bootLog := log.New("info", flags.pretty)
			cfg, _, err := config.Load(bootLog, flags.configPath)
			if err != nil {
				return err
			}
			if flags.logLevel != "" {
				cfg.LogLevel = flags.logLevel
			}
			if url != "" {
				cfg.Backend.URL = url
			}
			if email != "" {
				cfg.Backend.Email = email
			}
			if password != "" {
				cfg.Backend.Password = password
			}

			logger := log.New(cfg.LogLevel, flags.pretty)
			return runChat(cfg, logger)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "backend base URL")
	cmd.Flags().StringVar(&email, "email", "", "login email")
	cmd.Flags().StringVar(&password, "password", "", "login password")
	return cmd
}

func runChat(cfg config.Config, logger *zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	login, err := backend.Login(ctx, cfg.Backend.URL, cfg.Backend.Email, cfg.Backend.Password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	logger.Info().Str("user", login.User.FullName).Int64("user_id", login.User.ID).Msg("logged in")

	querier := backend.NewClient(cfg.Backend.URL, login.Token, *logger)
	realtime, err := backend.DialRealtime(ctx, backend.RealtimeURL(cfg.Backend.URL), login.Token, *logger)
	if err != nil {
		return err
	}
	defer realtime.Close()

	session := msgsync.NewSession(msgsync.Config{
		ViewerID:        login.User.ID,
		ViewerName:      login.User.FullName,
		PageSize:        cfg.Sync.PageSize,
		ScrollThreshold: cfg.Sync.ScrollThreshold,
		ResyncInterval:  cfg.Sync.ResyncInterval,
	}, querier, realtime, nil, consoleNotifier{}, *logger)

	if err := session.Start(ctx); err != nil {
		return err
	}
	defer session.Close()

	go renderLoop(ctx, session)

	printConversations(session, login.User.ID)
	fmt.Println(`Commands: /list /open <id> /older /new <worker-id> <subject> /end <id> /leave /resync /quit; anything else sends.`)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case line == "/list":
			printConversations(session, login.User.ID)
		case line == "/older":
			session.LoadOlder()
		case line == "/leave":
			session.LeaveConversation()
			fmt.Println("left conversation")
		case line == "/resync":
			session.Resync()
		case strings.HasPrefix(line, "/open "):
			id, err := strconv.ParseInt(strings.TrimSpace(line[len("/open "):]), 10, 64)
			if err != nil {
				fmt.Println("usage: /open <conversation-id>")
				continue
			}
			if err := session.OpenConversation(id); err != nil {
				fmt.Printf("open: %v\n", err)
			}
		case strings.HasPrefix(line, "/new "):
			fields := strings.SplitN(strings.TrimSpace(line[len("/new "):]), " ", 2)
			if len(fields) != 2 {
				fmt.Println("usage: /new <worker-id> <subject>")
				continue
			}
			workerID, err := strconv.ParseInt(fields[0], 10, 64)
			if err != nil {
				fmt.Println("usage: /new <worker-id> <subject>")
				continue
			}
			session.CreateConversation(workerID, fields[1])
		case strings.HasPrefix(line, "/end "):
			id, err := strconv.ParseInt(strings.TrimSpace(line[len("/end "):]), 10, 64)
			if err != nil {
				fmt.Println("usage: /end <conversation-id>")
				continue
			}
			if err := session.CloseThread(id); err != nil {
				fmt.Printf("end: %v\n", err)
			}
		default:
			if err := session.Send(line); err != nil {
				fmt.Printf("send: %v\n", err)
				// A failed send restores the draft; show it so it can
				// be edited and resent.
				if draft := session.Composer(); draft != "" {
					fmt.Printf("draft: %s\n", draft)
				}
			}
		}
	}
	return scanner.Err()
}

func renderLoop(ctx context.Context, session *msgsync.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-session.Updates():
			if !ok {
				return
			}
			if update.Kind == msgsync.UpdateWindow {
				printWindowTail(session)
			}
		}
	}
}

func printConversations(session *msgsync.Session, viewerID int64) {
	convs := session.Conversations()
	if len(convs) == 0 {
		fmt.Println("no conversations yet; start one with /new")
		return
	}
	for _, c := range convs {
		other := c.Conversation.OtherParty(viewerID)
		name := "?"
		if other != nil {
			name = other.FullName
		}
		unread := ""
		if c.Unread > 0 {
			unread = fmt.Sprintf(" [%d unread]", c.Unread)
		}
		fmt.Printf("#%d %s — %s (%s)%s: %s\n",
			c.Conversation.ID, c.Conversation.Subject, name, c.Conversation.Status, unread, c.LastBody)
	}
}

func printWindowTail(session *msgsync.Session) {
	msgs, _ := session.WindowSnapshot()
	if len(msgs) == 0 {
		return
	}
	m := msgs[len(msgs)-1]
	marker := ""
	if m.ID.IsPlaceholder() {
		marker = " (sending…)"
	}
	fmt.Printf("[%s] %s: %s%s\n", m.CreatedAt.Format("15:04:05"), m.SenderName, m.Body, marker)
}

type consoleNotifier struct{}

func (consoleNotifier) Success(msg string) { fmt.Println("✓ " + msg) }
func (consoleNotifier) Error(msg string)   { fmt.Println("✗ " + msg) }
