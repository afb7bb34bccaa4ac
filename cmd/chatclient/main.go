// chatclient is the terminal client of relaychat. It logs in (or registers), shows the
// broadcast channel and reads commands and messages from stdin.
//
// On a terminal, input goes through a raw-mode line editor so every keystroke can drive
// the typing indicator; piped input is read line by line.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"relaychat/internal/app/chatclient"
	"relaychat/internal/pkg/logx"
)

const passwordEnv = "RELAYCHAT_PASSWORD"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		server   string
		username string
		password string
		register bool
		logFile  string
		logLevel string
	)

	flagSet := pflag.NewFlagSet("chatclient", pflag.ContinueOnError)
	flagSet.StringVarP(&server, "server", "s", "http://localhost:8080", "server base URL")
	flagSet.StringVarP(&username, "user", "u", "", "username")
	flagSet.StringVarP(&password, "password", "p", "", "password (default $"+passwordEnv+", else prompt)")
	flagSet.BoolVar(&register, "register", false, "create the account before logging in")
	flagSet.StringVar(&logFile, "log-file", "", "write JSON log records to this file")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level for --log-file")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}

	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	if username == "" {
		return errors.New("--user is required")
	}

	if err := initLogging(logFile, logLevel); err != nil {
		return err
	}

	stdinFD := int(os.Stdin.Fd())
	interactive := term.IsTerminal(stdinFD)

	if password == "" {
		password = os.Getenv(passwordEnv)
	}
	if password == "" {
		if !interactive {
			return fmt.Errorf("no password: use --password or $%s", passwordEnv)
		}
		fmt.Fprint(os.Stderr, "Password: ")
		raw, err := term.ReadPassword(stdinFD)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		password = string(raw)
	}

	var (
		out      io.Writer = os.Stdout
		readLine func() (string, error)
		editor   *term.Terminal
	)

	if interactive {
		oldState, err := term.MakeRaw(stdinFD)
		if err != nil {
			return fmt.Errorf("enter raw mode: %w", err)
		}
		defer term.Restore(stdinFD, oldState)

		editor = term.NewTerminal(struct {
			io.Reader
			io.Writer
		}{os.Stdin, os.Stdout}, "> ")
		out = editor
		readLine = editor.ReadLine
	} else {
		scanner := bufio.NewScanner(os.Stdin)
		readLine = func() (string, error) {
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					return "", err
				}
				return "", io.EOF
			}
			return scanner.Text(), nil
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	screen := chatclient.NewTerminal(out, username)

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	session, err := chatclient.Connect(dialCtx, chatclient.Config{
		ServerURL: server,
		Username:  username,
		Password:  password,
		Register:  register,
	}, screen)
	cancel()
	if err != nil {
		return err
	}
	defer session.Close()

	if editor != nil {
		editor.AutoCompleteCallback = func(line string, pos int, key rune) (string, int, bool) {
			if !strings.HasPrefix(line+string(key), "/") {
				session.Keystroke()
			}
			return "", 0, false
		}
	}

	fmt.Fprintln(out, "type /help for commands")

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		for {
			line, err := readLine()
			if err != nil {
				readErr <- err
				return
			}
			lines <- line
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-session.Done():
			if err := session.Err(); err != nil {
				return fmt.Errorf("connection lost: %w", err)
			}
			return nil

		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err

		case line := <-lines:
			err := chatclient.Execute(session, screen, out, line)
			if errors.Is(err, chatclient.ErrQuit) {
				return nil
			}
			if err != nil {
				screen.Notice(err.Error())
			}
		}
	}
}

func initLogging(path, level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("--log-level: %w", err)
	}

	if path == "" {
		logx.InitWriterLogger(io.Discard, zerolog.Disabled)
		return nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	logx.InitWriterLogger(f, lvl)
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `chatclient connects to a relaychat server.

Usage:
  chatclient --user alice [flags]

Examples:
  # Create an account and join
  chatclient --user alice --register

  # Log in to a remote server, password from the environment
  RELAYCHAT_PASSWORD=secret123 chatclient -s https://chat.example.com -u alice

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
