// Command ghoctl is the operator CLI for the greenhouse controller's
// debug console. It is grounded directly on the teacher's
// cmd/cli/main.go bindicator-cli: the same TCP connect/authenticate/
// consume-welcome/send-command/read-response exchange, re-expressed as
// cobra subcommands instead of a single flag-parsed entrypoint, and the
// same golang.org/x/term password-prompt fallback when no password is
// supplied on the command line or in the environment.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	defaultPort    = "2323"
	defaultTimeout = 10 * time.Second
	readTimeout    = 5 * time.Second
)

var (
	flagHost     string
	flagPort     string
	flagPassword string
)

func main() {
	root := &cobra.Command{
		Use:   "ghoctl",
		Short: "Operator CLI for the greenhouse controller's debug console",
	}
	root.PersistentFlags().StringVar(&flagHost, "host", "", "Controller IP address (required)")
	root.PersistentFlags().StringVar(&flagPort, "port", defaultPort, "Controller console port")
	root.PersistentFlags().StringVar(&flagPassword, "password", "", "Console password (or GREENHOUSE_CONSOLE_PASSWORD env var)")

	root.AddCommand(runCommandCmd(), interactiveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCommandCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exec <command>",
		Short: "Run a single console command and print the response",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagHost == "" {
				return fmt.Errorf("--host is required")
			}
			password := resolvePassword(flagPassword)
			return runCommand(net.JoinHostPort(flagHost, flagPort), strings.Join(args, " "), password)
		},
	}
}

func interactiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive console session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagHost == "" {
				return fmt.Errorf("--host is required")
			}
			password := resolvePassword(flagPassword)
			return interactive(net.JoinHostPort(flagHost, flagPort), password)
		},
	}
}

// resolvePassword follows the teacher's priority: flag > env >
// interactive terminal prompt.
func resolvePassword(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envPass := os.Getenv("GREENHOUSE_CONSOLE_PASSWORD"); envPass != "" {
		return envPass
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Print("Password: ")
		password, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err == nil && len(password) > 0 {
			return string(password)
		}
	}
	return ""
}

func authenticate(conn net.Conn, password string) error {
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	prompt := make([]byte, 64)
	n, err := conn.Read(prompt)
	if err != nil {
		return fmt.Errorf("read prompt failed: %w", err)
	}
	if !strings.Contains(strings.ToLower(string(prompt[:n])), "password") {
		return fmt.Errorf("unexpected prompt: %s", string(prompt[:n]))
	}

	if _, err := conn.Write([]byte(password + "\n")); err != nil {
		return fmt.Errorf("send password failed: %w", err)
	}
	return nil
}

func consumeUntilPrompt(conn net.Conn) {
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	buf := make([]byte, 4096)
	_, _ = conn.Read(buf)
}

func runCommand(addr, cmd, password string) error {
	conn, err := net.DialTimeout("tcp", addr, defaultTimeout)
	if err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}
	defer conn.Close()

	if err := authenticate(conn, password); err != nil {
		return err
	}
	consumeUntilPrompt(conn)

	if _, err := conn.Write([]byte(cmd + "\n")); err != nil {
		return fmt.Errorf("send failed: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	response := make([]byte, 4096)
	n, _ := conn.Read(response)

	output := strings.TrimSpace(strings.TrimSuffix(string(response[:n]), "> "))
	fmt.Println(output)
	return nil
}

func interactive(addr, password string) error {
	fmt.Printf("Connecting to %s...\n", addr)

	conn, err := net.DialTimeout("tcp", addr, defaultTimeout)
	if err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}
	defer conn.Close()

	if err := authenticate(conn, password); err != nil {
		return err
	}

	fmt.Println("Connected! Type 'quit' or Ctrl+C to exit.")
	fmt.Println()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	welcome := make([]byte, 1024)
	n, _ := conn.Read(welcome)
	fmt.Print(string(welcome[:n]))

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "quit" || input == "exit" {
			fmt.Println("Goodbye!")
			return nil
		}

		if _, err := conn.Write([]byte(input + "\n")); err != nil {
			return fmt.Errorf("send failed: %w", err)
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		response := make([]byte, 4096)
		n, err := conn.Read(response)
		if err != nil {
			fmt.Println("Connection lost, reconnecting...")
			conn.Close()
			conn, err = net.DialTimeout("tcp", addr, defaultTimeout)
			if err != nil {
				return fmt.Errorf("reconnect failed: %w", err)
			}
			if err := authenticate(conn, password); err != nil {
				return fmt.Errorf("reconnect auth failed: %w", err)
			}
			consumeUntilPrompt(conn)
			continue
		}

		output := strings.TrimSpace(strings.TrimSuffix(string(response[:n]), "> "))
		if output != "" {
			fmt.Println(output)
		}
	}
	return nil
}
