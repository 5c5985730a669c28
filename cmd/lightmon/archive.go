package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// passphraseEnv supplies the passphrase when stdin is not a terminal.
const passphraseEnv = "LIGHTMON_PASSPHRASE"

// readPassphrase prompts without echo on a terminal. Otherwise it takes
// LIGHTMON_PASSPHRASE or the first line of stdin.
func readPassphrase(prompt string) (string, error) {
	if p := os.Getenv(passphraseEnv); p != "" {
		return p, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(raw), nil
}

// archive command
var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Manage archived reports",
}

var archiveKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Create the archive encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("archive")
		if err != nil {
			return err
		}
		defer a.Close()

		passphrase, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		if os.Getenv(passphraseEnv) == "" && term.IsTerminal(int(os.Stdin.Fd())) {
			confirm, err := readPassphrase("Repeat passphrase: ")
			if err != nil {
				return err
			}
			if confirm != passphrase {
				return fmt.Errorf("passphrases do not match")
			}
		}

		if err := a.ArchiveKeygen(passphrase); err != nil {
			return fmt.Errorf("creating keys: %w", err)
		}
		fmt.Println("Archive key pair created.")
		return nil
	},
}

var archiveLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List archived run directories",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("archive")
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.ArchiveRuns()
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("Archive is empty.")
			return nil
		}
		for _, r := range runs {
			fmt.Println(r)
		}
		return nil
	},
}

var archiveRestoreCmd = &cobra.Command{
	Use:   "restore RUN_DIR",
	Short: "Restore an archived run into the report directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("archive")
		if err != nil {
			return err
		}
		defer a.Close()

		var passphrase string
		if a.ArchiveEncrypted() {
			if passphrase, err = readPassphrase("Passphrase: "); err != nil {
				return err
			}
		}

		restored, err := a.ArchiveRestore(args[0], passphrase)
		if err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}
		for _, p := range restored {
			fmt.Println(p)
		}
		fmt.Printf("Restored %d artifact(s)\n", len(restored))
		return nil
	},
}

func init() {
	archiveCmd.AddCommand(archiveKeygenCmd)
	archiveCmd.AddCommand(archiveLsCmd)
	archiveCmd.AddCommand(archiveRestoreCmd)
	rootCmd.AddCommand(archiveCmd)
}
