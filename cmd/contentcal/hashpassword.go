package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"contentcal/internal/auth"
	"contentcal/internal/config"
)

var (
	hashSave bool
	hashUser string
)

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Hash a Basic Auth password with argon2id",
	Long: "Read a password (hidden when stdin is a terminal) and print its " +
		"argon2id hash for basic_auth.password_hash. With --save the hash is " +
		"written to the config file and any plain password is removed.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword(cmd.ErrOrStderr(), cmd.InOrStdin())
		if err != nil {
			return err
		}
		if password == "" {
			return errors.New("empty password")
		}
		hash, err := auth.HashPassword(password)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)

		if !hashSave {
			return nil
		}
		// Reload so flag overrides are not written back.
		fileConf, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if fileConf.BasicAuth == nil {
			fileConf.BasicAuth = &config.BasicAuthConfig{}
		}
		if hashUser != "" {
			fileConf.BasicAuth.Username = hashUser
		}
		if fileConf.BasicAuth.Username == "" {
			return errors.New("--user is required when no basic_auth.username is configured")
		}
		fileConf.BasicAuth.PasswordHash = hash
		fileConf.BasicAuth.Password = ""
		if err := config.Save(configPath, fileConf); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Saved to %s\n", configPath)
		return nil
	},
}

func init() {
	hashPasswordCmd.Flags().BoolVar(&hashSave, "save", false, "Store the hash in the config file")
	hashPasswordCmd.Flags().StringVar(&hashUser, "user", "", "Basic Auth username to store with --save")
}

// readPassword prompts twice on a terminal; otherwise it reads one line.
func readPassword(prompt io.Writer, in io.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if f, ok := in.(*os.File); !ok || f != os.Stdin || !term.IsTerminal(fd) {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(prompt, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", err
	}
	fmt.Fprint(prompt, "Confirm: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", err
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}
