package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/hitoshi/libraryapi/internal/auth"
	"github.com/hitoshi/libraryapi/internal/config"
)

// newRootCommand はサブコマンドを束ねたルートコマンドを生成する。
// サブコマンド省略時はserveとして起動する。
func newRootCommand(w io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "libraryapi",
		Short:         "Library catalog and loan HTTP API",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(w)
		},
	}

	root.AddCommand(
		newServeCommand(w),
		newHealthcheckCommand(),
		newCreateUserCommand(w),
	)
	return root
}

func newServeCommand(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(w)
		},
	}
}

// newHealthcheckCommand は軽量サブコマンドのため、設定の読み込みを行わない。
func newHealthcheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Check /health of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck(healthcheckPort())
		},
	}
}

// createUserOptions はcreateuserサブコマンドのフラグ。
type createUserOptions struct {
	username string
	email    string
	role     string
}

// newCreateUserCommand は司書・管理者アカウントを作成するサブコマンドを生成する。
// API経由の登録と同じ検証を通る。パスワードは端末から入力させるか、標準入力の1行目を使う。
func newCreateUserCommand(w io.Writer) *cobra.Command {
	opts := &createUserOptions{}

	cmd := &cobra.Command{
		Use:   "createuser",
		Short: "Create a user account from the command line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(w)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			if cfg.StorageDriver == config.StorageMemory {
				return errors.New("createuser requires STORAGE_DRIVER=json; a memory store is discarded when the command exits")
			}

			password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			store, err := openStore(cfg, slog.Default())
			if err != nil {
				return err
			}
			service := auth.NewService(store, auth.ServiceConfig{BcryptCost: cfg.BcryptCost})

			user, err := service.Register(context.Background(), auth.RegisterInput{
				Username: opts.username,
				Email:    opts.email,
				Password: password,
				Role:     opts.role,
			})
			if err != nil {
				return fmt.Errorf("failed to create user: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "created user %q (id=%d, role=%s)\n", user.Username, user.ID, user.Role)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.username, "username", "", "login name (required)")
	cmd.Flags().StringVar(&opts.email, "email", "", "email address (required)")
	cmd.Flags().StringVar(&opts.role, "role", "MEMBER", "MEMBER, LIBRARIAN or ADMIN")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

// readPassword は端末であればエコーなしでパスワードを読み取り、
// それ以外（パイプ・リダイレクト）は1行目をパスワードとして扱う。
func readPassword(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	return password, nil
}
