package app

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はHTTPシェルを起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はストレージのマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	CommandHealthcheck Command = "healthcheck"
	// CommandProjects はプロジェクト一覧を表示することを示す。
	CommandProjects Command = "projects"
	// CommandJoin はプロジェクトへの参加を示す。
	CommandJoin Command = "join"
	// CommandLeave はプロジェクトからの離脱を示す。
	CommandLeave Command = "leave"
	// CommandLogin はトークンを保存してログインすることを示す。
	CommandLogin Command = "login"
	// CommandLogout はログアウトを示す。
	CommandLogout Command = "logout"
)

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。サブコマンドがない場合はserveとして起動する。
// ログはw、コマンドの出力はoutに書き込む。
func Run(w io.Writer, args []string) error {
	return RunWithOutput(w, os.Stdout, args)
}

// RunWithOutput はコマンドの出力先を指定してRunを実行する。
func RunWithOutput(w, out io.Writer, args []string) error {
	root := NewRootCommand(w, out)
	root.SetArgs(args)
	return root.Execute()
}

// NewRootCommand はreporelayのルートコマンドとサブコマンドを構築する。
func NewRootCommand(w, out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "reporelay",
		Short:         "Project team subscription client",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(w, CommandServe, runServe)
		},
	}
	root.SetOut(out)
	root.SetErr(w)

	root.AddCommand(&cobra.Command{
		Use:   string(CommandServe),
		Short: "Start the local HTTP shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(w, CommandServe, runServe)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   string(CommandMigrate),
		Short: "Apply client storage migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := Init(w)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			return runMigrate(cfg, log)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "Check the local HTTP shell",
		Args:  cobra.NoArgs,
		// 軽量サブコマンドのため、フル初期化をスキップする
		RunE: func(cmd *cobra.Command, args []string) error {
			port := os.Getenv("SERVER_PORT")
			if port == "" {
				port = "5173"
			}
			return runHealthcheck(port)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   string(CommandProjects),
		Short: "List projects with the action offered to the current user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(w, CommandProjects, func(a *App) error {
				return runProjects(cmd.Context(), a, out)
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   string(CommandJoin) + " <projectID>",
		Short: "Join a project team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(w, CommandJoin, func(a *App) error {
				return runJoin(cmd.Context(), a, out, args[0])
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   string(CommandLeave) + " <projectID>",
		Short: "Leave a project team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(w, CommandLeave, func(a *App) error {
				return runLeave(cmd.Context(), a, out, args[0])
			})
		},
	})

	var token string
	login := &cobra.Command{
		Use:   string(CommandLogin),
		Short: "Store a session token issued by the identity provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(w, CommandLogin, func(a *App) error {
				return runLogin(cmd.Context(), a, out, token)
			})
		},
	}
	login.Flags().StringVar(&token, "token", "", "session token from the login redirect")
	_ = login.MarkFlagRequired("token")
	root.AddCommand(login)

	root.AddCommand(&cobra.Command{
		Use:   string(CommandLogout),
		Short: "Forget the stored session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(w, CommandLogout, func(a *App) error {
				return runLogout(cmd.Context(), a, out)
			})
		},
	})

	return root
}

// withApp は設定を読み込んでAppを構築し、fnの終了後にストレージを閉じる。
func withApp(w io.Writer, cmd Command, fn func(a *App) error) error {
	cfg, log, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	log.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("storage_driver", cfg.StorageDriver),
		slog.String("store_base_url", cfg.StoreBaseURL),
	)

	a, err := New(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("failed to close storage", slog.String("error", err.Error()))
		}
	}()

	return fn(a)
}
