// roomctl is the operator CLI of totp-chat: it generates keys, mints test
// tokens and inspects or removes rooms directly in the configured store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/weiawesome/wes-totp-chat/internal/app"
	"github.com/weiawesome/wes-totp-chat/internal/config"
	"github.com/weiawesome/wes-totp-chat/internal/domain"
	"github.com/weiawesome/wes-totp-chat/internal/secret"
	pkgconfig "github.com/weiawesome/wes-totp-chat/pkg/config"
	"github.com/weiawesome/wes-totp-chat/pkg/jwt"
	pkglog "github.com/weiawesome/wes-totp-chat/pkg/log"
)

var configDir string

func main() {
	root := &cobra.Command{
		Use:           "roomctl",
		Short:         "Administer totp-chat rooms",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&configDir, "config", "c", "", "path to the config directory")
	flags.String("log-level", "warn", "log level")
	flags.String("db-driver", "", "database driver (sqlite, postgres, mysql)")
	flags.String("db-file", "", "sqlite database file")

	root.AddCommand(keygenCmd(), tokenCmd(), roomsCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the server configuration with the persistent flags laid
// over it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v, err := pkgconfig.Load(configDir, "config")
	if err != nil {
		return nil, err
	}
	if err := bindPersistent(v, cmd); err != nil {
		return nil, err
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, err
	}
	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      true,
		ServiceName: "roomctl",
	})
	return cfg, nil
}

func bindPersistent(v *viper.Viper, cmd *cobra.Command) error {
	fs := cmd.Flags()
	mapping := map[string]string{"log-level": "log.level"}
	if fs.Changed("db-driver") {
		mapping["db-driver"] = "database.driver"
	}
	if fs.Changed("db-file") {
		mapping["db-file"] = "database.file_path"
	}
	return pkgconfig.BindFlags(v, fs, mapping)
}

func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}

func keygenCmd() *cobra.Command {
	var size int
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Print a new base64 master key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := secret.GenerateMasterKey(size)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "size", 32, "key size in bytes (16, 24 or 32)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		userID string
		email  string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <username>",
		Short: "Mint an access token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}
			manager, err := jwt.NewManager([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, ttl)
			if err != nil {
				return err
			}
			if userID == "" {
				userID = uuid.NewString()
			}
			token, expiresAt, err := manager.Issue(userID, args[0], email)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, token)
			fmt.Fprintf(out, "# user_id=%s expires_at=%s\n", userID, expiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "user id claim (random uuid when empty)")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (config default when zero)")
	return cmd
}

func roomsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "Inspect and remove rooms",
	}
	cmd.AddCommand(roomsListCmd(), roomsDeleteCmd(), roomsCodeCmd())
	return cmd
}

func roomsListCmd() *cobra.Command {
	var page, pageSize int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every room",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				rooms, total, err := a.RoomRepo.ListAll(ctx, page, pageSize)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tADMIN\tMEMBERS\tCREATED")
				for _, room := range rooms {
					members, err := a.RoomRepo.CountParticipants(ctx, room.ID)
					if err != nil {
						return err
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
						room.ID, room.Name, room.AdminUsername, members,
						room.CreatedAt.UTC().Format(time.RFC3339))
				}
				if err := w.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "# page %d, %d of %d rooms\n", page, len(rooms), total)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 50, "rooms per page")
	return cmd
}

func roomsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <room-id>",
		Short: "Delete a room with its messages and AI sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Rooms.DeleteRoom(ctx, args[0], "roomctl"); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted room %s\n", args[0])
				return nil
			})
		},
	}
}

func roomsCodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "code <room-id>",
		Short: "Print the current access code of a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				room, err := a.RoomRepo.GetByID(ctx, args[0])
				if err != nil {
					return err
				}
				admin := domain.User{ID: room.AdminID, Username: room.AdminUsername}
				code, err := a.Rooms.GenerateCode(ctx, admin, room.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) expires %s\n",
					code.Totp, code.RoomName, code.ExpiresAt.UTC().Format(time.RFC3339))
				return nil
			})
		},
	}
}
