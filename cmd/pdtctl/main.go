// Command pdtctl is the operator CLI: it pushes overrides, manages user
// flags and watches a user's override document against the configured
// stores.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	chatpdt "github.com/Copilotuser-cyber/ChatPDT"
	pdterrors "github.com/Copilotuser-cyber/ChatPDT/internal/errors"
	"github.com/Copilotuser-cyber/ChatPDT/internal/model"
	"github.com/Copilotuser-cyber/ChatPDT/internal/override"
)

var debug bool

const opTimeout = 15 * time.Second

func main() {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// NewRootCmd constructs the root CLI command; exposed for unit testing.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "pdtctl",
		Short:         "Operate ChatPDT users and override documents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.Logger = log.Output(zerolog.ConsoleWriter{
				Out:        os.Stderr,
				TimeFormat: "2006-01-02 15:04:05",
				NoColor:    true,
			})
			if debug {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			} else {
				zerolog.SetGlobalLevel(zerolog.WarnLevel)
			}
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable verbose debug output")

	rootCmd.AddCommand(newAddUserCmd())
	rootCmd.AddCommand(newListUsersCmd())
	rootCmd.AddCommand(newThemeCmd())
	rootCmd.AddCommand(newBroadcastCmd())
	rootCmd.AddCommand(newTakeoverCmd())
	rootCmd.AddCommand(newMessageCmd())
	rootCmd.AddCommand(newBanCmd())
	rootCmd.AddCommand(newAdminCmd())
	rootCmd.AddCommand(newDeleteUserCmd())
	rootCmd.AddCommand(newClearChatsCmd())
	rootCmd.AddCommand(newContentCmd())
	rootCmd.AddCommand(newShowOverridesCmd())
	rootCmd.AddCommand(newWatchCmd())
	return rootCmd
}

// withClient opens a client from the CHATPDT_* environment, runs fn and
// closes it.
func withClient(cmd *cobra.Command, timeout time.Duration, fn func(ctx context.Context, c *chatpdt.Client) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	c, err := chatpdt.New(ctx, nil, chatpdt.WithLogger(log.Logger))
	if err != nil {
		return err
	}
	defer c.Close()
	log.Debug().Str("mode", c.Mode().String()).Msg("client opened")
	return fn(ctx, c)
}

func lookupUser(ctx context.Context, c *chatpdt.Client, id string) (chatpdt.User, error) {
	u, ok, err := c.Records().User(ctx, id)
	if err != nil {
		return chatpdt.User{}, err
	}
	if !ok {
		return chatpdt.User{}, pdterrors.NotFound(model.CollectionUsers, id)
	}
	return u, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newAddUserCmd() *cobra.Command {
	var admin, premium bool
	cmd := &cobra.Command{
		Use:   "add-user <id> <username>",
		Short: "Create or replace a user record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opTimeout, func(ctx context.Context, c *chatpdt.Client) error {
				u := chatpdt.User{ID: args[0], Username: args[1], IsAdmin: admin, IsPremium: premium}
				if err := c.Records().SaveUser(ctx, u); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "user %s saved\n", u.ID)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&admin, "admin", false, "Grant admin rights")
	cmd.Flags().BoolVar(&premium, "premium", false, "Mark as premium")
	return cmd
}

func newListUsersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List every user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opTimeout, func(ctx context.Context, c *chatpdt.Client) error {
				users, err := c.Records().Users(ctx)
				if err != nil {
					return err
				}
				for _, u := range users {
					flags := ""
					if u.IsAdmin {
						flags += " admin"
					}
					if u.IsBanned {
						flags += " banned"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s%s\n", u.ID, u.Username, flags)
				}
				return nil
			})
		},
	}
}

func newThemeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "theme <user-id> <dark|light>",
		Short: "Force the color scheme of a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opTimeout, func(ctx context.Context, c *chatpdt.Client) error {
				return c.Push(ctx, args[0], chatpdt.ThemeOverride{Theme: chatpdt.Theme(args[1])})
			})
		},
	}
}

func newBroadcastCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "broadcast <text>",
		Short: "Show a banner to every user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, time.Minute, func(ctx context.Context, c *chatpdt.Client) error {
				actor, err := lookupUser(ctx, c, actorID)
				if err != nil {
					return err
				}
				n, err := c.Admin().Broadcast(ctx, actor, args[0])
				fmt.Fprintf(cmd.OutOrStdout(), "broadcast sent to %d users\n", n)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "Acting admin user id")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func newTakeoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "takeover <user-id> <takeover-id>",
		Short: "Start a full-screen takeover for a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opTimeout, func(ctx context.Context, c *chatpdt.Client) error {
				return c.Push(ctx, args[0], chatpdt.TakeoverOverride{ID: args[1]})
			})
		},
	}
}

func newMessageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "message <from-user-id> <to-user-id> <text>",
		Short: "Send a direct message into a user's chat",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opTimeout, func(ctx context.Context, c *chatpdt.Client) error {
				sender, err := lookupUser(ctx, c, args[0])
				if err != nil {
					return err
				}
				return c.Admin().SendDirect(ctx, sender, args[1], args[2])
			})
		},
	}
}

func newBanCmd() *cobra.Command {
	var actorID string
	var unban bool
	cmd := &cobra.Command{
		Use:   "ban <user-id>",
		Short: "Ban or unban a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opTimeout, func(ctx context.Context, c *chatpdt.Client) error {
				actor, err := lookupUser(ctx, c, actorID)
				if err != nil {
					return err
				}
				u, err := c.Admin().SetBanned(ctx, actor, args[0], !unban)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s banned=%t\n", u.ID, u.IsBanned)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "Acting admin user id")
	cmd.Flags().BoolVar(&unban, "unban", false, "Lift the ban instead")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func newAdminCmd() *cobra.Command {
	var actorID string
	var revoke bool
	cmd := &cobra.Command{
		Use:   "admin <user-id>",
		Short: "Grant or revoke admin rights (superuser only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opTimeout, func(ctx context.Context, c *chatpdt.Client) error {
				actor, err := lookupUser(ctx, c, actorID)
				if err != nil {
					return err
				}
				u, err := c.Admin().SetAdmin(ctx, actor, args[0], !revoke)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s admin=%t\n", u.ID, u.IsAdmin)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "Acting superuser id")
	cmd.Flags().BoolVar(&revoke, "revoke", false, "Revoke instead of grant")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func newDeleteUserCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "delete-user <user-id>",
		Short: "Delete a user with their chats, games and overrides",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opTimeout, func(ctx context.Context, c *chatpdt.Client) error {
				actor, err := lookupUser(ctx, c, actorID)
				if err != nil {
					return err
				}
				if err := c.Admin().DeleteUser(ctx, actor, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s deleted\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "Acting admin user id")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func newClearChatsCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "clear-chats <user-id>",
		Short: "Delete every chat of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opTimeout, func(ctx context.Context, c *chatpdt.Client) error {
				actor, err := lookupUser(ctx, c, actorID)
				if err != nil {
					return err
				}
				n, err := c.Admin().ClearChats(ctx, actor, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s chats cleared=%d\n", args[0], n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "Acting user id")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func newContentCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "content <user-id>",
		Short: "Print the chats and games of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opTimeout, func(ctx context.Context, c *chatpdt.Client) error {
				actor, err := lookupUser(ctx, c, actorID)
				if err != nil {
					return err
				}
				content, err := c.Admin().UserContent(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, content)
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "Acting admin user id")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func newShowOverridesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show-overrides <user-id>",
		Short: "Print the decoded override document of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opTimeout, func(ctx context.Context, c *chatpdt.Client) error {
				got := make(chan *override.Document, 1)
				h := c.Overrides().Subscribe(args[0], func(d *override.Document) {
					select {
					case got <- d:
					default:
					}
				})
				defer h.Dispose()
				select {
				case d := <-got:
					return printJSON(cmd, d)
				case <-ctx.Done():
					return ctx.Err()
				}
			})
		},
	}
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <user-id>",
		Short: "Log the overrides a user's session would apply until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)
			return withClient(cmd, 0, func(ctx context.Context, c *chatpdt.Client) error {
				out := cmd.OutOrStdout()
				sess, err := c.OpenSession(ctx, chatpdt.User{ID: args[0]}, chatpdt.Handlers{
					Theme:            func(t chatpdt.Theme) { fmt.Fprintf(out, "theme %s\n", t) },
					VisualMatrix:     func(v chatpdt.VisualMatrixOverride) { fmt.Fprintf(out, "visual matrix %+v\n", v) },
					Config:           func(chatpdt.ForcedConfigOverride) { fmt.Fprintln(out, "config forced") },
					Audio:            func(a chatpdt.AudioOverride) { fmt.Fprintf(out, "audio playing=%t %s\n", a.Playing, a.URL) },
					Broadcast:        func(b chatpdt.BroadcastOverride) { fmt.Fprintf(out, "broadcast %q\n", b.Text) },
					BroadcastExpired: func() { fmt.Fprintln(out, "broadcast expired") },
					Takeover:         func(t chatpdt.TakeoverOverride) { fmt.Fprintf(out, "takeover %s\n", t.ID) },
					TakeoverEnded:    func() { fmt.Fprintln(out, "takeover ended") },
					Ghost:            printGhost{cmd},
				})
				if err != nil {
					return err
				}
				defer sess.Close()
				<-ctx.Done()
				return nil
			})
		},
	}
}

// printGhost prints ghost messages instead of writing them into a chat.
type printGhost struct{ cmd *cobra.Command }

func (p printGhost) DeliverGhost(_ context.Context, userID string, g chatpdt.GhostMessageOverride) error {
	fmt.Fprintf(p.cmd.OutOrStdout(), "message to %s from %s: %s\n", userID, g.Sender, g.Text)
	return nil
}
