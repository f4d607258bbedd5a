// submodule cmd contains command definitions
package main

import (
	"fmt"
	"strings"

	"github.com/desertthunder/likesync/internal/formatter"
	"github.com/urfave/cli/v3"
)

func userArg() []cli.Argument {
	return []cli.Argument{&cli.StringArg{Name: "user", UsageText: "Spotify user id"}}
}

func userTrackArgs() []cli.Argument {
	return []cli.Argument{
		&cli.StringArg{Name: "user", UsageText: "Spotify user id"},
		&cli.StringArg{Name: "track", UsageText: "Spotify track id"},
	}
}

// setupCommand handles setup operations for configuration and the database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "database",
				Usage:  "Create config.toml if missing, initialize the database and run migrations",
				Action: r.SetupDatabase,
			},
			{
				Name:   "rollback",
				Usage:  "Roll back the most recent database migration",
				Action: r.SetupRollback,
			},
		},
	}
}

// linkCommand runs the OAuth flow and the first sync for the authorizing user.
func linkCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "link",
		Usage: "Link a Spotify account using OAuth2 and sync its liked tracks",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "skip-sync",
				Usage: "Store the token without running the first sync",
			},
		},
		Action: r.Link,
	}
}

// disconnectCommand removes a user's stored token.
func disconnectCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "disconnect",
		Aliases:   []string{"unlink"},
		Usage:     "Forget a linked account's tokens; the local mirror is kept",
		Arguments: userArg(),
		Action:    r.Disconnect,
	}
}

// syncCommand reconciles one or all linked users.
func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "sync",
		Usage:     "Reconcile the local mirror with the remote liked tracks",
		Arguments: userArg(),
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Sync every linked user",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Users synced in parallel with --all (0 uses the configured value)",
			},
			&cli.BoolFlag{
				Name:  "tui",
				Usage: "Show live progress and browse the result in a terminal UI",
			},
		},
		Action: r.Sync,
	}
}

// likeCommand likes a single track remotely and in the mirror.
func likeCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "like",
		Usage:     "Like a track on Spotify and add it to the mirror",
		Arguments: userTrackArgs(),
		Action:    r.Like,
	}
}

// unlikeCommand unlikes a single track remotely and in the mirror.
func unlikeCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "unlike",
		Usage:     "Unlike a track on Spotify and remove it from the mirror",
		Arguments: userTrackArgs(),
		Action:    r.Unlike,
	}
}

// migrateCommand moves legacy liked songs into the mirror.
func migrateCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "migrate",
		Usage:     "Move liked songs from the legacy layout into the mirror",
		Arguments: userArg(),
		Action:    r.Migrate,
	}
}

// statusCommand shows link and sync state.
func statusCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show link and sync status for a user",
		Arguments: userArg(),
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.Status,
	}
}

// libraryCommand reads the local mirror.
func libraryCommand(r *Runner) *cli.Command {
	names := make([]string, len(formatter.Formats))
	for i, f := range formatter.Formats {
		names[i] = string(f)
	}

	return &cli.Command{
		Name:  "library",
		Usage: "Local mirror operations",
		Commands: []*cli.Command{
			{
				Name:      "list",
				Usage:     "List or export a user's mirrored liked tracks",
				Arguments: userArg(),
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   fmt.Sprintf("Output format (%s)", strings.Join(names, ", ")),
						Value:   string(formatter.FormatText),
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Write to a file instead of stdout; \"-\" picks {user}_likes.{ext}",
					},
				},
				Action: r.LibraryList,
			},
		},
	}
}

// legacyCommand handles the pre-mirror storage layout.
func legacyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "legacy",
		Usage: "Legacy liked-songs layout operations",
		Commands: []*cli.Command{
			{
				Name:  "import",
				Usage: "Load legacy liked songs from a JSON dump so they can be migrated",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "path", UsageText: "JSON file with an array of legacy rows"},
				},
				Action: r.LegacyImport,
			},
		},
	}
}

// serveCommand runs the HTTP API and the periodic scheduler.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the HTTP API and reconcile every linked user periodically",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (defaults to [server] host and port)",
			},
			&cli.BoolFlag{
				Name:  "no-scheduler",
				Usage: "Serve the API without periodic syncs",
			},
		},
		Action: r.Serve,
	}
}
