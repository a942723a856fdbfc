/* Copyright © 2025 Mike Brown. All Rights Reserved.
 *
 * See LICENSE file at the root of this repository for license terms
 */
package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mbsmash/cape-smash/internal"
	"github.com/mbsmash/cape-smash/internal/app"
	"github.com/mbsmash/cape-smash/internal/config"
	"github.com/mbsmash/cape-smash/internal/logger"
	"github.com/mbsmash/cape-smash/ranking"
	"github.com/mbsmash/cape-smash/server"
	"github.com/rs/zerolog"
)

//go:embed help.txt
var helpText string

// cmdHandler defines the signature for command handler functions.
type cmdHandler func(ctx context.Context, args []string)

// commands maps command names to their respective handler functions.
var commands = map[string]cmdHandler{
	"help":         handleHelp,
	"import":       handleImport,
	"remove":       handleRemove,
	"recalc":       handleRecalc,
	"reset-season": handleResetSeason,
	"clear":        handleClear,
	"records":      handleRecords,
	"player":       handlePlayer,
	"h2h":          handleHeadToHead,
	"tournaments":  handleTournaments,
	"admin-token":  handleAdminToken,
}

var (
	cfg *config.Config
	log zerolog.Logger
)

func main() {
	ctx := context.Background()

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	handler, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}

	var err error
	cfg, err = config.Load(os.Getenv("CAPESMASH_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	log = logger.New(cfg.Log.Level, cfg.Log.Pretty)

	handler(ctx, os.Args[2:])
}

func usage() {
	fmt.Printf("%v", helpText)
}

func handleHelp(ctx context.Context, args []string) {
	usage()
}

func openEngine(ctx context.Context) (*ranking.Engine, app.Closer) {
	eng, closer, err := app.NewEngine(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open engine")
	}
	return eng, closer
}

// reportSave prints a persistence failure; the change still happened in
// this process but will be gone next run.
func reportSave(err error, what string) {
	if err == nil {
		return
	}
	if errors.Is(err, ranking.ErrPersistenceFailure) {
		fmt.Fprintf(os.Stderr, "Warning: %v was not saved: %v\n", what, err)
		os.Exit(2)
	}
	log.Fatal().Err(err).Msgf("%v failed", what)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatal().Err(err).Msg("failed to encode output")
	}
}

func handleImport(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	date := fs.String("date", "", "Override the tournament date")
	name := fs.String("name", "", "Override the tournament display name")
	asJSON := fs.Bool("json", false, "Print results as JSON")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Please provide at least one tournament url or slug.")
		fs.Usage()
		os.Exit(1)
	}
	if err := cfg.RequireToken(); err != nil {
		log.Fatal().Err(err).Msg("cannot import")
	}
	ts, err := internal.ParseDateOrZero(*date)
	if err != nil {
		log.Fatal().Err(err).Str("date", *date).Msg("invalid --date")
	}

	eng, closer := openEngine(ctx)
	defer closer()

	failed := false
	for _, ref := range fs.Args() {
		res, err := eng.ImportTournament(ctx, ref,
			ranking.ImportOptions{Timestamp: ts, Name: *name})
		if errors.Is(err, ranking.ErrAlreadyImported) {
			fmt.Printf("%v: already imported\n", ref)
			continue
		}
		if res == nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			failed = true
			continue
		}
		if *asJSON {
			printJSON(res)
		} else {
			fmt.Print(ranking.BuildImportOutput(res))
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			failed = true
		}
	}
	if failed {
		closer()
		os.Exit(1)
	}
}

func handleRemove(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Please provide at least one tournament slug.")
		fs.Usage()
		os.Exit(1)
	}

	eng, closer := openEngine(ctx)
	defer closer()

	for _, label := range fs.Args() {
		err := eng.RemoveTournament(ctx, strings.ToLower(strings.TrimSpace(label)))
		if errors.Is(err, ranking.ErrTournamentNotImported) {
			fmt.Printf("%v: not imported\n", label)
			continue
		}
		reportSave(err, "remove "+label)
		fmt.Printf("removed %v\n", label)
	}
}

func handleRecalc(ctx context.Context, args []string) {
	eng, closer := openEngine(ctx)
	defer closer()

	reportSave(eng.RecalculateRatings(ctx), "recalculation")
	fmt.Printf("Recalculated ratings from %v tournaments\n", len(eng.Tournaments()))
}

func handleResetSeason(ctx context.Context, args []string) {
	eng, closer := openEngine(ctx)
	defer closer()

	reportSave(eng.ResetSeason(ctx), "season reset")
	fmt.Printf("Season reset for %v players\n", len(eng.Records()))
}

func handleClear(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	yes := fs.Bool("yes", false, "Confirm deleting all data")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if !*yes {
		fmt.Fprintln(os.Stderr, "Refusing to clear all data without --yes.")
		os.Exit(1)
	}

	eng, closer := openEngine(ctx)
	defer closer()

	reportSave(eng.ClearAllData(ctx), "clear")
	fmt.Println("All players and tournaments deleted")
}

func handleRecords(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("records", flag.ExitOnError)
	all := fs.Bool("all", false, "Include players with a single appearance")
	limit := fs.Int("limit", 0, "Show at most this many players")
	asJSON := fs.Bool("json", false, "Print records as JSON")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	eng, closer := openEngine(ctx)
	defer closer()

	records := eng.FilteredRecords()
	if *all {
		records = eng.Records()
	}
	if *asJSON {
		if *limit > 0 && len(records) > *limit {
			records = records[:*limit]
		}
		printJSON(records)
		return
	}
	fmt.Print(ranking.BuildLeaderboardOutput(records, *limit))
}

func handlePlayer(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("player", flag.ExitOnError)
	tag := fs.String("tag", "", "Player tag (case-insensitive)")
	id := fs.Int("id", 0, "Player id")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *tag == "" && *id <= 0 {
		fmt.Fprintln(os.Stderr, "Please provide a --tag or a valid --id.")
		fs.Usage()
		os.Exit(1)
	}

	eng, closer := openEngine(ctx)
	defer closer()

	var rec ranking.PlayerRecord
	var err error
	if *id > 0 {
		rec, err = eng.Player(*id)
	} else {
		rec, err = eng.FindPlayer(*tag)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(ranking.BuildPlayerOutput(rec, ranking.TagsByID(eng.Records())))
}

func handleHeadToHead(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("h2h", flag.ExitOnError)
	tagA := fs.String("a", "", "First player's tag")
	tagB := fs.String("b", "", "Second player's tag")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *tagA == "" || *tagB == "" {
		fmt.Fprintln(os.Stderr, "Please provide both --a and --b.")
		fs.Usage()
		os.Exit(1)
	}

	eng, closer := openEngine(ctx)
	defer closer()

	a, err := eng.FindPlayer(*tagA)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	b, err := eng.FindPlayer(*tagB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	h2h, err := eng.HeadToHead(a.ID, b.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(ranking.BuildHeadToHeadOutput(a, b, h2h))
}

func handleTournaments(ctx context.Context, args []string) {
	eng, closer := openEngine(ctx)
	defer closer()

	fmt.Print(ranking.BuildTournamentsOutput(eng.Tournaments()))
}

func handleAdminToken(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("admin-token", flag.ExitOnError)
	subject := fs.String("subject", "capesmash-cli", "Token subject")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	auth := server.NewAuthenticator(cfg.Server.AdminSecret, cfg.Server.TokenTTL)
	token, err := auth.Issue(*subject, server.RoleAdmin)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot issue token")
	}
	fmt.Println(token)
}
