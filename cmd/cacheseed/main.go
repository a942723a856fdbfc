/* Copyright © 2025 Mike Brown. All Rights Reserved.
 *
 * See LICENSE file at the root of this repository for license terms
 */
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mbsmash/cape-smash/internal/app"
	"github.com/mbsmash/cape-smash/internal/config"
	"github.com/mbsmash/cape-smash/internal/logger"
)

// this program exists just to seed the shared start.gg response cache with
// every imported tournament plus any slugs given on the command line

func main() {
	ctx := context.Background()

	cfg, err := config.Load(os.Getenv("CAPESMASH_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	if err := cfg.RequireToken(); err != nil {
		log.Fatal().Err(err).Msg("cannot seed cache")
	}

	slugs := os.Args[1:]
	eng, closer, err := app.NewEngine(ctx, cfg, log)
	if err != nil {
		// best effort; seed what was asked for
		log.Warn().Err(err).Msg("could not load imported tournaments")
	} else {
		for _, t := range eng.Tournaments() {
			slugs = append(slugs, t.Label)
		}
		closer()
	}

	src := app.NewSource(ctx, cfg, log)
	seen := make(map[string]bool)
	for _, ref := range slugs {
		slug, err := src.ResolveSlug(ctx, ref)
		if err != nil || seen[slug] {
			continue
		}
		seen[slug] = true

		events, err := src.Events(ctx, slug)
		time.Sleep(2 * time.Second) // stay under start.gg's rate limit
		if err != nil {
			// best effort
			log.Warn().Err(err).Str("slug", slug).Msg("seed failed")
			continue
		}
		for _, ev := range events {
			_, perr := src.Players(ctx, ev.ID)
			time.Sleep(2 * time.Second)
			_, merr := src.Matches(ctx, ev.ID)
			time.Sleep(2 * time.Second)
			if perr != nil || merr != nil {
				// best effort
				continue
			}
			fmt.Printf("seeded %v/%v\n", slug, ev.Name)
		}
	}
}
