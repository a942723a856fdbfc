/* Copyright © 2025 Mike Brown. All Rights Reserved.
 *
 * See LICENSE file at the root of this repository for license terms
 */
package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/mbsmash/cape-smash/ranking"
)

type RankSubCommand string

const (
	RankAboutCmd       RankSubCommand = "about"
	RankHelpCmd        RankSubCommand = "help"
	RankLeaderboardCmd RankSubCommand = "leaderboard"
	RankPlayerCmd      RankSubCommand = "player"
	RankH2HCmd         RankSubCommand = "h2h"
	RankTournamentsCmd RankSubCommand = "tournaments"
)

const defaultLeaderboardLimit = 25

// rankBot answers /rank from the engine. The engine is reloaded from the
// store before every command so imports made by the CLI or the API server
// show up without a restart.
type rankBot struct {
	mu  sync.Mutex
	eng *ranking.Engine
	log zerolog.Logger
}

func newRankBot(eng *ranking.Engine, logger zerolog.Logger) *rankBot {
	return &rankBot{
		eng: eng,
		log: logger.With().Str("component", "discordbot").Logger(),
	}
}

func (b *rankBot) subCmdHdlrs() map[RankSubCommand]CmdHandler {
	return map[RankSubCommand]CmdHandler{
		RankAboutCmd:       rankAboutCmdHandler,
		RankHelpCmd:        rankHelpCmdHandler,
		RankLeaderboardCmd: b.leaderboardCmdHandler,
		RankPlayerCmd:      b.playerCmdHandler,
		RankH2HCmd:         b.h2hCmdHandler,
		RankTournamentsCmd: b.tournamentsCmdHandler,
	}
}

func (b *rankBot) rankCmdHandler(ctx context.Context,
	inter *discordgo.Interaction) *discordgo.InteractionResponse {

	data := inter.ApplicationCommandData()
	hdlr := rankHelpCmdHandler
	if len(data.Options) > 0 {
		if subName := data.Options[0].Name; subName != "" {
			h, ok := b.subCmdHdlrs()[RankSubCommand(subName)]
			if ok {
				hdlr = h
			}
		}
	}
	return hdlr(ctx, inter)
}

func newEphemeralResponse() *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags: discordgo.MessageFlagsEphemeral,
		},
	}
}

// subOptions returns the options of the invoked subcommand keyed by name.
func subOptions(inter *discordgo.Interaction) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	opts := make(map[string]*discordgo.ApplicationCommandInteractionDataOption)
	data := inter.ApplicationCommandData()
	if len(data.Options) == 0 {
		return opts
	}
	for _, opt := range data.Options[0].Options {
		opts[opt.Name] = opt
	}
	return opts
}

func broadcastRequested(opts map[string]*discordgo.ApplicationCommandInteractionDataOption) bool {
	opt, ok := opts["broadcast"]
	return ok && opt.BoolValue()
}

//go:embed about.txt
var aboutText string

func rankAboutCmdHandler(ctx context.Context,
	inter *discordgo.Interaction) *discordgo.InteractionResponse {

	resp := newEphemeralResponse()
	resp.Data.Content = truncateContent(aboutText)
	return resp
}

//go:embed help.md
var helpText string

func rankHelpCmdHandler(ctx context.Context,
	inter *discordgo.Interaction) *discordgo.InteractionResponse {

	resp := newEphemeralResponse()
	resp.Data.Content = truncateContent(helpText)
	return resp
}

// refresh reloads persisted state. Callers hold b.mu.
func (b *rankBot) refresh(ctx context.Context) error {
	if err := b.eng.Open(ctx); err != nil {
		b.log.Error().Err(err).Msg("failed to reload rankings")
		return err
	}
	return nil
}

func (b *rankBot) leaderboardCmdHandler(ctx context.Context,
	inter *discordgo.Interaction) *discordgo.InteractionResponse {

	resp := newEphemeralResponse()
	opts := subOptions(inter)

	limit := int64(defaultLeaderboardLimit)
	if opt, ok := opts["limit"]; ok {
		limit = opt.IntValue()
	}
	// enforce bounds
	if limit <= 0 {
		limit = defaultLeaderboardLimit
	} else if limit > 100 {
		limit = 100
	}
	all := false
	if opt, ok := opts["all"]; ok {
		all = opt.BoolValue()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.refresh(ctx); err != nil {
		resp.Data.Content = fmt.Sprintf("Error loading rankings: %v", err)
		return resp
	}

	var records []ranking.PlayerRecord
	if all {
		var err error
		records, err = b.eng.TopPlayers(ctx, int(limit))
		if err != nil {
			resp.Data.Content = fmt.Sprintf("Error loading leaderboard: %v", err)
			return resp
		}
	} else {
		records = b.eng.FilteredRecords()
	}

	// Wrap output in code block for monospace formatting in Discord
	resp.Data.Content = fmt.Sprintf("```\n%s```",
		truncateContent(ranking.BuildLeaderboardOutput(records, int(limit))))
	if broadcastRequested(opts) {
		resp.Data.Flags = 0
	}

	return resp
}

func (b *rankBot) playerCmdHandler(ctx context.Context,
	inter *discordgo.Interaction) *discordgo.InteractionResponse {

	resp := newEphemeralResponse()
	opts := subOptions(inter)

	opt, ok := opts["tag"]
	if !ok || opt.StringValue() == "" {
		resp.Data.Content = "Please provide a player tag."
		b.log.Debug().Msg(resp.Data.Content)
		return resp
	}
	tag := opt.StringValue()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.refresh(ctx); err != nil {
		resp.Data.Content = fmt.Sprintf("Error loading rankings: %v", err)
		return resp
	}

	rec, err := b.eng.FindPlayer(tag)
	if errors.Is(err, ranking.ErrUnknownPlayer) {
		resp.Data.Content = fmt.Sprintf("No player tagged %q.", tag)
		return resp
	} else if err != nil {
		resp.Data.Content = fmt.Sprintf("Error finding %q: %v", tag, err)
		b.log.Warn().Err(err).Str("tag", tag).Msg("player lookup failed")
		return resp
	}

	resp.Data.Content = fmt.Sprintf("```\n%s```",
		truncateContent(ranking.BuildPlayerOutput(rec,
			ranking.TagsByID(b.eng.Records()))))
	if broadcastRequested(opts) {
		resp.Data.Flags = 0
	}

	return resp
}

func (b *rankBot) h2hCmdHandler(ctx context.Context,
	inter *discordgo.Interaction) *discordgo.InteractionResponse {

	resp := newEphemeralResponse()
	opts := subOptions(inter)

	optA, okA := opts["a"]
	optB, okB := opts["b"]
	if !okA || !okB || optA.StringValue() == "" || optB.StringValue() == "" {
		resp.Data.Content = "Please provide two player tags."
		b.log.Debug().Msg(resp.Data.Content)
		return resp
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.refresh(ctx); err != nil {
		resp.Data.Content = fmt.Sprintf("Error loading rankings: %v", err)
		return resp
	}

	var recs [2]ranking.PlayerRecord
	for idx, tag := range []string{optA.StringValue(), optB.StringValue()} {
		rec, err := b.eng.FindPlayer(tag)
		if err != nil {
			resp.Data.Content = fmt.Sprintf("No player tagged %q.", tag)
			return resp
		}
		recs[idx] = rec
	}
	h2h, err := b.eng.HeadToHead(recs[0].ID, recs[1].ID)
	if err != nil {
		resp.Data.Content = fmt.Sprintf("Error: %v", err)
		return resp
	}

	resp.Data.Content = fmt.Sprintf("```\n%s```",
		truncateContent(ranking.BuildHeadToHeadOutput(recs[0], recs[1], h2h)))
	if broadcastRequested(opts) {
		resp.Data.Flags = 0
	}

	return resp
}

func (b *rankBot) tournamentsCmdHandler(ctx context.Context,
	inter *discordgo.Interaction) *discordgo.InteractionResponse {

	resp := newEphemeralResponse()
	opts := subOptions(inter)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.refresh(ctx); err != nil {
		resp.Data.Content = fmt.Sprintf("Error loading rankings: %v", err)
		return resp
	}

	resp.Data.Content = fmt.Sprintf("```\n%s```",
		truncateContent(ranking.BuildTournamentsOutput(b.eng.Tournaments())))
	if broadcastRequested(opts) {
		resp.Data.Flags = 0
	}

	return resp
}

// https://discord.com/developers/docs/resources/channel#start-thread-in-forum-or-media-channel-forum-and-media-thread-message-params-object
// limits messages to 2k characters
func truncateContent(s string) string {
	const MsgLimit = 1988 // keep space for newlines and markdown
	runes := []rune(s)
	if len(runes) > MsgLimit {
		s = fmt.Sprintf("%v...", string(runes[:MsgLimit]))
	}
	return s
}
