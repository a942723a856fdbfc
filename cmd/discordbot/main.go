/* Copyright © 2025 Mike Brown. All Rights Reserved.
 *
 * See LICENSE file at the root of this repository for license terms
 */
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/bwmarrin/discordgo"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/mbsmash/cape-smash/internal/app"
	"github.com/mbsmash/cape-smash/internal/config"
	"github.com/mbsmash/cape-smash/internal/logger"
)

const InteractionPath = "/DiscordBot/Interaction"

type TopLevelCommand string

const (
	RankCmd TopLevelCommand = "rank"
)

type CmdHandler func(ctx context.Context,
	inter *discordgo.Interaction) *discordgo.InteractionResponse

var log zerolog.Logger

type interactionServer struct {
	pubKey   ed25519.PublicKey
	handlers map[TopLevelCommand]CmdHandler
}

func (s *interactionServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !discordgo.VerifyInteraction(r, s.pubKey) {
		log.Warn().Msg("failed to verify interaction")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read request body")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var inter discordgo.Interaction
	if err := inter.UnmarshalJSON(body); err != nil {
		log.Warn().Err(err).Bytes("body", body).Msg("failed to unmarshal interaction")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	resp := &discordgo.InteractionResponse{}
	if inter.Type == discordgo.InteractionPing {
		resp.Type = discordgo.InteractionResponsePong
	} else if inter.Type == discordgo.InteractionApplicationCommand {
		name := inter.ApplicationCommandData().Name
		hdlr, ok := s.handlers[TopLevelCommand(name)]
		if !ok {
			resp.Type = discordgo.InteractionResponseChannelMessageWithSource
			resp.Data = &discordgo.InteractionResponseData{
				Content: fmt.Sprintf("unknown command '%v'", name),
				Flags:   discordgo.MessageFlagsEphemeral,
			}
		} else {
			resp = hdlr(r.Context(), &inter)
		}
	} else {
		log.Warn().Int("type", int(inter.Type)).Msg("unimplemented interaction type")
		w.WriteHeader(http.StatusNotImplemented)
		return
	}

	rawResp, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(rawResp); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}

func rankCommand() *discordgo.ApplicationCommand {
	broadcastOpt := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionBoolean,
		Name:        "broadcast",
		Description: "Share with the rest of the channel instead of only to you (default is false)",
		Required:    false,
	}

	return &discordgo.ApplicationCommand{
		Name:        string(RankCmd),
		Description: "Community rankings; try /rank help to start",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        string(RankHelpCmd),
				Description: "Show usage for rank",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        string(RankAboutCmd),
				Description: "Show information about cape-smash",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        string(RankLeaderboardCmd),
				Description: "Show the current leaderboard",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "limit",
						Description: "Number of players to show (default is 25)",
						Required:    false,
					},
					{
						Type:        discordgo.ApplicationCommandOptionBoolean,
						Name:        "all",
						Description: "Include players with a single appearance",
						Required:    false,
					},
					broadcastOpt,
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        string(RankPlayerCmd),
				Description: "Show a player's rating and head to head results",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "tag",
						Description: "Player tag",
						Required:    true,
					},
					broadcastOpt,
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        string(RankH2HCmd),
				Description: "Show the set record between two players",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "a",
						Description: "First player's tag",
						Required:    true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "b",
						Description: "Second player's tag",
						Required:    true,
					},
					broadcastOpt,
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        string(RankTournamentsCmd),
				Description: "List imported tournaments",
				Options:     []*discordgo.ApplicationCommandOption{broadcastOpt},
			},
		},
	}
}

func commandHash(cmd *discordgo.ApplicationCommand) string {
	cmdJson, err := json.Marshal(struct {
		Name        string                                `json:"name"`
		Description string                                `json:"description"`
		Options     []*discordgo.ApplicationCommandOption `json:"options"`
	}{cmd.Name, cmd.Description, cmd.Options})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to marshal cmd")
	}
	hash := sha256.Sum256(cmdJson)
	return hex.EncodeToString(hash[:])
}

// registerSlashCommands creates /rank, or edits it when the registered
// definition differs from rankCommand().
func registerSlashCommands(client *discordgo.Session, appID string,
	guildID string) {

	rankCmd := rankCommand()

	existing, err := client.ApplicationCommands(appID, guildID)
	if err != nil {
		log.Error().Err(err).Msg("failed to list registered commands")
		return
	}
	for _, cmd := range existing {
		if cmd.Name != rankCmd.Name {
			continue
		}
		if commandHash(cmd) == commandHash(rankCmd) {
			log.Debug().Str("cmd", cmd.Name).Str("cmdID", cmd.ID).
				Msg("registration up to date")
			return
		}
		updated, err := client.ApplicationCommandEdit(appID, guildID, cmd.ID,
			rankCmd)
		if err != nil {
			log.Error().Err(err).Str("cmd", rankCmd.Name).Msg("failed to update")
			return
		}
		log.Info().Str("cmd", updated.Name).Str("cmdID", updated.ID).Msg("updated")
		return
	}

	cmd, err := client.ApplicationCommandCreate(appID, guildID, rankCmd)
	if err != nil {
		log.Error().Err(err).Str("cmd", rankCmd.Name).Msg("failed to register")
		return
	}
	log.Info().Str("cmd", cmd.Name).Str("cmdID", cmd.ID).Msg("registered")
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load(os.Getenv("CAPESMASH_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	log = logger.New(cfg.Log.Level, cfg.Log.Pretty).With().
		Str("cmd", "discordbot").Logger()

	if cfg.Discord.PublicKey == "" || cfg.Discord.Token == "" ||
		cfg.Discord.AppID == "" {
		log.Fatal().Msg("discord.app_id, discord.token and discord.public_key must be set")
	}
	pubKeyBytes, err := hex.DecodeString(cfg.Discord.PublicKey)
	if err != nil || len(pubKeyBytes) != ed25519.PublicKeySize {
		log.Fatal().Err(err).Msg("failed to parse discord public key")
	}

	client, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize discord client")
	}

	eng, closer, err := app.NewEngine(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open rankings")
	}
	defer closer()
	bot := newRankBot(eng, log)

	go registerSlashCommands(client, cfg.Discord.AppID, cfg.Discord.GuildID)

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Method(http.MethodPost, InteractionPath, &interactionServer{
		pubKey: ed25519.PublicKey(pubKeyBytes),
		handlers: map[TopLevelCommand]CmdHandler{
			RankCmd: bot.rankCmdHandler,
		},
	})

	log.Info().Str("addr", cfg.Discord.Addr).Msg("starting server")
	err = http.ListenAndServe(cfg.Discord.Addr, router)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("serve failed")
	}

	log.Info().Msg("exiting")
}
