// Package discord posts a summary embed to a Discord channel when an
// evaluation finishes.
package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/monitorai/internal/evaluate"
	"github.com/MrWong99/monitorai/internal/rubric"
)

// embedColorGreen is the embed sidebar color for a passing evaluation.
const embedColorGreen = 0x2ECC71

// embedColorAmber is used for a score in the attention band.
const embedColorAmber = 0xF1C40F

// embedColorRed is used for a low score or an eliminatory criterion.
const embedColorRed = 0xE74C3C

// Sender is the subset of [*discordgo.Session] the notifier needs.
type Sender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var (
	_ Sender        = (*discordgo.Session)(nil)
	_ evaluate.Hook = (*Notifier)(nil)
)

// Config holds dependencies for creating a Notifier.
type Config struct {
	// Token is the bot token. Ignored when Sender is set.
	Token string

	ChannelID string

	// BaseURL, when set, links the embed to the web report at
	// {BaseURL}/evaluations/{id}.
	BaseURL string

	// Sender overrides the Discord session, mainly for tests.
	Sender Sender
}

// Notifier implements [evaluate.Hook] by posting an embed per evaluation.
type Notifier struct {
	sender    Sender
	channelID string
	baseURL   string
}

// New creates a Notifier. Without cfg.Sender a bot session is created from
// cfg.Token; posting a message does not need a gateway connection.
func New(cfg Config) (*Notifier, error) {
	if cfg.ChannelID == "" {
		return nil, errors.New("discord: channel ID is required")
	}
	sender := cfg.Sender
	if sender == nil {
		if cfg.Token == "" {
			return nil, errors.New("discord: token is required")
		}
		s, err := discordgo.New("Bot " + cfg.Token)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		sender = s
	}
	return &Notifier{
		sender:    sender,
		channelID: cfg.ChannelID,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
	}, nil
}

// Name implements [evaluate.Hook].
func (n *Notifier) Name() string { return "discord" }

// AfterEvaluation implements [evaluate.Hook].
func (n *Notifier) AfterEvaluation(ctx context.Context, r *evaluate.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := n.sender.ChannelMessageSendEmbed(n.channelID, n.Embed(r)); err != nil {
		return fmt.Errorf("discord: send embed: %w", err)
	}
	return nil
}

// Embed renders r as a Discord embed.
func (n *Notifier) Embed(r *evaluate.Result) *discordgo.MessageEmbed {
	ev := r.Evaluation
	title := "Avaliação concluída"
	if r.FileName != "" {
		title += ": " + r.FileName
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Pontuação", Value: fmt.Sprintf("**%d**/%d", ev.TotalScore, rubric.MaxScore), Inline: true},
		{Name: "Satisfação", Value: orNA(ev.Status.Satisfacao), Inline: true},
		{Name: "Risco", Value: orNA(ev.Status.Risco), Inline: true},
		{Name: "Desfecho", Value: orNA(ev.Status.Desfecho), Inline: true},
		{Name: "Script", Value: orNA(ev.Script.Status), Inline: true},
		{Name: "Calibração", Value: calibrationField(r), Inline: true},
	}
	if ev.Eliminated() {
		var lines []string
		for _, el := range ev.Eliminatory {
			if el.Occurred {
				lines = append(lines, "• "+el.Criterion)
			}
		}
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  "Critérios eliminatórios",
			Value: truncate(strings.Join(lines, "\n"), 1024),
		})
	}
	if ev.Summary != "" {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  "Resumo",
			Value: truncate(ev.Summary, 1024),
		})
	}

	embed := &discordgo.MessageEmbed{
		Title:  truncate(title, 256),
		Color:  color(ev.TotalScore, ev.Eliminated()),
		Fields: fields,
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("ID %s · %s", r.ID, r.Duration.Truncate(time.Second)),
		},
		Timestamp: r.StartedAt.UTC().Format(time.RFC3339),
	}
	if n.baseURL != "" {
		embed.URL = n.baseURL + "/evaluations/" + r.ID
	}
	return embed
}

func color(score int, eliminated bool) int {
	switch {
	case eliminated || score < 50:
		return embedColorRed
	case score < 70:
		return embedColorAmber
	default:
		return embedColorGreen
	}
}

func calibrationField(r *evaluate.Result) string {
	if len(r.Calibration.Matches) == 0 {
		return "sem casos de referência"
	}
	best := r.Calibration.Matches[0]
	return fmt.Sprintf("%d casos (melhor %.0f%%)", len(r.Calibration.Matches), best.Score*100)
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

// truncate limits s to n runes, the unit Discord uses for embed limits.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
