package notify

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// Discord posts chat messages to a webhook. Other channels are skipped.
type Discord struct {
	session   *discordgo.Session
	webhookID string
	token     string
	template  string
}

// NewDiscord parses a webhook URL of the form
// https://discord.com/api/webhooks/<id>/<token>. An empty template sends the
// rendered chat text unchanged.
func NewDiscord(webhookURL, template string) (*Discord, error) {
	id, token, err := parseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}
	s, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &Discord{session: s, webhookID: id, token: token, template: template}, nil
}

func parseWebhookURL(raw string) (string, string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("parse discord webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("discord webhook url %q has no id/token", raw)
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) content(msg Message) string {
	if d.template == "" {
		return msg.Text
	}
	vars := map[string]string{"text": msg.Text}
	for k, v := range msg.Vars {
		vars[k] = v
	}
	return Render(d.template, vars)
}

func (d *Discord) Send(ctx context.Context, msg Message) error {
	if msg.Channel != ChannelChat {
		return nil
	}
	_, err := d.session.WebhookExecute(d.webhookID, d.token, false, &discordgo.WebhookParams{
		Content: d.content(msg),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	return nil
}
