package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"horizon-apply-service/internal/domain"
)

const defaultAPIBase = "https://discord.com/api/v10"

// RoleProvider fetches a guild member's role IDs via the Discord REST API.
// It implements app.RoleProvider and is what permission revalidation hits.
type RoleProvider struct {
	client  *resty.Client
	guildID string
}

func NewRoleProvider(apiBase, botToken, guildID string) *RoleProvider {
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	return &RoleProvider{
		client: resty.New().
			SetBaseURL(apiBase).
			SetTimeout(10 * time.Second).
			SetHeader("Authorization", "Bot "+botToken),
		guildID: guildID,
	}
}

type guildMember struct {
	Roles []string `json:"roles"`
}

func (p *RoleProvider) GetUserRoles(ctx context.Context, userID string) ([]string, error) {
	var member guildMember
	resp, err := p.client.R().
		SetContext(ctx).
		SetResult(&member).
		Get(fmt.Sprintf("/guilds/%s/members/%s", p.guildID, userID))
	if err != nil {
		return nil, fmt.Errorf("%w: fetch member roles: %v", domain.ErrUpstream, err)
	}
	if resp.StatusCode() == 404 {
		// Not in the guild anymore: no roles, not an error.
		return nil, nil
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: fetch member roles: status %d", domain.ErrUpstream, resp.StatusCode())
	}
	return member.Roles, nil
}
