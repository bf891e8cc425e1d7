package dialogue

import (
	"context"
	"regexp"
	"strings"

	"ai-talker/internal/domain"
)

const (
	augmentTokens   = 300
	augmentPrefix   = "Internet information: "
	augmentRole     = "You are an AI assistant tasked with finding relevant information on the internet. Provide a concise summary of the most important and relevant information related to the given query."
	augmentQueryFmt = "Please provide information about: "
)

var interestRE = regexp.MustCompile(`(?i)interested in (.+)`)

// Augmenter looks up background information about a subject the user
// mentioned.
type Augmenter interface {
	Lookup(ctx context.Context, subject string) (string, error)
}

// GatewayAugmenter asks the model itself for a short summary.
type GatewayAugmenter struct {
	gateway Gateway
}

func NewGatewayAugmenter(g Gateway) *GatewayAugmenter {
	return &GatewayAugmenter{gateway: g}
}

func (a *GatewayAugmenter) Lookup(ctx context.Context, subject string) (string, error) {
	return a.gateway.Complete(ctx, []domain.ChatMessage{
		{Role: domain.ChatRoleSystem, Content: augmentRole},
		{Role: domain.ChatRoleUser, Content: augmentQueryFmt + subject},
	}, augmentTokens)
}

// Subject extracts what the user said they are interested in.
func Subject(input string) (string, bool) {
	m := interestRE.FindStringSubmatch(input)
	if m == nil {
		return "", false
	}
	s := strings.TrimSpace(m[1])
	return s, s != ""
}

// augment records at most one lookup per user turn, as a System turn placed
// after it.
func (d *Dialogue) augment(ctx context.Context, step domain.Step) {
	user, ok := d.transcript.lastUser()
	if !ok || d.augmentedSince(user.Seq) {
		return
	}
	subject, ok := Subject(user.Content)
	if !ok {
		return
	}
	info, err := d.eng.augmenter.Lookup(ctx, subject)
	if err != nil {
		d.log().Warn("augmentation failed", "step", step.ID, "err", err)
		return
	}
	d.record(ctx, domain.RoleSystem, augmentPrefix+info)
}

func (d *Dialogue) augmentedSince(seq int) bool {
	turns := d.transcript.Turns()
	for i := len(turns) - 1; i >= 0 && turns[i].Seq > seq; i-- {
		if turns[i].Role == domain.RoleSystem && strings.HasPrefix(turns[i].Content, augmentPrefix) {
			return true
		}
	}
	return false
}
