package sequences

import (
	"context"
	"fmt"

	"github.com/ManuelReschke/ReflectCoach/internal/pkg/clock"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/mail"
)

const (
	welcomeTemplate = "welcome_pro"
	welcomeSubject  = "Welcome to ReflectCoach Pro"
)

// WelcomeMailer renders and sends the one-time purchase welcome message.
type WelcomeMailer struct {
	users        Users
	resolver     EntitlementReader
	renderer     Renderer
	sender       mail.Sender
	clock        clock.Clock
	publicDomain string
}

func NewWelcomeMailer(users Users, resolver EntitlementReader, renderer Renderer, sender mail.Sender, clk clock.Clock, publicDomain string) *WelcomeMailer {
	if clk == nil {
		clk = clock.System{}
	}
	return &WelcomeMailer{users: users, resolver: resolver, renderer: renderer, sender: sender, clock: clk, publicDomain: publicDomain}
}

// NotifyWelcome sends the welcome message to userID. Users who opted out or
// no longer exist are skipped silently.
func (w *WelcomeMailer) NotifyWelcome(ctx context.Context, userID uint) error {
	user, err := w.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user %d: %w", userID, err)
	}
	if user == nil || !user.CanReceiveEmail() {
		return nil
	}

	res, _ := w.resolver.Resolve(ctx, userID, w.clock.Now())
	body, ok, err := w.renderer.Render(welcomeTemplate, templateDataFor(user, res.Tier, w.publicDomain))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("template %s not found", welcomeTemplate)
	}
	return w.sender.Send(ctx, user.Email, welcomeSubject, body)
}
