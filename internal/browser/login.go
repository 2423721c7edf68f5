package browser

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	selDetailsButton = "#details-button"
	selProceedLink   = "#proceed-link"
	selLoginButton   = "#loginBtn"
	selPasswordInput = `input[type="password"]`

	probeInterval = 200 * time.Millisecond
)

// Login runs the portal login protocol on page. Each query context is
// isolated and starts without cookies, so this runs once per context.
func (s *Session) Login(ctx context.Context, page Page) error {
	ctx, cancel := context.WithTimeout(ctx, s.auto.LoginTimeout)
	defer cancel()
	log := s.logger.With(zap.String("url", s.portal.LoginURL()))

	navCtx, navCancel := context.WithTimeout(ctx, s.auto.NavigationTimeout)
	navErr := page.Navigate(navCtx, s.portal.LoginURL())
	navCancel()
	if navErr != nil {
		log.Warn("Login page did not load cleanly; checking for certificate prompts.", zap.Error(navErr))
	}

	passed, err := s.passInterstitial(ctx, page)
	if err != nil {
		return err
	}
	if navErr != nil || passed {
		answered := s.injector.Inject(ctx, s.portal.CertWindowTitle, s.portal.Password)
		log.Debug("Certificate dialog handled.", zap.Bool("answered", answered))
		if navErr != nil && !passed && !answered {
			return fmt.Errorf("open login page: %w", navErr)
		}
	}

	seen, err := s.firstVisible(ctx, page, selLoginButton, s.portal.Landmark)
	if err != nil {
		return err
	}
	if seen == selLoginButton {
		if err := page.Fill(ctx, selPasswordInput, s.portal.Password); err != nil {
			return fmt.Errorf("fill password: %w", err)
		}
		if err := ClickWithFallback(ctx, page, selLoginButton, s.auto.StepTimeout, s.auto.ForceClickTimeout); err != nil {
			return fmt.Errorf("submit login: %w", err)
		}
	}

	if err := page.WaitVisible(ctx, s.portal.Landmark); err != nil {
		return fmt.Errorf("login landmark %s not visible: %w", s.portal.Landmark, err)
	}
	log.Debug("Logged in.")
	return nil
}

// passInterstitial clicks through the browser's certificate warning page
// when it is showing.
func (s *Session) passInterstitial(ctx context.Context, page Page) (bool, error) {
	probeCtx, cancel := context.WithTimeout(ctx, s.auto.ProbeTimeout)
	visible, err := page.IsVisible(probeCtx, selDetailsButton)
	cancel()
	if err != nil || !visible {
		return false, nil
	}

	s.logger.Info("Certificate interstitial shown; proceeding.")
	for _, sel := range []string{selDetailsButton, selProceedLink} {
		if err := ClickWithFallback(ctx, page, sel, s.auto.StepTimeout, s.auto.ForceClickTimeout); err != nil {
			return true, fmt.Errorf("pass certificate interstitial: %w", err)
		}
	}
	return true, nil
}

// firstVisible polls until one of selectors is visible or the probe timeout
// passes. It returns "" when none appeared.
func (s *Session) firstVisible(ctx context.Context, page Page, selectors ...string) (string, error) {
	deadline := time.Now().Add(s.auto.ProbeTimeout)
	for {
		for _, sel := range selectors {
			if ok, err := page.IsVisible(ctx, sel); err == nil && ok {
				return sel, nil
			}
		}
		if !time.Now().Before(deadline) {
			return "", nil
		}
		if err := Sleep(ctx, probeInterval); err != nil {
			return "", fmt.Errorf("login cancelled: %w", err)
		}
	}
}
