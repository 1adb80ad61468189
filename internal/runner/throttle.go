package runner

import (
	"context"
	"net/url"

	"github.com/shehryarbajwa/gameprobe/internal/driver"
)

// throttledPage waits for the throttle before each navigation. Clicks that
// trigger navigation inside the page are not paced.
type throttledPage struct {
	driver.PageDriver
	throttle Throttle
}

func (p *throttledPage) Navigate(ctx context.Context, rawURL string) error {
	if err := p.throttle.Wait(ctx, hostOf(rawURL)); err != nil {
		return err
	}
	return p.PageDriver.Navigate(ctx, rawURL)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
