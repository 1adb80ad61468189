package scenario

import (
	"context"
	"fmt"

	"github.com/shehryarbajwa/gameprobe/internal/driver"
	"github.com/shehryarbajwa/gameprobe/pkg/models"
)

// ResponsiveOptions configures a responsive layout sweep
type ResponsiveOptions struct {
	// Viewports to sweep in order; Env.Viewports is used when empty
	Viewports      []models.ViewportSpec
	CardSelector   string
	ButtonSelector string
	// ScreenshotPrefix names artifacts <prefix>-<viewport slug>.png
	ScreenshotPrefix string
}

// ResponsiveSweep applies each viewport, reloads the target, captures a
// screenshot and checks the layout. One entry per viewport is returned under
// "viewports", including the ones completed before an error.
func ResponsiveSweep(name string, opts ResponsiveOptions) Scenario {
	return Scenario{
		Name: name,
		Kind: KindResponsive,
		Body: func(ctx context.Context, page driver.PageDriver, env Env) (models.Data, error) {
			viewports := opts.Viewports
			if len(viewports) == 0 {
				viewports = env.Viewports
			}

			results := make([]models.Data, 0, len(viewports))
			data := models.Data{"viewports": results}
			for _, vp := range viewports {
				sub, err := sweepViewport(ctx, page, env, opts, vp)
				if sub != nil {
					results = append(results, sub)
					data["viewports"] = results
				}
				if err != nil {
					return data, fmt.Errorf("viewport %s: %w", vp.Label, err)
				}
			}
			return data, nil
		},
	}
}

func sweepViewport(ctx context.Context, page driver.PageDriver, env Env, opts ResponsiveOptions, vp models.ViewportSpec) (models.Data, error) {
	// Viewport is page state; always set it rather than trusting what is there
	if err := page.SetViewport(ctx, vp.Width, vp.Height); err != nil {
		return nil, err
	}
	if err := page.Navigate(ctx, env.TargetURL); err != nil {
		return nil, err
	}

	sub := models.Data{
		"viewport": vp.Label,
		"width":    vp.Width,
		"height":   vp.Height,
	}

	shot, err := page.Screenshot(ctx)
	if err != nil {
		return nil, err
	}
	sub["screenshotTaken"] = true
	if env.Artifacts != nil {
		path, err := env.Artifacts.Save(fmt.Sprintf("%s-%s.png", opts.ScreenshotPrefix, vp.Slug()), shot)
		if err != nil {
			return nil, err
		}
		sub["screenshot"] = path
	}

	cards, err := page.QueryAll(ctx, opts.CardSelector)
	if err != nil {
		return nil, err
	}
	buttons, err := page.QueryAll(ctx, opts.ButtonSelector)
	if err != nil {
		return nil, err
	}
	layout, err := page.Layout(ctx)
	if err != nil {
		return nil, err
	}

	sub["gameCardsVisible"] = len(cards) > 0
	sub["buttonsClickable"] = len(buttons) > 0
	sub["noHorizontalScroll"] = layout.FitsViewport()
	return sub, nil
}
