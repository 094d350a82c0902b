package carrier

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// WaitAndFill waits for sel within budget and fills it.
func WaitAndFill(ctx context.Context, page Page, budget time.Duration, sel, value string) error {
	err := Step(ctx, budget, func(ctx context.Context) error {
		if err := page.WaitVisible(ctx, sel); err != nil {
			return err
		}
		return page.Fill(ctx, sel, value)
	})
	return errors.Wrapf(err, "fill %s", sel)
}

// WaitAndClick waits for sel within budget and clicks it.
func WaitAndClick(ctx context.Context, page Page, budget time.Duration, sel string) error {
	err := Step(ctx, budget, func(ctx context.Context) error {
		if err := page.WaitVisible(ctx, sel); err != nil {
			return err
		}
		return page.Click(ctx, sel)
	})
	return errors.Wrapf(err, "click %s", sel)
}

// WaitAndRead waits for sel within budget and returns its innerText.
func WaitAndRead(ctx context.Context, page Page, budget time.Duration, sel string) (string, error) {
	var text string
	err := Step(ctx, budget, func(ctx context.Context) error {
		if err := page.WaitVisible(ctx, sel); err != nil {
			return err
		}
		var err error
		text, err = page.InnerText(ctx, sel)
		return err
	})
	return text, errors.Wrapf(err, "read %s", sel)
}

// WaitResult waits for either the result marker or the "nothing found"
// marker. The latter yields ErrNotFound.
func WaitResult(ctx context.Context, page Page, budget time.Duration, result, notFound string) error {
	return Step(ctx, budget, func(ctx context.Context) error {
		idx, err := page.WaitAny(ctx, result, notFound)
		if err != nil {
			return errors.Wrapf(err, "wait %s", result)
		}
		if idx == 1 {
			return ErrNotFound
		}
		return nil
	})
}

// TextXPath matches elements of the given tag whose normalised text contains
// text. For tag "*" only elements owning such a text node match, otherwise
// every ancestor up to <html> would match too.
func TextXPath(tag, text string) string {
	if tag == "*" {
		return `//*[text()[contains(normalize-space(.), "` + text + `")]]`
	}
	return `//` + tag + `[contains(normalize-space(.), "` + text + `")]`
}
