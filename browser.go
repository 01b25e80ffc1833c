package main

import (
	"fmt"

	"github.com/pkg/browser"
)

var openURL = browser.OpenURL

func openBrowser(url string) error {
	if err := openURL(url); err != nil {
		return fmt.Errorf("failed to open %s: %w", url, err)
	}
	return nil
}
