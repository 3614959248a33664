package watcher

import (
	"fmt"

	"postwatch/internal/source"
)

// Render builds the notification text for an item.
func Render(it source.Item) string {
	return fmt.Sprintf("New post detected: \n \n%s \n \n%s", it.Text, it.URL)
}
