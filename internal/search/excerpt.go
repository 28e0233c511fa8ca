package search

import (
	"strings"

	"github.com/hyperjump/docqa/pkg/utils"
)

// Excerpt collapses whitespace in content and cuts it to maxLen characters,
// appending "..." when cut.
func Excerpt(content string, maxLen int) string {
	return utils.Truncate(strings.Join(strings.Fields(content), " "), maxLen)
}
