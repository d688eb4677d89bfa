package report

import (
	"github.com/microcosm-cc/bluemonday"
	"github.com/russross/blackfriday/v2"
)

const extensions = blackfriday.Tables |
	blackfriday.FencedCode |
	blackfriday.AutoHeadingIDs |
	blackfriday.NoIntraEmphasis |
	blackfriday.Strikethrough

// policy allows what Markdown produces for a report and nothing else. Node ids and failure
// output come from the test process, so links, images and raw HTML are dropped.
var policy = newPolicy()

func newPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("h1", "h2", "h3", "p", "ul", "li", "strong", "em", "del", "hr", "br")
	p.AllowAttrs("id").Matching(bluemonday.SpaceSeparatedTokens).OnElements("h1", "h2", "h3")

	p.AllowElements("pre", "code")
	p.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("code")

	// Includes align on th and td for the numeric columns.
	p.AllowTables()
	return p
}

// RenderToHTML converts report Markdown to sanitized HTML
func RenderToHTML(markdown string) string {
	unsafeHTML := blackfriday.Run([]byte(markdown), blackfriday.WithExtensions(extensions))
	return string(policy.SanitizeBytes(unsafeHTML))
}
