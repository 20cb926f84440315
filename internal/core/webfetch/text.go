package webfetch

import (
	"html"
	"regexp"
	"strings"
)

var (
	noiseBlocks = func() []*regexp.Regexp {
		tags := []string{"head", "script", "style", "noscript", "nav", "header", "footer", "aside"}
		out := make([]*regexp.Regexp, len(tags))
		for i, t := range tags {
			out[i] = regexp.MustCompile(`(?is)<` + t + `\b[^>]*>.*?</` + t + `\s*>`)
		}
		return out
	}()
	htmlComment = regexp.MustCompile(`(?s)<!--.*?-->`)
	anyTag      = regexp.MustCompile(`(?s)<[^>]*>`)
	whitespace  = regexp.MustCompile(`\s+`)
	titleTag    = regexp.MustCompile(`(?is)<title\b[^>]*>(.*?)</title\s*>`)

	mdFence      = regexp.MustCompile("(?m)^\\s*(```|~~~).*$")
	mdImage      = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	mdLink       = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	mdHeading    = regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s*`)
	mdQuote      = regexp.MustCompile(`(?m)^\s*>\s?`)
	mdRule       = regexp.MustCompile(`(?m)^\s*([-*_]\s*){3,}$`)
	mdListMarker = regexp.MustCompile(`(?m)^\s*([-*+]|\d+[.)])\s+`)
	mdEmphasis   = regexp.MustCompile("\\*\\*|__|~~|\\*|`")
	mdTableRule  = regexp.MustCompile(`(?m)^\s*\|?(\s*:?-+:?\s*\|)+\s*:?-*:?\s*$`)
	proxyHeader  = regexp.MustCompile(`(?m)^(Title|URL Source|Published Time|Markdown Content):[ \t]*(.*)$`)
)

// HTMLToText drops non-content blocks, strips the remaining tags and decodes entities.
func HTMLToText(src string) string {
	for _, re := range noiseBlocks {
		src = re.ReplaceAllString(src, " ")
	}
	src = htmlComment.ReplaceAllString(src, " ")
	src = anyTag.ReplaceAllString(src, " ")
	src = html.UnescapeString(src)
	return strings.TrimSpace(whitespace.ReplaceAllString(src, " "))
}

// ExtractTitle returns the <title> text, or fallback when there is none.
func ExtractTitle(src, fallback string) string {
	m := titleTag.FindStringSubmatch(src)
	if m == nil {
		return fallback
	}
	t := strings.TrimSpace(whitespace.ReplaceAllString(html.UnescapeString(m[1]), " "))
	if t == "" {
		return fallback
	}
	return t
}

// StripMarkdown reduces markdown to plain words, keeping link and image text.
func StripMarkdown(md string) string {
	md = mdFence.ReplaceAllString(md, " ")
	md = mdImage.ReplaceAllString(md, "$1")
	md = mdLink.ReplaceAllString(md, "$1")
	md = mdTableRule.ReplaceAllString(md, " ")
	md = mdHeading.ReplaceAllString(md, "")
	md = mdQuote.ReplaceAllString(md, "")
	md = mdRule.ReplaceAllString(md, " ")
	md = mdListMarker.ReplaceAllString(md, "")
	md = mdEmphasis.ReplaceAllString(md, "")
	md = anyTag.ReplaceAllString(md, " ")
	md = strings.ReplaceAll(md, "|", " ")
	md = html.UnescapeString(md)
	return strings.TrimSpace(whitespace.ReplaceAllString(md, " "))
}

// splitProxyHeader separates the metadata lines some prerender proxies
// prepend ("Title: ...", "URL Source: ...") from the markdown body.
func splitProxyHeader(md string) (title, body string) {
	for _, m := range proxyHeader.FindAllStringSubmatch(md, -1) {
		if m[1] == "Title" && title == "" {
			title = strings.TrimSpace(m[2])
		}
	}
	return title, proxyHeader.ReplaceAllString(md, "")
}
