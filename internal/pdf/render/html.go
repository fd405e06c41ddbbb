// Package render turns registry message HTML into PDF files.
package render

import (
	"encoding/base64"
	"html"
	"regexp"
	"strings"
)

const printCSS = `
@page { size: A4; margin: 1cm 1.5cm; }
body { margin: 0; padding: 0; max-width: 100%; overflow-x: hidden; }
* { box-sizing: border-box; }
table { max-width: 100% !important; width: auto !important; }
table[style*="width"] { width: 100% !important; max-width: 100% !important; }
div[style*="width"] { max-width: 100% !important; }
div.msg[style*="width"] { width: 100% !important; max-width: 100% !important; }
.containerInfo { max-width: 100%; overflow-x: hidden; }
h1.red_small { font-size: 90%; font-weight: bold; color: #C82F10; margin-top: 0; margin-bottom: 10px; }
`

const titleBlock = `<table cellspacing="10" cellpadding="0" width="100%"><tbody><tr>
<td style="border-bottom: #005993 2px solid">
<table border="0" cellpadding="0" cellspacing="0" width="100%"><tbody>
<tr><td><h1 class="red_small">{{title}}</h1></td></tr>
<tr><td colspan="2" class="primary"><div class="message_notarity_info"></div></td></tr>
</tbody></table>
</td></tr></tbody></table>`

var (
	fullDocRe   = regexp.MustCompile(`(?i)<!DOCTYPE|<html`)
	headCloseRe = regexp.MustCompile(`(?i)</head>`)
	headOpenRe  = regexp.MustCompile(`(?i)<head>`)
	bodyOpenRe  = regexp.MustCompile(`(?i)<body`)
)

// DecodeBody returns the HTML carried by a stored message body, which is
// base64 when it decodes strictly and raw HTML otherwise.
func DecodeBody(body string) string {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return ""
	}
	decoded, err := base64.StdEncoding.Strict().DecodeString(trimmed)
	if err != nil {
		return body
	}
	return string(decoded)
}

// PrepareHTML wraps a fragment into a printable document with an optional
// title block, or injects the print styles into a full document.
func PrepareHTML(src, title string) string {
	src = strings.TrimSpace(src)
	style := "<style>" + printCSS + "</style>"

	if fullDocRe.MatchString(src) {
		switch {
		case headCloseRe.MatchString(src):
			return replaceFirst(headCloseRe, src, style+"</head>")
		case headOpenRe.MatchString(src):
			return replaceFirst(headOpenRe, src, "<head>"+style)
		case bodyOpenRe.MatchString(src):
			return replaceFirst(bodyOpenRe, src, "<head>"+style+"</head><body")
		default:
			return document(style, src)
		}
	}

	content := src
	if strings.TrimSpace(title) != "" {
		content = strings.Replace(titleBlock, "{{title}}", html.EscapeString(title), 1) + "\n" + src
	}
	return document(style, content)
}

func document(style, body string) string {
	return "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"UTF-8\">\n" + style + "\n</head>\n<body>\n" + body + "\n</body>\n</html>"
}

func replaceFirst(re *regexp.Regexp, s, repl string) string {
	loc := re.FindStringIndex(s)
	if loc == nil {
		return s
	}
	return s[:loc[0]] + repl + s[loc[1]:]
}
