// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package lobbyui

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// motdParserInstance is initialized once and reused. The parser
// configuration never changes and the goldmark Parser is safe to
// share — actual parsing creates per-call state via Parse(reader).
var (
	motdParserInstance goldmark.Markdown
	motdParserOnce     sync.Once
)

func getMOTDParser() goldmark.Markdown {
	motdParserOnce.Do(func() {
		motdParserInstance = goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		)
	})
	return motdParserInstance
}

// RenderMOTD parses a markdown message-of-the-day and renders it as
// styled terminal output at the given width. Soft line breaks (single
// newlines within paragraphs) become spaces so hard-wrapped source
// text reflows correctly at any terminal width. Code blocks, lists,
// and other structural elements preserve their formatting.
func RenderMOTD(input string, theme Theme, width int) string {
	if strings.TrimSpace(input) == "" {
		return ""
	}
	if width < 20 {
		width = 20
	}
	source := []byte(input)
	reader := text.NewReader(source)
	document := getMOTDParser().Parser().Parse(reader)

	// Force ANSI256 color profile: this output is always for terminal
	// display inside the bubbletea alt screen, so auto-detection
	// (which sees no TTY under tests) would strip all color.
	lipRenderer := lipgloss.NewRenderer(os.Stderr, termenv.WithProfile(termenv.ANSI256))
	lipRenderer.SetColorProfile(termenv.ANSI256)

	renderer := &motdRenderer{
		source:      source,
		theme:       theme,
		width:       width,
		lipRenderer: lipRenderer,
	}
	ast.Walk(document, renderer.walk)

	return strings.TrimRight(renderer.output.String(), "\n")
}

// motdRenderer walks a goldmark AST and produces styled terminal
// text. It uses a direct ast.Walk rather than goldmark's renderer
// interface because terminal rendering needs accumulate-then-wrap
// semantics: paragraph inline content collects in a buffer and gets
// word-wrapped as a unit when the paragraph closes.
type motdRenderer struct {
	source []byte
	theme  Theme
	width  int

	// Final rendered output.
	output strings.Builder

	// Inline accumulator: collects styled text fragments within a
	// paragraph, heading, or other inline-containing block. Flushed
	// with word-wrap when the containing block closes.
	inline strings.Builder

	// Pending bullet: prepended to the very next flushed block, then
	// cleared. Used for list item bullets/numbers.
	pendingBullet string

	// Indent accumulated from nested lists and blockquotes.
	indent string

	// Inline style counters: incremented by Emphasis entering,
	// decremented on leaving. Counters (not booleans) handle nested
	// emphasis correctly.
	boldCount   int
	italicCount int

	// List nesting state.
	listStack []motdListState

	lipRenderer *lipgloss.Renderer
}

type motdListState struct {
	ordered bool
	counter int
}

func (renderer *motdRenderer) newStyle() lipgloss.Style {
	return renderer.lipRenderer.NewStyle()
}

// styledText applies the current inline style counters to a text
// fragment.
func (renderer *motdRenderer) styledText(content string) string {
	style := renderer.newStyle().Foreground(renderer.theme.NormalText)
	if renderer.boldCount > 0 {
		style = style.Bold(true)
	}
	if renderer.italicCount > 0 {
		style = style.Italic(true)
	}
	return style.Render(content)
}

// flushInline word-wraps the accumulated inline content at the
// current width (minus indent) and writes it to the output with the
// pending bullet or indent prefix.
func (renderer *motdRenderer) flushInline() {
	content := renderer.inline.String()
	renderer.inline.Reset()
	if content == "" && renderer.pendingBullet == "" {
		return
	}

	prefix := renderer.indent
	if renderer.pendingBullet != "" {
		prefix = renderer.indent + renderer.pendingBullet
		renderer.pendingBullet = ""
	}
	continuation := strings.Repeat(" ", ansi.StringWidth(prefix))

	wrapWidth := renderer.width - ansi.StringWidth(prefix)
	if wrapWidth < 10 {
		wrapWidth = 10
	}
	wrapped := ansi.Wordwrap(content, wrapWidth, "")

	for index, line := range strings.Split(wrapped, "\n") {
		if index == 0 {
			renderer.output.WriteString(prefix)
		} else {
			renderer.output.WriteString(continuation)
		}
		renderer.output.WriteString(line)
		renderer.output.WriteString("\n")
	}
}

// blankLine ensures exactly one empty line separates blocks.
func (renderer *motdRenderer) blankLine() {
	rendered := renderer.output.String()
	if rendered == "" || strings.HasSuffix(rendered, "\n\n") {
		return
	}
	renderer.output.WriteString("\n")
}

func (renderer *motdRenderer) walk(node ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node.Kind() {
	case ast.KindDocument:
		// Nothing to do; children render themselves.

	case ast.KindHeading:
		if entering {
			renderer.blankLine()
		} else {
			heading := node.(*ast.Heading)
			content := renderer.inline.String()
			renderer.inline.Reset()
			style := renderer.newStyle().
				Foreground(renderer.theme.HeaderForeground).
				Bold(true)
			if heading.Level <= 2 {
				content = style.Render(strings.ToUpper(ansi.Strip(content)))
			} else {
				content = style.Render(ansi.Strip(content))
			}
			renderer.output.WriteString(renderer.indent + content + "\n")
			renderer.blankLine()
		}

	case ast.KindParagraph:
		if !entering {
			renderer.flushInline()
			if len(renderer.listStack) == 0 {
				renderer.blankLine()
			}
		}

	case ast.KindFencedCodeBlock:
		if entering {
			renderer.renderFencedCode(node.(*ast.FencedCodeBlock))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindCodeBlock:
		if entering {
			renderer.renderIndentedCode(node.(*ast.CodeBlock))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindBlockquote:
		if entering {
			renderer.indent += "│ "
		} else {
			renderer.indent = strings.TrimSuffix(renderer.indent, "│ ")
			renderer.blankLine()
		}

	case ast.KindList:
		if entering {
			list := node.(*ast.List)
			start := 0
			if list.IsOrdered() {
				start = list.Start
			}
			renderer.listStack = append(renderer.listStack, motdListState{
				ordered: list.IsOrdered(),
				counter: start,
			})
		} else {
			renderer.listStack = renderer.listStack[:len(renderer.listStack)-1]
			if len(renderer.listStack) == 0 {
				renderer.blankLine()
			}
		}

	case ast.KindListItem:
		if entering {
			state := &renderer.listStack[len(renderer.listStack)-1]
			if state.ordered {
				renderer.pendingBullet = fmt.Sprintf("%d. ", state.counter)
				state.counter++
			} else {
				renderer.pendingBullet = "• "
			}
		}

	case ast.KindThematicBreak:
		if entering {
			renderer.blankLine()
			rule := renderer.newStyle().
				Foreground(renderer.theme.BorderColor).
				Render(strings.Repeat("─", renderer.width))
			renderer.output.WriteString(rule + "\n")
			renderer.blankLine()
		}

	case ast.KindText:
		if entering {
			renderer.handleText(node.(*ast.Text))
		}

	case ast.KindString:
		if entering {
			str := node.(*ast.String)
			renderer.inline.WriteString(renderer.styledText(string(str.Value)))
		}

	case ast.KindEmphasis:
		emphasis := node.(*ast.Emphasis)
		delta := 1
		if !entering {
			delta = -1
		}
		if emphasis.Level >= 2 {
			renderer.boldCount += delta
		} else {
			renderer.italicCount += delta
		}

	case ast.KindCodeSpan:
		if entering {
			var code strings.Builder
			for child := node.FirstChild(); child != nil; child = child.NextSibling() {
				if textNode, ok := child.(*ast.Text); ok {
					code.Write(textNode.Segment.Value(renderer.source))
				}
			}
			style := renderer.newStyle().
				Foreground(renderer.theme.StateStarting)
			renderer.inline.WriteString(style.Render(code.String()))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindLink:
		if !entering {
			link := node.(*ast.Link)
			urlStyle := renderer.newStyle().Foreground(renderer.theme.FaintText)
			renderer.inline.WriteString(urlStyle.Render(" (" + string(link.Destination) + ")"))
		}

	case ast.KindAutoLink:
		if entering {
			autolink := node.(*ast.AutoLink)
			style := renderer.newStyle().Foreground(renderer.theme.StateInProgress)
			renderer.inline.WriteString(style.Render(string(autolink.URL(renderer.source))))
		}
	}
	return ast.WalkContinue, nil
}

// handleText appends a text node to the inline accumulator. Soft line
// breaks become spaces so hard-wrapped source reflows; hard breaks
// flush the accumulated line.
func (renderer *motdRenderer) handleText(node *ast.Text) {
	renderer.inline.WriteString(renderer.styledText(string(node.Segment.Value(renderer.source))))
	if node.HardLineBreak() {
		renderer.flushInline()
	} else if node.SoftLineBreak() {
		renderer.inline.WriteString(" ")
	}
}

// renderFencedCode renders a fenced code block, syntax-highlighted
// with chroma when the fence names a language.
func (renderer *motdRenderer) renderFencedCode(node *ast.FencedCodeBlock) {
	var code strings.Builder
	lines := node.Lines()
	for index := 0; index < lines.Len(); index++ {
		segment := lines.At(index)
		code.Write(segment.Value(renderer.source))
	}

	language := ""
	if node.Info != nil {
		if fields := strings.Fields(string(node.Info.Value(renderer.source))); len(fields) > 0 {
			language = fields[0]
		}
	}

	renderer.blankLine()
	for _, line := range strings.Split(renderer.highlightCode(code.String(), language), "\n") {
		renderer.output.WriteString(renderer.indent + "  " + line + "\n")
	}
	renderer.blankLine()
}

// renderIndentedCode renders an indented code block without
// highlighting (there is no language hint).
func (renderer *motdRenderer) renderIndentedCode(node *ast.CodeBlock) {
	var code strings.Builder
	lines := node.Lines()
	for index := 0; index < lines.Len(); index++ {
		segment := lines.At(index)
		code.Write(segment.Value(renderer.source))
	}

	faint := renderer.newStyle().Foreground(renderer.theme.FaintText)
	renderer.blankLine()
	for _, line := range strings.Split(strings.TrimRight(code.String(), "\n"), "\n") {
		renderer.output.WriteString(renderer.indent + "  " + faint.Render(line) + "\n")
	}
	renderer.blankLine()
}

// highlightCode runs chroma over a code fragment. Falls back to faint
// unstyled text when the language is unknown or highlighting fails.
func (renderer *motdRenderer) highlightCode(code, language string) string {
	trimmed := strings.TrimRight(code, "\n")
	if language != "" {
		var buffer strings.Builder
		if err := quick.Highlight(&buffer, trimmed, language, "terminal256", "monokai"); err == nil {
			return strings.TrimRight(buffer.String(), "\n")
		}
	}
	var styled []string
	faint := renderer.newStyle().Foreground(renderer.theme.FaintText)
	for _, line := range strings.Split(trimmed, "\n") {
		styled = append(styled, faint.Render(line))
	}
	return strings.Join(styled, "\n")
}
