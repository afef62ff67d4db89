// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package lobbyui

import (
	"strings"
	"testing"

	"github.com/charmbracelet/x/ansi"
)

func renderPlain(input string, width int) string {
	return ansi.Strip(RenderMOTD(input, DefaultTheme, width))
}

func TestRenderMOTDEmpty(t *testing.T) {
	if got := RenderMOTD("", DefaultTheme, 80); got != "" {
		t.Errorf("RenderMOTD(\"\") = %q, want empty", got)
	}
	if got := RenderMOTD("   \n  ", DefaultTheme, 80); got != "" {
		t.Errorf("RenderMOTD(whitespace) = %q, want empty", got)
	}
}

func TestRenderMOTDHeadingUppercased(t *testing.T) {
	output := renderPlain("# Server news\n\nBody text.", 80)
	if !strings.Contains(output, "SERVER NEWS") {
		t.Errorf("output missing uppercased h1:\n%s", output)
	}
	if !strings.Contains(output, "Body text.") {
		t.Errorf("output missing paragraph:\n%s", output)
	}
}

func TestRenderMOTDSubheadingKeepsCase(t *testing.T) {
	output := renderPlain("### Match rules\n\ntext", 80)
	if !strings.Contains(output, "Match rules") {
		t.Errorf("h3 should keep its case:\n%s", output)
	}
	if strings.Contains(output, "MATCH RULES") {
		t.Errorf("h3 should not be uppercased:\n%s", output)
	}
}

func TestRenderMOTDSoftBreakReflow(t *testing.T) {
	// Hard-wrapped source: the single newline inside the paragraph
	// becomes a space so the text reflows at render width.
	output := renderPlain("one two\nthree four", 80)
	if !strings.Contains(output, "one two three four") {
		t.Errorf("soft break should reflow into one line:\n%s", output)
	}
}

func TestRenderMOTDWordWrap(t *testing.T) {
	output := renderPlain(strings.Repeat("word ", 30), 40)
	for _, line := range strings.Split(output, "\n") {
		if width := ansi.StringWidth(line); width > 40 {
			t.Errorf("line exceeds wrap width (%d > 40): %q", width, line)
		}
	}
	if !strings.Contains(output, "\n") {
		t.Error("long paragraph should wrap onto multiple lines")
	}
}

func TestRenderMOTDLists(t *testing.T) {
	output := renderPlain("- first\n- second\n\n1. alpha\n2. beta", 80)
	for _, want := range []string{"• first", "• second", "1. alpha", "2. beta"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing list item %q:\n%s", want, output)
		}
	}
}

func TestRenderMOTDFencedCode(t *testing.T) {
	output := renderPlain("```\n/join #lobby:arena.example\n```", 80)
	if !strings.Contains(output, "/join #lobby:arena.example") {
		t.Errorf("output missing code block content:\n%s", output)
	}
}

func TestRenderMOTDBlockquote(t *testing.T) {
	output := renderPlain("> quoted warning", 80)
	if !strings.Contains(output, "│ quoted warning") {
		t.Errorf("output missing blockquote prefix:\n%s", output)
	}
}

func TestRenderMOTDThematicBreak(t *testing.T) {
	output := renderPlain("above\n\n---\n\nbelow", 40)
	if !strings.Contains(output, strings.Repeat("─", 40)) {
		t.Errorf("output missing horizontal rule:\n%s", output)
	}
}

func TestRenderMOTDLinkShowsDestination(t *testing.T) {
	output := renderPlain("[rules](https://arena.example/rules)", 80)
	if !strings.Contains(output, "rules") {
		t.Errorf("output missing link text:\n%s", output)
	}
	if !strings.Contains(output, "(https://arena.example/rules)") {
		t.Errorf("output missing link destination:\n%s", output)
	}
}
