package colorize

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// getHexLexer returns a lexer suitable for a hex/relocation dump, with fallbacks.
func getHexLexer() chroma.Lexer {
	candidates := []string{"nasm", "gas", "GAS"}
	for _, name := range candidates {
		if lexer := lexers.Get(name); lexer != nil {
			return lexer
		}
	}
	return nil
}

func getDumpStyle() *chroma.Style {
	candidates := []string{"ldspace-dump", "dracula", "monokai"}
	for _, name := range candidates {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

func getTerminalFormatter() chroma.Formatter {
	candidates := []string{"terminal16m", "terminal256"}
	for _, name := range candidates {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

// IsDisabled returns true if colors are disabled via environment.
func IsDisabled() bool {
	return os.Getenv("LDSPACE_NO_COLOR") != "" || os.Getenv("NO_COLOR") != ""
}

// Line colorizes one line of a hex/relocation dump using Chroma.
func Line(s string) string {
	if IsDisabled() {
		return s
	}

	lexer := getHexLexer()
	if lexer == nil {
		return s
	}

	style := getDumpStyle()
	formatter := getTerminalFormatter()

	iterator, err := lexer.Tokenise(nil, s)
	if err != nil {
		return s
	}

	var buf strings.Builder
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return s
	}

	return strings.TrimSuffix(buf.String(), "\n")
}

// Address formats an absolute address in yellow.
func Address(addr uint64) string {
	if IsDisabled() {
		return fmt.Sprintf("%#016x", addr)
	}
	return fmt.Sprintf("\033[38;2;255;200;0m%#016x\033[0m", addr)
}

// Symbol formats a symbol name in light blue.
func Symbol(name string) string {
	if IsDisabled() {
		return name
	}
	return fmt.Sprintf("\033[38;2;135;206;235m%s\033[0m", name)
}

// Module formats a module/image basename in light pink.
func Module(name string) string {
	if IsDisabled() {
		return name
	}
	return fmt.Sprintf("\033[38;2;255;180;200m%s\033[0m", name)
}

// Error formats error messages in pink.
func Error(s string) string {
	if IsDisabled() {
		return s
	}
	return fmt.Sprintf("\033[38;2;255;128;192m%s\033[0m", s)
}

// Warn formats warning messages in orange.
func Warn(s string) string {
	if IsDisabled() {
		return s
	}
	return fmt.Sprintf("\033[38;2;255;128;0m%s\033[0m", s)
}

// Header formats a banner glyph/title in bold white.
func Header(s string) string {
	if IsDisabled() {
		return s
	}
	return fmt.Sprintf("\033[1;37m%s\033[0m", s)
}
