// Package classify assigns a statement category to a single line of source
// text. Classification is purely syntactic: the line is tokenized on its own,
// with no surrounding context, so a continuation line of a multi-line
// statement simply falls back to the generic line category.
package classify

import (
	"go/scanner"
	"go/token"
	"strings"

	"github.com/aniasusual/blind/internal/domain"
)

// Line returns the statement category for a single source line. It is
// deterministic and never fails: anything that does not scan cleanly, or that
// matches no rule, is a plain line.
func Line(text string) domain.Category {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.CategoryLine
	}

	toks := tokenize(text)
	if len(toks) == 0 {
		return domain.CategoryLine
	}

	switch toks[0] {
	case token.FOR, token.RANGE:
		return domain.CategoryLoopStart
	case token.IF, token.ELSE, token.SWITCH, token.SELECT, token.CASE, token.DEFAULT:
		return domain.CategoryConditional
	case token.IMPORT:
		return domain.CategoryImport
	case token.DEFER:
		return domain.CategoryDefer
	case token.GO:
		return domain.CategoryGoStatement
	}

	// Assignment anywhere at the top level of the line. The scanner flattens
	// nesting, so an "=" inside a composite literal counts too; the original
	// line-at-a-time classifier had the same coarseness.
	for _, tok := range toks {
		switch tok {
		case token.DEFINE, token.ASSIGN,
			token.ADD_ASSIGN, token.SUB_ASSIGN, token.MUL_ASSIGN, token.QUO_ASSIGN, token.REM_ASSIGN,
			token.AND_ASSIGN, token.OR_ASSIGN, token.XOR_ASSIGN, token.SHL_ASSIGN, token.SHR_ASSIGN,
			token.AND_NOT_ASSIGN, token.INC, token.DEC:
			return domain.CategoryAssignment
		}
	}

	return domain.CategoryLine
}

// tokenize scans a single line, swallowing scan errors. Errors are expected
// for fragments of multi-line statements and must not surface.
func tokenize(text string) []token.Token {
	var s scanner.Scanner
	fset := token.NewFileSet()
	file := fset.AddFile("", fset.Base(), len(text))
	s.Init(file, []byte(text), func(token.Position, string) {}, 0)

	var toks []token.Token
	for {
		_, tok, _ := s.Scan()
		if tok == token.EOF {
			break
		}
		if tok == token.SEMICOLON {
			// Automatic semicolon insertion at line end; not part of the text.
			continue
		}
		toks = append(toks, tok)
		if len(toks) > 64 {
			break
		}
	}
	return toks
}
