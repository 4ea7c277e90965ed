package parser

import (
	"fmt"

	"github.com/chazu/ebc/pkg/ast"
)

// ---------------------------------------------------------------------------
// Token types
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError

	// Literals
	TokenInteger    // 42
	TokenIdentifier // foo, f_2

	// Keywords
	TokenFunc   // func
	TokenIf     // if
	TokenElse   // else
	TokenReturn // return

	// Operators
	TokenPlus  // +
	TokenMinus // -
	TokenStar  // *
	TokenSlash // /
	TokenEq    // ==
	TokenNe    // !=

	// Delimiters
	TokenLParen     // (
	TokenRParen     // )
	TokenComma      // ,
	TokenColon      // :
	TokenTerminator // ;;
)

var tokenNames = map[TokenType]string{
	TokenEOF:        "EOF",
	TokenError:      "ERROR",
	TokenInteger:    "INTEGER",
	TokenIdentifier: "IDENTIFIER",
	TokenFunc:       "func",
	TokenIf:         "if",
	TokenElse:       "else",
	TokenReturn:     "return",
	TokenPlus:       "+",
	TokenMinus:      "-",
	TokenStar:       "*",
	TokenSlash:      "/",
	TokenEq:         "==",
	TokenNe:         "!=",
	TokenLParen:     "(",
	TokenRParen:     ")",
	TokenComma:      ",",
	TokenColon:      ":",
	TokenTerminator: ";;",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TokenType(%d)", int(t))
}

var keywords = map[string]TokenType{
	"func":   TokenFunc,
	"if":     TokenIf,
	"else":   TokenElse,
	"return": TokenReturn,
}

// Token is a lexical token.
type Token struct {
	Type    TokenType
	Literal string
	Pos     ast.Position
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%q)@%s", t.Type, t.Literal, t.Pos)
}

// binaryOps maps operator tokens to AST operators.
var binaryOps = map[TokenType]ast.BinaryOp{
	TokenPlus:  ast.OpAdd,
	TokenMinus: ast.OpSub,
	TokenStar:  ast.OpMul,
	TokenSlash: ast.OpDiv,
	TokenEq:    ast.OpEq,
	TokenNe:    ast.OpNe,
}

// precedence returns the binding power of a binary operator token, or 0
// when the token is not a binary operator.
func precedence(t TokenType) int {
	switch t {
	case TokenEq, TokenNe:
		return 1
	case TokenPlus, TokenMinus:
		return 2
	case TokenStar, TokenSlash:
		return 3
	}
	return 0
}
