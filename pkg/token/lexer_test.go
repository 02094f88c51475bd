package token

import "testing"

func collectKinds(src string) []Kind {
	l := NewLexer("t.c", src)
	var kinds []Kind
	for {
		tok := l.Next()
		kinds = append(kinds, tok.Kind)
		if tok.Kind == END {
			return kinds
		}
	}
}

func TestLexBasicPunctuators(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Kind
	}{
		{"empty", "", []Kind{END}},
		{"single char punctuators", "+ - * ; { } ( )", []Kind{
			Kind('+'), Kind('-'), Kind('*'), Kind(';'), Kind('{'), Kind('}'), Kind('('), Kind(')'), END,
		}},
		{"multi char operators", "-> ++ -- << >> <= >= == != && ||", []Kind{
			ARROW, INC, DEC, SHL, SHR, LE, GE, EQ, NE, AND, OR, END,
		}},
		{"ellipsis", "...", []Kind{DOTS, END}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := collectKinds(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("token %d: got %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestLexKeywordsAndIdentifiers(t *testing.T) {
	l := NewLexer("t.c", "int x = sizeof(struct foo);")
	want := []Kind{INT, IDENTIFIER, Kind('='), SIZEOF, Kind('('), STRUCT, IDENTIFIER, Kind(')'), Kind(';'), END}
	for i, k := range want {
		got := l.Next()
		if got.Kind != k {
			t.Fatalf("token %d: got %v, want %v", i, got.Kind, k)
		}
	}
}

func TestLexNumbers(t *testing.T) {
	tests := []struct {
		input      string
		wantValue  int64
		wantUnsign bool
	}{
		{"42", 42, false},
		{"0x2A", 42, false},
		{"10u", 10, true},
		{"0xFFu", 255, true},
	}
	for _, tt := range tests {
		l := NewLexer("t.c", tt.input)
		tok := l.Next()
		if tok.Kind != NUMBER {
			t.Fatalf("input %q: got kind %v", tt.input, tok.Kind)
		}
		if tok.Numeric != tt.wantValue || tok.Unsigned != tt.wantUnsign {
			t.Errorf("input %q: got {%d %v}, want {%d %v}", tt.input, tok.Numeric, tok.Unsigned, tt.wantValue, tt.wantUnsign)
		}
	}
}

func TestLexStringAndChar(t *testing.T) {
	l := NewLexer("t.c", `"hello" 'a' '\n'`)
	str := l.Next()
	if str.Kind != STRING || str.String != "hello" {
		t.Fatalf("got %+v", str)
	}
	ch := l.Next()
	if ch.Kind != NUMBER || ch.Numeric != 'a' {
		t.Fatalf("got %+v", ch)
	}
	nl := l.Next()
	if nl.Kind != NUMBER || nl.Numeric != '\n' {
		t.Fatalf("got %+v", nl)
	}
}

func TestPeekDoesNotConsume(t *testing.T) {
	l := NewLexer("t.c", "int x;")
	first := l.Peek()
	second := l.Peek()
	if first.Kind != second.Kind {
		t.Fatalf("peek is not idempotent: %v vs %v", first.Kind, second.Kind)
	}
	if l.Next().Kind != INT {
		t.Fatalf("next after peek should still return INT")
	}
}

func TestConsumeAssertsKind(t *testing.T) {
	l := NewLexer("t.c", "int")
	if _, err := l.Consume(IDENTIFIER); err == nil {
		t.Fatalf("expected error consuming wrong kind")
	}
	if _, err := l.Consume(INT); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
