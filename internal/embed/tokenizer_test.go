package embed

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeVocab(t *testing.T, tokens []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vocab.txt")
	if err := os.WriteFile(path, []byte(strings.Join(tokens, "\n")), 0644); err != nil {
		t.Fatalf("writing vocab: %v", err)
	}
	return path
}

func testVocab(t *testing.T) *Tokenizer {
	t.Helper()

	// Line number is token ID; pad the special slots so "person" lands
	// at 103 and "bag" at 104.
	tokens := make([]string, 105)
	for i := range tokens {
		tokens[i] = "[unused]"
	}
	tokens[tokenPAD] = "[PAD]"
	tokens[tokenUNK] = "[UNK]"
	tokens[tokenCLS] = "[CLS]"
	tokens[tokenSEP] = "[SEP]"
	tokens[103] = "person"
	tokens[104] = "bag"

	tok, err := LoadTokenizer(writeVocab(t, tokens))
	if err != nil {
		t.Fatalf("loading tokenizer: %v", err)
	}
	return tok
}

func TestTokenizerEncode(t *testing.T) {
	tok := testVocab(t)

	tests := []struct {
		name string
		text string
		want []int64
	}{
		{"known words", "person bag", []int64{tokenCLS, 103, 104, tokenSEP}},
		{"case and punctuation", "Person, BAG!", []int64{tokenCLS, 103, 104, tokenSEP}},
		{"unknown word", "person luggage", []int64{tokenCLS, 103, tokenUNK, tokenSEP}},
		{"empty text", "", []int64{tokenCLS, tokenSEP}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tok.Encode(tt.text)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("expected %v, got %v", tt.want, got)
				}
			}
		})
	}
}

func TestTokenizerTruncates(t *testing.T) {
	tok := testVocab(t)

	long := strings.Repeat("bag ", 200)
	ids := tok.Encode(long)

	if len(ids) != maxSequenceLength {
		t.Errorf("expected truncation to %d tokens, got %d", maxSequenceLength, len(ids))
	}
	if ids[len(ids)-1] != tokenSEP {
		t.Error("truncated sequence must still end with the separator token")
	}
}

func TestLoadTokenizerMissingFile(t *testing.T) {
	if _, err := LoadTokenizer(filepath.Join(t.TempDir(), "nope.txt")); err == nil {
		t.Error("expected an error for a missing vocab file")
	}
}
