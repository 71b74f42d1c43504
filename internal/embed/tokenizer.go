package embed

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// Special token IDs of the encoder vocabulary.
const (
	tokenPAD int64 = 0
	tokenUNK int64 = 100
	tokenCLS int64 = 101
	tokenSEP int64 = 102
)

const maxSequenceLength = 77

// Tokenizer maps text to the token IDs expected by the text encoder. The
// vocabulary is a plain one-token-per-line file; a token's ID is its line
// number. Out-of-vocabulary words map to the unknown token.
type Tokenizer struct {
	vocab map[string]int64
}

func LoadTokenizer(vocabPath string) (*Tokenizer, error) {
	file, err := os.Open(vocabPath)
	if err != nil {
		return nil, fmt.Errorf("opening vocab: %w", err)
	}
	defer file.Close()

	vocab := make(map[string]int64)
	scanner := bufio.NewScanner(file)
	var id int64
	for scanner.Scan() {
		vocab[scanner.Text()] = id
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading vocab: %w", err)
	}
	if len(vocab) == 0 {
		return nil, fmt.Errorf("vocab %s is empty", vocabPath)
	}

	return &Tokenizer{vocab: vocab}, nil
}

// Encode lowercases text, splits on non-alphanumeric runes and returns
// the ID sequence wrapped in start/end tokens, truncated to the model's
// sequence limit.
func (t *Tokenizer) Encode(text string) []int64 {
	text = strings.ToLower(text)

	var words []string
	var current strings.Builder
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			current.WriteRune(r)
			continue
		}
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		words = append(words, current.String())
	}

	ids := make([]int64, 0, len(words)+2)
	ids = append(ids, tokenCLS)
	for _, word := range words {
		if id, ok := t.vocab[word]; ok {
			ids = append(ids, id)
		} else {
			ids = append(ids, tokenUNK)
		}
	}
	ids = append(ids, tokenSEP)

	if len(ids) > maxSequenceLength {
		ids = ids[:maxSequenceLength-1]
		ids = append(ids, tokenSEP)
	}
	return ids
}
