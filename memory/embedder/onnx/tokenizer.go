package onnx

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// Special token ids of the bert-base-uncased vocabulary used by MiniLM.
const (
	defaultPadToken = 0
	defaultUnkToken = 100
	defaultClsToken = 101
	defaultSepToken = 102
)

// BERTTokenizer handles BERT-style WordPiece tokenization.
type BERTTokenizer struct {
	vocab    map[string]int
	clsToken int
	sepToken int
	unkToken int
	padToken int

	// maxWordChars bounds per-word work; longer words become [UNK].
	maxWordChars int
}

// LoadBERTTokenizer loads the vocabulary from a HuggingFace tokenizer.json.
func LoadBERTTokenizer(path string) (*BERTTokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tokenizer: %w", err)
	}

	var tokenizerData struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &tokenizerData); err != nil {
		return nil, fmt.Errorf("parse tokenizer: %w", err)
	}
	if len(tokenizerData.Model.Vocab) == 0 {
		return nil, fmt.Errorf("tokenizer %s has an empty vocabulary", path)
	}
	return NewBERTTokenizer(tokenizerData.Model.Vocab), nil
}

// NewBERTTokenizer builds a tokenizer over vocab. Special tokens are looked up
// by name and fall back to the bert-base-uncased ids.
func NewBERTTokenizer(vocab map[string]int) *BERTTokenizer {
	lookup := func(token string, fallback int) int {
		if id, ok := vocab[token]; ok {
			return id
		}
		return fallback
	}
	return &BERTTokenizer{
		vocab:        vocab,
		clsToken:     lookup("[CLS]", defaultClsToken),
		sepToken:     lookup("[SEP]", defaultSepToken),
		unkToken:     lookup("[UNK]", defaultUnkToken),
		padToken:     lookup("[PAD]", defaultPadToken),
		maxWordChars: 100,
	}
}

// Tokenize converts text to WordPiece token ids, without [CLS]/[SEP].
func (t *BERTTokenizer) Tokenize(text string) []int64 {
	var tokens []int64
	for _, word := range basicSplit(text) {
		if id, ok := t.vocab[word]; ok {
			tokens = append(tokens, int64(id))
			continue
		}
		for _, piece := range t.wordPieceTokenize(word) {
			if id, ok := t.vocab[piece]; ok {
				tokens = append(tokens, int64(id))
			} else {
				tokens = append(tokens, int64(t.unkToken))
			}
		}
	}
	return tokens
}

// Encode produces model inputs of exactly maxLen positions:
// [CLS] tokens... [SEP] followed by padding.
func (t *BERTTokenizer) Encode(text string, maxLen int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	tokens := t.Tokenize(text)
	if len(tokens) > maxLen-2 {
		tokens = tokens[:maxLen-2]
	}

	inputIDs = make([]int64, maxLen)
	attentionMask = make([]int64, maxLen)
	tokenTypeIDs = make([]int64, maxLen)

	inputIDs[0] = int64(t.clsToken)
	attentionMask[0] = 1
	for i, tok := range tokens {
		inputIDs[i+1] = tok
		attentionMask[i+1] = 1
	}
	end := len(tokens) + 1
	inputIDs[end] = int64(t.sepToken)
	attentionMask[end] = 1
	for i := end + 1; i < maxLen; i++ {
		inputIDs[i] = int64(t.padToken)
	}
	return inputIDs, attentionMask, tokenTypeIDs
}

// wordPieceTokenize greedily splits a word into the longest vocabulary pieces.
func (t *BERTTokenizer) wordPieceTokenize(word string) []string {
	runes := []rune(word)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) > t.maxWordChars {
		return []string{"[UNK]"}
	}

	var pieces []string
	for start := 0; start < len(runes); {
		end := len(runes)
		var piece string
		for end > start {
			candidate := string(runes[start:end])
			if start > 0 {
				candidate = "##" + candidate
			}
			if _, ok := t.vocab[candidate]; ok {
				piece = candidate
				break
			}
			end--
		}
		if piece == "" {
			// BERT maps the whole word to [UNK] when any piece is missing.
			return []string{"[UNK]"}
		}
		pieces = append(pieces, piece)
		start = end
	}
	return pieces
}

// basicSplit lowercases text and splits it on whitespace, keeping each
// punctuation rune as its own word.
func basicSplit(text string) []string {
	var (
		words   []string
		current strings.Builder
	)
	flush := func() {
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			words = append(words, string(r))
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return words
}
