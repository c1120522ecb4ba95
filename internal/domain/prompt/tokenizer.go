package prompt

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// DefaultEncoding is the BPE encoding used by the gpt-4o family.
const DefaultEncoding = "cl100k_base"

// Tokenizer converts between text and model tokens.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

type tiktokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenizer loads the named encoding from the BPE ranks embedded in
// the binary, so startup needs no outbound network access.
func NewTiktokenizer(encoding string) (Tokenizer, error) {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", encoding, err)
	}
	return &tiktokenizer{enc: enc}, nil
}

func (t *tiktokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *tiktokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}
