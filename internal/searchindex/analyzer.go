package searchindex

import (
	"unicode"
	"unicode/utf8"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	unicodetok "github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
)

const (
	HangulBigramName        = "hangul_bigram"
	HangulBigramUnigramName = "hangul_bigram_unigram"

	// KoreanAnalyzer indexes title and contents.
	KoreanAnalyzer = "korean"
	// KoreanSearchAnalyzer analyzes keywords. A one-syllable keyword stays a unigram
	// and a longer one becomes bigrams only, so "스프링" does not widen to single syllables.
	KoreanSearchAnalyzer = "korean_search"
)

// HangulBigramFilter splits Hangul runs into overlapping two-syllable terms so that
// compound words match their parts: "스프링부트를" yields 스프, 프링, 링부, 부트, 트를.
// With Unigrams set every syllable is also emitted at the position of the bigram it
// starts, so a one-syllable morpheme such as 밥 matches "밥을".
// Byte-adjacent Hangul tokens are joined into one run first, which keeps the result
// independent of how the tokenizer segments syllables. Other tokens pass through.
type HangulBigramFilter struct {
	Unigrams bool
}

func (f HangulBigramFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	out := make(analysis.TokenStream, 0, len(input)*2)
	pos := 1
	for i := 0; i < len(input); {
		tok := input[i]
		if !hasHangul(tok.Term) {
			tok.Position = pos
			pos++
			out = append(out, tok)
			i++
			continue
		}
		run := append([]byte(nil), tok.Term...)
		start, end := tok.Start, tok.End
		j := i + 1
		for ; j < len(input) && input[j].Start == end && hasHangul(input[j].Term); j++ {
			run = append(run, input[j].Term...)
			end = input[j].End
		}
		i = j
		if utf8.RuneCount(run) < 2 {
			out = append(out, &analysis.Token{Term: run, Start: start, End: end, Position: pos, Type: tok.Type, KeyWord: tok.KeyWord})
			pos++
			continue
		}
		for offset := 0; ; {
			_, first := utf8.DecodeRune(run[offset:])
			_, second := utf8.DecodeRune(run[offset+first:])
			stop := offset + first + second
			if f.Unigrams {
				out = append(out, &analysis.Token{
					Term:     append([]byte(nil), run[offset:offset+first]...),
					Start:    start + offset,
					End:      start + offset + first,
					Position: pos,
					Type:     tok.Type,
					KeyWord:  tok.KeyWord,
				})
			}
			out = append(out, &analysis.Token{
				Term:     append([]byte(nil), run[offset:stop]...),
				Start:    start + offset,
				End:      start + stop,
				Position: pos,
				Type:     tok.Type,
				KeyWord:  tok.KeyWord,
			})
			pos++
			offset += first
			if stop >= len(run) {
				if f.Unigrams {
					out = append(out, &analysis.Token{
						Term:     append([]byte(nil), run[offset:]...),
						Start:    start + offset,
						End:      end,
						Position: pos,
						Type:     tok.Type,
						KeyWord:  tok.KeyWord,
					})
					pos++
				}
				break
			}
		}
	}
	return out
}

func hasHangul(term []byte) bool {
	for _, r := range string(term) {
		if unicode.Is(unicode.Hangul, r) {
			return true
		}
	}
	return false
}

func hangulBigramConstructor(map[string]interface{}, *registry.Cache) (analysis.TokenFilter, error) {
	return HangulBigramFilter{}, nil
}

func hangulBigramUnigramConstructor(map[string]interface{}, *registry.Cache) (analysis.TokenFilter, error) {
	return HangulBigramFilter{Unigrams: true}, nil
}

func init() {
	registry.RegisterTokenFilter(HangulBigramName, hangulBigramConstructor)
	registry.RegisterTokenFilter(HangulBigramUnigramName, hangulBigramUnigramConstructor)
}

func addKoreanAnalyzers(im *mapping.IndexMappingImpl) error {
	if err := im.AddCustomAnalyzer(KoreanAnalyzer, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     unicodetok.Name,
		"token_filters": []string{lowercase.Name, HangulBigramUnigramName},
	}); err != nil {
		return err
	}
	return im.AddCustomAnalyzer(KoreanSearchAnalyzer, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     unicodetok.Name,
		"token_filters": []string{lowercase.Name, HangulBigramName},
	})
}
