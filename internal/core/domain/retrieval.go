package domain

// NoInformationSentinel is returned when nothing the user may see matches the question.
// The answer generator must not fabricate an answer when it receives it.
const NoInformationSentinel = "No relevant information found."

// RankedChunk is one entry of a ranking. Scores from different sources are not comparable.
type RankedChunk struct {
	ChunkID string  `json:"chunk_id"`
	Score   float64 `json:"score"`
}

// RankingSource is one ranked list with its fusion weight.
type RankingSource struct {
	Name   string
	Chunks []RankedChunk
	Weight float64
}

// LexicalQuery is a normalized full-text query: lower-cased letter/digit terms, ANDed, each prefix matched.
type LexicalQuery struct {
	Terms []string
}

func (q LexicalQuery) Empty() bool {
	return len(q.Terms) == 0
}

type LexicalHit struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Content    string  `json:"content"`
	Rank       float64 `json:"rank"`
}

type CitedChunk struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	PageNumber int     `json:"page"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

const (
	SourceDense   = "dense"
	SourceLexical = "lexical"
)

// DegradedMode selects how retrieval reacts to a failing retriever.
type DegradedMode string

const (
	DegradedFailOpen   DegradedMode = "fail_open"
	DegradedFailClosed DegradedMode = "fail_closed"
)

type RetrievalResult struct {
	Context       string       `json:"context"`
	NoInformation bool         `json:"no_information"`
	Relevant      []CitedChunk `json:"relevant"`
	Supplementary []CitedChunk `json:"supplementary"`
	Degraded      []string     `json:"degraded,omitempty"`
}
