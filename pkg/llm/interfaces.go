package llm

import "context"

// Every provider method may return (nil, nil) when the model declines
// to answer. Callers must treat a nil result as "no output", not as an
// error.

// Summarizer produces structured summaries of code and folders
type Summarizer interface {
	SummarizeCode(ctx context.Context, input SummaryInput) (*CodeSummary, error)
	SummarizeFolder(ctx context.Context, input FolderInput) (*FolderSummary, error)
}

// QuestionGenerator anticipates developer questions for code and folders
type QuestionGenerator interface {
	CodeQuestions(ctx context.Context, input SummaryInput) (*PossibleQuestions, error)
	FolderQuestions(ctx context.Context, input FolderInput) (*PossibleQuestions, error)
}

// TreePruner suggests additional paths to drop from a rendered tree
type TreePruner interface {
	PruneTree(ctx context.Context, renderedTree string) (*PruneSuggestions, error)
}

// EmbeddingProvider converts text to vectors, batched
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Reranker orders candidate documents by relevance to a query
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []Document, topN int) ([]RankedDocument, error)
}

// QueryExpander generates alternative queries, sub-questions and a
// hypothetical answer for retrieval
type QueryExpander interface {
	ExpandQuery(ctx context.Context, query string) (*QueryExpansion, error)
	DecomposeQuery(ctx context.Context, query string) (*QueryDecomposition, error)
	HypotheticalAnswer(ctx context.Context, query string) (*HyDEAnswer, error)
}

// AnswerGenerator produces the final answer from assembled context
type AnswerGenerator interface {
	GenerateAnswer(ctx context.Context, query string, contextBlocks []string) (string, error)
}
