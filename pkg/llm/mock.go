package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockProvider implements every provider interface with injectable
// behavior and call tracking, for tests. Unset funcs fall back to
// deterministic canned responses.
type MockProvider struct {
	mu sync.Mutex

	SummarizeCodeFunc      func(ctx context.Context, input SummaryInput) (*CodeSummary, error)
	SummarizeFolderFunc    func(ctx context.Context, input FolderInput) (*FolderSummary, error)
	CodeQuestionsFunc      func(ctx context.Context, input SummaryInput) (*PossibleQuestions, error)
	FolderQuestionsFunc    func(ctx context.Context, input FolderInput) (*PossibleQuestions, error)
	PruneTreeFunc          func(ctx context.Context, renderedTree string) (*PruneSuggestions, error)
	EmbedFunc              func(ctx context.Context, texts []string) ([][]float32, error)
	RerankFunc             func(ctx context.Context, query string, documents []Document, topN int) ([]RankedDocument, error)
	ExpandQueryFunc        func(ctx context.Context, query string) (*QueryExpansion, error)
	DecomposeQueryFunc     func(ctx context.Context, query string) (*QueryDecomposition, error)
	HypotheticalAnswerFunc func(ctx context.Context, query string) (*HyDEAnswer, error)
	GenerateAnswerFunc     func(ctx context.Context, query string, contextBlocks []string) (string, error)

	Dim int // dimension reported by Dimension(), defaults to 4

	// Calls records every method invocation as "method:firstArg"
	Calls []string
}

// NewMockProvider returns a mock with canned defaults
func NewMockProvider() *MockProvider {
	return &MockProvider{Dim: 4}
}

func (m *MockProvider) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, call)
}

// CallCount returns how many recorded calls have the given prefix
func (m *MockProvider) CallCount(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, call := range m.Calls {
		if len(call) >= len(prefix) && call[:len(prefix)] == prefix {
			count++
		}
	}
	return count
}

func (m *MockProvider) SummarizeCode(ctx context.Context, input SummaryInput) (*CodeSummary, error) {
	m.record("SummarizeCode:" + input.Path)
	if m.SummarizeCodeFunc != nil {
		return m.SummarizeCodeFunc(ctx, input)
	}
	return &CodeSummary{
		Summary: fmt.Sprintf("Summary of %s lines %d-%d", input.Path, input.StartLine, input.EndLine),
		KeyElements: []KeyElement{
			{Type: "function", Name: "example", Description: "example element"},
		},
		TechnicalDetails: TechnicalDetails{
			PrimaryPurpose: "test fixture",
		},
	}, nil
}

func (m *MockProvider) SummarizeFolder(ctx context.Context, input FolderInput) (*FolderSummary, error) {
	m.record("SummarizeFolder:" + input.Path)
	if m.SummarizeFolderFunc != nil {
		return m.SummarizeFolderFunc(ctx, input)
	}
	return &FolderSummary{
		Summary: fmt.Sprintf("Folder summary of %s", input.Path),
		ArchitecturalDetails: ArchitecturalDetails{
			PrimaryPurpose: "test fixture",
		},
	}, nil
}

func (m *MockProvider) CodeQuestions(ctx context.Context, input SummaryInput) (*PossibleQuestions, error) {
	m.record("CodeQuestions:" + input.Path)
	if m.CodeQuestionsFunc != nil {
		return m.CodeQuestionsFunc(ctx, input)
	}
	return &PossibleQuestions{
		FunctionalityQuestions: []Question{
			{Question: fmt.Sprintf("What does %s do?", input.Path), FocusArea: "purpose"},
		},
	}, nil
}

func (m *MockProvider) FolderQuestions(ctx context.Context, input FolderInput) (*PossibleQuestions, error) {
	m.record("FolderQuestions:" + input.Path)
	if m.FolderQuestionsFunc != nil {
		return m.FolderQuestionsFunc(ctx, input)
	}
	return &PossibleQuestions{
		FunctionalityQuestions: []Question{
			{Question: fmt.Sprintf("How is %s organized?", input.Path), FocusArea: "organization"},
		},
	}, nil
}

func (m *MockProvider) PruneTree(ctx context.Context, renderedTree string) (*PruneSuggestions, error) {
	m.record("PruneTree:")
	if m.PruneTreeFunc != nil {
		return m.PruneTreeFunc(ctx, renderedTree)
	}
	return &PruneSuggestions{}, nil
}

func (m *MockProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.record(fmt.Sprintf("Embed:%d", len(texts)))
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, texts)
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		// Deterministic per-text vector so searches are stable
		v := make([]float32, m.Dim)
		for j := 0; j < m.Dim; j++ {
			v[j] = float32((len(text)+i+j)%7) + 1
		}
		vectors[i] = v
	}
	return vectors, nil
}

func (m *MockProvider) Dimension() int {
	if m.Dim > 0 {
		return m.Dim
	}
	return 4
}

func (m *MockProvider) Rerank(ctx context.Context, query string, documents []Document, topN int) ([]RankedDocument, error) {
	m.record(fmt.Sprintf("Rerank:%d", len(documents)))
	if m.RerankFunc != nil {
		return m.RerankFunc(ctx, query, documents, topN)
	}
	n := topN
	if n > len(documents) {
		n = len(documents)
	}
	ranked := make([]RankedDocument, n)
	for i := 0; i < n; i++ {
		ranked[i] = RankedDocument{Index: i, RelevanceScore: 1.0 - float64(i)*0.05}
	}
	return ranked, nil
}

func (m *MockProvider) ExpandQuery(ctx context.Context, query string) (*QueryExpansion, error) {
	m.record("ExpandQuery:" + query)
	if m.ExpandQueryFunc != nil {
		return m.ExpandQueryFunc(ctx, query)
	}
	return &QueryExpansion{
		OriginalQuery:   query,
		ExpandedQueries: []string{query + " implementation", query + " usage"},
	}, nil
}

func (m *MockProvider) DecomposeQuery(ctx context.Context, query string) (*QueryDecomposition, error) {
	m.record("DecomposeQuery:" + query)
	if m.DecomposeQueryFunc != nil {
		return m.DecomposeQueryFunc(ctx, query)
	}
	return &QueryDecomposition{
		OriginalQuestion:      query,
		RequiresDecomposition: false,
	}, nil
}

func (m *MockProvider) HypotheticalAnswer(ctx context.Context, query string) (*HyDEAnswer, error) {
	m.record("HypotheticalAnswer:" + query)
	if m.HypotheticalAnswerFunc != nil {
		return m.HypotheticalAnswerFunc(ctx, query)
	}
	return &HyDEAnswer{
		OriginalQuestion:   query,
		HypotheticalAnswer: "A plausible answer to: " + query,
		AnswerType:         "factual",
		ConfidenceLevel:    "medium",
	}, nil
}

func (m *MockProvider) GenerateAnswer(ctx context.Context, query string, contextBlocks []string) (string, error) {
	m.record(fmt.Sprintf("GenerateAnswer:%d", len(contextBlocks)))
	if m.GenerateAnswerFunc != nil {
		return m.GenerateAnswerFunc(ctx, query, contextBlocks)
	}
	return "Answer to: " + query, nil
}

var (
	_ Summarizer        = (*MockProvider)(nil)
	_ QuestionGenerator = (*MockProvider)(nil)
	_ TreePruner        = (*MockProvider)(nil)
	_ EmbeddingProvider = (*MockProvider)(nil)
	_ Reranker          = (*MockProvider)(nil)
	_ QueryExpander     = (*MockProvider)(nil)
	_ AnswerGenerator   = (*MockProvider)(nil)
)
