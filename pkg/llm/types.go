package llm

// KeyElement is one named element extracted from a code summary
type KeyElement struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// TechnicalDetails captures the implementation profile of a file or chunk
type TechnicalDetails struct {
	PatternsUsed   []string `json:"patterns_used"`
	PrimaryPurpose string   `json:"primary_purpose"`
	Dependencies   []string `json:"dependencies"`
}

// CodeSummary is the structured summary of a file or chunk
type CodeSummary struct {
	Summary          string           `json:"summary"`
	KeyElements      []KeyElement     `json:"key_elements"`
	TechnicalDetails TechnicalDetails `json:"technical_details"`
}

// ElementGroup is a functional grouping inside a folder summary
type ElementGroup struct {
	Type           string   `json:"type"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	ContainedPaths []string `json:"contained_paths"`
}

// Relationship links a folder to another part of the codebase
type Relationship struct {
	Path             string `json:"path"`
	RelationshipType string `json:"relationship_type"`
	Description      string `json:"description"`
}

// ArchitecturalDetails captures the structural profile of a folder
type ArchitecturalDetails struct {
	PatternsUsed   []string       `json:"patterns_used"`
	Relationships  []Relationship `json:"relationships"`
	PrimaryPurpose string         `json:"primary_purpose"`
}

// FolderSummary is the structured summary of a folder
type FolderSummary struct {
	Summary              string               `json:"summary"`
	KeyElements          []ElementGroup       `json:"key_elements"`
	ArchitecturalDetails ArchitecturalDetails `json:"architectural_details"`
}

// Question is one anticipated developer question
type Question struct {
	Question           string   `json:"question"`
	FocusArea          string   `json:"focus_area"`
	ReferencedElements []string `json:"referenced_elements,omitempty"`
	ReferencedPaths    []string `json:"referenced_paths,omitempty"`
	Context            string   `json:"context,omitempty"`
}

// QuestionMetadata describes the question set as a whole
type QuestionMetadata struct {
	ComplexityLevel string   `json:"complexity_level"`
	RelevantTopics  []string `json:"relevant_topics"`
}

// PossibleQuestions is the structured question-generation result
type PossibleQuestions struct {
	FunctionalityQuestions []Question       `json:"functionality_questions"`
	Metadata               QuestionMetadata `json:"metadata"`
}

// PruneExclusion is one path the model wants removed from a tree
type PruneExclusion struct {
	Path        string `json:"path"`
	Reason      string `json:"reason"`
	Explanation string `json:"explanation"`
}

// PruneSuggestions is the structured tree-pruning result
type PruneSuggestions struct {
	PathsToExclude []PruneExclusion `json:"paths_to_exclude"`
	ReasoningNotes string           `json:"reasoning_notes"`
}

// QueryExpansion is the structured query-augmentation result
type QueryExpansion struct {
	OriginalQuery   string   `json:"originalQuery"`
	ExpandedQueries []string `json:"expandedQueries"`
	QueryIntent     string   `json:"queryIntent"`
	KeyTerms        []string `json:"keyTerms"`
}

// SubQuestion pairs a sub-question with its search queries
type SubQuestion struct {
	Question      string   `json:"question"`
	SearchQueries []string `json:"searchQueries"`
}

// QueryDecomposition is the structured decomposition result
type QueryDecomposition struct {
	OriginalQuestion      string        `json:"originalQuestion"`
	RequiresDecomposition bool          `json:"requiresDecomposition"`
	Explanation           string        `json:"explanation"`
	SubQuestions          []SubQuestion `json:"subQuestions,omitempty"`
	AlternativePhrasings  []string      `json:"alternativePhrasings,omitempty"`
}

// HyDEAnswer is a hypothetical answer generated to anchor vector search
type HyDEAnswer struct {
	OriginalQuestion   string   `json:"originalQuestion"`
	HypotheticalAnswer string   `json:"hypotheticalAnswer"`
	KeyTerms           []string `json:"keyTerms"`
	AnswerType         string   `json:"answerType"`
	ConfidenceLevel    string   `json:"confidenceLevel"`
}

// Document is one candidate passed to the reranker
type Document struct {
	ID   string
	Text string
}

// RankedDocument is a reranker result pointing back into the input slice
type RankedDocument struct {
	Index          int
	RelevanceScore float64
}

// SummaryInput identifies the code being summarized
type SummaryInput struct {
	Path      string
	StartLine int
	EndLine   int
	Code      string
}

// FolderInput identifies the folder being summarized
type FolderInput struct {
	Path     string
	Children string // rendered child listing, one per line
}
