package openai

import (
	"context"
	"fmt"

	"github.com/quarrylabs/quarry/pkg/llm"
)

const codeSummarySystem = `You are an expert code analyst creating detailed, searchable summaries of code. Summaries feed a code search index, so they must be rich in technical detail and exact names. Always mention exact names of functions, classes, types and other elements, describe patterns and dependencies, and use terms developers would search for.

Respond with a JSON object: {"summary": string, "key_elements": [{"type": "component|function|class|hook|type|interface|constant|export|import", "name": string, "description": string}], "technical_details": {"patterns_used": [string], "primary_purpose": string, "dependencies": [string]}}`

const folderSummarySystem = `You are an expert software architect summarizing a folder of a codebase from the summaries of its contents. Group related items, describe the folder's purpose and its relationships to the rest of the codebase, and use searchable technical terms.

Respond with a JSON object: {"summary": string, "key_elements": [{"type": "component_group|utility_group|config_group|test_group|feature_group|type_definitions|api_group|resource_group", "name": string, "description": string, "contained_paths": [string]}], "architectural_details": {"patterns_used": [string], "relationships": [{"path": string, "relationship_type": "depends_on|imported_by|configures|implements|tests|extends", "description": string}], "primary_purpose": string}}`

const codeQuestionsSystem = `You anticipate realistic questions developers might ask that would lead them to a specific piece of code. Reference exact function and component names, cover usage, implementation, integration, error handling and performance, and keep questions specific rather than generic. These questions will be embedded for search matching.

Respond with a JSON object: {"functionality_questions": [{"question": string, "focus_area": "usage|purpose|implementation|integration|error_handling|data_flow|performance|dependencies", "referenced_elements": [string]}], "metadata": {"complexity_level": "basic|intermediate|advanced", "relevant_topics": [string]}}`

const folderQuestionsSystem = `You anticipate realistic questions developers might ask about a folder of a codebase: where features live, how it is organized, how it integrates with the rest of the system.

Respond with a JSON object: {"functionality_questions": [{"question": string, "focus_area": "organization|architecture|feature_location|integration|dependencies|testing|deployment|development", "referenced_paths": [string], "context": string}], "metadata": {"complexity_level": "basic|intermediate|advanced", "relevant_topics": [string]}}`

const pruneTreeSystem = `You review a repository file tree and identify paths that add no value to a semantic code index: data files, generated code, CI/CD configuration, infrastructure boilerplate, non-essential docs, media assets. Be conservative: when unsure, keep the path.

Respond with a JSON object: {"paths_to_exclude": [{"path": string, "reason": "data_file|generated_code|dependency_file|ci_cd|infrastructure|non_essential_docs|temp_file|media_asset|other", "explanation": string}], "reasoning_notes": string}`

const expandQuerySystem = `You rephrase developer questions about a codebase into alternative search queries. Produce 5 to 10 alternatives that paraphrase, broaden or narrow the original, preserving its intent.

Respond with a JSON object: {"originalQuery": string, "expandedQueries": [string], "queryIntent": string, "keyTerms": [string]}`

const decomposeQuerySystem = `You decide whether a developer question about a codebase should be decomposed into sub-questions. Only decompose questions that genuinely span multiple concerns; simple questions get alternative phrasings instead.

Respond with a JSON object: {"originalQuestion": string, "requiresDecomposition": boolean, "explanation": string, "subQuestions": [{"question": string, "searchQueries": [string]}], "alternativePhrasings": [string]}`

const hydeSystem = `You write a hypothetical answer to a developer question about a codebase, as if you had read the relevant code. The answer's embedding will be used to find real passages, so use concrete technical language a real answer would use.

Respond with a JSON object: {"originalQuestion": string, "hypotheticalAnswer": string, "keyTerms": [string], "answerType": "factual|procedural|conceptual|opinion-based|mixed", "confidenceLevel": "high|medium|low"}`

const answerSystem = `You answer developer questions about a codebase using only the provided context passages. Cite the passages you used. If the context does not contain the answer, say so rather than guessing.`

func (c *Client) SummarizeCode(ctx context.Context, input llm.SummaryInput) (*llm.CodeSummary, error) {
	user := fmt.Sprintf("Analyze this code from %s (lines %d-%d) and create a detailed, searchable summary.\n\nCode:\n\"\"\"\n%s\n\"\"\"",
		input.Path, input.StartLine, input.EndLine, input.Code)

	var out llm.CodeSummary
	ok, err := c.chatJSON(ctx, codeSummarySystem, user, &out)
	if err != nil {
		return nil, fmt.Errorf("code summary for %s failed: %w", input.Path, err)
	}
	if !ok {
		return nil, nil
	}
	return &out, nil
}

func (c *Client) SummarizeFolder(ctx context.Context, input llm.FolderInput) (*llm.FolderSummary, error) {
	user := fmt.Sprintf("Summarize the folder %s from the summaries of its contents.\n\nContents:\n%s",
		input.Path, input.Children)

	var out llm.FolderSummary
	ok, err := c.chatJSON(ctx, folderSummarySystem, user, &out)
	if err != nil {
		return nil, fmt.Errorf("folder summary for %s failed: %w", input.Path, err)
	}
	if !ok {
		return nil, nil
	}
	return &out, nil
}

func (c *Client) CodeQuestions(ctx context.Context, input llm.SummaryInput) (*llm.PossibleQuestions, error) {
	user := fmt.Sprintf("Generate specific questions developers might ask that would lead them to this code from %s (lines %d-%d).\n\nCode:\n\"\"\"\n%s\n\"\"\"",
		input.Path, input.StartLine, input.EndLine, input.Code)

	var out llm.PossibleQuestions
	ok, err := c.chatJSON(ctx, codeQuestionsSystem, user, &out)
	if err != nil {
		return nil, fmt.Errorf("code questions for %s failed: %w", input.Path, err)
	}
	if !ok {
		return nil, nil
	}
	return &out, nil
}

func (c *Client) FolderQuestions(ctx context.Context, input llm.FolderInput) (*llm.PossibleQuestions, error) {
	user := fmt.Sprintf("Generate questions developers might ask about the folder %s.\n\nContents:\n%s",
		input.Path, input.Children)

	var out llm.PossibleQuestions
	ok, err := c.chatJSON(ctx, folderQuestionsSystem, user, &out)
	if err != nil {
		return nil, fmt.Errorf("folder questions for %s failed: %w", input.Path, err)
	}
	if !ok {
		return nil, nil
	}
	return &out, nil
}

func (c *Client) PruneTree(ctx context.Context, renderedTree string) (*llm.PruneSuggestions, error) {
	user := fmt.Sprintf("Identify paths in this repository tree that should be excluded from a semantic code index.\n\nTree:\n%s", renderedTree)

	var out llm.PruneSuggestions
	ok, err := c.chatJSON(ctx, pruneTreeSystem, user, &out)
	if err != nil {
		return nil, fmt.Errorf("tree pruning failed: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &out, nil
}

func (c *Client) ExpandQuery(ctx context.Context, query string) (*llm.QueryExpansion, error) {
	var out llm.QueryExpansion
	ok, err := c.chatJSON(ctx, expandQuerySystem, "Question: "+query, &out)
	if err != nil {
		return nil, fmt.Errorf("query expansion failed: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &out, nil
}

func (c *Client) DecomposeQuery(ctx context.Context, query string) (*llm.QueryDecomposition, error) {
	var out llm.QueryDecomposition
	ok, err := c.chatJSON(ctx, decomposeQuerySystem, "Question: "+query, &out)
	if err != nil {
		return nil, fmt.Errorf("query decomposition failed: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &out, nil
}

func (c *Client) HypotheticalAnswer(ctx context.Context, query string) (*llm.HyDEAnswer, error) {
	var out llm.HyDEAnswer
	ok, err := c.chatJSON(ctx, hydeSystem, "Question: "+query, &out)
	if err != nil {
		return nil, fmt.Errorf("hypothetical answer generation failed: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &out, nil
}

func (c *Client) GenerateAnswer(ctx context.Context, query string, contextBlocks []string) (string, error) {
	var user string
	if len(contextBlocks) == 0 {
		user = fmt.Sprintf("Question: %s\n\nNo context passages were found. Say that nothing relevant was indexed for this question.", query)
	} else {
		user = "Context passages:\n"
		for i, block := range contextBlocks {
			user += fmt.Sprintf("\n[%d] %s\n", i+1, block)
		}
		user += fmt.Sprintf("\nQuestion: %s", query)
	}

	answer, err := c.chatText(ctx, answerSystem, user)
	if err != nil {
		return "", fmt.Errorf("answer generation failed: %w", err)
	}
	return answer, nil
}

var (
	_ llm.Summarizer        = (*Client)(nil)
	_ llm.QuestionGenerator = (*Client)(nil)
	_ llm.TreePruner        = (*Client)(nil)
	_ llm.EmbeddingProvider = (*Client)(nil)
	_ llm.QueryExpander     = (*Client)(nil)
	_ llm.AnswerGenerator   = (*Client)(nil)
)
