// Package diff implements the three-layer version diff engine: textual (LCS
// opcodes + unified preview), structural (section add/delete/rename), and
// semantic (LLM-generated change summary) — SPEC_FULL.md section 4.6.
package diff

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	dmp "github.com/sergi/go-diff/diffmatchpatch"

	"docintel/internal/llm"
	"docintel/internal/observability"
	"docintel/internal/persistence/databases"
)

const (
	maxOpcodesPerSection = 30
	maxSnippetChars      = 500
	maxUnifiedLines      = 50
	renameSimilarity     = 0.6
)

// Opcode is one LCS-derived edit within a modified section.
type Opcode struct {
	Op      string `json:"op"` // replace | insert | delete
	OldText string `json:"old_text,omitempty"`
	NewText string `json:"new_text,omitempty"`
}

// SectionChange is one section's textual diff result.
type SectionChange struct {
	Path           string   `json:"path"`
	Status         string   `json:"status"` // added | deleted | modified
	Opcodes        []Opcode `json:"opcodes,omitempty"`
	UnifiedPreview string   `json:"unified_preview,omitempty"`
}

// TextualDiff is layer 1's full result, serialized into VersionDiff.TextualDiff.
type TextualDiff struct {
	Sections []SectionChange `json:"sections"`
	Stats    map[string]int  `json:"stats"`
}

// RenamePair is one added/deleted section pair paired by content similarity.
type RenamePair struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	Similarity float64 `json:"similarity"`
}

// StructuralDiff is layer 2's full result, serialized into VersionDiff.StructuralDiff.
type StructuralDiff struct {
	Added   []string     `json:"added"`
	Deleted []string     `json:"deleted"`
	Renamed []RenamePair `json:"renamed"`
	Common  []string     `json:"common"`
}

// Engine computes and caches version diffs.
type Engine struct {
	Metadata databases.MetadataStore
	Provider llm.Provider
	Model    string
}

// Diff returns the cached diff for (oldDocID, newDocID) if present, else
// computes, persists, and returns it. Idempotent on repeated calls.
func (e *Engine) Diff(ctx context.Context, oldDocID, newDocID string) (databases.VersionDiff, error) {
	if cached, ok, err := e.Metadata.GetVersionDiff(ctx, oldDocID, newDocID); err != nil {
		return databases.VersionDiff{}, fmt.Errorf("load cached diff: %w", err)
	} else if ok {
		return cached, nil
	}

	oldSections, err := e.sectionContent(ctx, oldDocID)
	if err != nil {
		return databases.VersionDiff{}, fmt.Errorf("load old document sections: %w", err)
	}
	newSections, err := e.sectionContent(ctx, newDocID)
	if err != nil {
		return databases.VersionDiff{}, fmt.Errorf("load new document sections: %w", err)
	}

	textual := computeTextualDiff(oldSections, newSections)
	structural := computeStructuralDiff(oldSections, newSections)

	textualJSON, err := json.Marshal(textual)
	if err != nil {
		return databases.VersionDiff{}, fmt.Errorf("marshal textual diff: %w", err)
	}
	structuralJSON, err := json.Marshal(structural)
	if err != nil {
		return databases.VersionDiff{}, fmt.Errorf("marshal structural diff: %w", err)
	}

	result := databases.VersionDiff{
		OldDocID:       oldDocID,
		NewDocID:       newDocID,
		TextualDiff:    string(textualJSON),
		StructuralDiff: string(structuralJSON),
	}

	summary, changes, impact := e.semanticDiff(ctx, textual, structural)
	result.ChangeSummary = summary
	result.Changes = changes
	result.ImpactAnalysis = impact

	if err := e.Metadata.PutVersionDiff(ctx, result); err != nil {
		return databases.VersionDiff{}, fmt.Errorf("persist diff: %w", err)
	}
	return result, nil
}

// sectionContent loads a document's text chunks ordered by sequence and
// groups their content by section path.
func (e *Engine) sectionContent(ctx context.Context, docID string) (map[string]string, error) {
	rows, err := e.Metadata.ChunksForDoc(ctx, docID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, r := range rows {
		if r.ChunkType != "text" {
			continue
		}
		if out[r.SectionPath] != "" {
			out[r.SectionPath] += "\n\n" + r.Content
		} else {
			out[r.SectionPath] = r.Content
		}
	}
	return out, nil
}

func computeTextualDiff(oldSections, newSections map[string]string) TextualDiff {
	paths := unionKeys(oldSections, newSections)
	stats := map[string]int{"added": 0, "deleted": 0, "modified": 0, "unchanged": 0}
	var sections []SectionChange

	for _, path := range paths {
		oldText, inOld := oldSections[path]
		newText, inNew := newSections[path]
		switch {
		case inNew && !inOld:
			stats["added"]++
			sections = append(sections, SectionChange{Path: path, Status: "added"})
		case inOld && !inNew:
			stats["deleted"]++
			sections = append(sections, SectionChange{Path: path, Status: "deleted"})
		case oldText == newText:
			stats["unchanged"]++
		default:
			stats["modified"]++
			sections = append(sections, SectionChange{
				Path:           path,
				Status:         "modified",
				Opcodes:        diffOpcodes(oldText, newText),
				UnifiedPreview: unifiedPreview(oldText, newText),
			})
		}
	}
	return TextualDiff{Sections: sections, Stats: stats}
}

// diffOpcodes runs the LCS diff and groups adjacent delete+insert pairs
// into "replace" opcodes, capped at maxOpcodesPerSection.
func diffOpcodes(oldText, newText string) []Opcode {
	d := dmp.New()
	diffs := d.DiffMain(oldText, newText, true)
	d.DiffCleanupSemantic(diffs)

	var ops []Opcode
	i := 0
	for i < len(diffs) && len(ops) < maxOpcodesPerSection {
		cur := diffs[i]
		switch cur.Type {
		case dmp.DiffEqual:
			i++
		case dmp.DiffDelete:
			if i+1 < len(diffs) && diffs[i+1].Type == dmp.DiffInsert {
				ops = append(ops, Opcode{Op: "replace", OldText: truncateSnippet(cur.Text), NewText: truncateSnippet(diffs[i+1].Text)})
				i += 2
			} else {
				ops = append(ops, Opcode{Op: "delete", OldText: truncateSnippet(cur.Text)})
				i++
			}
		case dmp.DiffInsert:
			ops = append(ops, Opcode{Op: "insert", NewText: truncateSnippet(cur.Text)})
			i++
		default:
			i++
		}
	}
	return ops
}

func unifiedPreview(oldText, newText string) string {
	d := dmp.New()
	diffs := d.DiffMain(oldText, newText, true)
	patches := d.PatchMake(oldText, diffs)
	preview := d.PatchToText(patches)
	lines := strings.Split(preview, "\n")
	if len(lines) > maxUnifiedLines {
		lines = lines[:maxUnifiedLines]
	}
	return strings.Join(lines, "\n")
}

func truncateSnippet(s string) string {
	if len(s) <= maxSnippetChars {
		return s
	}
	return s[:maxSnippetChars]
}

func computeStructuralDiff(oldSections, newSections map[string]string) StructuralDiff {
	var added, deleted, common []string
	for path := range newSections {
		if _, ok := oldSections[path]; ok {
			common = append(common, path)
		} else {
			added = append(added, path)
		}
	}
	for path := range oldSections {
		if _, ok := newSections[path]; !ok {
			deleted = append(deleted, path)
		}
	}
	sort.Strings(added)
	sort.Strings(deleted)
	sort.Strings(common)

	renamed, remainingAdded, remainingDeleted := detectRenames(added, deleted, oldSections, newSections)
	return StructuralDiff{Added: remainingAdded, Deleted: remainingDeleted, Renamed: renamed, Common: common}
}

// detectRenames greedily pairs each deleted section with its best-matching
// added section when content similarity exceeds renameSimilarity.
func detectRenames(added, deleted []string, oldSections, newSections map[string]string) ([]RenamePair, []string, []string) {
	usedAdded := make(map[string]bool)
	var renamed []RenamePair
	var remainingDeleted []string

	for _, delPath := range deleted {
		bestPath := ""
		bestScore := 0.0
		for _, addPath := range added {
			if usedAdded[addPath] {
				continue
			}
			score := contentSimilarity(oldSections[delPath], newSections[addPath])
			if score > bestScore {
				bestScore = score
				bestPath = addPath
			}
		}
		if bestPath != "" && bestScore > renameSimilarity {
			usedAdded[bestPath] = true
			renamed = append(renamed, RenamePair{From: delPath, To: bestPath, Similarity: bestScore})
		} else {
			remainingDeleted = append(remainingDeleted, delPath)
		}
	}

	var remainingAdded []string
	for _, addPath := range added {
		if !usedAdded[addPath] {
			remainingAdded = append(remainingAdded, addPath)
		}
	}
	return renamed, remainingAdded, remainingDeleted
}

// contentSimilarity is a Jaccard index over whitespace-delimited tokens,
// used as the "sequence similarity" metric for rename pairing.
func contentSimilarity(a, b string) float64 {
	ta := tokenSet(a)
	tb := tokenSet(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1
	}
	inter := 0
	for t := range ta {
		if tb[t] {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, f := range strings.Fields(strings.ToLower(s)) {
		out[f] = true
	}
	return out
}

func unionKeys(a, b map[string]string) []string {
	seen := make(map[string]bool)
	var out []string
	for k := range a {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	for k := range b {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// semanticDiff builds layer 3: a textual summary of layers 1-2 (limited to
// the top-10 modified sections' change counts and types) sent to the main
// LLM for a change summary, change-detail list, and impact analysis.
func (e *Engine) semanticDiff(ctx context.Context, textual TextualDiff, structural StructuralDiff) (string, []databases.DiffChange, string) {
	if e.Provider == nil {
		return "", nil, ""
	}
	logger := observability.LoggerWithTrace(ctx)

	modified := textual.Sections
	sort.Slice(modified, func(i, j int) bool { return len(modified[i].Opcodes) > len(modified[j].Opcodes) })
	if len(modified) > 10 {
		modified = modified[:10]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "stats: %v\n", textual.Stats)
	for _, s := range modified {
		fmt.Fprintf(&b, "section %q: status=%s edits=%d\n", s.Path, s.Status, len(s.Opcodes))
	}
	fmt.Fprintf(&b, "structural: added=%d deleted=%d renamed=%d common=%d\n",
		len(structural.Added), len(structural.Deleted), len(structural.Renamed), len(structural.Common))

	msg, err := e.Provider.Chat(ctx, []llm.Message{
		{Role: "system", Content: semanticSystem},
		{Role: "user", Content: b.String()},
	}, nil, e.Model)
	if err != nil {
		logger.Warn().Err(err).Msg("semantic diff LLM call failed")
		return "", nil, ""
	}

	var parsed struct {
		ChangeSummary string `json:"change_summary"`
		Changes       []struct {
			Category    string `json:"category"`
			Description string `json:"description"`
			Location    string `json:"location"`
			Impact      string `json:"business_impact"`
		} `json:"changes"`
		ImpactAnalysis string `json:"impact_analysis"`
	}
	if err := llm.DecodeJSON(msg.Content, &parsed); err != nil {
		logger.Warn().Err(err).Msg("semantic diff decode failed")
		return "", nil, ""
	}
	changes := make([]databases.DiffChange, 0, len(parsed.Changes))
	for _, c := range parsed.Changes {
		if len(changes) >= 10 {
			break
		}
		changes = append(changes, databases.DiffChange{
			Category:    c.Category,
			Description: c.Description,
			Location:    c.Location,
			Impact:      c.Impact,
		})
	}
	return parsed.ChangeSummary, changes, parsed.ImpactAnalysis
}

const semanticSystem = `You analyze a structural and textual diff summary between two document versions and produce strict JSON: {"change_summary": string (100-200 chars), "changes": [{"category": one of "substantive"|"wording"|"format"|"added_content"|"deleted_content", "description": string, "location": string, "business_impact": string}], "impact_analysis": string (50-100 chars)}. List at most 10 changes, most significant first.`
