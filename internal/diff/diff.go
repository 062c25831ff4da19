package diff

import (
	"bytes"
	"fmt"
)

const DefaultContextLines = 3

// maxCells bounds the LCS table; larger inputs are diffed as a full
// replacement.
const maxCells = 16 << 20

// Line represents a single line in a diff with its type and content
type Line struct {
	Type    LineType
	Content string
	OldNum  int
	NewNum  int
}

// LineType indicates whether a line was added, removed, or is context
type LineType int

const (
	Context LineType = iota
	Addition
	Deletion
)

// DiffResult contains the complete diff information
type DiffResult struct {
	Hunks  []Hunk
	Binary bool
	Stats  struct {
		Additions int
		Deletions int
		Changes   int
	}
}

// Hunk represents a continuous section of changes
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []Line
}

// Engine provides diffing capabilities
type Engine struct {
	contextLines int
}

// NewEngine creates a new diff engine with specified context lines
func NewEngine(contextLines int) *Engine {
	if contextLines < 0 {
		contextLines = 0
	}
	return &Engine{
		contextLines: contextLines,
	}
}

// Diff generates a line-by-line diff between two contents
func (e *Engine) Diff(oldContent, newContent []byte) (*DiffResult, error) {
	result := &DiffResult{}
	if isBinary(oldContent) || isBinary(newContent) {
		result.Binary = !bytes.Equal(oldContent, newContent)
		return result, nil
	}

	oldLines := splitLines(oldContent)
	newLines := splitLines(newContent)

	script := e.editScript(oldLines, newLines)
	result.Hunks = e.group(script)

	for _, line := range script {
		switch line.Type {
		case Addition:
			result.Stats.Additions++
		case Deletion:
			result.Stats.Deletions++
		}
	}
	result.Stats.Changes = result.Stats.Additions + result.Stats.Deletions

	return result, nil
}

func isBinary(content []byte) bool {
	sample := content
	if len(sample) > 8000 {
		sample = sample[:8000]
	}
	return bytes.IndexByte(sample, 0) >= 0
}

func splitLines(content []byte) [][]byte {
	if len(content) == 0 {
		return nil
	}
	return bytes.Split(bytes.TrimSuffix(content, []byte{'\n'}), []byte{'\n'})
}

// editScript walks a suffix LCS table from the start of both inputs,
// emitting every line of both sides in order.
func (e *Engine) editScript(oldLines, newLines [][]byte) []Line {
	n, m := len(oldLines), len(newLines)
	script := make([]Line, 0, n+m)

	if (n+1)*(m+1) > maxCells {
		for i, l := range oldLines {
			script = append(script, Line{Type: Deletion, Content: string(l), OldNum: i + 1})
		}
		for j, l := range newLines {
			script = append(script, Line{Type: Addition, Content: string(l), NewNum: j + 1})
		}
		return script
	}

	lcs := computeLCS(oldLines, newLines)

	i, j := 0, 0
	for i < n && j < m {
		switch {
		case bytes.Equal(oldLines[i], newLines[j]):
			script = append(script, Line{Type: Context, Content: string(oldLines[i]), OldNum: i + 1, NewNum: j + 1})
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			script = append(script, Line{Type: Deletion, Content: string(oldLines[i]), OldNum: i + 1})
			i++
		default:
			script = append(script, Line{Type: Addition, Content: string(newLines[j]), NewNum: j + 1})
			j++
		}
	}
	for ; i < n; i++ {
		script = append(script, Line{Type: Deletion, Content: string(oldLines[i]), OldNum: i + 1})
	}
	for ; j < m; j++ {
		script = append(script, Line{Type: Addition, Content: string(newLines[j]), NewNum: j + 1})
	}
	return script
}

// computeLCS fills lcs[i][j] with the LCS length of oldLines[i:] and
// newLines[j:].
func computeLCS(oldLines, newLines [][]byte) [][]int {
	n, m := len(oldLines), len(newLines)
	matrix := make([][]int, n+1)
	for i := range matrix {
		matrix[i] = make([]int, m+1)
	}

	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if bytes.Equal(oldLines[i], newLines[j]) {
				matrix[i][j] = matrix[i+1][j+1] + 1
			} else {
				matrix[i][j] = max(matrix[i+1][j], matrix[i][j+1])
			}
		}
	}

	return matrix
}

// group cuts the edit script into hunks, keeping contextLines of unchanged
// text around each change and merging changes whose context would overlap.
func (e *Engine) group(script []Line) []Hunk {
	var hunks []Hunk
	ctx := e.contextLines

	for k := 0; k < len(script); {
		if script[k].Type == Context {
			k++
			continue
		}

		start := max(0, k-ctx)
		end := k
		for end < len(script) {
			if script[end].Type != Context {
				end++
				continue
			}
			run := end
			for run < len(script) && script[run].Type == Context {
				run++
			}
			if run == len(script) || run-end > 2*ctx {
				end = min(len(script), end+ctx)
				break
			}
			end = run
		}

		hunks = append(hunks, newHunk(script, start, end))
		k = end
	}

	return hunks
}

func newHunk(script []Line, start, end int) Hunk {
	h := Hunk{Lines: append([]Line(nil), script[start:end]...)}
	for _, l := range h.Lines {
		switch l.Type {
		case Context:
			h.OldLines++
			h.NewLines++
		case Deletion:
			h.OldLines++
		case Addition:
			h.NewLines++
		}
	}

	h.OldStart, h.NewStart = startLines(script, start)
	if h.OldLines == 0 {
		h.OldStart--
	}
	if h.NewLines == 0 {
		h.NewStart--
	}
	return h
}

// startLines returns the 1-based old and new line numbers at script[at].
func startLines(script []Line, at int) (int, int) {
	oldNum, newNum := 1, 1
	for _, l := range script[:at] {
		switch l.Type {
		case Context:
			oldNum++
			newNum++
		case Deletion:
			oldNum++
		case Addition:
			newNum++
		}
	}
	return oldNum, newNum
}

// Format returns a string representation of the diff
func (r *DiffResult) Format() string {
	var buf bytes.Buffer

	if r.Binary {
		buf.WriteString("Binary files differ\n")
		return buf.String()
	}

	for _, hunk := range r.Hunks {
		fmt.Fprintf(&buf, "@@ -%d,%d +%d,%d @@\n",
			hunk.OldStart, hunk.OldLines,
			hunk.NewStart, hunk.NewLines)

		for _, line := range hunk.Lines {
			switch line.Type {
			case Addition:
				buf.WriteString("+")
			case Deletion:
				buf.WriteString("-")
			case Context:
				buf.WriteString(" ")
			}
			buf.WriteString(line.Content)
			buf.WriteString("\n")
		}
	}

	return buf.String()
}

// Empty reports whether the two sides were identical.
func (r *DiffResult) Empty() bool {
	return !r.Binary && len(r.Hunks) == 0
}
