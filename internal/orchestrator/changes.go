package orchestrator

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	perrors "github.com/p-blackswan/specforge/internal/errors"
	"github.com/p-blackswan/specforge/internal/gateway"
	"github.com/p-blackswan/specforge/internal/models"
	"github.com/p-blackswan/specforge/internal/store"
)

// maxChainDepth bounds the walk back through origin changes.
const maxChainDepth = 64

// buildChanges turns a generation result into pending code changes. A
// modification task yields exactly one change at the origin path.
func (o *Orchestrator) buildChanges(ctx context.Context, task *models.Task, res *gateway.Result) ([]*models.CodeChange, error) {
	const op = "orchestrator.buildChanges"

	files := res.Files
	if task.OriginChangeID != "" {
		origin := task.Context.OriginFilePath
		raw := sortedPaths(files)
		content := files[raw[0]]
		for _, p := range raw {
			if path.Clean(p) == path.Clean(origin) {
				content = files[p]
				break
			}
		}
		files = map[string]string{origin: content}
	}

	files, err := normalizePaths(files)
	if err != nil {
		return nil, perrors.Wrap(perrors.KindGenerationFailed, op, err, err.Error())
	}
	paths := sortedPaths(files)

	seen, err := o.chainPaths(ctx, task)
	if err != nil {
		return nil, err
	}

	reasoning := res.Reasoning
	if task.Context.Feedback != "" {
		reasoning = "Modification requested: " + task.Context.Feedback
		if res.Reasoning != "" {
			reasoning += "\n\n" + res.Reasoning
		}
	}

	changes := make([]*models.CodeChange, 0, len(paths))
	for _, p := range paths {
		kind := models.ChangeCreate
		if seen[p] {
			kind = models.ChangeModify
		}
		changes = append(changes, &models.CodeChange{
			TaskID:     task.ID,
			FilePath:   p,
			Kind:       kind,
			Diff:       renderDiff(p, kind, files[p]),
			Capability: task.Capability,
			Reasoning:  reasoning,
		})
	}
	return changes, nil
}

// chainPaths collects the file paths touched by every task earlier in the
// modification chain of task.
func (o *Orchestrator) chainPaths(ctx context.Context, task *models.Task) (map[string]bool, error) {
	seen := make(map[string]bool)
	originID := task.OriginChangeID
	for depth := 0; originID != "" && depth < maxChainDepth; depth++ {
		origin, err := o.store.GetCodeChange(ctx, originID)
		if err != nil {
			if perrors.KindOf(err) == perrors.KindNotFound {
				break
			}
			return nil, err
		}
		siblings, err := o.store.ListCodeChanges(ctx, store.ChangeFilter{TaskID: origin.TaskID})
		if err != nil {
			return nil, err
		}
		for _, c := range siblings {
			seen[path.Clean(c.FilePath)] = true
		}
		parent, err := o.store.GetTask(ctx, origin.TaskID)
		if err != nil {
			if perrors.KindOf(err) == perrors.KindNotFound {
				break
			}
			return nil, err
		}
		originID = parent.OriginChangeID
	}
	return seen, nil
}

// renderDiff renders content as a unified-style addition listing.
func renderDiff(filePath string, kind models.ChangeKind, content string) string {
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	if content == "" {
		lines = nil
	}

	var b strings.Builder
	if kind == models.ChangeCreate {
		b.WriteString("--- /dev/null\n")
	} else {
		fmt.Fprintf(&b, "--- a/%s\n", filePath)
	}
	fmt.Fprintf(&b, "+++ b/%s\n", filePath)
	fmt.Fprintf(&b, "@@ -0,0 +1,%d @@\n", len(lines))
	for _, l := range lines {
		b.WriteString("+")
		b.WriteString(l)
		b.WriteString("\n")
	}
	return b.String()
}

// validatePath rejects paths that escape the project root.
func validatePath(p string) error {
	if strings.TrimSpace(p) == "" {
		return fmt.Errorf("generated file has an empty path")
	}
	if strings.HasPrefix(p, "/") {
		return fmt.Errorf("generated file path %q is absolute", p)
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("generated file path %q escapes the project", p)
	}
	return nil
}

// normalizePaths validates every path and keys the files by their cleaned
// form. Spellings of the same path collapse into one entry; the spelling
// that is already clean wins, otherwise the first in sorted order.
func normalizePaths(files map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(files))
	for _, p := range sortedPaths(files) {
		if err := validatePath(p); err != nil {
			return nil, err
		}
		clean := path.Clean(p)
		if _, dup := out[clean]; dup && clean != p {
			continue
		}
		out[clean] = files[p]
	}
	return out, nil
}

func sortedPaths(files map[string]string) []string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
