package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logbook/api/internal/doctree"
	"logbook/api/internal/typeahead"
)

const sampleDoc = `{"root":{"type":"root","children":[{"type":"paragraph","children":[
	{"type":"mention","mentionName":"u1","mentionType":"User","text":"John Doe"},
	{"type":"text","text":" attached "},
	{"type":"mention","mentionName":"f1","mentionType":"File","text":"scan.pdf"}
]}]}}`

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeDoc(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "entry.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleDoc), 0o644))
	return path
}

func TestRenderCommand(t *testing.T) {
	path := writeDoc(t)

	out, err := run(t, "", "render", "--format", "text", path)
	require.NoError(t, err)
	assert.Equal(t, "John Doe attached scan.pdf\n", out)

	out, err = run(t, "", "render", path)
	require.NoError(t, err)
	assert.Contains(t, out, `data-mention-id="f1"`)

	out, err = run(t, sampleDoc, "render", "-f", "display", "-")
	require.NoError(t, err)
	assert.Contains(t, out, `"kind": "mention"`)

	_, err = run(t, "", "render", "-f", "pdf", path)
	assert.Error(t, err)
}

func TestExtractCommand(t *testing.T) {
	path := writeDoc(t)

	out, err := run(t, "", "extract", path)
	require.NoError(t, err)
	var refs []doctree.Mentionable
	require.NoError(t, json.Unmarshal([]byte(out), &refs))
	assert.Len(t, refs, 2)

	out, err = run(t, "", "extract", "--type", "File", path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &refs))
	assert.Equal(t, []doctree.Mentionable{{ID: "f1", Label: "scan.pdf", Type: doctree.EntityFile}}, refs)

	_, err = run(t, "{", "extract", "-")
	assert.Error(t, err)
	_, err = run(t, "", "extract", "--type", "Robot", path)
	assert.ErrorIs(t, err, doctree.ErrInvalidEntityType)
}

func TestMatchCommand(t *testing.T) {
	out, err := run(t, "", "match", "ping", "@jo")
	require.NoError(t, err)
	var got matchOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.NotNil(t, got.Mention)
	assert.Equal(t, typeahead.Match{LeadOffset: 5, MatchingQuery: "jo", ReplaceableSpan: "@jo"}, *got.Mention)
	assert.Nil(t, got.Slash)
}

func TestImportHTMLCommand(t *testing.T) {
	fragment := `<p>Ask <span class="mention" data-mention="true" data-mention-id="u1" data-mention-type="User">John Doe</span><script>alert(1)</script></p>`
	out, err := run(t, fragment, "import-html", "-")
	require.NoError(t, err)

	doc, err := doctree.Parse([]byte(out))
	require.NoError(t, err)
	assert.NotContains(t, out, "alert")
	var names []string
	doc.Root.Walk(func(n *doctree.Node) bool {
		if n.Kind == doctree.KindMention {
			names = append(names, n.MentionName)
		}
		return true
	})
	assert.Equal(t, []string{"u1"}, names)
}
