package stream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/weave/pkg/a2a"
	"github.com/kadirpekel/weave/pkg/storage"
)

var testArtifacts = []*storage.Artifact{
	{ArtifactID: "art-1", TaskID: "t1", ArtifactType: "WebSource", Name: "Sources", Description: "d",
		SummaryData: map[string]any{"title": "Web Sources"}},
	{ArtifactID: "art-2", TaskID: "t2", ArtifactType: "WebSource", Name: "More"},
}

func textOf(parts []a2a.Part) string {
	var b strings.Builder
	for _, p := range parts {
		if p.Kind == a2a.PartKindText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

func dataParts(parts []a2a.Part) []a2a.Part {
	var out []a2a.Part
	for _, p := range parts {
		if p.Kind == a2a.PartKindData {
			out = append(out, p)
		}
	}
	return out
}

func TestParser_PlainText(t *testing.T) {
	p := NewParser(MapResolver(testArtifacts), nil)
	p.Feed("hello ")
	p.Feed("world")
	p.Finalize()

	parts := p.Parts()
	assert.Equal(t, "hello world", textOf(parts))
	assert.Empty(t, dataParts(parts))
}

func TestParser_ResolvesMarker(t *testing.T) {
	p := NewParser(MapResolver(testArtifacts), nil)
	p.Feed(`see <artifact:ref id="art-1" task="t1"/> for details`)
	p.Finalize()

	parts := p.Parts()
	require.Len(t, parts, 3)
	assert.Equal(t, "see ", parts[0].Text)
	assert.Equal(t, a2a.PartKindData, parts[1].Kind)
	assert.Equal(t, "art-1", parts[1].Data["artifactId"])
	assert.Equal(t, "Sources", parts[1].Data["name"])
	assert.Equal(t, map[string]any{"title": "Web Sources"}, parts[1].Data["artifactSummary"])
	assert.Equal(t, " for details", parts[2].Text)
}

func TestParser_UnknownMarkerEmitsNothing(t *testing.T) {
	p := NewParser(MapResolver(testArtifacts), nil)
	p.Feed(`before <artifact:ref id="ghost" task="t1"/> after`)
	p.Finalize()

	parts := p.Parts()
	assert.Equal(t, "before  after", textOf(parts))
	assert.Empty(t, dataParts(parts))
}

func TestParser_MarkerSplitAcrossChunks(t *testing.T) {
	marker := `<artifact:ref id="art-1" task="t1"/>`
	full := "alpha " + marker + " omega"

	// Try every possible split point; the marker must never be split
	// across two emitted text parts.
	for split := 0; split <= len(full); split++ {
		p := NewParser(MapResolver(testArtifacts), nil)
		p.Feed(full[:split])
		p.Feed(full[split:])
		p.Finalize()

		parts := p.Parts()
		assert.Equal(t, "alpha  omega", textOf(parts), "split at %d", split)
		require.Len(t, dataParts(parts), 1, "split at %d", split)
		for _, part := range parts {
			if part.Kind == a2a.PartKindText {
				assert.NotContains(t, part.Text, "<artifact:ref", "split at %d", split)
			}
		}
	}
}

func TestParser_ByteByByte(t *testing.T) {
	full := `x<artifact:ref id="art-1" task="t1"/>y<artifact:ref id="art-2" task="t2"/>`
	p := NewParser(MapResolver(testArtifacts), nil)
	for i := 0; i < len(full); i++ {
		p.Feed(full[i : i+1])
	}
	p.Finalize()

	parts := p.Parts()
	assert.Equal(t, "xy", textOf(parts))
	data := dataParts(parts)
	require.Len(t, data, 2)
	assert.Equal(t, "art-1", data[0].Data["artifactId"])
	assert.Equal(t, "art-2", data[1].Data["artifactId"])
}

func TestParser_FalseAlarmPrefixes(t *testing.T) {
	for _, text := range []string{
		"a < b and c <art not a marker",
		"<artifact:reX blah",
		"angle <<< brackets",
		"closed but invalid <artifact:ref id=x/> tail",
	} {
		p := NewParser(MapResolver(testArtifacts), nil)
		p.Feed(text)
		p.Finalize()
		assert.Equal(t, text, textOf(p.Parts()), "input %q", text)
	}
}

func TestParser_UnterminatedMarkerFlushedOnFinalize(t *testing.T) {
	p := NewParser(MapResolver(testArtifacts), nil)
	p.Feed(`tail <artifact:ref id="art-1" task=`)
	// Nothing after "tail " can be emitted before finalize.
	assert.Equal(t, "tail ", textOf(p.Parts()))
	p.Finalize()
	assert.Equal(t, `tail <artifact:ref id="art-1" task=`, textOf(p.Parts()))
}

func TestParser_RoundTripPreservesCharacterCount(t *testing.T) {
	marker1 := `<artifact:ref id="art-1" task="t1"/>`
	marker2 := `<artifact:ref id="art-2" task="t2"/>`
	plain := "The quick brown fox. "
	full := plain + marker1 + plain + marker2 + plain

	p := NewParser(MapResolver(testArtifacts), nil)
	for i := 0; i < len(full); i += 7 {
		end := i + 7
		if end > len(full) {
			end = len(full)
		}
		p.Feed(full[i:end])
	}
	p.Finalize()

	parts := p.Parts()
	assert.Equal(t, strings.Repeat(plain, 3), textOf(parts))
	assert.Len(t, dataParts(parts), 2)
}

func TestParser_SinkStopsProducer(t *testing.T) {
	calls := 0
	sink := func(a2a.Part) bool {
		calls++
		return false
	}
	p := NewParser(MapResolver(testArtifacts), sink)
	ok := p.Feed("some text that is definitely safe to emit, then more")
	p.Finalize()
	assert.False(t, ok)
	assert.Equal(t, 1, calls)
}

func TestFormatter_MatchesParser(t *testing.T) {
	full := `intro <artifact:ref id="art-1" task="t1"/> middle <artifact:ref id="ghost" task="x"/> end`

	p := NewParser(MapResolver(testArtifacts), nil)
	for i := 0; i < len(full); i += 3 {
		end := i + 3
		if end > len(full) {
			end = len(full)
		}
		p.Feed(full[i:end])
	}
	p.Finalize()

	f := NewFormatter(MapResolver(testArtifacts))
	assert.Equal(t, f.FormatText(full), p.Parts())
}

func TestObjectParser_EmitsSettledComponents(t *testing.T) {
	p := NewObjectParser(MapResolver(testArtifacts), nil)

	p.FeedDelta(map[string]any{"dataComponents": []any{
		map[string]any{"name": "Answer", "props": map[string]any{"text": "par"}},
	}})
	assert.Empty(t, p.Parts(), "trailing component may still change")

	p.FeedDelta(map[string]any{"dataComponents": []any{
		map[string]any{"name": "Answer", "props": map[string]any{"text": "partial answer"}},
		map[string]any{"name": "Artifact", "props": map[string]any{"artifact_id": "art-1"}},
	}})
	require.Len(t, p.Parts(), 1)
	assert.Equal(t, "Answer", p.Parts()[0].Data["name"])

	p.Finalize(map[string]any{"dataComponents": []any{
		map[string]any{"name": "Answer", "props": map[string]any{"text": "partial answer"}},
		map[string]any{"name": "Artifact", "props": map[string]any{"artifact_id": "art-1", "task_id": "t1"}},
	}})
	parts := p.Parts()
	require.Len(t, parts, 2)
	assert.Equal(t, "art-1", parts[1].Data["artifactId"])
}

func TestFormatter_FormatObject(t *testing.T) {
	f := NewFormatter(MapResolver(testArtifacts))
	parts := f.FormatObject(map[string]any{"dataComponents": []any{
		map[string]any{"name": "Answer", "props": map[string]any{"text": "done"}},
		map[string]any{"name": "Artifact", "props": map[string]any{"artifact_id": "art-1", "task_id": "t1"}},
		map[string]any{"name": "Artifact", "props": map[string]any{"artifact_id": "missing", "task_id": "t1"}},
	}})

	require.Len(t, parts, 2)
	assert.Equal(t, "Answer", parts[0].Data["name"])
	assert.Equal(t, "Sources", parts[1].Data["name"])
}
