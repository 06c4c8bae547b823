package perception

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/feedpilot/feedpilot/internal/action"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoarseKeyNormalizesAndIgnoresEmptyContent(t *testing.T) {
	t.Parallel()

	a := Content{Name: "  Anna ", Age: 29, HeightCM: 170}
	b := Content{Name: "anna", Age: 29, HeightCM: 170, Text: "different bio"}

	assert.Equal(t, "anna|29|170", CoarseKey(a, nil))
	assert.Equal(t, CoarseKey(a, nil), CoarseKey(b, DefaultKeyFields))
	assert.Equal(t, "", CoarseKey(Content{Text: "only text"}, nil))
	assert.Equal(t, "anna|", CoarseKey(a, []string{"name", "smoking"}))
}

func TestContentHashIsOrderInsensitiveForInterests(t *testing.T) {
	t.Parallel()

	a := Content{Name: "Bea", Interests: []string{"Hiking", "jazz"}}
	b := Content{Name: "bea", Interests: []string{"jazz", "hiking "}}
	c := Content{Name: "Bea", Interests: []string{"jazz"}}

	assert.Equal(t, ContentHash(a), ContentHash(b))
	assert.NotEqual(t, ContentHash(a), ContentHash(c))
	assert.Equal(t, "", ContentHash(Content{}))
}

func TestLayoutSignatureToleratesJitter(t *testing.T) {
	t.Parallel()

	first := []Element{
		{Kind: ElementLike, Bounds: Bounds{X1: 900, Y1: 1500, X2: 1000, Y2: 1600}},
		{Kind: ElementReject, Bounds: Bounds{X1: 40, Y1: 2000, X2: 140, Y2: 2100}},
	}
	jittered := []Element{
		{Kind: ElementReject, Bounds: Bounds{X1: 41, Y1: 2001, X2: 141, Y2: 2101}},
		{Kind: ElementLike, Bounds: Bounds{X1: 901, Y1: 1501, X2: 1001, Y2: 1601}},
	}
	moved := []Element{
		{Kind: ElementLike, Bounds: Bounds{X1: 900, Y1: 300, X2: 1000, Y2: 400}},
		{Kind: ElementReject, Bounds: Bounds{X1: 40, Y1: 2000, X2: 140, Y2: 2100}},
	}

	assert.Equal(t, LayoutSignature(first), LayoutSignature(jittered))
	assert.NotEqual(t, LayoutSignature(first), LayoutSignature(moved))
}

func TestSnapshotLocateHonorsThreshold(t *testing.T) {
	t.Parallel()

	snapshot := Snapshot{Elements: []Element{
		{Kind: ElementLike, Confidence: 0.4, Label: "weak"},
		{Kind: ElementLike, Confidence: 0.9, Label: "strong"},
		{Kind: ElementCommentEntry, Confidence: 0.3},
	}}

	element, ok := snapshot.Locate(ElementLike, 0.5)
	require.True(t, ok)
	assert.Equal(t, "strong", element.Label)
	assert.False(t, snapshot.Located(ElementCommentEntry, 0.5))
	assert.True(t, snapshot.Located(ElementCommentEntry, 0.3))
}

func TestAverageHashDistinguishesFrames(t *testing.T) {
	t.Parallel()

	left := splitImage(false)
	right := splitImage(true)

	leftHash := AverageHash(left)
	assert.Equal(t, 0, HammingDistance(leftHash, AverageHash(splitImage(false))))
	assert.Greater(t, HammingDistance(leftHash, AverageHash(right)), 20)

	fromBytes, err := HashImageBytes(encodePNG(t, left))
	require.NoError(t, err)
	assert.Equal(t, leftHash, fromBytes)

	_, err = HashImageBytes([]byte("not an image"))
	require.Error(t, err)
}

func TestAnalyzerMergesExtractedContentWhenHierarchyLacksIdentity(t *testing.T) {
	t.Parallel()

	structure := stubStructure{layout: Layout{
		Elements: []Element{{Kind: ElementLike, Confidence: 1, Bounds: Bounds{X1: 1, Y1: 1, X2: 10, Y2: 10}}},
		Content:  Content{Location: "Lisbon"},
	}}
	extractor := &stubExtractor{content: Content{Name: "Cleo", Age: 31, Location: "Porto"}}
	analyzer, err := NewAnalyzer(structure, WithContentExtractor(extractor))
	require.NoError(t, err)

	snapshot, err := analyzer.Analyze(context.Background(), action.Frame{
		Image:     encodePNG(t, splitImage(false)),
		Hierarchy: []byte("<hierarchy/>"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, extractor.calls)
	assert.Equal(t, "Cleo", snapshot.Content.Name)
	assert.Equal(t, "Lisbon", snapshot.Content.Location)
	assert.Equal(t, "cleo|31|", snapshot.Fingerprint.Key)
	assert.NotZero(t, snapshot.Fingerprint.Frame)
	assert.NotEmpty(t, snapshot.Fingerprint.Layout)
	assert.False(t, snapshot.CapturedAt.IsZero())
}

func TestAnalyzerSkipsExtractionWhenIdentityKnown(t *testing.T) {
	t.Parallel()

	extractor := &stubExtractor{content: Content{Name: "Other"}}
	analyzer, err := NewAnalyzer(stubStructure{layout: Layout{Content: Content{Name: "Dana"}}}, WithContentExtractor(extractor))
	require.NoError(t, err)

	snapshot, err := analyzer.Analyze(context.Background(), action.Frame{
		Image:     encodePNG(t, splitImage(true)),
		Hierarchy: []byte("<hierarchy/>"),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, extractor.calls)
	assert.Equal(t, "Dana", snapshot.Content.Name)
}

func TestAnalyzerFailsWithoutAnySignal(t *testing.T) {
	t.Parallel()

	analyzer, err := NewAnalyzer(stubStructure{err: errors.New("malformed")})
	require.NoError(t, err)

	_, err = analyzer.Analyze(context.Background(), action.Frame{})
	require.ErrorIs(t, err, ErrEmptyFrame)

	_, err = analyzer.Analyze(context.Background(), action.Frame{Hierarchy: []byte("<broken")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed")
}

func TestNewAnalyzerRequiresStructure(t *testing.T) {
	t.Parallel()

	_, err := NewAnalyzer(nil)
	require.EqualError(t, err, "structure parser is required")
}

type stubStructure struct {
	layout Layout
	err    error
}

func (s stubStructure) Parse([]byte) (Layout, error) {
	return s.layout, s.err
}

type stubExtractor struct {
	content Content
	err     error
	calls   int
}

func (s *stubExtractor) Extract(context.Context, []byte) (Content, error) {
	s.calls++
	return s.content, s.err
}

func splitImage(invert bool) image.Image {
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			bright := x >= 32
			if invert {
				bright = !bright
			}
			value := uint8(10)
			if bright {
				value = 240
			}
			img.SetGray(x, y, color.Gray{Y: value})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
