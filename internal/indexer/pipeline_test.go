package indexer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totenbilder/searchd/internal/vectorindex"
)

// pngBytes returns a valid 1x1 PNG.
func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.Black)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fakeObjects struct {
	objects map[string][]byte
	listErr error
}

func (f *fakeObjects) List(context.Context) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var keys []string
	for k := range f.objects {
		keys = append(keys, k)
	}
	return keys, nil
}

func (f *fakeObjects) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, os.ErrNotExist)
	}
	return data, nil
}

type fakeIndex struct {
	points      map[string]vectorindex.Point // by payload filename
	upsertCalls int
	upsertErr   error
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{points: make(map[string]vectorindex.Point)}
}

func (f *fakeIndex) FindByFilename(_ context.Context, key string, _ bool) (*vectorindex.Point, error) {
	p, ok := f.points[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", vectorindex.ErrNotFound, key)
	}
	return &p, nil
}

func (f *fakeIndex) Upsert(_ context.Context, points []vectorindex.Point) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upsertCalls++
	for _, p := range points {
		f.points[p.Payload.Filename] = p
	}
	return nil
}

type stubEncoder struct {
	err   error
	calls int
}

func (s *stubEncoder) EncodeImage(context.Context, []byte) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.calls++
	return make([]float32, vectorindex.VectorSize), nil
}

func (s *stubEncoder) EncodeText(context.Context, string) ([]float32, error) {
	return make([]float32, vectorindex.VectorSize), nil
}

type stubOCR struct {
	text string
	err  error
}

func (s *stubOCR) Recognize(context.Context, []byte) (string, error) { return s.text, s.err }

const prefix = "totenbilder/"

func TestIndexAll(t *testing.T) {
	img := pngBytes(t)
	objects := &fakeObjects{objects: map[string][]byte{
		"totenbilder/":           nil, // prefix marker
		"totenbilder/a.png":      img,
		"totenbilder/b.jpg":      img, // png bytes with jpg extension still decode
		"totenbilder/notes.txt":  []byte("not an image"),
		"totenbilder/broken.png": []byte("corrupt"),
	}}
	index := newFakeIndex()
	encoder := &stubEncoder{}

	p := New(objects, index, encoder, nil, prefix, nil)
	stats, err := p.IndexAll(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 0, stats.Skipped)
	assert.Equal(t, 1, stats.Failed) // broken.png
	assert.Len(t, index.points, 2)
	assert.Contains(t, index.points, "totenbilder/a.png")
	assert.Contains(t, index.points, "totenbilder/b.jpg")
}

func TestIndexAllIdempotent(t *testing.T) {
	img := pngBytes(t)
	objects := &fakeObjects{objects: map[string][]byte{
		"totenbilder/a.png": img,
		"totenbilder/b.png": img,
	}}
	index := newFakeIndex()
	p := New(objects, index, &stubEncoder{}, nil, prefix, nil)

	first, err := p.IndexAll(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 2, first.Processed)

	second, err := p.IndexAll(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Processed)
	assert.Equal(t, first.Processed, second.Skipped)
	assert.Len(t, index.points, 2)
}

func TestIndexAllForce(t *testing.T) {
	img := pngBytes(t)
	objects := &fakeObjects{objects: map[string][]byte{"totenbilder/a.png": img}}
	index := newFakeIndex()
	encoder := &stubEncoder{}
	p := New(objects, index, encoder, nil, prefix, nil)

	_, err := p.IndexAll(context.Background(), false)
	require.NoError(t, err)

	stats, err := p.IndexAll(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 0, stats.Skipped)

	// Deterministic ids make the forced run an overwrite, not a duplicate.
	assert.Len(t, index.points, 1)
	assert.Equal(t, 2, encoder.calls)
}

func TestIndexAllBatching(t *testing.T) {
	img := pngBytes(t)
	objects := &fakeObjects{objects: map[string][]byte{}}
	for i := 0; i < batchSize+10; i++ {
		objects.objects[fmt.Sprintf("totenbilder/%03d.png", i)] = img
	}
	index := newFakeIndex()
	p := New(objects, index, &stubEncoder{}, nil, prefix, nil)

	stats, err := p.IndexAll(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, batchSize+10, stats.Processed)
	// One full batch plus the final partial flush.
	assert.Equal(t, 2, index.upsertCalls)
}

func TestIndexAllEmbeddingFailureIsolated(t *testing.T) {
	img := pngBytes(t)
	objects := &fakeObjects{objects: map[string][]byte{"totenbilder/a.png": img}}
	index := newFakeIndex()
	p := New(objects, index, &stubEncoder{err: errors.New("model down")}, nil, prefix, nil)

	stats, err := p.IndexAll(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.Processed)
	assert.Empty(t, index.points)
}

func TestIndexAllListErrorAborts(t *testing.T) {
	boom := errors.New("bucket gone")
	p := New(&fakeObjects{listErr: boom}, newFakeIndex(), &stubEncoder{}, nil, prefix, nil)

	_, err := p.IndexAll(context.Background(), false)
	assert.ErrorIs(t, err, boom)
}

func TestIndexAllUpsertErrorAborts(t *testing.T) {
	img := pngBytes(t)
	objects := &fakeObjects{objects: map[string][]byte{}}
	for i := 0; i < batchSize; i++ {
		objects.objects[fmt.Sprintf("totenbilder/%03d.png", i)] = img
	}
	index := newFakeIndex()
	index.upsertErr = errors.New("qdrant down")
	p := New(objects, index, &stubEncoder{}, nil, prefix, nil)

	_, err := p.IndexAll(context.Background(), false)
	assert.ErrorIs(t, err, index.upsertErr)
}

func TestIndexAllWithOCR(t *testing.T) {
	img := pngBytes(t)
	objects := &fakeObjects{objects: map[string][]byte{"totenbilder/a.png": img}}
	index := newFakeIndex()
	p := New(objects, index, &stubEncoder{}, &stubOCR{text: "Anna Musterfrau 1901-1988"}, prefix, nil)

	_, err := p.IndexAll(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "Anna Musterfrau 1901-1988", index.points["totenbilder/a.png"].Payload.OCRText)
}

func TestIndexAllOCRFailureStillIndexes(t *testing.T) {
	img := pngBytes(t)
	objects := &fakeObjects{objects: map[string][]byte{"totenbilder/a.png": img}}
	index := newFakeIndex()
	p := New(objects, index, &stubEncoder{}, &stubOCR{err: errors.New("ocr down")}, prefix, nil)

	stats, err := p.IndexAll(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, "", index.points["totenbilder/a.png"].Payload.OCRText)
}

func TestIndexOne(t *testing.T) {
	img := pngBytes(t)
	objects := &fakeObjects{objects: map[string][]byte{"totenbilder/a.png": img}}
	index := newFakeIndex()
	p := New(objects, index, &stubEncoder{}, nil, prefix, nil)

	require.NoError(t, p.IndexOne(context.Background(), "totenbilder/a.png"))
	require.Len(t, index.points, 1)
	assert.Equal(t, PointID("totenbilder/a.png"), index.points["totenbilder/a.png"].ID)

	// Re-indexing overwrites the same point, and the bare filename is
	// normalized to the prefixed key.
	require.NoError(t, p.IndexOne(context.Background(), "a.png"))
	assert.Len(t, index.points, 1)
}

func TestIndexOneNotFound(t *testing.T) {
	p := New(&fakeObjects{objects: map[string][]byte{}}, newFakeIndex(), &stubEncoder{}, nil, prefix, nil)

	err := p.IndexOne(context.Background(), "totenbilder/missing.png")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPointIDDeterministic(t *testing.T) {
	a := PointID("totenbilder/a.jpg")
	b := PointID("totenbilder/a.jpg")
	c := PointID("totenbilder/b.jpg")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 36)
}

func TestIsSupportedImage(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"totenbilder/a.jpg", true},
		{"totenbilder/a.JPEG", true},
		{"totenbilder/a.png", true},
		{"totenbilder/a.webp", true},
		{"totenbilder/a.gif", false},
		{"totenbilder/notes.txt", false},
		{"totenbilder/", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isSupportedImage(tt.key), tt.key)
	}
}
