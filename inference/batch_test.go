package inference

import (
	"sync"
	"testing"

	"github.com/nvr-ai/go-yolo/models/postprocess"
	"github.com/nvr-ai/go-yolo/util"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type detBox struct {
	cx, cy, w, h float32
	class        int
	score        float32
}

// batchTensor builds a [len(elements), 4+classes, boxes] output.
func batchTensor(classes int, elements ...[]detBox) ([]float32, postprocess.TensorShape) {
	n := 1
	for _, e := range elements {
		n = max(n, len(e))
	}
	shape := postprocess.TensorShape{Batch: len(elements), Channels: postprocess.GeometryChannels + classes, Boxes: n}
	data := make([]float32, shape.Len())
	for b, boxes := range elements {
		for i, d := range boxes {
			data[shape.Offset(b, 0, i)] = d.cx
			data[shape.Offset(b, 1, i)] = d.cy
			data[shape.Offset(b, 2, i)] = d.w
			data[shape.Offset(b, 3, i)] = d.h
			data[shape.Offset(b, postprocess.GeometryChannels+d.class, i)] = d.score
		}
	}
	return data, shape
}

func unitLetterboxes(n int) []postprocess.LetterboxInfo {
	lbs := make([]postprocess.LetterboxInfo, n)
	for i := range lbs {
		lbs[i] = postprocess.LetterboxInfo{Scale: 1, OriginalWidth: 640, OriginalHeight: 640}
	}
	return lbs
}

func newOrchestrator(t *testing.T, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(DefaultConfig(), opts...)
	require.NoError(t, err)
	return o
}

func TestParseBatch_Order(t *testing.T) {
	data, shape := batchTensor(3,
		[]detBox{{cx: 100, cy: 100, w: 40, h: 40, class: 0, score: 0.9}},
		[]detBox{{cx: 200, cy: 200, w: 40, h: 40, class: 1, score: 0.8}, {cx: 500, cy: 500, w: 40, h: 40, class: 1, score: 0.7}},
		nil,
		[]detBox{{cx: 300, cy: 300, w: 40, h: 40, class: 2, score: 0.6}},
	)

	res, err := newOrchestrator(t).ParseBatch(data, shape, unitLetterboxes(4))
	require.NoError(t, err)
	require.Len(t, res.Detections, 4)
	assert.GreaterOrEqual(t, res.ElapsedMS, 0.0)

	require.Len(t, res.Detections[0], 1)
	assert.Equal(t, 80, res.Detections[0][0].Box.X)
	require.Len(t, res.Detections[1], 2)
	assert.Equal(t, float32(0.8), res.Detections[1][0].Score)
	assert.Empty(t, res.Detections[2])
	require.Len(t, res.Detections[3], 1)
	assert.Equal(t, "car", res.Detections[3][0].Label)
}

func TestParseBatch_SingleWorker(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxWorkers = 1
	o, err := NewOrchestrator(cfg)
	require.NoError(t, err)

	data, shape := batchTensor(2,
		[]detBox{{cx: 100, cy: 100, w: 40, h: 40, class: 0, score: 0.9}},
		[]detBox{{cx: 200, cy: 200, w: 40, h: 40, class: 1, score: 0.8}},
	)
	res, err := o.ParseBatch(data, shape, unitLetterboxes(2))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Detections[0][0].ClassID)
	assert.Equal(t, 1, res.Detections[1][0].ClassID)
}

func TestParseBatch_Invalid(t *testing.T) {
	valid := postprocess.TensorShape{Batch: 2, Channels: 84, Boxes: 100}
	full := make([]float32, valid.Len())

	tests := []struct {
		name        string
		data        []float32
		shape       postprocess.TensorShape
		letterboxes int
	}{
		{"too few channels", full, postprocess.TensorShape{Batch: 1, Channels: 5, Boxes: 100}, 1},
		{"too many channels", full, postprocess.TensorShape{Batch: 1, Channels: 513, Boxes: 100}, 1},
		{"zero boxes", full, postprocess.TensorShape{Batch: 1, Channels: 84, Boxes: 0}, 1},
		{"too many boxes", full, postprocess.TensorShape{Batch: 1, Channels: 84, Boxes: 20001}, 1},
		{"zero batch", full, postprocess.TensorShape{Batch: 0, Channels: 84, Boxes: 100}, 1},
		{"batch too large", full, postprocess.TensorShape{Batch: 5, Channels: 84, Boxes: 100}, 5},
		{"missing letterbox", full, valid, 1},
		{"nil buffer", nil, valid, 2},
		{"short buffer", full[:valid.Len()-1], valid, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, hook := test.NewNullLogger()
			o := newOrchestrator(t, WithLogger(logger))

			res, err := o.ParseBatch(tt.data, tt.shape, unitLetterboxes(tt.letterboxes))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidMetadata))
			assert.Equal(t, BatchResult{}, res, "no partial output")

			require.NotNil(t, hook.LastEntry())
			assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
		})
	}
}

func TestParseBatch_Limits(t *testing.T) {
	tests := []struct {
		name  string
		shape postprocess.TensorShape
	}{
		{"minimum", postprocess.TensorShape{Batch: 1, Channels: MinChannels, Boxes: 1}},
		{"maximum", postprocess.TensorShape{Batch: MaxBatch, Channels: MaxChannels, Boxes: 10}},
		{"most boxes", postprocess.TensorShape{Batch: 1, Channels: MinChannels, Boxes: MaxBoxes}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]float32, tt.shape.Len())
			res, err := newOrchestrator(t).ParseBatch(data, tt.shape, unitLetterboxes(tt.shape.Batch))
			require.NoError(t, err)
			assert.Len(t, res.Detections, tt.shape.Batch)
		})
	}
}

type event struct {
	kind  string
	batch int
	count int
}

type recordingListener struct {
	mu     sync.Mutex
	events []event
}

func (l *recordingListener) ParsingFinished(float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event{kind: "finished", batch: -1})
}

func (l *recordingListener) DetectionsReady(batch int, dets []postprocess.Detection) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event{kind: "ready", batch: batch, count: len(dets)})
}

func TestParseBatch_Listener(t *testing.T) {
	l := &recordingListener{}
	o := newOrchestrator(t, WithListener(l))

	data, shape := batchTensor(2,
		[]detBox{{cx: 100, cy: 100, w: 40, h: 40, class: 0, score: 0.9}},
		nil,
		[]detBox{{cx: 100, cy: 100, w: 40, h: 40, class: 0, score: 0.9}, {cx: 300, cy: 300, w: 40, h: 40, class: 0, score: 0.9}},
	)
	_, err := o.ParseBatch(data, shape, unitLetterboxes(3))
	require.NoError(t, err)

	assert.Equal(t, []event{
		{kind: "finished", batch: -1},
		{kind: "ready", batch: 0, count: 1},
		{kind: "ready", batch: 1, count: 0},
		{kind: "ready", batch: 2, count: 2},
	}, l.events)

	l.events = nil
	_, err = o.ParseBatch(nil, shape, unitLetterboxes(3))
	require.Error(t, err)
	assert.Empty(t, l.events, "rejected batches are not reported")
}

func TestParseBatchAsync(t *testing.T) {
	o := newOrchestrator(t)
	data, shape := batchTensor(2,
		[]detBox{{cx: 100, cy: 100, w: 40, h: 40, class: 1, score: 0.9}},
		[]detBox{{cx: 300, cy: 300, w: 40, h: 40, class: 0, score: 0.9}},
	)

	want, err := o.ParseBatch(data, shape, unitLetterboxes(2))
	require.NoError(t, err)

	ch := o.ParseBatchAsync(data, shape, unitLetterboxes(2))
	got, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, want.Detections, got.Detections)
	_, ok = <-ch
	assert.False(t, ok, "exactly one result is delivered")

	bad, ok := <-o.ParseBatchAsync(nil, shape, unitLetterboxes(2))
	require.True(t, ok)
	assert.Equal(t, BatchResult{}, bad)
}

func TestParseBatchBytes(t *testing.T) {
	o := newOrchestrator(t)
	data, shape := batchTensor(2,
		[]detBox{{cx: 100, cy: 100, w: 40, h: 40, class: 1, score: 0.9}, {cx: 104, cy: 100, w: 40, h: 40, class: 1, score: 0.7}},
	)

	want, err := o.ParseBatch(data, shape, unitLetterboxes(1))
	require.NoError(t, err)
	got, err := o.ParseBatchBytes(util.Float32sToBytes(data), shape, unitLetterboxes(1))
	require.NoError(t, err)
	assert.Equal(t, want.Detections, got.Detections)
	require.Len(t, got.Detections[0], 1)

	blob := util.Float32sToBytes(data)
	_, err = o.ParseBatchBytes(blob[:len(blob)-2], shape, unitLetterboxes(1))
	assert.True(t, errors.Is(err, ErrInvalidMetadata))
}

func TestNewOrchestrator_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxWorkers = 0
	_, err := NewOrchestrator(cfg)
	assert.Error(t, err)
}

func BenchmarkParseBatch(b *testing.B) {
	shape := postprocess.TensorShape{Batch: 4, Channels: 84, Boxes: 8400}
	data := make([]float32, shape.Len())
	for bi := 0; bi < shape.Batch; bi++ {
		for i := 0; i < shape.Boxes; i += 16 {
			data[shape.Offset(bi, 0, i)] = float32(i % 640)
			data[shape.Offset(bi, 1, i)] = float32((i / 640) * 48)
			data[shape.Offset(bi, 2, i)] = 48
			data[shape.Offset(bi, 3, i)] = 48
			data[shape.Offset(bi, 4+i%80, i)] = 0.8
		}
	}
	o, _ := NewOrchestrator(DefaultConfig())
	lbs := unitLetterboxes(4)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = o.ParseBatch(data, shape, lbs)
	}
}
