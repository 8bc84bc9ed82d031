package transcription

import (
	"context"
	"errors"
	"io"
	"testing"

	openai "github.com/meguminnnnnnnnn/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWhisper struct {
	req  openai.AudioRequest
	body []byte
	resp openai.AudioResponse
	err  error
}

func (f *fakeWhisper) CreateTranscription(_ context.Context, req openai.AudioRequest) (openai.AudioResponse, error) {
	f.req = req
	f.body, _ = io.ReadAll(req.Reader)
	return f.resp, f.err
}

func TestWhisper_Transcribe(t *testing.T) {
	fake := &fakeWhisper{}
	fake.resp.Text = "  chase up the invoice  "
	w := &Whisper{client: fake, model: openai.Whisper1}

	got, err := w.Transcribe(context.Background(), []byte("ID3..."), "mp3")
	require.NoError(t, err)
	assert.Equal(t, "chase up the invoice", got.Text)
	assert.Nil(t, got.Confidence, "no segments means no confidence")
	assert.Equal(t, "note.mp3", fake.req.FilePath)
	assert.Equal(t, openai.AudioResponseFormatVerboseJSON, fake.req.Format)
	assert.Equal(t, []byte("ID3..."), fake.body)
}

func TestWhisper_Errors(t *testing.T) {
	w := &Whisper{client: &fakeWhisper{err: errors.New("429")}, model: openai.Whisper1}
	_, err := w.Transcribe(context.Background(), []byte("x"), "wav")
	assert.Error(t, err)

	_, err = w.Transcribe(context.Background(), nil, "wav")
	assert.Error(t, err)

	w = &Whisper{client: &fakeWhisper{}, model: openai.Whisper1}
	_, err = w.Transcribe(context.Background(), []byte("x"), "wav")
	assert.Error(t, err, "empty text is a failure")
}

func TestConfidenceFromLogprobs(t *testing.T) {
	assert.Nil(t, confidenceFromLogprobs(nil))

	c := confidenceFromLogprobs([]float64{0, 0})
	require.NotNil(t, c)
	assert.InDelta(t, 1.0, *c, 1e-9)

	c = confidenceFromLogprobs([]float64{-0.5, -1.5})
	require.NotNil(t, c)
	assert.Greater(t, *c, 0.0)
	assert.Less(t, *c, 1.0)
}
